// Package gmm is the process-wide GPU device-memory manager.
/*
 * Copyright (c) 2026, NVIDIA CORPORATION. All rights reserved.
 */
package gmm

import (
	"github.com/NVIDIA/gpumem/cmn/debug"

	"go.uber.org/atomic"
)

// devInfo is the per-device cached view of free and total memory. total
// stays zero until the first authoritative query - that is how the manager
// tells touched devices from untouched ones. In between refreshes free is
// an estimate: allocations debit it, driver-returned frees credit it, and
// both clamp into [0, total] since many readers adjust it concurrently.
type devInfo struct {
	free       atomic.Int64
	total      atomic.Int64
	flushCount atomic.Int64
}

// set records an authoritative reading.
func (di *devInfo) set(free, total int64) {
	debug.Assert(total >= 0)
	free = min(free, total)
	free = max(free, 0)
	di.total.Store(total)
	di.free.Store(free)
}

func (di *devInfo) touched() bool { return di.total.Load() > 0 }

func (di *devInfo) debit(bytes int64) {
	for {
		cur := di.free.Load()
		if di.free.CompareAndSwap(cur, max(cur-bytes, 0)) {
			return
		}
	}
}

func (di *devInfo) credit(bytes int64) {
	total := di.total.Load()
	for {
		cur := di.free.Load()
		if di.free.CompareAndSwap(cur, min(cur+bytes, total)) {
			return
		}
	}
}

/////////////
// DevSnap //
/////////////

// DevSnap is a point-in-time view of one device's tracking state, for
// reporting and metrics only - control flow never consumes it.
type DevSnap struct {
	Device    int
	Free      int64 // tracker estimate
	Total     int64
	Cached    int64 // cached-but-unused bytes in the allocator's free lists
	Pinned    int64 // process-wide pinned host bytes mapped for this device
	Threshold int64 // free level that triggers the next forced refresh
	Flushes   int64
}

// Snap returns the device's tracking snapshot; ok is false for invalid
// ordinals and for devices no one has touched yet.
func (m *Manager) Snap(device int) (snap DevSnap, ok bool) {
	if device < 0 || device >= len(m.devs) {
		return snap, false
	}
	di := &m.devs[device]
	if !di.touched() {
		return snap, false
	}
	snap = DevSnap{
		Device:    device,
		Free:      di.free.Load(),
		Total:     di.total.Load(),
		Threshold: m.thresholds[device].Load(),
		Flushes:   di.flushCount.Load(),
	}
	if a := m.cda.Load(); a != nil {
		snap.Cached = a.CachedFree(device)
	}
	m.pinnedMu.Lock()
	for i := range m.pinned[device] {
		snap.Pinned += m.pinned[device][i].size
	}
	m.pinnedMu.Unlock()
	return snap, true
}
