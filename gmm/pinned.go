// Package gmm is the process-wide GPU device-memory manager.
/*
 * Copyright (c) 2026, NVIDIA CORPORATION. All rights reserved.
 */
package gmm

import (
	"unsafe"

	"github.com/NVIDIA/gpumem/cmn/cos"
	"github.com/NVIDIA/gpumem/cmn/debug"
	"github.com/NVIDIA/gpumem/cudart"
	"github.com/NVIDIA/gpumem/sys"

	"k8s.io/klog/v2"
)

// Pinned (page-locked) buffers come in two pools with one discipline:
// grow on demand, never shrink, swap under the writer side of the
// coordinator. The process-wide pool is keyed by (device, group) and shared
// by everyone; a ThreadCache is keyed by group and owned by one worker.
//
// Swapping is structural: the old host buffer is freed and a new host/device
// pair mapped, so the writer lock keeps it exclusive against every reader
// that may still rely on the old mapping.

// pinnedBuf is a host/device-mapped pointer pair; dev aliases host and needs
// no separate cleanup. The pair is only ever replaced as a unit.
type pinnedBuf struct {
	host unsafe.Pointer
	dev  cudart.DevPtr
	size int64
}

// PinnedBuffer returns the device-mapped pointer of the process-wide pinned
// buffer for (device, group), growing it to at least max(size,
// InitialPinnedBytes) first. Growing replaces the buffer: a pointer
// previously returned for the same key is invalid after a call with a larger
// size. Pinned allocation failures are fatal.
func (m *Manager) PinnedBuffer(size int64, device, group int) cudart.DevPtr {
	debug.Assert(group >= 0)
	if device < 0 || device >= len(m.pinned) {
		cos.ExitLogf("gmm: pinned buffer: invalid dev %d", device)
	}
	size = max(size, InitialPinnedBytes)

	m.pinnedMu.Lock()
	if group >= len(m.pinned[device]) {
		bufs := make([]pinnedBuf, group+1)
		copy(bufs, m.pinned[device])
		m.pinned[device] = bufs
	}
	cur := m.pinned[device][group]
	m.pinnedMu.Unlock()

	if size <= cur.size {
		return cur.dev
	}
	warnHostMem(size)

	// structural remap: exclusive against all readers
	m.rw.Lock()
	defer m.rw.Unlock()
	m.pinnedMu.Lock()
	defer m.pinnedMu.Unlock()
	buf := &m.pinned[device][group]
	if size <= buf.size { // another writer grew it first
		return buf.dev
	}
	if buf.host != nil {
		if err := m.d.HostFree(buf.host); err != nil {
			cos.ExitLogf("gmm: failed to free pinned buffer (dev %d, group %d): %v", device, group, err)
		}
	}
	host, dev, err := m.d.HostAlloc(size)
	if err != nil {
		cos.ExitLogf("gmm: pinned allocation of %s failed (dev %d, group %d): %v",
			cos.ToSizeIEC(size, 0), device, group, err)
	}
	buf.host, buf.dev, buf.size = host, dev, size
	if m.debug.Load() {
		klog.Infof("gmm: pinned buffer (dev %d, group %d) grown to %s",
			device, group, cos.ToSizeIEC(size, 0))
	}
	return dev
}

// warnHostMem flags pinned requests that exceed what the host can actually
// lock down.
func warnHostMem(size int64) {
	mem, err := sys.Mem()
	if err == nil && size > int64(mem.ActualFree) {
		klog.Warningf("gmm: pinned request %s exceeds available host memory (%s)",
			cos.ToSizeIEC(size, 0), mem.String())
	}
}

/////////////////
// ThreadCache //
/////////////////

// ThreadCache is the per-worker pinned-buffer pool, keyed by group. Not
// internally synchronized - exclusively owned by the worker that created it;
// only the structural grow/free of its buffers is coordinated (as a writer)
// with the rest of the system. Close it when the worker exits.
type ThreadCache struct {
	m      *Manager
	bufs   map[int]pinnedBuf
	closed bool
}

func (m *Manager) NewThreadCache() *ThreadCache {
	return &ThreadCache{m: m, bufs: make(map[int]pinnedBuf, 4)}
}

// PinnedBuffer is the worker-local counterpart of Manager.PinnedBuffer; the
// same grow-never-shrink and fatal-on-failure rules apply.
func (tc *ThreadCache) PinnedBuffer(size int64, group int) cudart.DevPtr {
	debug.Assert(!tc.closed && group >= 0)
	size = max(size, InitialPinnedBytes)
	old, ok := tc.bufs[group]
	if ok && size <= old.size {
		return old.dev
	}
	warnHostMem(size)

	tc.m.rw.Lock()
	defer tc.m.rw.Unlock()
	if ok {
		if err := tc.m.d.HostFree(old.host); err != nil {
			cos.ExitLogf("gmm: thread cache: failed to free pinned buffer (group %d): %v", group, err)
		}
	}
	host, dev, err := tc.m.d.HostAlloc(size)
	if err != nil {
		cos.ExitLogf("gmm: thread cache: pinned allocation of %s failed (group %d): %v",
			cos.ToSizeIEC(size, 0), group, err)
	}
	tc.bufs[group] = pinnedBuf{host: host, dev: dev, size: size}
	return dev
}

// Close frees the worker's pinned buffers. Idempotent.
func (tc *ThreadCache) Close() {
	if tc.closed {
		return
	}
	tc.closed = true
	if len(tc.bufs) == 0 {
		return
	}
	tc.m.rw.Lock()
	for group, buf := range tc.bufs {
		if err := tc.m.d.HostFree(buf.host); err != nil {
			klog.Errorf("gmm: thread cache: failed to free pinned buffer (group %d): %v", group, err)
		}
	}
	tc.m.rw.Unlock()
	clear(tc.bufs)
}
