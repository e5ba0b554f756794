// Package gmm is the process-wide GPU device-memory manager: a caching
// allocation front end (over the binned cda allocator), per-device
// free/total memory tracking with adaptive refresh, growable device
// workspaces, and pinned (page-locked) host-buffer pools.
/*
 * Copyright (c) 2026, NVIDIA CORPORATION. All rights reserved.
 */
package gmm

import (
	"sync"

	"github.com/NVIDIA/gpumem/cda"
	"github.com/NVIDIA/gpumem/cudart"

	"go.uber.org/atomic"
	"golang.org/x/sync/singleflight"
	"k8s.io/klog/v2"
)

// ============================== Theory of Operation ==========================
//
// Driver memory queries are slow and allocation is hot. The manager therefore
// keeps a per-device estimate of free memory (devInfo) and pays for an
// authoritative query (UpdateDevInfo) only when the estimate crosses the
// device's refresh threshold, when an allocation is larger than the estimate,
// or when a driver error shows the estimate can no longer be trusted. Every
// threshold crossing also tightens the threshold by 10%, so a device under
// sustained memory pressure converges to refreshing on (almost) every
// allocation while an idle one almost never does. Note that the threshold
// only ever decays; a long enough run of crossings drives it toward zero and
// effectively disables the staleness check until the next Init.
//
// Concurrency: one process-wide RWMutex (the coordinator) arbitrates between
// device-memory traffic and pinned-buffer remaps, with the roles inverted
// relative to classic readers/writers:
//   - readers: TryAllocate, Deallocate, GetInfo, ReportDevInfo - routine
//     operations that never move a pinned mapping and may run in parallel;
//   - writers: growing a process-wide or thread-cache pinned buffer, which
//     frees a live host/device pointer pair and maps a new one, and so must
//     be exclusive against everything that may still use the old pair.
// External transfer engines that need pinned mappings to stay put for the
// duration of an operation hold the reader side (see RLocker).
//
// Lock order, where held together: rw before pinnedMu, rw before streamMu.

const (
	// a fresh pinned buffer is never smaller than this
	InitialPinnedBytes = 64

	// SafeReserve rounds the free-memory reading down to this granularity
	memAlign = 128

	// multiplicative threshold decay per triggered refresh
	thresholdDecay = 0.9
)

const debugEnv = "DEBUG_GPU_MEM"

type (
	// Manager is the process-wide device-memory manager. Construct one per
	// process with New; bring it up and down with a Scope (or Init/Reset).
	Manager struct {
		d   cudart.Driver
		cda atomic.Pointer[cda.Allocator]

		// per-device tracking, sized by the driver's device count
		devs       []devInfo
		thresholds []atomic.Int64

		// the coordinator (see theory of operation above)
		rw sync.RWMutex

		initMu   sync.Mutex // init/reset lifecycle
		wsMu     sync.Mutex // shared-workspace registry
		pinnedMu sync.Mutex // pinned table
		streamMu sync.Mutex // stream table

		streams map[uint64]*cudart.Stream // key: device << 32 | group
		pinned  [][]pinnedBuf             // [device][group]
		ws, wws []*Workspace              // shared per-device workspaces

		lazyG       singleflight.Group
		debug       atomic.Bool
		initialized atomic.Bool
		hkReged     bool // protected by initMu
	}
)

// New constructs the manager for all devices the driver reports. The
// one-manager-per-process discipline is the caller's: everything here
// assumes a single Manager shared by reference.
func New(d cudart.Driver) *Manager {
	count := d.DeviceCount()
	if count == 0 {
		klog.Warningln("gmm: driver reports no devices")
	}
	return &Manager{
		d:          d,
		devs:       make([]devInfo, count),
		thresholds: make([]atomic.Int64, count),
		streams:    make(map[uint64]*cudart.Stream, 8),
		pinned:     make([][]pinnedBuf, count),
		ws:         make([]*Workspace, count),
		wws:        make([]*Workspace, count),
	}
}

func (m *Manager) Initialized() bool { return m.initialized.Load() }

// RLocker exposes the reader side of the coordinator to external operations
// (e.g. collective transfers) that require pinned mappings to remain stable
// while they run.
func (m *Manager) RLocker() sync.Locker { return m.rw.RLocker() }
