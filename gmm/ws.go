// Package gmm is the process-wide GPU device-memory manager.
/*
 * Copyright (c) 2026, NVIDIA CORPORATION. All rights reserved.
 */
package gmm

import (
	"github.com/NVIDIA/gpumem/cmn/cos"
	"github.com/NVIDIA/gpumem/cmn/debug"
	"github.com/NVIDIA/gpumem/cudart"
)

// Workspace is a growable, single-owner handle to a region of device memory.
// Not internally synchronized: one owner at a time. A workspace binds to a
// device either at construction or via the optional device argument of the
// first reserve; reserving an unbound workspace is a contract violation.
//
// Three growth policies:
//   - TryReserve: best effort; failure is a soft OOM the caller can respond
//     to (smaller batch, shed work);
//   - Reserve: fail-hard; the caller has committed to a budget, and not
//     getting it is a configuration error worth crashing on early;
//   - SafeReserve: fail-hard, but only after confirming availability
//     against a fresh tracker reading (see below).
type Workspace struct {
	m       *Manager
	pstream *cudart.Stream
	ptr     cudart.DevPtr
	size    int64
	device  int
}

// NewWorkspace returns an empty workspace, bound to the given device if one
// is specified.
func (m *Manager) NewWorkspace(device ...int) *Workspace {
	w := &Workspace{m: m, device: cudart.InvalidDevice}
	if len(device) > 0 {
		w.device = device[0]
	}
	return w
}

func (w *Workspace) Ptr() cudart.DevPtr     { return w.ptr }
func (w *Workspace) Size() int64            { return w.size }
func (w *Workspace) Device() int            { return w.device }
func (w *Workspace) Stream() *cudart.Stream { return w.pstream }

// TryReserve ensures the workspace holds at least size bytes, growing
// (releasing, then reallocating) only when the request exceeds current
// holdings or nothing is held. Shrink and repeat requests are no-ops that
// return true. On failure the workspace is left empty.
func (w *Workspace) TryReserve(size int64, device ...int) bool {
	if size <= w.size && !w.ptr.IsNull() {
		return true
	}
	w.Release()
	if len(device) > 0 && device[0] != cudart.InvalidDevice {
		w.device = device[0]
	}
	ptr, s, ok := w.m.TryAllocate(size, w.device, 0)
	if ok {
		debug.Assert(!ptr.IsNull())
		w.ptr, w.pstream, w.size = ptr, s, size
	}
	return ok
}

// Reserve is TryReserve for callers that have already established
// availability: failure aborts the process.
func (w *Workspace) Reserve(size int64, device ...int) {
	if !w.TryReserve(size, device...) {
		cos.ExitLogf("gmm: out of memory: failed to reserve %s on dev %d",
			cos.ToSizeIEC(size, 0), w.device)
	}
}

// SafeReserve grows the workspace to size after confirming, against a fresh
// tracker reading, that the additional bytes are there; growing past what
// the tracker reports aborts the process. Requests within current holdings
// are no-ops returning false (false = "nothing was re-reserved").
func (w *Workspace) SafeReserve(size int64, device ...int) bool {
	if size <= w.size {
		return false
	}
	free, _ := w.m.GetInfo(true)
	if avail := cos.FloorAlignI64(free, memAlign); size > w.size+avail {
		cos.ExitLogf("gmm: out of memory in safe-reserve on dev %d: requested %s > held %s + available %s",
			w.device, cos.ToSizeIEC(size, 0), cos.ToSizeIEC(w.size, 0), cos.ToSizeIEC(avail, 0))
	}
	w.Release()
	w.Reserve(size, device...)
	return true
}

// Release returns the held memory to the manager. Idempotent.
func (w *Workspace) Release() {
	if w.ptr.IsNull() {
		return
	}
	w.m.Deallocate(w.ptr, w.device)
	w.ptr, w.size = 0, 0
}

//////////////////////////////////
// shared per-device workspaces //
//////////////////////////////////

// Every device gets two long-lived shared workspaces: general scratch and
// one reserved for weight updates, so the two never fight over one region.

// InitDevice sets up the device's shared workspaces. Idempotent.
func (m *Manager) InitDevice(device int) {
	debug.Assert(device >= 0 && device < len(m.ws))
	m.wsMu.Lock()
	defer m.wsMu.Unlock()
	if m.ws[device] == nil {
		m.ws[device] = m.NewWorkspace(device)
	}
	if m.wws[device] == nil {
		m.wws[device] = m.NewWorkspace(device)
	}
}

// FinalizeDevice releases and drops the device's shared workspaces.
func (m *Manager) FinalizeDevice(device int) {
	debug.Assert(device >= 0 && device < len(m.ws))
	m.wsMu.Lock()
	defer m.wsMu.Unlock()
	if w := m.ws[device]; w != nil {
		w.Release()
		m.ws[device] = nil
	}
	if w := m.wws[device]; w != nil {
		w.Release()
		m.wws[device] = nil
	}
}

// DeviceWorkspace returns the device's shared scratch workspace, nil before
// InitDevice.
func (m *Manager) DeviceWorkspace(device int) *Workspace {
	m.wsMu.Lock()
	defer m.wsMu.Unlock()
	return m.ws[device]
}

// WeightsWorkspace returns the device's shared weights workspace, nil before
// InitDevice.
func (m *Manager) WeightsWorkspace(device int) *Workspace {
	m.wsMu.Lock()
	defer m.wsMu.Unlock()
	return m.wws[device]
}
