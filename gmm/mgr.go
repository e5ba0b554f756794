// Package gmm is the process-wide GPU device-memory manager.
/*
 * Copyright (c) 2026, NVIDIA CORPORATION. All rights reserved.
 */
package gmm

import (
	"fmt"

	"github.com/NVIDIA/gpumem/cmn/cos"
	"github.com/NVIDIA/gpumem/cmn/debug"
	"github.com/NVIDIA/gpumem/cudart"

	"k8s.io/klog/v2"
)

// TryAllocate obtains size bytes of device memory on the given device and
// returns the pointer, the stream the allocation is associated with, and
// whether it succeeded. Out-of-memory is not fatal here - callers decide
// (compare Workspace.TryReserve and Workspace.Reserve).
//
// The requested device must be the caller's current device; a mismatch is a
// contract violation and aborts the process.
func (m *Manager) TryAllocate(size int64, device, group int) (cudart.DevPtr, *cudart.Stream, bool) {
	debug.Assert(size > 0 && group >= 0)
	if !m.initialized.Load() {
		m.lazyInit(device)
	}
	if cur := m.d.Current(); cur != device {
		cos.ExitLogf("gmm: device mismatch: requested dev %d, current dev %d", device, cur)
	}
	a := m.cda.Load()
	if a == nil { // raced with Reset
		return 0, nil, false
	}

	m.rw.RLock()
	s := m.stream(device, group)
	// the allocator flushes its cache and retries once on OOM internally
	ptr, carved, err := a.DeviceAllocate(device, size, s)
	if err == nil && device > cudart.InvalidDevice && carved > 0 {
		// fresh bytes left the driver: keep the estimate honest without
		// paying for a driver query unless the threshold says otherwise
		di, th := &m.devs[device], &m.thresholds[device]
		switch {
		case di.free.Load() < th.Load():
			m.UpdateDevInfo(device)
			th.Store(int64(float64(th.Load()) * thresholdDecay))
		case di.free.Load() < carved:
			m.UpdateDevInfo(device)
		default:
			di.debit(carved)
		}
	}
	m.rw.RUnlock()

	// a flush-and-retry that eventually succeeded still leaves the driver's
	// sticky error set; either way the estimates can no longer be trusted
	if lastErr := m.d.LastError(); err != nil || lastErr != nil {
		m.refreshAfterFailure(device)
	}
	return ptr, s, err == nil
}

// refreshAfterFailure reconciles tracking state with the driver after a
// failed (or failed-then-retried) allocation. When the failing device is
// known its info alone is refreshed - or nothing at all if that device was
// never initialized. Only an unknown device refreshes every touched one.
func (m *Manager) refreshAfterFailure(device int) {
	if device > cudart.InvalidDevice && device < len(m.devs) {
		if di := &m.devs[device]; di.touched() {
			m.UpdateDevInfo(device)
			di.flushCount.Inc()
			if klog.V(1).Enabled() {
				klog.Infoln("gmm: refreshed " + m.ReportDevInfo(device))
			}
		}
		return
	}
	cur := m.d.Current()
	for i := range m.devs {
		di := &m.devs[i]
		if !di.touched() {
			continue
		}
		m.UpdateDevInfo(i)
		if i == cur {
			di.flushCount.Inc()
		}
		if klog.V(1).Enabled() {
			klog.Infoln("gmm: refreshed " + m.ReportDevInfo(i))
		}
	}
}

// Deallocate returns device memory to the caching allocator. Null pointers,
// a missing allocator (already Reset), and a driver that is mid-shutdown are
// all benign no-ops, which keeps teardown ordering safe. Freeing a pointer
// the allocator does not know is a contract violation and aborts.
func (m *Manager) Deallocate(ptr cudart.DevPtr, device int) {
	a := m.cda.Load()
	if ptr.IsNull() || a == nil {
		return
	}
	if m.d.Unloading() {
		return
	}
	m.rw.RLock()
	returned, err := a.DeviceFree(device, ptr)
	if err == nil && returned > 0 {
		// bytes actually handed back to the driver are free again; bytes the
		// allocator cached are accounted via CachedFree (see GetInfo)
		m.devs[device].credit(returned)
	}
	m.rw.RUnlock()
	if err != nil {
		cos.ExitLogf("gmm: failed to free %#x on dev %d: %v", uintptr(ptr), device, err)
	}
}

// GetInfo reports free and total memory of the caller's current device.
// Cached-but-unused bytes in the allocator's free lists count as free.
// withUpdate forces an authoritative refresh first.
func (m *Manager) GetInfo(withUpdate bool) (free, total int64) {
	a := m.cda.Load()
	if a == nil {
		cos.ExitLogf("gmm: not initialized (forgot to open a gmm.Scope in main()?)")
	}
	device := m.d.Current()
	if device <= cudart.InvalidDevice || device >= len(m.devs) {
		cos.ExitLogf("gmm: invalid current device %d", device)
	}
	if withUpdate {
		m.UpdateDevInfo(device)
	}
	m.rw.RLock()
	di := &m.devs[device]
	total = di.total.Load()
	free = di.free.Load() + a.CachedFree(device)
	m.rw.RUnlock()
	free = min(free, total)
	return free, total
}

// UpdateDevInfo performs the one authoritative driver query of this package:
// it activates the device, forces its context to materialize, reads
// properties and memory info, and records the result (total clamped to the
// device's physical memory, free clamped to total). Every driver call here
// must succeed; any error aborts the process.
//
// Deliberately takes no coordinator lock: TryAllocate calls it with the
// reader side held, and the read lock is not reentrant under a pending writer.
func (m *Manager) UpdateDevInfo(device int) {
	initial := m.d.Current()
	if err := m.d.SetDevice(device); err != nil {
		cos.ExitLogf("gmm: failed to activate dev %d: %v", device, err)
	}
	if err := m.d.InitCtx(device); err != nil {
		cos.ExitLogf("gmm: failed to initialize context on dev %d: %v", device, err)
	}
	props, err := m.d.Props(device)
	if err != nil {
		cos.ExitLogf("gmm: failed to query properties of dev %d: %v", device, err)
	}
	mi, err := m.d.MemGetInfo(device)
	if err != nil {
		cos.ExitLogf("gmm: failed to query memory of dev %d: %v", device, err)
	}
	// never report more than the device physically has
	m.devs[device].set(mi.Free, min(mi.Total, props.TotalGlobalMem))
	if err := m.d.SetDevice(initial); err != nil {
		cos.ExitLogf("gmm: failed to restore dev %d: %v", initial, err)
	}
}

// ReportDevInfo returns a one-line diagnostic comparing a fresh driver
// reading with the tracker's last-known state.
func (m *Manager) ReportDevInfo(device int) string {
	m.rw.RLock()
	defer m.rw.RUnlock()
	props, err := m.d.Props(device)
	if err != nil {
		cos.ExitLogf("gmm: failed to query properties of dev %d: %v", device, err)
	}
	mi, err := m.d.MemGetInfo(device)
	if err != nil {
		cos.ExitLogf("gmm: failed to query memory of dev %d: %v", device, err)
	}
	di := &m.devs[device]
	return fmt.Sprintf("dev %d [%s]: total %s, free %s (tracked: total %s, free %s, flushes %d)",
		device, props.Name, cos.ToSizeIEC(props.TotalGlobalMem, 1), cos.ToSizeIEC(mi.Free, 1),
		cos.ToSizeIEC(di.total.Load(), 1), cos.ToSizeIEC(di.free.Load(), 1), di.flushCount.Load())
}

// stream returns the execution stream for (device, group), creating it on
// first use. Streams are shared and live until Close.
func (m *Manager) stream(device, group int) *cudart.Stream {
	key := uint64(device)<<32 | uint64(uint32(group))
	m.streamMu.Lock()
	defer m.streamMu.Unlock()
	if s, ok := m.streams[key]; ok {
		return s
	}
	s, err := m.d.StreamCreate(device)
	if err != nil {
		cos.ExitLogf("gmm: failed to create stream (dev %d, group %d): %v", device, group, err)
	}
	m.streams[key] = s
	return s
}
