// Package gmm is the process-wide GPU device-memory manager.
/*
 * Copyright (c) 2026, NVIDIA CORPORATION. All rights reserved.
 */
package gmm

import (
	"os"

	"github.com/NVIDIA/gpumem/cda"
	"github.com/NVIDIA/gpumem/cmn/cos"
	"github.com/NVIDIA/gpumem/cudart"
	"github.com/NVIDIA/gpumem/hk"

	"k8s.io/klog/v2"
)

// Init brings the manager up for the listed devices: constructs the caching
// allocator and takes the first authoritative memory reading of every listed
// device, setting its refresh threshold to its total memory. Idempotent - a
// second Init is a no-op until Reset.
//
// The debug argument is OR-ed with the DEBUG_GPU_MEM environment toggle. A
// failure to construct the caching allocator is swallowed once and retried;
// failing the retry aborts the process.
func (m *Manager) Init(gpus []int, debug bool) {
	m.initMu.Lock()
	defer m.initMu.Unlock()
	if m.initialized.Load() {
		return
	}
	m.debug.Store(debug || os.Getenv(debugEnv) != "")

	cfg := cda.Default()
	cfg.Debug = m.debug.Load()
	a, err := cda.New(m.d, cfg)
	if err != nil {
		klog.Errorf("gmm: failed to construct the caching allocator: %v - retrying", err)
		if a, err = cda.New(m.d, cfg); err != nil {
			cos.ExitLogf("gmm: failed to construct the caching allocator: %v", err)
		}
	}
	m.cda.Store(a)
	if hk.Running() {
		a.RegHK()
		m.hkReged = true
	}

	for _, gpu := range gpus {
		m.UpdateDevInfo(gpu)
		m.thresholds[gpu].Store(m.devs[gpu].total.Load())
	}
	m.initialized.Store(true)

	klog.Infof("gmm: initialized, max cached size %s", cos.ToSizeIEC(a.MaxCachedSize(), 0))
	for _, gpu := range gpus {
		klog.Infoln("gmm: " + m.ReportDevInfo(gpu))
	}
}

// Reset drops the caching allocator, returning its cached device memory to
// the driver. No-op when not initialized. Callers are expected to have
// released outstanding allocations first. Pinned buffers, shared workspaces,
// and streams survive a Reset - Close is the full teardown.
func (m *Manager) Reset() {
	m.initMu.Lock()
	defer m.initMu.Unlock()
	if !m.initialized.Load() {
		return
	}
	if a := m.cda.Swap(nil); a != nil {
		if m.hkReged {
			a.UnregHK()
			m.hkReged = false
		}
		a.Close()
	}
	m.initialized.Store(false)
}

// Close is the full teardown: finalize the shared per-device workspaces,
// Reset, then release the pinned pools and the stream table. Idempotent.
func (m *Manager) Close() {
	// workspaces first - releasing them needs the allocator
	for device := range m.ws {
		m.FinalizeDevice(device)
	}
	m.Reset()

	m.rw.Lock()
	m.pinnedMu.Lock()
	for device := range m.pinned {
		for group := range m.pinned[device] {
			buf := &m.pinned[device][group]
			if buf.host == nil {
				continue
			}
			if err := m.d.HostFree(buf.host); err != nil {
				klog.Errorf("gmm: failed to free pinned buffer (dev %d, group %d): %v", device, group, err)
			}
			buf.host, buf.dev, buf.size = nil, 0, 0
		}
	}
	m.pinnedMu.Unlock()
	m.rw.Unlock()

	m.streamMu.Lock()
	for key, s := range m.streams {
		if err := m.d.StreamDestroy(s); err != nil {
			klog.Errorf("gmm: failed to destroy stream (dev %d, group %d): %v",
				int(key>>32), int(uint32(key)), err)
		}
		delete(m.streams, key)
	}
	m.streamMu.Unlock()
}

// lazyInit covers callers that skipped the Scope; concurrent first
// allocations collapse into a single initialization (and a single warning).
func (m *Manager) lazyInit(device int) {
	m.lazyG.Do("init", func() (any, error) {
		if m.initialized.Load() {
			return nil, nil
		}
		if device == cudart.InvalidDevice {
			device = m.d.Current()
		}
		klog.Warningf("gmm: lazily initializing on device %d - open a gmm.Scope in main() instead", device)
		m.Init([]int{device}, false)
		return nil, nil
	})
}
