// Package cudart is the accelerator-runtime facade for gpumem: device
// enumeration and selection, device and pinned (page-locked) memory
// primitives, streams, and the runtime's sticky last-error discipline.
/*
 * Copyright (c) 2026, NVIDIA CORPORATION. All rights reserved.
 */
package cudart

import (
	"fmt"
	"sync"
	"unsafe"

	"github.com/NVIDIA/gpumem/cmn/cos"
	"github.com/NVIDIA/gpumem/cmn/debug"

	"github.com/pkg/errors"
	"go.uber.org/atomic"
)

// Sim is a deterministic in-memory Driver for tests and non-CUDA builds.
// Device pointers come from per-device arenas (disjoint address ranges,
// never dereferenced); pinned buffers are real host memory, with the
// device-mapped pointer aliasing the host pointer the way zero-copy
// mapped memory does.

const (
	SimDefaultDevices = 2
	SimDefaultMemory  = 16 * cos.GiB
)

// arenas are spaced apart so a pointer plainly identifies its device
const simArenaStride = uintptr(1) << 40

type (
	simDevice struct {
		name   string
		total  int64
		free   int64
		next   uintptr // arena watermark
		inited int     // InitCtx calls
	}
	Sim struct {
		mu        sync.Mutex
		devices   []*simDevice
		hostBufs  map[unsafe.Pointer][]byte // keepalive for pinned memory
		lastErr   error                     // sticky, cleared on LastError()
		streamID  atomic.Int64
		failAlloc atomic.Int32 // inject: fail this many MemAllocs
		failHost  atomic.Int32 // inject: fail this many HostAllocs
		unloading atomic.Bool

		// real CUDA tracks the current device per thread; the sim keeps one
		// process-wide slot, so a SetDevice in one goroutine is visible to
		// all others - crosstalk the real runtime cannot exhibit
		cur atomic.Int32
	}
)

// interface guard
var _ Driver = (*Sim)(nil)

// NewSim returns a simulated driver with `devices` devices of `bytes`
// device memory each.
func NewSim(devices int, bytes int64) *Sim {
	debug.Assert(devices > 0 && bytes > 0)
	sim := &Sim{
		devices:  make([]*simDevice, devices),
		hostBufs: make(map[unsafe.Pointer][]byte, 8),
	}
	for i := range sim.devices {
		sim.devices[i] = &simDevice{
			name:  fmt.Sprintf("SIM-GPU-%02d", i),
			total: bytes,
			free:  bytes,
			next:  simArenaStride * uintptr(i+1),
		}
	}
	return sim
}

func (sim *Sim) DeviceCount() int { return len(sim.devices) }
func (sim *Sim) Current() int     { return int(sim.cur.Load()) }

func (sim *Sim) SetDevice(device int) error {
	if device < 0 || device >= len(sim.devices) {
		sim.mu.Lock()
		err := sim.stick(errors.Wrapf(ErrNoDevice, "device %d", device))
		sim.mu.Unlock()
		return err
	}
	sim.cur.Store(int32(device))
	return nil
}

func (sim *Sim) InitCtx(device int) error {
	sim.mu.Lock()
	defer sim.mu.Unlock()
	dev, err := sim.device(device)
	if err != nil {
		return err
	}
	dev.inited++
	return nil
}

func (sim *Sim) Props(device int) (DevProps, error) {
	sim.mu.Lock()
	defer sim.mu.Unlock()
	dev, err := sim.device(device)
	if err != nil {
		return DevProps{}, err
	}
	return DevProps{Name: dev.name, TotalGlobalMem: dev.total}, nil
}

func (sim *Sim) MemGetInfo(device int) (MemInfo, error) {
	sim.mu.Lock()
	defer sim.mu.Unlock()
	dev, err := sim.device(device)
	if err != nil {
		return MemInfo{}, err
	}
	return MemInfo{Free: dev.free, Total: dev.total}, nil
}

func (sim *Sim) MemAlloc(device int, size int64) (DevPtr, error) {
	sim.mu.Lock()
	defer sim.mu.Unlock()
	dev, err := sim.device(device)
	if err != nil {
		return 0, err
	}
	if n := sim.failAlloc.Load(); n > 0 {
		sim.failAlloc.Dec()
		return 0, sim.stick(errors.Wrapf(ErrOutOfMemory, "device %d: injected failure", device))
	}
	if size <= 0 || size > dev.free {
		return 0, sim.stick(errors.Wrapf(ErrOutOfMemory,
			"device %d: need %d, available %d", device, size, dev.free))
	}
	dev.free -= size
	ptr := DevPtr(dev.next)
	dev.next += uintptr(size)
	return ptr, nil
}

func (sim *Sim) MemFree(device int, ptr DevPtr, size int64) error {
	sim.mu.Lock()
	defer sim.mu.Unlock()
	dev, err := sim.device(device)
	if err != nil {
		return err
	}
	if ptr.IsNull() {
		return nil
	}
	dev.free += size
	if dev.free > dev.total {
		dev.free = dev.total
	}
	return nil
}

func (sim *Sim) HostAlloc(size int64) (unsafe.Pointer, DevPtr, error) {
	sim.mu.Lock()
	defer sim.mu.Unlock()
	if n := sim.failHost.Load(); n > 0 {
		sim.failHost.Dec()
		return nil, 0, sim.stick(errors.Wrapf(ErrHostAlloc, "size %d: injected failure", size))
	}
	if size <= 0 {
		return nil, 0, sim.stick(errors.Wrapf(ErrHostAlloc, "invalid size %d", size))
	}
	buf := make([]byte, size)
	host := unsafe.Pointer(&buf[0])
	sim.hostBufs[host] = buf
	// mapped device pointer aliases the host allocation
	return host, DevPtr(uintptr(host)), nil
}

func (sim *Sim) HostFree(host unsafe.Pointer) error {
	sim.mu.Lock()
	defer sim.mu.Unlock()
	if host == nil {
		return nil
	}
	if _, ok := sim.hostBufs[host]; !ok {
		return sim.stick(errors.Errorf("cudart: foreign host pointer %p", host))
	}
	delete(sim.hostBufs, host)
	return nil
}

func (sim *Sim) StreamCreate(device int) (*Stream, error) {
	sim.mu.Lock()
	defer sim.mu.Unlock()
	if _, err := sim.device(device); err != nil {
		return nil, err
	}
	return &Stream{device: device, id: sim.streamID.Inc()}, nil
}

func (*Sim) StreamDestroy(s *Stream) error {
	debug.Assert(s != nil)
	return nil
}

// LastError returns the sticky error state and clears it.
func (sim *Sim) LastError() error {
	sim.mu.Lock()
	err := sim.lastErr
	sim.lastErr = nil
	sim.mu.Unlock()
	return err
}

func (sim *Sim) Unloading() bool { return sim.unloading.Load() }

//
// failure injection and test introspection
//

func (sim *Sim) FailNextAlloc(n int)     { sim.failAlloc.Store(int32(n)) }
func (sim *Sim) FailNextHostAlloc(n int) { sim.failHost.Store(int32(n)) }
func (sim *Sim) SetUnloading(v bool)     { sim.unloading.Store(v) }

// NumHostBufs returns the number of live pinned allocations.
func (sim *Sim) NumHostBufs() int {
	sim.mu.Lock()
	defer sim.mu.Unlock()
	return len(sim.hostBufs)
}

// CtxInits returns the number of InitCtx calls for the device.
func (sim *Sim) CtxInits(device int) int {
	sim.mu.Lock()
	defer sim.mu.Unlock()
	dev, err := sim.device(device)
	if err != nil {
		return 0
	}
	return dev.inited
}

//
// private
//

// must be called under sim.mu
func (sim *Sim) device(device int) (*simDevice, error) {
	if device < 0 || device >= len(sim.devices) {
		err := errors.Wrapf(ErrNoDevice, "device %d", device)
		sim.lastErr = err
		return nil, err
	}
	return sim.devices[device], nil
}

// must be called under sim.mu
func (sim *Sim) stick(err error) error {
	sim.lastErr = err
	return err
}
