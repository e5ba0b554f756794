// Package cudart is the accelerator-runtime facade for gpumem: device
// enumeration and selection, device and pinned (page-locked) memory
// primitives, streams, and the runtime's sticky last-error discipline.
/*
 * Copyright (c) 2026, NVIDIA CORPORATION. All rights reserved.
 */
package cudart

import (
	"unsafe"

	"github.com/pkg/errors"
)

// InvalidDevice is the ordinal that stands for "no specific device".
const InvalidDevice = -1

// sentinel errors, in the order a caller is likely to meet them
var (
	ErrNoDevice    = errors.New("cudart: invalid device ordinal")
	ErrOutOfMemory = errors.New("cudart: out of device memory")
	ErrHostAlloc   = errors.New("cudart: pinned host allocation failed")
	ErrUnloading   = errors.New("cudart: runtime is shutting down")
)

type (
	// DevPtr is an opaque device address; zero is the null device pointer.
	DevPtr uintptr

	// Stream is an execution stream to issue allocate calls asynchronously on.
	Stream struct {
		handle unsafe.Pointer
		device int
		id     int64
	}

	// DevProps is the subset of device properties the manager consults.
	DevProps struct {
		Name           string
		TotalGlobalMem int64
	}

	// MemInfo is a point-in-time device memory reading.
	MemInfo struct {
		Free  int64
		Total int64
	}

	// Driver is the runtime contract gpumem programs against. The `cuda`
	// build tag selects the real binding; everything else gets the Sim.
	//
	// LastError is sticky: a failed call leaves the error set until the
	// next LastError read, successful calls in between do not clear it.
	// This mirrors the runtime's get-last-error semantics and is what the
	// manager's post-allocate check relies on.
	Driver interface {
		DeviceCount() int
		Current() int
		SetDevice(device int) error

		// InitCtx forces the device context to materialize (the free-null trick).
		InitCtx(device int) error
		Props(device int) (DevProps, error)
		MemGetInfo(device int) (MemInfo, error)

		MemAlloc(device int, size int64) (DevPtr, error)
		MemFree(device int, ptr DevPtr, size int64) error

		// HostAlloc returns pinned, device-mapped host memory: the device
		// pointer is an alias of the host pointer and needs no separate free.
		HostAlloc(size int64) (host unsafe.Pointer, dev DevPtr, err error)
		HostFree(host unsafe.Pointer) error

		StreamCreate(device int) (*Stream, error)
		StreamDestroy(s *Stream) error

		LastError() error
		Unloading() bool
	}
)

func (p DevPtr) IsNull() bool { return p == 0 }

func (s *Stream) Device() int         { return s.device }
func (s *Stream) Ptr() unsafe.Pointer { return s.handle }
