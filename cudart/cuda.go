//go:build cuda

// Package cudart is the accelerator-runtime facade for gpumem: device
// enumeration and selection, device and pinned (page-locked) memory
// primitives, streams, and the runtime's sticky last-error discipline.
/*
 * Copyright (c) 2026, NVIDIA CORPORATION. All rights reserved.
 */
package cudart

// #cgo LDFLAGS: -lcudart
// #include <cuda_runtime.h>
import "C"

import (
	"unsafe"

	"github.com/pkg/errors"
)

// Cuda binds Driver to the CUDA runtime. All error translation happens
// here; the runtime's own last-error state backs LastError directly.
type Cuda struct{}

// interface guard
var _ Driver = (*Cuda)(nil)

func NewCuda() *Cuda { return &Cuda{} }

func Default() Driver { return NewCuda() }

func (*Cuda) DeviceCount() int {
	var cnt C.int
	if rc := C.cudaGetDeviceCount(&cnt); rc != C.cudaSuccess {
		return 0
	}
	return int(cnt)
}

func (*Cuda) Current() int {
	var dev C.int
	if rc := C.cudaGetDevice(&dev); rc != C.cudaSuccess {
		return InvalidDevice
	}
	return int(dev)
}

func (*Cuda) SetDevice(device int) error {
	return cuErr(C.cudaSetDevice(C.int(device)), "set device %d", device)
}

func (*Cuda) InitCtx(device int) error {
	// freeing the null pointer forces the context to materialize
	return cuErr(C.cudaFree(nil), "init context on device %d", device)
}

func (*Cuda) Props(device int) (DevProps, error) {
	var props C.struct_cudaDeviceProp
	if rc := C.cudaGetDeviceProperties(&props, C.int(device)); rc != C.cudaSuccess {
		return DevProps{}, cuErr(rc, "device %d properties", device)
	}
	return DevProps{
		Name:           C.GoString(&props.name[0]),
		TotalGlobalMem: int64(props.totalGlobalMem),
	}, nil
}

func (*Cuda) MemGetInfo(device int) (MemInfo, error) {
	var free, total C.size_t
	if rc := C.cudaMemGetInfo(&free, &total); rc != C.cudaSuccess {
		return MemInfo{}, cuErr(rc, "device %d meminfo", device)
	}
	return MemInfo{Free: int64(free), Total: int64(total)}, nil
}

func (*Cuda) MemAlloc(device int, size int64) (DevPtr, error) {
	var ptr unsafe.Pointer
	rc := C.cudaMalloc(&ptr, C.size_t(size))
	if rc == C.cudaErrorMemoryAllocation {
		return 0, errors.Wrapf(ErrOutOfMemory, "device %d: %d bytes", device, size)
	}
	if rc != C.cudaSuccess {
		return 0, cuErr(rc, "device %d: alloc %d bytes", device, size)
	}
	return DevPtr(uintptr(ptr)), nil
}

func (*Cuda) MemFree(device int, ptr DevPtr, _ int64) error {
	return cuErr(C.cudaFree(unsafe.Pointer(uintptr(ptr))), "device %d: free %#x", device, uintptr(ptr))
}

func (*Cuda) HostAlloc(size int64) (unsafe.Pointer, DevPtr, error) {
	var host unsafe.Pointer
	if rc := C.cudaHostAlloc(&host, C.size_t(size), C.cudaHostAllocMapped); rc != C.cudaSuccess {
		return nil, 0, errors.Wrapf(ErrHostAlloc, "%d bytes: %s", size, cuStr(rc))
	}
	var dev unsafe.Pointer
	if rc := C.cudaHostGetDevicePointer(&dev, host, 0); rc != C.cudaSuccess {
		C.cudaFreeHost(host)
		return nil, 0, errors.Wrapf(ErrHostAlloc, "map %d bytes: %s", size, cuStr(rc))
	}
	return host, DevPtr(uintptr(dev)), nil
}

func (*Cuda) HostFree(host unsafe.Pointer) error {
	return cuErr(C.cudaFreeHost(host), "free pinned %p", host)
}

func (*Cuda) StreamCreate(device int) (*Stream, error) {
	var h C.cudaStream_t
	if rc := C.cudaStreamCreateWithFlags(&h, C.cudaStreamNonBlocking); rc != C.cudaSuccess {
		return nil, cuErr(rc, "device %d: create stream", device)
	}
	return &Stream{handle: unsafe.Pointer(h), device: device}, nil
}

func (*Cuda) StreamDestroy(s *Stream) error {
	if s == nil || s.handle == nil {
		return nil
	}
	return cuErr(C.cudaStreamDestroy(C.cudaStream_t(s.handle)), "destroy stream on device %d", s.device)
}

func (*Cuda) LastError() error {
	return cuErr(C.cudaGetLastError(), "deferred")
}

func (*Cuda) Unloading() bool {
	var dev C.int
	return C.cudaGetDevice(&dev) == C.cudaErrorCudartUnloading
}

//
// private
//

func cuStr(rc C.cudaError_t) string { return C.GoString(C.cudaGetErrorString(rc)) }

func cuErr(rc C.cudaError_t, f string, a ...any) error {
	if rc == C.cudaSuccess {
		return nil
	}
	if rc == C.cudaErrorCudartUnloading {
		return ErrUnloading
	}
	return errors.Errorf("cudart: "+f+": %s", append(a, cuStr(rc))...)
}
