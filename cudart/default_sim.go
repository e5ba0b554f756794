//go:build !cuda

// Package cudart is the accelerator-runtime facade for gpumem: device
// enumeration and selection, device and pinned (page-locked) memory
// primitives, streams, and the runtime's sticky last-error discipline.
/*
 * Copyright (c) 2026, NVIDIA CORPORATION. All rights reserved.
 */
package cudart

import (
	"os"
	"strconv"

	"github.com/NVIDIA/gpumem/cmn/cos"

	"k8s.io/klog/v2"
)

// Non-CUDA builds get the simulated driver. Topology is overridable:
// 	"GPUMEM_SIM_DEVICES" - device count
// 	"GPUMEM_SIM_MEMORY"  - per-device memory ("16GiB", "512MiB", ...)

func Default() Driver {
	var (
		devices = SimDefaultDevices
		bytes   = int64(SimDefaultMemory)
	)
	if a := os.Getenv("GPUMEM_SIM_DEVICES"); a != "" {
		n, err := strconv.Atoi(a)
		if err != nil || n <= 0 {
			klog.Warningf("ignoring invalid GPUMEM_SIM_DEVICES %q", a)
		} else {
			devices = n
		}
	}
	if a := os.Getenv("GPUMEM_SIM_MEMORY"); a != "" {
		n, err := cos.ParseSize(a)
		if err != nil || n <= 0 {
			klog.Warningf("ignoring invalid GPUMEM_SIM_MEMORY %q", a)
		} else {
			bytes = n
		}
	}
	return NewSim(devices, bytes)
}
