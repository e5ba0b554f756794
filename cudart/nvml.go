//go:build nvml

// Package cudart is the accelerator-runtime facade for gpumem: device
// enumeration and selection, device and pinned (page-locked) memory
// primitives, streams, and the runtime's sticky last-error discipline.
/*
 * Copyright (c) 2026, NVIDIA CORPORATION. All rights reserved.
 */
package cudart

import (
	"github.com/NVIDIA/go-nvml/pkg/nvml"
	"github.com/pkg/errors"
)

// NVMLDevice is one row of the management-library inventory, used to
// enrich per-device reports with the driver-independent NVML view.
type NVMLDevice struct {
	Name  string
	Index int
	Mem   MemInfo
}

// Inventory queries NVML for all devices visible to the management
// library. It is diagnostics-only: allocation paths never consult NVML.
func Inventory() ([]NVMLDevice, error) {
	if ret := nvml.Init(); ret != nvml.SUCCESS {
		return nil, errors.Errorf("nvml: init: %s", nvml.ErrorString(ret))
	}
	defer func() {
		_ = nvml.Shutdown()
	}()

	count, ret := nvml.DeviceGetCount()
	if ret != nvml.SUCCESS {
		return nil, errors.Errorf("nvml: device count: %s", nvml.ErrorString(ret))
	}
	inventory := make([]NVMLDevice, 0, count)
	for i := 0; i < count; i++ {
		dev, ret := nvml.DeviceGetHandleByIndex(i)
		if ret != nvml.SUCCESS {
			return nil, errors.Errorf("nvml: device %d: %s", i, nvml.ErrorString(ret))
		}
		name, ret := dev.GetName()
		if ret != nvml.SUCCESS {
			return nil, errors.Errorf("nvml: device %d name: %s", i, nvml.ErrorString(ret))
		}
		mem, ret := dev.GetMemoryInfo()
		if ret != nvml.SUCCESS {
			return nil, errors.Errorf("nvml: device %d meminfo: %s", i, nvml.ErrorString(ret))
		}
		inventory = append(inventory, NVMLDevice{
			Name:  name,
			Index: i,
			Mem:   MemInfo{Free: int64(mem.Free), Total: int64(mem.Total)},
		})
	}
	return inventory, nil
}
