// Package sys provides methods to read system information
/*
 * Copyright (c) 2026, NVIDIA CORPORATION. All rights reserved.
 */
package sys

import (
	"fmt"

	"github.com/NVIDIA/gpumem/cmn/cos"
)

// MemStat is host memory as reported by the operating system.
// ActualFree is an estimate of allocatable memory that, on Linux,
// includes reclaimable page cache (see MemAvailable in proc(5)).
type MemStat struct {
	Total      uint64
	Free       uint64
	ActualFree uint64
	SwapTotal  uint64
	SwapUsed   uint64
}

func Mem() (MemStat, error) {
	mem := MemStat{}
	err := mem.Get()
	return mem, err
}

func (mem *MemStat) Get() error { return mem.get() }

func (mem *MemStat) String() string {
	return fmt.Sprintf("total %s, free %s (actual %s), swap used %s of %s",
		cos.ToSizeIEC(int64(mem.Total), 1),
		cos.ToSizeIEC(int64(mem.Free), 1),
		cos.ToSizeIEC(int64(mem.ActualFree), 1),
		cos.ToSizeIEC(int64(mem.SwapUsed), 1),
		cos.ToSizeIEC(int64(mem.SwapTotal), 1))
}
