/*
 * Copyright (c) 2026, NVIDIA CORPORATION. All rights reserved.
 */
package cda_test

import (
	"testing"
	"time"

	"github.com/NVIDIA/gpumem/cda"
	"github.com/NVIDIA/gpumem/cmn/cos"
	"github.com/NVIDIA/gpumem/cmn/mono"
	"github.com/NVIDIA/gpumem/cudart"
	"github.com/NVIDIA/gpumem/tools/tassert"

	"github.com/pkg/errors"
)

func mkalloc(t *testing.T, sim *cudart.Sim, cfg cda.Config) *cda.Allocator {
	t.Helper()
	a, err := cda.New(sim, cfg)
	tassert.CheckFatal(t, err)
	return a
}

func TestBinRounding(t *testing.T) {
	sim := cudart.NewSim(1, 64*cos.MiB)
	a := mkalloc(t, sim, cda.Default())

	// smallest bin is 2^6, everything below rounds up to it
	ptr, carved, err := a.DeviceAllocate(0, 1, nil)
	tassert.CheckFatal(t, err)
	tassert.Errorf(t, carved == 64, "1B request: carved %d, expected 64", carved)
	_, err = a.DeviceFree(0, ptr)
	tassert.CheckFatal(t, err)

	// 100B fits the 128B bin
	ptr, carved, err = a.DeviceAllocate(0, 100, nil)
	tassert.CheckFatal(t, err)
	tassert.Errorf(t, carved == 128, "100B request: carved %d, expected 128", carved)
	_, err = a.DeviceFree(0, ptr)
	tassert.CheckFatal(t, err)

	// exact power of two is its own bin
	ptr, carved, err = a.DeviceAllocate(0, 4*cos.KiB, nil)
	tassert.CheckFatal(t, err)
	tassert.Errorf(t, carved == 4*cos.KiB, "4KiB request: carved %d", carved)
	_, err = a.DeviceFree(0, ptr)
	tassert.CheckFatal(t, err)
}

func TestCacheRoundTrip(t *testing.T) {
	sim := cudart.NewSim(1, 64*cos.MiB)
	a := mkalloc(t, sim, cda.Default())

	first, carved, err := a.DeviceAllocate(0, cos.MiB, nil)
	tassert.CheckFatal(t, err)
	tassert.Fatalf(t, carved == cos.MiB, "first allocation must carve, carved %d", carved)

	returned, err := a.DeviceFree(0, first)
	tassert.CheckFatal(t, err)
	tassert.Errorf(t, returned == 0, "cacheable free returned %d bytes to the driver", returned)
	tassert.Errorf(t, a.CachedFree(0) == cos.MiB, "cached-free %d, expected %d", a.CachedFree(0), cos.MiB)

	second, carved, err := a.DeviceAllocate(0, cos.MiB, nil)
	tassert.CheckFatal(t, err)
	tassert.Errorf(t, carved == 0, "same-size realloc must hit the cache, carved %d", carved)
	tassert.Errorf(t, second == first, "LIFO reuse expected: %#x != %#x", uintptr(second), uintptr(first))
	tassert.Errorf(t, a.CachedFree(0) == 0, "cached-free %d after reuse", a.CachedFree(0))

	_, err = a.DeviceFree(0, second)
	tassert.CheckFatal(t, err)
}

func TestOversizedBypass(t *testing.T) {
	sim := cudart.NewSim(1, 64*cos.MiB)
	a := mkalloc(t, sim, cda.Default())

	size := a.MaxCachedSize() + 1
	ptr, carved, err := a.DeviceAllocate(0, size, nil)
	tassert.CheckFatal(t, err)
	tassert.Errorf(t, carved == size, "oversized must carve exactly: carved %d, size %d", carved, size)

	returned, err := a.DeviceFree(0, ptr)
	tassert.CheckFatal(t, err)
	tassert.Errorf(t, returned == size, "oversized free returned %d, expected %d", returned, size)
	tassert.Errorf(t, a.CachedFree(0) == 0, "oversized block must never be cached")
}

func TestFlushAndRetry(t *testing.T) {
	sim := cudart.NewSim(1, 300*cos.KiB)
	a := mkalloc(t, sim, cda.Default())

	// carve 128K, then park it in the cache
	ptr, carved, err := a.DeviceAllocate(0, 128*cos.KiB, nil)
	tassert.CheckFatal(t, err)
	tassert.Fatalf(t, carved == 128*cos.KiB, "carved %d", carved)
	_, err = a.DeviceFree(0, ptr)
	tassert.CheckFatal(t, err)

	// 256K no longer fits the driver (172K left); the cache flush must make room
	ptr, carved, err = a.DeviceAllocate(0, 200*cos.KiB, nil)
	tassert.CheckFatal(t, err)
	tassert.Fatalf(t, !ptr.IsNull(), "expected successful retry after flush")
	tassert.Errorf(t, carved == 256*cos.KiB, "carved %d, expected 256KiB bin", carved)
	tassert.Errorf(t, a.CachedFree(0) == 0, "flush must drain the cache, cached %d", a.CachedFree(0))

	// the failed first try leaves the driver's sticky error set
	last := sim.LastError()
	tassert.Errorf(t, errors.Is(last, cudart.ErrOutOfMemory),
		"sticky driver error expected after flush-and-retry, got %v", last)

	// genuinely unsatisfiable request still fails after the flush
	_, _, err = a.DeviceAllocate(0, a.MaxCachedSize(), nil)
	tassert.Errorf(t, errors.Is(err, cudart.ErrOutOfMemory), "expected OOM, got %v", err)
	sim.LastError() // clear
}

func TestMaxCachedBytes(t *testing.T) {
	cfg := cda.Default()
	cfg.MaxCachedBytes = 192 * cos.KiB
	sim := cudart.NewSim(1, 64*cos.MiB)
	a := mkalloc(t, sim, cfg)

	p1, _, err := a.DeviceAllocate(0, 128*cos.KiB, nil)
	tassert.CheckFatal(t, err)
	p2, _, err := a.DeviceAllocate(0, 128*cos.KiB, nil)
	tassert.CheckFatal(t, err)

	returned, err := a.DeviceFree(0, p1)
	tassert.CheckFatal(t, err)
	tassert.Errorf(t, returned == 0, "first free fits under the cap, returned %d", returned)

	// second free would exceed the cap and goes to the driver
	returned, err = a.DeviceFree(0, p2)
	tassert.CheckFatal(t, err)
	tassert.Errorf(t, returned == 128*cos.KiB, "over-cap free returned %d", returned)
	tassert.Errorf(t, a.CachedFree(0) == 128*cos.KiB, "cached-free %d", a.CachedFree(0))
}

func TestTrimIdle(t *testing.T) {
	sim := cudart.NewSim(1, 64*cos.MiB)
	a := mkalloc(t, sim, cda.Default())

	ptr, _, err := a.DeviceAllocate(0, cos.MiB, nil)
	tassert.CheckFatal(t, err)
	_, err = a.DeviceFree(0, ptr)
	tassert.CheckFatal(t, err)
	tassert.Fatalf(t, a.CachedFree(0) == cos.MiB, "cached-free %d", a.CachedFree(0))

	// not idle yet
	freed := a.TrimIdle(mono.NanoTime())
	tassert.Errorf(t, freed == 0, "premature trim freed %d", freed)

	// pretend 2 minutes went by
	freed = a.TrimIdle(mono.NanoTime() + int64(2*time.Minute))
	tassert.Errorf(t, freed == cos.MiB, "trim freed %d, expected %d", freed, cos.MiB)
	tassert.Errorf(t, a.CachedFree(0) == 0, "cached-free %d after trim", a.CachedFree(0))

	mi, err := sim.MemGetInfo(0)
	tassert.CheckFatal(t, err)
	tassert.Errorf(t, mi.Free == 64*cos.MiB, "trimmed bytes not back with the driver: free %d", mi.Free)
}

func TestUnknownPointer(t *testing.T) {
	sim := cudart.NewSim(1, cos.MiB)
	a := mkalloc(t, sim, cda.Default())
	_, err := a.DeviceFree(0, cudart.DevPtr(0xdead))
	tassert.Errorf(t, err != nil, "freeing a foreign pointer must fail")
}

func TestInvalidConfig(t *testing.T) {
	sim := cudart.NewSim(1, cos.MiB)
	for _, cfg := range []cda.Config{
		{BinGrowth: 1, MinBin: 6, MaxBin: 22},
		{BinGrowth: 3, MinBin: 6, MaxBin: 22}, // growth must be a power of 2
		{BinGrowth: 2, MinBin: 23, MaxBin: 22},
		{BinGrowth: 2, MinBin: -1, MaxBin: 22},
		{BinGrowth: 2, MinBin: 6, MaxBin: 63},
		{BinGrowth: 2, MinBin: 6, MaxBin: 22, MaxCachedBytes: -1},
	} {
		_, err := cda.New(sim, cfg)
		tassert.Errorf(t, errors.Is(err, cda.ErrInvalidConfig), "config %+v: expected ErrInvalidConfig, got %v", cfg, err)
	}
}

func TestClose(t *testing.T) {
	sim := cudart.NewSim(2, 64*cos.MiB)
	a := mkalloc(t, sim, cda.Default())

	for device := 0; device < 2; device++ {
		ptr, _, err := a.DeviceAllocate(device, 512*cos.KiB, nil)
		tassert.CheckFatal(t, err)
		_, err = a.DeviceFree(device, ptr)
		tassert.CheckFatal(t, err)
	}
	a.Close()
	for device := 0; device < 2; device++ {
		tassert.Errorf(t, a.CachedFree(device) == 0, "dev %d: cached-free %d after Close", device, a.CachedFree(device))
		mi, err := sim.MemGetInfo(device)
		tassert.CheckFatal(t, err)
		tassert.Errorf(t, mi.Free == 64*cos.MiB, "dev %d: free %d after Close", device, mi.Free)
	}
}
