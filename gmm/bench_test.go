/*
 * Copyright (c) 2026, NVIDIA CORPORATION. All rights reserved.
 */
package gmm_test

import (
	"testing"

	"github.com/NVIDIA/gpumem/cmn/cos"
	"github.com/NVIDIA/gpumem/cudart"
	"github.com/NVIDIA/gpumem/gmm"
)

// cache-hit round trip: after the warm-up carve, the hot path never
// touches the driver
func BenchmarkAllocFree(b *testing.B) {
	sim := cudart.NewSim(1, cos.GiB)
	mgr := gmm.New(sim)
	mgr.Init([]int{0}, false)
	defer mgr.Close()

	ptr, _, ok := mgr.TryAllocate(64*cos.KiB, 0, 0)
	if !ok {
		b.Fatal("warm-up allocation failed")
	}
	mgr.Deallocate(ptr, 0)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		ptr, _, ok := mgr.TryAllocate(64*cos.KiB, 0, 0)
		if !ok {
			b.Fatal("allocation failed")
		}
		mgr.Deallocate(ptr, 0)
	}
}

func BenchmarkAllocFreeParallel(b *testing.B) {
	sim := cudart.NewSim(1, cos.GiB)
	mgr := gmm.New(sim)
	mgr.Init([]int{0}, false)
	defer mgr.Close()

	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			ptr, _, ok := mgr.TryAllocate(32*cos.KiB, 0, 0)
			if !ok {
				b.Fatal("allocation failed")
			}
			mgr.Deallocate(ptr, 0)
		}
	})
}

func BenchmarkGetInfo(b *testing.B) {
	sim := cudart.NewSim(1, cos.GiB)
	mgr := gmm.New(sim)
	mgr.Init([]int{0}, false)
	defer mgr.Close()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		mgr.GetInfo(false)
	}
}
