// Package mono_test verifies the monotonic clock and benchmarks it
/*
 * Copyright (c) 2026, NVIDIA CORPORATION. All rights reserved.
 */
package mono_test

import (
	"testing"
	"time"

	"github.com/NVIDIA/gpumem/cmn/mono"
)

// `go test -tags=mono -bench=.` exercises the linkname fast path

func TestMonotonic(t *testing.T) {
	started := mono.NanoTime()
	time.Sleep(10 * time.Millisecond)
	elapsed := mono.Since(started)
	if elapsed < 10*time.Millisecond {
		t.Errorf("slept 10ms, measured %s", elapsed)
	}
	if elapsed > 5*time.Second {
		t.Errorf("implausible elapsed time %s", elapsed)
	}
	if mono.SinceNano(started) < elapsed.Nanoseconds() {
		t.Error("clock went backwards")
	}
}

func BenchmarkNanoTime(b *testing.B) {
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			mono.Since(mono.NanoTime())
		}
	})
}
