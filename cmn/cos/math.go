// Package cos provides common low-level types and utilities for all gpumem packages.
/*
 * Copyright (c) 2026, NVIDIA CORPORATION. All rights reserved.
 */
package cos

func DivCeil(a, b int64) int64 {
	d, r := a/b, a%b
	if r > 0 {
		return d + 1
	}
	return d
}

// FloorAlignI64 rounds val down to a multiple of align.
func FloorAlignI64(val, align int64) int64 {
	return val - val%align
}

// IsPow2 reports whether n is a positive power of 2.
func IsPow2(n int64) bool { return n > 0 && n&(n-1) == 0 }
