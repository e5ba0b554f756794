//go:build debug

// Package debug provides assertions and expensive consistency checks
// compiled in exclusively with the `debug` build tag.
/*
 * Copyright (c) 2026, NVIDIA CORPORATION. All rights reserved.
 */
package debug

import (
	"fmt"

	"k8s.io/klog/v2"
)

func Assert(cond bool, a ...any) {
	if !cond {
		klog.Flush()
		if len(a) > 0 {
			panic("DEBUG PANIC: " + fmt.Sprint(a...))
		} else {
			panic("DEBUG PANIC")
		}
	}
}

// Func runs a check too expensive for production builds.
func Func(f func()) { f() }
