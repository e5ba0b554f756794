// Package cos provides common low-level types and utilities for all gpumem packages.
/*
 * Copyright (c) 2026, NVIDIA CORPORATION. All rights reserved.
 */
package cos

import (
	"fmt"
	"os"

	"k8s.io/klog/v2"
)

//////////////////////////
// Abnormal Termination //
//////////////////////////

// Exitf prints the formatted message to stderr and exits non-zero.
func Exitf(f string, a ...any) {
	fmt.Fprintf(os.Stderr, f, a...)
	fmt.Fprintln(os.Stderr)
	os.Exit(1)
}

// ExitLogf logs the fatal error and then exits; use it instead of Exitf
// once logging has been initialized.
func ExitLogf(f string, a ...any) {
	klog.ErrorfDepth(1, "FATAL ERROR: "+f, a...)
	klog.Flush()
	Exitf(f, a...)
}
