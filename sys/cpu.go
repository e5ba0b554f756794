// Package sys provides methods to read system information
/*
 * Copyright (c) 2026, NVIDIA CORPORATION. All rights reserved.
 */
package sys

import (
	"fmt"
	"os"
	"runtime"

	"k8s.io/klog/v2"
)

var (
	contCPUs      int
	containerized bool
)

func init() {
	contCPUs = runtime.NumCPU()
	if containerized = isContainerized(); containerized {
		if c, err := containerNumCPU(); err == nil {
			contCPUs = c
		} else {
			fmt.Fprintln(os.Stderr, err) // (cannot log yet)
		}
	}
}

func Containerized() bool { return containerized }
func NumCPU() int         { return contCPUs }

// GoEnvMaxprocs logs Go runtime overrides and lowers GOMAXPROCS to the
// container CPU allowance when above it.
func GoEnvMaxprocs() {
	if val, ok := os.LookupEnv("GOMEMLIMIT"); ok {
		klog.Warningln("GOMEMLIMIT =", val) // soft memory limit for the runtime
	}
	if val, ok := os.LookupEnv("GOMAXPROCS"); ok {
		klog.Warningln("GOMAXPROCS =", val) // explicit setting, leaving as is
		return
	}
	if maxprocs, ncpu := runtime.GOMAXPROCS(0), NumCPU(); maxprocs > ncpu {
		klog.Warningf("reducing GOMAXPROCS %d => %d", maxprocs, ncpu)
		runtime.GOMAXPROCS(ncpu)
	}
}
