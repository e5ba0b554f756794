// Package sys provides methods to read system information
/*
 * Copyright (c) 2026, NVIDIA CORPORATION. All rights reserved.
 */
package sys

import "runtime"

func isContainerized() bool { return false }

func containerNumCPU() (int, error) { return runtime.NumCPU(), nil }
