// Package sys provides methods to read system information
/*
 * Copyright (c) 2026, NVIDIA CORPORATION. All rights reserved.
 */
package sys

import (
	"errors"
	"io"
	"runtime"
	"strconv"
	"strings"

	"github.com/NVIDIA/gpumem/cmn/cos"

	"k8s.io/klog/v2"
)

const (
	rootProcess = "/proc/1/cgroup"

	cgv2CPUMax    = "/sys/fs/cgroup/cpu.max" // cgroup v2: "<quota> <period>" or "max <period>"
	cgv1CPUQuota  = "/sys/fs/cgroup/cpu/cpu.cfs_quota_us"
	cgv1CPUPeriod = "/sys/fs/cgroup/cpu/cpu.cfs_period_us"
)

var containerHints = [...]string{"docker", "containerd", "lxc", "kube"}

func isContainerized() (yes bool) {
	err := cos.ReadLines(rootProcess, func(line string) error {
		for _, hint := range containerHints {
			if strings.Contains(line, hint) {
				yes = true
				return io.EOF
			}
		}
		return nil
	})
	if err != nil {
		klog.Errorf("failed to read %s: %v", rootProcess, err)
	}
	return yes
}

// containerNumCPU approximates the CPU allowance of this container,
// rounded up: cgroup v2 when cpu.max is present, v1 otherwise.
// An unlimited quota (v2 "max", v1 negative) means all host CPUs.
func containerNumCPU() (int, error) {
	if line, err := cos.ReadOneLine(cgv2CPUMax); err == nil {
		return parseCPUMax(line)
	}
	quota, err := cos.ReadOneInt64(cgv1CPUQuota)
	if err != nil {
		return 0, err
	}
	if quota <= 0 {
		return runtime.NumCPU(), nil
	}
	period, err := cos.ReadOneUint64(cgv1CPUPeriod)
	if err != nil {
		return 0, err
	}
	return quotaCPUs(quota, int64(period))
}

func parseCPUMax(line string) (int, error) {
	fields := strings.Fields(line)
	if len(fields) != 2 {
		return 0, errors.New("sys: unexpected cpu.max format " + strconv.Quote(line))
	}
	if fields[0] == "max" {
		return runtime.NumCPU(), nil
	}
	quota, err := strconv.ParseInt(fields[0], 10, 64)
	if err != nil {
		return 0, err
	}
	period, err := strconv.ParseInt(fields[1], 10, 64)
	if err != nil {
		return 0, err
	}
	return quotaCPUs(quota, period)
}

func quotaCPUs(quota, period int64) (int, error) {
	if period <= 0 {
		return 0, errors.New("sys: invalid CPU quota period")
	}
	return int(max(cos.DivCeil(quota, period), 1)), nil
}
