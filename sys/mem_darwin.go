// Package sys provides methods to read system information
/*
 * Copyright (c) 2026, NVIDIA CORPORATION. All rights reserved.
 */
package sys

import (
	"os"

	"golang.org/x/sys/unix"
)

func (mem *MemStat) get() error {
	total, err := unix.SysctlUint64("hw.memsize")
	if err != nil {
		return err
	}
	freePages, err := unix.SysctlUint32("vm.page_free_count")
	if err != nil {
		return err
	}
	mem.Total = total
	mem.Free = uint64(freePages) * uint64(os.Getpagesize())
	mem.ActualFree = mem.Free
	return nil
}
