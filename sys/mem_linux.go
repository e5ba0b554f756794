// Package sys provides methods to read system information
/*
 * Copyright (c) 2026, NVIDIA CORPORATION. All rights reserved.
 */
package sys

import (
	"io"
	"strconv"
	"strings"

	"github.com/NVIDIA/gpumem/cmn/cos"

	"golang.org/x/sys/unix"
)

const hostMemInfoPath = "/proc/meminfo"

func (mem *MemStat) get() error {
	var si unix.Sysinfo_t
	if err := unix.Sysinfo(&si); err != nil {
		return err
	}
	unit := uint64(si.Unit)
	mem.Total = uint64(si.Totalram) * unit
	mem.Free = uint64(si.Freeram) * unit
	mem.SwapTotal = uint64(si.Totalswap) * unit
	mem.SwapUsed = mem.SwapTotal - uint64(si.Freeswap)*unit

	// Sysinfo's free RAM does not count reclaimable page cache;
	// MemAvailable does (kernels 3.14+, otherwise keep the estimate)
	mem.ActualFree = mem.Free
	_ = cos.ReadLines(hostMemInfoPath, func(line string) error {
		if !strings.HasPrefix(line, "MemAvailable:") {
			return nil
		}
		fields := strings.Fields(line)
		if len(fields) > 1 {
			if val, err := strconv.ParseUint(fields[1], 10, 64); err == nil {
				mem.ActualFree = val << 10
			}
		}
		return io.EOF
	})
	return nil
}
