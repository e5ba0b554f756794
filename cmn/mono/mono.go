//go:build !mono

// Package mono provides low-level monotonic time
/*
 * Copyright (c) 2026, NVIDIA CORPORATION. All rights reserved.
 */
package mono

import "time"

// `go build -tags=mono` to use runtime.nanotime directly

var started = time.Now()

func NanoTime() int64 { return int64(time.Since(started)) }
