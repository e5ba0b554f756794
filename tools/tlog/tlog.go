// Package tlog provides common logf and logln primitives for tests
/*
 * Copyright (c) 2026, NVIDIA CORPORATION. All rights reserved.
 */
package tlog

import (
	"fmt"
	"os"
	"testing"
	"time"
)

func prependTime(msg string) string {
	return fmt.Sprintf("[%s] %s", time.Now().Format("15:04:05.000000"), msg)
}

func Logf(f string, a ...any) {
	if testing.Verbose() {
		fmt.Fprintf(os.Stdout, prependTime(f), a...)
	}
}

func Logfln(f string, a ...any) { Logf(f+"\n", a...) }
