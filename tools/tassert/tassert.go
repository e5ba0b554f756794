// Package tassert provides common asserts for tests
/*
 * Copyright (c) 2026, NVIDIA CORPORATION. All rights reserved.
 */
package tassert

import (
	"bytes"
	"fmt"
	"os"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/NVIDIA/gpumem/tools/tlog"
)

var (
	fatalities = make(map[string]struct{})
	mu         sync.Mutex
)

// CheckFatal fails the test on err; a second fatal error from the same
// test (e.g. a goroutine racing the first) is logged and swallowed.
func CheckFatal(tb testing.TB, err error) {
	if err == nil {
		return
	}
	mu.Lock()
	_, dup := fatalities[tb.Name()]
	if !dup {
		fatalities[tb.Name()] = struct{}{}
	}
	mu.Unlock()
	if dup {
		tlog.Logfln("--- %s: duplicate CheckFatal: %v", tb.Name(), err)
		runtime.Goexit()
	}
	printStack()
	tb.Fatalf("[%s] %v", time.Now().Format("15:04:05.000000"), err)
}

func Fatal(tb testing.TB, cond bool, msg string) {
	if !cond {
		printStack()
		tb.Fatal(msg)
	}
}

func Fatalf(tb testing.TB, cond bool, format string, args ...any) {
	if !cond {
		printStack()
		tb.Fatalf(format, args...)
	}
}

func Errorf(tb testing.TB, cond bool, format string, args ...any) {
	if !cond {
		printStack()
		tb.Errorf(format, args...)
	}
}

// stack of the failing test, module frames only
func printStack() {
	var (
		pc  [9]uintptr
		buf bytes.Buffer
	)
	frames := runtime.CallersFrames(pc[:runtime.Callers(2, pc[:])])
	for {
		frame, more := frames.Next()
		i := strings.Index(frame.File, "gpumem")
		if i < 0 {
			break
		}
		if !strings.Contains(frame.File, "tassert") {
			fmt.Fprintf(&buf, "\t%s:%d\n", frame.File[i+7:], frame.Line)
		}
		if !more {
			break
		}
	}
	if buf.Len() > 0 {
		fmt.Fprintln(os.Stderr, "    tassert stack:")
		os.Stderr.Write(buf.Bytes())
	}
}
