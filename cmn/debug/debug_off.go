//go:build !debug

// Package debug provides assertions and expensive consistency checks
// compiled in exclusively with the `debug` build tag.
/*
 * Copyright (c) 2026, NVIDIA CORPORATION. All rights reserved.
 */
package debug

func Assert(_ bool, _ ...any) {}

func Func(_ func()) {}
