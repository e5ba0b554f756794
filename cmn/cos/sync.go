// Package cos provides common low-level types and utilities for all gpumem packages.
/*
 * Copyright (c) 2026, NVIDIA CORPORATION. All rights reserved.
 */
package cos

import (
	"sync"
)

// StopCh broadcasts termination to any number of listeners; Close is
// safe to call more than once.
type StopCh struct {
	ch   chan struct{}
	once sync.Once
}

func (sc *StopCh) Init()                   { sc.ch = make(chan struct{}) }
func (sc *StopCh) Listen() <-chan struct{} { return sc.ch }

func (sc *StopCh) Close() {
	sc.once.Do(func() { close(sc.ch) })
}
