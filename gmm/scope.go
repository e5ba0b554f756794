// Package gmm is the process-wide GPU device-memory manager.
/*
 * Copyright (c) 2026, NVIDIA CORPORATION. All rights reserved.
 */
package gmm

// Scope owns the manager's init/reset pair for a set of devices and is the
// supported way to bring the subsystem up and down:
//
//	mgr := gmm.New(cudart.Default())
//	scope := gmm.OpenScope(mgr, []int{0, 1}, false)
//	defer scope.Close()
//
// Opening a scope while the manager is already initialized is a safe no-op.
// Scopes do not nest independently: closing any of them resets the shared
// manager.
type Scope struct {
	m *Manager
}

func OpenScope(m *Manager, gpus []int, debug bool) *Scope {
	m.Init(gpus, debug)
	return &Scope{m: m}
}

func (s *Scope) Close() { s.m.Reset() }
