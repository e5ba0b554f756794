// Package hk schedules housekeeping callbacks on a shared timer heap:
// one goroutine and one timer serve all registered cleanups.
/*
 * Copyright (c) 2026, NVIDIA CORPORATION. All rights reserved.
 */
package hk

import (
	"container/heap"
	"time"

	"github.com/NVIDIA/gpumem/cmn/cos"
	"github.com/NVIDIA/gpumem/cmn/debug"
	"github.com/NVIDIA/gpumem/cmn/mono"

	"go.uber.org/atomic"
	"k8s.io/klog/v2"
)

const workChanCap = 48

const NameSuffix = ".gc" // reg name suffix

const (
	DayInterval   = 24 * time.Hour
	UnregInterval = 365 * DayInterval // to unregister upon return from the callback
)

type (
	// Callback does one round of housekeeping and returns the interval
	// until the next round (UnregInterval to stop for good).
	Callback func(now int64) time.Duration

	req struct {
		cb   Callback
		name string
		ival time.Duration
	}
	task struct {
		cb   Callback
		name string
		due  int64 // mono ns
	}
	taskHeap []task

	housekeeper struct {
		tasks   *taskHeap
		timer   *time.Timer
		workCh  chan req
		stopCh  cos.StopCh
		running atomic.Bool
	}
)

var HK *housekeeper

func Init() {
	HK = &housekeeper{
		workCh: make(chan req, workChanCap),
		tasks:  &taskHeap{},
	}
	HK.stopCh.Init()
	heap.Init(HK.tasks)
}

// Reg is safe to call before Run: pending registrations buffer in the
// work channel and take effect when the housekeeper drains it.
func Reg(name string, cb Callback, interval time.Duration) {
	debug.Assert(HK != nil)
	debug.Assert(interval != UnregInterval)

	HK.workCh <- req{name: name, cb: cb, ival: interval}

	if l, c := len(HK.workCh), workChanCap; l >= (c - c>>3) {
		klog.Errorf("hk: work channel nearly full: len %d, cap %d", l, c)
	}
}

func Unreg(name string) {
	debug.Assert(HK != nil)
	HK.workCh <- req{name: name, ival: UnregInterval}
}

func Running() bool { return HK != nil && HK.running.Load() }

/////////////////
// housekeeper //
/////////////////

func (h *housekeeper) Stop() { h.stopCh.Close() }

func (h *housekeeper) Run() {
	h.timer = time.NewTimer(time.Hour)
	h.running.Store(true)
	defer func() {
		h.timer.Stop()
		h.running.Store(false)
	}()
	for {
		select {
		case <-h.stopCh.Listen():
			return
		case <-h.timer.C:
			h.fire()
			h.rearm()
		case r := <-h.workCh:
			h.dispatch(r)
			h.rearm()
		}
	}
}

// fire runs the most overdue task, then reschedules or drops it.
func (h *housekeeper) fire() {
	if h.tasks.Len() == 0 {
		return
	}
	var (
		t       = h.tasks.head()
		name    = t.name // t aliases slot 0 and goes stale on Fix/Remove
		started = mono.NanoTime()
		ival    = t.cb(started)
	)
	if ival == UnregInterval {
		heap.Remove(h.tasks, 0)
		return
	}
	now := mono.NanoTime()
	t.due = now + ival.Nanoseconds()
	heap.Fix(h.tasks, 0)

	// a slow callback holds up the entire schedule
	if d := time.Duration(now - started); d > time.Second {
		klog.Warningf("hk: %s took %v", name, d)
	}
}

func (h *housekeeper) dispatch(r req) {
	idx := h.find(r.name)
	switch {
	case r.ival == UnregInterval: // unregister
		if idx < 0 {
			klog.Warningf("hk: %s not found (already removed?)", r.name)
			return
		}
		heap.Remove(h.tasks, idx)
	case idx >= 0:
		klog.Errorf("hk: duplicated name [%s] - not registering", r.name)
	default:
		var (
			ival = r.ival
			now  = mono.NanoTime()
		)
		if r.ival == 0 {
			// zero interval: call now, the returned value sets the schedule
			ival = r.cb(now)
			if ival == UnregInterval {
				klog.Errorf("hk: illegal usage [%s] - not registering", r.name)
				debug.Assert(false)
				return
			}
		}
		heap.Push(h.tasks, task{name: r.name, cb: r.cb, due: now + ival.Nanoseconds()})
	}
}

func (h *housekeeper) rearm() {
	if h.tasks.Len() == 0 {
		h.timer.Stop()
		return
	}
	h.timer.Reset(time.Duration(h.tasks.head().due - mono.NanoTime()))
}

func (h *housekeeper) find(name string) int {
	for i := range *h.tasks {
		if (*h.tasks)[i].name == name {
			return i
		}
	}
	return -1
}

//////////////
// taskHeap //
//////////////

func (th taskHeap) Len() int           { return len(th) }
func (th taskHeap) Less(i, j int) bool { return th[i].due < th[j].due }
func (th taskHeap) Swap(i, j int)      { th[i], th[j] = th[j], th[i] }
func (th taskHeap) head() *task        { return &th[0] }
func (th *taskHeap) Push(x any)        { *th = append(*th, x.(task)) }

func (th *taskHeap) Pop() any {
	old := *th
	n := len(old)
	t := old[n-1]
	*th = old[:n-1]
	return t
}
