// Package cda implements a binned caching device allocator: device memory
// is carved from the driver in power-of-growth bin sizes and recycled
// through per-device LIFO free lists, so that the expensive driver
// alloc/free pair is paid once per bin block, not once per request.
/*
 * Copyright (c) 2026, NVIDIA CORPORATION. All rights reserved.
 */
package cda

import (
	"math"
	"os"
	"sync"
	"time"

	"github.com/NVIDIA/gpumem/cmn/cos"
	"github.com/NVIDIA/gpumem/cmn/debug"
	"github.com/NVIDIA/gpumem/cmn/mono"
	"github.com/NVIDIA/gpumem/cudart"
	"github.com/NVIDIA/gpumem/hk"

	"github.com/pkg/errors"
	"go.uber.org/atomic"
	"k8s.io/klog/v2"
)

// The allocation path:
//   - requests up to the largest bin are rounded up to the nearest bin and
//     served LIFO from that bin's free list when possible (carved == 0);
//   - free-list misses carve a full bin block from the driver;
//   - oversized requests (above the largest bin) carve exactly and are
//     never cached;
//   - a driver OOM flushes every cached block of that device and retries
//     once. The driver's sticky error from the failed first try is left
//     set on purpose - the manager's post-allocate check is built on it.
//
// Freed cacheable blocks go back to their bin unless the per-device cache
// would exceed MaxCachedBytes. Only bytes actually returned to the driver
// are reported back to the caller (`returned`); cached bytes are not free
// device memory and are accounted via CachedFree instead.
//
// The cache is stream-agnostic: a freed block is reusable on any stream.

// defaults (see Config)
const (
	DfltBinGrowth = 2
	DfltMinBin    = 6
	DfltMaxBin    = 22 // 2^22 = 4M largest cacheable block

	dfltName = "cda"
)

const trimIval = 90 * time.Second // free-list blocks idle for longer get trimmed (via hk)

const maxCachedBytesEnv = "GPUMEM_MAX_CACHED_BYTES"

var ErrInvalidConfig = errors.New("cda: invalid configuration")

type (
	Config struct {
		Name           string
		BinGrowth      int64 // bin size growth factor; a power of 2, so block sizes stay powers of 2
		MinBin         int   // smallest bin is growth^MinBin bytes
		MaxBin         int   // largest cacheable bin is growth^MaxBin bytes
		MaxCachedBytes int64 // per-device cache cap; 0 = unlimited
		Debug          bool
	}

	block struct {
		bytes int64
		bin   int // -1: oversized, never cached
	}
	bin struct {
		free     []cudart.DevPtr // LIFO
		lastUsed int64           // mono ns
	}
	shard struct {
		live       map[cudart.DevPtr]block
		bins       []bin
		cachedFree atomic.Int64 // bytes sitting in this shard's free lists
		mu         sync.Mutex
	}

	Allocator struct {
		d        cudart.Driver
		name     string
		shards   []*shard
		binBytes []int64 // bin index -> block size
		minBin   int
		maxBin   int
		maxBytes int64 // per-device cache cap
		debug    bool
	}
)

func Default() Config {
	return Config{
		Name:           dfltName,
		BinGrowth:      DfltBinGrowth,
		MinBin:         DfltMinBin,
		MaxBin:         DfltMaxBin,
		MaxCachedBytes: 0,
	}
}

// New constructs the allocator for all devices the driver reports.
// "GPUMEM_MAX_CACHED_BYTES" overrides the cache cap.
func New(d cudart.Driver, cfg Config) (*Allocator, error) {
	if cfg.Name == "" {
		cfg.Name = dfltName
	}
	if a := os.Getenv(maxCachedBytesEnv); a != "" {
		v, err := cos.ParseSize(a)
		if err != nil {
			return nil, errors.Wrapf(ErrInvalidConfig, "cannot parse %s %q", maxCachedBytesEnv, a)
		}
		cfg.MaxCachedBytes = v
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	a := &Allocator{
		d:        d,
		name:     cfg.Name,
		minBin:   cfg.MinBin,
		maxBin:   cfg.MaxBin,
		maxBytes: cfg.MaxCachedBytes,
		debug:    cfg.Debug,
	}
	if a.maxBytes == 0 {
		a.maxBytes = math.MaxInt64
	}
	a.binBytes = make([]int64, cfg.MaxBin-cfg.MinBin+1)
	for i := range a.binBytes {
		a.binBytes[i] = ipow(cfg.BinGrowth, cfg.MinBin+i)
	}
	a.shards = make([]*shard, d.DeviceCount())
	for i := range a.shards {
		a.shards[i] = &shard{
			live: make(map[cudart.DevPtr]block, 64),
			bins: make([]bin, len(a.binBytes)),
		}
	}
	return a, nil
}

func (cfg *Config) validate() error {
	switch {
	case cfg.BinGrowth < 2 || !cos.IsPow2(cfg.BinGrowth):
		return errors.Wrapf(ErrInvalidConfig, "bin growth %d", cfg.BinGrowth)
	case cfg.MinBin < 0 || cfg.MinBin > cfg.MaxBin:
		return errors.Wrapf(ErrInvalidConfig, "bin range [%d, %d]", cfg.MinBin, cfg.MaxBin)
	case ipow(cfg.BinGrowth, cfg.MaxBin) <= 0:
		return errors.Wrapf(ErrInvalidConfig, "max bin %d overflows", cfg.MaxBin)
	case cfg.MaxCachedBytes < 0:
		return errors.Wrapf(ErrInvalidConfig, "max cached bytes %d", cfg.MaxCachedBytes)
	}
	return nil
}

// MaxCachedSize returns the largest request size the cache will bin.
func (a *Allocator) MaxCachedSize() int64 { return a.binBytes[len(a.binBytes)-1] }

// DeviceAllocate serves `size` bytes on `device`. `carved` reports how many
// bytes were freshly obtained from the driver: zero when the request was
// served from the cache. The cache is stream-agnostic; the stream is the
// caller's association for the returned block, not a reuse key.
func (a *Allocator) DeviceAllocate(device int, size int64, _ *cudart.Stream) (ptr cudart.DevPtr, carved int64, err error) {
	sh, err := a.shard(device)
	if err != nil {
		return 0, 0, err
	}
	if size <= 0 {
		return 0, 0, errors.Errorf("%s: invalid allocation size %d (device %d)", a.name, size, device)
	}

	// oversized: carve exactly, never cache
	if size > a.MaxCachedSize() {
		sh.mu.Lock()
		ptr, err = a.carve(sh, device, size)
		if err == nil {
			sh.live[ptr] = block{bytes: size, bin: -1}
			carved = size
		}
		sh.mu.Unlock()
		return ptr, carved, err
	}

	idx := a.binFor(size)
	bytes := a.binBytes[idx]

	sh.mu.Lock()
	defer sh.mu.Unlock()

	if b := &sh.bins[idx]; len(b.free) > 0 {
		ptr, b.free = b.free[len(b.free)-1], b.free[:len(b.free)-1]
		b.lastUsed = mono.NanoTime()
		sh.cachedFree.Sub(bytes)
		sh.live[ptr] = block{bytes: bytes, bin: idx}
		if a.debug {
			klog.Infof("%s: dev %d: reused cached block %#x (%s, bin %d)",
				a.name, device, uintptr(ptr), cos.ToSizeIEC(bytes, 0), idx)
		}
		return ptr, 0, nil
	}

	ptr, err = a.carve(sh, device, bytes)
	if err != nil {
		return 0, 0, err
	}
	sh.live[ptr] = block{bytes: bytes, bin: idx}
	return ptr, bytes, nil
}

// DeviceFree returns a block to the cache or, when the block is oversized
// or the cache is over its cap, to the driver. `returned` is the number of
// bytes handed back to the driver (zero when cached).
func (a *Allocator) DeviceFree(device int, ptr cudart.DevPtr) (returned int64, err error) {
	sh, err := a.shard(device)
	if err != nil {
		return 0, err
	}
	sh.mu.Lock()
	defer sh.mu.Unlock()

	blk, ok := sh.live[ptr]
	if !ok {
		return 0, errors.Errorf("%s: dev %d: freeing unknown pointer %#x", a.name, device, uintptr(ptr))
	}
	delete(sh.live, ptr)

	if blk.bin >= 0 && sh.cachedFree.Load()+blk.bytes <= a.maxBytes {
		b := &sh.bins[blk.bin]
		b.free = append(b.free, ptr)
		b.lastUsed = mono.NanoTime()
		sh.cachedFree.Add(blk.bytes)
		debug.Func(func() { a.checkCached(sh) })
		return 0, nil
	}
	if err := a.d.MemFree(device, ptr, blk.bytes); err != nil {
		return 0, err
	}
	if a.debug {
		klog.Infof("%s: dev %d: returned block %#x (%s) to the driver",
			a.name, device, uintptr(ptr), cos.ToSizeIEC(blk.bytes, 0))
	}
	return blk.bytes, nil
}

// CachedFree reports the bytes cached-but-unused for the device; the
// manager counts these as free when reporting memory info.
func (a *Allocator) CachedFree(device int) int64 {
	sh, err := a.shard(device)
	if err != nil {
		return 0
	}
	return sh.cachedFree.Load()
}

// FreeAllCached drains every free list of the device back to the driver.
func (a *Allocator) FreeAllCached(device int) (freed int64) {
	sh, err := a.shard(device)
	if err != nil {
		return 0
	}
	sh.mu.Lock()
	freed = a.drain(sh, device)
	sh.mu.Unlock()
	return freed
}

// Close releases all cached blocks on all devices. Live (still allocated)
// blocks remain the caller's responsibility, as with any allocator.
func (a *Allocator) Close() {
	for device := range a.shards {
		a.FreeAllCached(device)
	}
}

//
// housekeeping
//

// RegHK registers periodic idle trimming with the housekeeper; the caller
// must have started hk. Tests call TrimIdle directly instead.
func (a *Allocator) RegHK()   { hk.Reg(a.name+hk.NameSuffix, a.hkTrim, trimIval) }
func (a *Allocator) UnregHK() { hk.Unreg(a.name + hk.NameSuffix) }

func (a *Allocator) hkTrim(now int64) time.Duration {
	if freed := a.TrimIdle(now); freed > 0 {
		klog.V(4).Infof("%s: trimmed %s of idle cached blocks", a.name, cos.ToSizeIEC(freed, 0))
	}
	return trimIval
}

// TrimIdle drains bins that have not been touched for trimIval.
func (a *Allocator) TrimIdle(now int64) (freed int64) {
	for device, sh := range a.shards {
		sh.mu.Lock()
		for i := range sh.bins {
			b := &sh.bins[i]
			if len(b.free) == 0 || time.Duration(now-b.lastUsed) <= trimIval {
				continue
			}
			freed += a.drainBin(sh, device, i)
		}
		sh.mu.Unlock()
	}
	return freed
}

//
// private
//

// carve obtains fresh driver memory; on OOM it flushes the device's cache
// and retries once, leaving the driver's sticky error state as is.
func (a *Allocator) carve(sh *shard, device int, bytes int64) (cudart.DevPtr, error) {
	ptr, err := a.d.MemAlloc(device, bytes)
	if err == nil {
		if a.debug {
			klog.Infof("%s: dev %d: carved new block %#x (%s)",
				a.name, device, uintptr(ptr), cos.ToSizeIEC(bytes, 0))
		}
		return ptr, nil
	}
	if !errors.Is(err, cudart.ErrOutOfMemory) {
		return 0, err
	}
	flushed := a.drain(sh, device)
	if a.debug {
		klog.Infof("%s: dev %d: OOM carving %s - flushed %s cached, retrying",
			a.name, device, cos.ToSizeIEC(bytes, 0), cos.ToSizeIEC(flushed, 0))
	}
	return a.d.MemAlloc(device, bytes)
}

// must be called under sh.mu
func (a *Allocator) drain(sh *shard, device int) (freed int64) {
	for i := range sh.bins {
		freed += a.drainBin(sh, device, i)
	}
	return freed
}

// must be called under sh.mu
func (a *Allocator) drainBin(sh *shard, device, idx int) (freed int64) {
	var (
		b     = &sh.bins[idx]
		bytes = a.binBytes[idx]
	)
	for _, ptr := range b.free {
		if err := a.d.MemFree(device, ptr, bytes); err != nil {
			klog.Errorf("%s: dev %d: failed to release cached block %#x: %v",
				a.name, device, uintptr(ptr), err)
			continue
		}
		freed += bytes
	}
	// the list empties either way; failed blocks are dropped, not re-cached
	sh.cachedFree.Sub(int64(len(b.free)) * bytes)
	b.free = b.free[:0]
	return freed
}

// must be called under sh.mu
func (a *Allocator) checkCached(sh *shard) {
	var total int64
	for i := range sh.bins {
		total += int64(len(sh.bins[i].free)) * a.binBytes[i]
	}
	debug.Assert(total == sh.cachedFree.Load(), "cached-bytes drift: ", total, " vs ", sh.cachedFree.Load())
}

func (a *Allocator) shard(device int) (*shard, error) {
	if device < 0 || device >= len(a.shards) {
		return nil, errors.Wrapf(cudart.ErrNoDevice, "%s: device %d of %d", a.name, device, len(a.shards))
	}
	return a.shards[device], nil
}

// smallest bin whose block size covers the request
func (a *Allocator) binFor(size int64) int {
	for i, bytes := range a.binBytes {
		if bytes >= size {
			return i
		}
	}
	debug.Assert(false, "unreachable: oversized request", size)
	return len(a.binBytes) - 1
}

func ipow(base int64, exp int) int64 {
	v := int64(1)
	for ; exp > 0; exp-- {
		v *= base
	}
	return v
}
