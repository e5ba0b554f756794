/*
 * Copyright (c) 2026, NVIDIA CORPORATION. All rights reserved.
 */
package gmm

import (
	"github.com/NVIDIA/gpumem/cmn/cos"
	"github.com/NVIDIA/gpumem/cudart"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("PinnedBuffer", func() {
	var (
		sim *cudart.Sim
		mgr *Manager
	)
	BeforeEach(func() {
		sim = cudart.NewSim(2, 64*cos.MiB)
		mgr = New(sim)
	})
	AfterEach(func() {
		mgr.Close()
	})

	It("should reuse the buffer for requests within its size", func() {
		first := mgr.PinnedBuffer(1024, 0, 0)
		Expect(first.IsNull()).To(BeFalse())
		Expect(sim.NumHostBufs()).To(Equal(1))

		Expect(mgr.PinnedBuffer(512, 0, 0)).To(Equal(first))
		Expect(mgr.PinnedBuffer(1024, 0, 0)).To(Equal(first))
		Expect(sim.NumHostBufs()).To(Equal(1))

		bigger := mgr.PinnedBuffer(4096, 0, 0)
		Expect(bigger).NotTo(Equal(first))
		Expect(sim.NumHostBufs()).To(Equal(1)) // old unmapped, new mapped
	})

	It("should floor tiny requests at the initial pinned size", func() {
		ptr := mgr.PinnedBuffer(1, 0, 0)
		Expect(ptr.IsNull()).To(BeFalse())
		Expect(mgr.PinnedBuffer(InitialPinnedBytes, 0, 0)).To(Equal(ptr))
		Expect(sim.NumHostBufs()).To(Equal(1))
	})

	It("should keep (device, group) keys independent", func() {
		a := mgr.PinnedBuffer(1024, 0, 0)
		b := mgr.PinnedBuffer(1024, 0, 1)
		c := mgr.PinnedBuffer(1024, 1, 0)
		Expect(a).NotTo(Equal(b))
		Expect(b).NotTo(Equal(c))
		Expect(sim.NumHostBufs()).To(Equal(3))
	})

	It("should free every pinned buffer on Close", func() {
		mgr.PinnedBuffer(1024, 0, 0)
		mgr.PinnedBuffer(2048, 1, 3)
		Expect(sim.NumHostBufs()).To(Equal(2))
		mgr.Close()
		Expect(sim.NumHostBufs()).To(BeZero())
	})
})

var _ = Describe("ThreadCache", func() {
	var (
		sim *cudart.Sim
		mgr *Manager
	)
	BeforeEach(func() {
		sim = cudart.NewSim(1, 64*cos.MiB)
		mgr = New(sim)
	})
	AfterEach(func() {
		mgr.Close()
	})

	It("should grow per group and reuse within size", func() {
		tc := mgr.NewThreadCache()
		a := tc.PinnedBuffer(1024, 0)
		Expect(a.IsNull()).To(BeFalse())
		Expect(tc.PinnedBuffer(512, 0)).To(Equal(a))

		b := tc.PinnedBuffer(1024, 1)
		Expect(b).NotTo(Equal(a))
		Expect(sim.NumHostBufs()).To(Equal(2))

		Expect(tc.PinnedBuffer(8192, 0)).NotTo(Equal(a))
		Expect(sim.NumHostBufs()).To(Equal(2))

		tc.Close()
		Expect(sim.NumHostBufs()).To(BeZero())
	})

	It("should close idempotently", func() {
		tc := mgr.NewThreadCache()
		tc.PinnedBuffer(1024, 0)
		tc.Close()
		tc.Close()
		Expect(sim.NumHostBufs()).To(BeZero())
	})

	It("should stay independent of the process-wide pool", func() {
		p := mgr.PinnedBuffer(1024, 0, 0)
		tc := mgr.NewThreadCache()
		Expect(tc.PinnedBuffer(1024, 0)).NotTo(Equal(p))

		tc.Close()
		Expect(sim.NumHostBufs()).To(Equal(1)) // the process-wide one survives
	})
})
