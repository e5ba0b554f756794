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

var _ = Describe("Workspace", func() {
	var (
		sim *cudart.Sim
		mgr *Manager
	)
	BeforeEach(func() {
		sim = cudart.NewSim(2, 64*cos.MiB)
		mgr = New(sim)
		mgr.Init([]int{0, 1}, false)
	})
	AfterEach(func() {
		mgr.Close()
	})

	It("should grow only when the request exceeds holdings", func() {
		w := mgr.NewWorkspace(0)
		Expect(w.TryReserve(100)).To(BeTrue())
		first := w.Ptr()
		Expect(first.IsNull()).To(BeFalse())
		Expect(w.Size()).To(Equal(int64(100)))

		// shrink and repeat requests are no-ops
		Expect(w.TryReserve(50)).To(BeTrue())
		Expect(w.Ptr()).To(Equal(first))
		Expect(w.Size()).To(Equal(int64(100)))

		Expect(w.TryReserve(100)).To(BeTrue())
		Expect(w.Ptr()).To(Equal(first))

		Expect(w.TryReserve(4 * cos.KiB)).To(BeTrue())
		Expect(w.Ptr()).NotTo(Equal(first))
		Expect(w.Size()).To(Equal(int64(4 * cos.KiB)))
	})

	It("should adopt the device passed to a growing reserve", func() {
		w := mgr.NewWorkspace(0)
		Expect(w.TryReserve(cos.KiB)).To(BeTrue())
		Expect(w.Device()).To(Equal(0))

		Expect(sim.SetDevice(1)).To(Succeed())
		Expect(w.TryReserve(2*cos.KiB, 1)).To(BeTrue())
		Expect(w.Device()).To(Equal(1))
		Expect(w.Stream().Device()).To(Equal(1))
	})

	It("should leave the workspace empty after a failed grow", func() {
		w := mgr.NewWorkspace(0)
		Expect(w.TryReserve(cos.MiB)).To(BeTrue())

		// oversized for a 64M device: released, then failed to reallocate
		Expect(w.TryReserve(128 * cos.MiB)).To(BeFalse())
		Expect(w.Ptr().IsNull()).To(BeTrue())
		Expect(w.Size()).To(BeZero())

		snap, ok := mgr.Snap(0)
		Expect(ok).To(BeTrue())
		Expect(snap.Flushes).To(BeNumerically(">=", int64(1)))
	})

	It("should release idempotently", func() {
		w := mgr.NewWorkspace(0)
		Expect(w.TryReserve(cos.KiB)).To(BeTrue())
		w.Release()
		Expect(w.Ptr().IsNull()).To(BeTrue())
		Expect(w.Size()).To(BeZero())
		w.Release()
		Expect(w.Size()).To(BeZero())
	})

	It("should treat within-holdings safe-reserve as a no-op", func() {
		w := mgr.NewWorkspace(0)
		Expect(w.TryReserve(4 * cos.KiB)).To(BeTrue())
		Expect(w.SafeReserve(2 * cos.KiB)).To(BeFalse())
		Expect(w.SafeReserve(4 * cos.KiB)).To(BeFalse())
		Expect(w.Size()).To(Equal(int64(4 * cos.KiB)))
	})

	It("should grow via safe-reserve when the tracker confirms availability", func() {
		w := mgr.NewWorkspace(0)
		Expect(w.TryReserve(4 * cos.KiB)).To(BeTrue())
		Expect(w.SafeReserve(16 * cos.KiB)).To(BeTrue())
		Expect(w.Size()).To(Equal(int64(16 * cos.KiB)))
		Expect(w.Ptr().IsNull()).To(BeFalse())
	})

	It("should reserve unconditionally when asked", func() {
		w := mgr.NewWorkspace(0)
		w.Reserve(8 * cos.KiB)
		Expect(w.Size()).To(Equal(int64(8 * cos.KiB)))
	})

	It("should maintain the shared per-device workspaces", func() {
		mgr.InitDevice(0)
		w, ww := mgr.DeviceWorkspace(0), mgr.WeightsWorkspace(0)
		Expect(w).NotTo(BeNil())
		Expect(ww).NotTo(BeNil())
		Expect(w).NotTo(BeIdenticalTo(ww))

		mgr.InitDevice(0) // idempotent
		Expect(mgr.DeviceWorkspace(0)).To(BeIdenticalTo(w))

		Expect(w.TryReserve(cos.KiB)).To(BeTrue())
		mgr.FinalizeDevice(0)
		Expect(mgr.DeviceWorkspace(0)).To(BeNil())
		Expect(mgr.WeightsWorkspace(0)).To(BeNil())
	})
})
