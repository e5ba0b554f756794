/*
 * Copyright (c) 2026, NVIDIA CORPORATION. All rights reserved.
 */
package hk

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/atomic"
)

var _ = Describe("Housekeeper", func() {
	BeforeEach(func() {
		Init()
		go HK.Run()
	})
	AfterEach(func() {
		HK.Stop()
	})

	It("should invoke a callback at its interval", func() {
		fired := atomic.NewInt64(0)
		Reg("count.gc", func(int64) time.Duration {
			fired.Inc()
			return 10 * time.Millisecond
		}, 10*time.Millisecond)

		Eventually(fired.Load, "2s", "5ms").Should(BeNumerically(">=", int64(3)))
	})

	It("should honor registrations made before Run drains them", func() {
		stopped := HK
		stopped.Stop()

		Init()
		fired := atomic.NewInt64(0)
		Reg("early.gc", func(int64) time.Duration {
			fired.Inc()
			return 10 * time.Millisecond
		}, 10*time.Millisecond)
		go HK.Run()

		Eventually(fired.Load, "2s", "5ms").Should(BeNumerically(">=", int64(1)))
	})

	It("should call back immediately when registered with zero interval", func() {
		fired := atomic.NewInt64(0)
		Reg("now.gc", func(int64) time.Duration {
			fired.Inc()
			return time.Hour
		}, 0)

		Eventually(fired.Load, "2s", "5ms").Should(Equal(int64(1)))
		Consistently(fired.Load, "100ms", "20ms").Should(Equal(int64(1)))
	})

	It("should unregister when the callback returns UnregInterval", func() {
		fired := atomic.NewInt64(0)
		Reg("once.gc", func(int64) time.Duration {
			fired.Inc()
			return UnregInterval
		}, 10*time.Millisecond)

		Eventually(fired.Load, "2s", "5ms").Should(Equal(int64(1)))
		Consistently(fired.Load, "200ms", "20ms").Should(Equal(int64(1)))
	})

	It("should stop invoking an unregistered callback", func() {
		fired := atomic.NewInt64(0)
		Reg("gone.gc", func(int64) time.Duration {
			fired.Inc()
			return 10 * time.Millisecond
		}, 10*time.Millisecond)

		Eventually(fired.Load, "2s", "5ms").Should(BeNumerically(">=", int64(1)))
		Unreg("gone.gc")

		time.Sleep(50 * time.Millisecond)
		snapshot := fired.Load()
		Consistently(fired.Load, "200ms", "20ms").Should(Equal(snapshot))
	})
})
