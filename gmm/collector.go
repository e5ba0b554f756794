// Package gmm is the process-wide GPU device-memory manager.
/*
 * Copyright (c) 2026, NVIDIA CORPORATION. All rights reserved.
 */
package gmm

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector returns a prometheus collector exporting per-device gauges for
// every touched device: tracked free/total bytes, allocator-cached bytes,
// pinned host bytes, and the forced-refresh (flush) counter.
func (m *Manager) Collector() prometheus.Collector { return &collector{m: m} }

type collector struct {
	m *Manager
}

// interface guard
var _ prometheus.Collector = (*collector)(nil)

var (
	descFree = prometheus.NewDesc("gpumem_free_bytes",
		"Tracked free device memory (estimate in between refreshes)", []string{"device"}, nil)
	descTotal = prometheus.NewDesc("gpumem_total_bytes",
		"Total device memory", []string{"device"}, nil)
	descCached = prometheus.NewDesc("gpumem_cached_bytes",
		"Cached-but-unused bytes in the allocator free lists", []string{"device"}, nil)
	descPinned = prometheus.NewDesc("gpumem_pinned_bytes",
		"Process-wide pinned host bytes mapped for the device", []string{"device"}, nil)
	descFlushes = prometheus.NewDesc("gpumem_flush_count_total",
		"Forced device-info refreshes after allocation failures", []string{"device"}, nil)
)

func (*collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- descFree
	ch <- descTotal
	ch <- descCached
	ch <- descPinned
	ch <- descFlushes
}

func (c *collector) Collect(ch chan<- prometheus.Metric) {
	for device := range c.m.devs {
		snap, ok := c.m.Snap(device)
		if !ok {
			continue
		}
		label := strconv.Itoa(device)
		ch <- prometheus.MustNewConstMetric(descFree, prometheus.GaugeValue, float64(snap.Free), label)
		ch <- prometheus.MustNewConstMetric(descTotal, prometheus.GaugeValue, float64(snap.Total), label)
		ch <- prometheus.MustNewConstMetric(descCached, prometheus.GaugeValue, float64(snap.Cached), label)
		ch <- prometheus.MustNewConstMetric(descPinned, prometheus.GaugeValue, float64(snap.Pinned), label)
		ch <- prometheus.MustNewConstMetric(descFlushes, prometheus.CounterValue, float64(snap.Flushes), label)
	}
}
