// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

// Package metrics provides metrics collectors backed by Prometheus or memory.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// promMetrics is a metrics collector that stores metrics in Prometheus.
type promMetrics struct {
	requestDuration          *prometheus.HistogramVec
	upstreamResponseDuration *prometheus.HistogramVec
	upstreamResponseBytes    *prometheus.CounterVec
	cacheLookups             *prometheus.CounterVec
	evictions                *prometheus.CounterVec
	queueDepth               *prometheus.GaugeVec
}

var _ Metrics = &promMetrics{}

// RecordRequest records the duration of a request for a specific method and handler.
func (m *promMetrics) RecordRequest(method string, handler string, duration float64) {
	m.requestDuration.WithLabelValues(method, handler).Observe(duration)
}

// RecordUpstreamResponse records the duration and size of an upstream response.
func (m *promMetrics) RecordUpstreamResponse(hostname string, op string, duration float64, count int64) {
	m.upstreamResponseDuration.WithLabelValues(hostname, op).Observe(duration)
	if count > 0 {
		m.upstreamResponseBytes.WithLabelValues(hostname, op).Add(float64(count))
	}
}

// RecordCacheLookup counts hits and misses per tier.
func (m *promMetrics) RecordCacheLookup(tier string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookups.WithLabelValues(tier, result).Inc()
}

// RecordEviction counts evicted entries per reason.
func (m *promMetrics) RecordEviction(reason string, count int) {
	m.evictions.WithLabelValues(reason).Add(float64(count))
}

// SetQueueDepth sets the queue depth gauge of a pool.
func (m *promMetrics) SetQueueDepth(pool string, depth int) {
	m.queueDepth.WithLabelValues(pool).Set(float64(depth))
}

// NewPromMetrics creates a new instance of promMetrics registered with r.
func NewPromMetrics(r prometheus.Registerer) *promMetrics {
	requestDurationHist := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name: "webimage_request_duration_seconds",
		Help: "Duration of requests in seconds.",
	}, []string{"method", "handler"})

	upstreamResponseDurationHist := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name: "webimage_upstream_response_duration_seconds",
		Help: "Duration of upstream responses in seconds.",
	}, []string{"hostname", "op"})

	upstreamResponseBytes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "webimage_upstream_response_bytes_total",
		Help: "Bytes received from upstreams.",
	}, []string{"hostname", "op"})

	cacheLookups := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "webimage_cache_lookups_total",
		Help: "Cache lookups by tier and result.",
	}, []string{"tier", "result"})

	evictions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "webimage_cache_evictions_total",
		Help: "Entries removed from the disk tier by the eviction sweep.",
	}, []string{"reason"})

	queueDepth := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "webimage_queue_depth",
		Help: "Number of queued jobs per worker pool.",
	}, []string{"pool"})

	r.MustRegister(requestDurationHist, upstreamResponseDurationHist, upstreamResponseBytes, cacheLookups, evictions, queueDepth)

	return &promMetrics{
		requestDuration:          requestDurationHist,
		upstreamResponseDuration: upstreamResponseDurationHist,
		upstreamResponseBytes:    upstreamResponseBytes,
		cacheLookups:             cacheLookups,
		evictions:                evictions,
		queueDepth:               queueDepth,
	}
}
