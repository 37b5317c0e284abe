// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
package metrics

// Metrics defines an interface to collect cache and scheduler metrics.
type Metrics interface {
	// RecordRequest records the time it takes to process a request.
	RecordRequest(method, handler string, duration float64)

	// RecordUpstreamResponse records the time it takes for an upstream to respond and the bytes it sent.
	RecordUpstreamResponse(hostname, op string, duration float64, count int64)

	// RecordCacheLookup records a lookup against a cache tier.
	RecordCacheLookup(tier string, hit bool)

	// RecordEviction records entries removed from the disk tier.
	RecordEviction(reason string, count int)

	// SetQueueDepth records the number of queued jobs of a worker pool.
	SetQueueDepth(pool string, depth int)
}

// Cache tiers.
const (
	TierMemory = "memory"
	TierDisk   = "disk"
)

// Eviction reasons.
const (
	EvictionExpired  = "expired"
	EvictionOverSize = "oversize"
)

// Worker pools.
const (
	PoolFetch  = "fetch"
	PoolDecode = "decode"
)

// Noop discards all metrics.
var Noop Metrics = noopMetrics{}

type noopMetrics struct{}

func (noopMetrics) RecordRequest(string, string, float64)                {}
func (noopMetrics) RecordUpstreamResponse(string, string, float64, int64) {}
func (noopMetrics) RecordCacheLookup(string, bool)                       {}
func (noopMetrics) RecordEviction(string, int)                           {}
func (noopMetrics) SetQueueDepth(string, int)                            {}
