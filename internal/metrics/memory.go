// Copyright (c) Microsoft Corporation.
// Licensed under the Apache License, Version 2.0.
package metrics

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"time"

	hmetrics "github.com/hashicorp/go-metrics"
	"github.com/rs/zerolog"
)

var (
	// AggregationInterval is the interval to aggregate metrics.
	AggregationInterval = 2 * time.Minute

	// RetentionPeriod is the retention period of metrics.
	RetentionPeriod = 10 * time.Minute
)

// memoryMetrics is a metrics collector that stores metrics in memory.
type memoryMetrics struct {
	sink *hmetrics.InmemSink
}

var _ Metrics = &memoryMetrics{}

// RecordRequest records the time it takes to process a request.
func (m *memoryMetrics) RecordRequest(method string, handler string, duration float64) {
	m.recordLatency(duration, "server", method+"_"+handler)
}

// RecordUpstreamResponse records the time it takes for an upstream to respond.
func (m *memoryMetrics) RecordUpstreamResponse(hostname, op string, duration float64, count int64) {
	m.recordLatency(duration, hostname, op)
	m.sink.AddSample([]string{"bytes", hostname, op}, float32(count))

	if duration > 0 {
		m.sink.AddSample([]string{"speed", hostname, op}, float32(float64(count)/duration))
	}
}

// RecordCacheLookup counts hits and misses per tier.
func (m *memoryMetrics) RecordCacheLookup(tier string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.sink.IncrCounter([]string{"lookup", tier, result}, 1)
}

// RecordEviction counts evicted entries.
func (m *memoryMetrics) RecordEviction(reason string, count int) {
	m.sink.IncrCounter([]string{"eviction", reason}, float32(count))
}

// SetQueueDepth sets the queue depth of a pool.
func (m *memoryMetrics) SetQueueDepth(pool string, depth int) {
	m.sink.SetGauge([]string{"queue", pool}, float32(depth))
}

// recordLatency records the time it takes to perform an operation.
func (m *memoryMetrics) recordLatency(duration float64, host, op string) {
	m.sink.AddSample([]string{"latency", host, op}, float32(duration))
}

// Report writes the retained metrics to w, one line per metric.
func (m *memoryMetrics) Report(w io.Writer) error {
	for _, intv := range m.sink.Data() {
		intv.RLock()
		lines := make([]string, 0, len(intv.Gauges)+len(intv.Counters)+len(intv.Samples))
		for name, g := range intv.Gauges {
			lines = append(lines, fmt.Sprintf("[G] %s: %s", name, formatFloat(float64(g.Value))))
		}
		for name, c := range intv.Counters {
			lines = append(lines, fmt.Sprintf("[C] %s: count=%d sum=%s", name, c.Count, formatFloat(c.Sum)))
		}
		for name, s := range intv.Samples {
			lines = append(lines, fmt.Sprintf("[S] %s: count=%d mean=%s min=%s max=%s", name, s.Count, formatFloat(s.AggregateSample.Mean()), formatFloat(s.Min), formatFloat(s.Max)))
		}
		intv.RUnlock()

		if len(lines) == 0 {
			continue
		}
		sort.Strings(lines)

		if _, err := fmt.Fprintf(w, "[%v]\n", intv.Interval.Format(time.RFC3339)); err != nil {
			return err
		}
		for _, l := range lines {
			if _, err := fmt.Fprintln(w, l); err != nil {
				return err
			}
		}
	}
	return nil
}

// ReportPeriodically writes the metrics to the file at path every interval until ctx is done.
func (m *memoryMetrics) ReportPeriodically(ctx context.Context, path string, interval time.Duration) {
	log := zerolog.Ctx(ctx).With().Str("component", "metrics").Logger()
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				f, err := os.OpenFile(path, os.O_TRUNC|os.O_CREATE|os.O_WRONLY, 0644)
				if err != nil {
					log.Error().Err(err).Str("path", path).Msg("failed to open metrics report")
					continue
				}
				if err := m.Report(f); err != nil {
					log.Error().Err(err).Str("path", path).Msg("failed to write metrics report")
				}
				_ = f.Sync()
				f.Close()
			}
		}
	}()
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', 3, 64)
}

// NewMemoryMetrics returns a new memory metrics collector.
func NewMemoryMetrics() *memoryMetrics {
	return &memoryMetrics{sink: hmetrics.NewInmemSink(AggregationInterval, RetentionPeriod)}
}
