// Copyright (c) Microsoft Corporation.
// Licensed under the Apache License, Version 2.0.
package bench

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	webcontext "github.com/azure/webimage/internal/context"
	"github.com/azure/webimage/internal/math"
	"github.com/rs/zerolog"
	"github.com/schollz/progressbar/v3"
	"golang.org/x/sync/errgroup"
)

var client = &http.Client{Timeout: time.Minute}

// percentiles reported for every round.
var percentiles = []float64{0.5, 0.75, 0.9, 0.99, 1}

// Round describes the requests of one pass over all images.
type Round struct {
	Latencies []time.Duration
	Hits      int
	Failures  int
}

// Bench requests every image through the server rounds times, concurrency images at a time,
// and reports the latency percentiles and cache hit rate of each round.
func Bench(ctx context.Context, server string, images []string, concurrency, rounds int) ([]Round, error) {
	l := zerolog.Ctx(ctx)

	if server == "" {
		return nil, errors.New("server required")
	}
	if len(images) == 0 {
		return nil, errors.New("at least one image url required")
	}
	if concurrency <= 0 || rounds <= 0 {
		return nil, errors.New("concurrency and rounds must be positive")
	}

	results := make([]Round, 0, rounds)
	for i := 0; i < rounds; i++ {
		r, err := round(ctx, server, images, concurrency)
		if err != nil {
			return results, err
		}
		results = append(results, r)

		event := l.Info().Int("round", i).Int("hits", r.Hits).Int("failures", r.Failures)
		if ps := math.Percentiles(r.Latencies, percentiles...); ps != nil {
			event = event.Dur("p50", ps[0]).Dur("p75", ps[1]).Dur("p90", ps[2]).Dur("p99", ps[3]).Dur("p100", ps[4])
		}
		event.Msg("round complete")
	}

	return results, nil
}

// round requests every image once.
func round(ctx context.Context, server string, images []string, concurrency int) (Round, error) {
	var r Round
	var mu sync.Mutex
	bar := progressbar.Default(int64(len(images)), "requesting")
	defer func() { _ = bar.Finish() }()

	batches := math.Batches(append([]string(nil), images...), (len(images)+concurrency-1)/concurrency)

	g, ctx := errgroup.WithContext(ctx)
	for _, batch := range batches {
		batch := batch
		g.Go(func() error {
			for _, image := range batch {
				d, hit, err := request(ctx, server, image)
				if ctx.Err() != nil {
					return ctx.Err()
				}

				mu.Lock()
				if err != nil {
					zerolog.Ctx(ctx).Error().Err(err).Str("url", image).Msg("request error")
					r.Failures++
				} else {
					r.Latencies = append(r.Latencies, d)
					if hit {
						r.Hits++
					}
				}
				mu.Unlock()
				_ = bar.Add(1)
			}
			return nil
		})
	}

	return r, g.Wait()
}

// request fetches image through the server and reports the latency and whether it was served from cache.
func request(ctx context.Context, server, image string) (time.Duration, bool, error) {
	u := strings.TrimSuffix(server, "/") + "/images?" + webcontext.LocatorQueryKey + "=" + url.QueryEscape(image)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return 0, false, err
	}

	s := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		return 0, false, err
	}
	defer resp.Body.Close()

	if _, err := io.Copy(io.Discard, resp.Body); err != nil {
		return 0, false, err
	}
	d := time.Since(s)

	if resp.StatusCode != http.StatusOK {
		return d, false, fmt.Errorf("unexpected status code %d", resp.StatusCode)
	}

	return d, resp.Header.Get(webcontext.CacheHeaderKey) == "hit", nil
}
