// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
package remote

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/azure/webimage/internal/metrics"
	"github.com/rs/zerolog"
)

// MaxBodySize is the largest response body the transport accepts.
var MaxBodySize int64 = 64 * 1024 * 1024 // 64 Mib

var errBodyTooLarge = fmt.Errorf("response body exceeds %d bytes", MaxBodySize)

// transport is a Transport over HTTP.
type transport struct {
	client  *http.Client
	metrics metrics.Metrics
}

var _ Transport = &transport{}

// Fetch downloads the resource at locator.
func (t *transport) Fetch(ctx context.Context, locator string) ([]byte, error) {
	log := zerolog.Ctx(ctx).With().Str("operation", "fetch").Str("url", locator).Logger()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, locator, nil)
	if err != nil {
		return nil, Error{nil, err}
	}

	host := hostname(req.URL)
	startTime := time.Now()
	var count int64
	defer func() {
		t.metrics.RecordUpstreamResponse(host, "fetch", time.Since(startTime).Seconds(), count)
	}()

	b, err := t.do(log, req)
	count = int64(len(b))
	return b, err
}

// do performs the request and reads the body.
func (t *transport) do(log zerolog.Logger, req *http.Request) ([]byte, error) {
	log.Debug().Msg("transport fetch start")
	statusCode := -1
	s := time.Now()
	defer func() {
		log.Debug().Int("status", statusCode).Dur("duration", time.Since(s)).Msg("transport fetch stop")
	}()

	resp, err := t.client.Do(req)
	if resp != nil {
		statusCode = resp.StatusCode
	}
	if err != nil {
		detailedErr := Error{resp, err}
		if !IsCancelled(err) {
			log.Error().Err(detailedErr).Msg("transport fetch error")
		}
		return nil, detailedErr
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		err := Error{resp, fmt.Errorf("unexpected response code: %d", resp.StatusCode)}
		log.Error().Err(err).Int("status", resp.StatusCode).Msg("transport fetch error")
		return nil, err
	}

	b, err := io.ReadAll(io.LimitReader(resp.Body, MaxBodySize+1))
	if err != nil {
		return nil, Error{resp, err}
	}
	if int64(len(b)) > MaxBodySize {
		return nil, Error{resp, errBodyTooLarge}
	}

	return b, nil
}

func hostname(u *url.URL) string {
	if u == nil {
		return ""
	}
	return u.Hostname()
}

// NewTransport creates a new HTTP transport. A nil client uses a client with the given timeout.
func NewTransport(client *http.Client, timeout time.Duration, m metrics.Metrics) Transport {
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}
	if m == nil {
		m = metrics.Noop
	}
	return &transport{client: client, metrics: m}
}
