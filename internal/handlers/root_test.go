// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/azure/webimage/internal/fetch"
	"github.com/azure/webimage/internal/files/eviction"
	"github.com/azure/webimage/internal/metrics"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

var simpleOKHandler = gin.HandlerFunc(func(c *gin.Context) {
	c.Status(http.StatusOK)
})

func TestRoutesRegistrations(t *testing.T) {
	recorder := httptest.NewRecorder()
	mc, me := gin.CreateTestContext(recorder)
	registerRoutes(me, simpleOKHandler, simpleOKHandler, nil)

	tests := []struct {
		name           string
		method         string
		path           string
		expectedStatus int
	}{
		{name: "images", method: http.MethodGet, path: "/images?url=https%3A%2F%2Fexample.com%2Fa.png", expectedStatus: http.StatusOK},
		{name: "sweep", method: http.MethodPost, path: "/sweep", expectedStatus: http.StatusOK},
		{name: "sweep get", method: http.MethodGet, path: "/sweep", expectedStatus: http.StatusNotFound},
		{name: "metrics disabled", method: http.MethodGet, path: "/metrics", expectedStatus: http.StatusNotFound},
		{name: "unknown", method: http.MethodGet, path: "/blobs/x", expectedStatus: http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := http.NewRequest(tt.method, tt.path, nil)
			require.NoError(t, err)

			mc.Request = req
			recorder := httptest.NewRecorder()
			me.ServeHTTP(recorder, req)
			require.Equal(t, tt.expectedStatus, recorder.Code)
		})
	}
}

type sweeperFunc func(ctx context.Context) eviction.Result

func (f sweeperFunc) Sweep(ctx context.Context) eviction.Result { return f(ctx) }

type noopScheduler struct{}

func (noopScheduler) Request(locator string, opts ...fetch.Option) string { return "" }

func TestSweepAndMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewPromMetrics(reg)
	m.RecordEviction(metrics.EvictionExpired, 2)

	sw := sweeperFunc(func(ctx context.Context) eviction.Result {
		return eviction.Result{Expired: []string{"a", "b"}, FreedBytes: 42}
	})

	h := Handler(context.Background(), noopScheduler{}, sw, m, reg)

	recorder := httptest.NewRecorder()
	h.ServeHTTP(recorder, httptest.NewRequest(http.MethodPost, "/sweep", nil))
	require.Equal(t, http.StatusOK, recorder.Code)

	var body sweepResponse
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &body))
	require.Equal(t, sweepResponse{Expired: []string{"a", "b"}, Evicted: []string{}, FreedBytes: 42}, body)

	recorder = httptest.NewRecorder()
	h.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, recorder.Code)
	require.Contains(t, recorder.Body.String(), "webimage_cache_evictions_total")
}
