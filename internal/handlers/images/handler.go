// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	webcontext "github.com/azure/webimage/internal/context"
	"github.com/azure/webimage/internal/fetch"
	"github.com/azure/webimage/internal/imaging"
	"github.com/azure/webimage/internal/metrics"
	"github.com/azure/webimage/internal/remote"
	"github.com/gin-gonic/gin"
)

// Scheduler schedules image requests.
type Scheduler interface {
	Request(locator string, opts ...fetch.Option) string
}

// ImagesHandler serves images through the cache, fetching them on a miss.
type ImagesHandler struct {
	scheduler Scheduler
	metrics   metrics.Metrics
}

var _ gin.HandlerFunc = (&ImagesHandler{}).Handle

// Handle handles a request for an image.
func (h *ImagesHandler) Handle(c *gin.Context) {
	log := webcontext.Logger(c)
	log.Debug().Msg("images handler start")
	s := time.Now()
	defer func() {
		dur := time.Since(s)
		h.metrics.RecordRequest(c.Request.Method, "images", dur.Seconds())
		log.Debug().Dur("duration", dur).Msg("images handler stop")
	}()

	opts, err := h.fill(c)
	if err != nil {
		log.Debug().Err(err).Msg("failed to fill context")
		// nolint
		c.AbortWithError(http.StatusBadRequest, err)
		return
	}

	results := make(chan fetch.Result, 1)
	opts = append(opts, fetch.WithCompletion(func(r fetch.Result) { results <- r }))
	key := h.scheduler.Request(c.GetString(webcontext.LocatorCtxKey), opts...)
	c.Set(webcontext.KeyCtxKey, key)

	var res fetch.Result
	select {
	case res = <-results:
	case <-c.Request.Context().Done():
		log.Debug().Msg("client went away")
		c.AbortWithStatus(webcontext.StatusClientClosedRequest)
		return
	}

	w := c.Writer
	w.Header().Set(webcontext.CorrelationHeaderKey, c.GetString(webcontext.CorrelationIdCtxKey))
	w.Header().Set(webcontext.KeyHeaderKey, key)

	if res.Err != nil {
		if fetch.IsCancelled(res.Err) {
			// Superseded by a newer request for the same image.
			log.Debug().Msg("request cancelled")
			c.AbortWithStatus(webcontext.StatusClientClosedRequest)
			return
		}
		// nolint
		c.AbortWithError(statusOf(res.Err), res.Err)
		return
	}

	cacheStatus := "miss"
	if res.FromCache {
		cacheStatus = "hit"
	}
	w.Header().Set(webcontext.CacheHeaderKey, cacheStatus)

	c.Data(http.StatusOK, http.DetectContentType(res.Artifact.Data), res.Artifact.Data)
}

// fill fills the context with handler specific information and returns the request options.
func (h *ImagesHandler) fill(c *gin.Context) ([]fetch.Option, error) {
	c.Set("handler", "images")

	locator, err := webcontext.Locator(c)
	if err != nil {
		return nil, err
	}
	c.Set(webcontext.LocatorCtxKey, locator)

	width, height, err := webcontext.CropSize(c)
	if err != nil {
		return nil, err
	}

	p, err := ParsePriority(c.Query(webcontext.PriorityQueryKey))
	if err != nil {
		return nil, err
	}

	return []fetch.Option{fetch.WithCropSize(width, height), fetch.WithPriority(p)}, nil
}

var errInvalidPriority = errors.New("invalid priority")

// ParsePriority parses "low", "normal" or "high". An empty string is normal priority.
func ParsePriority(s string) (fetch.Priority, error) {
	switch strings.ToLower(s) {
	case "", "normal":
		return fetch.PriorityNormal, nil
	case "high":
		return fetch.PriorityHigh, nil
	case "low":
		return fetch.PriorityLow, nil
	default:
		return fetch.PriorityNormal, errInvalidPriority
	}
}

// statusOf maps a request failure to a response status.
func statusOf(err error) int {
	var remoteErr remote.Error
	switch {
	case errors.Is(err, imaging.ErrDecode):
		return http.StatusUnprocessableEntity
	case errors.As(err, &remoteErr) && remoteErr.Code() == http.StatusNotFound:
		return http.StatusNotFound
	case errors.As(err, &remoteErr), errors.Is(err, context.DeadlineExceeded):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// New creates a new images handler.
func New(ctx context.Context, s Scheduler, m metrics.Metrics) *ImagesHandler {
	if m == nil {
		m = metrics.Noop
	}
	return &ImagesHandler{scheduler: s, metrics: m}
}
