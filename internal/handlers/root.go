// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
package handlers

import (
	"context"
	"net/http"
	"time"

	webcontext "github.com/azure/webimage/internal/context"
	"github.com/azure/webimage/internal/files/eviction"
	imagesHandler "github.com/azure/webimage/internal/handlers/images"
	"github.com/azure/webimage/internal/metrics"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Sweeper runs an eviction sweep.
type Sweeper interface {
	Sweep(ctx context.Context) eviction.Result
}

// Handler creates the HTTP handler of the image service.
// The metrics route is registered only if g is not nil.
func Handler(ctx context.Context, s imagesHandler.Scheduler, sw Sweeper, m metrics.Metrics, g prometheus.Gatherer) http.Handler {
	ih := imagesHandler.New(ctx, s, m)

	var mh gin.HandlerFunc
	if g != nil {
		mh = gin.WrapH(promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
	}

	engine := newEngine(ctx)
	registerRoutes(engine, ih.Handle, sweepHandler(sw), mh)

	return engine
}

// newEngine creates a new gin engine.
func newEngine(ctx context.Context) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()

	baseLog := zerolog.Ctx(ctx)

	engine.Use(func(c *gin.Context) {
		webcontext.FillCorrelationId(c)
		c.Set(webcontext.LoggerCtxKey, baseLog)

		l := webcontext.Logger(c)
		l.Debug().Msg("request start")
		s := time.Now()

		c.Next()

		status := c.Writer.Status()
		event := l.Info()
		if status == webcontext.StatusClientClosedRequest {
			event = l.Debug()
		} else if status >= 400 && status < 500 {
			event = l.Warn()
		} else if status >= 500 {
			event = l.Error()
		}

		if c.Errors != nil {
			errs := []error{}
			for _, e := range c.Errors {
				errs = append(errs, e.Err)
			}
			event = event.Errs("error", errs)
		}

		event.Dur("duration", time.Since(s)).Str("method", c.Request.Method).Int("status", status).Str("cache", c.Writer.Header().Get(webcontext.CacheHeaderKey)).Msg("request served")
	})

	engine.Use(gin.Recovery())
	return engine
}

// registerRoutes registers the routes for the HTTP server.
func registerRoutes(engine *gin.Engine, images, sweep, metrics gin.HandlerFunc) {
	engine.GET("/images", images)
	engine.POST("/sweep", sweep)
	if metrics != nil {
		engine.GET("/metrics", metrics)
	}
}

// sweepResponse is the body returned by the sweep API.
type sweepResponse struct {
	Expired    []string `json:"expired"`
	Evicted    []string `json:"evicted"`
	FreedBytes int64    `json:"freedBytes"`
	Failures   int      `json:"failures"`
}

// sweepHandler runs an eviction sweep and responds with its result.
func sweepHandler(sw Sweeper) gin.HandlerFunc {
	return func(c *gin.Context) {
		res := sw.Sweep(c.Request.Context())
		c.JSON(http.StatusOK, sweepResponse{
			Expired:    nonNil(res.Expired),
			Evicted:    nonNil(res.Evicted),
			FreedBytes: res.FreedBytes,
			Failures:   res.Failures,
		})
	}
}

func nonNil(keys []string) []string {
	if keys == nil {
		return []string{}
	}
	return keys
}
