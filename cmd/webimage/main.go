package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/alexflint/go-arg"
	"github.com/azure/webimage/internal/config"
	"github.com/azure/webimage/internal/fetch"
	"github.com/azure/webimage/internal/files/cache"
	"github.com/azure/webimage/internal/files/eviction"
	"github.com/azure/webimage/internal/handlers"
	imagesHandler "github.com/azure/webimage/internal/handlers/images"
	"github.com/azure/webimage/internal/imaging"
	"github.com/azure/webimage/internal/metrics"
	"github.com/azure/webimage/internal/remote"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"
)

func main() {
	args := &Arguments{}
	arg.MustParse(args)

	ll, err := zerolog.ParseLevel(args.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid log level: %s\n", args.LogLevel)
		os.Exit(1)
	}

	zerolog.SetGlobalLevel(ll)
	zerolog.TimeFieldFormat = time.RFC3339Nano

	l := zerolog.New(os.Stdout).With().Timestamp().Str("version", version).Logger()
	ctx := l.WithContext(context.Background())

	err = run(ctx, args)
	if err != nil {
		l.Error().Err(err).Msg("command error")
		os.Exit(1)
	}
}

func run(ctx context.Context, args *Arguments) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGTERM, os.Interrupt)
	defer cancel()

	if args.Version {
		zerolog.Ctx(ctx).Info().Msg("version") // version field is already added to the logger
		return nil
	}

	cfg, err := loadConfig(args)
	if err != nil {
		return err
	}

	switch {
	case args.Run != nil:
		return serverCommand(ctx, cfg, args.Run)
	case args.Fetch != nil:
		return fetchCommand(ctx, cfg, args.Fetch)
	case args.Sweep != nil:
		return sweepCommand(ctx, cfg)
	default:
		return fmt.Errorf("unknown subcommand")
	}
}

// loadConfig reads the configuration file, if any, and applies the command line overrides.
func loadConfig(args *Arguments) (config.Config, error) {
	cfg := config.Default()
	if args.Config != "" {
		var err error
		if cfg, err = config.Load(afero.NewOsFs(), args.Config); err != nil {
			return cfg, err
		}
	}

	if args.Dir != nil {
		cfg.Dir = *args.Dir
	}
	if args.MaxAge != nil {
		cfg.MaxAge = config.Duration(*args.MaxAge)
	}
	if args.MaxSize != nil {
		cfg.MaxSize = *args.MaxSize
	}
	if args.SweepInterval != nil {
		cfg.SweepInterval = config.Duration(*args.SweepInterval)
	}
	if args.FetchWorkers != nil {
		cfg.FetchWorkers = *args.FetchWorkers
	}
	if args.DecodeWorkers != nil {
		cfg.DecodeWorkers = *args.DecodeWorkers
	}

	return cfg, cfg.Validate()
}

func newCache(ctx context.Context, cfg config.Config, m metrics.Metrics) (*cache.Tiered, error) {
	return cache.New(ctx, cache.Options{
		Fs:               afero.NewOsFs(),
		Dir:              cfg.Dir,
		MemoryMaxEntries: cfg.MemoryMaxEntries,
		MemoryMaxCost:    cfg.MemoryMaxCost,
		Metrics:          m,
	})
}

func newEngine(ctx context.Context, cfg config.Config, c *cache.Tiered, m metrics.Metrics) *eviction.Engine {
	return eviction.New(ctx, c.Metadata(), c.Disk(), eviction.Options{
		MaxAge:   time.Duration(cfg.MaxAge),
		MaxSize:  cfg.MaxSize,
		Interval: time.Duration(cfg.SweepInterval),
		Metrics:  m,
	})
}

func newScheduler(ctx context.Context, cfg config.Config, c *cache.Tiered, m metrics.Metrics) *fetch.Scheduler {
	t := remote.NewTransport(nil, time.Duration(cfg.HTTPTimeout), m)
	return fetch.New(ctx, c, t, imaging.Default, fetch.Options{
		FetchWorkers:  cfg.FetchWorkers,
		DecodeWorkers: cfg.DecodeWorkers,
		Metrics:       m,
	})
}

func serverCommand(ctx context.Context, cfg config.Config, args *RunCmd) error {
	l := zerolog.Ctx(ctx)

	reg := prometheus.NewRegistry()
	m := metrics.NewPromMetrics(reg)

	c, err := newCache(ctx, cfg, m)
	if err != nil {
		return err
	}
	defer c.Close()

	engine := newEngine(ctx, cfg, c, m)
	s := newScheduler(ctx, cfg, c, m)
	defer s.Close()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		engine.Run(ctx)
		return nil
	})

	g.Go(func() error {
		c.Metadata().FlushPeriodically(ctx, time.Duration(cfg.FlushInterval))
		return nil
	})

	// Low storage: an operator or the platform asks for an immediate sweep.
	lowStorage := make(chan os.Signal, 1)
	signal.Notify(lowStorage, syscall.SIGUSR1)
	defer signal.Stop(lowStorage)
	g.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-lowStorage:
				l.Info().Msg("sweep requested")
				engine.Trigger()
			}
		}
	})

	httpSrv := &http.Server{
		Addr:    args.HttpAddr,
		Handler: handlers.Handler(ctx, s, engine, m, reg),
	}

	g.Go(func() error {
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	})

	l.Info().Str("http", args.HttpAddr).Str("dir", cfg.Dir).Msg("server start")
	err = g.Wait()
	l.Info().Msg("server shutdown")
	return err
}

func fetchCommand(ctx context.Context, cfg config.Config, args *FetchCmd) error {
	l := zerolog.Ctx(ctx)

	p, err := imagesHandler.ParsePriority(args.Priority)
	if err != nil {
		return err
	}

	m := metrics.NewMemoryMetrics()

	c, err := newCache(ctx, cfg, m)
	if err != nil {
		return err
	}
	defer c.Close()

	s := newScheduler(ctx, cfg, c, m)
	defer s.Close()

	bar := progressbar.Default(int64(len(args.URLs)), "fetching")

	var wg sync.WaitGroup
	report := &fetchReport{log: l}
	for _, u := range args.URLs {
		wg.Add(1)
		s.Request(u, fetch.WithPriority(p), fetch.WithCropSize(args.Width, args.Height), fetch.WithCompletion(func(r fetch.Result) {
			defer wg.Done()
			_ = bar.Add(1)
			report.record(r)
		}))
	}
	wg.Wait()
	_ = bar.Finish()

	if err := m.Report(os.Stdout); err != nil {
		l.Warn().Err(err).Msg("failed to report metrics")
	}

	return report.err()
}

// fetchReport tallies completions of the fetch subcommand. Completions are delivered one at a time.
type fetchReport struct {
	fetched   int
	cancelled int
	failed    int

	log *zerolog.Logger
}

func (fr *fetchReport) record(r fetch.Result) {
	switch {
	case fetch.IsCancelled(r.Err):
		// Superseded by a later request for the same image.
		fr.cancelled++
		fr.log.Debug().Str("url", r.Locator).Str("key", r.Key).Msg("cancelled")
	case r.Err != nil:
		fr.failed++
		fr.log.Error().Err(r.Err).Str("url", r.Locator).Str("key", r.Key).Msg("fetch failed")
	default:
		fr.fetched++
		fr.log.Info().Str("url", r.Locator).Str("key", r.Key).Bool("cached", r.FromCache).Msg("fetched")
	}
}

func (fr *fetchReport) err() error {
	if fr.failed > 0 {
		return fmt.Errorf("%d of %d images failed", fr.failed, fr.fetched+fr.cancelled+fr.failed)
	}
	return nil
}

func sweepCommand(ctx context.Context, cfg config.Config) error {
	m := metrics.NewMemoryMetrics()

	c, err := newCache(ctx, cfg, m)
	if err != nil {
		return err
	}
	defer c.Close()

	engine := newEngine(ctx, cfg, c, m)
	if !engine.Enabled() {
		return errors.New("eviction is disabled, set max age or max size")
	}

	res := engine.Sweep(ctx)
	zerolog.Ctx(ctx).Info().
		Strs("expired", res.Expired).
		Strs("evicted", res.Evicted).
		Int64("freed", res.FreedBytes).
		Int("failures", res.Failures).
		Msg("sweep")

	return m.Report(os.Stdout)
}
