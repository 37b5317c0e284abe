// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
package fetch

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/azure/webimage/internal/files"
	"github.com/azure/webimage/internal/files/cache"
	"github.com/azure/webimage/internal/imaging"
	"github.com/azure/webimage/internal/metrics"
	"github.com/azure/webimage/internal/remote"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"
)

var (
	// FetchWorkers is the default number of concurrent downloads.
	FetchWorkers = 60

	// DecodeWorkers is the default number of concurrent decodes.
	DecodeWorkers = 4
)

// Options configures the scheduler.
type Options struct {
	FetchWorkers  int
	DecodeWorkers int

	// Deliverer runs completions. Defaults to a MainQueue owned by the scheduler.
	Deliverer Deliverer

	Metrics metrics.Metrics
}

// Scheduler runs fetch, decode, crop and store pipelines with bounded concurrency.
// A request for a key supersedes any in-flight request for the same key.
type Scheduler struct {
	cache     cache.Cache
	transport remote.Transport
	decoder   imaging.Decoder
	metrics   metrics.Metrics

	queue         *workQueue
	decodeSem     *semaphore.Weighted
	decodePending atomic.Int64

	deliverer Deliverer
	main      *MainQueue

	mu       sync.Mutex
	inflight map[string]*request
	seq      uint64

	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closeOnce sync.Once

	log zerolog.Logger
}

// Request schedules a fetch of locator and returns its cache key.
// Any in-flight request for the same key is cancelled first.
func (s *Scheduler) Request(locator string, opts ...Option) string {
	r := &request{
		id:       uuid.NewString(),
		key:      files.Key(locator),
		locator:  locator,
		priority: PriorityNormal,
		index:    -1,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.ctx, r.cancel = context.WithCancel(s.ctx)

	s.mu.Lock()
	old := s.inflight[r.key]
	s.inflight[r.key] = r
	s.seq++
	r.seq = s.seq
	s.mu.Unlock()

	if old != nil {
		s.log.Debug().Str("key", r.key).Str("id", old.id).Str("by", r.id).Msg("superseded")
		s.cancelRequest(old)
	}

	if !s.queue.push(r) {
		s.complete(r, Result{Err: ErrCancelled}, nil)
		return r.key
	}
	s.metrics.SetQueueDepth(metrics.PoolFetch, s.queue.len())

	s.log.Debug().Str("key", r.key).Str("id", r.id).Int("priority", int(r.priority)).Msg("queued")
	return r.key
}

// Cancel cancels the in-flight request for locator. It returns false if there is none.
func (s *Scheduler) Cancel(locator string) bool {
	return s.CancelKey(files.Key(locator))
}

// CancelKey cancels the in-flight request for key. It returns false if there is none.
func (s *Scheduler) CancelKey(key string) bool {
	s.mu.Lock()
	r := s.inflight[key]
	s.mu.Unlock()

	if r == nil {
		return false
	}
	s.cancelRequest(r)
	return true
}

// QueueDepth returns the number of requests waiting for a fetch worker.
func (s *Scheduler) QueueDepth() int {
	return s.queue.len()
}

// InFlight returns the number of requests that have not completed.
func (s *Scheduler) InFlight() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.inflight)
}

// Close cancels all requests, stops the workers and delivers the remaining completions.
func (s *Scheduler) Close() {
	s.closeOnce.Do(func() {
		s.cancel()
		for _, r := range s.queue.close() {
			s.complete(r, Result{Err: ErrCancelled}, nil)
		}

		s.mu.Lock()
		pending := make([]*request, 0, len(s.inflight))
		for _, r := range s.inflight {
			pending = append(pending, r)
		}
		s.mu.Unlock()

		for _, r := range pending {
			s.cancelRequest(r)
		}

		s.wg.Wait()
		if s.main != nil {
			s.main.Close()
		}
		s.log.Info().Msg("scheduler closed")
	})
}

// cancelRequest aborts r and completes it with ErrCancelled, unless it already completed.
func (s *Scheduler) cancelRequest(r *request) {
	r.cancel()
	if s.queue.remove(r) {
		s.metrics.SetQueueDepth(metrics.PoolFetch, s.queue.len())
	}
	s.complete(r, Result{Err: ErrCancelled}, nil)
}

// complete runs commit and delivers res, at most once per request.
// A failed commit replaces res with the error.
func (s *Scheduler) complete(r *request, res Result, commit func() error) {
	r.lock.Lock()
	defer r.lock.Unlock()

	if r.done {
		return
	}

	if commit != nil {
		if err := commit(); err != nil {
			res = Result{Err: err}
		}
	}
	if res.Err != nil && IsCancelled(res.Err) {
		res = Result{Err: ErrCancelled}
	}
	res.Key = r.key
	res.Locator = r.locator

	r.done = true
	r.cancel()
	s.forget(r)

	l := s.log.Debug()
	if res.Err != nil && !IsCancelled(res.Err) {
		l = s.log.Error().Err(res.Err)
	}
	l.Str("key", r.key).Str("id", r.id).Bool("cached", res.FromCache).Bool("cancelled", IsCancelled(res.Err)).Msg("request complete")

	if r.completion != nil {
		fn := r.completion
		s.deliverer.Deliver(func() { fn(res) })
	}
}

// forget stops tracking r unless a newer request for its key replaced it.
func (s *Scheduler) forget(r *request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inflight[r.key] == r {
		delete(s.inflight, r.key)
	}
}

// fetchWorker serves queued requests until the queue is closed.
func (s *Scheduler) fetchWorker() {
	defer s.wg.Done()
	for {
		r, ok := s.queue.pop()
		if !ok {
			return
		}
		s.metrics.SetQueueDepth(metrics.PoolFetch, s.queue.len())
		s.fetch(r)
	}
}

// fetch serves r from the cache, or downloads it and hands it to the decode pool.
func (s *Scheduler) fetch(r *request) {
	if r.isDone() {
		return
	}

	if a, ok := s.cache.Get(r.ctx, r.key); ok {
		s.complete(r, Result{Artifact: a, FromCache: true}, nil)
		return
	}

	b, err := files.FetchFile(r.ctx, s.transport, r.locator)
	if err != nil {
		s.complete(r, Result{Err: err}, nil)
		return
	}

	s.wg.Add(1)
	s.metrics.SetQueueDepth(metrics.PoolDecode, int(s.decodePending.Add(1)))
	go func() {
		defer s.wg.Done()
		defer func() {
			s.metrics.SetQueueDepth(metrics.PoolDecode, int(s.decodePending.Add(-1)))
		}()

		if err := s.decodeSem.Acquire(r.ctx, 1); err != nil {
			s.complete(r, Result{Err: err}, nil)
			return
		}
		defer s.decodeSem.Release(1)

		s.decode(r, b)
	}()
}

// decode decodes and crops b, then stores and delivers the artifact.
func (s *Scheduler) decode(r *request, b []byte) {
	if r.isDone() {
		return
	}

	a, err := s.decoder.Decode(b)
	if err != nil {
		s.complete(r, Result{Err: err}, nil)
		return
	}

	if !r.crop.IsZero() {
		a = s.decoder.Crop(a, r.crop)
	}

	if r.isDone() {
		return
	}

	s.complete(r, Result{Artifact: a}, func() error {
		return s.cache.Store(r.ctx, r.key, a)
	})
}

// New creates a scheduler and starts its fetch workers. The scheduler stops when ctx is done or Close is called.
func New(ctx context.Context, c cache.Cache, t remote.Transport, d imaging.Decoder, opts Options) *Scheduler {
	if opts.FetchWorkers <= 0 {
		opts.FetchWorkers = FetchWorkers
	}
	if opts.DecodeWorkers <= 0 {
		opts.DecodeWorkers = DecodeWorkers
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.Noop
	}
	if d == nil {
		d = imaging.Default
	}

	s := &Scheduler{
		cache:     c,
		transport: t,
		decoder:   d,
		metrics:   opts.Metrics,
		queue:     newWorkQueue(),
		decodeSem: semaphore.NewWeighted(int64(opts.DecodeWorkers)),
		deliverer: opts.Deliverer,
		inflight:  map[string]*request{},
		log:       zerolog.Ctx(ctx).With().Str("component", "fetch").Logger(),
	}
	s.ctx, s.cancel = context.WithCancel(ctx)

	if s.deliverer == nil {
		s.main = NewMainQueue()
		s.deliverer = s.main
	}

	for i := 0; i < opts.FetchWorkers; i++ {
		s.wg.Add(1)
		go s.fetchWorker()
	}

	go func() {
		<-s.ctx.Done()
		s.Close()
	}()

	s.log.Info().Int("fetchWorkers", opts.FetchWorkers).Int("decodeWorkers", opts.DecodeWorkers).Msg("scheduler started")
	return s
}
