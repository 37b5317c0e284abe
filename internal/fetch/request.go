// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
package fetch

import (
	"context"
	"errors"
	"sync"

	"github.com/azure/webimage/internal/imaging"
)

// ErrCancelled is the result of a request that was cancelled or superseded by a newer request for the same key.
var ErrCancelled = errors.New("request cancelled")

// IsCancelled reports whether err describes a cancellation rather than a failure.
func IsCancelled(err error) bool {
	return errors.Is(err, ErrCancelled) || errors.Is(err, context.Canceled)
}

// Priority orders queued requests. Higher values are dequeued first.
type Priority int

const (
	PriorityLow    Priority = -1
	PriorityNormal Priority = 0
	PriorityHigh   Priority = 1
)

// Result is delivered to the completion of a request exactly once.
type Result struct {
	Key       string
	Locator   string
	Artifact  *imaging.Artifact
	FromCache bool
	Err       error
}

// Completion receives the result of a request.
type Completion func(Result)

// Option configures a request.
type Option func(*request)

// WithPriority sets the queue priority of the request.
func WithPriority(p Priority) Option {
	return func(r *request) { r.priority = p }
}

// WithCropSize crops the fetched image to w x h before it is stored. A zero size keeps the fetched bytes.
func WithCropSize(w, h int) Option {
	return func(r *request) { r.crop = imaging.Size{Width: w, Height: h} }
}

// WithCompletion sets the function receiving the result.
func WithCompletion(fn Completion) Option {
	return func(r *request) { r.completion = fn }
}

// request is a tracked fetch of one locator.
type request struct {
	id         string
	key        string
	locator    string
	priority   Priority
	crop       imaging.Size
	completion Completion

	// seq orders requests of equal priority; index is the position in the queue, -1 when not queued.
	seq   uint64
	index int

	ctx    context.Context
	cancel context.CancelFunc

	// lock guards done and is held while the result is committed to the cache.
	lock sync.Mutex
	done bool
}

func (r *request) isDone() bool {
	r.lock.Lock()
	defer r.lock.Unlock()
	return r.done
}
