package main

import (
	"context"
	"errors"
	"testing"

	"github.com/azure/webimage/internal/fetch"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestFetchReportIgnoresCancellation(t *testing.T) {
	l := zerolog.Nop()
	fr := &fetchReport{log: &l}

	fr.record(fetch.Result{Key: "a", Locator: "https://example.com/a.png", Err: fetch.ErrCancelled})
	fr.record(fetch.Result{Key: "b", Locator: "https://example.com/b.png", Err: context.Canceled})
	fr.record(fetch.Result{Key: "a", Locator: "https://example.com/a.png"})

	require.Equal(t, 1, fr.fetched)
	require.Equal(t, 2, fr.cancelled)
	require.Equal(t, 0, fr.failed)
	require.NoError(t, fr.err())
}

func TestFetchReportFailures(t *testing.T) {
	l := zerolog.Nop()
	fr := &fetchReport{log: &l}

	fr.record(fetch.Result{Key: "a", Err: errors.New("unexpected status 500")})
	fr.record(fetch.Result{Key: "b", FromCache: true})

	require.Equal(t, 1, fr.failed)
	require.EqualError(t, fr.err(), "1 of 2 images failed")
}
