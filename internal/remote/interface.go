// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
package remote

import (
	"context"
	"errors"
	"net/http"
)

// Transport fetches the raw bytes of a remote resource.
type Transport interface {
	// Fetch downloads the resource at locator. Cancelling ctx aborts the request.
	Fetch(ctx context.Context, locator string) ([]byte, error)
}

// Error describes an error that occurred during a remote operation.
// Response is nil if no response was received.
type Error struct {
	*http.Response
	error
}

// Unwrap returns the underlying error.
func (e Error) Unwrap() error {
	return e.error
}

// Code returns the status code of the response, or 0 if there was none.
func (e Error) Code() int {
	if e.Response == nil {
		return 0
	}
	return e.Response.StatusCode
}

// IsCancelled reports whether err is the result of an aborted fetch.
func IsCancelled(err error) bool {
	return errors.Is(err, context.Canceled)
}
