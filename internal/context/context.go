// Copyright (c) Microsoft Corporation.
// Licensed under the Apache License, Version 2.0.
package context

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Context keys.
const (
	CorrelationIdCtxKey = "correlation_id"
	LocatorCtxKey       = "locator"
	KeyCtxKey           = "key"
	LoggerCtxKey        = "logger"
)

// Request and response headers.
const (
	CorrelationHeaderKey = "X-WebImage-CorrelationId"
	CacheHeaderKey       = "X-WebImage-Cache"
	KeyHeaderKey         = "X-WebImage-Key"
)

// Query parameters.
const (
	LocatorQueryKey  = "url"
	WidthQueryKey    = "w"
	HeightQueryKey   = "h"
	PriorityQueryKey = "priority"
)

// StatusClientClosedRequest is reported for requests that were cancelled before they completed.
const StatusClientClosedRequest = 499

var (
	errNoLocator      = errors.New("no image url")
	errInvalidLocator = errors.New("invalid image url")
)

func FillCorrelationId(c *gin.Context) {
	correlationId := c.Request.Header.Get(CorrelationHeaderKey)
	if correlationId == "" {
		correlationId = uuid.New().String()
	}
	c.Set(CorrelationIdCtxKey, correlationId)
}

// Logger gets the logger with request specific fields.
func Logger(c *gin.Context) zerolog.Logger {
	var l zerolog.Logger
	obj, ok := c.Get(LoggerCtxKey)
	if !ok {
		l = zerolog.Nop()
	} else {
		ctxLog := obj.(*zerolog.Logger)
		l = *ctxLog
	}

	return l.With().Str("correlationid", c.GetString(CorrelationIdCtxKey)).Str("url", c.Request.URL.String()).Str("ip", c.ClientIP()).Logger()
}

// Locator extracts the absolute http(s) url of the requested image from the query.
func Locator(c *gin.Context) (string, error) {
	raw := c.Query(LocatorQueryKey)
	if raw == "" {
		return "", errNoLocator
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %v", errInvalidLocator, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", fmt.Errorf("%w: %v", errInvalidLocator, raw)
	}

	return u.String(), nil
}

// CropSize extracts the requested crop size from the query. Missing values are zero.
func CropSize(c *gin.Context) (int, int, error) {
	w, err := dimension(c, WidthQueryKey)
	if err != nil {
		return 0, 0, err
	}
	h, err := dimension(c, HeightQueryKey)
	if err != nil {
		return 0, 0, err
	}
	return w, h, nil
}

func dimension(c *gin.Context, key string) (int, error) {
	v := c.Query(key)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid %v: %q", key, v)
	}
	return n, nil
}
