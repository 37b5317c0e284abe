// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
package context

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

func newTestContext(t *testing.T, rawQuery string) *gin.Context {
	t.Helper()
	req, err := http.NewRequest("GET", "http://127.0.0.1:5000/images?"+rawQuery, nil)
	if err != nil {
		t.Fatal(err)
	}
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = req
	return c
}

func TestLogger(t *testing.T) {
	c := newTestContext(t, "")

	l := Logger(c)
	if l.Info().Enabled() {
		t.Fatal("expected logger to be disabled")
	}

	testL := zerolog.New(os.Stdout).With().Timestamp().Logger()
	c.Set(LoggerCtxKey, &testL)

	l = Logger(c)
	if !l.Info().Enabled() {
		t.Fatal("expected logger to be enabled")
	}
}

func TestFillCorrelationId(t *testing.T) {
	ctx := newTestContext(t, "")

	FillCorrelationId(ctx)
	cid, ok := ctx.Get(CorrelationIdCtxKey)
	if !ok || cid == "" {
		t.Fatal("expected correlation ID to be set")
	}

	sample := uuid.New().String()

	ctx = newTestContext(t, "")
	ctx.Request.Header.Set(CorrelationHeaderKey, sample)
	FillCorrelationId(ctx)
	cid, ok = ctx.Get(CorrelationIdCtxKey)
	if !ok || cid == "" {
		t.Fatal("expected correlation ID to be set")
	} else if cid != sample {
		t.Errorf("expected: %v, got: %v", sample, cid)
	}
}

func TestLocator(t *testing.T) {
	tcs := []struct {
		name    string
		locator string
		want    string
		wantErr error
	}{
		{name: "https", locator: "https://example.com/a.png?size=large", want: "https://example.com/a.png?size=large"},
		{name: "http", locator: "http://example.com:8080/a.png", want: "http://example.com:8080/a.png"},
		{name: "missing", locator: "", wantErr: errNoLocator},
		{name: "relative", locator: "/a.png", wantErr: errInvalidLocator},
		{name: "file", locator: "file:///etc/passwd", wantErr: errInvalidLocator},
		{name: "no host", locator: "https:///a.png", wantErr: errInvalidLocator},
		{name: "unparseable", locator: "https://exa mple.com/%zz", wantErr: errInvalidLocator},
	}

	for _, tc := range tcs {
		t.Run(tc.name, func(t *testing.T) {
			q := ""
			if tc.locator != "" {
				q = LocatorQueryKey + "=" + url.QueryEscape(tc.locator)
			}
			got, err := Locator(newTestContext(t, q))
			if tc.wantErr != nil {
				if !errors.Is(err, tc.wantErr) {
					t.Fatalf("expected %v, got %v", tc.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if got != tc.want {
				t.Errorf("expected: %v, got: %v", tc.want, got)
			}
		})
	}
}

func TestCropSize(t *testing.T) {
	tcs := []struct {
		query   string
		w, h    int
		wantErr bool
	}{
		{query: "", w: 0, h: 0},
		{query: "w=10&h=20", w: 10, h: 20},
		{query: "w=10", w: 10, h: 0},
		{query: "w=-1&h=2", wantErr: true},
		{query: "w=1&h=abc", wantErr: true},
	}

	for _, tc := range tcs {
		w, h, err := CropSize(newTestContext(t, tc.query))
		if tc.wantErr {
			if err == nil {
				t.Errorf("%q: expected error", tc.query)
			}
			continue
		}
		if err != nil {
			t.Errorf("%q: unexpected error: %v", tc.query, err)
			continue
		}
		if w != tc.w || h != tc.h {
			t.Errorf("%q: expected %vx%v, got %vx%v", tc.query, tc.w, tc.h, w, h)
		}
	}
}
