// Package httpengine is the default net/http-backed HttpEngine (spec.md
// §1 treats HttpEngine as an external collaborator; Ketch ships this
// implementation so the rest of the engine has something real to run
// against). Grounded on the teacher's ConcurrentDownloader HTTP client
// setup (internal/engine/concurrent/downloader.go: shared *http.Client,
// http.Transport tuning, Range header construction) and its probe client
// (internal/engine/probe.go).
package httpengine

import (
	"context"
	"fmt"
	"net/http"

	"github.com/ketch-dl/ketch/internal/ketchconfig"
)

// Engine is the HTTP transport every segment fetch and probe goes
// through. A single shared *http.Client with a tuned Transport keeps
// idle connections warm across segments and tasks, same as the teacher.
type Engine struct {
	client    *http.Client
	userAgent string
}

// New builds an Engine with a transport tuned per ketchconfig's defaults,
// matching the teacher's http.Transport construction.
func New(userAgent string) *Engine {
	if userAgent == "" {
		userAgent = ketchconfig.DefaultUserAgent
	}
	transport := &http.Transport{
		MaxIdleConns:          ketchconfig.DefaultMaxIdleConns,
		MaxIdleConnsPerHost:   ketchconfig.PerHostMax,
		IdleConnTimeout:       ketchconfig.DefaultIdleConnTimeout,
		TLSHandshakeTimeout:   ketchconfig.DefaultTLSHandshakeTimeout,
		ExpectContinueTimeout: ketchconfig.DefaultExpectContinueTimeout,
		ResponseHeaderTimeout: ketchconfig.DefaultResponseHeaderTimeout,
	}
	return &Engine{
		client:    &http.Client{Transport: transport},
		userAgent: userAgent,
	}
}

// Do issues req with the engine's shared client after stamping the
// default User-Agent, if the caller didn't already set one.
func (e *Engine) Do(req *http.Request) (*http.Response, error) {
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", e.userAgent)
	}
	return e.client.Do(req)
}

// Get issues a GET for url with extra headers merged in and, when start
// is non-negative, a Range header for [start, end] (end < 0 means
// open-ended: "bytes=start-"). start < 0 sends no Range header.
func (e *Engine) Get(ctx context.Context, url string, headers map[string]string, start, end int64) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	if start >= 0 {
		if end >= 0 {
			req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", start, end))
		} else {
			req.Header.Set("Range", fmt.Sprintf("bytes=%d-", start))
		}
	}
	return e.Do(req)
}

// HeadOrRangeProbe issues the minimal-cost GET the teacher's ProbeServer
// uses (Range: bytes=0-0) rather than a HEAD, since many servers answer
// HEAD incorrectly or not at all. The caller owns ctx's lifetime and
// deadline (see internal/probe) — the response body must still be
// readable by the caller after this returns, so no timeout is applied or
// canceled here.
func (e *Engine) HeadOrRangeProbe(ctx context.Context, url string, headers map[string]string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	req.Header.Set("Range", "bytes=0-0")
	return e.Do(req)
}
