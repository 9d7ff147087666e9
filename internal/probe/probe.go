// Package probe implements RangeProber (spec.md §4.4): a capability probe
// that tells the planner whether a resource supports byte ranges, how
// big it is, and its resume validators. Grounded on the teacher's
// ProbeServer (internal/engine/probe.go): a Range: bytes=0-0 GET,
// inspecting the status code and Content-Range/Content-Length, with a
// bounded retry loop for network hiccups.
package probe

import (
	"context"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ketch-dl/ketch/internal/ketcherr"
	"github.com/ketch-dl/ketch/internal/ketchconfig"
)

// doer is the subset of httpengine.Engine a prober needs, kept narrow so
// tests can fake it without standing up a real transport.
type doer interface {
	HeadOrRangeProbe(ctx context.Context, url string, headers map[string]string) (*http.Response, error)
}

// Result is the probe outcome spec.md §4.4 defines: contentLength is -1
// when unknown, etag/lastModified are "" when absent or blank.
type Result struct {
	ContentLength int64
	AcceptRanges  bool
	ETag          string
	LastModified  string
}

const probeRetries = 3

// Probe issues the range-capability probe against url, making at most
// probeRetries attempts in total on network-class failures before surfacing a
// terminal NETWORK error (spec.md §4.4).
func Probe(ctx context.Context, engine doer, url string, headers map[string]string) (Result, error) {
	var lastErr error
	for attempt := 0; attempt < probeRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return Result{}, ketcherr.Canceled()
			case <-time.After(time.Duration(attempt) * time.Second):
			}
		}

		probeCtx, cancel := context.WithTimeout(ctx, ketchconfig.ProbeTimeout)
		resp, err := engine.HeadOrRangeProbe(probeCtx, url, headers)
		if err != nil {
			cancel()
			lastErr = err
			continue
		}

		result, err := interpret(resp)
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		cancel()
		if err != nil {
			return Result{}, err
		}
		return result, nil
	}
	return Result{}, ketcherr.NetworkErr(lastErr)
}

func interpret(resp *http.Response) (Result, error) {
	switch resp.StatusCode {
	case http.StatusPartialContent:
		result := Result{ContentLength: -1, AcceptRanges: true}
		if cr := resp.Header.Get("Content-Range"); cr != "" {
			if idx := strings.LastIndex(cr, "/"); idx != -1 {
				sizeStr := cr[idx+1:]
				if sizeStr != "*" {
					if n, perr := strconv.ParseInt(sizeStr, 10, 64); perr == nil {
						result.ContentLength = n
					}
				}
			}
		}
		result.ETag = normalizeValidator(resp.Header.Get("ETag"))
		result.LastModified = normalizeValidator(resp.Header.Get("Last-Modified"))
		return result, nil

	case http.StatusOK:
		result := Result{ContentLength: -1, AcceptRanges: false}
		if cl := resp.Header.Get("Content-Length"); cl != "" {
			if n, perr := strconv.ParseInt(cl, 10, 64); perr == nil {
				result.ContentLength = n
			}
		}
		result.ETag = normalizeValidator(resp.Header.Get("ETag"))
		result.LastModified = normalizeValidator(resp.Header.Get("Last-Modified"))
		return result, nil

	case http.StatusRequestedRangeNotSatisfiable:
		return Result{}, ketcherr.New(ketcherr.Validation, "requested range not satisfiable")

	default:
		return Result{}, ketcherr.HTTPStatus(resp.StatusCode, "unexpected probe status")
	}
}

// normalizeValidator collapses empty/whitespace-only header values to ""
// (spec.md §4.4: "Empty/whitespace etag or last-modified are normalized
// to null").
func normalizeValidator(v string) string {
	return strings.TrimSpace(v)
}
