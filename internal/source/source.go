// Package source implements the polymorphic download-source variant
// spec.md §9 describes: a strategy interface claimed by predicate, one
// fixed tagged variant per protocol, first-match resolution. Http is
// grounded on the teacher, which is HTTP-only end to end
// (internal/engine/concurrent/downloader.go, internal/engine/probe.go);
// Ftp and Torrent have no teacher or pack grounding for a real client,
// so they report UNSUPPORTED per spec.md §1's "not a peer-to-peer
// protocol" non-goal rather than fabricating one.
package source

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/ketch-dl/ketch/internal/ketcherr"
	"github.com/ketch-dl/ketch/internal/probe"
)

// Kind tags which variant claimed a URL.
type Kind string

const (
	KindHTTP    Kind = "http"
	KindFTP     Kind = "ftp"
	KindTorrent Kind = "torrent"
)

// Engine is what a Source needs to actually move bytes: probing and
// ranged reads. internal/httpengine.Engine satisfies this for Http.
type Engine interface {
	Get(ctx context.Context, url string, headers map[string]string, start, end int64) (*http.Response, error)
	HeadOrRangeProbe(ctx context.Context, url string, headers map[string]string) (*http.Response, error)
}

// Source is one resolved protocol handler for a URL.
type Source interface {
	Kind() Kind
	// Probe returns the resource's capability metadata (spec.md §4.4).
	Probe(ctx context.Context, rawURL string, headers map[string]string) (probe.Result, error)
	// Open issues a ranged read for [start, end] (end < 0: open-ended)
	// and returns the response body to stream from.
	Open(ctx context.Context, rawURL string, headers map[string]string, start, end int64) (*http.Response, error)
}

// candidate is one entry in the canHandle resolver chain.
type candidate struct {
	kind      Kind
	canHandle func(*url.URL) bool
	build     func(Engine) Source
}

var chain = []candidate{
	{
		kind:      KindHTTP,
		canHandle: func(u *url.URL) bool { return u.Scheme == "http" || u.Scheme == "https" },
		build:     func(e Engine) Source { return &httpSource{engine: e} },
	},
	{
		kind:      KindFTP,
		canHandle: func(u *url.URL) bool { return u.Scheme == "ftp" || u.Scheme == "ftps" },
		build:     func(Engine) Source { return unsupportedSource{kind: KindFTP} },
	},
	{
		kind: KindTorrent,
		canHandle: func(u *url.URL) bool {
			return u.Scheme == "magnet" || strings.HasSuffix(strings.ToLower(u.Path), ".torrent")
		},
		build: func(Engine) Source { return unsupportedSource{kind: KindTorrent} },
	},
}

// Resolve walks the canHandle chain in order and returns the first match,
// built against engine. An unrecognized scheme is itself UNSUPPORTED, not
// a parse error (spec.md §9: "unknown schemes yield UNSUPPORTED").
func Resolve(rawURL string, engine Engine) (Source, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, ketcherr.ValidationErr("invalid URL: " + err.Error())
	}
	for _, c := range chain {
		if c.canHandle(u) {
			return c.build(engine), nil
		}
	}
	return unsupportedSource{kind: ""}, nil
}

// httpSource is the default, fully-implemented variant.
type httpSource struct {
	engine Engine
}

func (s *httpSource) Kind() Kind { return KindHTTP }

func (s *httpSource) Probe(ctx context.Context, rawURL string, headers map[string]string) (probe.Result, error) {
	return probe.Probe(ctx, s.engine, rawURL, headers)
}

func (s *httpSource) Open(ctx context.Context, rawURL string, headers map[string]string, start, end int64) (*http.Response, error) {
	return s.engine.Get(ctx, rawURL, headers, start, end)
}

// unsupportedSource is the terminal variant for protocols Ketch
// recognizes but does not implement a client for.
type unsupportedSource struct {
	kind Kind
}

func (s unsupportedSource) Kind() Kind { return s.kind }

func (s unsupportedSource) Probe(context.Context, string, map[string]string) (probe.Result, error) {
	return probe.Result{}, ketcherr.UnsupportedErr(unsupportedMessage(s.kind))
}

func (s unsupportedSource) Open(context.Context, string, map[string]string, int64, int64) (*http.Response, error) {
	return nil, ketcherr.UnsupportedErr(unsupportedMessage(s.kind))
}

func unsupportedMessage(kind Kind) string {
	if kind == "" {
		return "no source handles this URL scheme"
	}
	return string(kind) + " sources are not implemented"
}
