package main

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"testing"

	"github.com/ketch-dl/ketch/internal/coordinator"
	"github.com/ketch-dl/ketch/internal/ketchconfig"
	"github.com/ketch-dl/ketch/internal/ketchtypes"
	"github.com/ketch-dl/ketch/internal/probe"
	"github.com/ketch-dl/ketch/internal/ratelimit"
	"github.com/ketch-dl/ketch/internal/registry"
	"github.com/ketch-dl/ketch/internal/scheduler"
	"github.com/ketch-dl/ketch/internal/source"
	"github.com/ketch-dl/ketch/internal/store"
)

func TestFormatSize(t *testing.T) {
	cases := []struct {
		in   int64
		want string
	}{
		{-1, "?"},
		{0, "0 B"},
		{512, "512 B"},
		{1024, "1.0 KB"},
		{1536, "1.5 KB"},
		{1024 * 1024, "1.0 MB"},
		{1024 * 1024 * 1024, "1.0 GB"},
	}
	for _, c := range cases {
		if got := formatSize(c.in); got != c.want {
			t.Errorf("formatSize(%d) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestShortID(t *testing.T) {
	if got := shortID("abcdefghijkl"); got != "abcdefgh" {
		t.Errorf("shortID long = %q, want %q", got, "abcdefgh")
	}
	if got := shortID("abc"); got != "abc" {
		t.Errorf("shortID short = %q, want %q", got, "abc")
	}
}

type fakeResolveSource struct{ data []byte }

func (s *fakeResolveSource) Kind() source.Kind { return source.KindHTTP }

func (s *fakeResolveSource) Probe(ctx context.Context, rawURL string, headers map[string]string) (probe.Result, error) {
	return probe.Result{ContentLength: int64(len(s.data)), AcceptRanges: true}, nil
}

func (s *fakeResolveSource) Open(ctx context.Context, rawURL string, headers map[string]string, start, end int64) (*http.Response, error) {
	if end < 0 || end >= int64(len(s.data)) {
		end = int64(len(s.data)) - 1
	}
	return &http.Response{StatusCode: http.StatusPartialContent, Body: io.NopCloser(bytes.NewReader(s.data[start : end+1]))}, nil
}

func newTestApp(t *testing.T) {
	t.Helper()
	dir := t.TempDir()
	st := store.NewMemoryStore()
	deps := coordinator.Deps{Config: &ketchconfig.EngineConfig{}, GlobalLimiter: ratelimit.Unlimited(), DefaultDir: dir}
	sched := scheduler.New(&ketchconfig.SchedulerConfig{MaxConcurrentDownloads: 4, MaxConnectionsPerHost: 4}, nil)
	resolve := func(url string) (source.Source, error) {
		return &fakeResolveSource{data: bytes.Repeat([]byte("z"), 16)}, nil
	}
	reg := registry.New(st, resolve, deps, sched)
	t.Cleanup(reg.Shutdown)
	current = &app{st: nil, reg: reg}
	t.Cleanup(func() { current = nil })
}

func TestResolveTaskID_ExactMatch(t *testing.T) {
	newTestApp(t)
	h, err := current.reg.Enqueue(ketchtypes.DownloadRequest{URL: "https://example.com/a", Connections: 1})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	got, err := resolveTaskID(h.TaskID())
	if err != nil {
		t.Fatalf("resolveTaskID: %v", err)
	}
	if got != h.TaskID() {
		t.Errorf("got %q, want %q", got, h.TaskID())
	}
}

func TestResolveTaskID_UniquePrefixMatches(t *testing.T) {
	newTestApp(t)
	h, err := current.reg.Enqueue(ketchtypes.DownloadRequest{URL: "https://example.com/a", Connections: 1})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	prefix := h.TaskID()[:4]
	got, err := resolveTaskID(prefix)
	if err != nil {
		t.Fatalf("resolveTaskID: %v", err)
	}
	if got != h.TaskID() {
		t.Errorf("got %q, want %q", got, h.TaskID())
	}
}

func TestResolveTaskID_NoMatchIsAnError(t *testing.T) {
	newTestApp(t)
	if _, err := resolveTaskID("nonexistent"); err == nil {
		t.Error("expected error for unmatched id, got nil")
	}
}

func TestResolveTaskID_ShortPrefixBelowThresholdIsRejected(t *testing.T) {
	newTestApp(t)
	h, err := current.reg.Enqueue(ketchtypes.DownloadRequest{URL: "https://example.com/a", Connections: 1})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	// Prefixes shorter than 4 chars never match, even if the full id
	// starts with them, guarding against one keystroke matching everything.
	short := h.TaskID()[:2]
	if _, err := resolveTaskID(short); err == nil {
		t.Error("expected error for sub-4-character prefix, got nil")
	}
}
