package registry

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ketch-dl/ketch/internal/coordinator"
	"github.com/ketch-dl/ketch/internal/ketchconfig"
	"github.com/ketch-dl/ketch/internal/ketchtypes"
	"github.com/ketch-dl/ketch/internal/probe"
	"github.com/ketch-dl/ketch/internal/ratelimit"
	"github.com/ketch-dl/ketch/internal/scheduler"
	"github.com/ketch-dl/ketch/internal/source"
	"github.com/ketch-dl/ketch/internal/store"
)

type fakeSource struct{ data []byte }

func (s *fakeSource) Kind() source.Kind { return source.KindHTTP }

func (s *fakeSource) Probe(ctx context.Context, rawURL string, headers map[string]string) (probe.Result, error) {
	return probe.Result{ContentLength: int64(len(s.data)), AcceptRanges: true}, nil
}

func (s *fakeSource) Open(ctx context.Context, rawURL string, headers map[string]string, start, end int64) (*http.Response, error) {
	if end < 0 || end >= int64(len(s.data)) {
		end = int64(len(s.data)) - 1
	}
	return &http.Response{StatusCode: http.StatusPartialContent, Body: io.NopCloser(bytes.NewReader(s.data[start : end+1]))}, nil
}

func newTestRegistry(t *testing.T) (*Registry, string) {
	t.Helper()
	dir := t.TempDir()
	st := store.NewMemoryStore()
	deps := coordinator.Deps{
		Config:        &ketchconfig.EngineConfig{},
		GlobalLimiter: ratelimit.Unlimited(),
		DefaultDir:    dir,
	}
	sched := scheduler.New(&ketchconfig.SchedulerConfig{MaxConcurrentDownloads: 4, MaxConnectionsPerHost: 4, AutoStart: true}, nil)
	resolve := func(url string) (source.Source, error) {
		return &fakeSource{data: bytes.Repeat([]byte("r"), 64)}, nil
	}
	return New(st, resolve, deps, sched), dir
}

func TestRegistry_EnqueueImmediateRunsToCompletion(t *testing.T) {
	r, _ := newTestRegistry(t)
	defer r.Shutdown()

	h, err := r.Enqueue(ketchtypes.DownloadRequest{URL: "https://example.com/f", Connections: 2})
	require.NoError(t, err)

	path, err := h.Await(context.Background())
	require.NoError(t, err)
	assert.NotEmpty(t, path)
}

func TestRegistry_GetReturnsLiveHandle(t *testing.T) {
	r, _ := newTestRegistry(t)
	defer r.Shutdown()

	h, err := r.Enqueue(ketchtypes.DownloadRequest{URL: "https://example.com/f", Connections: 1})
	require.NoError(t, err)

	got, ok := r.Get(h.TaskID())
	require.True(t, ok)
	assert.Equal(t, h, got)

	_, ok = r.Get("does-not-exist")
	assert.False(t, ok)
}

func TestRegistry_ListReturnsEveryHandle(t *testing.T) {
	r, _ := newTestRegistry(t)
	defer r.Shutdown()

	_, err := r.Enqueue(ketchtypes.DownloadRequest{URL: "https://example.com/a", Connections: 1})
	require.NoError(t, err)
	_, err = r.Enqueue(ketchtypes.DownloadRequest{URL: "https://example.com/b", Connections: 1})
	require.NoError(t, err)

	assert.Len(t, r.List(), 2)
}

func TestRegistry_EnqueueWithFutureScheduleStaysGatedUntilReady(t *testing.T) {
	r, _ := newTestRegistry(t)
	defer r.Shutdown()

	h, err := r.Enqueue(ketchtypes.DownloadRequest{
		URL:         "https://example.com/f",
		Connections: 1,
		Schedule:    ketchtypes.Schedule{Kind: ketchtypes.ScheduleAfter, After: 300 * time.Millisecond},
	})
	require.NoError(t, err)

	// Not yet fired: still waiting, not yet downloading/completed.
	time.Sleep(50 * time.Millisecond)
	state := h.State().Get()
	assert.NotEqual(t, ketchtypes.DSCompleted, state.Kind)

	path, err := h.Await(context.Background())
	require.NoError(t, err)
	assert.NotEmpty(t, path)
}

func TestRegistry_RemoveDeletesUnknownIDIsNoop(t *testing.T) {
	r, _ := newTestRegistry(t)
	defer r.Shutdown()
	assert.NoError(t, r.Remove("never-existed"))
}

func TestRegistry_RemoveEvictsHandle(t *testing.T) {
	r, _ := newTestRegistry(t)
	defer r.Shutdown()

	h, err := r.Enqueue(ketchtypes.DownloadRequest{URL: "https://example.com/f", Connections: 1})
	require.NoError(t, err)
	_, err = h.Await(context.Background())
	require.NoError(t, err)

	require.NoError(t, r.Remove(h.TaskID()))
	_, ok := r.Get(h.TaskID())
	assert.False(t, ok)
}

func TestRegistry_RestoreRequeuesPersistedRestorableTasks(t *testing.T) {
	dir := t.TempDir()
	st := store.NewMemoryStore()
	require.NoError(t, st.Save(ketchtypes.TaskRecord{
		TaskID:  "resumed-1",
		Request: ketchtypes.DownloadRequest{URL: "https://example.com/f", Connections: 1},
		State:   ketchtypes.StatePaused,
	}))
	require.NoError(t, st.Save(ketchtypes.TaskRecord{
		TaskID:  "done-1",
		Request: ketchtypes.DownloadRequest{URL: "https://example.com/g", Connections: 1},
		State:   ketchtypes.StateCompleted,
	}))

	deps := coordinator.Deps{Config: &ketchconfig.EngineConfig{}, GlobalLimiter: ratelimit.Unlimited(), DefaultDir: dir}
	sched := scheduler.New(&ketchconfig.SchedulerConfig{MaxConcurrentDownloads: 4, MaxConnectionsPerHost: 4}, nil)
	resolve := func(url string) (source.Source, error) { return &fakeSource{data: bytes.Repeat([]byte("x"), 32)}, nil }
	r := New(st, resolve, deps, sched)
	defer r.Shutdown()

	require.NoError(t, r.Restore())

	_, ok := r.Get("resumed-1")
	assert.True(t, ok)
	_, ok = r.Get("done-1")
	assert.False(t, ok, "terminal tasks should not be restored as live handles")
}
