package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ketch-dl/ketch/internal/ketcherr"
	"github.com/ketch-dl/ketch/internal/ketchtypes"
)

func openTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ketch.db")
	s, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleRecord(id string) ketchtypes.TaskRecord {
	ranges := true
	now := time.Now().Truncate(time.Millisecond)
	return ketchtypes.TaskRecord{
		TaskID:          id,
		Request:         ketchtypes.DownloadRequest{URL: "https://example.com/f", Connections: 4},
		OutputPath:      "/tmp/f.bin",
		State:           ketchtypes.StateDownloading,
		TotalBytes:      1000,
		DownloadedBytes: 250,
		AcceptRanges:    &ranges,
		ETag:            `"abc"`,
		LastModified:    "Mon, 02 Jan 2006 15:04:05 GMT",
		Segments:        []ketchtypes.Segment{{Index: 0, Start: 0, End: 499}, {Index: 1, Start: 500, End: 999}},
		SourceType:      "http",
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

func TestSQLiteStore_SaveThenLoadRoundTrips(t *testing.T) {
	s := openTestStore(t)
	record := sampleRecord("t1")
	require.NoError(t, s.Save(record))

	got, err := s.Load("t1")
	require.NoError(t, err)
	assert.Equal(t, record.TaskID, got.TaskID)
	assert.Equal(t, record.Request.URL, got.Request.URL)
	assert.Equal(t, record.Request.Connections, got.Request.Connections)
	assert.Equal(t, record.OutputPath, got.OutputPath)
	assert.Equal(t, record.State, got.State)
	assert.Equal(t, record.TotalBytes, got.TotalBytes)
	assert.Equal(t, record.DownloadedBytes, got.DownloadedBytes)
	require.NotNil(t, got.AcceptRanges)
	assert.True(t, *got.AcceptRanges)
	assert.Equal(t, record.ETag, got.ETag)
	assert.Equal(t, record.Segments, got.Segments)
	assert.Equal(t, record.CreatedAt.UnixMilli(), got.CreatedAt.UnixMilli())
}

func TestSQLiteStore_SaveUpsertsOnConflict(t *testing.T) {
	s := openTestStore(t)
	record := sampleRecord("t1")
	require.NoError(t, s.Save(record))

	record.DownloadedBytes = 999
	record.State = ketchtypes.StateCompleted
	require.NoError(t, s.Save(record))

	got, err := s.Load("t1")
	require.NoError(t, err)
	assert.Equal(t, int64(999), got.DownloadedBytes)
	assert.Equal(t, ketchtypes.StateCompleted, got.State)

	all, err := s.LoadAll()
	require.NoError(t, err)
	assert.Len(t, all, 1, "upsert must not create a duplicate row")
}

func TestSQLiteStore_LoadMissingReturnsDiskError(t *testing.T) {
	s := openTestStore(t)
	_, err := s.Load("missing")
	require.Error(t, err)
	assert.Equal(t, ketcherr.Disk, ketcherr.KindOf(err))
}

func TestSQLiteStore_LoadAllReturnsEveryRecord(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.Save(sampleRecord("a")))
	require.NoError(t, s.Save(sampleRecord("b")))

	all, err := s.LoadAll()
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestSQLiteStore_RemoveDeletesRow(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.Save(sampleRecord("gone")))
	require.NoError(t, s.Remove("gone"))

	_, err := s.Load("gone")
	assert.Error(t, err)
}

func TestSQLiteStore_RemoveMissingIsNotAnError(t *testing.T) {
	s := openTestStore(t)
	assert.NoError(t, s.Remove("never-existed"))
}

func TestSQLiteStore_NilAcceptRangesRoundTripsAsNil(t *testing.T) {
	s := openTestStore(t)
	record := sampleRecord("no-ranges")
	record.AcceptRanges = nil
	require.NoError(t, s.Save(record))

	got, err := s.Load("no-ranges")
	require.NoError(t, err)
	assert.Nil(t, got.AcceptRanges)
}

func TestSQLiteStore_PersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ketch.db")
	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.Save(sampleRecord("durable")))
	require.NoError(t, s.Close())

	reopened, err := Open(path)
	require.NoError(t, err)
	defer reopened.Close()

	got, err := reopened.Load("durable")
	require.NoError(t, err)
	assert.Equal(t, "durable", got.TaskID)
}
