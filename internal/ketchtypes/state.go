package ketchtypes

import "time"

// TaskState is the persisted lifecycle state (spec.md §3).
type TaskState string

const (
	StatePending     TaskState = "PENDING"
	StateQueued      TaskState = "QUEUED"
	StateDownloading TaskState = "DOWNLOADING"
	StatePaused      TaskState = "PAUSED"
	StateCompleted   TaskState = "COMPLETED"
	StateFailed      TaskState = "FAILED"
	StateCanceled    TaskState = "CANCELED"
)

func (s TaskState) Terminal() bool {
	switch s {
	case StateCompleted, StateFailed, StateCanceled:
		return true
	default:
		return false
	}
}

// Restorable reports whether a task left in this state by a prior process
// can be picked back up on startup (spec.md §3). DOWNLOADING restores as
// PAUSED, which coordinator.Restore handles by remapping after this check
// passes — this just says "yes, restore me".
func (s TaskState) Restorable() bool {
	switch s {
	case StatePending, StateQueued, StateDownloading, StatePaused:
		return true
	default:
		return false
	}
}

// TaskError is the tagged union persisted in TaskRecord.Error.
type TaskError struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// TaskRecord is the persisted row a TaskStore round-trips (spec.md §3, §6).
type TaskRecord struct {
	TaskID            string
	Request           DownloadRequest
	OutputPath        string
	State             TaskState
	TotalBytes        int64 // -1 if unknown
	DownloadedBytes   int64
	AcceptRanges      *bool
	ETag              string
	LastModified      string
	Segments          []Segment // nil if not yet planned
	SourceType        string    // e.g. "http"
	SourceResumeState []byte    // opaque per-source blob
	Error             *TaskError
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Touch bumps UpdatedAt, never letting it go backwards (spec.md invariant 6).
func (r *TaskRecord) Touch(now time.Time) {
	if now.After(r.UpdatedAt) {
		r.UpdatedAt = now
	}
}

// DownloadStateKind tags the non-persisted reactive DownloadState a live
// task publishes on TaskHandle.State.
type DownloadStateKind string

const (
	DSIdle        DownloadStateKind = "IDLE"
	DSScheduled   DownloadStateKind = "SCHEDULED"
	DSQueued      DownloadStateKind = "QUEUED"
	DSPending     DownloadStateKind = "PENDING"
	DSDownloading DownloadStateKind = "DOWNLOADING"
	DSPaused      DownloadStateKind = "PAUSED"
	DSCompleted   DownloadStateKind = "COMPLETED"
	DSFailed      DownloadStateKind = "FAILED"
	DSCanceled    DownloadStateKind = "CANCELED"
)

// Progress is the payload carried by Downloading/Paused states.
type Progress struct {
	Downloaded        int64
	Total             int64 // -1 if unknown
	BytesPerSec       float64
	ActiveConnections int
}

// DownloadState is the reactive variant published per task. Only the
// fields relevant to Kind are meaningful, mirroring the sum type in
// spec.md §3 ("Idle | Scheduled(schedule) | ... | Canceled").
type DownloadState struct {
	Kind     DownloadStateKind
	Schedule Schedule
	Progress Progress
	FilePath string
	Err      error
}

func Idle() DownloadState { return DownloadState{Kind: DSIdle} }
