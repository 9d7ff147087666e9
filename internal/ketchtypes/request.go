// Package ketchtypes holds the engine's data model: the immutable request a
// caller submits, the persisted task record, segments, and the reactive
// state variants a live task publishes. None of it knows how to fetch
// bytes; internal/coordinator, internal/fetch and internal/store do that.
package ketchtypes

import "time"

// Priority orders admission among queued tasks (spec.md §4.7).
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
	PriorityUrgent
)

func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "LOW"
	case PriorityNormal:
		return "NORMAL"
	case PriorityHigh:
		return "HIGH"
	case PriorityUrgent:
		return "URGENT"
	default:
		return "NORMAL"
	}
}

// ScheduleKind tags how a DownloadRequest's Schedule should be interpreted.
type ScheduleKind int

const (
	ScheduleImmediate ScheduleKind = iota
	ScheduleAt
	ScheduleAfter
)

// Schedule gates when a Scheduled task becomes eligible to be Queued.
// At is used when Kind == ScheduleAt, After when Kind == ScheduleAfter.
type Schedule struct {
	Kind  ScheduleKind
	At    time.Time
	After time.Duration
}

// Immediate is the zero-value, always-eligible schedule.
var Immediate = Schedule{Kind: ScheduleImmediate}

// Ready reports whether the schedule has fired as of now, given the
// instant the owning task was enqueued (needed for ScheduleAfter).
func (s Schedule) Ready(enqueuedAt, now time.Time) bool {
	switch s.Kind {
	case ScheduleImmediate:
		return true
	case ScheduleAt:
		return !now.Before(s.At)
	case ScheduleAfter:
		return !now.Before(enqueuedAt.Add(s.After))
	default:
		return true
	}
}

// Condition is a lazy boolean stream: it's polled, not pushed. All
// conditions on a request must be true for the Scheduled -> Queued
// transition to fire, in addition to the schedule itself.
type Condition func() bool

// SpeedLimit expresses DownloadRequest.speedLimit: either Unlimited or a
// positive bytes-per-second cap.
type SpeedLimit struct {
	BytesPerSec int64 // 0 means Unlimited
}

var Unlimited = SpeedLimit{}

func (s SpeedLimit) IsUnlimited() bool { return s.BytesPerSec <= 0 }

// DownloadRequest is the immutable input to TaskRegistry.Enqueue.
type DownloadRequest struct {
	URL         string
	Destination string // directory, full file path, or bare file name
	Connections int
	Headers     map[string]string // case-insensitive keys; order irrelevant
	Priority    Priority
	SpeedLimit  SpeedLimit
	Schedule    Schedule
	// Conditions are in-process predicates and cannot be serialized;
	// excluded from persistence (spec.md §4.8 persists everything a
	// TaskStore round-trips except this — a restored task resumes with
	// no conditions gating it, matching "conditions are a live-process
	// concept, not restorable state").
	Conditions []Condition `json:"-"`
}

// Normalized returns a copy with defaults applied: at least one connection,
// a header map that is never nil.
func (r DownloadRequest) Normalized() DownloadRequest {
	if r.Connections < 1 {
		r.Connections = 1
	}
	if r.Headers == nil {
		r.Headers = map[string]string{}
	}
	return r
}

// ConditionsMet polls every condition; an empty list is vacuously true.
func (r DownloadRequest) ConditionsMet() bool {
	for _, c := range r.Conditions {
		if c == nil {
			continue
		}
		if !c() {
			return false
		}
	}
	return true
}
