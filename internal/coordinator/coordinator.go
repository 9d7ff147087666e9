// Package coordinator implements TaskCoordinator (spec.md §4.6): the
// per-task state machine driving one DownloadRequest from Idle through
// to a terminal state, owning retry/backoff, validator-mismatch restart,
// and the reactive state/segments cells a TaskHandle exposes. Grounded
// on the teacher's ConcurrentDownloader.Download top-level control flow
// (internal/engine/concurrent/downloader.go: probe -> plan -> download
// loop -> finalize) generalized into an explicit state machine, since
// the teacher has no separate coordinator type — Download both plans and
// drives the fetch inline.
package coordinator

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ketch-dl/ketch/internal/destination"
	"github.com/ketch-dl/ketch/internal/fetch"
	"github.com/ketch-dl/ketch/internal/filewriter"
	"github.com/ketch-dl/ketch/internal/ketcherr"
	"github.com/ketch-dl/ketch/internal/ketchconfig"
	"github.com/ketch-dl/ketch/internal/ketchtypes"
	"github.com/ketch-dl/ketch/internal/probe"
	"github.com/ketch-dl/ketch/internal/ratelimit"
	"github.com/ketch-dl/ketch/internal/reactive"
	"github.com/ketch-dl/ketch/internal/segment"
	"github.com/ketch-dl/ketch/internal/source"
	"github.com/ketch-dl/ketch/internal/store"
)

// Deps are the collaborators a Coordinator needs that live outside it.
type Deps struct {
	Store         store.TaskStore
	Source        source.Source
	Config        *ketchconfig.EngineConfig
	GlobalLimiter *ratelimit.Limiter
	DefaultDir    string
	// AdmitDone is called when this task leaves Downloading, so the
	// scheduler can admit the next candidate (spec.md §4.7).
	AdmitDone func(taskID string)
	// OnRescheduled is called in addition to AdmitDone when
	// the task left Downloading via Reschedule, so the registry can
	// start polling the new schedule/conditions instead of leaving the
	// task sitting paused forever.
	OnRescheduled func(taskID string)
}

// Coordinator drives one task's lifecycle. State transitions of record
// happen on its own goroutine (run); public methods send commands over cmdCh,
// matching spec.md §5's "event loop awaits either a command or the
// fetcher's completion" suspension model. onFetchProgress runs on the
// fetcher's own goroutines and writes record's progress fields and
// retryCount, so both are guarded by mu.
type Coordinator struct {
	deps Deps

	mu     sync.Mutex
	record ketchtypes.TaskRecord

	State       *reactive.Cell[ketchtypes.DownloadState]
	Segments    *reactive.Cell[[]ketchtypes.Segment]
	Connections *reactive.Cell[int]

	taskLimiter *ratelimit.Limiter

	cmdCh chan command
	// doneCh is non-nil only while run() is active; it is recreated on
	// each Admit and closed exactly once when that run() exits, so a
	// Coordinator can be paused/resumed/rescheduled across many runs
	// without double-closing a channel. send() treats a nil doneCh as
	// "nothing is listening right now" and drops the command.
	doneCh chan struct{}

	retryCount int
}

type commandKind int

const (
	cmdPause commandKind = iota
	cmdResume
	cmdCancel
	cmdReschedule
	cmdSetSpeedLimit
	cmdSetPriority
)

type command struct {
	kind       commandKind
	schedule   ketchtypes.Schedule
	conditions []ketchtypes.Condition
	bytesPerSec int64
	priority   ketchtypes.Priority
}

// New constructs a Coordinator for a fresh request in the Idle state.
func New(deps Deps, req ketchtypes.DownloadRequest) *Coordinator {
	req = req.Normalized()
	now := time.Now()
	record := ketchtypes.TaskRecord{
		TaskID:     uuid.New().String(),
		Request:    req,
		State:      ketchtypes.StatePending,
		TotalBytes: -1,
		SourceType: "http",
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	return newFromRecord(deps, record)
}

// Restore rebuilds a Coordinator from a persisted record (spec.md §4.9),
// remapping DOWNLOADING to PAUSED since no fetch was actually in flight
// when the process last exited.
func Restore(deps Deps, record ketchtypes.TaskRecord) *Coordinator {
	if record.State == ketchtypes.StateDownloading {
		record.State = ketchtypes.StatePaused
	}
	return newFromRecord(deps, record)
}

func newFromRecord(deps Deps, record ketchtypes.TaskRecord) *Coordinator {
	c := &Coordinator{
		deps:        deps,
		record:      record,
		State:       reactive.NewCell(stateFromRecord(record)),
		Segments:    reactive.NewCell(record.Segments),
		Connections: reactive.NewCell(record.Request.Connections),
		taskLimiter: limiterFor(record.Request.SpeedLimit),
		cmdCh:       make(chan command, 4),
	}
	return c
}

func limiterFor(limit ketchtypes.SpeedLimit) *ratelimit.Limiter {
	if limit.IsUnlimited() {
		return ratelimit.Unlimited()
	}
	return ratelimit.New(limit.BytesPerSec)
}

func stateFromRecord(r ketchtypes.TaskRecord) ketchtypes.DownloadState {
	switch r.State {
	case ketchtypes.StatePending, ketchtypes.StateQueued:
		return ketchtypes.DownloadState{Kind: ketchtypes.DSQueued}
	case ketchtypes.StateDownloading:
		return ketchtypes.DownloadState{Kind: ketchtypes.DSDownloading, Progress: progressOf(r)}
	case ketchtypes.StatePaused:
		return ketchtypes.DownloadState{Kind: ketchtypes.DSPaused, Progress: progressOf(r)}
	case ketchtypes.StateCompleted:
		return ketchtypes.DownloadState{Kind: ketchtypes.DSCompleted, FilePath: r.OutputPath}
	case ketchtypes.StateFailed:
		return ketchtypes.DownloadState{Kind: ketchtypes.DSFailed}
	case ketchtypes.StateCanceled:
		return ketchtypes.DownloadState{Kind: ketchtypes.DSCanceled}
	default:
		return ketchtypes.Idle()
	}
}

func progressOf(r ketchtypes.TaskRecord) ketchtypes.Progress {
	return ketchtypes.Progress{Downloaded: r.DownloadedBytes, Total: r.TotalBytes}
}

// TaskID returns the coordinator's task id.
func (c *Coordinator) TaskID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.record.TaskID
}

// Record returns a snapshot of the persisted record.
func (c *Coordinator) Record() ketchtypes.TaskRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.record
}

// Pause, Resume, Cancel, Reschedule, SetSpeedLimit and SetPriority are
// the public command surface (spec.md §6 handle.*). They're
// fire-and-forget: the event loop processes them in order.
func (c *Coordinator) Pause()    { c.send(command{kind: cmdPause}) }
func (c *Coordinator) Resume()   { c.send(command{kind: cmdResume}) }
func (c *Coordinator) Cancel()   { c.send(command{kind: cmdCancel}) }
func (c *Coordinator) Reschedule(s ketchtypes.Schedule, conds []ketchtypes.Condition) {
	c.send(command{kind: cmdReschedule, schedule: s, conditions: conds})
}
func (c *Coordinator) SetSpeedLimit(bytesPerSec int64) {
	c.send(command{kind: cmdSetSpeedLimit, bytesPerSec: bytesPerSec})
}
func (c *Coordinator) SetPriority(p ketchtypes.Priority) {
	c.send(command{kind: cmdSetPriority, priority: p})
}

// send drops cmd if no run() is currently listening (doneCh nil) —
// pausing an already-paused task, for instance, is a no-op rather than a
// leaked buffered command a future run would pick up out of context.
func (c *Coordinator) send(cmd command) {
	c.mu.Lock()
	done := c.doneCh
	c.mu.Unlock()
	if done == nil {
		return
	}
	select {
	case c.cmdCh <- cmd:
	case <-done:
	}
}

// Admit is called by the scheduler once this task is allowed to run
// (Queued -> Pending -> Downloading). Safe to call again after a prior
// run() has exited (pause/resume, reschedule).
func (c *Coordinator) Admit(ctx context.Context) {
	c.mu.Lock()
	c.doneCh = make(chan struct{})
	c.mu.Unlock()
	go c.run(ctx)
}

// run is the coordinator's single-goroutine-per-attempt event loop. It
// makes every state transition of c.record; the only other writer is
// onFetchProgress, which updates progress under mu.
func (c *Coordinator) run(parent context.Context) {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	c.setRecordState(ketchtypes.StateDownloading)
	c.publish(ketchtypes.DownloadState{Kind: ketchtypes.DSDownloading, Progress: c.progressSnapshot()})

	cmdDuringRun := make(chan command, 1)
	go func() {
		for {
			select {
			case cmd := <-c.cmdCh:
				select {
				case cmdDuringRun <- cmd:
				case <-ctx.Done():
					return
				}
				if cmd.kind == cmdPause || cmd.kind == cmdCancel {
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		err := c.attempt(ctx, cmdDuringRun)
		if err == nil {
			c.finish(ketchtypes.StateCompleted)
			return
		}
		if err == errPaused {
			c.finish(ketchtypes.StatePaused)
			return
		}
		if err == errCanceled {
			c.finish(ketchtypes.StateCanceled)
			return
		}
		if err == errRescheduled {
			c.finishRescheduled()
			return
		}

		c.mu.Lock()
		retryCount := c.retryCount
		c.mu.Unlock()

		if ketcherr.Retryable(err) && retryCount < c.deps.Config.GetMaxTaskRetries() {
			c.mu.Lock()
			c.retryCount++
			retryCount = c.retryCount
			c.mu.Unlock()
			delay := backoff(retryCount)
			select {
			case <-time.After(delay):
				continue
			case <-ctx.Done():
				c.finish(ketchtypes.StateCanceled)
				return
			}
		}

		c.setRecordErr(err)
		c.finish(ketchtypes.StateFailed)
		return
	}
}

var errPaused = ketcherr.New(ketcherr.Canceled, "paused")
var errCanceled = ketcherr.Canceled()
var errRescheduled = ketcherr.New(ketcherr.Canceled, "rescheduled")

// backoff implements spec.md §4.6: retryDelayMs * 2^attempt, capped at
// 30s, with +/-20% jitter.
func backoff(attempt int) time.Duration {
	base := ketchconfig.RetryBaseDelay
	delay := base << attempt
	if delay > ketchconfig.MaxRetryDelay || delay <= 0 {
		delay = ketchconfig.MaxRetryDelay
	}
	jitter := time.Duration(float64(delay) * (rand.Float64()*0.4 - 0.2))
	return delay + jitter
}

// attempt probes (validating against the persisted record on resume),
// plans segments if needed, and fetches to completion or until paused/
// canceled/erred.
func (c *Coordinator) attempt(ctx context.Context, cmds <-chan command) error {
	record := c.Record()

	probeResult, err := c.deps.Source.Probe(ctx, record.Request.URL, record.Request.Headers)
	if err != nil {
		return err
	}

	restart := validatorMismatch(record, probeResult)
	if restart || record.Segments == nil {
		record = c.planFresh(record, probeResult)
	} else if !probeResult.AcceptRanges && record.AcceptRanges != nil && *record.AcceptRanges {
		record = c.planFresh(record, probeResult)
	}

	writer, err := filewriter.Open(record.OutputPath, record.TotalBytes)
	if err != nil {
		return err
	}
	defer writer.Close()
	if restart {
		if err := writer.Truncate(record.TotalBytes); err != nil {
			return err
		}
	}

	f := &fetch.Fetcher{
		Source:  c.deps.Source,
		Writer:  writer,
		URL:     record.Request.URL,
		Headers: record.Request.Headers,
		Limiter: ratelimit.Composite{Global: c.deps.GlobalLimiter, Task: c.taskLimiter},
		Config:  c.deps.Config,
		OnProgress: func(segments []ketchtypes.Segment) {
			c.onFetchProgress(segments)
		},
	}

	errCh := make(chan error, 1)
	fetchCtx, cancelFetch := context.WithCancel(ctx)
	defer cancelFetch()
	go func() { errCh <- fetch.Run(fetchCtx, f, record.Segments, c.Connections) }()

	for {
		select {
		case err := <-errCh:
			if err != nil {
				return err
			}
			if verr := c.finalize(writer); verr != nil {
				return verr
			}
			return nil
		case cmd := <-cmds:
			switch cmd.kind {
			case cmdPause:
				cancelFetch()
				<-errCh
				c.snapshotProgress()
				writer.Flush()
				return errPaused
			case cmdCancel:
				cancelFetch()
				<-errCh
				writer.Delete()
				return errCanceled
			case cmdSetSpeedLimit:
				c.taskLimiter.SetLimit(cmd.bytesPerSec)
			case cmdSetPriority:
				// Priority lives on the request; the scheduler reads it
				// at enqueue/requeue time, so record it there.
				c.mu.Lock()
				c.record.Request.Priority = cmd.priority
				c.mu.Unlock()
			case cmdReschedule:
				cancelFetch()
				<-errCh
				c.snapshotProgress()
				writer.Flush()
				c.setRequestSchedule(cmd.schedule, cmd.conditions)
				return errRescheduled
			}
		}
	}
}

// planFresh probes-derived metadata into a new segment plan, restarting
// from byte 0 when validators moved (spec.md §4.6).
func (c *Coordinator) planFresh(record ketchtypes.TaskRecord, p probe.Result) ketchtypes.TaskRecord {
	record.TotalBytes = p.ContentLength
	ar := p.AcceptRanges
	record.AcceptRanges = &ar
	record.ETag = p.ETag
	record.LastModified = p.LastModified

	if record.OutputPath == "" {
		name := destination.SuggestName(record.Request.URL, nil, nil)
		record.OutputPath = destination.Resolve(record.Request.Destination, name, c.deps.DefaultDir)
	}

	k := record.Request.Connections
	if !p.AcceptRanges || p.ContentLength < 0 {
		record.Segments = segment.SingleSegment(p.ContentLength)
	} else {
		record.Segments = segment.Plan(p.ContentLength, k)
	}
	record.DownloadedBytes = 0

	c.mu.Lock()
	c.record = record
	c.mu.Unlock()
	c.Segments.Set(record.Segments)
	c.persist()
	return record
}

// validatorMismatch implements spec.md §4.6's validator policy.
func validatorMismatch(record ketchtypes.TaskRecord, p probe.Result) bool {
	if record.Segments == nil {
		return false
	}
	if record.ETag != "" && p.ETag != "" && record.ETag != p.ETag {
		return true
	}
	if record.LastModified != "" && p.LastModified != "" && record.LastModified != p.LastModified {
		return true
	}
	if record.TotalBytes >= 0 && p.ContentLength >= 0 && record.TotalBytes != p.ContentLength {
		return true
	}
	return false
}

func (c *Coordinator) onFetchProgress(segments []ketchtypes.Segment) {
	var downloaded int64
	for _, s := range segments {
		downloaded += s.DownloadedBytes
	}
	c.mu.Lock()
	if downloaded > c.record.DownloadedBytes {
		// retryCount bounds attempts per unit of progress, not per task
		// overall (spec.md §4.6): any forward progress resets it, so a
		// long download with occasional transient errors doesn't exhaust
		// its retry budget and fail despite continuously advancing.
		c.retryCount = 0
	}
	c.record.DownloadedBytes = downloaded
	total := c.record.TotalBytes
	c.mu.Unlock()
	// Snapshot before publishing: fetch.runBatch's goroutines keep writing
	// into this same backing array after we return, and Segments is a
	// reactive cell subscribers read from other goroutines.
	snapshot := make([]ketchtypes.Segment, len(segments))
	copy(snapshot, segments)
	c.Segments.Set(snapshot)
	c.publish(ketchtypes.DownloadState{
		Kind:     ketchtypes.DSDownloading,
		Progress: ketchtypes.Progress{Downloaded: downloaded, Total: total},
	})
}

func (c *Coordinator) snapshotProgress() {
	segments := c.Segments.Get()
	c.mu.Lock()
	c.record.Segments = segments
	c.mu.Unlock()
	c.persist()
}

func (c *Coordinator) finalize(writer *filewriter.Writer) error {
	record := c.Record()
	var total int64
	for _, s := range record.Segments {
		total += s.DownloadedBytes
	}
	if record.TotalBytes >= 0 && total != record.TotalBytes {
		return ketcherr.New(ketcherr.Validation, "segment total mismatch on completion")
	}
	return writer.Finalize()
}

func (c *Coordinator) setRecordState(s ketchtypes.TaskState) {
	c.mu.Lock()
	c.record.State = s
	c.record.Touch(time.Now())
	c.mu.Unlock()
	c.persist()
}

func (c *Coordinator) setRecordErr(err error) {
	c.mu.Lock()
	c.record.Error = &ketchtypes.TaskError{Kind: string(ketcherr.KindOf(err)), Message: err.Error()}
	c.mu.Unlock()
}

// setRequestSchedule applies a Reschedule command's new schedule and
// conditions to the request before the record is persisted (spec.md:
// "reschedule(schedule, conditions) -> Scheduled, pauses first to
// preserve progress").
func (c *Coordinator) setRequestSchedule(s ketchtypes.Schedule, conds []ketchtypes.Condition) {
	c.mu.Lock()
	c.record.Request.Schedule = s
	c.record.Request.Conditions = conds
	c.mu.Unlock()
}

func (c *Coordinator) persist() {
	if c.deps.Store == nil {
		return
	}
	c.deps.Store.Save(c.Record())
}

func (c *Coordinator) publish(s ketchtypes.DownloadState) {
	c.State.Set(s)
}

func (c *Coordinator) progressSnapshot() ketchtypes.Progress {
	r := c.Record()
	return progressOf(r)
}

func (c *Coordinator) finish(state ketchtypes.TaskState) {
	c.setRecordState(state)
	switch state {
	case ketchtypes.StateCompleted:
		c.publish(ketchtypes.DownloadState{Kind: ketchtypes.DSCompleted, FilePath: c.Record().OutputPath})
	case ketchtypes.StatePaused:
		c.publish(ketchtypes.DownloadState{Kind: ketchtypes.DSPaused, Progress: c.progressSnapshot()})
	case ketchtypes.StateCanceled:
		c.publish(ketchtypes.DownloadState{Kind: ketchtypes.DSCanceled})
	case ketchtypes.StateFailed:
		c.publish(ketchtypes.DownloadState{Kind: ketchtypes.DSFailed})
	}
	c.closeDone()
	if c.deps.AdmitDone != nil {
		c.deps.AdmitDone(c.record.TaskID)
	}
}

// finishRescheduled persists Paused (so a crash mid-wait still restores
// correctly) but publishes DSScheduled with the new schedule, and tells
// the registry to start polling the new schedule/conditions instead of
// treating this departure as a plain pause.
func (c *Coordinator) finishRescheduled() {
	c.setRecordState(ketchtypes.StatePaused)
	record := c.Record()
	c.publish(ketchtypes.DownloadState{
		Kind:     ketchtypes.DSScheduled,
		Schedule: record.Request.Schedule,
		Progress: progressOf(record),
	})
	c.closeDone()
	if c.deps.AdmitDone != nil {
		c.deps.AdmitDone(record.TaskID)
	}
	if c.deps.OnRescheduled != nil {
		c.deps.OnRescheduled(record.TaskID)
	}
}

// closeDone closes the current run's doneCh exactly once and clears it,
// so a later Admit can safely install a fresh one.
func (c *Coordinator) closeDone() {
	c.mu.Lock()
	done := c.doneCh
	c.doneCh = nil
	c.mu.Unlock()
	if done != nil {
		close(done)
	}
}
