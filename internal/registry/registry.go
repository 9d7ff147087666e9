// Package registry implements TaskRegistry (spec.md §4.9): the
// process-wide directory of live task handles. It owns the Idle ->
// Scheduled -> Queued portion of the FSM in spec.md §4.6 that sits above
// internal/coordinator (which owns Pending onward): enqueue decides
// whether a fresh request starts Scheduled or Queued, and a background
// poller promotes Scheduled tasks once their schedule fires and their
// conditions are met. Grounded on the teacher's cmd/root.go bootstrap
// (construct the pool, load persisted state, start it) generalized from
// "one global WorkerPool" into "one registry wiring coordinators to a
// scheduler".
package registry

import (
	"context"
	"time"

	"github.com/ketch-dl/ketch/internal/coordinator"
	"github.com/ketch-dl/ketch/internal/ketchtypes"
	"github.com/ketch-dl/ketch/internal/reactive"
	"github.com/ketch-dl/ketch/internal/scheduler"
	"github.com/ketch-dl/ketch/internal/source"
	"github.com/ketch-dl/ketch/internal/store"

	"sync"
)

// Handle is the public per-task surface spec.md §6 describes.
type Handle struct {
	coord *coordinator.Coordinator
}

func (h *Handle) TaskID() string                  { return h.coord.TaskID() }
func (h *Handle) Pause()                          { h.coord.Pause() }
func (h *Handle) Resume()                         { h.coord.Resume() }
func (h *Handle) Cancel()                         { h.coord.Cancel() }
func (h *Handle) SetSpeedLimit(bytesPerSec int64) { h.coord.SetSpeedLimit(bytesPerSec) }
func (h *Handle) SetPriority(p ketchtypes.Priority) {
	h.coord.SetPriority(p)
}
func (h *Handle) Reschedule(s ketchtypes.Schedule, conds []ketchtypes.Condition) {
	h.coord.Reschedule(s, conds)
}
func (h *Handle) Record() ketchtypes.TaskRecord { return h.coord.Record() }

// State returns the reactive state cell (spec.md §6: "handle.state:
// reactive cell of DownloadState").
func (h *Handle) State() *reactive.Cell[ketchtypes.DownloadState] { return h.coord.State }

// Segments returns the reactive segments cell (spec.md §6: "handle.segments:
// reactive cell of [Segment]").
func (h *Handle) Segments() *reactive.Cell[[]ketchtypes.Segment] { return h.coord.Segments }

// Await suspends until the task reaches a terminal state, returning the
// output path on success.
func (h *Handle) Await(ctx context.Context) (string, error) {
	sub := h.coord.State.Subscribe()
	defer sub.Close()
	for {
		select {
		case s := <-sub.C():
			switch s.Kind {
			case ketchtypes.DSCompleted:
				return s.FilePath, nil
			case ketchtypes.DSFailed:
				rec := h.coord.Record()
				if rec.Error != nil {
					return "", &taskFailure{kind: rec.Error.Kind, message: rec.Error.Message}
				}
				return "", &taskFailure{kind: "unknown", message: "task failed"}
			case ketchtypes.DSCanceled:
				return "", &taskFailure{kind: "canceled", message: "task canceled"}
			}
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
}

type taskFailure struct {
	kind    string
	message string
}

func (e *taskFailure) Error() string { return e.kind + ": " + e.message }

// Registry is the process-wide directory.
type Registry struct {
	deps      coordinator.Deps
	scheduler *scheduler.Scheduler
	resolve   func(url string) (source.Source, error)

	mu      sync.Mutex
	handles map[string]*Handle

	ctx    context.Context
	cancel context.CancelFunc
}

// New constructs a Registry. resolve is typically source.Resolve bound
// to a concrete httpengine.Engine.
func New(st store.TaskStore, resolve func(url string) (source.Source, error), deps coordinator.Deps, sched *scheduler.Scheduler) *Registry {
	deps.Store = st
	ctx, cancel := context.WithCancel(context.Background())
	r := &Registry{
		deps:      deps,
		scheduler: sched,
		resolve:   resolve,
		handles:   make(map[string]*Handle),
		ctx:       ctx,
		cancel:    cancel,
	}
	sched.SetAdmitter(r)
	return r
}

// Admit satisfies scheduler.Admitter: called once a task is allowed into
// Downloading.
func (r *Registry) Admit(taskID string) {
	r.mu.Lock()
	h, ok := r.handles[taskID]
	r.mu.Unlock()
	if !ok {
		return
	}
	h.coord.Admit(r.ctx)
}

// Preempt satisfies scheduler.Admitter: pause the victim and let it
// re-enter the queue (spec.md §4.7 preemption).
func (r *Registry) Preempt(taskID string) {
	r.mu.Lock()
	h, ok := r.handles[taskID]
	r.mu.Unlock()
	if !ok {
		return
	}
	h.coord.Pause()
}

// Enqueue implements spec.md §4.9: assigns an id, creates a Pending
// record, and routes it to Scheduled (if gated) or straight to the
// scheduler's queue.
func (r *Registry) Enqueue(req ketchtypes.DownloadRequest) (*Handle, error) {
	src, err := r.resolve(req.URL)
	if err != nil {
		return nil, err
	}
	deps := r.deps
	deps.Source = src
	deps.AdmitDone = func(taskID string) { r.scheduler.NotifyDone(taskID) }
	deps.OnRescheduled = r.onRescheduled

	coord := coordinator.New(deps, req)
	h := &Handle{coord: coord}

	r.mu.Lock()
	r.handles[coord.TaskID()] = h
	r.mu.Unlock()

	record := coord.Record()
	if req.Schedule.Kind != ketchtypes.ScheduleImmediate || len(req.Conditions) > 0 {
		go r.waitThenQueue(h, record.CreatedAt)
	} else {
		r.queueNow(h)
	}
	return h, nil
}

// onRescheduled restarts the Scheduled-gate poller for a task that left
// Downloading via Reschedule, using its (now updated) request.
func (r *Registry) onRescheduled(taskID string) {
	r.mu.Lock()
	h, ok := r.handles[taskID]
	r.mu.Unlock()
	if !ok {
		return
	}
	go r.waitThenQueue(h, time.Now())
}

func (r *Registry) queueNow(h *Handle) {
	record := h.coord.Record()
	r.scheduler.Enqueue(scheduler.Candidate{
		TaskID:    record.TaskID,
		URL:       record.Request.URL,
		Priority:  record.Request.Priority,
		CreatedAt: record.CreatedAt,
	})
}

// waitThenQueue polls the schedule/conditions gate (spec.md §4.6:
// "Scheduled | schedule fires ∧ conditions met | Queued") and then hands
// the task to the scheduler. Polling, not a timer-per-condition, because
// Condition is a plain poll predicate (spec.md §3).
func (r *Registry) waitThenQueue(h *Handle, enqueuedAt time.Time) {
	const pollInterval = 500 * time.Millisecond
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	req := h.coord.Record().Request
	for {
		select {
		case <-r.ctx.Done():
			return
		case <-ticker.C:
			if req.Schedule.Ready(enqueuedAt, time.Now()) && req.ConditionsMet() {
				r.queueNow(h)
				return
			}
		}
	}
}

// Restore implements spec.md §4.9's startup replay: load all persisted
// records, construct a coordinator per restorable one seeded with its
// segments/validators, and push it into the scheduler in its persisted
// state.
func (r *Registry) Restore() error {
	records, err := r.deps.Store.LoadAll()
	if err != nil {
		return err
	}
	for _, record := range records {
		if !record.State.Restorable() {
			continue
		}
		src, err := r.resolve(record.Request.URL)
		if err != nil {
			continue
		}
		deps := r.deps
		deps.Source = src
		deps.AdmitDone = func(taskID string) { r.scheduler.NotifyDone(taskID) }
		deps.OnRescheduled = r.onRescheduled

		coord := coordinator.Restore(deps, record)
		h := &Handle{coord: coord}
		r.mu.Lock()
		r.handles[coord.TaskID()] = h
		r.mu.Unlock()
		r.queueNow(h)
	}
	return nil
}

// Remove cancels a task (if it's actively downloading, waiting for the
// cancellation to land) and deletes its persisted record, evicting the
// handle. Removing an id with no persisted record is a no-op, matching
// the teacher's idempotent rm.
func (r *Registry) Remove(id string) error {
	r.mu.Lock()
	h, ok := r.handles[id]
	r.mu.Unlock()
	if !ok {
		return r.deps.Store.Remove(id)
	}

	r.scheduler.Remove(id)
	if h.coord.State.Get().Kind == ketchtypes.DSDownloading {
		sub := h.coord.State.Subscribe()
		h.coord.Cancel()
	waitTerminal:
		for {
			switch (<-sub.C()).Kind {
			case ketchtypes.DSCanceled, ketchtypes.DSCompleted, ketchtypes.DSFailed:
				break waitTerminal
			}
		}
		sub.Close()
	}

	r.mu.Lock()
	delete(r.handles, id)
	r.mu.Unlock()
	return r.deps.Store.Remove(id)
}

// Get returns the handle for id, if live in this process.
func (r *Registry) Get(id string) (*Handle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.handles[id]
	return h, ok
}

// List returns every live handle.
func (r *Registry) List() []*Handle {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Handle, 0, len(r.handles))
	for _, h := range r.handles {
		out = append(out, h)
	}
	return out
}

// Shutdown stops the registry's background pollers.
func (r *Registry) Shutdown() { r.cancel() }
