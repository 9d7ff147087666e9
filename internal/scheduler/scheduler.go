// Package scheduler implements QueueScheduler (spec.md §4.7): admits
// Queued tasks into Downloading under a global concurrency cap, a
// per-host concurrency cap, and URGENT priority preemption. Grounded on
// the teacher's WorkerPool (internal/download/pool.go: mutex-protected
// struct, active/queued maps, wake-on-completion) for the overall shape,
// and on project-tachyon's SmartScheduler
// (internal/queue/scheduler.go: GetNextTask's "scan candidates for the
// first runnable one, respecting host limits, instead of strict FIFO")
// for the admission-order and host-limit logic spec.md §4.7 needs that
// the teacher's single global cap doesn't have.
package scheduler

import (
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ketch-dl/ketch/internal/ketchconfig"
	"github.com/ketch-dl/ketch/internal/ketchtypes"
)

// Candidate is one task waiting for admission.
type Candidate struct {
	TaskID    string
	URL       string
	Priority  ketchtypes.Priority
	CreatedAt time.Time
}

// running tracks one admitted task for preemption/host-accounting.
type running struct {
	taskID   string
	host     string
	priority ketchtypes.Priority
}

// Admitter is called with the taskID the scheduler decided to admit or
// preempt. Admit starts a task; Preempt must pause it (progress
// preserved) and return it to Queued — the scheduler only tracks
// bookkeeping, it does not itself touch a coordinator.
type Admitter interface {
	Admit(taskID string)
	Preempt(taskID string)
}

// Scheduler is the process-wide admission gate.
type Scheduler struct {
	mu       sync.Mutex
	config   *ketchconfig.SchedulerConfig
	admitter Admitter

	queue       []Candidate
	running     map[string]running // taskID -> bookkeeping
	activeHost  map[string]int     // host -> active count
}

// New constructs a Scheduler. admitter may be nil if the caller needs to
// construct the scheduler before its admitter exists (e.g. a registry
// that must pass itself in); call SetAdmitter before Enqueue-ing
// anything in that case.
func New(config *ketchconfig.SchedulerConfig, admitter Admitter) *Scheduler {
	return &Scheduler{
		config:     config,
		admitter:   admitter,
		running:    make(map[string]running),
		activeHost: make(map[string]int),
	}
}

// SetAdmitter binds the admitter after construction (see New).
func (s *Scheduler) SetAdmitter(admitter Admitter) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.admitter = admitter
}

// Host lowercases the URL authority (spec.md §4.7: "host = lowercased
// URL authority").
func Host(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Host)
}

// Enqueue adds a candidate and immediately tries to admit. If
// autoStart is false, the candidate is added but never auto-admitted —
// RequestStart must be called to admit it (spec.md §4.7).
func (s *Scheduler) Enqueue(c Candidate) {
	s.mu.Lock()
	s.queue = append(s.queue, c)
	s.mu.Unlock()
	if s.config.GetAutoStart() {
		s.tryAdmit()
	}
}

// Remove drops a candidate from the queue without admitting it (used
// when a task is removed from the registry).
func (s *Scheduler) Remove(taskID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, c := range s.queue {
		if c.TaskID == taskID {
			s.queue = append(s.queue[:i], s.queue[i+1:]...)
			return
		}
	}
}

// NotifyDone must be called when a running task leaves Downloading
// (completed/failed/canceled/paused) so the scheduler can release its
// host slot and, when autoStart is on, admit the next candidate
// (spec.md §4.7: "immediately wakes the scheduler to admit the next
// candidate").
func (s *Scheduler) NotifyDone(taskID string) {
	s.mu.Lock()
	r, ok := s.running[taskID]
	if ok {
		delete(s.running, taskID)
		s.activeHost[r.host]--
		if s.activeHost[r.host] <= 0 {
			delete(s.activeHost, r.host)
		}
	}
	s.mu.Unlock()
	if s.config.GetAutoStart() {
		s.tryAdmit()
	}
}

// RequestStart runs one admission pass over the whole queue. It takes no
// task id: it is how queued candidates get admitted when autoStart is
// false, or a way to force an admission attempt.
func (s *Scheduler) RequestStart() {
	s.tryAdmit()
}

// tryAdmit scans the queue in priority+FIFO order for the first
// candidate whose host limit isn't saturated, the way SmartScheduler's
// GetNextTask scans rather than strictly popping FIFO. It also checks
// for URGENT preemption before giving up.
func (s *Scheduler) tryAdmit() {
	for {
		s.mu.Lock()
		if len(s.running) >= s.config.GetMaxConcurrentDownloads() {
			preempted := s.preemptForUrgentLocked()
			if !preempted {
				s.mu.Unlock()
				return
			}
			s.mu.Unlock()
			continue
		}

		idx := s.nextRunnableIndexLocked()
		if idx < 0 {
			s.mu.Unlock()
			return
		}

		c := s.queue[idx]
		s.queue = append(s.queue[:idx], s.queue[idx+1:]...)
		host := Host(c.URL)
		s.running[c.TaskID] = running{taskID: c.TaskID, host: host, priority: c.Priority}
		s.activeHost[host]++
		s.mu.Unlock()

		s.admitter.Admit(c.TaskID)
	}
}

// nextRunnableIndexLocked orders candidates by priority (high first),
// then createdAt (FIFO), and returns the index of the first one whose
// host isn't at its per-host cap. mu must be held.
func (s *Scheduler) nextRunnableIndexLocked() int {
	order := make([]int, len(s.queue))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		ca, cb := s.queue[order[a]], s.queue[order[b]]
		if ca.Priority != cb.Priority {
			return ca.Priority > cb.Priority
		}
		return ca.CreatedAt.Before(cb.CreatedAt)
	})

	perHostMax := s.config.GetMaxConnectionsPerHost()
	for _, i := range order {
		host := Host(s.queue[i].URL)
		if perHostMax <= 0 || s.activeHost[host] < perHostMax {
			return i
		}
	}
	return -1
}

// preemptForUrgentLocked implements spec.md §4.7's preemption rule:
// "URGENT may preempt the lowest-priority running task that is strictly
// lower-priority than URGENT". mu must be held; returns whether a
// preemption happened.
func (s *Scheduler) preemptForUrgentLocked() bool {
	hasUrgentWaiting := false
	for _, c := range s.queue {
		if c.Priority == ketchtypes.PriorityUrgent {
			hasUrgentWaiting = true
			break
		}
	}
	if !hasUrgentWaiting {
		return false
	}

	var victim *running
	for taskID, r := range s.running {
		if r.priority >= ketchtypes.PriorityUrgent {
			continue
		}
		if victim == nil || r.priority < victim.priority {
			v := s.running[taskID]
			victim = &v
		}
	}
	if victim == nil {
		return false
	}

	delete(s.running, victim.taskID)
	s.activeHost[victim.host]--
	if s.activeHost[victim.host] <= 0 {
		delete(s.activeHost, victim.host)
	}
	s.mu.Unlock()
	s.admitter.Preempt(victim.taskID)
	s.mu.Lock()
	return true
}
