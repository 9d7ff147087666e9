package scheduler

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ketch-dl/ketch/internal/ketchconfig"
	"github.com/ketch-dl/ketch/internal/ketchtypes"
)

type fakeAdmitter struct {
	mu        sync.Mutex
	admitted  []string
	preempted []string
}

func (f *fakeAdmitter) Admit(taskID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.admitted = append(f.admitted, taskID)
}

func (f *fakeAdmitter) Preempt(taskID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.preempted = append(f.preempted, taskID)
}

func (f *fakeAdmitter) snapshot() (admitted, preempted []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.admitted...), append([]string(nil), f.preempted...)
}

func TestScheduler_EnqueueAdmitsUpToConcurrencyCap(t *testing.T) {
	a := &fakeAdmitter{}
	s := New(&ketchconfig.SchedulerConfig{MaxConcurrentDownloads: 2, MaxConnectionsPerHost: 10, AutoStart: true}, a)

	now := time.Now()
	s.Enqueue(Candidate{TaskID: "a", URL: "https://h1/x", CreatedAt: now})
	s.Enqueue(Candidate{TaskID: "b", URL: "https://h1/y", CreatedAt: now.Add(time.Second)})
	s.Enqueue(Candidate{TaskID: "c", URL: "https://h1/z", CreatedAt: now.Add(2 * time.Second)})

	admitted, _ := a.snapshot()
	assert.ElementsMatch(t, []string{"a", "b"}, admitted)
}

func TestScheduler_PerHostLimitSkipsToNextRunnableCandidate(t *testing.T) {
	a := &fakeAdmitter{}
	s := New(&ketchconfig.SchedulerConfig{MaxConcurrentDownloads: 5, MaxConnectionsPerHost: 1, AutoStart: true}, a)

	now := time.Now()
	s.Enqueue(Candidate{TaskID: "a", URL: "https://busy/x", CreatedAt: now})
	s.Enqueue(Candidate{TaskID: "b", URL: "https://busy/y", CreatedAt: now.Add(time.Second)})
	s.Enqueue(Candidate{TaskID: "c", URL: "https://other/z", CreatedAt: now.Add(2 * time.Second)})

	admitted, _ := a.snapshot()
	// "a" takes the only busy-host slot; "b" is blocked on the host cap,
	// so "c" (a different host) should get admitted instead.
	assert.ElementsMatch(t, []string{"a", "c"}, admitted)
}

func TestScheduler_HigherPriorityAdmitsFirst(t *testing.T) {
	a := &fakeAdmitter{}
	s := New(&ketchconfig.SchedulerConfig{MaxConcurrentDownloads: 1, MaxConnectionsPerHost: 10}, a)

	now := time.Now()
	s.Enqueue(Candidate{TaskID: "low", URL: "https://h/a", Priority: ketchtypes.PriorityLow, CreatedAt: now})
	s.Enqueue(Candidate{TaskID: "high", URL: "https://h/b", Priority: ketchtypes.PriorityHigh, CreatedAt: now.Add(time.Second)})
	// AutoStart is off, so nothing is admitted until both are queued.
	s.RequestStart()

	admitted, _ := a.snapshot()
	require.Len(t, admitted, 1)
	assert.Equal(t, "high", admitted[0])
}

func TestScheduler_UrgentPreemptsLowerPriorityRunning(t *testing.T) {
	a := &fakeAdmitter{}
	s := New(&ketchconfig.SchedulerConfig{MaxConcurrentDownloads: 1, MaxConnectionsPerHost: 10, AutoStart: true}, a)

	now := time.Now()
	s.Enqueue(Candidate{TaskID: "normal", URL: "https://h/a", Priority: ketchtypes.PriorityNormal, CreatedAt: now})

	admitted, _ := a.snapshot()
	require.Equal(t, []string{"normal"}, admitted)

	s.Enqueue(Candidate{TaskID: "urgent", URL: "https://h/b", Priority: ketchtypes.PriorityUrgent, CreatedAt: now.Add(time.Second)})

	_, preempted := a.snapshot()
	assert.Equal(t, []string{"normal"}, preempted)
}

func TestScheduler_NotifyDoneFreesSlotAndAdmitsNext(t *testing.T) {
	a := &fakeAdmitter{}
	s := New(&ketchconfig.SchedulerConfig{MaxConcurrentDownloads: 1, MaxConnectionsPerHost: 10, AutoStart: true}, a)

	now := time.Now()
	s.Enqueue(Candidate{TaskID: "a", URL: "https://h/a", CreatedAt: now})
	s.Enqueue(Candidate{TaskID: "b", URL: "https://h/b", CreatedAt: now.Add(time.Second)})

	admitted, _ := a.snapshot()
	require.Equal(t, []string{"a"}, admitted)

	s.NotifyDone("a")

	admitted, _ = a.snapshot()
	assert.Equal(t, []string{"a", "b"}, admitted)
}

func TestScheduler_RemoveDropsQueuedCandidateWithoutAdmitting(t *testing.T) {
	a := &fakeAdmitter{}
	s := New(&ketchconfig.SchedulerConfig{MaxConcurrentDownloads: 1, MaxConnectionsPerHost: 10, AutoStart: true}, a)

	now := time.Now()
	s.Enqueue(Candidate{TaskID: "a", URL: "https://h/a", CreatedAt: now})
	s.Enqueue(Candidate{TaskID: "b", URL: "https://h/b", CreatedAt: now.Add(time.Second)})
	s.Remove("b")
	s.NotifyDone("a")

	admitted, _ := a.snapshot()
	assert.Equal(t, []string{"a"}, admitted)
}

func TestHost_LowercasesAuthority(t *testing.T) {
	assert.Equal(t, "example.com", Host("https://EXAMPLE.com/path"))
	assert.Equal(t, "", Host("://bad-url"))
}
