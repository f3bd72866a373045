package scheduler

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"ocrstudio/internal/progress"
)

var ErrAlreadyScheduled = errors.New("job is already scheduled")

const defaultMaxConcurrent = 3

type Options struct {
	MaxConcurrentJobs int
}

type job struct {
	exec      Executor
	ctx       context.Context
	cancel    context.CancelFunc
	startAt   time.Time
	heapIndex int

	// guarded by Manager.mu
	finished    bool
	interrupted bool
}

// live reports whether the job is pending or its worker has not exited yet. An
// interrupted job stays live while its in-flight unit finishes.
func (j *job) live() bool { return !j.finished }

// Manager runs executors at most once each, no earlier than their requested start
// time and never more than MaxConcurrentJobs at a time. It keeps a handle on every
// accepted job until one of the Clear methods drops it.
//
// Manager.mu guards the job map and the delay queue; a job's progress has its own
// lock. The two are never held together.
type Manager struct {
	mu        sync.Mutex
	jobs      map[uuid.UUID]*job
	pending   delayQueue
	semaphore chan struct{}
	wake      chan struct{}
	workersWG sync.WaitGroup
	baseCtx   context.Context
	now       func() time.Time
	startOnce sync.Once
}

func NewManager(opts Options) *Manager {
	if opts.MaxConcurrentJobs <= 0 {
		opts.MaxConcurrentJobs = defaultMaxConcurrent
	}
	return &Manager{
		jobs:      make(map[uuid.UUID]*job),
		semaphore: make(chan struct{}, opts.MaxConcurrentJobs),
		wake:      make(chan struct{}, 1),
		baseCtx:   context.Background(),
		now:       time.Now,
	}
}

// Start sets the base context of all jobs and starts releasing delayed jobs.
// Cancelling ctx cancels every running job.
func (m *Manager) Start(ctx context.Context) {
	m.startOnce.Do(func() {
		m.mu.Lock()
		m.baseCtx = ctx
		m.mu.Unlock()
		go m.dispatchLoop(ctx)
	})
}

// Schedule accepts ex. It is rejected while a job with the same id is pending or
// its worker is still running, interrupted or not.
func (m *Manager) Schedule(ex Executor) error {
	id := ex.ID()

	m.mu.Lock()
	if cur, ok := m.jobs[id]; ok && cur.live() {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrAlreadyScheduled, id)
	}
	ctx, cancel := context.WithCancel(m.baseCtx)
	j := &job{exec: ex, ctx: ctx, cancel: cancel, startAt: ex.StartAt(), heapIndex: -1}
	m.jobs[id] = j
	due := j.startAt.IsZero() || !j.startAt.After(m.now())
	if !due {
		heap.Push(&m.pending, j)
	}
	m.mu.Unlock()

	ex.Progress().SetStatus(progress.StatusTriggered)
	if due {
		m.launch(j)
	} else {
		log.Info().Str("task_id", id.String()).Time("start_at", j.startAt).Msg("job delayed")
		m.signal()
	}
	return nil
}

// lookup returns the tracked job with id and whether its progress is terminal.
func (m *Manager) lookup(id uuid.UUID) (*job, bool) {
	m.mu.Lock()
	j := m.jobs[id]
	m.mu.Unlock()
	if j == nil {
		return nil, false
	}
	return j, j.exec.Progress().Status().Terminal()
}

func (m *Manager) launch(j *job) {
	m.workersWG.Add(1)
	go func() {
		defer m.workersWG.Done()
		defer m.markFinished(j)

		select {
		case m.semaphore <- struct{}{}:
		case <-j.ctx.Done():
			return
		}
		defer func() { <-m.semaphore }()
		if j.ctx.Err() != nil {
			return
		}
		m.run(j)
	}()
}

func (m *Manager) run(j *job) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("task_id", j.exec.ID().String()).Interface("panic", r).Msg("job panicked")
			j.exec.Progress().Finish(progress.StatusFailed, fmt.Sprint(r))
		}
	}()
	j.exec.Run(j.ctx)
}

func (m *Manager) markFinished(j *job) {
	m.mu.Lock()
	j.finished = true
	m.mu.Unlock()
	j.cancel()
}

func (m *Manager) signal() {
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

func (m *Manager) dispatchLoop(ctx context.Context) {
	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()
	for {
		due, wait := m.popDue()
		for _, j := range due {
			m.launch(j)
		}
		var fire <-chan time.Time
		if wait > 0 {
			timer.Reset(wait)
			fire = timer.C
		}
		select {
		case <-ctx.Done():
			return
		case <-m.wake:
		case <-fire:
		}
		timer.Stop()
	}
}

// popDue removes the jobs whose start time passed and returns the delay until the next one.
func (m *Manager) popDue() ([]*job, time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	var due []*job
	for m.pending.Len() > 0 && !m.pending[0].startAt.After(now) {
		due = append(due, heap.Pop(&m.pending).(*job)) //nolint:forcetypeassert
	}
	if m.pending.Len() == 0 {
		return due, 0
	}
	return due, m.pending[0].startAt.Sub(now)
}

// Interrupt cancels the pending or running job with id. It reports false when no such
// job is active. Once it returns true the job makes no further progress.
func (m *Manager) Interrupt(id uuid.UUID) bool {
	j, terminal := m.lookup(id)
	if j == nil || terminal {
		return false
	}
	m.mu.Lock()
	if m.jobs[id] != j || !j.live() || j.interrupted {
		m.mu.Unlock()
		return false
	}
	j.interrupted = true
	if j.heapIndex >= 0 {
		heap.Remove(&m.pending, j.heapIndex)
		j.finished = true
	}
	m.mu.Unlock()

	j.exec.Progress().SetStatus(progress.StatusInterrupted)
	j.cancel()
	log.Info().Str("task_id", id.String()).Msg("job interrupted")
	return true
}

// InterruptAll interrupts every tracked job and reports, per id, whether it applied.
func (m *Manager) InterruptAll() map[uuid.UUID]bool {
	m.mu.Lock()
	ids := make([]uuid.UUID, 0, len(m.jobs))
	for id := range m.jobs {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	result := make(map[uuid.UUID]bool, len(ids))
	for _, id := range ids {
		result[id] = m.Interrupt(id)
	}
	return result
}

// Running reports whether a job for id is pending or still has a live worker.
func (m *Manager) Running(id uuid.UUID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	return ok && j.live()
}

// GetProgress returns the live progress of a tracked job.
func (m *Manager) GetProgress(id uuid.UUID) (progress.Snapshot, bool) {
	m.mu.Lock()
	j, ok := m.jobs[id]
	m.mu.Unlock()
	if !ok {
		return progress.Snapshot{}, false
	}
	return j.exec.Progress().Snapshot(), true
}

func (m *Manager) ClearFinished() []uuid.UUID {
	return m.clear(func(s progress.Status) bool { return s == progress.StatusFinished })
}

func (m *Manager) ClearInterrupted() []uuid.UUID {
	return m.clear(func(s progress.Status) bool { return s == progress.StatusInterrupted })
}

// Clear drops every job in a terminal status. Jobs whose worker has not exited yet
// are kept by all Clear methods.
func (m *Manager) Clear() []uuid.UUID {
	return m.clear(progress.Status.Terminal)
}

func (m *Manager) clear(match func(progress.Status) bool) []uuid.UUID {
	m.mu.Lock()
	tracked := make(map[uuid.UUID]*job, len(m.jobs))
	for id, j := range m.jobs {
		tracked[id] = j
	}
	m.mu.Unlock()

	matched := make([]uuid.UUID, 0, len(tracked))
	for id, j := range tracked {
		if match(j.exec.Progress().Status()) {
			matched = append(matched, id)
		}
	}

	removed := make([]uuid.UUID, 0, len(matched))
	m.mu.Lock()
	for _, id := range matched {
		if j := tracked[id]; m.jobs[id] == j && !j.live() {
			delete(m.jobs, id)
			removed = append(removed, id)
		}
	}
	m.mu.Unlock()
	return removed
}

// Tracked returns the number of jobs currently known to the manager.
func (m *Manager) Tracked() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.jobs)
}

// IsBusy reports whether every worker slot is taken.
func (m *Manager) IsBusy() bool {
	return len(m.semaphore) >= cap(m.semaphore)
}

// WaitAll blocks until all in-flight workers finish or the context is done.
// Returns true if all workers finished, false if timed out.
func (m *Manager) WaitAll(ctx context.Context) bool {
	done := make(chan struct{})
	go func() {
		m.workersWG.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-ctx.Done():
		return false
	}
}
