package progress

import "sync"

type Status string

const (
	StatusCreated     Status = "CREATED"
	StatusTriggered   Status = "TRIGGERED"
	StatusInProgress  Status = "IN_PROGRESS"
	StatusFinished    Status = "FINISHED"
	StatusFailed      Status = "FAILED"
	StatusInterrupted Status = "INTERRUPTED"
)

var rank = map[Status]int{
	StatusCreated:     0,
	StatusTriggered:   1,
	StatusInProgress:  2,
	StatusFinished:    3,
	StatusFailed:      3,
	StatusInterrupted: 3,
}

// InProgress reports whether a task in this status can not be edited or rescheduled.
func (s Status) InProgress() bool {
	return s == StatusTriggered || s == StatusInProgress
}

// Terminal reports whether s ends a run.
func (s Status) Terminal() bool {
	return rank[s] == rank[StatusFinished]
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	_, ok := rank[s]
	return ok
}

// Snapshot is an immutable copy of a job's progress. It is what gets persisted on a task.
type Snapshot struct {
	Status      Status `json:"status"`
	Total       int    `json:"total"`
	Done        int    `json:"done"`
	Description string `json:"description"`
}

// NewSnapshot returns the snapshot of a freshly created task.
func NewSnapshot() Snapshot {
	return Snapshot{Status: StatusCreated}
}

// Info is the live progress of a running job. All fields change together under mu,
// so a reader never sees e.g. FINISHED with done < total.
type Info struct {
	mu          sync.Mutex
	status      Status
	total       int
	done        int
	description string
}

func NewInfo() *Info {
	return &Info{status: StatusCreated}
}

// SetStatus moves to next if the transition is forward. Terminal statuses are absorbing.
func (p *Info) SetStatus(next Status) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.transition(next)
}

func (p *Info) transition(next Status) bool {
	if !next.Valid() || p.status.Terminal() || rank[next] <= rank[p.status] {
		return false
	}
	p.status = next
	return true
}

// Start marks the job IN_PROGRESS with the given total. It returns false when the job
// already reached a terminal status (e.g. it was interrupted before dispatch).
func (p *Info) Start(total int, description string) bool {
	if total < 0 {
		total = 0
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.transition(StatusInProgress) {
		return false
	}
	p.total = total
	p.done = 0
	p.description = description
	return true
}

// Finish sets a terminal status. When the job finished successfully done is aligned to total.
func (p *Info) Finish(status Status, description string) bool {
	if !status.Terminal() {
		return false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.transition(status) {
		return false
	}
	if status == StatusFinished {
		p.done = p.total
	}
	if description != "" {
		p.description = description
	}
	return true
}

func (p *Info) SetDescription(description string) {
	p.mu.Lock()
	if !p.status.Terminal() {
		p.description = description
	}
	p.mu.Unlock()
}

// IncrementDone counts one completed unit of work. It is a no-op once the job is
// no longer in progress or the counter reached total.
func (p *Info) IncrementDone() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.status != StatusInProgress || p.done >= p.total {
		return false
	}
	p.done++
	return true
}

func (p *Info) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

func (p *Info) Snapshot() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Snapshot{
		Status:      p.status,
		Total:       p.total,
		Done:        p.done,
		Description: p.description,
	}
}
