package scheduler

import (
	"context"
	"time"

	"github.com/google/uuid"

	"ocrstudio/internal/progress"
)

// Executor is one schedulable job. Run must not return before its work stopped and
// should stop early when ctx is cancelled. Errors are the executor's own business:
// the scheduler only observes the live progress.
type Executor interface {
	ID() uuid.UUID
	// StartAt is the requested start time; the zero time means as soon as possible.
	StartAt() time.Time
	Run(ctx context.Context)
	Progress() *progress.Info
}
