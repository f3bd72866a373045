package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"ocrstudio/internal/progress"
	"ocrstudio/internal/scheduler"
	"ocrstudio/internal/task"
)

// ExecutorFactory builds the job that processes t.
type ExecutorFactory func(t *task.Task) scheduler.Executor

type OcrService struct {
	tasks       *TaskService
	manager     *scheduler.Manager
	newExecutor ExecutorFactory
}

func NewOcrService(tasks *TaskService, manager *scheduler.Manager, factory ExecutorFactory) *OcrService {
	return &OcrService{tasks: tasks, manager: manager, newExecutor: factory}
}

// Schedule queues the task for recognition. TRIGGERED is persisted before the job
// is handed to the manager so the executor's own saves always come later.
func (s *OcrService) Schedule(ctx context.Context, id uuid.UUID) (progress.Snapshot, error) {
	unlock := s.tasks.locks.lock(id)
	defer unlock()

	t, err := s.tasks.editable(ctx, id)
	if err != nil {
		return progress.Snapshot{}, err
	}
	ex := s.newExecutor(t)

	triggered := progress.Snapshot{Status: progress.StatusTriggered, Total: len(t.InDocuments), Description: "Waiting for a free worker"}
	if t.SchedulerConfig.StartDateTime != nil {
		triggered.Description = "Scheduled for " + t.SchedulerConfig.StartDateTime.UTC().Format("2006-01-02 15:04:05 MST")
	}
	if _, err := s.tasks.repo.UpdateProgressByID(ctx, id, triggered); err != nil {
		return progress.Snapshot{}, fmt.Errorf("persist progress: %w", err)
	}
	if err := s.manager.Schedule(ex); err != nil {
		if _, rerr := s.tasks.repo.UpdateProgressByID(context.WithoutCancel(ctx), id, t.OcrProgress); rerr != nil {
			log.Error().Err(rerr).Str("task_id", id.String()).Msg("restore progress")
		}
		return progress.Snapshot{}, err //nolint:wrapcheck
	}
	log.Info().Str("task_id", id.String()).Int("documents", len(t.InDocuments)).Msg("task scheduled")
	return triggered, nil
}

// Interrupt stops the job of the task. It reports false when no job is active.
func (s *OcrService) Interrupt(ctx context.Context, id uuid.UUID) (bool, error) {
	if !s.manager.Interrupt(id) {
		return false, nil
	}
	return true, s.persistLive(ctx, id)
}

// InterruptAll stops every active job and reports, per task, whether it applied.
func (s *OcrService) InterruptAll(ctx context.Context) map[uuid.UUID]bool {
	result := s.manager.InterruptAll()
	for id, ok := range result {
		if !ok {
			continue
		}
		if err := s.persistLive(ctx, id); err != nil {
			log.Error().Err(err).Str("task_id", id.String()).Msg("persist interrupted progress")
		}
	}
	return result
}

func (s *OcrService) persistLive(ctx context.Context, id uuid.UUID) error {
	snap, ok := s.manager.GetProgress(id)
	if !ok {
		return nil
	}
	if _, err := s.tasks.repo.UpdateProgressByID(ctx, id, snap); err != nil {
		return fmt.Errorf("persist progress: %w", err)
	}
	return nil
}

// GetProgress prefers the live progress of a tracked job over the persisted one.
func (s *OcrService) GetProgress(ctx context.Context, id uuid.UUID) (progress.Snapshot, error) {
	if snap, ok := s.manager.GetProgress(id); ok {
		return snap, nil
	}
	t, err := s.tasks.FindByID(ctx, id)
	if err != nil {
		return progress.Snapshot{}, err
	}
	return t.OcrProgress, nil
}

func (s *OcrService) ClearFinished() []uuid.UUID {
	return logCleared("finished", s.manager.ClearFinished())
}

func (s *OcrService) ClearInterrupted() []uuid.UUID {
	return logCleared("interrupted", s.manager.ClearInterrupted())
}

func (s *OcrService) Clear() []uuid.UUID {
	return logCleared("terminal", s.manager.Clear())
}

func logCleared(kind string, ids []uuid.UUID) []uuid.UUID {
	log.Info().Str("status", kind).Int("count", len(ids)).Msg("jobs cleared")
	return ids
}

// Recover marks tasks left TRIGGERED or IN_PROGRESS by a previous process as FAILED.
func (s *OcrService) Recover(ctx context.Context) (int, error) {
	tasks, err := s.tasks.repo.FindAll(ctx)
	if err != nil {
		return 0, fmt.Errorf("load tasks: %w", err)
	}
	recovered := 0
	for _, t := range tasks {
		if !t.OcrProgress.Status.InProgress() {
			continue
		}
		snap := t.OcrProgress
		snap.Status = progress.StatusFailed
		snap.Description = "Aborted by restart"
		if _, err := s.tasks.repo.UpdateProgressByID(ctx, t.ID, snap); err != nil {
			return recovered, fmt.Errorf("recover task %s: %w", t.ID, err)
		}
		log.Warn().Str("task_id", t.ID.String()).Msg("task was running at shutdown, marked failed")
		recovered++
	}
	return recovered, nil
}
