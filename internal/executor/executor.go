// Package executor runs OCR over all input documents of one task.
package executor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"ocrstudio/internal/merge"
	"ocrstudio/internal/progress"
	"ocrstudio/internal/task"
)

// Processor recognizes one input file into outStem plus the format extension.
type Processor interface {
	Process(ctx context.Context, in, outStem string, cfg task.OcrConfig) error
}

type Deps struct {
	Repository task.Repository
	Storage    *task.Storage
	Processor  Processor
	// NewName generates output file names; defaults to random UUIDs.
	NewName func() string
}

// OcrExecutor is a scheduler.Executor for a single task.
type OcrExecutor struct {
	id       uuid.UUID
	startAt  time.Time
	deps     Deps
	progress *progress.Info
	logger   zerolog.Logger
}

func New(id uuid.UUID, startAt time.Time, deps Deps) *OcrExecutor {
	if deps.NewName == nil {
		deps.NewName = uuid.NewString
	}
	return &OcrExecutor{
		id:       id,
		startAt:  startAt,
		deps:     deps,
		progress: progress.NewInfo(),
		logger:   log.With().Str("task_id", id.String()).Logger(),
	}
}

// ForTask builds an executor honoring the task's requested start time.
func ForTask(t *task.Task, deps Deps) *OcrExecutor {
	var startAt time.Time
	if t.SchedulerConfig.StartDateTime != nil {
		startAt = *t.SchedulerConfig.StartDateTime
	}
	return New(t.ID, startAt, deps)
}

func (e *OcrExecutor) ID() uuid.UUID            { return e.id }
func (e *OcrExecutor) StartAt() time.Time       { return e.startAt }
func (e *OcrExecutor) Progress() *progress.Info { return e.progress }

// Run processes the task and persists its final state. Results produced before a
// cancellation or failure are kept. Every run starts from no outputs, so artifacts
// of an earlier run are never served as results of this one. Persistence only
// updates an existing record; a task deleted meanwhile stays deleted.
func (e *OcrExecutor) Run(ctx context.Context) {
	persistCtx := context.WithoutCancel(ctx)

	t, err := e.deps.Repository.FindByID(persistCtx, e.id)
	if err != nil {
		e.logger.Error().Err(err).Msg("load task")
		e.progress.Finish(progress.StatusFailed, "task could not be loaded")
		e.persistProgress(persistCtx)
		return
	}

	if !e.progress.Start(len(t.InDocuments), "Starting ocr process...") {
		e.logger.Info().Str("status", string(e.progress.Status())).Msg("task not started")
		return
	}
	if !e.persistProgress(persistCtx) {
		e.progress.Finish(progress.StatusFailed, "task was deleted")
		e.logger.Warn().Msg("task deleted before start")
		return
	}
	e.logger.Info().Int("documents", len(t.InDocuments)).Msg("ocr started")

	result := task.RunResult{Outputs: make(map[string]*task.OutDocument, len(t.InDocuments))}
	err = e.execute(ctx, t, &result)
	switch {
	case err == nil:
		e.progress.Finish(progress.StatusFinished, "Finished")
	case ctx.Err() != nil || errors.Is(err, context.Canceled):
		e.progress.Finish(progress.StatusInterrupted, "Interrupted")
	default:
		e.progress.Finish(progress.StatusFailed, err.Error())
	}
	// An interrupt may have won against the outcome above.
	switch status := e.progress.Status(); status {
	case progress.StatusFinished:
		e.logger.Info().Msg("ocr finished")
	case progress.StatusInterrupted:
		e.logger.Info().AnErr("last_error", err).Msg("ocr interrupted")
	default:
		e.logger.Error().Err(err).Str("status", string(status)).Msg("ocr failed")
	}

	result.Progress = e.progress.Snapshot()
	n, err := e.deps.Repository.UpdateRunResultByID(persistCtx, e.id, result)
	switch {
	case err != nil:
		e.logger.Error().Err(err).Msg("persist result of task")
	case n == 0:
		e.logger.Warn().Msg("task deleted while running, result dropped")
	}
}

// persistProgress stores the live progress. It reports false when the task no longer exists.
func (e *OcrExecutor) persistProgress(ctx context.Context) bool {
	n, err := e.deps.Repository.UpdateProgressByID(ctx, e.id, e.progress.Snapshot())
	if err != nil {
		e.logger.Error().Err(err).Msg("persist progress")
		return true
	}
	return n > 0
}

func (e *OcrExecutor) execute(ctx context.Context, t *task.Task, result *task.RunResult) error {
	e.progress.SetDescription("Starting ocr of documents...")

	docs := t.SortedDocuments()
	for _, doc := range docs {
		if err := ctx.Err(); err != nil {
			return err
		}
		logger := e.logger.With().Str("document", doc.OriginalFileName).Logger()

		in := e.deps.Storage.InputFile(t.ID, doc.RandomizedFileName)
		if _, err := os.Stat(in); err != nil {
			if !os.IsNotExist(err) {
				return fmt.Errorf("stat %s: %w", doc.OriginalFileName, err)
			}
			logger.Warn().Msg("input file missing, skipping")
			e.progress.IncrementDone()
			continue
		}

		e.progress.SetDescription("Processing " + doc.OriginalFileName)
		name := e.deps.NewName()
		if err := e.deps.Processor.Process(ctx, in, e.deps.Storage.OutputFile(t.ID, name), t.OcrConfig); err != nil {
			return fmt.Errorf("document %s: %w", doc.OriginalFileName, err)
		}
		result.Outputs[doc.RandomizedFileName] = &task.OutDocument{OutputFileName: name}
		e.progress.IncrementDone()
		logger.Debug().Str("output", name).Msg("document recognized")
	}

	if !t.OcrConfig.MergeDocuments {
		return nil
	}
	return e.merge(ctx, t, docs, result)
}

func (e *OcrExecutor) merge(ctx context.Context, t *task.Task, docs []*task.Document, result *task.RunResult) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	e.progress.SetDescription("Starting merging of documents...")

	strategy, err := merge.For(t.OcrConfig.FileFormat)
	if err != nil {
		return err
	}
	ext := t.OcrConfig.FileFormat.Extension()
	var sources []string
	for _, doc := range docs {
		out, ok := result.Outputs[doc.RandomizedFileName]
		if !ok {
			continue
		}
		sources = append(sources, e.deps.Storage.OutputFile(t.ID, out.OutputFileName+"."+ext))
	}
	if len(sources) == 0 {
		e.logger.Warn().Msg("no recognized documents to merge")
		return nil
	}

	name := "merged_" + e.deps.NewName() + "." + ext
	if err := strategy.Merge(ctx, e.deps.Storage.OutputFile(t.ID, name), sources); err != nil {
		return fmt.Errorf("merge documents: %w", err)
	}
	result.MergedDocumentName = name
	e.logger.Info().Str("merged", name).Int("sources", len(sources)).Msg("documents merged")
	return nil
}
