// Package service glues the task repository, file storage and scheduler together.
package service

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"ocrstudio/internal/archive"
	"ocrstudio/internal/detect"
	"ocrstudio/internal/progress"
	"ocrstudio/internal/task"
)

const sniffLen = 3072

// Upload is one incoming file.
type Upload struct {
	Name        string
	ContentType string
	Content     io.Reader
}

type Page struct {
	Items []*task.Task `json:"items"`
	Page  int          `json:"page"`
	Size  int          `json:"size"`
	Total int          `json:"total"`
}

// Download is either a single file (Path) or a zip of several (Entries).
type Download struct {
	Name    string
	Path    string
	Entries []archive.Entry
}

func (d Download) IsArchive() bool { return d.Path == "" }

// WriteArchive streams the zip of Entries to w.
func (d Download) WriteArchive(ctx context.Context, w io.Writer) error {
	results, err := archive.BuildArchive(ctx, w, d.Entries)
	if err != nil {
		return err
	}
	for _, r := range results {
		if r.Err != "" {
			log.Warn().Str("file", r.Filename).Str("error", r.Err).Msg("archive entry skipped")
		}
	}
	return nil
}

// JobTracker reports whether a task still has a pending job or a live worker.
type JobTracker interface {
	Running(id uuid.UUID) bool
}

type noJobs struct{}

func (noJobs) Running(uuid.UUID) bool { return false }

type TaskOptions struct {
	DefaultLanguage string
	Detector        detect.Detector
	// Jobs keeps tasks with a live worker from being edited or deleted.
	Jobs JobTracker
	Now  func() time.Time
}

type TaskService struct {
	repo     task.Repository
	storage  *task.Storage
	detector detect.Detector
	language string
	jobs     JobTracker
	now      func() time.Time
	locks    *taskLocks
}

func NewTaskService(repo task.Repository, storage *task.Storage, opts TaskOptions) *TaskService {
	if opts.DefaultLanguage == "" {
		opts.DefaultLanguage = "eng"
	}
	if opts.Detector == nil {
		opts.Detector = detect.MimeDetector{}
	}
	if opts.Jobs == nil {
		opts.Jobs = noJobs{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &TaskService{
		repo:     repo,
		storage:  storage,
		detector: opts.Detector,
		language: opts.DefaultLanguage,
		jobs:     opts.Jobs,
		now:      opts.Now,
		locks:    newTaskLocks(),
	}
}

// DefaultOcrConfig is the configuration of a task created without one.
func (s *TaskService) DefaultOcrConfig() task.OcrConfig {
	return task.DefaultOcrConfig(s.language)
}

func (s *TaskService) FindAll(ctx context.Context) ([]*task.Task, error) {
	return s.repo.FindAll(ctx) //nolint:wrapcheck
}

func (s *TaskService) FindByID(ctx context.Context, id uuid.UUID) (*task.Task, error) {
	t, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("task %s: %w", id, err)
	}
	return t, nil
}

// FindPage returns one page of tasks ordered by id. Pages start at 0.
func (s *TaskService) FindPage(ctx context.Context, page, size int) (Page, error) {
	if page < 0 {
		page = 0
	}
	if size <= 0 {
		size = 20
	}
	all, err := s.repo.FindAll(ctx)
	if err != nil {
		return Page{}, err //nolint:wrapcheck
	}
	result := Page{Page: page, Size: size, Total: len(all), Items: []*task.Task{}}
	from := page * size
	if from >= len(all) {
		return result, nil
	}
	to := min(from+size, len(all))
	result.Items = all[from:to]
	return result, nil
}

// Insert creates a task with a fresh id and its directories, then stores the optional files.
func (s *TaskService) Insert(ctx context.Context, t *task.Task, files []Upload) (*task.Task, error) {
	t.ID = uuid.New()
	if t.OcrConfig == (task.OcrConfig{}) {
		t.OcrConfig = task.DefaultOcrConfig(s.language)
	}
	if t.OcrConfig.Language == "" {
		t.OcrConfig.Language = s.language
	}
	if t.OcrConfig.FileFormat == "" {
		t.OcrConfig.FileFormat = task.FormatText
	}
	if err := t.OcrConfig.Validate(); err != nil {
		return nil, err //nolint:wrapcheck
	}
	t.InDocuments = nil
	t.MergedDocumentName = ""
	t.OcrProgress = progress.NewSnapshot()
	t.CreatedAt = s.now().UTC()

	if err := s.storage.CreateDirectories(t.ID); err != nil {
		return nil, err //nolint:wrapcheck
	}
	if err := s.repo.Insert(ctx, t); err != nil {
		_ = s.storage.RemoveTask(t.ID)
		return nil, fmt.Errorf("insert task: %w", err)
	}
	log.Info().Str("task_id", t.ID.String()).Msg("task created")

	if len(files) == 0 {
		return t, nil
	}
	return s.Upload(ctx, t.ID, files)
}

// Update replaces description, OCR and scheduler configuration. Documents and
// progress are never taken from the caller.
func (s *TaskService) Update(ctx context.Context, t *task.Task) (*task.Task, error) {
	if err := t.OcrConfig.Validate(); err != nil {
		return nil, err //nolint:wrapcheck
	}
	unlock := s.locks.lock(t.ID)
	defer unlock()

	stored, err := s.editable(ctx, t.ID)
	if err != nil {
		return nil, err
	}
	stored.Description = t.Description
	stored.OcrConfig = t.OcrConfig
	stored.SchedulerConfig = t.SchedulerConfig
	if err := s.repo.Save(ctx, stored); err != nil {
		return nil, fmt.Errorf("save task: %w", err)
	}
	return stored, nil
}

func (s *TaskService) UpdateLanguage(ctx context.Context, id uuid.UUID, language string) error {
	language = strings.TrimSpace(language)
	if language == "" {
		return fmt.Errorf("%w: empty language", task.ErrInvalidConfig)
	}
	return s.narrowUpdate(ctx, id, func() (int, error) { return s.repo.UpdateLanguageByID(ctx, id, language) })
}

func (s *TaskService) UpdateOcrConfig(ctx context.Context, id uuid.UUID, cfg task.OcrConfig) error {
	if err := cfg.Validate(); err != nil {
		return err //nolint:wrapcheck
	}
	return s.narrowUpdate(ctx, id, func() (int, error) { return s.repo.UpdateOcrConfigByID(ctx, id, cfg) })
}

func (s *TaskService) UpdateSchedulerConfig(ctx context.Context, id uuid.UUID, cfg task.SchedulerConfig) error {
	return s.narrowUpdate(ctx, id, func() (int, error) { return s.repo.UpdateSchedulerConfigByID(ctx, id, cfg) })
}

func (s *TaskService) narrowUpdate(ctx context.Context, id uuid.UUID, update func() (int, error)) error {
	unlock := s.locks.lock(id)
	defer unlock()

	if _, err := s.editable(ctx, id); err != nil {
		return err
	}
	n, err := update()
	if err != nil {
		return fmt.Errorf("update task: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("task %s: %w", id, task.ErrTaskNotFound)
	}
	return nil
}

// editable loads a task that is not queued or running. An interrupted task whose
// in-flight unit is still being recognized is not editable either.
func (s *TaskService) editable(ctx context.Context, id uuid.UUID) (*task.Task, error) {
	t, err := s.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if t.OcrProgress.Status.InProgress() {
		return nil, fmt.Errorf("%w: task %s is %s", task.ErrIllegalState, id, t.OcrProgress.Status)
	}
	if s.jobs.Running(id) {
		return nil, fmt.Errorf("%w: task %s still has a running job", task.ErrIllegalState, id)
	}
	return t, nil
}

// Delete removes the task with all of its files.
func (s *TaskService) Delete(ctx context.Context, id uuid.UUID) error {
	unlock := s.locks.lock(id)
	defer unlock()

	if _, err := s.editable(ctx, id); err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	if err := s.storage.RemoveTask(id); err != nil {
		log.Warn().Err(err).Str("task_id", id.String()).Msg("task files not removed")
	}
	s.locks.forget(id)
	log.Info().Str("task_id", id.String()).Msg("task deleted")
	return nil
}

// Upload stores files as new input documents. Only allowed while the task is CREATED.
func (s *TaskService) Upload(ctx context.Context, id uuid.UUID, files []Upload) (*task.Task, error) {
	if len(files) == 0 {
		return nil, task.ErrNoFiles
	}
	unlock := s.locks.lock(id)
	defer unlock()

	t, err := s.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if t.OcrProgress.Status != progress.StatusCreated {
		return nil, fmt.Errorf("%w: task %s is %s", task.ErrIllegalState, id, t.OcrProgress.Status)
	}

	for _, f := range files {
		doc, err := s.store(t.ID, f)
		if err != nil {
			return nil, err
		}
		if err := t.AddDocument(doc); err != nil {
			return nil, err //nolint:wrapcheck
		}
		log.Info().Str("task_id", id.String()).Str("document", doc.OriginalFileName).Str("type", doc.Type).Msg("document uploaded")
	}
	if err := s.repo.Save(ctx, t); err != nil {
		return nil, fmt.Errorf("save task: %w", err)
	}
	return t, nil
}

func (s *TaskService) store(id uuid.UUID, f Upload) (task.Document, error) {
	name := filepath.Base(strings.TrimSpace(f.Name))
	if name == "." || name == "/" || name == "" {
		return task.Document{}, fmt.Errorf("%w: file without name", task.ErrNoFiles)
	}
	br := bufio.NewReaderSize(f.Content, sniffLen)
	header, err := br.Peek(sniffLen)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, bufio.ErrBufferFull) {
		return task.Document{}, fmt.Errorf("read %s: %w", name, err)
	}
	doc := task.Document{
		OriginalFileName:   name,
		RandomizedFileName: uuid.NewString(),
		Type:               detect.FromUpload(s.detector, f.ContentType, header),
	}
	if err := s.storage.Upload(id, doc.RandomizedFileName, br); err != nil {
		return task.Document{}, fmt.Errorf("store %s: %w", name, err)
	}
	return doc, nil
}

// RemoveFile deletes the input document with the given original name.
func (s *TaskService) RemoveFile(ctx context.Context, id uuid.UUID, originalFileName string) (*task.Task, error) {
	unlock := s.locks.lock(id)
	defer unlock()

	t, err := s.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	doc, err := t.RemoveDocument(originalFileName)
	if err != nil {
		return nil, fmt.Errorf("remove %s: %w", originalFileName, err)
	}
	if err := s.repo.Save(ctx, t); err != nil {
		return nil, fmt.Errorf("save task: %w", err)
	}
	if err := s.storage.DeleteFile(s.storage.InputFile(id, doc.RandomizedFileName)); err != nil {
		log.Warn().Err(err).Str("task_id", id.String()).Str("document", originalFileName).Msg("input file not removed")
	}
	return t, nil
}

// RemoveAllFiles deletes every input document of the task.
func (s *TaskService) RemoveAllFiles(ctx context.Context, id uuid.UUID) (*task.Task, error) {
	unlock := s.locks.lock(id)
	defer unlock()

	t, err := s.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if t.OcrProgress.Status != progress.StatusCreated {
		return nil, fmt.Errorf("%w: task %s is %s", task.ErrIllegalState, id, t.OcrProgress.Status)
	}
	removed := t.InDocuments
	t.InDocuments = nil
	if err := s.repo.Save(ctx, t); err != nil {
		return nil, fmt.Errorf("save task: %w", err)
	}
	for _, doc := range removed {
		if err := s.storage.DeleteFile(s.storage.InputFile(id, doc.RandomizedFileName)); err != nil {
			log.Warn().Err(err).Str("task_id", id.String()).Str("document", doc.OriginalFileName).Msg("input file not removed")
		}
	}
	return t, nil
}

// InputDocument returns the stored upload under its original name.
func (s *TaskService) InputDocument(ctx context.Context, id uuid.UUID, randomizedFileName string) (Download, error) {
	t, err := s.FindByID(ctx, id)
	if err != nil {
		return Download{}, err
	}
	doc, ok := t.FindDocument(randomizedFileName)
	if !ok {
		return Download{}, fmt.Errorf("%s: %w", randomizedFileName, task.ErrDocumentNotFound)
	}
	return Download{Name: doc.OriginalFileName, Path: s.storage.InputFile(id, doc.RandomizedFileName)}, nil
}

// InputDocuments returns all uploads as one zip.
func (s *TaskService) InputDocuments(ctx context.Context, id uuid.UUID) (Download, error) {
	t, err := s.FindByID(ctx, id)
	if err != nil {
		return Download{}, err
	}
	if len(t.InDocuments) == 0 {
		return Download{}, fmt.Errorf("task %s has no input: %w", id, task.ErrDocumentNotFound)
	}
	entries := make([]archive.Entry, 0, len(t.InDocuments))
	for _, doc := range t.SortedDocuments() {
		entries = append(entries, archive.Entry{
			Name: doc.RandomizedFileName + detect.Extension(doc.Type),
			Path: s.storage.InputFile(id, doc.RandomizedFileName),
		})
	}
	return Download{Name: id.String() + "_input.zip", Entries: entries}, nil
}

// OutputDocument returns the recognized artifact of one input document.
func (s *TaskService) OutputDocument(ctx context.Context, id uuid.UUID, randomizedFileName string) (Download, error) {
	t, err := s.FindByID(ctx, id)
	if err != nil {
		return Download{}, err
	}
	doc, ok := t.FindDocument(randomizedFileName)
	if !ok || doc.OutDocument == nil {
		return Download{}, fmt.Errorf("output of %s: %w", randomizedFileName, task.ErrDocumentNotFound)
	}
	ext := t.OcrConfig.FileFormat.Extension()
	return Download{
		Name: outputName(doc.OriginalFileName, ext),
		Path: s.storage.OutputFile(id, doc.OutDocument.OutputFileName+"."+ext),
	}, nil
}

// OutputDocuments returns the merged artifact if there is one, otherwise a zip of
// every recognized document.
func (s *TaskService) OutputDocuments(ctx context.Context, id uuid.UUID) (Download, error) {
	t, err := s.FindByID(ctx, id)
	if err != nil {
		return Download{}, err
	}
	ext := t.OcrConfig.FileFormat.Extension()
	if t.MergedDocumentName != "" {
		return Download{
			Name: id.String() + "_merged" + filepath.Ext(t.MergedDocumentName),
			Path: s.storage.OutputFile(id, t.MergedDocumentName),
		}, nil
	}

	var entries []archive.Entry
	for _, doc := range t.SortedDocuments() {
		if doc.OutDocument == nil {
			continue
		}
		entries = append(entries, archive.Entry{
			Name: outputName(doc.OriginalFileName, ext),
			Path: s.storage.OutputFile(id, doc.OutDocument.OutputFileName+"."+ext),
		})
	}
	if len(entries) == 0 {
		return Download{}, fmt.Errorf("task %s has no output: %w", id, task.ErrDocumentNotFound)
	}
	return Download{Name: id.String() + "_output.zip", Entries: entries}, nil
}

func outputName(original, ext string) string {
	return strings.TrimSuffix(original, filepath.Ext(original)) + "." + ext
}
