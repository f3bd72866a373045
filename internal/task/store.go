package task

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/google/uuid"

	fileutil "ocrstudio/internal/file"
	"ocrstudio/internal/progress"
)

// Repository persists task metadata. Narrow Update*ByID methods change one field
// without the caller re-reading and re-writing the whole task; they return the
// number of tasks updated (0 or 1).
type Repository interface {
	FindAll(ctx context.Context) ([]*Task, error)
	FindByID(ctx context.Context, id uuid.UUID) (*Task, error)
	Insert(ctx context.Context, t *Task) error
	Save(ctx context.Context, t *Task) error
	Delete(ctx context.Context, id uuid.UUID) error
	UpdateLanguageByID(ctx context.Context, id uuid.UUID, language string) (int, error)
	UpdateOcrConfigByID(ctx context.Context, id uuid.UUID, cfg OcrConfig) (int, error)
	UpdateSchedulerConfigByID(ctx context.Context, id uuid.UUID, cfg SchedulerConfig) (int, error)
	UpdateProgressByID(ctx context.Context, id uuid.UUID, snap progress.Snapshot) (int, error)
	UpdateRunResultByID(ctx context.Context, id uuid.UUID, r RunResult) (int, error)
}

var ErrTaskExists = errors.New("task already exists")

func sortByID(tasks []*Task) {
	sort.Slice(tasks, func(i, j int) bool { return tasks[i].ID.String() < tasks[j].ID.String() })
}

// fileRepository stores every task as data/tasks/<id>/task.json.
type fileRepository struct {
	mu      sync.Mutex
	dataDir string
}

func NewFileRepository(dataDir string) Repository { //nolint:ireturn
	if dataDir == "" {
		dataDir = "data"
	}
	return &fileRepository{dataDir: dataDir}
}

func (s *fileRepository) taskDir(id uuid.UUID) string {
	return filepath.Join(s.dataDir, "tasks", id.String())
}

func (s *fileRepository) taskPath(id uuid.UUID) string {
	return filepath.Join(s.taskDir(id), "task.json")
}

func (s *fileRepository) read(id uuid.UUID) (*Task, error) {
	b, err := os.ReadFile(s.taskPath(id)) //nolint:gosec // path is controlled by application
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrTaskNotFound
		}
		return nil, fmt.Errorf("read task: %w", err)
	}
	var t Task
	if err := json.Unmarshal(b, &t); err != nil {
		return nil, fmt.Errorf("decode task %s: %w", id, err)
	}
	return &t, nil
}

func (s *fileRepository) write(t *Task) error {
	return fileutil.WriteJSONAtomic(s.taskPath(t.ID), t) //nolint:wrapcheck
}

func (s *fileRepository) FindAll(ctx context.Context) ([]*Task, error) { //nolint:revive // context reserved for future use
	s.mu.Lock()
	defer s.mu.Unlock()
	root := filepath.Join(s.dataDir, "tasks")
	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read dir: %w", err)
	}
	tasks := make([]*Task, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		id, err := uuid.Parse(e.Name())
		if err != nil {
			continue
		}
		t, err := s.read(id)
		if err != nil {
			continue
		}
		tasks = append(tasks, t)
	}
	sortByID(tasks)
	return tasks, nil
}

func (s *fileRepository) FindByID(ctx context.Context, id uuid.UUID) (*Task, error) { //nolint:revive
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read(id)
}

func (s *fileRepository) Insert(ctx context.Context, t *Task) error { //nolint:revive
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := os.Stat(s.taskPath(t.ID)); err == nil {
		return ErrTaskExists
	}
	return s.write(t)
}

func (s *fileRepository) Save(ctx context.Context, t *Task) error { //nolint:revive
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.write(t)
}

func (s *fileRepository) Delete(ctx context.Context, id uuid.UUID) error { //nolint:revive
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.RemoveAll(s.taskDir(id)); err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	return nil
}

func (s *fileRepository) update(id uuid.UUID, mutate func(*Task)) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, err := s.read(id)
	if errors.Is(err, ErrTaskNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	mutate(t)
	if err := s.write(t); err != nil {
		return 0, err
	}
	return 1, nil
}

func (s *fileRepository) UpdateLanguageByID(ctx context.Context, id uuid.UUID, language string) (int, error) { //nolint:revive
	return s.update(id, func(t *Task) { t.OcrConfig.Language = language })
}

func (s *fileRepository) UpdateOcrConfigByID(ctx context.Context, id uuid.UUID, cfg OcrConfig) (int, error) { //nolint:revive
	return s.update(id, func(t *Task) { t.OcrConfig = cfg })
}

func (s *fileRepository) UpdateSchedulerConfigByID(ctx context.Context, id uuid.UUID, cfg SchedulerConfig) (int, error) { //nolint:revive
	return s.update(id, func(t *Task) { t.SchedulerConfig = cfg })
}

func (s *fileRepository) UpdateProgressByID(ctx context.Context, id uuid.UUID, snap progress.Snapshot) (int, error) { //nolint:revive
	return s.update(id, func(t *Task) { t.OcrProgress = snap })
}

func (s *fileRepository) UpdateRunResultByID(ctx context.Context, id uuid.UUID, r RunResult) (int, error) { //nolint:revive
	return s.update(id, func(t *Task) { t.ApplyRunResult(r) })
}
