package task

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"go.etcd.io/bbolt"

	"ocrstudio/internal/progress"
)

const tasksBucketName = "tasks"

// BoltRepository keeps tasks as JSON documents in a single bbolt bucket keyed by task id.
type BoltRepository struct {
	db *bbolt.DB
}

// OpenBoltRepository opens (or creates) the database file and its tasks bucket.
func OpenBoltRepository(path string) (*BoltRepository, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("ensure db dir: %w", err)
	}
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		log.Error().Str("db_path", path).Err(err).Msg("failed to open database")
		return nil, fmt.Errorf("open bolt: %w", err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(tasksBucketName))
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create tasks bucket: %w", err)
	}
	log.Info().Str("db_path", path).Msg("database opened")
	return &BoltRepository{db: db}, nil
}

func (r *BoltRepository) Close() error {
	return r.db.Close()
}

func getTask(b *bbolt.Bucket, id uuid.UUID) (*Task, error) {
	raw := b.Get([]byte(id.String()))
	if raw == nil {
		return nil, ErrTaskNotFound
	}
	var t Task
	if err := json.Unmarshal(raw, &t); err != nil {
		return nil, fmt.Errorf("decode task %s: %w", id, err)
	}
	return &t, nil
}

func putTask(b *bbolt.Bucket, t *Task) error {
	raw, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("encode task %s: %w", t.ID, err)
	}
	return b.Put([]byte(t.ID.String()), raw)
}

func (r *BoltRepository) FindAll(ctx context.Context) ([]*Task, error) { //nolint:revive // context reserved for future use
	var tasks []*Task
	err := r.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(tasksBucketName)).ForEach(func(_, v []byte) error {
			var t Task
			if err := json.Unmarshal(v, &t); err != nil {
				return err
			}
			tasks = append(tasks, &t)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("find all: %w", err)
	}
	sortByID(tasks)
	return tasks, nil
}

func (r *BoltRepository) FindByID(ctx context.Context, id uuid.UUID) (*Task, error) { //nolint:revive
	var t *Task
	err := r.db.View(func(tx *bbolt.Tx) error {
		var err error
		t, err = getTask(tx.Bucket([]byte(tasksBucketName)), id)
		return err
	})
	return t, err
}

func (r *BoltRepository) Insert(ctx context.Context, t *Task) error { //nolint:revive
	return r.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(tasksBucketName))
		if b.Get([]byte(t.ID.String())) != nil {
			return ErrTaskExists
		}
		return putTask(b, t)
	})
}

func (r *BoltRepository) Save(ctx context.Context, t *Task) error { //nolint:revive
	return r.db.Update(func(tx *bbolt.Tx) error {
		return putTask(tx.Bucket([]byte(tasksBucketName)), t)
	})
}

func (r *BoltRepository) Delete(ctx context.Context, id uuid.UUID) error { //nolint:revive
	return r.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(tasksBucketName)).Delete([]byte(id.String()))
	})
}

// update applies mutate to the stored task inside one write transaction.
func (r *BoltRepository) update(id uuid.UUID, mutate func(*Task)) (int, error) {
	updated := 0
	err := r.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(tasksBucketName))
		t, err := getTask(b, id)
		if err == ErrTaskNotFound { //nolint:errorlint // sentinel returned directly by getTask
			return nil
		}
		if err != nil {
			return err
		}
		mutate(t)
		if err := putTask(b, t); err != nil {
			return err
		}
		updated = 1
		return nil
	})
	return updated, err
}

func (r *BoltRepository) UpdateLanguageByID(ctx context.Context, id uuid.UUID, language string) (int, error) { //nolint:revive
	return r.update(id, func(t *Task) { t.OcrConfig.Language = language })
}

func (r *BoltRepository) UpdateOcrConfigByID(ctx context.Context, id uuid.UUID, cfg OcrConfig) (int, error) { //nolint:revive
	return r.update(id, func(t *Task) { t.OcrConfig = cfg })
}

func (r *BoltRepository) UpdateSchedulerConfigByID(ctx context.Context, id uuid.UUID, cfg SchedulerConfig) (int, error) { //nolint:revive
	return r.update(id, func(t *Task) { t.SchedulerConfig = cfg })
}

func (r *BoltRepository) UpdateProgressByID(ctx context.Context, id uuid.UUID, snap progress.Snapshot) (int, error) { //nolint:revive
	return r.update(id, func(t *Task) { t.OcrProgress = snap })
}

func (r *BoltRepository) UpdateRunResultByID(ctx context.Context, id uuid.UUID, res RunResult) (int, error) { //nolint:revive
	return r.update(id, func(t *Task) { t.ApplyRunResult(res) })
}
