package task

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	fileutil "ocrstudio/internal/file"
)

const (
	inputDirName  = "input"
	outputDirName = "output"
)

// Storage resolves the on-disk layout of tasks: <root>/<taskId>/{input,output}/<name>.
// Names under these directories are always generated, never taken from the user.
type Storage struct {
	root string
}

func NewStorage(root string) *Storage {
	return &Storage{root: root}
}

func (s *Storage) Root() string { return s.root }

func (s *Storage) TaskDir(id uuid.UUID) string {
	return filepath.Join(s.root, id.String())
}

func (s *Storage) InputFile(id uuid.UUID, name string) string {
	return filepath.Join(s.TaskDir(id), inputDirName, filepath.Base(name))
}

func (s *Storage) OutputFile(id uuid.UUID, name string) string {
	return filepath.Join(s.TaskDir(id), outputDirName, filepath.Base(name))
}

// CreateDirectories prepares input/ and output/ in a temporary directory and renames
// it into place, so a task directory either exists complete or not at all.
func (s *Storage) CreateDirectories(id uuid.UUID) error {
	if err := fileutil.EnsureDir(s.root); err != nil {
		return err
	}
	staging, err := os.MkdirTemp(s.root, ".tmp-task-*")
	if err != nil {
		return fmt.Errorf("create staging dir: %w", err)
	}
	for _, sub := range []string{inputDirName, outputDirName} {
		if err := fileutil.EnsureDir(filepath.Join(staging, sub)); err != nil {
			_ = os.RemoveAll(staging)
			return err
		}
	}
	if err := os.Rename(staging, s.TaskDir(id)); err != nil {
		_ = os.RemoveAll(staging)
		return fmt.Errorf("publish task dir: %w", err)
	}
	return nil
}

// Upload copies the reader into the task's input directory under name.
func (s *Storage) Upload(id uuid.UUID, name string, r io.Reader) error {
	return fileutil.CopyAtomic(s.InputFile(id, name), r) //nolint:wrapcheck
}

func (s *Storage) DeleteFile(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete file: %w", err)
	}
	return nil
}

// RemoveTask deletes the task directory with all its inputs and outputs.
func (s *Storage) RemoveTask(id uuid.UUID) error {
	if err := os.RemoveAll(s.TaskDir(id)); err != nil {
		return fmt.Errorf("remove task dir: %w", err)
	}
	return nil
}
