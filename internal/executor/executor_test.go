package executor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"ocrstudio/internal/progress"
	"ocrstudio/internal/task"
)

type fakeProcessor struct {
	mu    sync.Mutex
	seen  []string
	fail  map[string]error
	block chan struct{}
	// after runs once a document was recognized, before Process returns.
	after func(content string)
}

func (f *fakeProcessor) Process(ctx context.Context, in, outStem string, cfg task.OcrConfig) error {
	content, err := os.ReadFile(in)
	if err != nil {
		return err
	}
	f.mu.Lock()
	f.seen = append(f.seen, string(content))
	f.mu.Unlock()

	if f.block != nil {
		close(f.block)
		<-ctx.Done()
		return ctx.Err()
	}
	if err := f.fail[string(content)]; err != nil {
		return err
	}
	if err := os.WriteFile(outStem+"."+cfg.FileFormat.Extension(), []byte("ocr:"+string(content)+"\n"), 0o600); err != nil {
		return err
	}
	if f.after != nil {
		f.after(string(content))
	}
	return nil
}

type fixture struct {
	repo    task.Repository
	storage *task.Storage
	proc    *fakeProcessor
	names   int
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	return &fixture{
		repo:    task.NewFileRepository(dir),
		storage: task.NewStorage(dir + "/files"),
		proc:    &fakeProcessor{},
	}
}

func (f *fixture) deps() Deps {
	return Deps{
		Repository: f.repo,
		Storage:    f.storage,
		Processor:  f.proc,
		NewName: func() string {
			f.names++
			return fmt.Sprintf("out-%d", f.names)
		},
	}
}

// newTask stores a task whose documents map original name to content. An empty
// content leaves the input file missing on disk.
func (f *fixture) newTask(t *testing.T, cfg task.OcrConfig, docs map[string]string) *task.Task {
	t.Helper()
	tsk := &task.Task{
		ID:          uuid.New(),
		OcrConfig:   cfg,
		OcrProgress: progress.NewSnapshot(),
		CreatedAt:   time.Now(),
	}
	if err := f.storage.CreateDirectories(tsk.ID); err != nil {
		t.Fatalf("create dirs: %v", err)
	}
	for name, content := range docs {
		randomized := uuid.NewString() + ".txt"
		tsk.InDocuments = append(tsk.InDocuments, task.Document{OriginalFileName: name, RandomizedFileName: randomized})
		if content == "" {
			continue
		}
		if err := f.storage.Upload(tsk.ID, randomized, strings.NewReader(content)); err != nil {
			t.Fatalf("upload: %v", err)
		}
	}
	if err := f.repo.Insert(context.Background(), tsk); err != nil {
		t.Fatalf("insert: %v", err)
	}
	return tsk
}

func (f *fixture) load(t *testing.T, id uuid.UUID) *task.Task {
	t.Helper()
	got, err := f.repo.FindByID(context.Background(), id)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	return got
}

func TestRunProcessesDocumentsInNameOrder(t *testing.T) {
	f := newFixture(t)
	tsk := f.newTask(t, task.DefaultOcrConfig("eng"), map[string]string{"b.txt": "beta", "a.txt": "alpha"})

	ex := New(tsk.ID, time.Time{}, f.deps())
	ex.Run(context.Background())

	snap := ex.Progress().Snapshot()
	if snap.Status != progress.StatusFinished || snap.Done != 2 || snap.Total != 2 {
		t.Fatalf("unexpected progress: %+v", snap)
	}
	if strings.Join(f.proc.seen, ",") != "alpha,beta" {
		t.Fatalf("unexpected processing order: %v", f.proc.seen)
	}

	stored := f.load(t, tsk.ID)
	if stored.OcrProgress.Status != progress.StatusFinished {
		t.Fatalf("expected persisted FINISHED, got %s", stored.OcrProgress.Status)
	}
	for _, doc := range stored.InDocuments {
		if doc.OutDocument == nil {
			t.Fatalf("expected output for %s", doc.OriginalFileName)
		}
		if _, err := os.Stat(f.storage.OutputFile(tsk.ID, doc.OutDocument.OutputFileName+".txt")); err != nil {
			t.Fatalf("output of %s missing: %v", doc.OriginalFileName, err)
		}
	}
	if stored.MergedDocumentName != "" {
		t.Fatalf("merge was not requested, got %q", stored.MergedDocumentName)
	}
}

func TestRunMergesOutputs(t *testing.T) {
	f := newFixture(t)
	cfg := task.DefaultOcrConfig("eng")
	cfg.MergeDocuments = true
	tsk := f.newTask(t, cfg, map[string]string{"2.txt": "second", "1.txt": "first"})

	ex := New(tsk.ID, time.Time{}, f.deps())
	ex.Run(context.Background())

	stored := f.load(t, tsk.ID)
	if stored.OcrProgress.Status != progress.StatusFinished {
		t.Fatalf("expected FINISHED, got %+v", stored.OcrProgress)
	}
	if !strings.HasPrefix(stored.MergedDocumentName, "merged_") || !strings.HasSuffix(stored.MergedDocumentName, ".txt") {
		t.Fatalf("unexpected merged name %q", stored.MergedDocumentName)
	}
	b, err := os.ReadFile(f.storage.OutputFile(tsk.ID, stored.MergedDocumentName))
	if err != nil {
		t.Fatalf("read merged: %v", err)
	}
	if string(b) != "ocr:first\n\nocr:second\n" {
		t.Fatalf("unexpected merged content %q", b)
	}
}

func TestRunSkipsMissingInput(t *testing.T) {
	f := newFixture(t)
	tsk := f.newTask(t, task.DefaultOcrConfig("eng"), map[string]string{"a.txt": "alpha", "gone.txt": ""})

	ex := New(tsk.ID, time.Time{}, f.deps())
	ex.Run(context.Background())

	snap := ex.Progress().Snapshot()
	if snap.Status != progress.StatusFinished || snap.Done != 2 {
		t.Fatalf("unexpected progress: %+v", snap)
	}
	stored := f.load(t, tsk.ID)
	for _, doc := range stored.InDocuments {
		if doc.OriginalFileName == "gone.txt" && doc.OutDocument != nil {
			t.Fatalf("missing input must not get an output")
		}
	}
}

func TestRunFailureKeepsEarlierResults(t *testing.T) {
	f := newFixture(t)
	f.proc.fail = map[string]error{"beta": errors.New("engine exploded")}
	tsk := f.newTask(t, task.DefaultOcrConfig("eng"), map[string]string{"a.txt": "alpha", "b.txt": "beta"})

	ex := New(tsk.ID, time.Time{}, f.deps())
	ex.Run(context.Background())

	stored := f.load(t, tsk.ID)
	if stored.OcrProgress.Status != progress.StatusFailed {
		t.Fatalf("expected FAILED, got %+v", stored.OcrProgress)
	}
	if !strings.Contains(stored.OcrProgress.Description, "engine exploded") {
		t.Fatalf("expected failure reason in description, got %q", stored.OcrProgress.Description)
	}
	if stored.OcrProgress.Done != 1 {
		t.Fatalf("expected one document done, got %d", stored.OcrProgress.Done)
	}
	for _, doc := range stored.InDocuments {
		if doc.OriginalFileName == "a.txt" && doc.OutDocument == nil {
			t.Fatalf("result of a.txt must be kept")
		}
	}
}

func TestRunInterrupted(t *testing.T) {
	f := newFixture(t)
	f.proc.block = make(chan struct{})
	tsk := f.newTask(t, task.DefaultOcrConfig("eng"), map[string]string{"a.txt": "alpha", "b.txt": "beta"})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ex := New(tsk.ID, time.Time{}, f.deps())
	done := make(chan struct{})
	go func() {
		defer close(done)
		ex.Run(ctx)
	}()

	select {
	case <-f.proc.block:
	case <-time.After(2 * time.Second):
		t.Fatalf("timeout waiting for processing to start")
	}
	ex.Progress().SetStatus(progress.StatusInterrupted)
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("timeout waiting for run to stop")
	}

	stored := f.load(t, tsk.ID)
	if stored.OcrProgress.Status != progress.StatusInterrupted || stored.OcrProgress.Done != 0 {
		t.Fatalf("expected persisted INTERRUPTED with nothing done, got %+v", stored.OcrProgress)
	}
	if len(f.proc.seen) != 1 {
		t.Fatalf("no document may start after interruption, saw %v", f.proc.seen)
	}
}

func TestRunUnknownTaskFails(t *testing.T) {
	f := newFixture(t)
	ex := New(uuid.New(), time.Time{}, f.deps())
	ex.Run(context.Background())

	if got := ex.Progress().Status(); got != progress.StatusFailed {
		t.Fatalf("expected FAILED, got %s", got)
	}
}

func TestRunInterruptedBeforeStartDoesNothing(t *testing.T) {
	f := newFixture(t)
	tsk := f.newTask(t, task.DefaultOcrConfig("eng"), map[string]string{"a.txt": "alpha"})

	ex := New(tsk.ID, time.Time{}, f.deps())
	ex.Progress().SetStatus(progress.StatusInterrupted)
	ex.Run(context.Background())

	if len(f.proc.seen) != 0 {
		t.Fatalf("interrupted executor must not process, saw %v", f.proc.seen)
	}
}

func TestForTaskUsesStartDateTime(t *testing.T) {
	at := time.Date(2030, 1, 2, 3, 4, 5, 0, time.UTC)
	tsk := &task.Task{ID: uuid.New(), SchedulerConfig: task.SchedulerConfig{StartDateTime: &at}}
	if got := ForTask(tsk, Deps{}).StartAt(); !got.Equal(at) {
		t.Fatalf("expected start %v, got %v", at, got)
	}
	if got := ForTask(&task.Task{ID: uuid.New()}, Deps{}).StartAt(); !got.IsZero() {
		t.Fatalf("expected immediate start, got %v", got)
	}
}

func TestRerunWithoutMergeDropsPreviousMerge(t *testing.T) {
	f := newFixture(t)
	cfg := task.DefaultOcrConfig("eng")
	cfg.MergeDocuments = true
	tsk := f.newTask(t, cfg, map[string]string{"a.txt": "alpha", "b.txt": "beta"})

	New(tsk.ID, time.Time{}, f.deps()).Run(context.Background())
	if f.load(t, tsk.ID).MergedDocumentName == "" {
		t.Fatalf("first run must merge")
	}

	cfg.MergeDocuments = false
	if _, err := f.repo.UpdateOcrConfigByID(context.Background(), tsk.ID, cfg); err != nil {
		t.Fatalf("update config: %v", err)
	}
	New(tsk.ID, time.Time{}, f.deps()).Run(context.Background())

	stored := f.load(t, tsk.ID)
	if stored.MergedDocumentName != "" {
		t.Fatalf("second run kept merged artifact %q", stored.MergedDocumentName)
	}
	for _, doc := range stored.InDocuments {
		if doc.OutDocument == nil {
			t.Fatalf("expected output for %s", doc.OriginalFileName)
		}
	}
}

func TestRerunFailureDropsOutputsOfPreviousRun(t *testing.T) {
	f := newFixture(t)
	tsk := f.newTask(t, task.DefaultOcrConfig("eng"), map[string]string{"a.txt": "alpha", "b.txt": "beta"})
	New(tsk.ID, time.Time{}, f.deps()).Run(context.Background())

	f.proc.fail = map[string]error{"alpha": errors.New("engine exploded")}
	New(tsk.ID, time.Time{}, f.deps()).Run(context.Background())

	stored := f.load(t, tsk.ID)
	if stored.OcrProgress.Status != progress.StatusFailed {
		t.Fatalf("expected FAILED, got %+v", stored.OcrProgress)
	}
	for _, doc := range stored.InDocuments {
		if doc.OutDocument != nil {
			t.Fatalf("%s still has output %q of the previous run", doc.OriginalFileName, doc.OutDocument.OutputFileName)
		}
	}
}

func TestRunDoesNotRecreateDeletedTask(t *testing.T) {
	f := newFixture(t)
	tsk := f.newTask(t, task.DefaultOcrConfig("eng"), map[string]string{"a.txt": "alpha"})
	f.proc.after = func(string) {
		if err := f.repo.Delete(context.Background(), tsk.ID); err != nil {
			t.Errorf("delete: %v", err)
		}
	}

	New(tsk.ID, time.Time{}, f.deps()).Run(context.Background())

	if _, err := f.repo.FindByID(context.Background(), tsk.ID); !errors.Is(err, task.ErrTaskNotFound) {
		t.Fatalf("deleted task must stay deleted, got %v", err)
	}
}

func TestInterruptDuringUnitKeepsInterrupted(t *testing.T) {
	f := newFixture(t)
	tsk := f.newTask(t, task.DefaultOcrConfig("eng"), map[string]string{"a.txt": "alpha", "b.txt": "beta"})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ex := New(tsk.ID, time.Time{}, f.deps())
	f.proc.after = func(string) {
		ex.Progress().SetStatus(progress.StatusInterrupted)
		cancel()
	}
	ex.Run(ctx)

	if got := ex.Progress().Status(); got != progress.StatusInterrupted {
		t.Fatalf("expected INTERRUPTED, got %s", got)
	}
	if len(f.proc.seen) != 1 {
		t.Fatalf("only the in-flight document may finish, saw %v", f.proc.seen)
	}
	stored := f.load(t, tsk.ID)
	if stored.OcrProgress.Status != progress.StatusInterrupted || stored.OcrProgress.Done != 0 {
		t.Fatalf("expected persisted INTERRUPTED without increments, got %+v", stored.OcrProgress)
	}
}
