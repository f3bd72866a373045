package recognize

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"ocrstudio/internal/task"
)

// Engine recognizes one unit file into outStem + "." + format extension.
type Engine interface {
	Recognize(ctx context.Context, in, outStem string, cfg task.OcrConfig) error
}

// Tesseract drives the tesseract command line tool.
type Tesseract struct {
	bin         string
	tessdataDir string
	runner      Runner
}

func NewTesseract(bin, tessdataDir string) *Tesseract {
	if bin == "" {
		bin = "tesseract"
	}
	return &Tesseract{bin: bin, tessdataDir: tessdataDir, runner: execRunner{}}
}

// WithRunner replaces the command runner; used by tests.
func (t *Tesseract) WithRunner(r Runner) *Tesseract {
	t.runner = r
	return t
}

func (t *Tesseract) Recognize(ctx context.Context, in, outStem string, cfg task.OcrConfig) error {
	// tesseract <in> <outStem> -l <lang> --oem <n> --psm <n> [--tessdata-dir <dir>] <txt|pdf|hocr>
	args := []string{
		in, outStem,
		"-l", cfg.Language,
		"--oem", strconv.Itoa(int(cfg.OcrEngineMode)),
		"--psm", strconv.Itoa(int(cfg.PageSegmentationMode)),
	}
	if t.tessdataDir != "" {
		args = append(args, "--tessdata-dir", t.tessdataDir)
	}
	args = append(args, cfg.FileFormat.RenderedFormat())

	_, stderr, err := t.runner.Run(ctx, t.bin, args...)
	if err != nil {
		return fmt.Errorf("tesseract: %w: %s", err, strings.TrimSpace(truncate(string(stderr), 512)))
	}
	out := outStem + "." + cfg.FileFormat.Extension()
	if _, err := os.Stat(out); err != nil {
		return fmt.Errorf("tesseract produced no output %s: %w", out, err)
	}
	return nil
}
