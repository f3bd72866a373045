// Package merge combines several recognized artifacts of the same format into one.
// The same strategies assemble the pages of a multi-page document and merge the
// documents of a task.
package merge

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"ocrstudio/internal/task"
)

var (
	ErrUnsupportedFormat = errors.New("unsupported merge format")
	ErrNoSources         = errors.New("nothing to merge")
)

// Strategy writes dst from sources, in the given order.
type Strategy interface {
	Merge(ctx context.Context, dst string, sources []string) error
}

// For selects the strategy of an output format.
func For(format task.FileFormat) (Strategy, error) { //nolint:ireturn
	switch format {
	case task.FormatText:
		return Text{}, nil
	case task.FormatPDF:
		return PDF{}, nil
	case task.FormatHOCR:
		return HOCR{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
}

func createOutput(dst string) (*os.File, error) {
	f, err := os.Create(dst) //nolint:gosec // path is constructed by the application
	if err != nil {
		return nil, fmt.Errorf("create merged file: %w", err)
	}
	return f, nil
}

func copyFile(dst, src string) error {
	in, err := os.Open(src) //nolint:gosec // path is constructed by the application
	if err != nil {
		return fmt.Errorf("open source: %w", err)
	}
	defer func() { _ = in.Close() }()
	out, err := createOutput(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return fmt.Errorf("copy source: %w", err)
	}
	return out.Close()
}
