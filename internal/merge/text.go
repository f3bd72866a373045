package merge

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// Text concatenates sources line by line with one blank line between sources.
type Text struct{}

func (Text) Merge(ctx context.Context, dst string, sources []string) error {
	if len(sources) == 0 {
		return ErrNoSources
	}
	out, err := createOutput(dst)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(out)
	for i, src := range sources {
		if err := ctx.Err(); err != nil {
			_ = out.Close()
			return err
		}
		if i > 0 {
			if _, err := w.WriteString("\n"); err != nil {
				_ = out.Close()
				return fmt.Errorf("write separator: %w", err)
			}
		}
		if err := copyLines(w, src); err != nil {
			_ = out.Close()
			return err
		}
	}
	if err := w.Flush(); err != nil {
		_ = out.Close()
		return fmt.Errorf("flush merged text: %w", err)
	}
	return out.Close()
}

// copyLines writes every line of src terminated by a single "\n".
func copyLines(w *bufio.Writer, src string) error {
	f, err := os.Open(src) //nolint:gosec // path is constructed by the application
	if err != nil {
		return fmt.Errorf("open text source: %w", err)
	}
	defer func() { _ = f.Close() }()

	r := bufio.NewReader(f)
	for {
		line, err := r.ReadString('\n')
		if line != "" {
			line = strings.TrimRight(line, "\r\n")
			if _, werr := w.WriteString(line + "\n"); werr != nil {
				return fmt.Errorf("write line: %w", werr)
			}
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read text source: %w", err)
		}
	}
}
