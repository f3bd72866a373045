package merge

import (
	"context"
	"fmt"

	"github.com/pdfcpu/pdfcpu/pkg/api"
)

// PDF appends all pages of every source, in order, into one document saved once.
type PDF struct{}

func (PDF) Merge(ctx context.Context, dst string, sources []string) error {
	if len(sources) == 0 {
		return ErrNoSources
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(sources) == 1 {
		return copyFile(dst, sources[0])
	}
	if err := api.MergeCreateFile(sources, dst, false, nil); err != nil {
		return fmt.Errorf("merge pdf: %w", err)
	}
	return nil
}
