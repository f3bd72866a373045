package recognize

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"

	"ocrstudio/internal/detect"
)

// PreProcess splits the document into units. Images become one grayscale unit,
// PDFs one grayscale raster per page, everything else passes through unchanged.
// When enabled is false the original file is always the single unit.
// The returned cleanup removes temporary files and is never nil.
func (p *Pipeline) PreProcess(ctx context.Context, in string, enabled bool) ([]Unit, func(), error) {
	noop := func() {}
	passThrough := []Unit{{Index: 1, Path: in}}
	if !enabled {
		return passThrough, noop, nil
	}

	mime, err := detect.DetectFile(p.detector, in)
	if err != nil {
		return nil, noop, err
	}
	log.Info().Str("document", filepath.Base(in)).Str("type", mime).Msg("pre processing of input document")

	if !detect.IsImage(mime) && !detect.IsPDF(mime) {
		return passThrough, noop, nil
	}

	workDir, err := os.MkdirTemp(p.cfg.TempDir, "ocr-pre-*")
	if err != nil {
		return nil, noop, fmt.Errorf("create pre-process dir: %w", err)
	}
	cleanup := func() { _ = os.RemoveAll(workDir) }

	if detect.IsImage(mime) {
		out := filepath.Join(workDir, "image.png")
		if err := toGrayscale(in, out); err != nil {
			return nil, cleanup, err
		}
		return []Unit{{Index: 1, Path: out}}, cleanup, nil
	}

	units, err := p.rasterize(ctx, in, workDir)
	return units, cleanup, err
}

// rasterize renders every page. A page that fails to render keeps its index as a gap.
func (p *Pipeline) rasterize(ctx context.Context, in, workDir string) ([]Unit, error) {
	pages, err := p.renderer.PageCount(in)
	if err != nil {
		return nil, err
	}
	log.Info().Str("document", filepath.Base(in)).Int("pages", pages).Msg("starting pdf pre process")

	units := make([]Unit, 0, pages)
	for page := 1; page <= pages; page++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out := filepath.Join(workDir, fmt.Sprintf("page-%05d.png", page))
		if err := p.renderer.RenderPage(ctx, in, page, p.cfg.DPI, out); err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			log.Warn().Str("document", filepath.Base(in)).Int("page", page).Err(err).Msg("page raster failed")
			units = append(units, Unit{Index: page})
			continue
		}
		units = append(units, Unit{Index: page, Path: out})
	}
	return units, nil
}
