// Package recognize turns one input document into one recognized artifact:
// optional pre-processing into units, one engine call per unit, and assembly of
// multi-unit results.
package recognize

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"

	"ocrstudio/internal/detect"
	"ocrstudio/internal/merge"
	"ocrstudio/internal/task"
)

const DefaultDPI = 300

var ErrNoUnits = errors.New("document produced no units to recognize")

// Unit is one file submitted to the engine. Index starts at 1. An empty Path marks
// a gap: the page slot exists but its raster could not be written.
type Unit struct {
	Index int
	Path  string
}

func (u Unit) Gap() bool { return u.Path == "" }

type Config struct {
	TempDir string
	DPI     int
}

type Pipeline struct {
	cfg      Config
	engine   Engine
	renderer Renderer
	detector detect.Detector
}

func NewPipeline(cfg Config, engine Engine, renderer Renderer, detector detect.Detector) *Pipeline {
	if cfg.DPI <= 0 {
		cfg.DPI = DefaultDPI
	}
	if cfg.TempDir == "" {
		cfg.TempDir = os.TempDir()
	}
	return &Pipeline{cfg: cfg, engine: engine, renderer: renderer, detector: detector}
}

// Process recognizes the document at in and writes outStem + "." + extension.
// ctx is checked before every engine call.
func (p *Pipeline) Process(ctx context.Context, in, outStem string, cfg task.OcrConfig) error {
	units, cleanup, err := p.PreProcess(ctx, in, cfg.PreProcessing)
	defer cleanup()
	if err != nil {
		return err
	}

	present := make([]Unit, 0, len(units))
	for _, u := range units {
		if u.Gap() {
			log.Warn().Str("document", filepath.Base(in)).Int("page", u.Index).Msg("skipping page without raster")
			continue
		}
		present = append(present, u)
	}

	switch len(present) {
	case 0:
		return ErrNoUnits
	case 1:
		log.Info().Str("document", filepath.Base(in)).Msg("starting ocr of one paged document")
		if err := ctx.Err(); err != nil {
			return err
		}
		return p.engine.Recognize(ctx, present[0].Path, outStem, cfg)
	default:
		log.Info().Str("document", filepath.Base(in)).Int("pages", len(present)).Msg("starting ocr of multi paged document")
		return p.recognizePages(ctx, present, outStem, cfg)
	}
}

func (p *Pipeline) recognizePages(ctx context.Context, units []Unit, outStem string, cfg task.OcrConfig) error {
	strategy, err := merge.For(cfg.FileFormat)
	if err != nil {
		return err
	}
	workDir, err := os.MkdirTemp(p.cfg.TempDir, "ocr-pages-*")
	if err != nil {
		return fmt.Errorf("create page dir: %w", err)
	}
	defer func() { _ = os.RemoveAll(workDir) }()

	pages := make([]string, 0, len(units))
	for _, u := range units {
		if err := ctx.Err(); err != nil {
			return err
		}
		stem := filepath.Join(workDir, fmt.Sprintf("page-%05d", u.Index))
		log.Debug().Int("page", u.Index).Msg("ocr of page")
		if err := p.engine.Recognize(ctx, u.Path, stem, cfg); err != nil {
			return fmt.Errorf("page %d: %w", u.Index, err)
		}
		pages = append(pages, stem+"."+cfg.FileFormat.Extension())
	}
	if err := strategy.Merge(ctx, outStem+"."+cfg.FileFormat.Extension(), pages); err != nil {
		return fmt.Errorf("assemble pages: %w", err)
	}
	return nil
}
