//go:build gosseract

package recognize

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/otiai10/gosseract/v2"
	"github.com/rs/zerolog/log"

	"ocrstudio/internal/task"
)

// Embedded recognizes through libtesseract in-process. PDF output is not offered
// by the library and goes to the fallback engine. The client API has no engine
// mode setting, so OcrEngineMode is ignored and the library default applies.
type Embedded struct {
	tessdataDir string
	fallback    Engine
}

// NewEmbedded returns the in-process engine. Only available in builds with the
// gosseract tag.
func NewEmbedded(tessdataDir string, fallback Engine) (Engine, error) { //nolint:ireturn
	return &Embedded{tessdataDir: tessdataDir, fallback: fallback}, nil
}

func (e *Embedded) Recognize(ctx context.Context, in, outStem string, cfg task.OcrConfig) error {
	if cfg.FileFormat == task.FormatPDF {
		return e.fallback.Recognize(ctx, in, outStem, cfg)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if cfg.OcrEngineMode != task.EngineDefault {
		log.Debug().Str("document", in).Int("ocr_engine_mode", int(cfg.OcrEngineMode)).Msg("engine mode not supported in-process, using default")
	}

	client := gosseract.NewClient()
	defer func() { _ = client.Close() }()

	if e.tessdataDir != "" {
		if err := client.SetTessdataPrefix(e.tessdataDir); err != nil {
			return fmt.Errorf("set tessdata: %w", err)
		}
	}
	if err := client.SetLanguage(strings.Split(cfg.Language, "+")...); err != nil {
		return fmt.Errorf("set languages: %w", err)
	}
	if err := client.SetPageSegMode(gosseract.PageSegMode(cfg.PageSegmentationMode)); err != nil {
		return fmt.Errorf("set page segmentation mode: %w", err)
	}
	if err := client.SetImage(in); err != nil {
		return fmt.Errorf("set image: %w", err)
	}

	var (
		out string
		err error
	)
	if cfg.FileFormat == task.FormatHOCR {
		out, err = client.HOCRText()
	} else {
		out, err = client.Text()
	}
	if err != nil {
		return fmt.Errorf("recognize: %w", err)
	}
	if !strings.HasSuffix(out, "\n") {
		out += "\n"
	}
	dst := outStem + "." + cfg.FileFormat.Extension()
	if err := os.WriteFile(dst, []byte(out), 0o600); err != nil {
		return fmt.Errorf("write %s: %w", dst, err)
	}
	log.Debug().Str("document", in).Str("format", string(cfg.FileFormat)).Msg("recognized in-process")
	return nil
}
