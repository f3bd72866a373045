package recognize

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
)

// Renderer rasterizes PDF pages.
type Renderer interface {
	PageCount(path string) (int, error)
	// RenderPage writes a grayscale PNG of page (1-based) to out.
	RenderPage(ctx context.Context, path string, page, dpi int, out string) error
}

// PopplerRenderer counts pages with pdfcpu and renders with pdftoppm.
type PopplerRenderer struct {
	bin    string
	runner Runner
}

func NewPopplerRenderer(bin string) *PopplerRenderer {
	if bin == "" {
		bin = "pdftoppm"
	}
	return &PopplerRenderer{bin: bin, runner: execRunner{}}
}

func (r *PopplerRenderer) PageCount(path string) (int, error) {
	n, err := api.PageCountFile(path)
	if err != nil {
		return 0, fmt.Errorf("count pdf pages: %w", err)
	}
	return n, nil
}

func (r *PopplerRenderer) RenderPage(ctx context.Context, path string, page, dpi int, out string) error {
	prefix := strings.TrimSuffix(out, ".png")
	p := strconv.Itoa(page)
	// pdftoppm -f N -l N -r <dpi> -gray -png -singlefile <in.pdf> <prefix>
	_, stderr, err := r.runner.Run(ctx, r.bin, "-f", p, "-l", p, "-r", strconv.Itoa(dpi), "-gray", "-png", "-singlefile", path, prefix)
	if err != nil {
		return fmt.Errorf("pdftoppm page %d: %w: %s", page, err, strings.TrimSpace(truncate(string(stderr), 512)))
	}
	if _, err := os.Stat(prefix + ".png"); err != nil {
		return fmt.Errorf("pdftoppm page %d produced no image: %w", page, err)
	}
	return nil
}
