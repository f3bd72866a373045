package recognize

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/pdfcpu/pdfcpu/pkg/api"

	"ocrstudio/internal/detect"
	"ocrstudio/internal/task"
)

// fakeEngine writes "ocr:<input base name>" into the requested artifact.
type fakeEngine struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (f *fakeEngine) Recognize(ctx context.Context, in, outStem string, cfg task.OcrConfig) error {
	f.mu.Lock()
	f.calls = append(f.calls, in)
	f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	return os.WriteFile(outStem+"."+cfg.FileFormat.Extension(), []byte("ocr:"+filepath.Base(in)), 0o600)
}

type fakeRenderer struct {
	pages  int
	broken map[int]bool
}

func (f fakeRenderer) PageCount(string) (int, error) { return f.pages, nil }

func (f fakeRenderer) RenderPage(_ context.Context, _ string, page, dpi int, out string) error {
	if dpi != DefaultDPI {
		return errors.New("unexpected dpi")
	}
	if f.broken[page] {
		return errors.New("raster write failed")
	}
	return os.WriteFile(out, []byte("raster"), 0o600)
}

func newTestPipeline(t *testing.T, engine Engine, renderer Renderer) *Pipeline {
	t.Helper()
	return NewPipeline(Config{TempDir: t.TempDir()}, engine, renderer, detect.MimeDetector{})
}

func writeInput(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	return path
}

func writePNG(t *testing.T) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	img.Set(1, 1, color.RGBA{R: 200, G: 10, B: 10, A: 255})
	path := filepath.Join(t.TempDir(), "in")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := png.Encode(f, img); err != nil {
		t.Fatalf("encode: %v", err)
	}
	_ = f.Close()
	return path
}

var pdfHeader = []byte("%PDF-1.4\n%\xe2\xe3\xcf\xd3\n1 0 obj\n<<>>\nendobj\n")

func TestPreProcessDisabledPassesThrough(t *testing.T) {
	p := newTestPipeline(t, &fakeEngine{}, fakeRenderer{pages: 3})
	in := writeInput(t, "in", pdfHeader)
	units, cleanup, err := p.PreProcess(context.Background(), in, false)
	defer cleanup()
	if err != nil || len(units) != 1 || units[0] != (Unit{Index: 1, Path: in}) {
		t.Fatalf("unexpected units %+v err=%v", units, err)
	}
}

func TestPreProcessPlainTextIsSingleUnit(t *testing.T) {
	p := newTestPipeline(t, &fakeEngine{}, fakeRenderer{})
	in := writeInput(t, "in", []byte("just some text\n"))
	units, cleanup, err := p.PreProcess(context.Background(), in, true)
	defer cleanup()
	if err != nil || len(units) != 1 || units[0].Path != in {
		t.Fatalf("expected pass-through, got %+v err=%v", units, err)
	}
}

func TestPreProcessImageToGrayscale(t *testing.T) {
	p := newTestPipeline(t, &fakeEngine{}, fakeRenderer{})
	in := writePNG(t)
	units, cleanup, err := p.PreProcess(context.Background(), in, true)
	if err != nil || len(units) != 1 || units[0].Path == in {
		t.Fatalf("expected one converted unit, got %+v err=%v", units, err)
	}
	f, err := os.Open(units[0].Path)
	if err != nil {
		t.Fatalf("open unit: %v", err)
	}
	img, err := png.Decode(f)
	_ = f.Close()
	if err != nil {
		t.Fatalf("decode unit: %v", err)
	}
	if _, ok := img.(*image.Gray); !ok {
		t.Fatalf("expected grayscale image, got %T", img)
	}

	cleanup()
	if _, err := os.Stat(units[0].Path); !os.IsNotExist(err) {
		t.Fatalf("cleanup must remove temp unit")
	}
}

func TestPreProcessPDFKeepsGaps(t *testing.T) {
	p := newTestPipeline(t, &fakeEngine{}, fakeRenderer{pages: 3, broken: map[int]bool{2: true}})
	in := writeInput(t, "in", pdfHeader)
	units, cleanup, err := p.PreProcess(context.Background(), in, true)
	defer cleanup()
	if err != nil {
		t.Fatalf("pre-process: %v", err)
	}
	if len(units) != 3 {
		t.Fatalf("expected 3 slots, got %+v", units)
	}
	for i, u := range units {
		if u.Index != i+1 {
			t.Fatalf("unit %d has index %d", i, u.Index)
		}
	}
	if units[0].Gap() || !units[1].Gap() || units[2].Gap() {
		t.Fatalf("expected gap only at page 2: %+v", units)
	}
}

func TestProcessSingleUnitWritesOutputDirectly(t *testing.T) {
	engine := &fakeEngine{}
	p := newTestPipeline(t, engine, fakeRenderer{})
	in := writeInput(t, "doc", []byte("hello"))
	outStem := filepath.Join(t.TempDir(), "out")

	cfg := task.DefaultOcrConfig("eng")
	if err := p.Process(context.Background(), in, outStem, cfg); err != nil {
		t.Fatalf("process: %v", err)
	}
	b, err := os.ReadFile(outStem + ".txt")
	if err != nil || string(b) != "ocr:doc" {
		t.Fatalf("unexpected output %q err=%v", b, err)
	}
	if len(engine.calls) != 1 {
		t.Fatalf("expected one engine call, got %d", len(engine.calls))
	}
}

func TestProcessMultiPageAssemblesInOrderSkippingGaps(t *testing.T) {
	engine := &fakeEngine{}
	p := newTestPipeline(t, engine, fakeRenderer{pages: 3, broken: map[int]bool{2: true}})
	in := writeInput(t, "scan", pdfHeader)
	outStem := filepath.Join(t.TempDir(), "out")

	cfg := task.DefaultOcrConfig("eng")
	cfg.PreProcessing = true
	if err := p.Process(context.Background(), in, outStem, cfg); err != nil {
		t.Fatalf("process: %v", err)
	}
	b, _ := os.ReadFile(outStem + ".txt")
	if got, want := string(b), "ocr:page-00001.png\n\nocr:page-00003.png\n"; got != want {
		t.Fatalf("got %q want %q", got, want)
	}
	if len(engine.calls) != 2 {
		t.Fatalf("gap must not be recognized, calls=%v", engine.calls)
	}
}

func TestProcessAllPagesMissing(t *testing.T) {
	p := newTestPipeline(t, &fakeEngine{}, fakeRenderer{pages: 1, broken: map[int]bool{1: true}})
	in := writeInput(t, "scan", pdfHeader)
	cfg := task.DefaultOcrConfig("eng")
	cfg.PreProcessing = true
	if err := p.Process(context.Background(), in, filepath.Join(t.TempDir(), "o"), cfg); !errors.Is(err, ErrNoUnits) {
		t.Fatalf("expected ErrNoUnits, got %v", err)
	}
}

func TestProcessStopsWhenCancelled(t *testing.T) {
	engine := &fakeEngine{}
	p := newTestPipeline(t, engine, fakeRenderer{})
	in := writeInput(t, "doc", []byte("hello"))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := p.Process(ctx, in, filepath.Join(t.TempDir(), "o"), task.DefaultOcrConfig("eng"))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if len(engine.calls) != 0 {
		t.Fatalf("engine must not run after cancellation")
	}
}

func TestProcessEngineFailure(t *testing.T) {
	p := newTestPipeline(t, &fakeEngine{err: errors.New("boom")}, fakeRenderer{})
	in := writeInput(t, "doc", []byte("hello"))
	err := p.Process(context.Background(), in, filepath.Join(t.TempDir(), "o"), task.DefaultOcrConfig("eng"))
	if err == nil || !strings.Contains(err.Error(), "boom") {
		t.Fatalf("expected engine error, got %v", err)
	}
}

// imageRenderer writes a real raster per page, 10 pixels wide per page number.
type imageRenderer struct {
	pages  int
	broken map[int]bool
}

func (r imageRenderer) PageCount(string) (int, error) { return r.pages, nil }

func (r imageRenderer) RenderPage(_ context.Context, _ string, page, _ int, out string) error {
	if r.broken[page] {
		return fmt.Errorf("page %d: raster write failed", page)
	}
	f, err := os.Create(out)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()
	return png.Encode(f, image.NewGray(image.Rect(0, 0, 10*page, 20)))
}

// pdfEngine turns each unit image into a one page PDF as wide as the image.
type pdfEngine struct{}

func (pdfEngine) Recognize(_ context.Context, in, outStem string, cfg task.OcrConfig) error {
	return api.ImportImagesFile([]string{in}, outStem+"."+cfg.FileFormat.Extension(), nil, nil)
}

func TestProcessMultiPagePDFAssemblesPagesInOrder(t *testing.T) {
	p := newTestPipeline(t, pdfEngine{}, imageRenderer{pages: 4, broken: map[int]bool{2: true}})
	in := writeInput(t, "scan", pdfHeader)
	outStem := filepath.Join(t.TempDir(), "out")

	cfg := task.DefaultOcrConfig("eng")
	cfg.PreProcessing = true
	cfg.FileFormat = task.FormatPDF
	if err := p.Process(context.Background(), in, outStem, cfg); err != nil {
		t.Fatalf("process: %v", err)
	}

	dims, err := api.PageDimsFile(outStem + ".pdf")
	if err != nil {
		t.Fatalf("page dims: %v", err)
	}
	want := []float64{10, 30, 40}
	if len(dims) != len(want) {
		t.Fatalf("expected %d pages without the gap, got %d", len(want), len(dims))
	}
	for i, d := range dims {
		if d.Width != want[i] {
			t.Fatalf("page %d has width %v, want %v", i+1, d.Width, want[i])
		}
	}
}
