package merge

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"ocrstudio/internal/task"
)

func writeFiles(t *testing.T, contents ...string) []string {
	t.Helper()
	dir := t.TempDir()
	paths := make([]string, len(contents))
	for i, c := range contents {
		paths[i] = filepath.Join(dir, string(rune('a'+i))+".src")
		if err := os.WriteFile(paths[i], []byte(c), 0o600); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	return paths
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	return string(b)
}

func TestForSelectsStrategy(t *testing.T) {
	cases := []struct {
		format task.FileFormat
		want   Strategy
	}{
		{task.FormatText, Text{}},
		{task.FormatPDF, PDF{}},
		{task.FormatHOCR, HOCR{}},
	}
	for _, c := range cases {
		got, err := For(c.format)
		if err != nil || got != c.want {
			t.Fatalf("For(%s)=%T,%v", c.format, got, err)
		}
	}
	if _, err := For("DOCX"); !errors.Is(err, ErrUnsupportedFormat) {
		t.Fatalf("expected ErrUnsupportedFormat, got %v", err)
	}
}

func TestTextMerge(t *testing.T) {
	cases := []struct {
		name    string
		sources []string
		want    string
	}{
		{"two documents", []string{"a", "b"}, "a\n\nb\n"},
		{"trailing newlines kept per line", []string{"a\n", "b\nc\n"}, "a\n\nb\nc\n"},
		{"crlf normalized", []string{"x\r\ny\r\n"}, "x\ny\n"},
		{"empty source", []string{"", "b"}, "\nb\n"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			dst := filepath.Join(t.TempDir(), "merged.txt")
			if err := (Text{}).Merge(context.Background(), dst, writeFiles(t, c.sources...)); err != nil {
				t.Fatalf("merge: %v", err)
			}
			if got := readFile(t, dst); got != c.want {
				t.Fatalf("got %q want %q", got, c.want)
			}
		})
	}
}

func TestTextMergeHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := (Text{}).Merge(ctx, filepath.Join(t.TempDir(), "m.txt"), writeFiles(t, "a"))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func hocrDoc(title, body string) string {
	return `<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE html PUBLIC "-//W3C//DTD XHTML 1.0 Transitional//EN" "http://www.w3.org/TR/xhtml1/DTD/xhtml1-transitional.dtd">
<html xmlns="http://www.w3.org/1999/xhtml" xml:lang="en" lang="en">
 <head>
  <title>` + title + `</title>
  <meta name='ocr-system' content='tesseract' />
 </head>
 <body>
  <div class='ocr_page' id='page_1'>` + body + `</div>
 </body>
</html>
`
}

func TestHOCRMergeTakesFirstHeadAndAllBodies(t *testing.T) {
	sources := writeFiles(t, hocrDoc("first", "alpha"), hocrDoc("second", "beta"))
	dst := filepath.Join(t.TempDir(), "merged.hocr")
	if err := (HOCR{}).Merge(context.Background(), dst, sources); err != nil {
		t.Fatalf("merge: %v", err)
	}
	got := readFile(t, dst)

	if !strings.Contains(got, "<title>first</title>") || strings.Contains(got, "<title>second</title>") {
		t.Fatalf("head must come from the first document only:\n%s", got)
	}
	if strings.Count(got, "<meta name='ocr-system'") != 1 {
		t.Fatalf("expected a single head:\n%s", got)
	}
	ia, ib := strings.Index(got, ">alpha<"), strings.Index(got, ">beta<")
	if ia < 0 || ib < 0 || ia > ib {
		t.Fatalf("bodies missing or out of order:\n%s", got)
	}
	for _, tag := range []string{"<html", "<head>", "<body>", "</body>", "</html>"} {
		if strings.Count(got, tag) != 1 {
			t.Fatalf("expected exactly one %s:\n%s", tag, got)
		}
	}
}

func TestParseHOCRSections(t *testing.T) {
	s, err := parseHOCR(strings.NewReader(hocrDoc("t", "word")))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !strings.Contains(string(s.head), "<title>t</title>") || strings.Contains(string(s.head), "ocr_page") {
		t.Fatalf("unexpected head %q", s.head)
	}
	if !strings.Contains(string(s.body), "<div class='ocr_page' id='page_1'>word</div>") || strings.Contains(string(s.body), "<title>") {
		t.Fatalf("unexpected body %q", s.body)
	}
}

func TestPDFMergeSingleSourceIsCopied(t *testing.T) {
	sources := writeFiles(t, "%PDF-1.4 single")
	dst := filepath.Join(t.TempDir(), "merged.pdf")
	if err := (PDF{}).Merge(context.Background(), dst, sources); err != nil {
		t.Fatalf("merge: %v", err)
	}
	if got := readFile(t, dst); got != "%PDF-1.4 single" {
		t.Fatalf("unexpected content %q", got)
	}
}

func TestMergeWithoutSources(t *testing.T) {
	for _, s := range []Strategy{Text{}, PDF{}, HOCR{}} {
		if err := s.Merge(context.Background(), filepath.Join(t.TempDir(), "x"), nil); !errors.Is(err, ErrNoSources) {
			t.Fatalf("%T: expected ErrNoSources, got %v", s, err)
		}
	}
}

type failingWriter struct{ after int }

func (f *failingWriter) Write(p []byte) (int, error) {
	if f.after == 0 {
		return 0, errors.New("disk full")
	}
	f.after--
	return len(p), nil
}

func TestWriteHeadReportsWriteErrors(t *testing.T) {
	for after := 0; after < 3; after++ {
		if err := writeHead(&failingWriter{after: after}, []byte("<title>x</title>")); err == nil {
			t.Fatalf("expected error when write %d fails", after+1)
		}
	}
	var b strings.Builder
	if err := writeHead(&b, []byte("<title>x</title>")); err != nil {
		t.Fatalf("write head: %v", err)
	}
	if b.String() != " <head><title>x</title></head>\n <body>" {
		t.Fatalf("unexpected head %q", b.String())
	}
}
