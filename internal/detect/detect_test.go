package detect

import (
	"bytes"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"testing"
)

func pngBytes(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 2, 2))); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func TestMimeDetector(t *testing.T) {
	d := MimeDetector{}
	cases := []struct {
		name string
		data []byte
		want string
	}{
		{"text", []byte("hello world\n"), MimeText},
		{"pdf", []byte("%PDF-1.7\n%\xe2\xe3\xcf\xd3\n1 0 obj\n"), MimePDF},
		{"png", pngBytes(t), "image/png"},
	}
	for _, c := range cases {
		if got := d.Detect(c.data); got != c.want {
			t.Fatalf("%s: got %q want %q", c.name, got, c.want)
		}
	}
}

func TestDetectFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "f")
	if err := os.WriteFile(path, pngBytes(t), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	got, err := DetectFile(MimeDetector{}, path)
	if err != nil || !IsImage(got) {
		t.Fatalf("expected image, got %q %v", got, err)
	}
}

func TestFromUpload(t *testing.T) {
	d := MimeDetector{}
	if got := FromUpload(d, "application/pdf", []byte("x")); got != MimePDF {
		t.Fatalf("declared type should win, got %q", got)
	}
	if got := FromUpload(d, "application/octet-stream", []byte("plain text")); got != MimeText {
		t.Fatalf("octet-stream should be sniffed, got %q", got)
	}
}

func TestExtension(t *testing.T) {
	cases := map[string]string{
		"text/plain; charset=utf-8": ".txt",
		"image/jpeg":                ".jpg",
		"image/jpg":                 ".jpg",
		"IMAGE/PNG":                 ".png",
		"image/tiff":                ".tiff",
		"application/pdf":           ".pdf",
		"application/zip":           ".zip",
		"x/unknown":                 "",
	}
	for mime, want := range cases {
		if got := Extension(mime); got != want {
			t.Fatalf("Extension(%q) = %q, want %q", mime, got, want)
		}
	}
}
