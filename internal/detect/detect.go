package detect

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

const (
	MimePDF         = "application/pdf"
	MimeText        = "text/plain"
	MimeOctetStream = "application/octet-stream"
)

// Detector classifies content by its leading bytes.
type Detector interface {
	Detect(data []byte) string
}

// MimeDetector uses magic-number sniffing. Parameters such as charset are stripped.
type MimeDetector struct{}

func (MimeDetector) Detect(data []byte) string {
	return baseType(mimetype.Detect(data).String())
}

// DetectFile reads the header of path and classifies it.
func DetectFile(d Detector, path string) (string, error) {
	f, err := os.Open(path) //nolint:gosec // path is resolved by task storage
	if err != nil {
		return "", fmt.Errorf("open for detection: %w", err)
	}
	defer func() { _ = f.Close() }()

	header := make([]byte, 3072)
	n, err := io.ReadFull(f, header)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF { //nolint:errorlint // io sentinels
		return "", fmt.Errorf("read header: %w", err)
	}
	return d.Detect(header[:n]), nil
}

// FromUpload keeps a client supplied type unless it is missing or generic.
func FromUpload(d Detector, declared string, header []byte) string {
	declared = baseType(declared)
	if declared == "" || strings.EqualFold(declared, MimeOctetStream) {
		return d.Detect(header)
	}
	return declared
}

func IsImage(mime string) bool {
	return strings.HasPrefix(mime, "image/")
}

func IsPDF(mime string) bool {
	return mime == MimePDF
}

// extensionOverrides covers declared types mimetype does not know under that name.
var extensionOverrides = map[string]string{
	"image/jpg":  ".jpg",
	"image/tif":  ".tiff",
	"text/plain": ".txt",
}

// Extension maps a MIME type to the extension used for download entry names.
// Unknown types have no extension.
func Extension(mime string) string {
	base := baseType(mime)
	if ext, ok := extensionOverrides[base]; ok {
		return ext
	}
	if m := mimetype.Lookup(base); m != nil {
		return m.Extension()
	}
	return ""
}

func baseType(mime string) string {
	base, _, _ := strings.Cut(mime, ";")
	return strings.ToLower(strings.TrimSpace(base))
}
