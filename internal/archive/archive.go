package archive

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"
)

var ErrNoEntries = errors.New("no entries provided")

// Entry is one file on disk to be stored in the archive under Name.
type Entry struct {
	Name string
	Path string
}

// Result describes the outcome of adding a single entry to the zip.
type Result struct {
	Filename string
	Err      string
}

// BuildArchive writes the given files into a zip streamed to w.
// It always returns a results slice of the same length as entries. For entries that
// could not be read the corresponding Result.Err is set and the file is omitted.
// Names are made unique within the archive.
func BuildArchive(ctx context.Context, w io.Writer, entries []Entry) ([]Result, error) {
	if len(entries) == 0 {
		return nil, ErrNoEntries
	}

	zipWriter := zip.NewWriter(w)
	defer func() { _ = zipWriter.Close() }()

	used := make(map[string]int, len(entries))
	results := make([]Result, len(entries))
	for i, entry := range entries {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		results[i] = addEntry(zipWriter, entry, uniqueName(used, deriveFilename(entry.Name, i)))
	}

	if err := zipWriter.Close(); err != nil {
		log.Error().Err(err).Msg("closing zip writer failed")
		return results, fmt.Errorf("close zip writer: %w", err)
	}
	return results, nil
}

// BuildArchiveFile is BuildArchive into a file at destZipPath.
func BuildArchiveFile(ctx context.Context, destZipPath string, entries []Entry) ([]Result, error) {
	zipFile, err := createFile(destZipPath)
	if err != nil {
		return nil, err
	}
	results, err := BuildArchive(ctx, zipFile, entries)
	if closeErr := zipFile.Close(); err == nil && closeErr != nil {
		log.Error().Err(closeErr).Msg("closing zip file failed")
		return results, fmt.Errorf("close zip file: %w", closeErr)
	}
	return results, err
}

// addEntry copies a single file into the zip, returning the Result.
func addEntry(zipWriter *zip.Writer, entry Entry, filename string) Result {
	result := Result{Filename: filename}

	src, err := os.Open(entry.Path) //nolint:gosec // path is constructed by the application
	if err != nil {
		result.Err = err.Error()
		log.Warn().Str("file", entry.Path).Err(err).Msg("open archive entry failed")
		return result
	}
	defer func() { _ = src.Close() }()

	zipEntryWriter, err := zipWriter.Create(filename)
	if err != nil {
		result.Err = err.Error()
		log.Warn().Str("file", entry.Path).Err(err).Msg("zip entry create failed")
		return result
	}
	if _, err := io.Copy(zipEntryWriter, src); err != nil {
		result.Err = err.Error()
		log.Warn().Str("file", entry.Path).Err(err).Msg("copy into zip failed")
		return result
	}
	return result
}

// deriveFilename extracts a safe base name or falls back to index-based naming
func deriveFilename(name string, index int) string {
	base := filepath.Base(strings.TrimSpace(strings.ReplaceAll(name, "\\", "/")))
	if base == "/" || base == "." || base == ".." || base == "" {
		return fmt.Sprintf("file-%d", index+1)
	}
	return base
}

// uniqueName appends " (n)" before the extension for repeated names.
func uniqueName(used map[string]int, name string) string {
	n := used[name]
	used[name] = n + 1
	if n == 0 {
		return name
	}
	ext := filepath.Ext(name)
	candidate := fmt.Sprintf("%s (%d)%s", strings.TrimSuffix(name, ext), n+1, ext)
	return uniqueName(used, candidate)
}

func createFile(destinationPath string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(destinationPath), 0o750); err != nil { //nolint:gosec // directory created by application under controlled path
		return nil, fmt.Errorf("ensure dir: %w", err)
	}
	outputFile, err := os.Create(destinationPath) //nolint:gosec // path is constructed by the application
	if err != nil {
		return nil, fmt.Errorf("create file: %w", err)
	}
	return outputFile, nil
}
