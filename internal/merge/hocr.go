package merge

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"golang.org/x/net/html"
)

const (
	hocrProlog = `<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE html PUBLIC "-//W3C//DTD XHTML 1.0 Transitional//EN" "http://www.w3.org/TR/xhtml1/DTD/xhtml1-transitional.dtd">
<html xmlns="http://www.w3.org/1999/xhtml">
`
	hocrEpilog = "\n </body>\n</html>\n"
)

// HOCR splices hOCR documents: one wrapper, the head of the first source and the
// bodies of all sources in order.
type HOCR struct{}

type hocrSections struct {
	head []byte
	body []byte
}

func (HOCR) Merge(ctx context.Context, dst string, sources []string) error {
	if len(sources) == 0 {
		return ErrNoSources
	}
	out, err := createOutput(dst)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(out)
	fail := func(err error) error {
		_ = out.Close()
		return err
	}

	if _, err := w.WriteString(hocrProlog); err != nil {
		return fail(fmt.Errorf("write hocr prolog: %w", err))
	}
	for i, src := range sources {
		if err := ctx.Err(); err != nil {
			return fail(err)
		}
		sections, err := parseHOCRFile(src)
		if err != nil {
			return fail(err)
		}
		if i == 0 {
			if err := writeHead(w, sections.head); err != nil {
				return fail(err)
			}
		}
		if _, err := w.Write(sections.body); err != nil {
			return fail(fmt.Errorf("write hocr body: %w", err))
		}
	}
	if _, err := w.WriteString(hocrEpilog); err != nil {
		return fail(fmt.Errorf("write hocr epilog: %w", err))
	}
	if err := w.Flush(); err != nil {
		return fail(fmt.Errorf("flush hocr: %w", err))
	}
	return out.Close()
}

// writeHead writes the head of the first source and opens the body.
func writeHead(w io.Writer, head []byte) error {
	for _, part := range [][]byte{[]byte(" <head>"), head, []byte("</head>\n <body>")} {
		if _, err := w.Write(part); err != nil {
			return fmt.Errorf("write hocr head: %w", err)
		}
	}
	return nil
}

func parseHOCRFile(path string) (hocrSections, error) {
	f, err := os.Open(path) //nolint:gosec // path is constructed by the application
	if err != nil {
		return hocrSections{}, fmt.Errorf("open hocr source: %w", err)
	}
	defer func() { _ = f.Close() }()
	sections, err := parseHOCR(f)
	if err != nil {
		return hocrSections{}, fmt.Errorf("parse %s: %w", path, err)
	}
	return sections, nil
}

// parseHOCR streams the markup and keeps the raw inner content of head and body.
func parseHOCR(r io.Reader) (hocrSections, error) {
	z := html.NewTokenizer(r)
	var head, body bytes.Buffer
	var current *bytes.Buffer
	for {
		tt := z.Next()
		if tt == html.ErrorToken {
			if errors.Is(z.Err(), io.EOF) {
				return hocrSections{head: head.Bytes(), body: body.Bytes()}, nil
			}
			return hocrSections{}, z.Err()
		}
		// Raw must be copied before TagName, which rewrites the token buffer.
		raw := append([]byte(nil), z.Raw()...)
		if tt == html.StartTagToken || tt == html.EndTagToken {
			name, _ := z.TagName()
			switch string(name) {
			case "head":
				current = sectionFor(tt, &head)
				continue
			case "body":
				current = sectionFor(tt, &body)
				continue
			case "html":
				current = nil
				continue
			}
		}
		if current != nil {
			current.Write(raw)
		}
	}
}

func sectionFor(tt html.TokenType, buf *bytes.Buffer) *bytes.Buffer {
	if tt == html.StartTagToken {
		return buf
	}
	return nil
}
