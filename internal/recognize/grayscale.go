package recognize

import (
	"fmt"
	"image"
	_ "image/gif"  // register decoder
	_ "image/jpeg" // register decoder
	"image/png"
	"os"

	_ "golang.org/x/image/bmp" // register decoder
	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff" // register decoder
	_ "golang.org/x/image/webp" // register decoder
)

// toGrayscale decodes the image at in and writes a grayscale PNG to out.
func toGrayscale(in, out string) error {
	src, err := os.Open(in) //nolint:gosec // path is resolved by task storage
	if err != nil {
		return fmt.Errorf("open image: %w", err)
	}
	img, _, err := image.Decode(src)
	_ = src.Close()
	if err != nil {
		return fmt.Errorf("decode image: %w", err)
	}

	bounds := img.Bounds()
	gray := image.NewGray(bounds)
	draw.Draw(gray, bounds, img, bounds.Min, draw.Src)

	dst, err := os.Create(out) //nolint:gosec // temp path owned by the pipeline
	if err != nil {
		return fmt.Errorf("create grayscale file: %w", err)
	}
	if err := png.Encode(dst, gray); err != nil {
		_ = dst.Close()
		return fmt.Errorf("encode grayscale: %w", err)
	}
	return dst.Close()
}
