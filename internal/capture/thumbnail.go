package capture

import (
	"bytes"
	"fmt"
	"image"
	"image/png"
	"os"

	"golang.org/x/image/draw"
)

const DefaultThumbnailWidth = 480

// Thumbnail scales src to width pixels, keeping the aspect ratio. Images
// narrower than width are returned unscaled.
func Thumbnail(src image.Image, width int) *image.NRGBA {
	if width <= 0 {
		width = DefaultThumbnailWidth
	}
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	if w <= width || w == 0 {
		dst := image.NewNRGBA(image.Rect(0, 0, w, h))
		draw.Draw(dst, dst.Bounds(), src, b.Min, draw.Src)
		return dst
	}
	th := h * width / w
	if th < 1 {
		th = 1
	}
	dst := image.NewNRGBA(image.Rect(0, 0, width, th))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, b, draw.Src, nil)
	return dst
}

// WriteThumbnail decodes a PNG screenshot and writes its thumbnail to path.
func WriteThumbnail(pngData []byte, path string, width int) error {
	img, err := png.Decode(bytes.NewReader(pngData))
	if err != nil {
		return fmt.Errorf("capture: decode screenshot: %w", err)
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, Thumbnail(img, width)); err != nil {
		return fmt.Errorf("capture: encode thumbnail: %w", err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("capture: failed to write thumbnail: %w", err)
	}
	return nil
}
