package capture

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"worksched/internal/model"
)

func TestGridURL(t *testing.T) {
	got, err := GridURL("http://127.0.0.1:8000/", model.NewYearMonth(2025, 5))
	if err != nil {
		t.Fatal(err)
	}
	if got != "http://127.0.0.1:8000/grid?month=2025-05" {
		t.Fatalf("GridURL = %q", got)
	}
	if _, err := GridURL("127.0.0.1:8000", model.NewYearMonth(2025, 5)); err == nil {
		t.Fatal("relative base URL should be rejected")
	}
}

func solid(w, h int, c color.Color) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

func TestThumbnailKeepsAspect(t *testing.T) {
	red := color.NRGBA{R: 255, A: 255}
	th := Thumbnail(solid(1600, 900, red), 400)
	if b := th.Bounds(); b.Dx() != 400 || b.Dy() != 225 {
		t.Fatalf("bounds = %v", b)
	}
	if got := th.NRGBAAt(200, 100); got.R < 250 || got.G > 5 || got.B > 5 {
		t.Fatalf("pixel = %v", got)
	}

	small := Thumbnail(solid(100, 50, red), 400)
	if b := small.Bounds(); b.Dx() != 100 || b.Dy() != 50 {
		t.Fatalf("small image should not be upscaled: %v", b)
	}
}

func TestWriteThumbnail(t *testing.T) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, solid(960, 540, color.NRGBA{B: 255, A: 255})); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), "thumb.png")
	if err := WriteThumbnail(buf.Bytes(), path, 0); err != nil {
		t.Fatal(err)
	}
	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	cfg, err := png.DecodeConfig(f)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Width != DefaultThumbnailWidth || cfg.Height != 270 {
		t.Fatalf("thumbnail size = %dx%d", cfg.Width, cfg.Height)
	}

	if err := WriteThumbnail([]byte("not a png"), path, 100); err == nil {
		t.Fatal("expected decode error")
	}
}
