package process

import (
	"image"
	"image/jpeg"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestThumb_KeepsAspect(t *testing.T) {
	for _, tc := range []struct {
		w, h         int
		wantW, wantH int
	}{
		{w: 460, h: 270, wantW: 230, wantH: 135},
		{w: 640, h: 480, wantW: 230, wantH: 172},
		{w: 100, h: 50, wantW: 100, wantH: 50},
		{w: 2000, h: 1, wantW: 230, wantH: 1},
	} {
		got := Thumb(image.NewGray(image.Rect(0, 0, tc.w, tc.h))).Bounds()
		if got.Dx() != tc.wantW || got.Dy() != tc.wantH {
			t.Errorf("Thumb(%dx%d) = %dx%d, want %dx%d", tc.w, tc.h, got.Dx(), got.Dy(), tc.wantW, tc.wantH)
		}
	}
}

func TestWriteThumb(t *testing.T) {
	path := filepath.Join(t.TempDir(), "thumb.jpg")
	img := image.NewGray(image.Rect(0, 0, 320, 240))
	if err := WriteThumb(path, img); err != nil {
		t.Fatalf("WriteThumb() = %v", err)
	}
	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	cfg, err := jpeg.DecodeConfig(f)
	if err != nil {
		t.Fatalf("thumbnail is not a JPEG: %v", err)
	}
	if cfg.Width != ThumbWidth {
		t.Errorf("thumbnail width = %d, want %d", cfg.Width, ThumbWidth)
	}
}

func TestDrawTimestamp(t *testing.T) {
	img := image.NewGray(image.Rect(0, 0, 400, 40))
	for i := range img.Pix {
		img.Pix[i] = 128
	}
	DrawTimestamp("cam", img, time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))

	if got := img.GrayAt(0, 0).Y; got != 0 {
		t.Errorf("box corner = %d, want 0", got)
	}
	white := 0
	for y := 0; y < 20; y++ {
		for x := 0; x < 300; x++ {
			if img.GrayAt(x, y).Y == 255 {
				white++
			}
		}
	}
	if white == 0 {
		t.Error("no text pixels drawn")
	}
	if got := img.GrayAt(399, 39).Y; got != 128 {
		t.Errorf("pixel outside the box = %d, want 128", got)
	}
}

func TestDrawTimestamp_SmallImage(t *testing.T) {
	img := image.NewGray(image.Rect(0, 0, 8, 4))
	DrawTimestamp("", img, time.Now())
}
