package container

import (
	"errors"
	"image"
	"os"
	"path/filepath"
	"testing"
)

func grayFrame(w, h int, tag uint8) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = tag + uint8(i%3)
	}
	return img
}

func TestBigTIFF_AppendAndReadBack(t *testing.T) {
	for _, level := range []int{0, 1, 9} {
		path := filepath.Join(t.TempDir(), "run.tif")
		c, err := Open(path, Options{Compression: level})
		if err != nil {
			t.Fatalf("Open() error = %v", err)
		}

		const n = 12
		for i := 0; i < n; i++ {
			// Odd sizes exercise the word alignment padding.
			if err := c.Append(grayFrame(7, 5, uint8(i*10))); err != nil {
				t.Fatalf("Append(%d) error = %v", i, err)
			}
		}
		if c.Frames() != n {
			t.Errorf("Frames() = %d, want %d", c.Frames(), n)
		}
		if err := c.Close(); err != nil {
			t.Fatalf("Close() error = %v", err)
		}

		r, closeFn, err := ReadBigTIFF(path)
		if err != nil {
			t.Fatalf("level %d: ReadBigTIFF() error = %v", level, err)
		}
		if len(r.Pages) != n {
			t.Fatalf("level %d: pages = %d, want %d", level, len(r.Pages), n)
		}
		for i := 0; i < n; i++ {
			img, err := r.Image(i)
			if err != nil {
				t.Fatalf("Image(%d) error = %v", i, err)
			}
			want := grayFrame(7, 5, uint8(i*10))
			if string(img.Pix) != string(want.Pix) {
				t.Errorf("level %d: page %d pixels differ", level, i)
			}
		}
		closeFn()
	}
}

func TestBigTIFF_EmptyFileHasNoPages(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.tiff")
	c, err := CreateBigTIFF(path, 0)
	if err != nil {
		t.Fatal(err)
	}
	if err := c.Close(); err != nil {
		t.Fatal(err)
	}
	r, closeFn, err := ReadBigTIFF(path)
	if err != nil {
		t.Fatalf("ReadBigTIFF() error = %v", err)
	}
	defer closeFn()
	if len(r.Pages) != 0 {
		t.Errorf("pages = %d, want 0", len(r.Pages))
	}
}

func TestBigTIFF_AppendAfterClose(t *testing.T) {
	c, err := CreateBigTIFF(filepath.Join(t.TempDir(), "x.tif"), 0)
	if err != nil {
		t.Fatal(err)
	}
	if err := c.Close(); err != nil {
		t.Fatal(err)
	}
	if err := c.Append(grayFrame(2, 2, 0)); !errors.Is(err, ErrClosed) {
		t.Errorf("Append() after Close error = %v, want ErrClosed", err)
	}
	if err := c.Close(); !errors.Is(err, ErrClosed) {
		t.Errorf("second Close() error = %v, want ErrClosed", err)
	}
}

func TestBigTIFF_SubImage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub.tif")
	c, err := CreateBigTIFF(path, 0)
	if err != nil {
		t.Fatal(err)
	}
	full := grayFrame(8, 8, 0)
	sub := full.SubImage(image.Rect(2, 2, 6, 5)).(*image.Gray)
	if err := c.Append(sub); err != nil {
		t.Fatal(err)
	}
	c.Close()

	r, closeFn, err := ReadBigTIFF(path)
	if err != nil {
		t.Fatal(err)
	}
	defer closeFn()
	img, err := r.Image(0)
	if err != nil {
		t.Fatal(err)
	}
	for y := 0; y < 3; y++ {
		for x := 0; x < 4; x++ {
			if got, want := img.GrayAt(x, y), sub.GrayAt(x+2, y+2); got != want {
				t.Fatalf("pixel (%d,%d) = %v, want %v", x, y, got, want)
			}
		}
	}
}

func TestReader_RejectsOtherFiles(t *testing.T) {
	path := filepath.Join(t.TempDir(), "junk.tif")
	if err := os.WriteFile(path, []byte("II*\x00not a bigtiff at all"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, _, err := ReadBigTIFF(path); !errors.Is(err, ErrFormat) {
		t.Errorf("ReadBigTIFF() error = %v, want ErrFormat", err)
	}
}

func TestOpen_ByExtension(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name    string
		opts    Options
		wantErr error
	}{
		{"a.tiff", Options{}, nil},
		{"b.TIF", Options{}, nil},
		{"c.btf", Options{Compression: 6}, nil},
		{"d.avi", Options{Width: 16, Height: 8, Framerate: 10}, nil},
		{"e.png", Options{}, ErrUnsupported},
	}
	for _, tt := range tests {
		c, err := Open(filepath.Join(dir, tt.name), tt.opts)
		if tt.wantErr != nil {
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Open(%s) error = %v, want %v", tt.name, err, tt.wantErr)
			}
			continue
		}
		if err != nil {
			t.Errorf("Open(%s) error = %v", tt.name, err)
			continue
		}
		if err := c.Close(); err != nil {
			t.Errorf("Close(%s) error = %v", tt.name, err)
		}
	}

	if _, err := Open(filepath.Join(dir, "f.tif"), Options{Compression: 12}); err == nil {
		t.Error("Open() accepted compression level 12")
	}
}

func TestAVI_Append(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.avi")
	c, err := CreateAVI(path, Options{Width: 16, Height: 8, Framerate: 20, Compression: 2})
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 3; i++ {
		if err := c.Append(grayFrame(16, 8, uint8(i))); err != nil {
			t.Fatalf("Append(%d) error = %v", i, err)
		}
	}
	if err := c.Close(); err != nil {
		t.Fatal(err)
	}
	if c.Frames() != 3 {
		t.Errorf("Frames() = %d, want 3", c.Frames())
	}
	if err := c.Append(grayFrame(16, 8, 0)); !errors.Is(err, ErrClosed) {
		t.Errorf("Append() after Close error = %v, want ErrClosed", err)
	}
	fi, err := os.Stat(path)
	if err != nil || fi.Size() == 0 {
		t.Errorf("avi file missing or empty: %v", err)
	}
}

func TestAVI_NeedsSize(t *testing.T) {
	if _, err := CreateAVI(filepath.Join(t.TempDir(), "x.avi"), Options{}); err == nil {
		t.Error("CreateAVI() without size succeeded")
	}
}
