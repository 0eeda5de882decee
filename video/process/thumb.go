package process

import (
	"bytes"
	"image"
	"image/jpeg"
	"os"

	"golang.org/x/image/draw"
)

// ThumbWidth is the width of session thumbnails. The height follows the
// aspect ratio of the frame.
const ThumbWidth = 230

// Thumb scales img down to ThumbWidth.
func Thumb(img image.Image) *image.Gray {
	b := img.Bounds()
	w := ThumbWidth
	if b.Dx() < w {
		w = b.Dx()
	}
	h := 1
	if b.Dx() > 0 {
		h = b.Dy() * w / b.Dx()
	}
	if h < 1 {
		h = 1
	}
	if w < 1 {
		w = 1
	}
	dst := image.NewGray(image.Rect(0, 0, w, h))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
	return dst
}

// WriteThumb writes a JPEG thumbnail of img to path.
func WriteThumb(path string, img image.Image) error {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, Thumb(img), &jpeg.Options{Quality: 85}); err != nil {
		return err
	}
	return os.WriteFile(path, buf.Bytes(), 0644)
}
