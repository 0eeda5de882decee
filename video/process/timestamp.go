package process

import (
	"image"
	"time"

	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// TimeLayout is the layout of the overlay text.
const TimeLayout = "2006-01-02 15:04:05.000 MST"

// DrawTimestamp draws name and t in the top left corner of img, white on a
// black box.
func DrawTimestamp(name string, img draw.Image, t time.Time) {
	text := t.Format(TimeLayout)
	if name != "" {
		text = name + " - " + text
	}

	face := basicfont.Face7x13
	pad := 2
	width := font.MeasureString(face, text).Ceil()
	m := face.Metrics()
	height := (m.Ascent + m.Descent).Ceil()

	b := img.Bounds()
	box := image.Rect(b.Min.X, b.Min.Y, b.Min.X+width+pad*2, b.Min.Y+height+pad*2).Intersect(b)
	draw.Draw(img, box, image.Black, image.Point{}, draw.Src)

	d := &font.Drawer{
		Dst:  img,
		Src:  image.White,
		Face: face,
		Dot:  fixed.P(b.Min.X+pad, b.Min.Y+pad+m.Ascent.Ceil()),
	}
	d.DrawString(text)
}
