// Package window shows frames in a local OpenCV window.
package window

import (
	"gocv.io/x/gocv"

	"imager/video/levels"
	"imager/video/sink"
	"imager/video/source"
)

type Window struct {
	*sink.Async

	window  *gocv.Window
	tracker *levels.Tracker
	sizeSet bool
}

func New(name string, live *levels.Live) *Window {
	w := &Window{
		window:  gocv.NewWindow(name),
		tracker: levels.NewTracker(live),
	}
	w.Async = sink.NewAsync(w.render)
	return w
}

func (w *Window) render(f *source.Frame) {
	img, err := w.tracker.Table().Convert(f)
	if err != nil {
		return
	}
	m, err := gocv.NewMatFromBytes(f.Height, f.Width, gocv.MatTypeCV8U, img.Pix)
	if err != nil {
		return
	}
	defer m.Close()

	if !w.sizeSet {
		w.window.ResizeWindow(f.Width, f.Height)
		w.sizeSet = true
	}
	w.window.IMShow(m)
	w.window.WaitKey(1)
}

func (w *Window) Close() {
	w.Async.Close()
	w.window.Close()
}
