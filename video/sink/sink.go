package sink

import (
	"imager/video/source"
)

// Sink defines a live destination for frames, such as a preview window or
// stream. Show must not block the caller for longer than a copy; a sink that
// falls behind drops frames instead.
type Sink interface {
	// Show offers a frame to the sink. The caller keeps ownership: the sink
	// must not modify the frame and may only read it until Show returns.
	Show(f *source.Frame)

	// Close releases the sink.
	Close()
}

// Tee fans a frame out to several sinks in order.
type Tee []Sink

func (t Tee) Show(f *source.Frame) {
	for _, s := range t {
		s.Show(f)
	}
}

func (t Tee) Close() {
	for _, s := range t {
		s.Close()
	}
}
