package sink

import (
	"imager/video/levels"
	"imager/video/process"
	"imager/video/source"
)

// Preview shows frames on an MJPEG stream, converted with the live level
// window and stamped with the acquisition time.
type Preview struct {
	*Async

	name    string
	stream  *MJPEGStream
	tracker *levels.Tracker
}

func NewPreview(name string, stream *MJPEGStream, live *levels.Live) *Preview {
	p := &Preview{
		name:    name,
		stream:  stream,
		tracker: levels.NewTracker(live),
	}
	p.Async = NewAsync(p.render)
	p.Async.Wanted = func() bool {
		return stream.Listeners() > 0
	}
	return p
}

func (p *Preview) render(f *source.Frame) {
	img, err := p.tracker.Table().Convert(f)
	if err != nil {
		return
	}
	process.DrawTimestamp(p.name, img, f.Time)
	p.stream.Put(img)
}

func (p *Preview) Close() {
	p.Async.Close()
	p.stream.Close()
}
