package container

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"math"
	"os"
	"sync"

	"github.com/icza/mjpeg"
)

// AVI stores frames as Motion-JPEG. It is lossy and limited by the RIFF
// format; use BigTIFF for quantitative data.
type AVI struct {
	aw      mjpeg.AviWriter
	path    string
	quality int

	l      sync.Mutex
	closed bool
	frames int
	size   int64
	buf    bytes.Buffer
}

func CreateAVI(path string, opts Options) (*AVI, error) {
	if opts.Width <= 0 || opts.Height <= 0 {
		return nil, fmt.Errorf("container: avi needs the frame size up front")
	}
	fps := int32(math.Round(opts.Framerate))
	if fps <= 0 {
		fps = 1
	}
	aw, err := mjpeg.New(path, int32(opts.Width), int32(opts.Height), fps)
	if err != nil {
		return nil, err
	}
	return &AVI{
		aw:      aw,
		path:    path,
		quality: 95 - opts.Compression*5,
	}, nil
}

func (a *AVI) Append(img *image.Gray) error {
	a.l.Lock()
	defer a.l.Unlock()
	if a.closed {
		return ErrClosed
	}
	a.buf.Reset()
	if err := jpeg.Encode(&a.buf, img, &jpeg.Options{Quality: a.quality}); err != nil {
		return err
	}
	if err := a.aw.AddFrame(a.buf.Bytes()); err != nil {
		return err
	}
	a.frames++
	a.size += int64(a.buf.Len())
	return nil
}

func (a *AVI) Frames() int {
	a.l.Lock()
	defer a.l.Unlock()
	return a.frames
}

func (a *AVI) Size() int64 {
	a.l.Lock()
	defer a.l.Unlock()
	return a.size
}

func (a *AVI) Close() error {
	a.l.Lock()
	defer a.l.Unlock()
	if a.closed {
		return ErrClosed
	}
	a.closed = true
	if err := a.aw.Close(); err != nil {
		return err
	}
	if fi, err := os.Stat(a.path); err == nil {
		a.size = fi.Size()
	}
	return nil
}
