// Package cvcapture provides a source.Source backed by an OpenCV
// VideoCapture (V4L2 device, file or stream URI).
package cvcapture

import (
	"context"
	"errors"
	"fmt"
	"image"
	"strconv"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"gocv.io/x/gocv"

	"imager/video/source"
)

type Options struct {
	// Device is either a numeric device index or a file / stream URI.
	Device string

	Size      image.Point
	Framerate float64

	// Exposure is passed to the driver as-is when non-zero. Its unit is driver
	// specific (OpenCV backends commonly use log2 seconds).
	Exposure float64
}

// Capture reads grayscale frames from an OpenCV capture device. 8-bit
// devices are widened to 16-bit so every frame shares the same sample depth.
type Capture struct {
	opts Options

	l    sync.Mutex
	cap  *gocv.VideoCapture
	raw  gocv.Mat
	gray gocv.Mat
	size image.Point
}

func Open(opts Options) (*Capture, error) {
	var dev interface{} = opts.Device
	if id, err := strconv.Atoi(opts.Device); err == nil {
		dev = id
	}
	vc, err := gocv.OpenVideoCapture(dev)
	if err != nil {
		return nil, fmt.Errorf("open video capture %q: %w", opts.Device, err)
	}

	if opts.Framerate > 0 {
		vc.Set(gocv.VideoCaptureFPS, opts.Framerate)
	}
	if opts.Size.X > 0 && opts.Size.Y > 0 {
		vc.Set(gocv.VideoCaptureFrameWidth, float64(opts.Size.X))
		vc.Set(gocv.VideoCaptureFrameHeight, float64(opts.Size.Y))
	}
	if opts.Exposure != 0 {
		vc.Set(gocv.VideoCaptureExposure, opts.Exposure)
	}

	// The driver may not honour the requested size; report what it negotiated.
	size := image.Point{
		X: int(vc.Get(gocv.VideoCaptureFrameWidth)),
		Y: int(vc.Get(gocv.VideoCaptureFrameHeight)),
	}
	log.WithField("device", opts.Device).Infof("Opened video capture at %dx%d", size.X, size.Y)

	return &Capture{
		opts: opts,
		cap:  vc,
		raw:  gocv.NewMat(),
		gray: gocv.NewMat(),
		size: size,
	}, nil
}

func (c *Capture) Size() image.Point {
	return c.size
}

func (c *Capture) Acquire(ctx context.Context) (*source.Frame, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.l.Lock()
	defer c.l.Unlock()
	if c.cap == nil {
		return nil, source.Fatal(errors.New("capture already torn down"))
	}

	now := time.Now()
	if ok := c.cap.Read(&c.raw); !ok || c.raw.Empty() {
		return nil, source.Transient(errors.New("read failure"))
	}

	src := c.raw
	if c.raw.Channels() != 1 {
		gocv.CvtColor(c.raw, &c.gray, gocv.ColorBGRToGray)
		src = c.gray
	}

	f := source.NewFrame(src.Cols(), src.Rows())
	f.Time = now
	switch src.Type() {
	case gocv.MatTypeCV8U:
		for i, b := range src.ToBytes() {
			f.Pix[i] = uint16(b)<<8 | uint16(b)
		}
	case gocv.MatTypeCV16U:
		data, err := src.DataPtrUint16()
		if err != nil {
			return nil, source.Transient(err)
		}
		copy(f.Pix, data)
	default:
		return nil, source.Transient(fmt.Errorf("unsupported mat type %v", src.Type()))
	}
	return f, nil
}

func (c *Capture) Teardown() error {
	c.l.Lock()
	defer c.l.Unlock()
	if c.cap == nil {
		return nil
	}
	c.raw.Close()
	c.gray.Close()
	err := c.cap.Close()
	c.cap = nil
	return err
}
