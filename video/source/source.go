package source

import (
	"context"
	"errors"
	"fmt"
	"image"
	"time"
)

var (
	// ErrTransient marks a failure limited to a single frame. The acquisition
	// loop skips the frame and keeps going.
	ErrTransient = errors.New("source: transient frame failure")

	// ErrFatal marks a failure the source cannot recover from.
	ErrFatal = errors.New("source: fatal failure")
)

// Transient wraps err so that errors.Is(err, ErrTransient) holds.
func Transient(err error) error {
	return fmt.Errorf("%w: %v", ErrTransient, err)
}

// Fatal wraps err so that errors.Is(err, ErrFatal) holds.
func Fatal(err error) error {
	return fmt.Errorf("%w: %v", ErrFatal, err)
}

// Frame is one acquired image: a row-major grid of wide (16-bit) samples.
//
// A Frame is owned by exactly one stage at a time. Once it has been handed to
// the queue the producer must not touch it again.
type Frame struct {
	Seq  uint64
	Time time.Time

	Width  int
	Height int
	Pix    []uint16
}

// NewFrame allocates a zeroed frame of the given size.
func NewFrame(width, height int) *Frame {
	return &Frame{
		Width:  width,
		Height: height,
		Pix:    make([]uint16, width*height),
		Time:   time.Now(),
	}
}

// Bounds returns the frame rectangle.
func (f *Frame) Bounds() image.Rectangle {
	return image.Rect(0, 0, f.Width, f.Height)
}

// Valid reports whether the pixel buffer matches the declared size.
func (f *Frame) Valid() bool {
	return f != nil && f.Width > 0 && f.Height > 0 && len(f.Pix) == f.Width*f.Height
}

// Source defines a stream of frames, such as a camera.
type Source interface {
	// Acquire blocks until the next frame is available. Errors wrapping
	// ErrTransient only affect this frame; any other error ends acquisition.
	// Acquire must return promptly once ctx is cancelled.
	Acquire(ctx context.Context) (*Frame, error)

	// Size returns the size of the frames produced by the source.
	Size() image.Point

	// Teardown releases the device and all resources held by the source.
	Teardown() error
}
