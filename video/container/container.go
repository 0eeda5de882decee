// Package container implements the append-only multi-frame files sessions
// are written to.
package container

import (
	"errors"
	"fmt"
	"image"
	"path/filepath"
	"strings"
)

var (
	// ErrClosed is returned when appending to or closing a finalized container.
	ErrClosed = errors.New("container: already closed")

	ErrUnsupported = errors.New("container: unsupported format")
)

const (
	ExtTIFF = ".tiff"
	ExtTIF  = ".tif"
	ExtAVI  = ".avi"
	ExtBTF  = ".btf"
)

// Container is an ordered sequence of 8-bit frames on disk. It is opened once,
// appended to any number of times and closed exactly once.
type Container interface {
	Append(img *image.Gray) error
	Close() error

	// Frames returns the number of frames appended so far.
	Frames() int
	// Size returns the number of bytes written so far.
	Size() int64
}

type Options struct {
	// Compression ranges 0 (none) to 9 (smallest). For TIFF it selects the
	// deflate level, for AVI it lowers the JPEG quality.
	Compression int

	// Frame geometry and rate, required by formats that declare them up front.
	Width, Height int
	Framerate     float64
}

// Open creates the container for path, choosing the format by extension.
func Open(path string, opts Options) (Container, error) {
	if opts.Compression < 0 || opts.Compression > 9 {
		return nil, fmt.Errorf("container: compression level %d out of range", opts.Compression)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ExtTIFF, ExtTIF, ExtBTF:
		return CreateBigTIFF(path, opts.Compression)
	case ExtAVI:
		return CreateAVI(path, opts)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupported, filepath.Ext(path))
	}
}
