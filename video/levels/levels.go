// Package levels maps wide (16-bit) samples into 8-bit storage samples
// through a precomputed lookup table.
package levels

import (
	"errors"
	"fmt"
	"image"
	"math"
	"sync/atomic"

	"imager/video/source"
)

const (
	// WideLevels is the number of distinct source sample values.
	WideLevels = math.MaxUint16 + 1

	// MaxNarrow is the largest storage sample value.
	MaxNarrow = math.MaxUint8
)

var (
	ErrInvalidWindow  = errors.New("levels: invalid window")
	ErrMalformedFrame = errors.New("levels: malformed frame")
)

// Window is the clipping range applied before scaling to 8 bits.
type Window struct {
	Low  uint16 `json:"low"`
	High uint16 `json:"high"`
}

// Full covers the whole 16-bit range.
var Full = Window{Low: 0, High: math.MaxUint16}

func NewWindow(low, high int) (Window, error) {
	if low < 0 || high > math.MaxUint16 || low > high {
		return Window{}, fmt.Errorf("%w: [%d, %d]", ErrInvalidWindow, low, high)
	}
	return Window{Low: uint16(low), High: uint16(high)}, nil
}

func (w Window) String() string {
	return fmt.Sprintf("[%d, %d]", w.Low, w.High)
}

// Table holds the narrow value for every possible wide sample.
type Table struct {
	window Window
	lut    [WideLevels]uint8
}

// NewTable builds the lookup table for w. Samples at or below Low map to 0,
// samples at or above High map to MaxNarrow and samples in between are scaled
// linearly with floor division, so the mapping is non-decreasing.
func NewTable(w Window) *Table {
	t := &Table{window: w}
	low, high := int(w.Low), int(w.High)
	span := high - low
	if span == 0 {
		span = 1
	}
	for s := 0; s < WideLevels; s++ {
		switch {
		case s <= low:
			t.lut[s] = 0
		case s >= high:
			t.lut[s] = MaxNarrow
		default:
			t.lut[s] = uint8((s - low) * MaxNarrow / span)
		}
	}
	return t
}

func (t *Table) Window() Window {
	return t.window
}

// Lookup returns the narrow value for a single sample.
func (t *Table) Lookup(s uint16) uint8 {
	return t.lut[s]
}

// Convert maps every pixel of f into a new 8-bit image.
func (t *Table) Convert(f *source.Frame) (*image.Gray, error) {
	if !f.Valid() {
		if f == nil {
			return nil, fmt.Errorf("%w: nil frame", ErrMalformedFrame)
		}
		return nil, fmt.Errorf("%w: seq %d has %d samples for %dx%d",
			ErrMalformedFrame, f.Seq, len(f.Pix), f.Width, f.Height)
	}
	img := image.NewGray(f.Bounds())
	for i, s := range f.Pix {
		img.Pix[i] = t.lut[s]
	}
	return img, nil
}

type snapshot struct {
	window Window
	gen    uint64
}

// Live is a level window that may be replaced while readers are using it.
// Readers always observe a complete window, never a partial update.
type Live struct {
	cur atomic.Pointer[snapshot]
}

func NewLive(w Window) *Live {
	l := &Live{}
	l.cur.Store(&snapshot{window: w, gen: 1})
	return l
}

// Load returns the current window and its generation. The generation changes
// whenever Set stores a different window.
func (l *Live) Load() (Window, uint64) {
	s := l.cur.Load()
	return s.window, s.gen
}

// Set publishes a new window. It reports whether the window changed.
func (l *Live) Set(w Window) bool {
	for {
		old := l.cur.Load()
		if old.window == w {
			return false
		}
		if l.cur.CompareAndSwap(old, &snapshot{window: w, gen: old.gen + 1}) {
			return true
		}
	}
}

// Tracker caches the lookup table for one reader of a Live window and rebuilds
// it only when the window changes.
type Tracker struct {
	live  *Live
	gen   uint64
	table *Table
}

func NewTracker(live *Live) *Tracker {
	return &Tracker{live: live}
}

// Table returns a table for the current window, rebuilding it if needed.
func (t *Tracker) Table() *Table {
	w, gen := t.live.Load()
	if t.table == nil || gen != t.gen {
		t.table = NewTable(w)
		t.gen = gen
	}
	return t.table
}
