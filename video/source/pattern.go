package source

import (
	"context"
	"image"
	"sync"
	"time"
)

// Pattern is a synthetic Source producing a moving diagonal gradient at a
// fixed interval. It is useful for dry runs without hardware.
type Pattern struct {
	size     image.Point
	interval time.Duration

	once   sync.Once
	ticker *time.Ticker
	seq    uint64
	closed bool
	l      sync.Mutex
}

func NewPattern(size image.Point, interval time.Duration) *Pattern {
	if interval <= 0 {
		interval = time.Second / 30
	}
	return &Pattern{
		size:     size,
		interval: interval,
	}
}

func (p *Pattern) Size() image.Point {
	return p.size
}

func (p *Pattern) Acquire(ctx context.Context) (*Frame, error) {
	p.once.Do(func() {
		p.ticker = time.NewTicker(p.interval)
	})

	p.l.Lock()
	closed := p.closed
	p.l.Unlock()
	if closed {
		return nil, Fatal(context.Canceled)
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-p.ticker.C:
	}

	f := NewFrame(p.size.X, p.size.Y)
	shift := uint32(p.seq * 512)
	for y := 0; y < p.size.Y; y++ {
		row := f.Pix[y*p.size.X : (y+1)*p.size.X]
		for x := range row {
			row[x] = uint16((uint32(x+y)*97 + shift) & 0xffff)
		}
	}
	p.seq++
	return f, nil
}

func (p *Pattern) Teardown() error {
	p.l.Lock()
	defer p.l.Unlock()
	p.closed = true
	if p.ticker != nil {
		p.ticker.Stop()
	}
	return nil
}
