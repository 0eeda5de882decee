package video

import (
	"context"
	"errors"
	"image"
	"sync"
	"sync/atomic"
	"time"

	"imager/video/container"
	"imager/video/metadata"
	"imager/video/source"
)

// tagged returns a frame whose samples all convert to tag under the full
// window.
func tagged(w, h int, tag uint8) *source.Frame {
	f := source.NewFrame(w, h)
	for i := range f.Pix {
		f.Pix[i] = uint16(tag) * 257
	}
	return f
}

// fakeSource yields tagged frames numbered by successful acquisitions. After
// limit frames it closes exhausted and blocks until cancelled.
type fakeSource struct {
	size   image.Point
	limit  int
	delay  time.Duration
	failAt map[int]error

	teardownErr error

	mu        sync.Mutex
	calls     int
	frames    int
	exhausted chan struct{}
	once      sync.Once
	teardowns atomic.Int32
}

func newFakeSource(limit int) *fakeSource {
	return &fakeSource{
		size:      image.Pt(4, 3),
		limit:     limit,
		exhausted: make(chan struct{}),
	}
}

func (s *fakeSource) Size() image.Point {
	return s.size
}

func (s *fakeSource) Acquire(ctx context.Context) (*source.Frame, error) {
	if s.delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(s.delay):
		}
	}

	s.mu.Lock()
	call := s.calls
	s.calls++
	n := s.frames
	s.mu.Unlock()

	if err, ok := s.failAt[call]; ok {
		return nil, err
	}
	if s.limit > 0 && n >= s.limit {
		s.once.Do(func() { close(s.exhausted) })
		<-ctx.Done()
		return nil, ctx.Err()
	}

	s.mu.Lock()
	s.frames++
	s.mu.Unlock()
	return tagged(s.size.X, s.size.Y, uint8(n)), nil
}

func (s *fakeSource) Teardown() error {
	s.teardowns.Add(1)
	return s.teardownErr
}

// memContainer keeps appended frames in memory.
type memContainer struct {
	delay  time.Duration
	failAt int

	mu     sync.Mutex
	frames []*image.Gray
	closes int
}

func newMemContainer() *memContainer {
	return &memContainer{failAt: -1}
}

func (c *memContainer) Append(img *image.Gray) error {
	if c.delay > 0 {
		time.Sleep(c.delay)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closes > 0 {
		return container.ErrClosed
	}
	if len(c.frames) == c.failAt {
		c.failAt = -1
		return errors.New("disk full")
	}
	c.frames = append(c.frames, img)
	return nil
}

func (c *memContainer) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closes++
	return nil
}

func (c *memContainer) Frames() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.frames)
}

func (c *memContainer) Size() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	var n int64
	for _, f := range c.frames {
		n += int64(len(f.Pix))
	}
	return n
}

func (c *memContainer) tags() []uint8 {
	c.mu.Lock()
	defer c.mu.Unlock()
	var tags []uint8
	for _, f := range c.frames {
		tags = append(tags, f.Pix[0])
	}
	return tags
}

// memSidecar counts metadata writes.
type memSidecar struct {
	mu     sync.Mutex
	writes int
	last   metadata.Record
}

func (s *memSidecar) WriteRecord(r *metadata.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes++
	s.last = *r
	return nil
}

func (s *memSidecar) get() (int, metadata.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes, s.last
}

func testRecord() *metadata.Record {
	r, err := metadata.New(metadata.Params{Exposure: 0.05, Stimulus: "none"})
	if err != nil {
		panic(err)
	}
	return r
}
