package sink

import (
	"sync"

	"imager/video/source"
)

// Async renders frames on its own goroutine. It holds at most one pending
// frame: when rendering falls behind, older frames are replaced by newer ones.
type Async struct {
	render func(f *source.Frame)

	// Wanted reports whether frames are worth copying at all. Optional.
	Wanted func() bool

	pending chan *source.Frame
	quit    chan struct{}
	once    sync.Once
	wg      sync.WaitGroup
}

func NewAsync(render func(f *source.Frame)) *Async {
	a := &Async{
		render:  render,
		pending: make(chan *source.Frame, 1),
		quit:    make(chan struct{}),
	}
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		for {
			select {
			case f := <-a.pending:
				a.render(f)
			case <-a.quit:
				return
			}
		}
	}()
	return a
}

func (a *Async) Show(f *source.Frame) {
	if !f.Valid() {
		return
	}
	select {
	case <-a.quit:
		return
	default:
	}
	if a.Wanted != nil && !a.Wanted() {
		return
	}

	c := *f
	c.Pix = append([]uint16(nil), f.Pix...)
	select {
	case a.pending <- &c:
		return
	default:
	}
	// Replace the stale frame.
	select {
	case <-a.pending:
	default:
	}
	select {
	case a.pending <- &c:
	default:
	}
}

// Close stops the render goroutine and waits for it. Pending frames are
// dropped.
func (a *Async) Close() {
	a.once.Do(func() {
		close(a.quit)
	})
	a.wg.Wait()
}
