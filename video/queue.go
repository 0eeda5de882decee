package video

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"imager/video/source"
)

// DefaultQueueSize absorbs roughly half a minute of writer stalls at 15 fps.
const DefaultQueueSize = 512

// Item is what travels through the Queue: either a frame or the end-of-stream
// marker, never both.
type Item struct {
	Frame       *source.Frame
	EndOfStream bool
}

// Queue is the bounded hand-off between one producer and one consumer. Pushes
// block while the queue is full; frames are never dropped or reordered.
type Queue struct {
	items chan Item

	finished atomic.Bool
	ended    atomic.Bool
	done     chan struct{}

	gone     chan struct{}
	hangOnce sync.Once
}

func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = DefaultQueueSize
	}
	return &Queue{
		items: make(chan Item, capacity),
		gone:  make(chan struct{}),
		done:  make(chan struct{}),
	}
}

// Push enqueues f, blocking while the queue is full. It returns ctx.Err() if
// ctx is cancelled first and ErrConsumerGone once the consumer hung up; in
// both cases f was not enqueued.
func (q *Queue) Push(ctx context.Context, f *source.Frame) error {
	if f == nil {
		return fmt.Errorf("%w: push of nil frame", ErrProtocolViolation)
	}
	if q.finished.Load() {
		return fmt.Errorf("%w: push after end of stream", ErrProtocolViolation)
	}
	select {
	case <-q.gone:
		return ErrConsumerGone
	default:
	}
	select {
	case q.items <- Item{Frame: f}:
		queueDepth.Set(float64(len(q.items)))
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-q.gone:
		return ErrConsumerGone
	}
}

// Finish posts the end-of-stream marker. It may be called once, after the
// last Push. It only gives up waiting for room if the consumer hung up.
func (q *Queue) Finish() error {
	if !q.finished.CompareAndSwap(false, true) {
		return fmt.Errorf("%w: end of stream posted twice", ErrProtocolViolation)
	}
	defer close(q.done)
	select {
	case q.items <- Item{EndOfStream: true}:
	case <-q.gone:
	}
	return nil
}

// Pop blocks until an item is available or ctx is cancelled. Popping again
// after the end-of-stream marker was returned is a protocol violation.
func (q *Queue) Pop(ctx context.Context) (Item, error) {
	if q.ended.Load() {
		return Item{}, fmt.Errorf("%w: pop after end of stream", ErrProtocolViolation)
	}
	select {
	case it := <-q.items:
		queueDepth.Set(float64(len(q.items)))
		if it.EndOfStream {
			q.ended.Store(true)
		}
		return it, nil
	case <-ctx.Done():
		return Item{}, ctx.Err()
	}
}

// Hangup tells the producer that nobody will pop again, then discards what
// it still pushes until it posts end of stream. The discarded frames are
// returned so the caller can account for them. The producer returns from a
// pending or next Push with ErrConsumerGone, so Hangup waits at most for one
// acquisition.
func (q *Queue) Hangup() []*source.Frame {
	q.hangOnce.Do(func() {
		close(q.gone)
	})
	var left []*source.Frame
	take := func(it Item) {
		if it.EndOfStream {
			q.ended.Store(true)
			return
		}
		left = append(left, it.Frame)
	}
	for {
		select {
		case it := <-q.items:
			take(it)
			continue
		case <-q.done:
		}
		for {
			select {
			case it := <-q.items:
				take(it)
			default:
				queueDepth.Set(0)
				return left
			}
		}
	}
}

// Len returns the number of buffered items.
func (q *Queue) Len() int {
	return len(q.items)
}

func (q *Queue) Cap() int {
	return cap(q.items)
}
