package util

import (
	"sync"
	"time"
)

// Event is a one-shot signal. Once notified it stays notified.
type Event struct {
	once sync.Once
	c    chan struct{}
}

func NewEvent() *Event {
	return &Event{
		c: make(chan struct{}),
	}
}

// Notify fires the event. Subsequent calls are no-ops.
func (e *Event) Notify() {
	e.once.Do(func() {
		close(e.c)
	})
}

func (e *Event) Wait() {
	<-e.c
}

// WaitTimeout waits up to d and reports whether the event fired.
func (e *Event) WaitTimeout(d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-e.c:
		return true
	case <-t.C:
		return false
	}
}

// Done returns a channel closed when the event fires.
func (e *Event) Done() <-chan struct{} {
	return e.c
}

func (e *Event) HasBeenNotified() bool {
	select {
	case <-e.c:
		return true
	default:
		return false
	}
}
