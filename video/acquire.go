package video

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"imager/util"
	"imager/video/source"

	log "github.com/sirupsen/logrus"
)

type ProducerOptions struct {
	// Duration bounds the acquisition. Zero means until stopped.
	Duration time.Duration

	// MaxConsecutiveFailures turns a run of transient frame failures into a
	// resource error. Zero disables the limit.
	MaxConsecutiveFailures int
}

// ProducerStats is a snapshot of the acquisition counters.
type ProducerStats struct {
	State     ProducerState `json:"state"`
	Acquired  uint64        `json:"acquired"`
	Skipped   uint64        `json:"skipped"`
	Abandoned uint64        `json:"abandoned"`
	// LastSeq is the sequence number of the last enqueued frame. Only
	// meaningful when Acquired is non-zero.
	LastSeq   uint64        `json:"last_seq"`
}

// Producer acquires frames from a Source and pushes them onto a Queue until
// the duration elapses, Stop is called, or the source fails.
type Producer struct {
	src  source.Source
	q    *Queue
	opts ProducerOptions
	log  *log.Entry

	state   atomic.Int32
	stopped *util.Event

	stopRequested atomic.Bool
	cancel        context.CancelFunc
	l             sync.Mutex

	acquired  atomic.Uint64
	skipped   atomic.Uint64
	abandoned atomic.Uint64
	lastSeq   atomic.Uint64
}

func NewProducer(src source.Source, q *Queue, opts ProducerOptions) *Producer {
	return &Producer{
		src:     src,
		q:       q,
		opts:    opts,
		log:     log.WithField("loop", "acquire"),
		stopped: util.NewEvent(),
	}
}

// Run drives the acquisition loop. On every exit path it posts the
// end-of-stream marker and tears the source down. It returns nil on a normal
// stop and an ErrResource error when the source failed.
func (p *Producer) Run(ctx context.Context) error {
	if !p.state.CompareAndSwap(int32(ProducerIdle), int32(ProducerRunning)) {
		return fmt.Errorf("%w: producer", ErrAlreadyStarted)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	p.l.Lock()
	p.cancel = cancel
	p.l.Unlock()
	if p.stopRequested.Load() {
		cancel()
	}

	p.log.Info("Acquisition started")
	err := p.loop(ctx)

	p.state.Store(int32(ProducerStopping))
	if ferr := p.q.Finish(); ferr != nil {
		err = errors.Join(err, ferr)
	}
	if terr := p.src.Teardown(); terr != nil {
		p.log.Errorf("Source teardown failed: %v", terr)
		err = errors.Join(err, fmt.Errorf("%w: teardown: %w", ErrResource, terr))
	}
	p.state.Store(int32(ProducerStopped))
	p.stopped.Notify()

	p.log.WithFields(log.Fields{
		"acquired":  p.acquired.Load(),
		"skipped":   p.skipped.Load(),
		"abandoned": p.abandoned.Load(),
	}).Info("Acquisition stopped")
	return err
}

func (p *Producer) loop(ctx context.Context) error {
	start := time.Now()
	var seq uint64
	failures := 0

	for {
		if ctx.Err() != nil {
			return nil
		}
		if p.opts.Duration > 0 && time.Since(start) >= p.opts.Duration {
			p.log.Infof("Duration of %v elapsed", p.opts.Duration)
			return nil
		}

		f, err := p.src.Acquire(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, source.ErrFatal) {
				p.log.Errorf("Source failed: %v", err)
				return fmt.Errorf("%w: acquire: %w", ErrResource, err)
			}
			failures++
			p.skipped.Add(1)
			framesSkipped.WithLabelValues("acquire").Inc()
			p.log.WithField("seq", seq).Warnf("Skipping frame: %v", err)
			if max := p.opts.MaxConsecutiveFailures; max > 0 && failures >= max {
				return fmt.Errorf("%w: %d consecutive frame failures: %w", ErrResource, failures, err)
			}
			continue
		}
		failures = 0

		f.Seq = seq
		if f.Time.IsZero() {
			f.Time = time.Now()
		}
		if err := p.q.Push(ctx, f); err != nil {
			p.abandoned.Add(1)
			framesAbandoned.Inc()
			if errors.Is(err, ErrConsumerGone) {
				p.log.Warn("Writer stopped reading, ending acquisition")
				return nil
			}
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		p.lastSeq.Store(seq)
		seq++
		p.acquired.Add(1)
		framesAcquired.Inc()
	}
}

// Stop requests the loop to end after the frame in flight. It may be called
// any number of times, before or after Run.
func (p *Producer) Stop() {
	p.stopRequested.Store(true)
	p.l.Lock()
	cancel := p.cancel
	p.l.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Done is closed once the producer reached Stopped.
func (p *Producer) Done() <-chan struct{} {
	return p.stopped.Done()
}

func (p *Producer) State() ProducerState {
	return ProducerState(p.state.Load())
}

func (p *Producer) Stats() ProducerStats {
	return ProducerStats{
		State:     p.State(),
		Acquired:  p.acquired.Load(),
		Skipped:   p.skipped.Load(),
		Abandoned: p.abandoned.Load(),
		LastSeq:   p.lastSeq.Load(),
	}
}
