package video

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"
	"sync/atomic"
	"time"

	"imager/util"
	"imager/video/container"
	"imager/video/levels"
	"imager/video/metadata"
	"imager/video/sink"
	"imager/video/source"

	log "github.com/sirupsen/logrus"
)

// RecordWriter persists the session metadata once the container is closed.
type RecordWriter interface {
	WriteRecord(r *metadata.Record) error
}

type WriterOptions struct {
	Container container.Container
	Record    *metadata.Record
	Sidecar   RecordWriter

	// Levels holds the window used for 16 to 8 bit conversion. It may be
	// changed while the writer runs. Defaults to the full range.
	Levels *levels.Live

	// Display receives every dequeued frame before it is written. Optional.
	Display sink.Sink

	// OnFirstFrame is called with the first converted frame. Optional.
	OnFirstFrame func(img *image.Gray)
}

// WriterStats is a snapshot of the writer counters.
type WriterStats struct {
	State     WriterState `json:"state"`
	Written   int         `json:"written"`
	Skipped   int         `json:"skipped"`
	Discarded int         `json:"discarded"`
	Bytes     int64       `json:"bytes"`
}

// Writer pops frames from a Queue, converts them to 8 bits and appends them to
// a container. On end of stream it closes the container and writes the
// metadata sidecar, each exactly once.
type Writer struct {
	q    *Queue
	opts WriterOptions
	live *levels.Live
	log  *log.Entry

	state  atomic.Int32
	closed *util.Event

	stopRequested atomic.Bool
	cancel        context.CancelFunc
	l             sync.Mutex

	written   atomic.Int64
	skipped   atomic.Int64
	discarded atomic.Int64
}

func NewWriter(q *Queue, opts WriterOptions) (*Writer, error) {
	switch {
	case q == nil:
		return nil, fmt.Errorf("%w: writer needs a queue", ErrConfiguration)
	case opts.Container == nil:
		return nil, fmt.Errorf("%w: writer needs a container", ErrConfiguration)
	case opts.Record == nil:
		return nil, fmt.Errorf("%w: writer needs a metadata record", ErrConfiguration)
	case opts.Sidecar == nil:
		return nil, fmt.Errorf("%w: writer needs a metadata destination", ErrConfiguration)
	}
	live := opts.Levels
	if live == nil {
		live = levels.NewLive(levels.Full)
	}
	return &Writer{
		q:      q,
		opts:   opts,
		live:   live,
		log:    log.WithField("loop", "writer"),
		closed: util.NewEvent(),
	}, nil
}

// Run consumes the queue until end of stream. Cancelling ctx or calling Stop
// aborts: buffered frames are discarded but the container is still closed and
// the metadata still written. An abort returns once the producer has noticed
// and posted end of stream.
//
// A failed append is fatal to the session. The writer then hangs up the queue
// like an abort, so the producer stops on its next push.
func (w *Writer) Run(ctx context.Context) error {
	if !w.state.CompareAndSwap(int32(WriterIdle), int32(WriterRunning)) {
		return fmt.Errorf("%w: writer run twice", ErrProtocolViolation)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	w.l.Lock()
	w.cancel = cancel
	w.l.Unlock()
	if w.stopRequested.Load() {
		cancel()
	}

	started := time.Now()
	tracker := levels.NewTracker(w.live)
	w.log.Info("Writer started")

	var failed error
	aborted := false
	for {
		if ctx.Err() != nil {
			aborted = true
			break
		}
		it, err := w.q.Pop(ctx)
		if err != nil {
			if ctx.Err() == nil {
				failed = errors.Join(failed, err)
			}
			aborted = true
			break
		}
		if it.EndOfStream {
			break
		}
		if err := w.write(tracker, it.Frame); err != nil {
			if errors.Is(err, ErrTransientFrame) {
				w.skipped.Add(1)
				framesSkipped.WithLabelValues("write").Inc()
				w.log.WithField("seq", it.Frame.Seq).Warnf("Skipping frame: %v", err)
				continue
			}
			w.log.Errorf("Writing stopped: %v", err)
			failed = err
			aborted = true
			break
		}
	}

	w.state.Store(int32(WriterDraining))
	if aborted {
		left := w.q.Hangup()
		w.discarded.Add(int64(len(left)))
		framesDiscarded.Add(float64(len(left)))
		w.log.Warnf("Writer aborted, %d buffered frames discarded", len(left))
	}

	err := errors.Join(failed, w.finalize(started))
	w.state.Store(int32(WriterClosed))
	w.closed.Notify()

	st := w.Stats()
	w.log.WithFields(log.Fields{
		"written":   st.Written,
		"skipped":   st.Skipped,
		"discarded": st.Discarded,
		"bytes":     st.Bytes,
	}).Info("Writer closed")
	return err
}

func (w *Writer) write(tracker *levels.Tracker, f *source.Frame) error {
	if w.opts.Display != nil {
		w.opts.Display.Show(f)
	}

	start := time.Now()
	img, err := tracker.Table().Convert(f)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrTransientFrame, err)
	}
	if err := w.opts.Container.Append(img); err != nil {
		if errors.Is(err, container.ErrClosed) {
			return fmt.Errorf("%w: append frame %d: %w", ErrProtocolViolation, f.Seq, err)
		}
		return fmt.Errorf("%w: append frame %d: %w", ErrResource, f.Seq, err)
	}
	writeSeconds.Observe(time.Since(start).Seconds())
	framesWritten.Inc()

	if w.written.Add(1) == 1 && w.opts.OnFirstFrame != nil {
		w.opts.OnFirstFrame(img)
	}
	return nil
}

func (w *Writer) finalize(started time.Time) error {
	var errs []error
	if err := w.opts.Container.Close(); err != nil {
		errs = append(errs, fmt.Errorf("%w: close container: %w", ErrResource, err))
	}

	win, _ := w.live.Load()
	w.opts.Record.Finalize(win, started, int(w.written.Load()), int(w.skipped.Load()))
	if err := w.opts.Sidecar.WriteRecord(w.opts.Record); err != nil {
		errs = append(errs, fmt.Errorf("%w: write metadata: %w", ErrResource, err))
	}
	return errors.Join(errs...)
}

// Stop aborts the writer. It may be called any number of times, before or
// after Run.
func (w *Writer) Stop() {
	w.stopRequested.Store(true)
	w.l.Lock()
	cancel := w.cancel
	w.l.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Done is closed once the writer reached Closed.
func (w *Writer) Done() <-chan struct{} {
	return w.closed.Done()
}

// WaitClosed waits up to d for the writer to reach Closed.
func (w *Writer) WaitClosed(d time.Duration) bool {
	return w.closed.WaitTimeout(d)
}

func (w *Writer) State() WriterState {
	return WriterState(w.state.Load())
}

func (w *Writer) Stats() WriterStats {
	return WriterStats{
		State:     w.State(),
		Written:   int(w.written.Load()),
		Skipped:   int(w.skipped.Load()),
		Discarded: int(w.discarded.Load()),
		Bytes:     w.opts.Container.Size(),
	}
}
