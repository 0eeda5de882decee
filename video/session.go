package video

import (
	"context"
	"errors"
	"fmt"
	"image"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"imager/util"
	"imager/video/container"
	"imager/video/levels"
	"imager/video/metadata"
	"imager/video/process"
	"imager/video/sink"
	"imager/video/source"
)

type SessionOptions struct {
	// ID identifies the session in logs and metadata. Generated when empty.
	ID string

	Files  *SessionFiles
	Source source.Source
	Params metadata.Params

	// Levels is the conversion window. Defaults to the full range.
	Levels *levels.Live

	Duration               time.Duration
	QueueSize              int
	Compression            int
	MaxConsecutiveFailures int

	// MinFreeBytes refuses to start when the output filesystem has less room.
	MinFreeBytes uint64

	Display   sink.Sink
	Thumbnail bool
}

// Result summarizes a finished session.
type Result struct {
	ID       string        `json:"id"`
	Files    *SessionFiles `json:"files"`
	Started  time.Time     `json:"started"`
	Elapsed  time.Duration `json:"elapsed"`
	Producer ProducerStats `json:"producer"`
	Writer   WriterStats   `json:"writer"`

	Err error `json:"-"`
}

// Status is a live snapshot of a running session.
type Status struct {
	ID       string        `json:"id"`
	Files    *SessionFiles `json:"files"`
	Started  time.Time     `json:"started"`
	Producer ProducerStats `json:"producer"`
	Writer   WriterStats   `json:"writer"`
	Queued   int           `json:"queued"`
	Capacity int           `json:"capacity"`
	Window   levels.Window `json:"window"`
}

// Session wires a source to a container through the queue: one producer
// goroutine acquiring frames and one writer goroutine saving them.
type Session struct {
	id    string
	files *SessionFiles
	opts  SessionOptions
	live  *levels.Live
	log   *log.Entry

	q        *Queue
	producer *Producer
	writer   *Writer

	running atomic.Bool
	started atomic.Pointer[time.Time]
	thumbs  sync.WaitGroup
}

// NewSession validates the options, then opens the container. Nothing is
// created on disk when the parameters are incomplete.
func NewSession(opts SessionOptions) (*Session, error) {
	if opts.Source == nil {
		return nil, fmt.Errorf("%w: no source", ErrConfiguration)
	}
	if opts.Files == nil || opts.Files.ContainerPath == "" {
		return nil, fmt.Errorf("%w: no output path", ErrConfiguration)
	}
	if opts.Duration < 0 {
		return nil, fmt.Errorf("%w: negative duration %v", ErrConfiguration, opts.Duration)
	}
	id := opts.ID
	if id == "" {
		id = uuid.NewString()
	}
	opts.Params.SessionID = id

	record, err := metadata.New(opts.Params)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfiguration, err)
	}

	if opts.MinFreeBytes > 0 {
		s, err := util.CheckFree(filepath.Dir(opts.Files.ContainerPath), opts.MinFreeBytes)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrResource, err)
		}
		log.Infof("Disk: %v", s)
	}

	size := opts.Source.Size()
	c, err := container.Open(opts.Files.ContainerPath, container.Options{
		Compression: opts.Compression,
		Width:       size.X,
		Height:      size.Y,
		Framerate:   record.Framerate,
	})
	if err != nil {
		if errors.Is(err, container.ErrUnsupported) {
			return nil, fmt.Errorf("%w: %w", ErrConfiguration, err)
		}
		return nil, fmt.Errorf("%w: open %v: %w", ErrResource, opts.Files.ContainerPath, err)
	}

	live := opts.Levels
	if live == nil {
		live = levels.NewLive(levels.Full)
	}

	s := &Session{
		id:    id,
		files: opts.Files,
		opts:  opts,
		live:  live,
		log:   log.WithField("session", id),
		q:     NewQueue(opts.QueueSize),
	}
	s.producer = NewProducer(opts.Source, s.q, ProducerOptions{
		Duration:               opts.Duration,
		MaxConsecutiveFailures: opts.MaxConsecutiveFailures,
	})
	wo := WriterOptions{
		Container: c,
		Record:    record,
		Sidecar:   &metadata.Sidecar{Path: opts.Files.SidecarPath},
		Levels:    live,
		Display:   opts.Display,
	}
	if opts.Thumbnail && opts.Files.ThumbPath != "" {
		wo.OnFirstFrame = s.writeThumb
	}
	s.writer, err = NewWriter(s.q, wo)
	if err != nil {
		c.Close()
		return nil, err
	}
	return s, nil
}

func (s *Session) writeThumb(img *image.Gray) {
	s.thumbs.Add(1)
	go func() {
		defer s.thumbs.Done()
		path := s.files.ThumbPath
		if err := process.WriteThumb(path, img); err != nil {
			s.log.Errorf("Failed to generate thumbnail: %v", err)
			return
		}
		s.log.Infof("Thumbnail written to %v", path)
	}()
}

func (s *Session) ID() string {
	return s.id
}

func (s *Session) Files() *SessionFiles {
	return s.files
}

// Levels returns the window the writer converts with.
func (s *Session) Levels() *levels.Live {
	return s.live
}

// Run acquires and writes until the duration elapses, the source fails, Stop
// or Abort is called, or ctx is cancelled. Cancelling ctx stops acquisition
// only; frames already queued are still written.
func (s *Session) Run(ctx context.Context) *Result {
	if !s.running.CompareAndSwap(false, true) {
		return &Result{ID: s.id, Files: s.files, Err: fmt.Errorf("%w: session %v", ErrAlreadyStarted, s.id)}
	}
	start := time.Now()
	s.started.Store(&start)
	s.log.WithFields(log.Fields{
		"container": s.files.ContainerPath,
		"duration":  s.opts.Duration,
		"queue":     s.q.Cap(),
	}).Info("Session started")

	var wg sync.WaitGroup
	var perr, werr error
	wg.Add(2)
	go func() {
		defer wg.Done()
		perr = s.producer.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		werr = s.writer.Run(context.WithoutCancel(ctx))
	}()
	wg.Wait()
	s.thumbs.Wait()

	r := &Result{
		ID:       s.id,
		Files:    s.files,
		Started:  start,
		Elapsed:  time.Since(start),
		Producer: s.producer.Stats(),
		Writer:   s.writer.Stats(),
		Err:      errors.Join(perr, werr),
	}
	entry := s.log.WithFields(log.Fields{
		"elapsed": r.Elapsed.Round(time.Millisecond),
		"written": r.Writer.Written,
	})
	if r.Err != nil {
		entry.Errorf("Session failed: %v", r.Err)
	} else {
		entry.Info("Session finished")
	}
	return r
}

// Stop ends acquisition gracefully: every frame already acquired is written.
func (s *Session) Stop() {
	s.producer.Stop()
}

// Abort ends acquisition and discards queued frames. The container is still
// closed and the metadata written.
func (s *Session) Abort() {
	s.producer.Stop()
	s.writer.Stop()
}

// Done is closed once the writer has closed the container.
func (s *Session) Done() <-chan struct{} {
	return s.writer.Done()
}

func (s *Session) Status() Status {
	st := Status{
		ID:       s.id,
		Files:    s.files,
		Producer: s.producer.Stats(),
		Writer:   s.writer.Stats(),
		Queued:   s.q.Len(),
		Capacity: s.q.Cap(),
	}
	if t := s.started.Load(); t != nil {
		st.Started = *t
	}
	st.Window, _ = s.live.Load()
	return st
}
