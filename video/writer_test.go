package video

import (
	"context"
	"errors"
	"image"
	"sync"
	"testing"
	"time"

	"imager/video/levels"
	"imager/video/source"
)

func newTestWriter(t *testing.T, q *Queue, c *memContainer, sc *memSidecar, live *levels.Live) *Writer {
	t.Helper()
	w, err := NewWriter(q, WriterOptions{
		Container: c,
		Record:    testRecord(),
		Sidecar:   sc,
		Levels:    live,
	})
	if err != nil {
		t.Fatalf("NewWriter() = %v", err)
	}
	return w
}

func pushAll(t *testing.T, q *Queue, frames ...*source.Frame) {
	t.Helper()
	for _, f := range frames {
		if err := q.Push(context.Background(), f); err != nil {
			t.Fatalf("Push() = %v", err)
		}
	}
	if err := q.Finish(); err != nil {
		t.Fatalf("Finish() = %v", err)
	}
}

func TestWriter_WritesInOrderAndFinalizesOnce(t *testing.T) {
	q := NewQueue(3)
	c := newMemContainer()
	sc := &memSidecar{}
	w := newTestWriter(t, q, c, sc, nil)

	done := make(chan error)
	go func() {
		done <- w.Run(context.Background())
	}()
	var frames []*source.Frame
	for i := 0; i < 10; i++ {
		frames = append(frames, tagged(4, 2, uint8(i)))
	}
	pushAll(t, q, frames...)

	if err := <-done; err != nil {
		t.Fatalf("Run() = %v", err)
	}
	tags := c.tags()
	if len(tags) != 10 {
		t.Fatalf("wrote %d frames, want 10", len(tags))
	}
	for i, tag := range tags {
		if tag != uint8(i) {
			t.Errorf("frame %d has tag %d", i, tag)
		}
	}
	if c.closes != 1 {
		t.Errorf("container closed %d times, want 1", c.closes)
	}
	writes, rec := sc.get()
	if writes != 1 {
		t.Errorf("metadata written %d times, want 1", writes)
	}
	if rec.FramesWritten != 10 || rec.LevelMin != 0 || rec.LevelMax != 65535 {
		t.Errorf("record = %+v", rec)
	}
	if rec.Framerate != 20 {
		t.Errorf("record framerate = %v, want 20", rec.Framerate)
	}
	if w.State() != WriterClosed {
		t.Errorf("State() = %v, want Closed", w.State())
	}
	if !w.WaitClosed(time.Second) {
		t.Error("WaitClosed() = false after Run returned")
	}

	if err := w.Run(context.Background()); !errors.Is(err, ErrProtocolViolation) {
		t.Errorf("second Run() = %v, want ErrProtocolViolation", err)
	}
}

func TestWriter_SkipsMalformedFrame(t *testing.T) {
	q := NewQueue(8)
	c := newMemContainer()
	sc := &memSidecar{}
	w := newTestWriter(t, q, c, sc, nil)

	bad := tagged(4, 2, 9)
	bad.Pix = bad.Pix[:3]
	pushAll(t, q, tagged(4, 2, 1), bad, tagged(4, 2, 2))

	if err := w.Run(context.Background()); err != nil {
		t.Fatalf("Run() = %v", err)
	}
	if got := c.tags(); len(got) != 2 || got[0] != 1 || got[1] != 2 {
		t.Errorf("wrote tags %v, want [1 2]", got)
	}
	if st := w.Stats(); st.Written != 2 || st.Skipped != 1 {
		t.Errorf("Stats() = %+v", st)
	}
	if _, rec := sc.get(); rec.FramesSkipped != 1 {
		t.Errorf("record FramesSkipped = %d, want 1", rec.FramesSkipped)
	}
}

func TestWriter_AppendFailureEndsSession(t *testing.T) {
	q := NewQueue(4)
	c := newMemContainer()
	c.failAt = 1
	sc := &memSidecar{}
	w := newTestWriter(t, q, c, sc, nil)
	// No duration and no frame limit: only the writer can end this run.
	p := NewProducer(newFakeSource(0), q, ProducerOptions{})

	perr := make(chan error, 1)
	go func() {
		perr <- p.Run(context.Background())
	}()
	werr := make(chan error, 1)
	go func() {
		werr <- w.Run(context.Background())
	}()

	select {
	case err := <-werr:
		if !errors.Is(err, ErrResource) {
			t.Fatalf("writer Run() = %v, want ErrResource", err)
		}
	case <-time.After(5 * time.Second):
		p.Stop()
		t.Fatalf("writer still %v after a failed append", w.State())
	}
	select {
	case err := <-perr:
		if err != nil {
			t.Errorf("producer Run() = %v, want nil after the writer hung up", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("producer did not stop after the writer hung up")
	}

	if w.State() != WriterClosed {
		t.Errorf("writer State() = %v, want Closed", w.State())
	}
	if p.State() != ProducerStopped {
		t.Errorf("producer State() = %v, want Stopped", p.State())
	}
	ws, ps := w.Stats(), p.Stats()
	if ws.Written != 1 {
		t.Errorf("Written = %d, want 1", ws.Written)
	}
	if uint64(ws.Written+ws.Discarded) != ps.Acquired {
		t.Errorf("written %d + discarded %d != acquired %d", ws.Written, ws.Discarded, ps.Acquired)
	}
	if ps.Abandoned != 1 {
		t.Errorf("Abandoned = %d, want 1", ps.Abandoned)
	}
	if c.closes != 1 {
		t.Errorf("container closed %d times, want 1", c.closes)
	}
	if writes, _ := sc.get(); writes != 1 {
		t.Errorf("metadata written %d times, want 1", writes)
	}
}

func TestWriter_AppendToClosedContainer(t *testing.T) {
	q := NewQueue(2)
	c := newMemContainer()
	c.Close()
	w := newTestWriter(t, q, c, &memSidecar{}, nil)
	pushAll(t, q, tagged(2, 2, 0))

	err := w.Run(context.Background())
	if !errors.Is(err, ErrProtocolViolation) {
		t.Errorf("Run() = %v, want ErrProtocolViolation", err)
	}
	if errors.Is(err, ErrResource) {
		t.Errorf("Run() = %v, should not be a resource error", err)
	}
}

func TestWriter_StopDiscardsBuffered(t *testing.T) {
	q := NewQueue(8)
	c := newMemContainer()
	sc := &memSidecar{}
	w := newTestWriter(t, q, c, sc, nil)
	pushAll(t, q, tagged(2, 2, 0), tagged(2, 2, 1), tagged(2, 2, 2))

	w.Stop()
	if err := w.Run(context.Background()); err != nil {
		t.Fatalf("Run() = %v", err)
	}
	w.Stop()

	if st := w.Stats(); st.Written != 0 || st.Discarded != 3 {
		t.Errorf("Stats() = %+v, want 3 discarded", st)
	}
	if c.closes != 1 {
		t.Errorf("container closed %d times, want 1", c.closes)
	}
	if writes, _ := sc.get(); writes != 1 {
		t.Errorf("metadata written %d times, want 1", writes)
	}
}

// funcSink calls show for every frame.
type funcSink func(f *source.Frame)

func (s funcSink) Show(f *source.Frame) { s(f) }
func (s funcSink) Close()               {}

func TestWriter_LevelsChangeMidStream(t *testing.T) {
	q := NewQueue(8)
	c := newMemContainer()
	sc := &memSidecar{}
	live := levels.NewLive(levels.Full)
	narrow, _ := levels.NewWindow(0, 1000)

	var shown []uint64
	w, err := NewWriter(q, WriterOptions{
		Container: c,
		Record:    testRecord(),
		Sidecar:   sc,
		Levels:    live,
		Display: funcSink(func(f *source.Frame) {
			shown = append(shown, f.Seq)
			if f.Seq == 2 {
				live.Set(narrow)
			}
		}),
	})
	if err != nil {
		t.Fatal(err)
	}

	var frames []*source.Frame
	for i := 0; i < 4; i++ {
		f := source.NewFrame(2, 2)
		f.Seq = uint64(i)
		for j := range f.Pix {
			f.Pix[j] = 1000
		}
		frames = append(frames, f)
	}
	pushAll(t, q, frames...)

	if err := w.Run(context.Background()); err != nil {
		t.Fatalf("Run() = %v", err)
	}
	want := []uint8{3, 3, 255, 255}
	got := c.tags()
	for i := range want {
		if i >= len(got) || got[i] != want[i] {
			t.Fatalf("wrote %v, want %v", got, want)
		}
	}
	if len(shown) != 4 {
		t.Errorf("display saw %d frames, want 4", len(shown))
	}
	if _, rec := sc.get(); rec.LevelMin != 0 || rec.LevelMax != 1000 {
		t.Errorf("record levels = [%d, %d], want [0, 1000]", rec.LevelMin, rec.LevelMax)
	}
}

func TestWriter_FirstFrameHook(t *testing.T) {
	q := NewQueue(4)
	calls := 0
	var first *image.Gray
	w, err := NewWriter(q, WriterOptions{
		Container: newMemContainer(),
		Record:    testRecord(),
		Sidecar:   &memSidecar{},
		OnFirstFrame: func(img *image.Gray) {
			calls++
			first = img
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	pushAll(t, q, tagged(2, 2, 7), tagged(2, 2, 8))
	if err := w.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	if calls != 1 || first == nil || first.Pix[0] != 7 {
		t.Errorf("hook called %d times with %v", calls, first)
	}
}

func TestNewWriter_RequiresDestinations(t *testing.T) {
	q := NewQueue(1)
	for name, opts := range map[string]WriterOptions{
		"container": {Record: testRecord(), Sidecar: &memSidecar{}},
		"record":    {Container: newMemContainer(), Sidecar: &memSidecar{}},
		"sidecar":   {Container: newMemContainer(), Record: testRecord()},
	} {
		if _, err := NewWriter(q, opts); !errors.Is(err, ErrConfiguration) {
			t.Errorf("NewWriter() without %v = %v, want ErrConfiguration", name, err)
		}
	}
}

// Capacity one with a writer slower than the source: every frame still
// arrives, in order.
func TestPipeline_SlowWriterLosesNothing(t *testing.T) {
	src := newFakeSource(30)
	q := NewQueue(1)
	c := newMemContainer()
	c.delay = time.Millisecond
	sc := &memSidecar{}
	p := NewProducer(src, q, ProducerOptions{})
	w := newTestWriter(t, q, c, sc, nil)

	var wg sync.WaitGroup
	var perr, werr error
	wg.Add(2)
	go func() {
		defer wg.Done()
		perr = p.Run(context.Background())
	}()
	go func() {
		defer wg.Done()
		werr = w.Run(context.Background())
	}()
	<-src.exhausted
	p.Stop()
	wg.Wait()

	if perr != nil || werr != nil {
		t.Fatalf("Run() = %v, %v", perr, werr)
	}
	tags := c.tags()
	if len(tags) != 30 {
		t.Fatalf("wrote %d frames, want 30", len(tags))
	}
	for i, tag := range tags {
		if tag != uint8(i) {
			t.Fatalf("frame %d has tag %d", i, tag)
		}
	}
	if writes, rec := sc.get(); writes != 1 || rec.FramesWritten != 30 {
		t.Errorf("metadata written %d times, record %+v", writes, rec)
	}
}

func TestPipeline_AbortAccountsForEveryFrame(t *testing.T) {
	src := newFakeSource(0)
	src.delay = time.Millisecond
	q := NewQueue(64)
	c := newMemContainer()
	c.delay = 3 * time.Millisecond
	sc := &memSidecar{}
	p := NewProducer(src, q, ProducerOptions{})
	w := newTestWriter(t, q, c, sc, nil)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		p.Run(context.Background())
	}()
	go func() {
		defer wg.Done()
		w.Run(context.Background())
	}()
	time.Sleep(30 * time.Millisecond)
	w.Stop()
	wg.Wait()

	ps, ws := p.Stats(), w.Stats()
	if uint64(ws.Written+ws.Discarded) != ps.Acquired {
		t.Errorf("written %d + discarded %d != acquired %d", ws.Written, ws.Discarded, ps.Acquired)
	}
	if c.closes != 1 {
		t.Errorf("container closed %d times, want 1", c.closes)
	}
	if writes, _ := sc.get(); writes != 1 {
		t.Errorf("metadata written %d times, want 1", writes)
	}
}
