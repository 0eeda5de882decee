package sink

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"net/http"
	"sync"

	log "github.com/sirupsen/logrus"
)

// MJPEG multi-streaming, based on implementation by saljam:
// https://github.com/saljam/mjpeg/blob/master/stream.go

const boundaryWord = "MJPEGBOUNDARY"
const headerf = "\r\n" +
	"--" + boundaryWord + "\r\n" +
	"Content-Type: image/jpeg\r\n" +
	"Content-Length: %d\r\n" +
	"X-Timestamp: 0.000000\r\n" +
	"\r\n"

// MJPEGServer serves named MJPEG streams over HTTP.
type MJPEGServer struct {
	m map[string]*MJPEGStream

	lock sync.Mutex
}

func NewMJPEGServer() *MJPEGServer {
	return &MJPEGServer{
		m: make(map[string]*MJPEGStream),
	}
}

// NewStream registers a stream under name. Names must be unique.
func (s *MJPEGServer) NewStream(name string) (*MJPEGStream, error) {
	s.lock.Lock()
	defer s.lock.Unlock()

	if _, ok := s.m[name]; ok {
		return nil, fmt.Errorf("a stream named %q already exists", name)
	}

	ms := &MJPEGStream{
		name:    name,
		m:       make(map[chan []byte]bool),
		parent:  s,
		quality: 80,
	}
	s.m[name] = ms
	return ms, nil
}

func (s *MJPEGServer) getStream(name string) *MJPEGStream {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.m[name]
}

// ServeHTTP implements http.Handler interface, serving MJPEG.
func (s *MJPEGServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	name := r.Form.Get("name")
	if name == "" {
		http.Error(w, "missing name", http.StatusBadRequest)
		return
	}

	stream := s.getStream(name)
	if stream == nil {
		http.Error(w, "unknown stream", http.StatusNotFound)
		return
	}

	log.WithField("addr", r.RemoteAddr).Infof("MJPEG stream connected to %v", name)
	w.Header().Add("Content-Type", "multipart/x-mixed-replace;boundary="+boundaryWord)

	c := make(chan []byte, 1)
	stream.lock.Lock()
	stream.m[c] = true
	stream.lock.Unlock()

	defer func() {
		stream.lock.Lock()
		delete(stream.m, c)
		stream.lock.Unlock()
		log.WithField("addr", r.RemoteAddr).Infof("MJPEG stream disconnected from %v", name)
	}()

	flusher, _ := w.(http.Flusher)
	if flusher != nil {
		flusher.Flush()
	}
	for {
		select {
		case b := <-c:
			if _, err := w.Write(b); err != nil {
				return
			}
			if flusher != nil {
				flusher.Flush()
			}
		case <-r.Context().Done():
			return
		}
	}
}

// MJPEGStream fans JPEG frames out to every connected client.
type MJPEGStream struct {
	name    string
	m       map[chan []byte]bool
	quality int
	buf     bytes.Buffer

	parent *MJPEGServer
	lock   sync.Mutex
}

// Listeners returns the number of connected clients.
func (s *MJPEGStream) Listeners() int {
	s.lock.Lock()
	defer s.lock.Unlock()
	return len(s.m)
}

// Put encodes img and offers it to every client ready for a new frame.
func (s *MJPEGStream) Put(img image.Image) {
	if s.Listeners() == 0 {
		// Nobody is listening; don't bother encoding.
		return
	}

	s.buf.Reset()
	if err := jpeg.Encode(&s.buf, img, &jpeg.Options{Quality: s.quality}); err != nil {
		log.Errorf("Error encoding to JPG for MJPEG stream %v: %v", s.name, err)
		return
	}

	header := fmt.Sprintf(headerf, s.buf.Len())
	frame := make([]byte, 0, len(header)+s.buf.Len())
	frame = append(frame, header...)
	frame = append(frame, s.buf.Bytes()...)

	s.lock.Lock()
	defer s.lock.Unlock()
	for c := range s.m {
		select {
		case c <- frame:
		default:
			// Skip listeners not ready for next frame.
		}
	}
}

func (s *MJPEGStream) Close() {
	s.parent.lock.Lock()
	defer s.parent.lock.Unlock()
	delete(s.parent.m, s.name)
}
