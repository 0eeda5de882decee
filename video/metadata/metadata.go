// Package metadata describes an acquisition session in a JSON sidecar written
// next to the image container once the container has been finalized.
package metadata

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"imager/video/levels"
)

const (
	// SourceName identifies files written by this program.
	SourceName = "AwesomeImager"

	// Version is recorded when the session does not name one.
	Version = "1.0.0"

	DateLayout = "20060102"
	TimeLayout = "150405"

	Ext = ".json"
)

var ErrMissingField = errors.New("metadata: missing required field")

// Params are the acquisition parameters known before the first frame.
type Params struct {
	// Exposure in seconds. Used to derive the framerate when Framerate is zero.
	Exposure  float64
	Framerate float64

	Version   string
	Stimulus  interface{}
	SessionID string
}

// Record is the sidecar content.
type Record struct {
	Framerate float64     `json:"framerate"`
	Source    string      `json:"source"`
	Version   string      `json:"version"`
	Date      string      `json:"date"`
	Time      string      `json:"time"`
	Stims     interface{} `json:"stims"`
	LevelMin  int         `json:"level_min"`
	LevelMax  int         `json:"level_max"`

	Exposure      float64 `json:"exposure,omitempty"`
	SessionID     string  `json:"session_id,omitempty"`
	FramesWritten int     `json:"frames_written"`
	FramesSkipped int     `json:"frames_skipped"`
}

// New validates p and returns a record ready to be finalized. A record can
// only be built when the framerate is known, either directly or as the
// inverse of the exposure.
func New(p Params) (*Record, error) {
	framerate := p.Framerate
	if framerate <= 0 {
		if p.Exposure <= 0 {
			return nil, fmt.Errorf("%w: exposure or framerate must be specified", ErrMissingField)
		}
		framerate = 1 / p.Exposure
	}
	if p.Stimulus == nil {
		return nil, fmt.Errorf("%w: stimulus descriptor", ErrMissingField)
	}
	version := p.Version
	if version == "" {
		version = Version
	}
	return &Record{
		Framerate: framerate,
		Source:    SourceName,
		Version:   version,
		Stims:     p.Stimulus,
		Exposure:  p.Exposure,
		SessionID: p.SessionID,
		LevelMax:  int(levels.Full.High),
	}, nil
}

// Finalize stamps the capture time, the level window in force at the end of
// the session and the frame counters.
func (r *Record) Finalize(w levels.Window, at time.Time, written, skipped int) {
	r.Date = at.Format(DateLayout)
	r.Time = at.Format(TimeLayout)
	r.LevelMin = int(w.Low)
	r.LevelMax = int(w.High)
	r.FramesWritten = written
	r.FramesSkipped = skipped
}

// SidecarPath returns the sidecar path for a container file: same directory
// and base name, JSON extension.
func SidecarPath(container string) (string, error) {
	ext := filepath.Ext(container)
	base := strings.TrimSuffix(container, ext)
	if ext == "" || filepath.Base(base) == "" || strings.EqualFold(ext, Ext) {
		return "", fmt.Errorf("metadata: cannot derive sidecar path from %q", container)
	}
	return base + Ext, nil
}

// Sidecar writes records to a fixed path.
type Sidecar struct {
	Path string
}

func (s *Sidecar) WriteRecord(r *Record) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	tmp := s.Path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, s.Path)
}

// ReadFile loads a sidecar written by Sidecar.WriteRecord.
func ReadFile(path string) (*Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	r := &Record{}
	if err := json.Unmarshal(data, r); err != nil {
		return nil, fmt.Errorf("unmarshal metadata %v: %w", path, err)
	}
	return r, nil
}
