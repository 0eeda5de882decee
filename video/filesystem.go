package video

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"imager/video/container"
	"imager/video/metadata"
)

const (
	ExtThumb = "_thumb.jpg"

	// FileTimeLayout defines the format of generated filenames.
	// See https://golang.org/src/time/format.go.
	FileTimeLayout = "20060102-150405"
)

// SessionFiles names every file belonging to one session.
type SessionFiles struct {
	Time time.Time `json:"time"`
	Name string    `json:"name"`

	ContainerPath string `json:"container"`
	SidecarPath   string `json:"sidecar"`
	ThumbPath     string `json:"thumb"`
}

// FilesFor derives the sidecar and thumbnail paths from a container path.
func FilesFor(containerPath string) (*SessionFiles, error) {
	sidecar, err := metadata.SidecarPath(containerPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfiguration, err)
	}
	base := strings.TrimSuffix(sidecar, metadata.Ext)
	return &SessionFiles{
		Name:          filepath.Base(base),
		ContainerPath: containerPath,
		SidecarPath:   sidecar,
		ThumbPath:     base + ExtThumb,
	}, nil
}

// Filesystem generates session file names inside a directory and lists the
// sessions already there.
type Filesystem struct {
	BasePath string

	records []*SessionFiles
	l       sync.Mutex
}

func NewFilesystem(path string) (*Filesystem, error) {
	if err := os.MkdirAll(path, 0755); err != nil {
		return nil, err
	}
	return &Filesystem{
		BasePath: path,
	}, nil
}

// NewRecord names the files of a session started at t. The container format
// is chosen by ext.
func (f *Filesystem) NewRecord(t time.Time, name, ext string) (*SessionFiles, error) {
	if name == "" {
		name = "session"
	}
	if strings.ContainsAny(name, `/\`) {
		return nil, fmt.Errorf("%w: session name %q contains a path separator", ErrConfiguration, name)
	}
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	base := t.Format(FileTimeLayout) + "_" + name
	r, err := FilesFor(filepath.Join(f.BasePath, base+ext))
	if err != nil {
		return nil, err
	}
	r.Time = t
	r.Name = name
	return r, nil
}

func isContainer(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case container.ExtTIFF, container.ExtTIF, container.ExtBTF, container.ExtAVI:
		return true
	}
	return false
}

// Refresh rescans the directory.
func (f *Filesystem) Refresh() error {
	files, err := os.ReadDir(f.BasePath)
	if err != nil {
		return err
	}

	m := make(map[string]*SessionFiles)
	for _, file := range files {
		b := file.Name()
		if file.IsDir() || len(b) < len(FileTimeLayout)+1 {
			continue
		}
		t, err := time.ParseInLocation(FileTimeLayout, b[:len(FileTimeLayout)], time.Local)
		if err != nil || b[len(FileTimeLayout)] != '_' {
			continue
		}

		var key string
		p := filepath.Join(f.BasePath, b)
		switch {
		case strings.HasSuffix(b, ExtThumb):
			key = strings.TrimSuffix(b, ExtThumb)
		case strings.HasSuffix(b, metadata.Ext):
			key = strings.TrimSuffix(b, metadata.Ext)
		case isContainer(b):
			key = strings.TrimSuffix(b, filepath.Ext(b))
		default:
			continue
		}

		r := m[key]
		if r == nil {
			r = &SessionFiles{
				Time: t,
				Name: key[len(FileTimeLayout)+1:],
			}
			m[key] = r
		}
		switch {
		case strings.HasSuffix(b, ExtThumb):
			r.ThumbPath = p
		case strings.HasSuffix(b, metadata.Ext):
			r.SidecarPath = p
		default:
			r.ContainerPath = p
		}
	}

	records := make([]*SessionFiles, 0, len(m))
	for _, r := range m {
		records = append(records, r)
	}
	sort.Slice(records, func(i, j int) bool {
		if records[i].Time.Equal(records[j].Time) {
			return records[i].Name < records[j].Name
		}
		return records[i].Time.After(records[j].Time)
	})

	f.l.Lock()
	defer f.l.Unlock()
	f.records = records
	return nil
}

// Records returns the sessions found by the last Refresh, newest first.
func (f *Filesystem) Records() []*SessionFiles {
	f.l.Lock()
	defer f.l.Unlock()
	return f.records[:]
}
