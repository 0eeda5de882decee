package serve

import (
	"fmt"
	"net/http"

	"imager/video"
)

// FileServer serves one file of a recorded session. Sessions are identified by
// their file base name, for example 20240501-100000_session.
type FileServer struct {
	FS          *video.Filesystem
	PathFunc    func(r *video.SessionFiles) string
	ContentType string
}

func NewThumbServer(fs *video.Filesystem) *FileServer {
	return &FileServer{
		FS: fs,
		PathFunc: func(r *video.SessionFiles) string {
			return r.ThumbPath
		},
		ContentType: "image/jpeg",
	}
}

func NewSidecarServer(fs *video.Filesystem) *FileServer {
	return &FileServer{
		FS: fs,
		PathFunc: func(r *video.SessionFiles) string {
			return r.SidecarPath
		},
		ContentType: "application/json",
	}
}

func (s *FileServer) lookup(name string) *video.SessionFiles {
	for _, r := range s.FS.Records() {
		if r.Time.Format(video.FileTimeLayout)+"_"+r.Name == name {
			return r
		}
	}
	return nil
}

func (s *FileServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	id := r.Form.Get("id")
	rec := s.lookup(id)
	if rec == nil {
		if err := s.FS.Refresh(); err == nil {
			rec = s.lookup(id)
		}
	}
	if rec == nil || s.PathFunc(rec) == "" {
		http.Error(w, fmt.Sprintf("No record found for id %v", id), http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", s.ContentType)
	http.ServeFile(w, r, s.PathFunc(rec))
}
