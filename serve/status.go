package serve

import (
	"net/http"
	"path/filepath"

	"github.com/goccy/go-json"

	"imager/util"
	"imager/video"
)

// StatusSource reports the state of the running session.
type StatusSource interface {
	Status() video.Status
}

type StatusResponse struct {
	Session video.Status     `json:"session"`
	Disk    *util.DiskStatus `json:"disk,omitempty"`
}

// StatusServer serves the live session status as JSON.
type StatusServer struct {
	Session StatusSource
}

func (s *StatusServer) BuildResponse() *StatusResponse {
	st := s.Session.Status()
	resp := &StatusResponse{Session: st}
	if st.Files != nil {
		if d, err := util.DiskUsage(filepath.Dir(st.Files.ContainerPath)); err == nil {
			resp.Disk = &d
		}
	}
	return resp
}

func (s *StatusServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.BuildResponse())
}

// SessionsServer lists the sessions found in the output directory.
type SessionsServer struct {
	FS *video.Filesystem
}

func (s *SessionsServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if err := s.FS.Refresh(); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, s.FS.Records())
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	js, err := json.Marshal(v)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(js)
}
