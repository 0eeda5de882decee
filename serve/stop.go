package serve

import (
	"fmt"
	"net/http"

	log "github.com/sirupsen/logrus"
)

// Stopper ends the running session.
type Stopper interface {
	// Stop ends acquisition and writes every frame already acquired.
	Stop()
	// Abort ends acquisition and discards frames not yet written.
	Abort()
}

// StopServer stops the session on POST. The form value mode=abort discards
// queued frames.
type StopServer struct {
	Session Stopper
}

func (s *StopServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Invalid request method", http.StatusMethodNotAllowed)
		return
	}
	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	switch mode := r.Form.Get("mode"); mode {
	case "", "graceful":
		log.WithField("addr", r.RemoteAddr).Info("Stop requested")
		s.Session.Stop()
	case "abort":
		log.WithField("addr", r.RemoteAddr).Warn("Abort requested")
		s.Session.Abort()
	default:
		http.Error(w, fmt.Sprintf("unknown mode %q", mode), http.StatusBadRequest)
		return
	}

	w.Header().Add("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprintln(w, "ok")
}
