package notify

import (
	"fmt"
	"sync"
	"time"

	"github.com/davecgh/go-spew/spew"
	log "github.com/sirupsen/logrus"

	"imager/video"
)

// Notification is sent to all NotifyListeners registered with Notifier.
type Notification struct {
	Title      string `json:"title"`
	Body       string `json:"body"`
	TimeString string `json:"time"`
	SessionID  string `json:"session_id"`
	Failed     bool   `json:"failed"`

	// Result is the full session summary for listeners that store it.
	Result *video.Result `json:"-"`
}

// NewNotification summarizes a finished session.
func NewNotification(r *video.Result) *Notification {
	n := &Notification{
		Title:      "Acquisition finished",
		TimeString: r.Started.Add(r.Elapsed).Format("3:04 PM"),
		SessionID:  r.ID,
		Result:     r,
	}
	name := r.ID
	if r.Files != nil {
		name = r.Files.Name
	}
	n.Body = fmt.Sprintf("%v: %d frames in %v", name, r.Writer.Written, r.Elapsed.Round(time.Second))
	if r.Err != nil {
		n.Title = "Acquisition failed"
		n.Body = fmt.Sprintf("%v: %v", name, r.Err)
		n.Failed = true
	}
	return n
}

type NotifyListener interface {
	Notify(n *Notification) error
}

// Notifier fans session events out to its listeners.
type Notifier struct {
	Listeners []NotifyListener

	l sync.Mutex
}

// Add registers a listener.
func (n *Notifier) Add(l NotifyListener) {
	n.l.Lock()
	defer n.l.Unlock()
	n.Listeners = append(n.Listeners, l)
}

// SessionFinished notifies every listener in parallel and waits for all of
// them. Listener failures are logged.
func (n *Notifier) SessionFinished(r *video.Result) {
	n.l.Lock()
	listeners := append([]NotifyListener(nil), n.Listeners...)
	n.l.Unlock()

	notification := NewNotification(r)
	log.Debugf("Sending notification: %v", spew.Sdump(notification))
	var wg sync.WaitGroup
	for _, l := range listeners {
		wg.Add(1)
		go func(l NotifyListener) {
			defer wg.Done()
			if err := l.Notify(notification); err != nil {
				log.Errorf("Failed to send notification: %v", err)
			}
		}(l)
	}
	wg.Wait()
}
