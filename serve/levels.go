package serve

import (
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"imager/video/levels"
)

const (
	// Time allowed to write message to the client
	writeWait    = 10 * time.Second
	pingPeriod   = 10 * time.Second
	statusPeriod = time.Second
)

// levelRequest is what clients send to move the window.
type levelRequest struct {
	Low  *int `json:"low"`
	High *int `json:"high"`
}

// LevelUpdater streams the session status over a websocket and, when
// adjustable, accepts new level windows from the client.
type LevelUpdater struct {
	Status StatusSource
	Live   *levels.Live

	// Adjustable allows clients to change the window.
	Adjustable bool

	upgrader websocket.Upgrader
}

func NewLevelUpdater(status StatusSource, live *levels.Live, adjustable bool) *LevelUpdater {
	return &LevelUpdater{
		Status:     status,
		Live:       live,
		Adjustable: adjustable,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

func (m *LevelUpdater) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := m.upgrader.Upgrade(w, r, nil)
	if err != nil {
		if _, ok := err.(websocket.HandshakeError); !ok {
			log.WithField("addr", r.RemoteAddr).Errorf("Websocket handshake failed for level stream: %v", err)
		}
		return
	}
	go m.serve(ws)
}

// apply validates a client request against the current window.
func (m *LevelUpdater) apply(req levelRequest) (levels.Window, error) {
	cur, _ := m.Live.Load()
	low, high := int(cur.Low), int(cur.High)
	if req.Low != nil {
		low = *req.Low
	}
	if req.High != nil {
		high = *req.High
	}
	w, err := levels.NewWindow(low, high)
	if err != nil {
		return cur, err
	}
	m.Live.Set(w)
	return w, nil
}

func (m *LevelUpdater) serve(ws *websocket.Conn) {
	clog := log.WithField("addr", ws.RemoteAddr())
	clog.Info("connected to level socket")
	defer func() {
		ws.Close()
		clog.Info("disconnected from level socket")
	}()
	pingTicker := time.NewTicker(pingPeriod)
	defer pingTicker.Stop()
	statusTicker := time.NewTicker(statusPeriod)
	defer statusTicker.Stop()

	replies := make(chan interface{}, 1)
	closed := make(chan struct{})
	quit := make(chan struct{})
	defer close(quit)
	reply := func(v interface{}) {
		select {
		case replies <- v:
		case <-quit:
		}
	}

	// Read from the socket to receive level changes and process control
	// messages.
	go func() {
		defer close(closed)
		for {
			_, b, err := ws.ReadMessage()
			if err != nil {
				return
			}
			var req levelRequest
			if err := json.Unmarshal(b, &req); err != nil {
				reply(map[string]string{"error": err.Error()})
				continue
			}
			if !m.Adjustable {
				reply(map[string]string{"error": "live levels are disabled"})
				continue
			}
			w, err := m.apply(req)
			if err != nil {
				reply(map[string]string{"error": err.Error()})
				continue
			}
			clog.Infof("Level window set to %v", w)
			reply(m.Status.Status())
		}
	}()

	send := func(v interface{}) bool {
		ws.SetWriteDeadline(time.Now().Add(writeWait))
		return ws.WriteJSON(v) == nil
	}
	if !send(m.Status.Status()) {
		return
	}
	for {
		select {
		case <-closed:
			return
		case v := <-replies:
			if !send(v) {
				return
			}
		case <-statusTicker.C:
			if !send(m.Status.Status()) {
				return
			}
		case <-pingTicker.C:
			ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(websocket.PingMessage, []byte{}); err != nil {
				return
			}
		}
	}
}
