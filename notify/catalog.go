package notify

import (
	"net/http"
	"strconv"
	"time"

	"github.com/goccy/go-json"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// SessionRecord is one finished session in the catalog.
type SessionRecord struct {
	gorm.Model

	SessionID string `gorm:"uniqueIndex;size:64"`
	Name      string
	Container string
	Sidecar   string
	Thumb     string

	StartedAt  time.Time
	ElapsedSec float64

	FramesAcquired  uint64
	FramesWritten   int
	FramesSkipped   int
	FramesDiscarded int
	Bytes           int64

	Error string
}

// Catalog stores a record of every finished session.
type Catalog struct {
	db *gorm.DB
}

func NewCatalog(db *gorm.DB) (*Catalog, error) {
	if err := db.AutoMigrate(&SessionRecord{}); err != nil {
		return nil, err
	}
	return &Catalog{db: db}, nil
}

// Notify implements NotifyListener.
func (c *Catalog) Notify(n *Notification) error {
	r := n.Result
	if r == nil {
		return nil
	}
	rec := &SessionRecord{
		SessionID:       r.ID,
		StartedAt:       r.Started,
		ElapsedSec:      r.Elapsed.Seconds(),
		FramesAcquired:  r.Producer.Acquired,
		FramesWritten:   r.Writer.Written,
		FramesSkipped:   r.Writer.Skipped + int(r.Producer.Skipped),
		FramesDiscarded: r.Writer.Discarded,
		Bytes:           r.Writer.Bytes,
	}
	if r.Files != nil {
		rec.Name = r.Files.Name
		rec.Container = r.Files.ContainerPath
		rec.Sidecar = r.Files.SidecarPath
		rec.Thumb = r.Files.ThumbPath
	}
	if r.Err != nil {
		rec.Error = r.Err.Error()
	}
	if err := c.db.Create(rec).Error; err != nil {
		return err
	}
	log.WithField("session", r.ID).Info("Session added to catalog")
	return nil
}

// Sessions returns the most recent sessions, newest first.
func (c *Catalog) Sessions(limit int) ([]*SessionRecord, error) {
	var recs []*SessionRecord
	if err := c.db.Order("started_at desc").Limit(limit).Find(&recs).Error; err != nil {
		return nil, err
	}
	return recs, nil
}

func (c *Catalog) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}
	recs, err := c.Sessions(limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(recs); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
