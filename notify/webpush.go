package notify

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/goccy/go-json"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// pushTTL is how long a push service holds a session notification for an
// offline browser, in seconds.
const pushTTL = 12 * 60 * 60

type VAPIDKey struct {
	ID      uint `gorm:"primarykey"`
	Public  string
	Private string
}

type WebPushOptions struct {
	// Key overrides the key stored in the database. Optional.
	Key *VAPIDKey

	// Subscriber is the contact address sent to push services.
	Subscriber string
}

// WebPush delivers session notifications to browsers that subscribed through
// the status page.
type WebPush struct {
	// Key signs every push. Unless configured, it is generated on first
	// startup and persisted in the database.
	Key *VAPIDKey

	subscriber string
	db         *gorm.DB
}

// PushConfig is one browser subscription, keyed by its push endpoint.
type PushConfig struct {
	gorm.Model

	Peer string

	SubscriptionID       string `gorm:"uniqueIndex;size:512"`
	PushSubscriptionJSON string

	LastSuccess        *time.Time
	LastFailure        *time.Time
	LastFailureMessage string
}

// subscriptionView is what /push/subscriptions reports. It leaves out the
// subscription keys.
type subscriptionView struct {
	ID          uint       `json:"id"`
	Peer        string     `json:"peer"`
	Endpoint    string     `json:"endpoint"`
	Created     time.Time  `json:"created"`
	LastSuccess *time.Time `json:"last_success,omitempty"`
	LastFailure *time.Time `json:"last_failure,omitempty"`
	LastError   string     `json:"last_error,omitempty"`
}

func (pc *PushConfig) view() subscriptionView {
	return subscriptionView{
		ID:          pc.ID,
		Peer:        pc.Peer,
		Endpoint:    pc.SubscriptionID,
		Created:     pc.CreatedAt,
		LastSuccess: pc.LastSuccess,
		LastFailure: pc.LastFailure,
		LastError:   pc.LastFailureMessage,
	}
}

func NewWebPush(db *gorm.DB, opts WebPushOptions) (*WebPush, error) {
	if err := db.AutoMigrate(&VAPIDKey{}, &PushConfig{}); err != nil {
		return nil, err
	}
	key, err := loadKey(db, opts.Key)
	if err != nil {
		return nil, err
	}
	return &WebPush{
		Key:        key,
		subscriber: opts.Subscriber,
		db:         db,
	}, nil
}

// loadKey prefers a configured key, then the stored one, and generates and
// stores a new key when neither exists.
func loadKey(db *gorm.DB, configured *VAPIDKey) (*VAPIDKey, error) {
	if configured != nil && configured.Public != "" && configured.Private != "" {
		log.Info("Web push VAPID key taken from configuration")
		return configured, nil
	}
	key := &VAPIDKey{}
	err := db.First(key).Error
	switch {
	case err == nil:
		log.Info("Web push VAPID key loaded from database")
		return key, nil
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return nil, fmt.Errorf("load VAPID key: %w", err)
	}
	if key.Private, key.Public, err = webpush.GenerateVAPIDKeys(); err != nil {
		return nil, err
	}
	if err := db.Create(key).Error; err != nil {
		return nil, fmt.Errorf("store VAPID key: %w", err)
	}
	log.Info("Web push VAPID key generated")
	return key, nil
}

func (p *WebPush) RegisterHandlers(mux *http.ServeMux) {
	mux.HandleFunc("/push/key", p.handleKey)
	mux.HandleFunc("/push/subscriptions", p.handleSubscriptions)
	mux.HandleFunc("/push/subscribe", p.handleSubscribe)
	mux.HandleFunc("/push/unsubscribe", p.handleUnsubscribe)
	mux.HandleFunc("/push/test", p.handleTest)
}

func (p *WebPush) handleKey(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	io.WriteString(w, p.Key.Public)
}

// decodeSubscription reads a browser PushSubscription.
func decodeSubscription(body io.Reader) (*webpush.Subscription, error) {
	sub := &webpush.Subscription{}
	if err := json.NewDecoder(body).Decode(sub); err != nil {
		return nil, fmt.Errorf("decode subscription: %w", err)
	}
	if sub.Endpoint == "" {
		return nil, errors.New("subscription has no endpoint")
	}
	if sub.Keys.Auth == "" || sub.Keys.P256dh == "" {
		return nil, errors.New("subscription has no keys")
	}
	return sub, nil
}

// postedSubscription validates a subscribe or unsubscribe request and writes
// the error response itself when it returns nil.
func postedSubscription(w http.ResponseWriter, r *http.Request) *webpush.Subscription {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "POST a PushSubscription", http.StatusMethodNotAllowed)
		return nil
	}
	sub, err := decodeSubscription(r.Body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return nil
	}
	return sub
}

// handleSubscribe stores the subscription. Subscribing again from the same
// browser refreshes the stored keys.
func (p *WebPush) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	sub := postedSubscription(w, r)
	if sub == nil {
		return
	}
	raw, err := json.Marshal(sub)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	pc := &PushConfig{}
	err = p.db.
		Where(PushConfig{SubscriptionID: sub.Endpoint}).
		Assign(PushConfig{Peer: r.RemoteAddr, PushSubscriptionJSON: string(raw)}).
		FirstOrCreate(pc).Error
	if err != nil {
		log.Errorf("Failed to store push subscription: %v", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	log.WithField("peer", pc.Peer).Infof("Push subscription %d stored", pc.ID)
	w.WriteHeader(http.StatusCreated)
}

func (p *WebPush) handleUnsubscribe(w http.ResponseWriter, r *http.Request) {
	sub := postedSubscription(w, r)
	if sub == nil {
		return
	}
	res := p.db.Where("subscription_id = ?", sub.Endpoint).Delete(&PushConfig{})
	if res.Error != nil {
		log.Errorf("Failed to delete push subscription: %v", res.Error)
		http.Error(w, res.Error.Error(), http.StatusInternalServerError)
		return
	}
	if res.RowsAffected == 0 {
		http.Error(w, "subscription not found", http.StatusNotFound)
		return
	}
	log.WithField("peer", r.RemoteAddr).Info("Push subscription removed")
	w.WriteHeader(http.StatusNoContent)
}

func (p *WebPush) handleSubscriptions(w http.ResponseWriter, r *http.Request) {
	var subs []*PushConfig
	if err := p.db.Order("created_at").Find(&subs).Error; err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	views := make([]subscriptionView, 0, len(subs))
	for _, s := range subs {
		views = append(views, s.view())
	}
	w.Header().Set("Content-Type", "application/json")
	js, err := json.MarshalIndent(views, "", "  ")
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Write(js)
}

// handleTest pushes a made-up session summary to every subscriber.
func (p *WebPush) handleTest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "POST to send a test notification", http.StatusMethodNotAllowed)
		return
	}
	n := &Notification{
		Title:      "Test notification",
		Body:       "session_test: 1200 frames in 1m0s",
		TimeString: time.Now().Format("3:04 PM"),
	}
	if err := p.Notify(n); err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
	}
}

// urgency asks push services to wake devices for failed sessions only.
func urgency(n *Notification) webpush.Urgency {
	if n.Failed {
		return webpush.UrgencyHigh
	}
	return webpush.UrgencyNormal
}

// expired reports whether the push service dropped the subscription.
func expired(resp *http.Response) bool {
	return resp != nil && (resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone)
}

// deliver sends payload to one subscription and records the outcome on it.
// Subscriptions the push service no longer knows are deleted.
func (p *WebPush) deliver(pc *PushConfig, payload []byte, u webpush.Urgency) error {
	sub := &webpush.Subscription{}
	if err := json.Unmarshal([]byte(pc.PushSubscriptionJSON), sub); err != nil {
		return fmt.Errorf("subscription %d: %w", pc.ID, err)
	}

	resp, sendErr := webpush.SendNotification(payload, sub, &webpush.Options{
		Subscriber:      p.subscriber,
		VAPIDPublicKey:  p.Key.Public,
		VAPIDPrivateKey: p.Key.Private,
		TTL:             pushTTL,
		Urgency:         u,
		Topic:           "imager_session",
	})
	if resp != nil {
		defer resp.Body.Close()
	}
	if expired(resp) {
		log.WithField("peer", pc.Peer).Infof("Push subscription %d expired (%v), removing", pc.ID, resp.Status)
		return p.db.Delete(pc).Error
	}
	if sendErr == nil && resp != nil && resp.StatusCode >= 300 {
		sendErr = fmt.Errorf("push service returned %v", resp.Status)
	}

	now := time.Now()
	if sendErr != nil {
		pc.LastFailure = &now
		pc.LastFailureMessage = sendErr.Error()
	} else {
		pc.LastSuccess = &now
	}
	if err := p.db.Save(pc).Error; err != nil {
		return errors.Join(sendErr, err)
	}
	return sendErr
}

// Notify implements NotifyListener. It returns the delivery failures joined
// together after every subscriber was tried.
func (p *WebPush) Notify(n *Notification) error {
	payload, err := json.Marshal(n)
	if err != nil {
		return err
	}
	var subs []*PushConfig
	if err := p.db.Find(&subs).Error; err != nil {
		return err
	}

	u := urgency(n)
	errs := make([]error, len(subs))
	var wg sync.WaitGroup
	for i, pc := range subs {
		wg.Add(1)
		go func(i int, pc *PushConfig) {
			defer wg.Done()
			errs[i] = p.deliver(pc, payload, u)
		}(i, pc)
	}
	wg.Wait()

	err = errors.Join(errs...)
	failed := 0
	for _, e := range errs {
		if e != nil {
			failed++
		}
	}
	log.WithFields(log.Fields{
		"session":     n.SessionID,
		"subscribers": len(subs),
		"failed":      failed,
	}).Info("Web push sent")
	return err
}
