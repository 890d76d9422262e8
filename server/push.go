package server

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"sync"
	"time"

	webpush "github.com/SherClockHolmes/webpush-go"

	"github.com/itsrealkaran/eth-date/data"
	"github.com/itsrealkaran/eth-date/geo"
)

const (
	// Distance at which "your match is nearby" fires
	proximityThreshold = 100.0 // meters

	// One alert per user/target pair within this window
	pushCooldown = 10 * time.Minute
)

// PushSubscription is the browser's push endpoint and keys
type PushSubscription struct {
	Endpoint string `json:"endpoint"`
	Keys     struct {
		P256dh string `json:"p256dh"`
		Auth   string `json:"auth"`
	} `json:"keys"`
}

// PushUser tracks a user's subscription and alert state
type PushUser struct {
	UserID       string               `json:"user_id"`
	Subscription *PushSubscription    `json:"subscription"`
	LastAlert    map[string]time.Time `json:"-"` // targetID -> last alert
}

// PushManager sends proximity alerts over web push
type PushManager struct {
	mu           sync.RWMutex
	users        map[string]*PushUser
	vapidPublic  string
	vapidPrivate string
	subject      string
}

var pushManager *PushManager
var pushOnce sync.Once

// DefaultPush returns the singleton push manager
func DefaultPush() *PushManager {
	pushOnce.Do(func() {
		pushManager = &PushManager{
			users:        make(map[string]*PushUser),
			vapidPublic:  os.Getenv("VAPID_PUBLIC_KEY"),
			vapidPrivate: os.Getenv("VAPID_PRIVATE_KEY"),
			subject:      "mailto:push@eth-date.app",
		}
		if pushManager.vapidPublic != "" {
			log.Printf("[push] proximity alerts enabled")
		} else {
			log.Printf("[push] VAPID keys not configured, push disabled")
		}
	})
	return pushManager
}

func (pm *PushManager) enabled() bool {
	return pm.vapidPublic != "" && pm.vapidPrivate != ""
}

// Subscribe registers a user's push subscription
func (pm *PushManager) Subscribe(userID string, sub *PushSubscription) {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	pm.users[userID] = &PushUser{
		UserID:       userID,
		Subscription: sub,
		LastAlert:    make(map[string]time.Time),
	}
	log.Printf("[push] user %s subscribed", userID)
}

// Unsubscribe drops a user's subscription
func (pm *PushManager) Unsubscribe(userID string) {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	delete(pm.users, userID)
}

// CheckProximity alerts a user when one of their selected targets
// comes within the threshold. Invoked on every accepted gps_update.
func (pm *PushManager) CheckProximity(s *Server, userID string, pos *data.Position) {
	if !pm.enabled() {
		return
	}

	sel := s.Selection(userID)
	if sel == nil {
		return
	}

	for _, slot := range []string{"male", "female"} {
		target := sel.Slot(slot)
		if target == "" {
			continue
		}
		tpos, ok := s.Positions().Get(target)
		if !ok {
			continue
		}
		dist := geo.DistanceMeters(pos.Latitude, pos.Longitude, tpos.Latitude, tpos.Longitude)
		if dist > proximityThreshold {
			continue
		}
		pm.alert(userID, target, int(dist))
	}
}

func (pm *PushManager) alert(userID, targetID string, distance int) {
	pm.mu.Lock()
	user, ok := pm.users[userID]
	if !ok || user.Subscription == nil {
		pm.mu.Unlock()
		return
	}
	if last, seen := user.LastAlert[targetID]; seen && time.Since(last) < pushCooldown {
		pm.mu.Unlock()
		return
	}
	user.LastAlert[targetID] = time.Now()
	sub := user.Subscription
	pm.mu.Unlock()

	payload, _ := json.Marshal(map[string]string{
		"title": "Your match is nearby",
		"body":  fmt.Sprintf("They're about %dm away. Open the compass to find them.", distance),
	})

	go func() {
		resp, err := webpush.SendNotification(payload, &webpush.Subscription{
			Endpoint: sub.Endpoint,
			Keys: webpush.Keys{
				P256dh: sub.Keys.P256dh,
				Auth:   sub.Keys.Auth,
			},
		}, &webpush.Options{
			Subscriber:      pm.subject,
			VAPIDPublicKey:  pm.vapidPublic,
			VAPIDPrivateKey: pm.vapidPrivate,
			TTL:             60,
		})
		if err != nil {
			log.Printf("[push] send to %s: %v", userID, err)
			return
		}
		defer resp.Body.Close()
		if resp.StatusCode == http.StatusGone {
			// endpoint expired, drop the subscription
			pm.Unsubscribe(userID)
		}
	}()
}

// SubscribeHandler registers push subscriptions over HTTP
// POST /push - {"user_id": ..., "subscription": {...}}
func SubscribeHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method != "POST" {
		http.Error(w, `{"error": "unsupported method"}`, 405)
		return
	}

	var req struct {
		UserID       string            `json:"user_id"`
		Subscription *PushSubscription `json:"subscription"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == "" || req.Subscription == nil {
		http.Error(w, `{"error": "bad request"}`, 400)
		return
	}

	DefaultPush().Subscribe(req.UserID, req.Subscription)
	w.Write([]byte(`{"ok": true}`))
}
