// Package server implements the proximity tracking server.
//
// Every connected client is an Observer on the broadcast loop. A
// gps_update from one client lands in the position store and fans out
// to everyone else; selected_users assignments flow the other way,
// pushed to the one client they belong to. Delivery is best effort:
// a slow observer drops messages rather than stalling the loop, the
// next position tick supersedes anything lost.
package server

import (
	"crypto/rand"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/itsrealkaran/eth-date/data"
)

const (
	// Entries older than this are swept from the position store,
	// matching the roster inactivity cutoff
	EvictThreshold = 60 * time.Second

	// How often the sweep runs
	SweepInterval = 10 * time.Second

	// Minimum interval between accepted gps_updates per user
	UpdateInterval = 500 * time.Millisecond
)

// Observer is one connected client
type Observer struct {
	Id      string
	UserID  string
	Session string
	Events  chan *Message
	Kill    chan bool
}

// Server owns the position store and fans updates out to observers
type Server struct {
	Created int64
	Events  chan *Message

	mu         sync.RWMutex
	observers  map[string]*Observer
	selections map[string]*Selection

	positions *data.Positions
	limiter   *RateLimiter
}

var alphanum = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

var Default = New()

// Random generates an i length alphanum string
func Random(i int) string {
	bytes := make([]byte, i)
	rand.Read(bytes)
	for i, b := range bytes {
		bytes[i] = alphanum[b%byte(len(alphanum))]
	}
	return string(bytes)
}

func New() *Server {
	return &Server{
		Created:    time.Now().UnixNano(),
		Events:     make(chan *Message, 100),
		observers:  make(map[string]*Observer),
		selections: make(map[string]*Selection),
		positions:  data.NewPositions(),
		limiter:    NewRateLimiter(UpdateInterval),
	}
}

func NewObserver(userID, session string) *Observer {
	return &Observer{
		Id:      uuid.New().String(),
		UserID:  userID,
		Session: session,
		Events:  make(chan *Message, 16),
		Kill:    make(chan bool),
	}
}

// Positions exposes the store for the matcher and push checks
func (s *Server) Positions() *data.Positions {
	return s.positions
}

// Observe registers an observer and tears it down when killed
func (s *Server) Observe(o *Observer) {
	s.mu.Lock()
	s.observers[o.Id] = o
	sel := s.selections[o.UserID]
	s.mu.Unlock()

	// catch the client up on its current assignment
	if sel != nil {
		select {
		case o.Events <- NewSelectedUsers(sel):
		default:
		}
	}

	log.Printf("[server] observer %s connected for user %s", o.Id, o.UserID)

	go func() {
		<-o.Kill
		s.mu.Lock()
		delete(s.observers, o.Id)
		s.mu.Unlock()
		log.Printf("[server] observer %s disconnected", o.Id)
	}()
}

// Broadcast sends a message to every observer except the originating
// user. Observers that can't keep up miss it.
func (s *Server) Broadcast(message *Message) {
	var observers []*Observer

	s.mu.RLock()
	for _, o := range s.observers {
		observers = append(observers, o)
	}
	s.mu.RUnlock()

	for _, o := range observers {
		if message.UserID != "" && message.UserID == o.UserID {
			continue
		}
		select {
		case o.Events <- message:
		default:
		}
	}
}

// SendTo delivers a message to all observers for one user
func (s *Server) SendTo(userID string, message *Message) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, o := range s.observers {
		if o.UserID != userID {
			continue
		}
		select {
		case o.Events <- message:
		default:
		}
	}
}

// Select replaces a user's target assignment and relays it to them
func (s *Server) Select(userID string, sel *Selection) {
	if sel.SelectedAt == 0 {
		sel.SelectedAt = time.Now().UnixMilli()
	}

	s.mu.Lock()
	s.selections[userID] = sel
	s.mu.Unlock()

	s.SendTo(userID, NewSelectedUsers(sel))
}

// Selection returns a user's current target assignment
func (s *Server) Selection(userID string) *Selection {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.selections[userID]
}

// TrackedUsers lists user ids with a live observer
func (s *Server) TrackedUsers() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[string]bool)
	var users []string
	for _, o := range s.observers {
		if o.UserID == "" || seen[o.UserID] {
			continue
		}
		seen[o.UserID] = true
		users = append(users, o.UserID)
	}
	return users
}

// handle processes one inbound message from a socket
func (s *Server) handle(message *Message) {
	switch message.Type {
	case MsgGPSUpdate:
		if message.UserID == "" {
			return
		}
		if !s.limiter.Allow(message.UserID) {
			return
		}
		pos, err := message.Position()
		if err != nil {
			log.Printf("[server] bad gps_update from %s: %v", message.UserID, err)
			return
		}
		if !validCoordinates(pos) {
			log.Printf("[server] out of range gps_update from %s", message.UserID)
			return
		}
		if pos.Timestamp == 0 {
			pos.Timestamp = time.Now().UnixMilli()
		}
		s.positions.Put(message.UserID, pos)
		s.Broadcast(message)
		DefaultPush().CheckProximity(s, message.UserID, pos)
	default:
		log.Printf("[server] unknown message type %q", message.Type)
	}
}

// Run drives the event loop and the stale sweep
func (s *Server) Run() {
	sweep := time.NewTicker(SweepInterval)
	defer sweep.Stop()

	for {
		select {
		case message := <-s.Events:
			s.handle(message)
		case <-sweep.C:
			now := time.Now()
			if n := s.positions.EvictStale(now.UnixMilli(), EvictThreshold.Milliseconds()); n > 0 {
				log.Printf("[server] evicted %d stale positions", n)
			}
			s.limiter.Prune(now, EvictThreshold)
		}
	}
}

func Run() {
	Default.Run()
}
