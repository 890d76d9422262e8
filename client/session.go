// Package client implements the tracking session a device runs to
// share its position and follow its selected counterparts.
//
// A session owns one websocket connection and one geolocation watch.
// Both start together, both stop together. The connection state
// machine is disconnected -> connecting -> connected, dropping back
// to disconnected on any close with an automatic reconnect after a
// fixed delay. Position sends are fire and forget: if the transport
// is down or the capability gate fails the tick is dropped, the next
// one supersedes it.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/itsrealkaran/eth-date/data"
	"github.com/itsrealkaran/eth-date/server"
)

// State is the connection state driving the UI label
type State string

const (
	Disconnected State = "disconnected"
	Connecting   State = "connecting"
	Connected    State = "connected"
	Errored      State = "error"
)

// DefaultReconnectDelay matches the reference client behavior
const DefaultReconnectDelay = 3 * time.Second

// ErrTrackingBlocked means the capability gate refused to start:
// no verified profile with a gender set. Not a failure, the UI shows
// a "complete your profile" affordance instead.
var ErrTrackingBlocked = errors.New("tracking blocked: profile incomplete")

// Conn is the subset of the websocket connection the session uses.
// Tests substitute an in-memory pipe.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Dialer opens a transport connection to the given endpoint
type Dialer func(url string) (Conn, error)

func websocketDialer(url string) (Conn, error) {
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// DefaultEndpoint resolves the websocket URL for the environment
func DefaultEndpoint(dev bool) string {
	if url := os.Getenv("ETH_DATE_WS_URL"); url != "" {
		return url
	}
	if dev {
		return "ws://localhost:3002/ws"
	}
	return "wss://arweave.tech/ws"
}

// Config sets up a session. URL, ReconnectDelay and Dialer have
// working defaults; Source and UserID are required.
type Config struct {
	URL            string
	UserID         string
	Dev            bool
	ReconnectDelay time.Duration
	Source         PositionSource
	// Profile feeds the capability gate. Re-evaluated on every send
	// since verification can complete mid-session.
	Profile func() *data.Profile
	Dialer  Dialer
}

// Session is one device's tracking session
type Session struct {
	cfg Config

	// serializes writes from the send and read-reply paths
	writeMu sync.Mutex

	mu          sync.Mutex
	state       State
	conn        Conn
	tracking    bool
	gen         uint64
	err         error
	reconnect   *time.Timer
	watchCancel context.CancelFunc

	position  *data.Position
	selection *server.Selection
	peers     *data.Positions
}

// NewSession creates a session. Tracking doesn't start until
// StartTracking is called.
func NewSession(cfg Config) *Session {
	if cfg.URL == "" {
		cfg.URL = DefaultEndpoint(cfg.Dev)
	}
	if cfg.ReconnectDelay == 0 {
		cfg.ReconnectDelay = DefaultReconnectDelay
	}
	if cfg.Dialer == nil {
		cfg.Dialer = websocketDialer
	}
	// identify ourselves on the handshake so the server can tag and
	// route messages without trusting payload contents
	if cfg.UserID != "" {
		sep := "?"
		if strings.Contains(cfg.URL, "?") {
			sep = "&"
		}
		cfg.URL += sep + "user=" + url.QueryEscape(cfg.UserID)
	}
	return &Session{
		cfg:   cfg,
		state: Disconnected,
		peers: data.NewPositions(),
	}
}

// canTrack is the capability gate. Development mode always passes;
// otherwise a verified profile with a gender and a user id is needed.
func (s *Session) canTrack() bool {
	if s.cfg.Dev {
		return true
	}
	if s.cfg.UserID == "" {
		return false
	}
	if s.cfg.Profile == nil {
		return false
	}
	profile := s.cfg.Profile()
	return profile != nil && profile.Gender != ""
}

// CanTrack reports whether the capability gate currently passes
func (s *Session) CanTrack() bool {
	return s.canTrack()
}

// StartTracking opens the geolocation watch and the transport
// together. No-op when already tracking. When the capability gate
// fails nothing is opened and ErrTrackingBlocked is returned.
func (s *Session) StartTracking() error {
	s.mu.Lock()
	if s.tracking {
		s.mu.Unlock()
		return nil
	}
	if !s.canTrack() {
		s.err = ErrTrackingBlocked
		s.mu.Unlock()
		return ErrTrackingBlocked
	}

	s.tracking = true
	s.err = nil

	ctx, cancel := context.WithCancel(context.Background())
	s.watchCancel = cancel
	source := s.cfg.Source
	s.mu.Unlock()

	if source != nil {
		go s.watchLoop(ctx, source.Watch(ctx))
	}
	go s.connect()

	return nil
}

// StopTracking cancels the watch, closes the transport and stops any
// pending reconnect. Idempotent and safe from teardown paths.
func (s *Session) StopTracking() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.tracking = false
	s.gen++

	if s.watchCancel != nil {
		s.watchCancel()
		s.watchCancel = nil
	}
	if s.reconnect != nil {
		s.reconnect.Stop()
		s.reconnect = nil
	}
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
	s.state = Disconnected
}

// connect dials the endpoint and hands the connection to the read loop
func (s *Session) connect() {
	s.mu.Lock()
	if !s.tracking || s.state == Connected || s.state == Connecting {
		s.mu.Unlock()
		return
	}
	s.state = Connecting
	dial := s.cfg.Dialer
	url := s.cfg.URL
	s.mu.Unlock()

	conn, err := dial(url)

	s.mu.Lock()
	if !s.tracking {
		s.mu.Unlock()
		if err == nil {
			conn.Close()
		}
		return
	}
	if err != nil {
		log.Printf("[session] connect %s: %v", url, err)
		s.state = Errored
		s.err = err
		s.scheduleReconnectLocked()
		s.mu.Unlock()
		return
	}

	s.conn = conn
	s.state = Connected
	s.err = nil
	if s.reconnect != nil {
		s.reconnect.Stop()
		s.reconnect = nil
	}
	gen := s.gen
	s.mu.Unlock()

	go s.readLoop(conn, gen)
}

// scheduleReconnectLocked arms the reconnect timer. Caller holds the lock.
func (s *Session) scheduleReconnectLocked() {
	if s.reconnect != nil {
		return
	}
	s.reconnect = time.AfterFunc(s.cfg.ReconnectDelay, func() {
		s.mu.Lock()
		s.reconnect = nil
		tracking := s.tracking
		if tracking {
			s.state = Disconnected
		}
		s.mu.Unlock()
		if tracking {
			s.connect()
		}
	})
}

// readLoop consumes server messages until the connection dies
func (s *Session) readLoop(conn Conn, gen uint64) {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			s.handleClosed(gen)
			return
		}

		var msg server.Message
		if err := json.Unmarshal(raw, &msg); err != nil {
			log.Printf("[session] dropping malformed message: %v", err)
			continue
		}
		s.handleMessage(conn, &msg)
	}
}

// handleClosed transitions to disconnected and arms the reconnect,
// unless the session moved on (stop or a newer connection)
func (s *Session) handleClosed(gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.gen != gen || !s.tracking {
		return
	}
	s.conn = nil
	s.state = Disconnected
	s.scheduleReconnectLocked()
}

func (s *Session) handleMessage(conn Conn, msg *server.Message) {
	switch msg.Type {
	case server.MsgSelectedUsers:
		sel, err := msg.Selection()
		if err != nil {
			log.Printf("[session] bad selected_users: %v", err)
			return
		}
		s.mu.Lock()
		s.selection = sel
		s.mu.Unlock()
	case server.MsgGPSUpdate:
		if msg.UserID == "" {
			return
		}
		pos, err := msg.Position()
		if err != nil {
			log.Printf("[session] bad gps_update: %v", err)
			return
		}
		s.peers.Put(msg.UserID, pos)
	case server.MsgPing:
		s.write(conn, server.NewPong())
	case server.MsgPong:
		// heartbeat answered, nothing to do
	default:
		log.Printf("[session] unknown message type %q", msg.Type)
	}
}

// watchLoop feeds geolocation readings into the session
func (s *Session) watchLoop(ctx context.Context, readings <-chan Reading) {
	for {
		select {
		case <-ctx.Done():
			return
		case r, ok := <-readings:
			if !ok {
				return
			}
			if r.Err != nil {
				s.mu.Lock()
				s.err = r.Err
				s.mu.Unlock()
				continue
			}
			s.mu.Lock()
			s.position = r.Position
			s.mu.Unlock()
			s.sendPosition(r.Position)
		}
	}
}

// sendPosition transmits one position tick. Dropped silently unless
// the transport is open, an identity is present and the gate passes.
func (s *Session) sendPosition(pos *data.Position) {
	s.mu.Lock()
	conn := s.conn
	ok := s.state == Connected && conn != nil && s.cfg.UserID != ""
	s.mu.Unlock()

	if !ok || !s.canTrack() {
		return
	}

	if err := s.write(conn, server.NewGPSUpdate(s.cfg.UserID, pos)); err != nil {
		// the read loop notices the dead connection, nothing to do here
		log.Printf("[session] send: %v", err)
	}
}

func (s *Session) write(conn Conn, msg *server.Message) error {
	b, _ := json.Marshal(msg)
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return conn.WriteMessage(websocket.TextMessage, b)
}

// State returns the current connection state
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Err returns the last surfaced error, if any
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Position returns the last local geolocation reading
func (s *Session) Position() *data.Position {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.position
}

// Selection returns the current target assignment
func (s *Session) Selection() *server.Selection {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selection
}

// Peers returns the session's view of counterpart positions
func (s *Session) Peers() *data.Positions {
	return s.peers
}

// Directions computes display-ready direction info for both slots
// from the latest self position, assignment and peer positions.
// Peers that stopped reporting are evicted first, so a long-gone
// counterpart's slot degrades to nil rather than pointing at their
// last known spot.
func (s *Session) Directions() map[string]*DirectionInfo {
	s.mu.Lock()
	pos := s.position
	sel := s.selection
	s.mu.Unlock()
	s.peers.EvictStale(time.Now().UnixMilli(), server.EvictThreshold.Milliseconds())
	return ComputeDirections(pos, sel, s.peers)
}
