package server

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a message to the client.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the client.
	pongWait = 60 * time.Second

	// Send pings to client with this period. Must be less than pongWait.
	pingPeriod = 15 * time.Second

	// Maximum message size allowed from client.
	maxMessageSize = 1024
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// IsWebSocket checks if the request asks for an upgrade
func IsWebSocket(r *http.Request) bool {
	contains := func(key, val string) bool {
		vv := strings.Split(r.Header.Get(key), ",")
		for _, v := range vv {
			if val == strings.ToLower(strings.TrimSpace(v)) {
				return true
			}
		}
		return false
	}

	if contains("Connection", "upgrade") && contains("Upgrade", "websocket") {
		return true
	}

	return false
}

// ServeWebSocket upgrades the connection and runs the session loops
func ServeWebSocket(w http.ResponseWriter, r *http.Request, o *Observer) {
	var rspHdr http.Header
	// Sec-Websocket-Protocol can carry auth so accept anything here
	if prots := r.Header.Values("Sec-WebSocket-Protocol"); len(prots) > 0 {
		rspHdr = http.Header{}
		for _, p := range prots {
			rspHdr.Add("Sec-WebSocket-Protocol", p)
		}
	}

	conn, err := upgrader.Upgrade(w, r, rspHdr)
	if err != nil {
		// the observer is already registered, reap it
		close(o.Kill)
		http.Error(w, err.Error(), 500)
		return
	}

	s := stream{
		ctx:      r.Context(),
		conn:     conn,
		events:   Default.Events,
		observer: o,
	}

	s.run()
}

type stream struct {
	// request context
	ctx context.Context
	// the websocket connection
	conn *websocket.Conn
	// inbound events to the broadcast loop
	events chan *Message
	// the observer for this client
	observer *Observer
}

func (s *stream) run() {
	defer func() {
		s.conn.Close()
		close(s.observer.Kill)
	}()

	stopCtx, cancel := context.WithCancel(context.Background())

	wg := sync.WaitGroup{}
	wg.Add(2)

	go s.writeLoop(cancel, &wg, stopCtx)
	go s.readLoop(cancel, &wg, stopCtx)
	wg.Wait()
}

func (s *stream) readLoop(cancel context.CancelFunc, wg *sync.WaitGroup, stopCtx context.Context) {
	defer func() {
		cancel()
		wg.Done()
	}()

	s.conn.SetReadLimit(maxMessageSize)
	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error { s.conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })

	for {
		select {
		case <-stopCtx.Done():
			return
		default:
		}

		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("[socket] read: %v", err)
			}
			return
		}

		var msg Message
		if err := json.Unmarshal(raw, &msg); err != nil {
			// malformed input never tears down the connection
			log.Printf("[socket] dropping malformed message: %v", err)
			continue
		}

		switch msg.Type {
		case MsgPing:
			// answer immediately via the write loop
			select {
			case s.observer.Events <- NewPong():
			default:
			}
		case MsgPong:
			// nothing to do, read deadline already reset
		default:
			// trust the observer's identity over whatever the
			// client put in the message
			if s.observer.UserID != "" {
				msg.UserID = s.observer.UserID
			}
			select {
			case s.events <- &msg:
			case <-time.After(time.Second):
				log.Printf("[socket] event loop backed up, dropping %s", msg.Type)
			}
		}
	}
}

func (s *stream) writeLoop(cancel context.CancelFunc, wg *sync.WaitGroup, stopCtx context.Context) {
	defer func() {
		s.conn.Close()
		cancel()
		wg.Done()
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-stopCtx.Done():
			return
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case msg := <-s.observer.Events:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			b, _ := json.Marshal(msg)
			if err := s.conn.WriteMessage(websocket.TextMessage, b); err != nil {
				return
			}
		}
	}
}
