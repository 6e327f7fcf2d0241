// Package relaytest provides an in-process relay for exercising the transport
// and the session state machine.
package relaytest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/pickletour/courtlive/pkg/relay"
)

type Mode int

const (
	// AckStart answers start with started.
	AckStart Mode = iota
	// RejectStart answers start with an error frame.
	RejectStart
	// CloseOnStart drops the socket when start arrives.
	CloseOnStart
	// Silent never answers start.
	Silent
)

type Server struct {
	*httptest.Server

	mode     Mode
	upgrader websocket.Upgrader

	mu     sync.Mutex
	conn   *websocket.Conn
	starts []relay.StartMessage
	stops  int
	video  [][]byte
	audio  [][]byte
	closed chan struct{}
	got    chan struct{}
}

func NewServer(mode Mode) *Server {
	s := &Server{
		mode:   mode,
		closed: make(chan struct{}, 16),
		got:    make(chan struct{}, 1024),
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.handle))
	return s
}

// WSURL is the websocket address of the server.
func (s *Server) WSURL() string {
	return "ws" + strings.TrimPrefix(s.Server.URL, "http")
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()

	defer func() {
		conn.Close()
		s.closed <- struct{}{}
	}()

	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if messageType == websocket.BinaryMessage {
			audio, payload := relay.Demux(data)
			s.mu.Lock()
			if audio {
				s.audio = append(s.audio, append([]byte(nil), payload...))
			} else {
				s.video = append(s.video, append([]byte(nil), payload...))
			}
			s.mu.Unlock()
			s.notify()
			continue
		}

		var msg relay.StartMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		switch msg.Type {
		case "start":
			s.mu.Lock()
			s.starts = append(s.starts, msg)
			s.mu.Unlock()
			s.notify()

			switch s.mode {
			case AckStart:
				_ = s.Send(map[string]string{"type": "started", "message": "ready"})
			case RejectStart:
				_ = s.Send(map[string]string{"type": "error", "message": "Stream key is required"})
			case CloseOnStart:
				return
			}
		case "stop":
			s.mu.Lock()
			s.stops++
			s.mu.Unlock()
			s.notify()
			_ = s.Send(map[string]string{"type": "stopped", "message": "Stream stopped by user"})
		}
	}
}

func (s *Server) notify() {
	select {
	case s.got <- struct{}{}:
	default:
	}
}

// Send writes a JSON control frame to the most recent connection.
func (s *Server) Send(v interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return websocket.ErrCloseSent
	}
	return s.conn.WriteJSON(v)
}

// Drop closes the most recent connection without a close handshake.
func (s *Server) Drop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		s.conn.Close()
	}
}

// WaitClosed blocks until a connection handler exits or the timeout passes.
func (s *Server) WaitClosed(timeout time.Duration) bool {
	select {
	case <-s.closed:
		return true
	case <-time.After(timeout):
		return false
	}
}

// WaitFor polls cond every time the server records something.
func (s *Server) WaitFor(timeout time.Duration, cond func() bool) bool {
	deadline := time.After(timeout)
	for {
		if cond() {
			return true
		}
		select {
		case <-s.got:
		case <-time.After(10 * time.Millisecond):
		case <-deadline:
			return cond()
		}
	}
}

func (s *Server) Starts() []relay.StartMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]relay.StartMessage(nil), s.starts...)
}

func (s *Server) Stops() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stops
}

func (s *Server) Video() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]byte(nil), s.video...)
}

func (s *Server) Audio() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]byte(nil), s.audio...)
}
