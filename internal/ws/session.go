package ws

import (
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tinymud/tinymud/internal/model"
)

// State is a session's lifecycle phase
type State int

const (
	// StateConnecting means the transport is up but nothing is verified
	StateConnecting State = iota
	// StateAuthenticated means the token handshake succeeded
	StateAuthenticated
	// StateCharacterPending means the server is waiting for character creation
	StateCharacterPending
	// StateActive is the steady message-loop state
	StateActive
	// StateClosed means the session is finished; no further sends happen
	StateClosed
)

// sessionConn is the subset of *websocket.Conn the session uses.
// Narrowed for tests.
type sessionConn interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(messageType int, data []byte) error
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(string) error)
	Close() error
}

// Session is the runtime state of one authenticated connection.
// Inbound messages are read by a single goroutine, so they are handled
// strictly in arrival order; outbound messages go through a buffered
// send queue drained by the write pump.
type Session struct {
	conn   sessionConn
	logger *slog.Logger

	user        *model.User
	roles       model.Roles // cached at authentication; not re-fetched per message
	characterID model.CharacterID

	send chan []byte
	done chan struct{}

	// moveMu serializes hub resubscription against teardown, so a
	// teleport landing during a disconnect cannot re-register a session
	// that is already closed
	moveMu sync.Mutex

	mu    sync.Mutex
	place model.Address // currently subscribed place
	state State

	closeOnce sync.Once
}

const sendQueueSize = 64

func newSession(conn sessionConn, logger *slog.Logger) *Session {
	return &Session{
		conn:   conn,
		logger: logger,
		send:   make(chan []byte, sendQueueSize),
		done:   make(chan struct{}),
		state:  StateConnecting,
	}
}

// User returns the authenticated user, nil before authentication
func (s *Session) User() *model.User {
	return s.user
}

// Roles returns the role bitset cached at authentication
func (s *Session) Roles() model.Roles {
	return s.roles
}

// CharacterID returns the bound character, empty until character
// creation or selection completes
func (s *Session) CharacterID() model.CharacterID {
	return s.characterID
}

// Place returns the place the session is subscribed to
func (s *Session) Place() model.Address {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.place
}

func (s *Session) setPlace(addr model.Address) {
	s.mu.Lock()
	s.place = addr
	s.mu.Unlock()
}

// State returns the session's lifecycle state
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) setState(state State) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

// Send encodes and queues a message for the client. A full queue drops
// the message; the slow client misses an update rather than stalling
// the rest of the server.
func (s *Session) Send(msg any) {
	data, err := encodeMessage(msg)
	if err != nil {
		s.logger.Error("encode outbound message", slog.Any("error", err))
		return
	}
	if !s.enqueue(data) {
		s.logger.Warn("outbound message dropped - send queue full")
	}
}

func (s *Session) enqueue(data []byte) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.send <- data:
		return true
	default:
		return false
	}
}

// writePump drains the send queue onto the connection and keeps the
// connection alive with pings. Runs as its own goroutine per session.
func (s *Session) writePump(pingInterval, writeTimeout time.Duration) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case data := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				s.logger.Debug("write failed, closing session", slog.Any("error", err))
				s.Close()
				return
			}

		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.Close()
				return
			}

		case <-s.done:
			return
		}
	}
}

// Close ends the session. Idempotent; any in-flight mutation the
// session started still runs to completion elsewhere.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.setState(StateClosed)
		close(s.done)
		_ = s.conn.Close()
	})
}
