package hub

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/samber/lo"

	"github.com/xiaot623/gigchat/relay/internal/domain"
)

var (
	// ErrBufferFull is returned when a session's send queue is full.
	ErrBufferFull = errors.New("send buffer full")
	// ErrSessionClosed is returned for operations on a closed session.
	ErrSessionClosed = errors.New("session closed")
)

// State is the lifecycle state of a session.
type State int

const (
	StateConnecting State = iota
	StateOpen
	StateJoined
	StateLeft
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateJoined:
		return "joined"
	case StateLeft:
		return "left"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Identity is what the session is allowed to do. The zero value is an
// unauthenticated client that may join any conversation with any role.
type Identity struct {
	Subject       string
	Role          domain.SenderRole
	Conversations []string
}

// CanJoin reports whether the identity may join conversationID.
func (i Identity) CanJoin(conversationID string) bool {
	if len(i.Conversations) == 0 {
		return true
	}
	return lo.Contains(i.Conversations, conversationID)
}

// Session is one connected client.
type Session struct {
	ID       string
	Conn     *websocket.Conn
	Identity Identity

	send chan []byte

	mu             sync.Mutex
	state          State
	conversationID string

	writeMu sync.Mutex
}

// NewSession creates a session in the Connecting state. conn may be nil for
// sessions that are driven without a socket.
func NewSession(conn *websocket.Conn, identity Identity, bufferSize int) *Session {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	return &Session{
		ID:       uuid.New().String(),
		Conn:     conn,
		Identity: identity,
		send:     make(chan []byte, bufferSize),
		state:    StateConnecting,
	}
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// ConversationID returns the joined conversation, or "" when not joined.
func (s *Session) ConversationID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conversationID
}

// Send returns the outbound queue. It is closed when the session closes.
func (s *Session) Send() <-chan []byte {
	return s.send
}

// Enqueue queues data for the write pump without blocking.
func (s *Session) Enqueue(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed {
		return ErrSessionClosed
	}
	select {
	case s.send <- data:
		return nil
	default:
		return ErrBufferFull
	}
}

// setState applies a transition unless the session is closed.
// Caller must not hold s.mu.
func (s *Session) setState(state State, conversationID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed {
		return false
	}
	s.state = state
	s.conversationID = conversationID
	return true
}

// close marks the session closed and closes its queue. Returns false if it
// was already closed.
func (s *Session) close() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed {
		return false
	}
	s.state = StateClosed
	s.conversationID = ""
	close(s.send)
	return true
}

// WriteMessage writes a message to the socket with proper locking.
func (s *Session) WriteMessage(messageType int, data []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.Conn.WriteMessage(messageType, data)
}

// SetWriteDeadline sets the write deadline for the socket.
func (s *Session) SetWriteDeadline(t time.Time) error {
	return s.Conn.SetWriteDeadline(t)
}

// SetReadDeadline sets the read deadline for the socket.
func (s *Session) SetReadDeadline(t time.Time) error {
	return s.Conn.SetReadDeadline(t)
}

// Close closes the socket, if any.
func (s *Session) Close() error {
	if s.Conn == nil {
		return nil
	}
	return s.Conn.Close()
}
