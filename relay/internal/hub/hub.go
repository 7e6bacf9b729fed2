// Package hub keeps the registry of connected sessions and conversation rooms.
package hub

import (
	"encoding/json"
	"errors"
	"sync"

	"go.uber.org/zap"
)

// Hub manages all sessions and the rooms they have joined.
// All updates are applied synchronously under mu.
type Hub struct {
	// Sessions indexed by session ID
	sessions map[string]*Session

	// Rooms maps conversation_id to set of session IDs
	rooms map[string]map[string]struct{}

	mu  sync.RWMutex
	log *zap.Logger
}

// NewHub creates a new Hub.
func NewHub(log *zap.Logger) *Hub {
	if log == nil {
		log = zap.NewNop()
	}
	return &Hub{
		sessions: make(map[string]*Session),
		rooms:    make(map[string]map[string]struct{}),
		log:      log,
	}
}

// Register adds a session to the connection index and opens it.
func (h *Hub) Register(s *Session) {
	if !s.setState(StateOpen, "") {
		return
	}
	h.mu.Lock()
	h.sessions[s.ID] = s
	h.mu.Unlock()
	h.log.Debug("session registered", zap.String("session_id", s.ID))
}

// Join adds s to the room for conversationID. Joining the room the session
// is already in is a no-op; joining another room moves the session.
func (h *Hub) Join(conversationID string, s *Session) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if s.State() == StateClosed {
		return ErrSessionClosed
	}

	prev := s.ConversationID()
	if prev != "" && prev != conversationID {
		h.removeFromRoomLocked(prev, s.ID)
	}

	members, ok := h.rooms[conversationID]
	if !ok {
		members = make(map[string]struct{})
		h.rooms[conversationID] = members
	}
	members[s.ID] = struct{}{}
	h.sessions[s.ID] = s

	if !s.setState(StateJoined, conversationID) {
		// Closed concurrently: undo.
		h.removeFromRoomLocked(conversationID, s.ID)
		return ErrSessionClosed
	}

	h.log.Debug("session joined",
		zap.String("session_id", s.ID),
		zap.String("conversation_id", conversationID))
	return nil
}

// Leave removes s from the room for conversationID. It reports whether the
// session was a member.
func (h *Hub) Leave(conversationID string, s *Session) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	members, ok := h.rooms[conversationID]
	if !ok {
		return false
	}
	if _, in := members[s.ID]; !in {
		return false
	}
	h.removeFromRoomLocked(conversationID, s.ID)
	s.setState(StateLeft, "")

	h.log.Debug("session left",
		zap.String("session_id", s.ID),
		zap.String("conversation_id", conversationID))
	return true
}

// MembersOf returns a snapshot of the sessions in the room.
func (h *Hub) MembersOf(conversationID string) []*Session {
	h.mu.RLock()
	defer h.mu.RUnlock()

	members := h.rooms[conversationID]
	out := make([]*Session, 0, len(members))
	for id := range members {
		if s, ok := h.sessions[id]; ok {
			out = append(out, s)
		}
	}
	return out
}

// DropSession removes s from every room and from the connection index, and
// closes it. Safe to call more than once; returns true only the first time.
func (h *Hub) DropSession(s *Session) bool {
	h.mu.Lock()
	for conv, members := range h.rooms {
		if _, ok := members[s.ID]; ok {
			h.removeFromRoomLocked(conv, s.ID)
		}
	}
	delete(h.sessions, s.ID)
	closed := s.close()
	h.mu.Unlock()

	if !closed {
		return false
	}
	h.log.Debug("session dropped", zap.String("session_id", s.ID))
	return true
}

// Broadcast queues data for every member of the room except `except` (which
// may be nil). Members whose queue is full are dropped. Returns the number of
// sessions the data was queued for.
func (h *Hub) Broadcast(conversationID string, data []byte, except *Session) int {
	delivered := 0
	for _, s := range h.MembersOf(conversationID) {
		if s == except {
			continue
		}
		err := s.Enqueue(data)
		switch {
		case err == nil:
			delivered++
		case errors.Is(err, ErrBufferFull):
			h.log.Warn("session buffer full, dropping",
				zap.String("session_id", s.ID),
				zap.String("conversation_id", conversationID))
			h.DropSession(s)
		}
	}
	return delivered
}

// BroadcastJSON marshals v and broadcasts it to the room.
func (h *Hub) BroadcastJSON(conversationID string, v interface{}, except *Session) (int, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return 0, err
	}
	return h.Broadcast(conversationID, data, except), nil
}

// SendJSON marshals v and queues it for a single session.
func (h *Hub) SendJSON(s *Session, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	err = s.Enqueue(data)
	if errors.Is(err, ErrBufferFull) {
		h.DropSession(s)
	}
	return err
}

// ConnectionCount returns the number of registered sessions.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

// RoomCount returns the number of non-empty rooms.
func (h *Hub) RoomCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms)
}

// HasMembers checks if a room has any sessions.
func (h *Hub) HasMembers(conversationID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[conversationID]) > 0
}

func (h *Hub) removeFromRoomLocked(conversationID, sessionID string) {
	members, ok := h.rooms[conversationID]
	if !ok {
		return
	}
	delete(members, sessionID)
	if len(members) == 0 {
		delete(h.rooms, conversationID)
	}
}
