// Package domain defines the core models of the conversation relay.
package domain

import "time"

// SenderRole identifies which side of a conversation authored a message.
type SenderRole string

const (
	SenderRoleSeeker   SenderRole = "seeker"
	SenderRoleProvider SenderRole = "provider"
)

// Valid reports whether r is one of the known roles.
func (r SenderRole) Valid() bool {
	return r == SenderRoleSeeker || r == SenderRoleProvider
}

// Message is a persisted chat message. ID and Timestamp are assigned by the
// store; a Message without an ID has not been persisted.
type Message struct {
	ID             int64      `json:"id"`
	ConversationID string     `json:"conversation_id"`
	SenderRole     SenderRole `json:"sender_role"`
	Text           string     `json:"text"`
	Timestamp      time.Time  `json:"timestamp"`
}
