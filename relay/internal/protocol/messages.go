// Package protocol defines the WebSocket message protocol between chat clients and the relay.
package protocol

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/xiaot623/gigchat/relay/internal/domain"
)

// Message types from client to relay
const (
	TypeJoinConversation  = "join_conversation"
	TypeLeaveConversation = "leave_conversation"
	TypeSendMessage       = "send_message"
	TypeDeleteMessage     = "delete_message"
)

// Message types from relay to client
const (
	TypeConnected       = "connected"
	TypeJoined          = "joined"
	TypeLeft            = "left"
	TypeMessageReceived = "message_received"
	TypeMessageDeleted  = "message_deleted"
	TypeDeleteIgnored   = "delete_ignored"
	TypeError           = "error"
)

// BaseMessage contains common fields for all messages.
type BaseMessage struct {
	Type      string `json:"type"`
	Ts        int64  `json:"ts,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

// JoinConversationMessage is sent by a client to enter a conversation room.
type JoinConversationMessage struct {
	BaseMessage
	ConversationID string `json:"conversation_id" validate:"required,max=128"`
}

// LeaveConversationMessage is sent by a client to leave a conversation room.
type LeaveConversationMessage struct {
	BaseMessage
	ConversationID string `json:"conversation_id" validate:"required,max=128"`
}

// SendMessageMessage carries a chat message. An empty conversation_id means
// the conversation the session has joined; an empty sender_role is allowed
// when the role comes from the session's token.
type SendMessageMessage struct {
	BaseMessage
	ConversationID string `json:"conversation_id" validate:"omitempty,max=128"`
	SenderRole     string `json:"sender_role" validate:"omitempty,oneof=seeker provider"`
	Text           string `json:"text"`
}

// DeleteMessageMessage asks the relay to delete a persisted message.
type DeleteMessageMessage struct {
	BaseMessage
	MessageID int64 `json:"message_id" validate:"required,gt=0"`
}

// ConnectedMessage is the first frame on a new connection.
type ConnectedMessage struct {
	BaseMessage
	SessionID string `json:"session_id"`
}

// JoinedMessage acknowledges a join.
type JoinedMessage struct {
	BaseMessage
	ConversationID string `json:"conversation_id"`
}

// LeftMessage acknowledges a leave.
type LeftMessage struct {
	BaseMessage
	ConversationID string `json:"conversation_id"`
}

// MessageReceivedMessage carries a persisted message to room members.
type MessageReceivedMessage struct {
	BaseMessage
	Message domain.Message `json:"message"`
}

// MessageDeletedMessage tells room members a message is gone.
type MessageDeletedMessage struct {
	BaseMessage
	MessageID      int64  `json:"message_id"`
	ConversationID string `json:"conversation_id"`
}

// DeleteIgnoredMessage tells the caller a delete did not apply.
type DeleteIgnoredMessage struct {
	BaseMessage
	MessageID int64 `json:"message_id"`
}

// ErrorMessage is sent by the relay when an error occurs.
type ErrorMessage struct {
	BaseMessage
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes
const (
	ErrorCodeInvalidMessage    = "invalid_message"
	ErrorCodeValidationFailed  = "validation_failed"
	ErrorCodeNotJoined         = "not_joined"
	ErrorCodePersistenceFailed = "persistence_failed"
	ErrorCodeUnauthorized      = "unauthorized"
	ErrorCodeInternalError     = "internal_error"
)

var validate = validator.New()

// Decode unmarshals data into v and validates its struct tags.
func Decode(data []byte, v interface{}) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("invalid json: %w", err)
	}
	if err := validate.Struct(v); err != nil {
		return fmt.Errorf("invalid fields: %w", err)
	}
	return nil
}

// NewBase returns a BaseMessage of the given type stamped with the current time.
func NewBase(msgType, requestID string) BaseMessage {
	return BaseMessage{
		Type:      msgType,
		Ts:        time.Now().UnixMilli(),
		RequestID: requestID,
	}
}
