package main

import (
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
)

// Message types
const (
	TypeConnected         = "connected"
	TypeJoinConversation  = "join_conversation"
	TypeLeaveConversation = "leave_conversation"
	TypeJoined            = "joined"
	TypeLeft              = "left"
	TypeSendMessage       = "send_message"
	TypeDeleteMessage     = "delete_message"
	TypeMessageReceived   = "message_received"
	TypeMessageDeleted    = "message_deleted"
	TypeDeleteIgnored     = "delete_ignored"
	TypeError             = "error"
)

// BaseMessage contains common fields for all messages.
type BaseMessage struct {
	Type      string `json:"type"`
	Ts        int64  `json:"ts,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

// ConversationMessage is used for join and leave.
type ConversationMessage struct {
	BaseMessage
	ConversationID string `json:"conversation_id"`
}

// SendMessage carries chat text.
type SendMessage struct {
	BaseMessage
	ConversationID string `json:"conversation_id"`
	SenderRole     string `json:"sender_role,omitempty"`
	Text           string `json:"text"`
}

// DeleteMessage asks the relay to delete a message.
type DeleteMessage struct {
	BaseMessage
	MessageID int64 `json:"message_id"`
}

// ChatMessage is a persisted message as the relay sends it.
type ChatMessage struct {
	ID             int64     `json:"id"`
	ConversationID string    `json:"conversation_id"`
	SenderRole     string    `json:"sender_role"`
	Text           string    `json:"text"`
	Timestamp      time.Time `json:"timestamp"`
}

// Frame is any frame from the relay.
type Frame struct {
	BaseMessage
	SessionID      string          `json:"session_id,omitempty"`
	ConversationID string          `json:"conversation_id,omitempty"`
	MessageID      int64           `json:"message_id,omitempty"`
	Code           string          `json:"code,omitempty"`
	Message        json.RawMessage `json:"message,omitempty"`
}

// Chat returns the chat message of a message_received frame.
func (f Frame) Chat() (ChatMessage, error) {
	var m ChatMessage
	err := json.Unmarshal(f.Message, &m)
	return m, err
}

// ErrorText returns the message of an error frame.
func (f Frame) ErrorText() string {
	var s string
	if err := json.Unmarshal(f.Message, &s); err != nil {
		return string(f.Message)
	}
	return s
}

// Client represents a WebSocket client.
type Client struct {
	conn      *websocket.Conn
	sessionID string
	done      chan struct{}
}

// NewClient connects to the relay and waits for the connected frame.
func NewClient(addr, token string) (*Client, error) {
	if token != "" {
		u, err := url.Parse(addr)
		if err != nil {
			return nil, fmt.Errorf("parse addr: %w", err)
		}
		q := u.Query()
		q.Set("token", token)
		u.RawQuery = q.Encode()
		addr = u.String()
	}

	conn, _, err := websocket.DefaultDialer.Dial(addr, nil)
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}

	c := &Client{
		conn: conn,
		done: make(chan struct{}),
	}

	frame, err := c.Read()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("read connected: %w", err)
	}
	if frame.Type != TypeConnected {
		conn.Close()
		return nil, fmt.Errorf("expected connected, got: %s", frame.Type)
	}
	c.sessionID = frame.SessionID
	return c, nil
}

// Close closes the client connection.
func (c *Client) Close() error {
	close(c.done)
	return c.conn.Close()
}

// Join joins a conversation and waits for the acknowledgement.
func (c *Client) Join(conversationID string) error {
	msg := ConversationMessage{
		BaseMessage:    newBase(TypeJoinConversation),
		ConversationID: conversationID,
	}
	if err := c.conn.WriteJSON(msg); err != nil {
		return fmt.Errorf("write join: %w", err)
	}

	frame, err := c.Read()
	if err != nil {
		return fmt.Errorf("read joined: %w", err)
	}
	if frame.Type == TypeError {
		return fmt.Errorf("join failed: %s - %s", frame.Code, frame.ErrorText())
	}
	if frame.Type != TypeJoined {
		return fmt.Errorf("expected joined, got: %s", frame.Type)
	}
	return nil
}

// Leave leaves a conversation.
func (c *Client) Leave(conversationID string) error {
	return c.conn.WriteJSON(ConversationMessage{
		BaseMessage:    newBase(TypeLeaveConversation),
		ConversationID: conversationID,
	})
}

// Send sends chat text to the joined conversation.
func (c *Client) Send(conversationID, role, text string) error {
	return c.conn.WriteJSON(SendMessage{
		BaseMessage:    newBase(TypeSendMessage),
		ConversationID: conversationID,
		SenderRole:     role,
		Text:           text,
	})
}

// Delete asks the relay to delete a message.
func (c *Client) Delete(id int64) error {
	return c.conn.WriteJSON(DeleteMessage{
		BaseMessage: newBase(TypeDeleteMessage),
		MessageID:   id,
	})
}

// Read reads one frame.
func (c *Client) Read() (Frame, error) {
	var frame Frame
	_, data, err := c.conn.ReadMessage()
	if err != nil {
		return frame, err
	}
	if err := json.Unmarshal(data, &frame); err != nil {
		return frame, fmt.Errorf("unmarshal frame: %w", err)
	}
	return frame, nil
}

// Format renders a frame as one line for the terminal.
func Format(f Frame) string {
	switch f.Type {
	case TypeMessageReceived:
		m, err := f.Chat()
		if err != nil {
			return fmt.Sprintf("[%s] malformed message", f.Type)
		}
		return fmt.Sprintf("[%s] #%d %s: %s", m.Timestamp.Local().Format("15:04:05"), m.ID, m.SenderRole, m.Text)
	case TypeMessageDeleted:
		return fmt.Sprintf("message #%d was deleted", f.MessageID)
	case TypeDeleteIgnored:
		return fmt.Sprintf("message #%d was already gone", f.MessageID)
	case TypeLeft:
		return fmt.Sprintf("left %s", f.ConversationID)
	case TypeError:
		return fmt.Sprintf("error: %s - %s", f.Code, f.ErrorText())
	default:
		return fmt.Sprintf("[%s]", f.Type)
	}
}

func newBase(msgType string) BaseMessage {
	return BaseMessage{
		Type:      msgType,
		Ts:        time.Now().UnixMilli(),
		RequestID: fmt.Sprintf("req_%d", time.Now().UnixNano()),
	}
}
