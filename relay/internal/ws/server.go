// Package ws provides the WebSocket endpoint chat clients connect to.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/xiaot623/gigchat/relay/internal/auth"
	"github.com/xiaot623/gigchat/relay/internal/config"
	"github.com/xiaot623/gigchat/relay/internal/domain"
	"github.com/xiaot623/gigchat/relay/internal/hub"
	"github.com/xiaot623/gigchat/relay/internal/protocol"
	"github.com/xiaot623/gigchat/relay/internal/relay"
)

// Server handles WebSocket connections.
type Server struct {
	cfg      *config.Config
	hub      *hub.Hub
	relay    *relay.Relay
	verifier *auth.Verifier
	upgrader websocket.Upgrader
	log      *zap.Logger
}

// NewServer creates a new WebSocket server. verifier may be nil, in which
// case clients are trusted.
func NewServer(cfg *config.Config, h *hub.Hub, r *relay.Relay, verifier *auth.Verifier, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{
		cfg:      cfg,
		hub:      h,
		relay:    r,
		verifier: verifier,
		log:      log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(req *http.Request) bool {
				origin := req.Header.Get("Origin")
				return origin == "" || cfg.Origin == "*" || origin == cfg.Origin
			},
		},
	}
}

// Register mounts the endpoint on e.
func (s *Server) Register(e *echo.Echo) {
	e.GET("/ws", s.HandleWebSocket)
}

// HandleWebSocket handles WebSocket upgrade and connection lifecycle.
func (s *Server) HandleWebSocket(c echo.Context) error {
	identity := hub.Identity{}
	if s.verifier != nil {
		claims, err := s.verifier.Verify(c.QueryParam("token"))
		if err != nil {
			s.log.Info("rejected websocket connection", zap.Error(err))
			return c.JSON(http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		}
		identity = hub.Identity{
			Subject:       claims.Subject,
			Role:          claims.Role,
			Conversations: claims.Conversations,
		}
	}

	ws, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		s.log.Warn("failed to upgrade websocket", zap.Error(err))
		return nil
	}

	sess := hub.NewSession(ws, identity, s.cfg.SendBuffer)
	s.hub.Register(sess)

	ws.SetReadLimit(s.cfg.MaxMessageSize)

	s.send(sess, protocol.ConnectedMessage{
		BaseMessage: protocol.NewBase(protocol.TypeConnected, ""),
		SessionID:   sess.ID,
	})

	go s.writePump(sess)
	go s.readPump(sess)

	s.log.Info("session connected",
		zap.String("session_id", sess.ID),
		zap.String("subject", identity.Subject))
	return nil
}

// readPump reads frames and handles them one at a time.
func (s *Server) readPump(sess *hub.Session) {
	ctx, cancel := context.WithCancel(context.Background())
	defer func() {
		cancel()
		s.relay.Disconnect(sess)
		sess.Close()
		s.log.Info("session disconnected", zap.String("session_id", sess.ID))
	}()

	sess.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
	sess.Conn.SetPongHandler(func(string) error {
		sess.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
		return nil
	})

	for {
		_, message, err := sess.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.log.Debug("websocket read error", zap.String("session_id", sess.ID), zap.Error(err))
			}
			return
		}
		if sess.State() == hub.StateClosed {
			return
		}
		s.handleMessage(ctx, sess, message)
	}
}

// writePump drains the session queue onto the socket.
func (s *Server) writePump(sess *hub.Session) {
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		sess.Close()
	}()

	for {
		select {
		case message, ok := <-sess.Send():
			sess.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			if !ok {
				// Session dropped
				sess.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := sess.WriteMessage(websocket.TextMessage, message); err != nil {
				s.log.Debug("failed to write message", zap.String("session_id", sess.ID), zap.Error(err))
				return
			}

		case <-ticker.C:
			sess.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			if err := sess.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage dispatches incoming messages to appropriate handlers.
func (s *Server) handleMessage(ctx context.Context, sess *hub.Session, data []byte) {
	var base protocol.BaseMessage
	if err := json.Unmarshal(data, &base); err != nil {
		s.sendError(sess, "", protocol.ErrorCodeInvalidMessage, "invalid JSON message")
		return
	}

	switch base.Type {
	case protocol.TypeJoinConversation:
		s.handleJoin(sess, data)
	case protocol.TypeLeaveConversation:
		s.handleLeave(sess, data)
	case protocol.TypeSendMessage:
		s.handleSend(ctx, sess, data)
	case protocol.TypeDeleteMessage:
		s.handleDelete(ctx, sess, data)
	default:
		s.sendError(sess, base.RequestID, protocol.ErrorCodeInvalidMessage, "unknown message type: "+base.Type)
	}
}

func (s *Server) handleJoin(sess *hub.Session, data []byte) {
	var msg protocol.JoinConversationMessage
	if err := protocol.Decode(data, &msg); err != nil {
		s.sendError(sess, msg.RequestID, protocol.ErrorCodeInvalidMessage, "invalid join_conversation message")
		return
	}

	if err := s.relay.Join(sess, msg.ConversationID); err != nil {
		s.replyError(sess, msg.RequestID, err)
		return
	}

	s.send(sess, protocol.JoinedMessage{
		BaseMessage:    protocol.NewBase(protocol.TypeJoined, msg.RequestID),
		ConversationID: msg.ConversationID,
	})
}

func (s *Server) handleLeave(sess *hub.Session, data []byte) {
	var msg protocol.LeaveConversationMessage
	if err := protocol.Decode(data, &msg); err != nil {
		s.sendError(sess, msg.RequestID, protocol.ErrorCodeInvalidMessage, "invalid leave_conversation message")
		return
	}

	s.relay.Leave(sess, msg.ConversationID)
	s.send(sess, protocol.LeftMessage{
		BaseMessage:    protocol.NewBase(protocol.TypeLeft, msg.RequestID),
		ConversationID: msg.ConversationID,
	})
}

func (s *Server) handleSend(ctx context.Context, sess *hub.Session, data []byte) {
	var msg protocol.SendMessageMessage
	if err := protocol.Decode(data, &msg); err != nil {
		s.sendError(sess, msg.RequestID, protocol.ErrorCodeInvalidMessage, "invalid send_message message")
		return
	}

	_, err := s.relay.SendMessage(ctx, sess, msg.ConversationID, domain.SenderRole(msg.SenderRole), msg.Text)
	if err != nil {
		s.replyError(sess, msg.RequestID, err)
	}
}

func (s *Server) handleDelete(ctx context.Context, sess *hub.Session, data []byte) {
	var msg protocol.DeleteMessageMessage
	if err := protocol.Decode(data, &msg); err != nil {
		s.sendError(sess, msg.RequestID, protocol.ErrorCodeInvalidMessage, "invalid delete_message message")
		return
	}

	deleted, err := s.relay.DeleteMessage(ctx, msg.MessageID)
	if err != nil {
		s.replyError(sess, msg.RequestID, err)
		return
	}
	if !deleted {
		s.send(sess, protocol.DeleteIgnoredMessage{
			BaseMessage: protocol.NewBase(protocol.TypeDeleteIgnored, msg.RequestID),
			MessageID:   msg.MessageID,
		})
	}
}

// replyError tells the session why an event failed. Nothing is sent to a
// session that has already closed.
func (s *Server) replyError(sess *hub.Session, requestID string, err error) {
	code := ErrorCode(err)
	if code == "" {
		return
	}
	if code == protocol.ErrorCodeInternalError {
		s.log.Error("event failed", zap.String("session_id", sess.ID), zap.Error(err))
		s.sendError(sess, requestID, code, "internal error")
		return
	}
	s.sendError(sess, requestID, code, err.Error())
}

// ErrorCode maps an error to its wire code. It returns "" for errors the
// client should never see.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, hub.ErrSessionClosed):
		return ""
	case errors.Is(err, domain.ErrNotJoined):
		return protocol.ErrorCodeNotJoined
	case errors.Is(err, domain.ErrUnauthorized):
		return protocol.ErrorCodeUnauthorized
	case errors.Is(err, domain.ErrValidation):
		return protocol.ErrorCodeValidationFailed
	case errors.Is(err, domain.ErrPersistence):
		return protocol.ErrorCodePersistenceFailed
	default:
		return protocol.ErrorCodeInternalError
	}
}

// sendError sends an error message to a session.
func (s *Server) sendError(sess *hub.Session, requestID, code, message string) {
	s.send(sess, protocol.ErrorMessage{
		BaseMessage: protocol.NewBase(protocol.TypeError, requestID),
		Code:        code,
		Message:     message,
	})
}

func (s *Server) send(sess *hub.Session, v interface{}) {
	if err := s.hub.SendJSON(sess, v); err != nil && !errors.Is(err, hub.ErrSessionClosed) {
		s.log.Warn("failed to queue frame", zap.String("session_id", sess.ID), zap.Error(err))
	}
}
