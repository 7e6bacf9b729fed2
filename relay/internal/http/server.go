// Package http provides the history API and health endpoint of the relay.
package http

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/xiaot623/gigchat/relay/internal/domain"
	"github.com/xiaot623/gigchat/relay/internal/relay"
)

// Server is the HTTP server for history and health.
type Server struct {
	echo  *echo.Echo
	relay *relay.Relay
	log   *zap.Logger
}

// NewServer creates a new HTTP server. origin restricts CORS; "*" allows any.
func NewServer(r *relay.Relay, origin string, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Middleware
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{origin},
		AllowMethods: []string{http.MethodGet, http.MethodDelete},
	}))

	s := &Server{
		echo:  e,
		relay: r,
		log:   log,
	}

	// Register routes
	e.GET("/health", s.handleHealth)
	e.GET("/api/messages/:conversation_id", s.handleGetMessages)
	e.DELETE("/api/messages/:id", s.handleDeleteMessage)

	return s
}

// Echo exposes the underlying router.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}

// Start starts the HTTP server.
func (s *Server) Start(addr string) error {
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// handleHealth handles health check requests.
func (s *Server) handleHealth(c echo.Context) error {
	connections, rooms := s.relay.Stats()
	return c.JSON(http.StatusOK, map[string]interface{}{
		"status":      "healthy",
		"connections": connections,
		"rooms":       rooms,
	})
}

// HistoryResponse is the body of GET /api/messages/:conversation_id.
type HistoryResponse struct {
	ConversationID string           `json:"conversation_id"`
	Messages       []domain.Message `json:"messages"`
	SeekerCount    int              `json:"seeker_count"`
	ProviderCount  int              `json:"provider_count"`
}

// handleGetMessages returns a conversation's history.
// GET /api/messages/:conversation_id
func (s *Server) handleGetMessages(c echo.Context) error {
	ctx := c.Request().Context()
	conversationID := c.Param("conversation_id")

	messages, err := s.relay.LoadHistory(ctx, conversationID)
	if err != nil {
		if errors.Is(err, domain.ErrValidation) {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "conversation_id is required"})
		}
		s.log.Error("failed to load history", zap.String("conversation_id", conversationID), zap.Error(err))
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to load messages"})
	}
	if messages == nil {
		messages = []domain.Message{}
	}

	return c.JSON(http.StatusOK, HistoryResponse{
		ConversationID: conversationID,
		Messages:       messages,
		SeekerCount: lo.CountBy(messages, func(m domain.Message) bool {
			return m.SenderRole == domain.SenderRoleSeeker
		}),
		ProviderCount: lo.CountBy(messages, func(m domain.Message) bool {
			return m.SenderRole == domain.SenderRoleProvider
		}),
	})
}

// handleDeleteMessage deletes a message and notifies its room.
// DELETE /api/messages/:id
func (s *Server) handleDeleteMessage(c echo.Context) error {
	ctx := c.Request().Context()

	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid message id"})
	}

	deleted, err := s.relay.DeleteMessage(ctx, id)
	if err != nil {
		s.log.Error("failed to delete message", zap.Int64("message_id", id), zap.Error(err))
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to delete message"})
	}

	return c.JSON(http.StatusOK, map[string]bool{"deleted": deleted})
}
