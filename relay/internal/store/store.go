//go:generate go run go.uber.org/mock/mockgen -source=store.go -destination=mocks/mock_store.go -package=mocks

// Package store defines the message storage interface and its implementations.
package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/xiaot623/gigchat/relay/internal/domain"
)

// Store is the durable, append-only record of chat messages.
type Store interface {
	// Append persists a message and returns it with its server-assigned id
	// and timestamp.
	Append(ctx context.Context, conversationID string, role domain.SenderRole, text string) (domain.Message, error)

	// ListByConversation returns a conversation's messages ordered by
	// timestamp, ties broken by id. It returns an empty slice when there are
	// none.
	ListByConversation(ctx context.Context, conversationID string) ([]domain.Message, error)

	// GetByID returns nil when the message does not exist.
	GetByID(ctx context.Context, id int64) (*domain.Message, error)

	// DeleteByID reports whether a message was actually removed.
	DeleteByID(ctx context.Context, id int64) (bool, error)

	Close() error
}

// checkAppend validates the arguments shared by every Append implementation.
func checkAppend(conversationID string, role domain.SenderRole, text string) error {
	if strings.TrimSpace(conversationID) == "" {
		return fmt.Errorf("%w: conversation_id is required", domain.ErrValidation)
	}
	if !role.Valid() {
		return fmt.Errorf("%w: invalid sender_role %q", domain.ErrValidation, role)
	}
	if strings.TrimSpace(text) == "" {
		return fmt.Errorf("%w: text is empty", domain.ErrValidation)
	}
	return nil
}

func persistenceError(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, domain.ErrPersistence, err)
}
