// Package relay implements the persist-then-broadcast message flow between
// sessions joined to the same conversation.
package relay

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xiaot623/gigchat/relay/internal/domain"
	"github.com/xiaot623/gigchat/relay/internal/hub"
	"github.com/xiaot623/gigchat/relay/internal/policy"
	"github.com/xiaot623/gigchat/relay/internal/protocol"
	"github.com/xiaot623/gigchat/relay/internal/store"
)

// Admission decides whether a message may be sent.
type Admission interface {
	CheckSend(ctx context.Context, conversationID, senderRole, text string) (policy.Decision, error)
}

// Options tune relay behaviour.
type Options struct {
	// EchoToSender delivers a message back to the session that sent it.
	EchoToSender bool
	// StoreTimeout bounds every store call. Zero means no extra deadline.
	StoreTimeout time.Duration
}

// Relay routes chat events between sessions and the store.
type Relay struct {
	store     store.Store
	hub       *hub.Hub
	admission Admission
	opts      Options
	locks     *keyedMutex
	log       *zap.Logger
}

// New creates a Relay. admission may be nil.
func New(st store.Store, h *hub.Hub, admission Admission, opts Options, log *zap.Logger) *Relay {
	if log == nil {
		log = zap.NewNop()
	}
	return &Relay{
		store:     st,
		hub:       h,
		admission: admission,
		opts:      opts,
		locks:     newKeyedMutex(),
		log:       log,
	}
}

// Join puts the session into the conversation's room.
func (r *Relay) Join(s *hub.Session, conversationID string) error {
	conversationID = strings.TrimSpace(conversationID)
	if conversationID == "" {
		return fmt.Errorf("%w: conversation_id is required", domain.ErrValidation)
	}
	if !s.Identity.CanJoin(conversationID) {
		return fmt.Errorf("conversation %q: %w", conversationID, domain.ErrUnauthorized)
	}
	return r.hub.Join(conversationID, s)
}

// Leave takes the session out of the conversation's room.
func (r *Relay) Leave(s *hub.Session, conversationID string) bool {
	return r.hub.Leave(strings.TrimSpace(conversationID), s)
}

// Disconnect drops the session from every room. Safe to call repeatedly.
func (r *Relay) Disconnect(s *hub.Session) {
	r.hub.DropSession(s)
}

// SendMessage persists a message and broadcasts it to the conversation's
// room. An empty conversationID means the session's current conversation;
// an empty role means the role from the session's identity.
func (r *Relay) SendMessage(ctx context.Context, s *hub.Session, conversationID string, role domain.SenderRole, text string) (domain.Message, error) {
	if s.State() == hub.StateClosed {
		return domain.Message{}, hub.ErrSessionClosed
	}

	joined := s.ConversationID()
	if conversationID == "" {
		conversationID = joined
	}
	if joined == "" || conversationID != joined {
		return domain.Message{}, fmt.Errorf("conversation %q: %w: %w", conversationID, domain.ErrValidation, domain.ErrNotJoined)
	}

	if claimed := s.Identity.Role; claimed != "" {
		if role == "" {
			role = claimed
		} else if role != claimed {
			return domain.Message{}, fmt.Errorf("sender_role %q does not match token role %q: %w", role, claimed, domain.ErrUnauthorized)
		}
	}
	if !role.Valid() {
		return domain.Message{}, fmt.Errorf("%w: invalid sender_role %q", domain.ErrValidation, role)
	}
	if strings.TrimSpace(text) == "" {
		return domain.Message{}, fmt.Errorf("%w: text is empty", domain.ErrValidation)
	}

	if r.admission != nil {
		decision, err := r.admission.CheckSend(ctx, conversationID, string(role), text)
		if err != nil {
			return domain.Message{}, fmt.Errorf("admission: %w", err)
		}
		if !decision.Allow {
			return domain.Message{}, fmt.Errorf("%w: %s", domain.ErrValidation, strings.Join(decision.Reasons, "; "))
		}
	}

	unlock := r.locks.Lock(conversationID)
	defer unlock()

	storeCtx, cancel := r.storeContext(ctx)
	msg, err := r.store.Append(storeCtx, conversationID, role, text)
	cancel()
	if err != nil {
		r.log.Error("failed to persist message",
			zap.String("conversation_id", conversationID),
			zap.String("session_id", s.ID),
			zap.Error(err))
		return domain.Message{}, asPersistence("append", err)
	}

	var except *hub.Session
	if !r.opts.EchoToSender {
		except = s
	}
	out := protocol.MessageReceivedMessage{
		BaseMessage: protocol.NewBase(protocol.TypeMessageReceived, ""),
		Message:     msg,
	}
	delivered, err := r.hub.BroadcastJSON(conversationID, out, except)
	if err != nil {
		return msg, fmt.Errorf("broadcast: %w", err)
	}

	r.log.Debug("message relayed",
		zap.Int64("message_id", msg.ID),
		zap.String("conversation_id", conversationID),
		zap.Int("delivered", delivered))
	return msg, nil
}

// DeleteMessage removes a message and notifies its conversation's room.
// It returns false, not an error, when there was nothing to delete.
func (r *Relay) DeleteMessage(ctx context.Context, id int64) (bool, error) {
	if id <= 0 {
		return false, fmt.Errorf("%w: message_id must be positive", domain.ErrValidation)
	}

	storeCtx, cancel := r.storeContext(ctx)
	msg, err := r.store.GetByID(storeCtx, id)
	cancel()
	if err != nil {
		return false, asPersistence("get", err)
	}
	if msg == nil {
		return false, nil
	}

	unlock := r.locks.Lock(msg.ConversationID)
	defer unlock()

	storeCtx, cancel = r.storeContext(ctx)
	deleted, err := r.store.DeleteByID(storeCtx, id)
	cancel()
	if err != nil {
		return false, asPersistence("delete", err)
	}
	if !deleted {
		return false, nil
	}

	out := protocol.MessageDeletedMessage{
		BaseMessage:    protocol.NewBase(protocol.TypeMessageDeleted, ""),
		MessageID:      id,
		ConversationID: msg.ConversationID,
	}
	if _, err := r.hub.BroadcastJSON(msg.ConversationID, out, nil); err != nil {
		return true, fmt.Errorf("broadcast: %w", err)
	}

	r.log.Info("message deleted",
		zap.Int64("message_id", id),
		zap.String("conversation_id", msg.ConversationID))
	return true, nil
}

// LoadHistory returns a conversation's messages in send order.
func (r *Relay) LoadHistory(ctx context.Context, conversationID string) ([]domain.Message, error) {
	conversationID = strings.TrimSpace(conversationID)
	if conversationID == "" {
		return nil, fmt.Errorf("%w: conversation_id is required", domain.ErrValidation)
	}

	storeCtx, cancel := r.storeContext(ctx)
	defer cancel()
	messages, err := r.store.ListByConversation(storeCtx, conversationID)
	if err != nil {
		return nil, asPersistence("list", err)
	}
	return messages, nil
}

// Stats reports registry sizes for health checks.
func (r *Relay) Stats() (connections, rooms int) {
	return r.hub.ConnectionCount(), r.hub.RoomCount()
}

func (r *Relay) storeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.opts.StoreTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, r.opts.StoreTimeout)
}

// asPersistence makes sure store failures carry domain.ErrPersistence while
// keeping validation errors as they are.
func asPersistence(op string, err error) error {
	if errors.Is(err, domain.ErrPersistence) || errors.Is(err, domain.ErrValidation) {
		return err
	}
	return fmt.Errorf("%s: %w: %w", op, domain.ErrPersistence, err)
}
