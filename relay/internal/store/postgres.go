package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xiaot623/gigchat/relay/internal/domain"
)

// PostgresStore implements Store on PostgreSQL through a pgx pool.
// Timestamps are kept as integer nanoseconds so ordering matches the other
// backends exactly.
type PostgresStore struct {
	pool  *pgxpool.Pool
	clock *clock

	mu sync.Mutex
}

// NewPostgresStore connects to databaseURL and applies the schema.
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	s := &PostgresStore{pool: pool, clock: newClock(nil)}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	var lastTs int64
	if err := pool.QueryRow(ctx, `SELECT COALESCE(MAX(ts_ns), 0) FROM messages`).Scan(&lastTs); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to read last timestamp: %w", err)
	}
	s.clock.seed(time.Unix(0, lastTs).UTC())
	return s, nil
}

func (s *PostgresStore) migrate(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS messages (
			id BIGSERIAL PRIMARY KEY,
			conversation_id TEXT NOT NULL,
			sender_role TEXT NOT NULL CHECK (sender_role IN ('seeker', 'provider')),
			text TEXT NOT NULL,
			ts_ns BIGINT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id, ts_ns, id)`,
	}
	for _, m := range migrations {
		if _, err := s.pool.Exec(ctx, m); err != nil {
			return fmt.Errorf("migration failed: %w\n%s", err, m)
		}
	}
	return nil
}

// Close closes the pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// Append inserts a message and assigns its id and timestamp.
func (s *PostgresStore) Append(ctx context.Context, conversationID string, role domain.SenderRole, text string) (domain.Message, error) {
	if err := checkAppend(conversationID, role, text); err != nil {
		return domain.Message{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ts := s.clock.next()
	var id int64
	err := s.pool.QueryRow(ctx,
		`INSERT INTO messages (conversation_id, sender_role, text, ts_ns) VALUES ($1, $2, $3, $4) RETURNING id`,
		conversationID, string(role), text, ts.UnixNano()).Scan(&id)
	if err != nil {
		return domain.Message{}, persistenceError("insert message", err)
	}

	return domain.Message{
		ID:             id,
		ConversationID: conversationID,
		SenderRole:     role,
		Text:           text,
		Timestamp:      ts,
	}, nil
}

// ListByConversation retrieves the messages of a conversation in order.
func (s *PostgresStore) ListByConversation(ctx context.Context, conversationID string) ([]domain.Message, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, conversation_id, sender_role, text, ts_ns FROM messages WHERE conversation_id = $1 ORDER BY ts_ns ASC, id ASC`,
		conversationID)
	if err != nil {
		return nil, persistenceError("list messages", err)
	}
	defer rows.Close()

	messages := make([]domain.Message, 0)
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, persistenceError("scan message", err)
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, persistenceError("list messages", err)
	}
	return messages, nil
}

// GetByID retrieves a message by ID.
func (s *PostgresStore) GetByID(ctx context.Context, id int64) (*domain.Message, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, conversation_id, sender_role, text, ts_ns FROM messages WHERE id = $1`, id)
	msg, err := scanMessage(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, persistenceError("get message", err)
	}
	return &msg, nil
}

// DeleteByID removes a message by ID.
func (s *PostgresStore) DeleteByID(ctx context.Context, id int64) (bool, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM messages WHERE id = $1`, id)
	if err != nil {
		return false, persistenceError("delete message", err)
	}
	return tag.RowsAffected() > 0, nil
}
