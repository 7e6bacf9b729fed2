package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/xiaot623/gigchat/relay/internal/domain"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db    *sql.DB
	clock *clock

	// mu keeps timestamp assignment and id assignment in the same order.
	mu sync.Mutex
}

// NewSQLiteStore creates a new SQLite store.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// For in-memory SQLite, multiple connections create separate databases.
	// Keep a single connection to avoid schema/data disappearing across goroutines.
	if dsn == ":memory:" || strings.Contains(dsn, "mode=memory") {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	}

	store := &SQLiteStore{db: db, clock: newClock(nil)}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	var lastTs int64
	if err := db.QueryRow(`SELECT COALESCE(MAX(ts), 0) FROM messages`).Scan(&lastTs); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to read last timestamp: %w", err)
	}
	store.clock.seed(time.Unix(0, lastTs).UTC())

	return store, nil
}

// migrate runs database migrations.
func (s *SQLiteStore) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS messages (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			conversation_id TEXT NOT NULL,
			sender_role TEXT NOT NULL CHECK (sender_role IN ('seeker', 'provider')),
			text TEXT NOT NULL,
			ts INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id, ts, id)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w\n%s", err, m)
		}
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Append inserts a message and assigns its id and timestamp.
func (s *SQLiteStore) Append(ctx context.Context, conversationID string, role domain.SenderRole, text string) (domain.Message, error) {
	if err := checkAppend(conversationID, role, text); err != nil {
		return domain.Message{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ts := s.clock.next()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (conversation_id, sender_role, text, ts) VALUES (?, ?, ?, ?)`,
		conversationID, string(role), text, ts.UnixNano())
	if err != nil {
		return domain.Message{}, persistenceError("insert message", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return domain.Message{}, persistenceError("read message id", err)
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
func (s *SQLiteStore) ListByConversation(ctx context.Context, conversationID string) ([]domain.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, conversation_id, sender_role, text, ts FROM messages WHERE conversation_id = ? ORDER BY ts ASC, id ASC`,
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
func (s *SQLiteStore) GetByID(ctx context.Context, id int64) (*domain.Message, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, conversation_id, sender_role, text, ts FROM messages WHERE id = ?`, id)
	msg, err := scanMessage(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, persistenceError("get message", err)
	}
	return &msg, nil
}

// DeleteByID removes a message by ID.
func (s *SQLiteStore) DeleteByID(ctx context.Context, id int64) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE id = ?`, id)
	if err != nil {
		return false, persistenceError("delete message", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, persistenceError("delete message", err)
	}
	return n > 0, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(row rowScanner) (domain.Message, error) {
	var msg domain.Message
	var role string
	var ts int64
	if err := row.Scan(&msg.ID, &msg.ConversationID, &role, &msg.Text, &ts); err != nil {
		return domain.Message{}, err
	}
	msg.SenderRole = domain.SenderRole(role)
	msg.Timestamp = time.Unix(0, ts).UTC()
	return msg, nil
}
