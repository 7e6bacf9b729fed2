package store

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/xiaot623/gigchat/relay/internal/domain"
)

var (
	lastTsKey   = []byte("meta:last_ts")
	sequenceKey = []byte("seq:messages")
)

// BadgerStore implements Store on an embedded BadgerDB.
//
// Messages live under "msg:{hex(conversation)}:{ts}:{id}" with both numbers
// zero-padded, so a prefix scan yields timestamp order with id as the tie
// breaker. "id:{id}" points back to the message key for lookups by id.
type BadgerStore struct {
	db    *badger.DB
	seq   *badger.Sequence
	clock *clock

	mu sync.Mutex
}

type badgerRecord struct {
	ID             int64  `json:"id"`
	ConversationID string `json:"conversation_id"`
	SenderRole     string `json:"sender_role"`
	Text           string `json:"text"`
	Ts             int64  `json:"ts"`
}

// NewBadgerStore opens (or creates) a Badger database in dir. An empty dir
// opens an in-memory database.
func NewBadgerStore(dir string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(dir).WithLoggingLevel(badger.ERROR)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger: %w", err)
	}

	seq, err := db.GetSequence(sequenceKey, 100)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to open sequence: %w", err)
	}

	s := &BadgerStore{db: db, seq: seq, clock: newClock(nil)}
	err = db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(lastTsKey)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			if len(val) == 8 {
				s.clock.seed(time.Unix(0, int64(binary.BigEndian.Uint64(val))).UTC())
			}
			return nil
		})
	})
	if err != nil {
		seq.Release()
		db.Close()
		return nil, fmt.Errorf("failed to read last timestamp: %w", err)
	}
	return s, nil
}

// Close releases the id sequence and closes the database.
func (s *BadgerStore) Close() error {
	if err := s.seq.Release(); err != nil {
		s.db.Close()
		return err
	}
	return s.db.Close()
}

// Append stores a message and assigns its id and timestamp.
func (s *BadgerStore) Append(ctx context.Context, conversationID string, role domain.SenderRole, text string) (domain.Message, error) {
	if err := checkAppend(conversationID, role, text); err != nil {
		return domain.Message{}, err
	}
	if err := ctx.Err(); err != nil {
		return domain.Message{}, persistenceError("append message", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	n, err := s.seq.Next()
	if err != nil {
		return domain.Message{}, persistenceError("next message id", err)
	}
	// Sequences start at zero; ids start at one like the SQL backends.
	id := int64(n) + 1
	ts := s.clock.next()

	rec := badgerRecord{
		ID:             id,
		ConversationID: conversationID,
		SenderRole:     string(role),
		Text:           text,
		Ts:             ts.UnixNano(),
	}
	value, err := json.Marshal(rec)
	if err != nil {
		return domain.Message{}, persistenceError("encode message", err)
	}

	key := messageKey(conversationID, rec.Ts, id)
	tsBytes := make([]byte, 8)
	binary.BigEndian.PutUint64(tsBytes, uint64(rec.Ts))

	err = s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(key, value); err != nil {
			return err
		}
		if err := txn.Set(idKey(id), key); err != nil {
			return err
		}
		return txn.Set(lastTsKey, tsBytes)
	})
	if err != nil {
		return domain.Message{}, persistenceError("insert message", err)
	}
	return rec.toMessage(), nil
}

// ListByConversation scans the conversation prefix in key order.
func (s *BadgerStore) ListByConversation(ctx context.Context, conversationID string) ([]domain.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, persistenceError("list messages", err)
	}

	messages := make([]domain.Message, 0)
	prefix := conversationPrefix(conversationID)
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				var rec badgerRecord
				if err := json.Unmarshal(val, &rec); err != nil {
					return err
				}
				messages = append(messages, rec.toMessage())
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, persistenceError("list messages", err)
	}
	return messages, nil
}

// GetByID follows the id index to the message record.
func (s *BadgerStore) GetByID(ctx context.Context, id int64) (*domain.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, persistenceError("get message", err)
	}

	var found *domain.Message
	err := s.db.View(func(txn *badger.Txn) error {
		key, err := lookupKey(txn, id)
		if err != nil || key == nil {
			return err
		}
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			var rec badgerRecord
			if err := json.Unmarshal(val, &rec); err != nil {
				return err
			}
			msg := rec.toMessage()
			found = &msg
			return nil
		})
	})
	if err != nil {
		return nil, persistenceError("get message", err)
	}
	return found, nil
}

// DeleteByID removes the message record and its id index entry.
func (s *BadgerStore) DeleteByID(ctx context.Context, id int64) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, persistenceError("delete message", err)
	}

	deleted := false
	err := s.db.Update(func(txn *badger.Txn) error {
		key, err := lookupKey(txn, id)
		if err != nil || key == nil {
			return err
		}
		if err := txn.Delete(key); err != nil {
			return err
		}
		if err := txn.Delete(idKey(id)); err != nil {
			return err
		}
		deleted = true
		return nil
	})
	if err != nil {
		return false, persistenceError("delete message", err)
	}
	return deleted, nil
}

func lookupKey(txn *badger.Txn, id int64) ([]byte, error) {
	item, err := txn.Get(idKey(id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return item.ValueCopy(nil)
}

func conversationPrefix(conversationID string) []byte {
	return []byte("msg:" + hex.EncodeToString([]byte(conversationID)) + ":")
}

func messageKey(conversationID string, ts, id int64) []byte {
	return append(conversationPrefix(conversationID), []byte(fmt.Sprintf("%019d:%019d", ts, id))...)
}

func idKey(id int64) []byte {
	return []byte(fmt.Sprintf("id:%019d", id))
}

func (r badgerRecord) toMessage() domain.Message {
	return domain.Message{
		ID:             r.ID,
		ConversationID: r.ConversationID,
		SenderRole:     domain.SenderRole(r.SenderRole),
		Text:           r.Text,
		Timestamp:      time.Unix(0, r.Ts).UTC(),
	}
}
