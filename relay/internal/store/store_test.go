package store

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiaot623/gigchat/relay/internal/domain"
)

// Every backend must satisfy the same contract.
var backends = map[string]func(t *testing.T) Store{
	"sqlite":   func(t *testing.T) Store { return newTestSQLiteStore(t) },
	"badger":   func(t *testing.T) Store { return newTestBadgerStore(t) },
	"postgres": func(t *testing.T) Store { return newTestPostgresStore(t) },
}

func forEachBackend(t *testing.T, fn func(t *testing.T, s Store)) {
	for name, open := range backends {
		t.Run(name, func(t *testing.T) {
			fn(t, open(t))
		})
	}
}

func TestStoreAppendAssignsIDAndTimestamp(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		before := time.Now().UTC()

		msg, err := s.Append(ctx, "c1", domain.SenderRoleSeeker, "Hello")
		require.NoError(t, err)

		assert.NotZero(t, msg.ID)
		assert.Equal(t, "c1", msg.ConversationID)
		assert.Equal(t, domain.SenderRoleSeeker, msg.SenderRole)
		assert.Equal(t, "Hello", msg.Text)
		assert.False(t, msg.Timestamp.Before(before), "timestamp %v before call start %v", msg.Timestamp, before)
	})
}

func TestStoreAppendRejectsInvalidInput(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		cases := []struct {
			name string
			conv string
			role domain.SenderRole
			text string
		}{
			{"whitespace text", "c1", domain.SenderRoleSeeker, "   \t\n"},
			{"empty text", "c1", domain.SenderRoleProvider, ""},
			{"missing conversation", " ", domain.SenderRoleSeeker, "hi"},
			{"unknown role", "c1", domain.SenderRole("admin"), "hi"},
		}
		for _, tc := range cases {
			_, err := s.Append(ctx, tc.conv, tc.role, tc.text)
			assert.ErrorIs(t, err, domain.ErrValidation, tc.name)
		}

		messages, err := s.ListByConversation(ctx, "c1")
		require.NoError(t, err)
		assert.Empty(t, messages)
	})
}

func TestStoreListByConversationOrdersAndFilters(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		for i := 0; i < 5; i++ {
			_, err := s.Append(ctx, "c1", domain.SenderRoleSeeker, fmt.Sprintf("c1-%d", i))
			require.NoError(t, err)
			_, err = s.Append(ctx, "c2", domain.SenderRoleProvider, fmt.Sprintf("c2-%d", i))
			require.NoError(t, err)
		}

		messages, err := s.ListByConversation(ctx, "c1")
		require.NoError(t, err)
		require.Len(t, messages, 5)
		for i, msg := range messages {
			assert.Equal(t, fmt.Sprintf("c1-%d", i), msg.Text)
			assert.Equal(t, "c1", msg.ConversationID)
			if i > 0 {
				assert.True(t, msg.Timestamp.After(messages[i-1].Timestamp))
				assert.Greater(t, msg.ID, messages[i-1].ID)
			}
		}

		empty, err := s.ListByConversation(ctx, "nobody")
		require.NoError(t, err)
		assert.NotNil(t, empty)
		assert.Empty(t, empty)
	})
}

func TestStoreConversationPrefixesDoNotCollide(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		_, err := s.Append(ctx, "a", domain.SenderRoleSeeker, "short")
		require.NoError(t, err)
		_, err = s.Append(ctx, "a:b", domain.SenderRoleSeeker, "long")
		require.NoError(t, err)

		messages, err := s.ListByConversation(ctx, "a")
		require.NoError(t, err)
		require.Len(t, messages, 1)
		assert.Equal(t, "short", messages[0].Text)
	})
}

func TestStoreDeleteByIDIsIdempotent(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		keep, err := s.Append(ctx, "c1", domain.SenderRoleSeeker, "keep")
		require.NoError(t, err)
		drop, err := s.Append(ctx, "c1", domain.SenderRoleProvider, "drop")
		require.NoError(t, err)

		deleted, err := s.DeleteByID(ctx, drop.ID)
		require.NoError(t, err)
		assert.True(t, deleted)

		deleted, err = s.DeleteByID(ctx, drop.ID)
		require.NoError(t, err)
		assert.False(t, deleted)

		got, err := s.GetByID(ctx, drop.ID)
		require.NoError(t, err)
		assert.Nil(t, got)

		messages, err := s.ListByConversation(ctx, "c1")
		require.NoError(t, err)
		require.Len(t, messages, 1)
		assert.Equal(t, keep.ID, messages[0].ID)
	})
}

func TestStoreGetByID(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		msg, err := s.Append(ctx, "c1", domain.SenderRoleProvider, "hi there")
		require.NoError(t, err)

		got, err := s.GetByID(ctx, msg.ID)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, msg, *got)

		missing, err := s.GetByID(ctx, msg.ID+1000)
		require.NoError(t, err)
		assert.Nil(t, missing)
	})
}

func TestStoreConcurrentAppendsKeepIDAndTimestampOrder(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		var wg sync.WaitGroup
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, err := s.Append(ctx, "c1", domain.SenderRoleSeeker, fmt.Sprintf("m%d", i))
				assert.NoError(t, err)
			}(i)
		}
		wg.Wait()

		messages, err := s.ListByConversation(ctx, "c1")
		require.NoError(t, err)
		require.Len(t, messages, 20)
		for i := 1; i < len(messages); i++ {
			assert.Greater(t, messages[i].ID, messages[i-1].ID)
			assert.True(t, messages[i].Timestamp.After(messages[i-1].Timestamp))
		}
	})
}

func TestStoreCancelledContextFailsWithPersistenceError(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := s.Append(ctx, "c1", domain.SenderRoleSeeker, "late")
		assert.ErrorIs(t, err, domain.ErrPersistence)
	})
}

func TestBadgerStoreReopenKeepsOrdering(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s, err := NewBadgerStore(dir)
	require.NoError(t, err)
	first, err := s.Append(ctx, "c1", domain.SenderRoleSeeker, "before restart")
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = NewBadgerStore(dir)
	require.NoError(t, err)
	defer s.Close()

	second, err := s.Append(ctx, "c1", domain.SenderRoleProvider, "after restart")
	require.NoError(t, err)
	assert.Greater(t, second.ID, first.ID)
	assert.True(t, second.Timestamp.After(first.Timestamp))

	messages, err := s.ListByConversation(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, messages, 2)
	assert.Equal(t, "before restart", messages[0].Text)
}

func TestOpenUnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), Options{Driver: "cassandra"})
	assert.Error(t, err)
}
