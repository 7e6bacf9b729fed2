package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/xiaot623/gigchat/relay/internal/domain"
	"github.com/xiaot623/gigchat/relay/internal/hub"
	"github.com/xiaot623/gigchat/relay/internal/relay"
	"github.com/xiaot623/gigchat/relay/internal/store"
	"github.com/xiaot623/gigchat/relay/internal/store/mocks"
)

func newTestServer(t *testing.T) (*Server, store.Store, *hub.Hub) {
	t.Helper()

	st, err := store.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	h := hub.NewHub(nil)
	r := relay.New(st, h, nil, relay.Options{EchoToSender: true}, nil)
	return NewServer(r, "*", nil), st, h
}

func TestGetMessages(t *testing.T) {
	s, st, _ := newTestServer(t)
	ctx := context.Background()
	_, err := st.Append(ctx, "c1", domain.SenderRoleSeeker, "Hello")
	require.NoError(t, err)
	_, err = st.Append(ctx, "c1", domain.SenderRoleProvider, "Hi there")
	require.NoError(t, err)
	_, err = st.Append(ctx, "c1", domain.SenderRoleSeeker, "Thanks")
	require.NoError(t, err)
	_, err = st.Append(ctx, "c2", domain.SenderRoleSeeker, "elsewhere")
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/api/messages/c1", nil)
	rec := httptest.NewRecorder()
	c := s.echo.NewContext(req, rec)
	c.SetParamNames("conversation_id")
	c.SetParamValues("c1")

	require.NoError(t, s.handleGetMessages(c))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp HistoryResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "c1", resp.ConversationID)
	require.Len(t, resp.Messages, 3)
	assert.Equal(t, []string{"Hello", "Hi there", "Thanks"}, []string{resp.Messages[0].Text, resp.Messages[1].Text, resp.Messages[2].Text})
	assert.Equal(t, 2, resp.SeekerCount)
	assert.Equal(t, 1, resp.ProviderCount)
}

func TestGetMessagesEmptyConversation(t *testing.T) {
	s, _, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/messages/none", nil)
	rec := httptest.NewRecorder()
	s.echo.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"conversation_id":"none","messages":[],"seeker_count":0,"provider_count":0}`, rec.Body.String())
}

func TestGetMessagesStoreFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	st := mocks.NewMockStore(ctrl)
	st.EXPECT().ListByConversation(gomock.Any(), "c1").Return(nil, errors.New("disk gone"))

	s := NewServer(relay.New(st, hub.NewHub(nil), nil, relay.Options{}, nil), "*", nil)

	req := httptest.NewRequest(http.MethodGet, "/api/messages/c1", nil)
	rec := httptest.NewRecorder()
	s.echo.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestDeleteMessageNotifiesRoom(t *testing.T) {
	s, st, h := newTestServer(t)
	msg, err := st.Append(context.Background(), "c1", domain.SenderRoleSeeker, "oops")
	require.NoError(t, err)

	member := hub.NewSession(nil, hub.Identity{}, 4)
	h.Register(member)
	require.NoError(t, h.Join("c1", member))

	req := httptest.NewRequest(http.MethodDelete, "/api/messages/"+strconv.FormatInt(msg.ID, 10), nil)
	rec := httptest.NewRecorder()
	s.echo.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"deleted":true}`, rec.Body.String())

	var frame map[string]interface{}
	require.NoError(t, json.Unmarshal(<-member.Send(), &frame))
	assert.Equal(t, "message_deleted", frame["type"])

	rec = httptest.NewRecorder()
	s.echo.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/api/messages/"+strconv.FormatInt(msg.ID, 10), nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"deleted":false}`, rec.Body.String())
}

func TestDeleteMessageInvalidID(t *testing.T) {
	s, _, _ := newTestServer(t)

	for _, id := range []string{"abc", "0", "-3"} {
		req := httptest.NewRequest(http.MethodDelete, "/api/messages/"+id, nil)
		rec := httptest.NewRecorder()
		c := s.echo.NewContext(req, rec)
		c.SetParamNames("id")
		c.SetParamValues(id)

		require.NoError(t, s.handleDeleteMessage(c))
		assert.Equal(t, http.StatusBadRequest, rec.Code, id)
	}
}

func TestHealth(t *testing.T) {
	s, _, h := newTestServer(t)
	sess := hub.NewSession(nil, hub.Identity{}, 4)
	h.Register(sess)
	require.NoError(t, h.Join("c1", sess))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	s.echo.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"healthy","connections":1,"rooms":1}`, rec.Body.String())
}

func TestCORSRestrictedToOrigin(t *testing.T) {
	st, err := store.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	s := NewServer(relay.New(st, hub.NewHub(nil), nil, relay.Options{}, nil), "http://localhost:3000", nil)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(echo.HeaderOrigin, "http://localhost:3000")
	rec := httptest.NewRecorder()
	s.Echo().ServeHTTP(rec, req)
	assert.Equal(t, "http://localhost:3000", rec.Header().Get(echo.HeaderAccessControlAllowOrigin))

	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(echo.HeaderOrigin, "http://evil.example")
	rec = httptest.NewRecorder()
	s.Echo().ServeHTTP(rec, req)
	assert.Empty(t, rec.Header().Get(echo.HeaderAccessControlAllowOrigin))
}
