package chatclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketplace-chat/internal/models"
)

func testClient(baseURL string) *Client {
	c := NewClient(baseURL, "token-123")
	c.retryDelay = time.Millisecond
	return c
}

func TestClientAttachesBearerToken(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer token-123", r.Header.Get("Authorization"))
		json.NewEncoder(w).Encode(map[string]interface{}{"conversations": []models.ConversationSummary{{ConversationID: 3}}})
	}))
	defer server.Close()

	convs, err := testClient(server.URL).ListConversations(context.Background())

	require.NoError(t, err)
	require.Len(t, convs, 1)
	assert.Equal(t, 3, convs[0].ConversationID)
}

func TestClientErrorMapping(t *testing.T) {
	cases := []struct {
		status int
		want   error
	}{
		{http.StatusUnauthorized, ErrUnauthorized},
		{http.StatusForbidden, ErrForbidden},
		{http.StatusNotFound, ErrNotFound},
		{http.StatusBadRequest, ErrValidation},
	}

	for _, tc := range cases {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.status)
		}))

		_, err := testClient(server.URL).ListMessages(context.Background(), 5, 50, 0)
		assert.ErrorIs(t, err, tc.want, "status %d", tc.status)

		server.Close()
	}
}

func TestClientRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		json.NewEncoder(w).Encode(map[string]int{"unread_count": 2})
	}))
	defer server.Close()

	count, err := testClient(server.URL).UnreadCount(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 2, count)
	assert.Equal(t, int32(2), calls.Load())
}

func TestClientUnavailableAfterRetries(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	err := testClient(server.URL).MarkRead(context.Background(), 5)

	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Equal(t, int32(3), calls.Load())
}

func TestClientSendMessage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/conversations/5/messages", r.URL.Path)

		var req map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "hello", req["message_text"])

		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(models.Message{ID: 7, ConversationID: 5, SenderID: 1, Body: "hello"})
	}))
	defer server.Close()

	msg, err := testClient(server.URL).SendMessage(context.Background(), 5, "hello")

	require.NoError(t, err)
	assert.Equal(t, 7, msg.ID)
	assert.Equal(t, "hello", msg.Body)
}

func TestClientStartConversation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/conversations/start", r.URL.Path)

		var req map[string]int
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, 2, req["seller_id"])
		assert.Equal(t, 7, req["listing_id"])

		json.NewEncoder(w).Encode(map[string]int{"conversation_id": 10})
	}))
	defer server.Close()

	listingID := 7
	id, err := testClient(server.URL).StartConversation(context.Background(), 2, &listingID)

	require.NoError(t, err)
	assert.Equal(t, 10, id)
}
