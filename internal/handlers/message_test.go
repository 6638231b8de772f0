package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"marketplace-chat/internal/clients"
	"marketplace-chat/internal/mocks"
	"marketplace-chat/internal/models"
	"marketplace-chat/internal/observability"
	"marketplace-chat/internal/repositories"
)

func setupMessageRouter(handler *MessageHandler) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set("userID", 1)
		c.Next()
	})
	r.GET("/conversations/:conversation_id/messages", handler.GetMessages)
	r.POST("/conversations/:conversation_id/messages", handler.PostMessage)
	r.PATCH("/conversations/:conversation_id/read", handler.MarkConversationRead)
	return r
}

func participantConversation() models.Conversation {
	return models.Conversation{ID: 5, BuyerID: 1, SellerID: 2, LastMessageAt: time.Now()}
}

// installEventPublisher swaps the process-wide event publisher for a mock for
// the duration of the test.
func installEventPublisher(t *testing.T) *mocks.PublisherMock {
	t.Helper()
	publisher := new(mocks.PublisherMock)
	observability.SetPublisher(publisher)
	t.Cleanup(func() { observability.SetPublisher(nil) })
	return publisher
}

func TestGetMessagesSuccess(t *testing.T) {
	convRepo := new(mocks.ConversationRepositoryMock)
	messageRepo := new(mocks.MessageRepositoryMock)
	users := new(mocks.UserDirectoryMock)
	handler := NewMessageHandler(convRepo, messageRepo, users)
	router := setupMessageRouter(handler)

	convRepo.On("IsParticipant", mock.Anything, 5, 1).Return(true, nil).Once()
	messageRepo.On("ListMessages", mock.Anything, 5, 50, 0).Return([]models.Message{
		{ID: 1, ConversationID: 5, SenderID: 2, Body: "สนใจสินค้า"},
		{ID: 2, ConversationID: 5, SenderID: 1, Body: "ราคา 500 บาท"},
	}, nil).Once()
	users.On("BulkUsers", mock.Anything, []int{2, 1}).Return([]clients.UserProfile{{ID: 1, Username: "me"}, {ID: 2, Username: "bob"}}, nil).Once()

	req := httptest.NewRequest(http.MethodGet, "/conversations/5/messages", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	convRepo.AssertExpectations(t)
	messageRepo.AssertExpectations(t)
	users.AssertExpectations(t)
}

func TestGetMessagesPagination(t *testing.T) {
	convRepo := new(mocks.ConversationRepositoryMock)
	messageRepo := new(mocks.MessageRepositoryMock)
	users := new(mocks.UserDirectoryMock)
	handler := NewMessageHandler(convRepo, messageRepo, users)
	router := setupMessageRouter(handler)

	convRepo.On("IsParticipant", mock.Anything, 5, 1).Return(true, nil).Once()
	messageRepo.On("ListMessages", mock.Anything, 5, 10, 20).Return([]models.Message{}, nil).Once()
	users.On("BulkUsers", mock.Anything, []int{}).Return([]clients.UserProfile{}, nil).Once()

	req := httptest.NewRequest(http.MethodGet, "/conversations/5/messages?limit=10&offset=20", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	messageRepo.AssertExpectations(t)
}

func TestGetMessagesLimitClamped(t *testing.T) {
	convRepo := new(mocks.ConversationRepositoryMock)
	messageRepo := new(mocks.MessageRepositoryMock)
	users := new(mocks.UserDirectoryMock)
	handler := NewMessageHandler(convRepo, messageRepo, users)
	router := setupMessageRouter(handler)

	convRepo.On("IsParticipant", mock.Anything, 5, 1).Return(true, nil).Once()
	messageRepo.On("ListMessages", mock.Anything, 5, 50, 0).Return([]models.Message{}, nil).Once()
	users.On("BulkUsers", mock.Anything, []int{}).Return([]clients.UserProfile{}, nil).Once()

	req := httptest.NewRequest(http.MethodGet, "/conversations/5/messages?limit=9999&offset=-3", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	messageRepo.AssertExpectations(t)
}

func TestGetMessagesNotFound(t *testing.T) {
	convRepo := new(mocks.ConversationRepositoryMock)
	handler := NewMessageHandler(convRepo, new(mocks.MessageRepositoryMock), new(mocks.UserDirectoryMock))
	router := setupMessageRouter(handler)

	convRepo.On("IsParticipant", mock.Anything, 5, 1).Return(false, nil).Once()
	convRepo.On("GetConversation", mock.Anything, 5).Return(models.Conversation{}, repositories.ErrConversationNotFound).Once()

	req := httptest.NewRequest(http.MethodGet, "/conversations/5/messages", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetMessagesForbidden(t *testing.T) {
	convRepo := new(mocks.ConversationRepositoryMock)
	handler := NewMessageHandler(convRepo, new(mocks.MessageRepositoryMock), new(mocks.UserDirectoryMock))
	router := setupMessageRouter(handler)

	convRepo.On("IsParticipant", mock.Anything, 5, 1).Return(false, nil).Once()
	convRepo.On("GetConversation", mock.Anything, 5).Return(models.Conversation{ID: 5, BuyerID: 3, SellerID: 4}, nil).Once()

	req := httptest.NewRequest(http.MethodGet, "/conversations/5/messages", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusForbidden, rec.Code)
}

func TestGetMessagesInvalidID(t *testing.T) {
	handler := NewMessageHandler(new(mocks.ConversationRepositoryMock), new(mocks.MessageRepositoryMock), new(mocks.UserDirectoryMock))
	router := setupMessageRouter(handler)

	req := httptest.NewRequest(http.MethodGet, "/conversations/abc/messages", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPostMessageSuccess(t *testing.T) {
	convRepo := new(mocks.ConversationRepositoryMock)
	messageRepo := new(mocks.MessageRepositoryMock)
	handler := NewMessageHandler(convRepo, messageRepo, new(mocks.UserDirectoryMock))
	router := setupMessageRouter(handler)

	convRepo.On("GetConversation", mock.Anything, 5).Return(participantConversation(), nil).Once()
	messageRepo.On("AppendMessage", mock.Anything, 5, 1, "hi").Return(models.Message{ID: 7, ConversationID: 5, SenderID: 1, Body: "hi"}, nil).Once()

	req := httptest.NewRequest(http.MethodPost, "/conversations/5/messages", bytes.NewBufferString(`{"message_text":"hi"}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	var msg models.Message
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&msg))
	assert.Equal(t, 7, msg.ID)
	convRepo.AssertExpectations(t)
	messageRepo.AssertExpectations(t)
}

func TestPostMessageTrimsBody(t *testing.T) {
	convRepo := new(mocks.ConversationRepositoryMock)
	messageRepo := new(mocks.MessageRepositoryMock)
	handler := NewMessageHandler(convRepo, messageRepo, new(mocks.UserDirectoryMock))
	router := setupMessageRouter(handler)

	convRepo.On("GetConversation", mock.Anything, 5).Return(participantConversation(), nil).Once()
	messageRepo.On("AppendMessage", mock.Anything, 5, 1, "สวัสดี").Return(models.Message{ID: 8, ConversationID: 5, SenderID: 1, Body: "สวัสดี"}, nil).Once()

	req := httptest.NewRequest(http.MethodPost, "/conversations/5/messages", bytes.NewBufferString(`{"message_text":"  สวัสดี  "}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	messageRepo.AssertExpectations(t)
}

func TestPostMessageBlankBody(t *testing.T) {
	convRepo := new(mocks.ConversationRepositoryMock)
	messageRepo := new(mocks.MessageRepositoryMock)
	handler := NewMessageHandler(convRepo, messageRepo, new(mocks.UserDirectoryMock))
	router := setupMessageRouter(handler)

	convRepo.On("GetConversation", mock.Anything, 5).Return(participantConversation(), nil).Once()

	req := httptest.NewRequest(http.MethodPost, "/conversations/5/messages", bytes.NewBufferString(`{"message_text":"   "}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	messageRepo.AssertNotCalled(t, "AppendMessage", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestPostMessageMissingBody(t *testing.T) {
	convRepo := new(mocks.ConversationRepositoryMock)
	handler := NewMessageHandler(convRepo, new(mocks.MessageRepositoryMock), new(mocks.UserDirectoryMock))
	router := setupMessageRouter(handler)

	convRepo.On("GetConversation", mock.Anything, 5).Return(participantConversation(), nil).Once()

	req := httptest.NewRequest(http.MethodPost, "/conversations/5/messages", bytes.NewBufferString(`{}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMarkConversationReadApplied(t *testing.T) {
	convRepo := new(mocks.ConversationRepositoryMock)
	messageRepo := new(mocks.MessageRepositoryMock)
	handler := NewMessageHandler(convRepo, messageRepo, new(mocks.UserDirectoryMock))
	router := setupMessageRouter(handler)

	convRepo.On("IsParticipant", mock.Anything, 5, 1).Return(true, nil).Once()
	messageRepo.On("MarkRead", mock.Anything, 5, 1).Return(int64(3), nil).Once()

	req := httptest.NewRequest(http.MethodPatch, "/conversations/5/read", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]bool
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.True(t, resp["success"])
	messageRepo.AssertExpectations(t)
}

func TestMarkConversationReadIdempotent(t *testing.T) {
	convRepo := new(mocks.ConversationRepositoryMock)
	messageRepo := new(mocks.MessageRepositoryMock)
	handler := NewMessageHandler(convRepo, messageRepo, new(mocks.UserDirectoryMock))
	router := setupMessageRouter(handler)

	convRepo.On("IsParticipant", mock.Anything, 5, 1).Return(true, nil).Twice()
	messageRepo.On("MarkRead", mock.Anything, 5, 1).Return(int64(2), nil).Once()
	messageRepo.On("MarkRead", mock.Anything, 5, 1).Return(int64(0), nil).Once()

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodPatch, "/conversations/5/read", nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		var resp map[string]bool
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
		assert.True(t, resp["success"])
	}
	messageRepo.AssertExpectations(t)
}

func TestPostMessagePublishesEvent(t *testing.T) {
	convRepo := new(mocks.ConversationRepositoryMock)
	messageRepo := new(mocks.MessageRepositoryMock)
	handler := NewMessageHandler(convRepo, messageRepo, new(mocks.UserDirectoryMock))
	router := setupMessageRouter(handler)
	publisher := installEventPublisher(t)

	convRepo.On("GetConversation", mock.Anything, 5).Return(participantConversation(), nil).Once()
	messageRepo.On("AppendMessage", mock.Anything, 5, 1, "hi").Return(models.Message{ID: 7, ConversationID: 5, SenderID: 1, Body: "hi"}, nil).Once()
	publisher.On("PublishJSON", mock.Anything, observability.RoutingKeyMessageCreated, mock.Anything, mock.Anything).Return(nil).Once()

	req := httptest.NewRequest(http.MethodPost, "/conversations/5/messages", bytes.NewBufferString(`{"message_text":"hi"}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	publisher.AssertExpectations(t)
}

func TestMarkConversationReadPublishesOnlyWhenApplied(t *testing.T) {
	convRepo := new(mocks.ConversationRepositoryMock)
	messageRepo := new(mocks.MessageRepositoryMock)
	handler := NewMessageHandler(convRepo, messageRepo, new(mocks.UserDirectoryMock))
	router := setupMessageRouter(handler)
	publisher := installEventPublisher(t)

	convRepo.On("IsParticipant", mock.Anything, 5, 1).Return(true, nil).Twice()
	messageRepo.On("MarkRead", mock.Anything, 5, 1).Return(int64(2), nil).Once()
	messageRepo.On("MarkRead", mock.Anything, 5, 1).Return(int64(0), nil).Once()
	publisher.On("PublishJSON", mock.Anything, observability.RoutingKeyConversationRead, mock.Anything, mock.Anything).Return(nil).Once()

	// First call flips unread rows and publishes; the repeat changes nothing
	// and must stay silent.
	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodPatch, "/conversations/5/read", nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code)
	}

	publisher.AssertExpectations(t)
	publisher.AssertNumberOfCalls(t, "PublishJSON", 1)
}

func TestMarkConversationReadNotFound(t *testing.T) {
	convRepo := new(mocks.ConversationRepositoryMock)
	handler := NewMessageHandler(convRepo, new(mocks.MessageRepositoryMock), new(mocks.UserDirectoryMock))
	router := setupMessageRouter(handler)

	convRepo.On("IsParticipant", mock.Anything, 5, 1).Return(false, nil).Once()
	convRepo.On("GetConversation", mock.Anything, 5).Return(models.Conversation{}, repositories.ErrConversationNotFound).Once()

	req := httptest.NewRequest(http.MethodPatch, "/conversations/5/read", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
}
