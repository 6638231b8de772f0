package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"marketplace-chat/internal/models"
	"marketplace-chat/internal/observability"
	"marketplace-chat/internal/repositories"
)

const (
	defaultMessageLimit = 50
	maxMessageLimit     = 200
)

// MessageHandler manages message endpoints of a conversation.
type MessageHandler struct {
	convRepo    repositories.ConversationRepository
	messageRepo repositories.MessageRepository
	users       UserDirectory
}

// NewMessageHandler builds a MessageHandler.
func NewMessageHandler(convRepo repositories.ConversationRepository, messageRepo repositories.MessageRepository, users UserDirectory) *MessageHandler {
	return &MessageHandler{
		convRepo:    convRepo,
		messageRepo: messageRepo,
		users:       users,
	}
}

// GetMessages returns a page of the conversation's messages, oldest first.
func (h *MessageHandler) GetMessages(c *gin.Context) {
	conversationID, ok := parseConversationID(c)
	if !ok {
		return
	}

	userID := c.GetInt("userID")
	if !h.authorizeParticipant(c, conversationID, userID) {
		return
	}

	limit := queryInt(c, "limit", defaultMessageLimit)
	if limit <= 0 || limit > maxMessageLimit {
		limit = defaultMessageLimit
	}
	offset := queryInt(c, "offset", 0)
	if offset < 0 {
		offset = 0
	}

	msgs, err := h.messageRepo.ListMessages(c.Request.Context(), conversationID, limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load messages"})
		return
	}

	senderIDs := make([]int, 0, len(msgs))
	senderIDSet := map[int]struct{}{}
	for _, m := range msgs {
		if _, ok := senderIDSet[m.SenderID]; !ok {
			senderIDSet[m.SenderID] = struct{}{}
			senderIDs = append(senderIDs, m.SenderID)
		}
	}

	users, err := h.users.BulkUsers(c.Request.Context(), senderIDs)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": "failed to load senders"})
		return
	}
	senderNames := map[int]string{}
	for _, u := range users {
		senderNames[u.ID] = u.Username
	}

	type messageResponse struct {
		models.Message
		SenderUsername string `json:"sender_username,omitempty"`
	}

	resp := make([]messageResponse, 0, len(msgs))
	for _, m := range msgs {
		resp = append(resp, messageResponse{Message: m, SenderUsername: senderNames[m.SenderID]})
	}

	c.JSON(http.StatusOK, gin.H{"messages": resp})
}

// PostMessage appends a message to the conversation and publishes an
// unread-refresh event for the recipient.
func (h *MessageHandler) PostMessage(c *gin.Context) {
	conversationID, ok := parseConversationID(c)
	if !ok {
		return
	}

	userID := c.GetInt("userID")
	conv, ok := h.loadAuthorizedConversation(c, conversationID, userID)
	if !ok {
		return
	}

	var req struct {
		MessageText string `json:"message_text" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	body := strings.TrimSpace(req.MessageText)
	if body == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "message text is empty"})
		return
	}

	msg, err := h.messageRepo.AppendMessage(c.Request.Context(), conversationID, userID, body)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store message"})
		return
	}

	observability.IncMessageSent()
	h.publishChatEvent(c, observability.RoutingKeyMessageCreated, models.ChatEvent{
		Type:           models.EventMessageCreated,
		ConversationID: conversationID,
		UserID:         conv.OtherParticipant(userID),
		Message:        &msg,
	})

	c.JSON(http.StatusCreated, msg)
}

// MarkConversationRead marks every unread message addressed to the caller in
// this conversation as read. Safe to repeat.
func (h *MessageHandler) MarkConversationRead(c *gin.Context) {
	conversationID, ok := parseConversationID(c)
	if !ok {
		return
	}

	userID := c.GetInt("userID")
	if !h.authorizeParticipant(c, conversationID, userID) {
		return
	}

	affected, err := h.messageRepo.MarkRead(c.Request.Context(), conversationID, userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to mark conversation read"})
		return
	}

	if affected > 0 {
		observability.IncMarkRead("applied")
		h.publishChatEvent(c, observability.RoutingKeyConversationRead, models.ChatEvent{
			Type:           models.EventConversationRead,
			ConversationID: conversationID,
			UserID:         userID,
		})
	} else {
		observability.IncMarkRead("noop")
	}

	c.JSON(http.StatusOK, gin.H{"success": true})
}

// authorizeParticipant answers whether the caller may touch the conversation,
// writing the error response itself when not. The membership probe cannot
// tell a missing conversation from a foreign one, so the miss path loads the
// row to pick between 404 and 403.
func (h *MessageHandler) authorizeParticipant(c *gin.Context, conversationID, userID int) bool {
	member, err := h.convRepo.IsParticipant(c.Request.Context(), conversationID, userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to check conversation access"})
		return false
	}
	if member {
		return true
	}

	_, err = h.convRepo.GetConversation(c.Request.Context(), conversationID)
	switch {
	case errors.Is(err, repositories.ErrConversationNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "conversation not found"})
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to check conversation access"})
	default:
		c.JSON(http.StatusForbidden, gin.H{"error": "not a conversation participant"})
	}
	return false
}

// loadAuthorizedConversation fetches the conversation and writes the error
// response itself when the conversation is missing or the caller is not a
// participant.
func (h *MessageHandler) loadAuthorizedConversation(c *gin.Context, conversationID, userID int) (models.Conversation, bool) {
	conv, err := h.convRepo.GetConversation(c.Request.Context(), conversationID)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, repositories.ErrConversationNotFound) {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"error": "conversation not found"})
		return models.Conversation{}, false
	}
	if conv.BuyerID != userID && conv.SellerID != userID {
		c.JSON(http.StatusForbidden, gin.H{"error": "not a conversation participant"})
		return models.Conversation{}, false
	}
	return conv, true
}

func (h *MessageHandler) publishChatEvent(c *gin.Context, routingKey string, event models.ChatEvent) {
	headers := observability.BuildHeaders(requestIDFromContext(c), traceIDFromContext(c))
	payload := map[string]interface{}{
		"event": event,
		"identity": map[string]interface{}{
			"user_id":   c.GetInt("userID"),
			"device_id": observability.DeviceIDFromRequest(c.Request),
			"ip":        observability.IPFromRequest(c.Request),
		},
	}
	if err := observability.PublishEvent(c.Request.Context(), routingKey, observability.EventEnvelope{
		EventType: "chat_events",
		EventName: event.Type,
		Payload:   payload,
	}, headers); err != nil {
		logrus.Warnf("chat event publish failed: %v", err)
		return
	}
	observability.IncUnreadRefreshEvent(event.Type)
}

func parseConversationID(c *gin.Context) (int, bool) {
	conversationID, err := strconv.Atoi(c.Param("conversation_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid conversation id"})
		return 0, false
	}
	return conversationID, true
}

func queryInt(c *gin.Context, key string, fallback int) int {
	raw := c.Query(key)
	if raw == "" {
		return fallback
	}
	val, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return val
}
