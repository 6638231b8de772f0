package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"marketplace-chat/internal/clients"
	"marketplace-chat/internal/observability"
	"marketplace-chat/internal/repositories"
)

// UserDirectory resolves user profiles for display.
type UserDirectory interface {
	BulkUsers(ctx context.Context, ids []int) ([]clients.UserProfile, error)
}

// ListingDirectory resolves listing summaries for conversation context.
type ListingDirectory interface {
	BulkListings(ctx context.Context, ids []int) ([]clients.ListingSummary, error)
}

// ConversationHandler manages conversation endpoints.
type ConversationHandler struct {
	convRepo    repositories.ConversationRepository
	messageRepo repositories.MessageRepository
	users       UserDirectory
	listings    ListingDirectory
}

// NewConversationHandler builds a ConversationHandler.
func NewConversationHandler(convRepo repositories.ConversationRepository, messageRepo repositories.MessageRepository, users UserDirectory, listings ListingDirectory) *ConversationHandler {
	return &ConversationHandler{
		convRepo:    convRepo,
		messageRepo: messageRepo,
		users:       users,
		listings:    listings,
	}
}

// ListConversations returns the caller's conversations ordered by last
// activity, enriched with participant names and listing titles.
func (h *ConversationHandler) ListConversations(c *gin.Context) {
	userID := c.GetInt("userID")

	summaries, err := h.convRepo.ListConversations(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load conversations"})
		return
	}

	otherIDs := make([]int, 0, len(summaries))
	listingIDs := make([]int, 0, len(summaries))
	listingIDSet := map[int]struct{}{}
	for _, s := range summaries {
		otherIDs = append(otherIDs, s.OtherUserID)
		if s.ListingID != nil {
			if _, ok := listingIDSet[*s.ListingID]; !ok {
				listingIDSet[*s.ListingID] = struct{}{}
				listingIDs = append(listingIDs, *s.ListingID)
			}
		}
	}

	users, err := h.users.BulkUsers(c.Request.Context(), otherIDs)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": "failed to load user info"})
		return
	}
	usernameByID := map[int]string{}
	for _, u := range users {
		usernameByID[u.ID] = u.Username
	}

	// Listing titles are decoration only, so a listing-service outage must
	// not take the conversation list down with it.
	titleByID := map[int]string{}
	if listings, err := h.listings.BulkListings(c.Request.Context(), listingIDs); err != nil {
		logrus.Warnf("listing lookup failed: %v", err)
	} else {
		for _, l := range listings {
			titleByID[l.ID] = l.Title
		}
	}

	for i := range summaries {
		summaries[i].OtherUsername = usernameByID[summaries[i].OtherUserID]
		if summaries[i].ListingID != nil {
			summaries[i].ListingTitle = titleByID[*summaries[i].ListingID]
		}
	}

	c.JSON(http.StatusOK, gin.H{"conversations": summaries})
}

// StartConversation creates or returns the conversation between the caller
// and a seller for an optional listing.
func (h *ConversationHandler) StartConversation(c *gin.Context) {
	var req struct {
		SellerID  int  `json:"seller_id" binding:"required"`
		ListingID *int `json:"listing_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	userID := c.GetInt("userID")
	if userID == req.SellerID {
		c.JSON(http.StatusBadRequest, gin.H{"error": "cannot start a conversation with yourself"})
		return
	}

	conv, err := h.convRepo.GetOrCreateConversation(c.Request.Context(), userID, req.SellerID, req.ListingID)
	if err != nil {
		if errors.Is(err, repositories.ErrSelfConversation) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not start conversation"})
		return
	}

	observability.IncConversationStarted()
	c.JSON(http.StatusOK, gin.H{"conversation_id": conv.ID})
}

// GetUnreadCount reports how many conversations hold unread messages for the
// caller. Recomputed on every request so the badge reflects the latest
// mark-read without a separate sync step.
func (h *ConversationHandler) GetUnreadCount(c *gin.Context) {
	userID := c.GetInt("userID")

	count, err := h.messageRepo.CountUnreadConversations(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to compute unread count"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"unread_count": count, "computed_at": time.Now().UTC()})
}
