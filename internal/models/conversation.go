package models

import "time"

// Conversation represents a thread between a buyer and a seller, optionally
// tied to the listing it started from. Participants are fixed at creation.
type Conversation struct {
	ID            int       `db:"id" json:"id"`
	BuyerID       int       `db:"buyer_id" json:"buyer_id"`
	SellerID      int       `db:"seller_id" json:"seller_id"`
	ListingID     *int      `db:"listing_id" json:"listing_id,omitempty"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
	LastMessageAt time.Time `db:"last_message_at" json:"last_message_at"`
}

// OtherParticipant returns the participant that is not the given user.
func (c Conversation) OtherParticipant(userID int) int {
	if c.BuyerID == userID {
		return c.SellerID
	}
	return c.BuyerID
}

// ConversationSummary is the per-user API view of a conversation.
type ConversationSummary struct {
	ConversationID int       `json:"conversation_id"`
	OtherUserID    int       `json:"other_user_id"`
	OtherUsername  string    `json:"other_username,omitempty"`
	ListingID      *int      `json:"listing_id,omitempty"`
	ListingTitle   string    `json:"listing_title,omitempty"`
	LastMessage    string    `json:"last_message,omitempty"`
	LastMessageAt  time.Time `json:"last_message_at"`
	UnreadCount    int       `json:"unread_count"`
}
