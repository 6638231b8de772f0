package models

import "time"

// Message represents one message inside a conversation. ReadAt is nil until
// the recipient marks the conversation read; the sender's own messages are
// implicitly read by the sender.
type Message struct {
	ID             int        `db:"id" json:"id"`
	ConversationID int        `db:"conversation_id" json:"conversation_id"`
	SenderID       int        `db:"sender_id" json:"sender_id"`
	Body           string     `db:"body" json:"body"`
	ReadAt         *time.Time `db:"read_at" json:"read_at,omitempty"`
	CreatedAt      time.Time  `db:"created_at" json:"created_at"`
}

// ChatEvent is published to the broker whenever conversation state changes
// in a way that can move a user's unread aggregate.
type ChatEvent struct {
	Type           string   `json:"type"`
	ConversationID int      `json:"conversation_id"`
	UserID         int      `json:"user_id,omitempty"`
	Message        *Message `json:"message,omitempty"`
}

// Event types carried by ChatEvent.
const (
	EventMessageCreated   = "message_created"
	EventConversationRead = "conversation_read"
)
