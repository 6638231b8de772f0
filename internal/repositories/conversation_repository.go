package repositories

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"marketplace-chat/internal/models"
)

var (
	ErrConversationNotFound = errors.New("conversation not found")
	ErrSelfConversation     = errors.New("cannot start a conversation with yourself")
)

// ConversationRepository abstracts conversation persistence.
type ConversationRepository interface {
	GetOrCreateConversation(ctx context.Context, buyerID int, sellerID int, listingID *int) (models.Conversation, error)
	GetConversation(ctx context.Context, conversationID int) (models.Conversation, error)
	IsParticipant(ctx context.Context, conversationID int, userID int) (bool, error)
	ListConversations(ctx context.Context, userID int) ([]models.ConversationSummary, error)
}

// ConversationRepo is a sqlx implementation of ConversationRepository.
type ConversationRepo struct {
	db *sqlx.DB
}

// NewConversationRepo constructs a ConversationRepo.
func NewConversationRepo(db *sqlx.DB) *ConversationRepo {
	return &ConversationRepo{db: db}
}

const conversationColumns = `id, buyer_id, seller_id, listing_id, created_at, last_message_at`

// GetOrCreateConversation returns the conversation for the (buyer, seller,
// listing) triple, creating it when absent. Concurrent callers converge on
// one row: the insert is guarded by the unique pairing index, and a loser of
// the race falls through to the select.
func (r *ConversationRepo) GetOrCreateConversation(ctx context.Context, buyerID int, sellerID int, listingID *int) (models.Conversation, error) {
	if buyerID == sellerID {
		return models.Conversation{}, ErrSelfConversation
	}

	var conv models.Conversation
	insert := `INSERT INTO conversations (buyer_id, seller_id, listing_id) VALUES ($1, $2, $3)
        ON CONFLICT (buyer_id, seller_id, COALESCE(listing_id, 0)) DO NOTHING
        RETURNING ` + conversationColumns
	err := r.db.QueryRowxContext(ctx, insert, buyerID, sellerID, listingID).StructScan(&conv)
	if err == nil {
		return conv, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return models.Conversation{}, err
	}

	query := `SELECT ` + conversationColumns + ` FROM conversations
        WHERE buyer_id=$1 AND seller_id=$2 AND COALESCE(listing_id, 0)=COALESCE($3, 0)`
	if err := r.db.GetContext(ctx, &conv, query, buyerID, sellerID, listingID); err != nil {
		return models.Conversation{}, err
	}
	return conv, nil
}

// GetConversation fetches a conversation by id.
func (r *ConversationRepo) GetConversation(ctx context.Context, conversationID int) (models.Conversation, error) {
	var conv models.Conversation
	err := r.db.GetContext(ctx, &conv, `SELECT `+conversationColumns+` FROM conversations WHERE id=$1`, conversationID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Conversation{}, ErrConversationNotFound
	}
	return conv, err
}

// IsParticipant checks whether a user belongs to the conversation.
func (r *ConversationRepo) IsParticipant(ctx context.Context, conversationID int, userID int) (bool, error) {
	var exists bool
	err := r.db.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM conversations WHERE id=$1 AND (buyer_id=$2 OR seller_id=$2))`, conversationID, userID)
	return exists, err
}

// ListConversations returns the user's conversations ordered by last activity
// descending, each carrying a last-message preview and the caller's unread
// message count.
func (r *ConversationRepo) ListConversations(ctx context.Context, userID int) ([]models.ConversationSummary, error) {
	query := `SELECT c.id, c.buyer_id, c.seller_id, c.listing_id, c.last_message_at,
            COALESCE(lm.body, '') AS last_message,
            COALESCE(un.unread, 0) AS unread_count
        FROM conversations c
        LEFT JOIN LATERAL (
            SELECT body FROM messages
            WHERE conversation_id = c.id
            ORDER BY created_at DESC, id DESC LIMIT 1
        ) lm ON TRUE
        LEFT JOIN LATERAL (
            SELECT COUNT(*) AS unread FROM messages
            WHERE conversation_id = c.id AND sender_id <> $1 AND read_at IS NULL
        ) un ON TRUE
        WHERE c.buyer_id=$1 OR c.seller_id=$1
        ORDER BY c.last_message_at DESC`

	rows, err := r.db.QueryxContext(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []models.ConversationSummary
	for rows.Next() {
		var row struct {
			models.Conversation
			LastMessage string `db:"last_message"`
			UnreadCount int    `db:"unread_count"`
		}
		if err := rows.StructScan(&row); err != nil {
			return nil, err
		}
		result = append(result, models.ConversationSummary{
			ConversationID: row.ID,
			OtherUserID:    row.OtherParticipant(userID),
			ListingID:      row.ListingID,
			LastMessage:    row.LastMessage,
			LastMessageAt:  row.LastMessageAt,
			UnreadCount:    row.UnreadCount,
		})
	}
	return result, rows.Err()
}
