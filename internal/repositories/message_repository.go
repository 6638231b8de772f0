package repositories

import (
	"context"
	"errors"

	"github.com/jmoiron/sqlx"

	"marketplace-chat/internal/models"
)

var ErrEmptyMessageBody = errors.New("message body is empty")

// MessageRepository defines interactions for conversation messages and the
// unread aggregate derived from them.
type MessageRepository interface {
	AppendMessage(ctx context.Context, conversationID int, senderID int, body string) (models.Message, error)
	ListMessages(ctx context.Context, conversationID int, limit int, offset int) ([]models.Message, error)
	MarkRead(ctx context.Context, conversationID int, userID int) (int64, error)
	CountUnreadConversations(ctx context.Context, userID int) (int, error)
}

// MessageRepo is a sqlx-backed repository.
type MessageRepo struct {
	db *sqlx.DB
}

// NewMessageRepo constructs MessageRepo.
func NewMessageRepo(db *sqlx.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

const messageColumns = `id, conversation_id, sender_id, body, read_at, created_at`

// AppendMessage inserts a message and bumps the conversation's last-activity
// timestamp in one transaction, so ordering never goes stale relative to the
// message log.
func (r *MessageRepo) AppendMessage(ctx context.Context, conversationID int, senderID int, body string) (models.Message, error) {
	if body == "" {
		return models.Message{}, ErrEmptyMessageBody
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return models.Message{}, err
	}
	defer tx.Rollback()

	var msg models.Message
	insert := `INSERT INTO messages (conversation_id, sender_id, body) VALUES ($1, $2, $3)
        RETURNING ` + messageColumns
	if err := tx.QueryRowxContext(ctx, insert, conversationID, senderID, body).StructScan(&msg); err != nil {
		return models.Message{}, err
	}

	if _, err := tx.ExecContext(ctx, `UPDATE conversations SET last_message_at=$1 WHERE id=$2`, msg.CreatedAt, conversationID); err != nil {
		return models.Message{}, err
	}

	if err := tx.Commit(); err != nil {
		return models.Message{}, err
	}
	return msg, nil
}

// ListMessages returns messages oldest-first, ties broken by id.
func (r *MessageRepo) ListMessages(ctx context.Context, conversationID int, limit int, offset int) ([]models.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages
        WHERE conversation_id=$1
        ORDER BY created_at ASC, id ASC
        LIMIT $2 OFFSET $3`
	var msgs []models.Message
	err := r.db.SelectContext(ctx, &msgs, query, conversationID, limit, offset)
	return msgs, err
}

// MarkRead transitions every unread message addressed to the user in the
// conversation to read. Idempotent; returns the number of rows changed.
func (r *MessageRepo) MarkRead(ctx context.Context, conversationID int, userID int) (int64, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE messages SET read_at=NOW()
        WHERE conversation_id=$1 AND sender_id<>$2 AND read_at IS NULL`, conversationID, userID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// CountUnreadConversations counts conversations holding at least one unread
// message addressed to the user. Computed fresh on every call.
func (r *MessageRepo) CountUnreadConversations(ctx context.Context, userID int) (int, error) {
	var count int
	query := `SELECT COUNT(DISTINCT m.conversation_id)
        FROM messages m
        JOIN conversations c ON c.id = m.conversation_id
        WHERE (c.buyer_id=$1 OR c.seller_id=$1) AND m.sender_id<>$1 AND m.read_at IS NULL`
	err := r.db.GetContext(ctx, &count, query, userID)
	return count, err
}
