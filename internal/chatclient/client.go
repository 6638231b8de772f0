package chatclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"marketplace-chat/internal/models"
)

// Error taxonomy mirrored from the service responses.
var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
	ErrNotFound     = errors.New("not found")
	ErrValidation   = errors.New("validation failed")
	ErrUnavailable  = errors.New("service unavailable")
)

// API is the messaging surface the session controller drives.
type API interface {
	ListConversations(ctx context.Context) ([]models.ConversationSummary, error)
	StartConversation(ctx context.Context, sellerID int, listingID *int) (int, error)
	ListMessages(ctx context.Context, conversationID int, limit int, offset int) ([]models.Message, error)
	SendMessage(ctx context.Context, conversationID int, text string) (models.Message, error)
	MarkRead(ctx context.Context, conversationID int) error
	UnreadCount(ctx context.Context) (int, error)
}

// Client talks to the chat service over HTTP with a bearer credential.
// Transport-level failures and 5xx responses are retried a bounded number of
// times with a linear backoff.
type Client struct {
	baseURL    string
	token      string
	http       *http.Client
	maxRetries int
	retryDelay time.Duration
}

// NewClient constructs a Client for the given service base URL and token.
func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL:    baseURL,
		token:      token,
		http:       &http.Client{Timeout: 10 * time.Second},
		maxRetries: 2,
		retryDelay: 250 * time.Millisecond,
	}
}

// ListConversations fetches the caller's conversation summaries.
func (c *Client) ListConversations(ctx context.Context) ([]models.ConversationSummary, error) {
	var resp struct {
		Conversations []models.ConversationSummary `json:"conversations"`
	}
	if err := c.do(ctx, http.MethodGet, "/conversations", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Conversations, nil
}

// StartConversation creates or reuses the conversation with a seller.
func (c *Client) StartConversation(ctx context.Context, sellerID int, listingID *int) (int, error) {
	req := map[string]interface{}{"seller_id": sellerID}
	if listingID != nil {
		req["listing_id"] = *listingID
	}
	var resp struct {
		ConversationID int `json:"conversation_id"`
	}
	if err := c.do(ctx, http.MethodPost, "/conversations/start", req, &resp); err != nil {
		return 0, err
	}
	return resp.ConversationID, nil
}

// ListMessages fetches a page of a conversation's messages.
func (c *Client) ListMessages(ctx context.Context, conversationID int, limit int, offset int) ([]models.Message, error) {
	path := fmt.Sprintf("/conversations/%d/messages?limit=%d&offset=%d", conversationID, limit, offset)
	var resp struct {
		Messages []models.Message `json:"messages"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Messages, nil
}

// SendMessage appends a message and returns the persisted record.
func (c *Client) SendMessage(ctx context.Context, conversationID int, text string) (models.Message, error) {
	path := fmt.Sprintf("/conversations/%d/messages", conversationID)
	var msg models.Message
	err := c.do(ctx, http.MethodPost, path, map[string]string{"message_text": text}, &msg)
	return msg, err
}

// MarkRead marks the conversation read for the caller.
func (c *Client) MarkRead(ctx context.Context, conversationID int) error {
	path := fmt.Sprintf("/conversations/%d/read", conversationID)
	return c.do(ctx, http.MethodPatch, path, nil, nil)
}

// UnreadCount fetches the caller's unread conversation count.
func (c *Client) UnreadCount(ctx context.Context) (int, error) {
	var resp struct {
		UnreadCount int `json:"unread_count"`
	}
	if err := c.do(ctx, http.MethodGet, "/conversations/unread-count", nil, &resp); err != nil {
		return 0, err
	}
	return resp.UnreadCount, nil
}

func (c *Client) do(ctx context.Context, method, path string, body interface{}, out interface{}) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return err
		}
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(attempt) * c.retryDelay):
			}
		}

		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(payload))
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+c.token)
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.http.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("%w: %v", ErrUnavailable, err)
			continue
		}

		if resp.StatusCode >= 500 {
			resp.Body.Close()
			lastErr = fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
			continue
		}

		defer resp.Body.Close()
		if err := statusError(resp.StatusCode); err != nil {
			return err
		}
		if out == nil {
			return nil
		}
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return lastErr
}

func statusError(status int) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusUnauthorized:
		return ErrUnauthorized
	case status == http.StatusForbidden:
		return ErrForbidden
	case status == http.StatusNotFound:
		return ErrNotFound
	case status == http.StatusBadRequest:
		return ErrValidation
	default:
		return fmt.Errorf("%w: status %d", ErrUnavailable, status)
	}
}
