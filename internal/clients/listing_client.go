package clients

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// ListingSummary is the listing context shown on a conversation.
type ListingSummary struct {
	ID    int    `json:"id"`
	Title string `json:"title"`
}

// ListingClient wraps the listing-service lookup endpoints.
type ListingClient struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewListingClient constructs the wrapper.
func NewListingClient(baseURL, token string) *ListingClient {
	return &ListingClient{
		baseURL: baseURL,
		token:   token,
		http:    &http.Client{Timeout: 5 * time.Second},
	}
}

// BulkListings fetches several listing summaries in one call.
func (l *ListingClient) BulkListings(ctx context.Context, ids []int) ([]ListingSummary, error) {
	if len(ids) == 0 {
		return []ListingSummary{}, nil
	}

	parts := make([]string, 0, len(ids))
	for _, id := range ids {
		parts = append(parts, strconv.Itoa(id))
	}

	url := l.baseURL + "/internal/listings?ids=" + strings.Join(parts, ",")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+l.token)

	resp, err := l.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("listing service returned status %d", resp.StatusCode)
	}

	var body struct {
		Listings []ListingSummary `json:"listings"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, err
	}
	return body.Listings, nil
}
