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

// UserProfile is the subset of user-service data the chat surface needs.
type UserProfile struct {
	ID       int    `json:"id"`
	Username string `json:"username"`
}

// UserClient wraps the user-service profile endpoints.
type UserClient struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewUserClient constructs the wrapper. The token is the service-to-service
// credential attached to every request.
func NewUserClient(baseURL, token string) *UserClient {
	return &UserClient{
		baseURL: baseURL,
		token:   token,
		http:    &http.Client{Timeout: 5 * time.Second},
	}
}

// BulkUsers fetches multiple user profiles in one call.
func (u *UserClient) BulkUsers(ctx context.Context, ids []int) ([]UserProfile, error) {
	if len(ids) == 0 {
		return []UserProfile{}, nil
	}

	parts := make([]string, 0, len(ids))
	for _, id := range ids {
		parts = append(parts, strconv.Itoa(id))
	}

	url := u.baseURL + "/internal/users?ids=" + strings.Join(parts, ",")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+u.token)

	resp, err := u.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("user service returned status %d", resp.StatusCode)
	}

	var body struct {
		Users []UserProfile `json:"users"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, err
	}
	return body.Users, nil
}
