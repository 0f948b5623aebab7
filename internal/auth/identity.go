package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Identity is the user profile returned by the external OAuth broker.
type Identity struct {
	Email   string `json:"email"`
	Name    string `json:"name"`
	Picture string `json:"picture"`
}

// IdentityClient exchanges an opaque session id for a user identity
// against the OAuth broker's session-data endpoint.
type IdentityClient struct {
	URL    string
	client *http.Client
}

// NewIdentityClient creates a client for the given session-data URL.
func NewIdentityClient(url string) *IdentityClient {
	return &IdentityClient{
		URL:    url,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Exchange resolves sessionID to an identity. A non-200 from the broker
// means the id is invalid or expired.
func (c *IdentityClient) Exchange(ctx context.Context, sessionID string) (*Identity, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("build identity request: %w", err)
	}
	req.Header.Set("X-Session-ID", sessionID)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("identity exchange: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: broker returned %d", ErrInvalidSessionID, resp.StatusCode)
	}

	var id Identity
	if err := json.NewDecoder(resp.Body).Decode(&id); err != nil {
		return nil, fmt.Errorf("decode identity response: %w", err)
	}
	if id.Email == "" {
		return nil, fmt.Errorf("%w: no email in broker response", ErrInvalidSessionID)
	}
	if id.Name == "" {
		id.Name = strings.SplitN(id.Email, "@", 2)[0]
	}
	return &id, nil
}
