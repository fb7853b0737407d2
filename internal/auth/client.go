package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/avask/liverelay/pkg/logger"
)

// UserInfo carries the per-user metadata embedded in a room token.
type UserInfo struct {
	Username string `json:"username,omitempty"`
	Bot      bool   `json:"bot,omitempty"`
}

// Request is the payload sent to the collaboration provider's authorize
// endpoint. The shared secret travels in the Authorization header, not here.
type Request struct {
	Room     string   `json:"room"`
	UserID   string   `json:"userId"`
	UserInfo UserInfo `json:"userInfo"`
}

// TokenResponse wraps the provider's signed token payload. Body is returned to
// human callers verbatim and parsed by the websocket transport for bot joins.
type TokenResponse struct {
	Body string
}

// Client mints room tokens against the collaboration provider
type Client struct {
	baseURL       string
	authorizePath string
	secret        string
	httpClient    *http.Client
	logger        *logger.Logger
}

// NewClient creates a new authorization client
func NewClient(baseURL, authorizePath, secret string, timeout time.Duration, log *logger.Logger) *Client {
	if secret == "" {
		log.Warn("Collaboration provider secret is empty - room joins will fail")
	}

	base := strings.TrimRight(baseURL, "/")
	if authorizePath == "" {
		authorizePath = "/v2/authorize"
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &Client{
		baseURL:       base,
		authorizePath: authorizePath,
		secret:        secret,
		logger:        log.Named("auth"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Authorize requests a signed token permitting the given identity to join the
// given room. The returned body is the provider's token payload, JSON-encoded.
func (c *Client) Authorize(ctx context.Context, room, userID string, userInfo UserInfo) (*TokenResponse, error) {
	if room == "" {
		return nil, fmt.Errorf("room is required")
	}
	if userID == "" {
		return nil, fmt.Errorf("userId is required")
	}

	reqBody := Request{
		Room:     room,
		UserID:   userID,
		UserInfo: userInfo,
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal authorize request: %w", err)
	}

	apiURL := c.baseURL + c.authorizePath
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, apiURL, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create authorize request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.secret)

	c.logger.Debug("Requesting room token",
		logger.String("room", room),
		logger.String("user_id", userID))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("authorize request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read authorize response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		c.logger.Error("Authorization rejected",
			logger.String("room", room),
			logger.String("user_id", userID),
			logger.Int("status_code", resp.StatusCode),
			logger.String("response_body", string(body)))
		return nil, fmt.Errorf("authorize failed: %s", resp.Status)
	}

	return &TokenResponse{Body: string(body)}, nil
}

// Token extracts the bare token string from the provider's response body.
// The body is normally `{"token":"..."}`; anything else is returned as-is so
// providers that answer with a raw token still work.
func (t *TokenResponse) Token() string {
	var parsed struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal([]byte(t.Body), &parsed); err == nil && parsed.Token != "" {
		return parsed.Token
	}
	return t.Body
}

// BotUserID returns the deterministic identity the relay joins rooms under.
// One bot identity per room keeps the provider's presence bookkeeping stable
// across reconnects.
func BotUserID(roomID string) string {
	return "worker-" + roomID
}
