package oauth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	serverhttp "github.com/dvcrn/frollo-sdk-go/internal/http"
	"github.com/dvcrn/frollo-sdk-go/internal/logger"
)

const maxBodySize = 256 * 1024

// Client talks to the token and revoke endpoints. It must be given a plain
// HTTP client: token requests never go through the auth pipeline.
type Client struct {
	httpClient serverhttp.HTTPClient
	tokenURL   string
	revokeURL  string
	userAgent  string
}

func NewClient(httpClient serverhttp.HTTPClient, tokenURL, revokeURL, userAgent string) *Client {
	return &Client{
		httpClient: httpClient,
		tokenURL:   tokenURL,
		revokeURL:  revokeURL,
		userAgent:  userAgent,
	}
}

// TokenURL is the configured token endpoint.
func (c *Client) TokenURL() string { return c.tokenURL }

// RevokeURL is the configured revoke endpoint, possibly empty.
func (c *Client) RevokeURL() string { return c.revokeURL }

// Exchange posts a grant to the token endpoint. Non-2xx replies are returned
// as *Error; anything else is a transport failure.
func (c *Client) Exchange(ctx context.Context, req *TokenRequest) (*TokenResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	body, err := c.post(ctx, c.tokenURL, req)
	if err != nil {
		return nil, err
	}

	var resp TokenResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("could not unmarshal token response: %w", err)
	}
	if resp.AccessToken == "" {
		return nil, &Error{StatusCode: http.StatusOK, Type: ErrorServerError, Description: "token response has no access_token"}
	}

	logger.Get().Debug().Str("grant_type", string(req.GrantType)).Int64("expires_in", resp.ExpiresIn).Msg("Token grant succeeded")
	return &resp, nil
}

// Revoke invalidates token on the server. A missing revoke URL is a no-op.
func (c *Client) Revoke(ctx context.Context, req *RevokeRequest) error {
	if c.revokeURL == "" {
		return nil
	}
	if req.Token == "" {
		return errors.New("no token to revoke")
	}
	_, err := c.post(ctx, c.revokeURL, req)
	return err
}

func (c *Client) post(ctx context.Context, endpoint string, payload any) ([]byte, error) {
	bodyBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("could not marshal request body: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, fmt.Errorf("could not create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	if c.userAgent != "" {
		httpReq.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request execution error: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("could not read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, ParseError(resp.StatusCode, respBody)
	}
	return respBody, nil
}

// ParseError decodes an OAuth2 error body. Bodies that are not OAuth2 errors
// yield ErrorUnknown with a truncated copy of the body as description.
func ParseError(status int, body []byte) *Error {
	e := &Error{}
	if err := json.Unmarshal(body, e); err != nil || e.Type == "" {
		preview := string(body)
		if len(preview) > 200 {
			preview = preview[:200] + "..."
		}
		e = &Error{Type: ErrorUnknown, Description: preview}
	}
	e.StatusCode = status
	return e
}
