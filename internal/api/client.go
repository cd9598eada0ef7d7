// Package api is a small typed client for the Frollo REST API.
package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/dvcrn/frollo-sdk-go/internal/network"
)

// Doer sends a JSON request through the auth pipeline. *network.Service implements it.
type Doer interface {
	Do(ctx context.Context, method, path string, in, out any) error
}

// Client is a client for the Frollo API.
type Client struct {
	doer Doer
}

// NewClient creates a new API client.
func NewClient(doer Doer) *Client {
	return &Client{doer: doer}
}

// User fetches the logged-in user's profile.
func (c *Client) User(ctx context.Context) (*User, error) {
	var u User
	if err := c.doer.Do(ctx, http.MethodGet, "user/details", nil, &u); err != nil {
		return nil, fmt.Errorf("fetch user: %w", err)
	}
	return &u, nil
}

// UpdateUser writes the profile and returns the server's copy.
func (c *Client) UpdateUser(ctx context.Context, u *User) (*User, error) {
	var out User
	if err := c.doer.Do(ctx, http.MethodPut, "user/details", u, &out); err != nil {
		return nil, fmt.Errorf("update user: %w", err)
	}
	return &out, nil
}

// Accounts lists aggregated accounts.
func (c *Client) Accounts(ctx context.Context) ([]Account, error) {
	var accounts []Account
	if err := c.doer.Do(ctx, http.MethodGet, "aggregation/accounts", nil, &accounts); err != nil {
		return nil, fmt.Errorf("fetch accounts: %w", err)
	}
	return accounts, nil
}

// RequestPasswordReset starts a password reset. The server expects the one-time
// password in place of a bearer token.
func (c *Client) RequestPasswordReset(ctx context.Context, email, otp string) error {
	ctx = network.WithOTP(ctx, otp)
	if err := c.doer.Do(ctx, http.MethodPost, "user/reset", &passwordResetRequest{Email: email}, nil); err != nil {
		return fmt.Errorf("request password reset: %w", err)
	}
	return nil
}
