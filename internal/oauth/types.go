package oauth

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// GrantType tags a TokenRequest.
type GrantType string

const (
	GrantPassword          GrantType = "password"
	GrantRefreshToken      GrantType = "refresh_token"
	GrantAuthorizationCode GrantType = "authorization_code"
)

// ErrInvalidRequest is returned by Validate when the grant-specific fields do
// not match the grant type.
var ErrInvalidRequest = errors.New("invalid token request")

// TokenRequest is the JSON body posted to the token endpoint. Only the fields
// of its grant type are populated.
type TokenRequest struct {
	GrantType    GrantType `json:"grant_type"`
	ClientID     string    `json:"client_id"`
	Domain       string    `json:"domain,omitempty"`
	Username     string    `json:"username,omitempty"`
	Password     string    `json:"password,omitempty"`
	LegacyToken  string    `json:"legacy_token,omitempty"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	Code         string    `json:"code,omitempty"`
	CodeVerifier string    `json:"code_verifier,omitempty"`
	RedirectURI  string    `json:"redirect_uri,omitempty"`
	Scope        string    `json:"scope,omitempty"`
	Audience     string    `json:"audience,omitempty"`
}

// Validate checks that exactly the grant-specific field set of the tag is populated.
func (r *TokenRequest) Validate() error {
	if r.ClientID == "" {
		return fmt.Errorf("%w: client_id is required", ErrInvalidRequest)
	}

	password := r.Username != "" || r.Password != "" || r.LegacyToken != ""
	refresh := r.RefreshToken != ""
	code := r.Code != "" || r.CodeVerifier != "" || r.RedirectURI != ""

	switch r.GrantType {
	case GrantPassword:
		if refresh || code {
			return fmt.Errorf("%w: password grant carries foreign fields", ErrInvalidRequest)
		}
		if r.LegacyToken == "" && (r.Username == "" || r.Password == "") {
			return fmt.Errorf("%w: password grant needs username and password or a legacy token", ErrInvalidRequest)
		}
	case GrantRefreshToken:
		if password || code {
			return fmt.Errorf("%w: refresh_token grant carries foreign fields", ErrInvalidRequest)
		}
		if !refresh {
			return fmt.Errorf("%w: refresh_token grant needs a refresh token", ErrInvalidRequest)
		}
	case GrantAuthorizationCode:
		if password || refresh {
			return fmt.Errorf("%w: authorization_code grant carries foreign fields", ErrInvalidRequest)
		}
		if r.Code == "" || r.RedirectURI == "" {
			return fmt.Errorf("%w: authorization_code grant needs code and redirect_uri", ErrInvalidRequest)
		}
	default:
		return fmt.Errorf("%w: unknown grant_type %q", ErrInvalidRequest, r.GrantType)
	}
	return nil
}

// RevokeRequest is posted to the revoke endpoint.
type RevokeRequest struct {
	ClientID string `json:"client_id"`
	Token    string `json:"token"`
}

// TokenResponse is the token endpoint's success body.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	IDToken      string `json:"id_token,omitempty"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	CreatedAt    int64  `json:"created_at,omitempty"`
}

// Lifetime returns how long the access token is valid from now. When the
// server omits expires_in, the exp claim of a JWT access token is used.
func (r *TokenResponse) Lifetime(now time.Time) time.Duration {
	if r.ExpiresIn > 0 {
		return time.Duration(r.ExpiresIn) * time.Second
	}

	claims := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(r.AccessToken, claims); err != nil {
		return 0
	}
	if claims.ExpiresAt == nil {
		return 0
	}
	return claims.ExpiresAt.Time.Sub(now)
}

// ErrorType is the "error" field of an OAuth2 error body.
type ErrorType string

const (
	ErrorInvalidRequest         ErrorType = "invalid_request"
	ErrorInvalidClient          ErrorType = "invalid_client"
	ErrorInvalidGrant           ErrorType = "invalid_grant"
	ErrorInvalidScope           ErrorType = "invalid_scope"
	ErrorUnauthorizedClient     ErrorType = "unauthorized_client"
	ErrorUnsupportedGrantType   ErrorType = "unsupported_grant_type"
	ErrorAccessDenied           ErrorType = "access_denied"
	ErrorServerError            ErrorType = "server_error"
	ErrorTemporarilyUnavailable ErrorType = "temporarily_unavailable"
	ErrorUnknown                ErrorType = "unknown"
)

// Error is a structured failure from the token or revoke endpoint.
type Error struct {
	StatusCode  int       `json:"-"`
	Type        ErrorType `json:"error"`
	Description string    `json:"error_description,omitempty"`
}

func (e *Error) Error() string {
	if e.Description != "" {
		return fmt.Sprintf("oauth %s (status %d): %s", e.Type, e.StatusCode, e.Description)
	}
	return fmt.Sprintf("oauth %s (status %d)", e.Type, e.StatusCode)
}

// Terminal reports whether retrying the same grant cannot succeed. Rate
// limits and server errors are not terminal; a body that is not an OAuth2
// error only counts when the status is 400 or 401.
func (e *Error) Terminal() bool {
	if e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500 {
		return false
	}
	switch e.Type {
	case ErrorServerError, ErrorTemporarilyUnavailable:
		return false
	case ErrorUnknown:
		return e.StatusCode == http.StatusBadRequest || e.StatusCode == http.StatusUnauthorized
	default:
		return true
	}
}
