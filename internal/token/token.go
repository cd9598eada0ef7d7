// Package token holds the current access/refresh token pair and its expiry.
//
// AuthToken is the single source of truth for the token triple. Tokens are
// encrypted with a cipher.SecretCipher before they reach a credentials.Store.
// Read failures of any kind degrade to "no token" and are only logged, so a
// broken store or key leaves the SDK logged out rather than erroring.
package token

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dvcrn/frollo-sdk-go/internal/cipher"
	"github.com/dvcrn/frollo-sdk-go/internal/credentials"
	"github.com/dvcrn/frollo-sdk-go/internal/logger"
)

// DefaultExpiryMargin is how long before its expiry an access token is
// already treated as expired.
const DefaultExpiryMargin = 5 * time.Minute

// ErrStaleWrite is returned by SaveTokensIfVersion when another write or a
// clear happened after the caller observed the version.
var ErrStaleWrite = errors.New("token write is stale")

// ErrEmptyAccessToken is returned when asked to save an empty access token.
var ErrEmptyAccessToken = errors.New("access token is empty")

// AuthToken combines a credential store and a cipher.
type AuthToken struct {
	store  credentials.Store
	cipher cipher.SecretCipher
	now    func() time.Time
	margin time.Duration

	mu      sync.Mutex
	version uint64
}

// Option customizes an AuthToken.
type Option func(*AuthToken)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(t *AuthToken) { t.now = now }
}

// WithExpiryMargin replaces DefaultExpiryMargin.
func WithExpiryMargin(d time.Duration) Option {
	return func(t *AuthToken) { t.margin = d }
}

func New(store credentials.Store, c cipher.SecretCipher, opts ...Option) *AuthToken {
	t := &AuthToken{
		store:  store,
		cipher: c,
		now:    time.Now,
		margin: DefaultExpiryMargin,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// AccessToken returns the decrypted access token, or "" when there is none.
func (t *AuthToken) AccessToken(ctx context.Context) string {
	return t.read(ctx, credentials.KeyAccessToken)
}

// RefreshToken returns the decrypted refresh token, or "" when there is none.
func (t *AuthToken) RefreshToken(ctx context.Context) string {
	return t.read(ctx, credentials.KeyRefreshToken)
}

// Expiry returns the access token expiry in epoch seconds, or
// credentials.ExpiryUnset.
func (t *AuthToken) Expiry(ctx context.Context) int64 {
	v, ok, err := t.store.GetInt64(ctx, credentials.KeyAccessTokenExpiry)
	if err != nil {
		logger.Get().Error().Err(err).Str("store", t.store.Name()).Msg("Failed to read token expiry")
		return credentials.ExpiryUnset
	}
	if !ok {
		return credentials.ExpiryUnset
	}
	return v
}

// IsValid reports whether an access token exists and now is strictly before
// expiry minus the safety margin.
func (t *AuthToken) IsValid(ctx context.Context) bool {
	if t.AccessToken(ctx) == "" {
		return false
	}
	expiry := t.Expiry(ctx)
	if expiry == credentials.ExpiryUnset {
		return false
	}
	deadline := time.Unix(expiry, 0).Add(-t.margin)
	return t.now().UTC().Before(deadline)
}

// Version returns the write counter. It increases on every save and clear.
func (t *AuthToken) Version() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.version
}

// SaveTokens encrypts and persists both tokens with expiry now+expiresIn and
// returns the new version. An empty refresh token keeps the stored one.
func (t *AuthToken) SaveTokens(ctx context.Context, access, refresh string, expiresIn time.Duration) (uint64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.saveLocked(ctx, access, refresh, expiresIn)
}

// SaveTokensIfVersion is SaveTokens guarded by the version the caller
// observed before starting its refresh. If anything was written or cleared in
// between, the result is discarded with ErrStaleWrite.
func (t *AuthToken) SaveTokensIfVersion(ctx context.Context, version uint64, access, refresh string, expiresIn time.Duration) (uint64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.version != version {
		return t.version, fmt.Errorf("%w: observed %d, current %d", ErrStaleWrite, version, t.version)
	}
	return t.saveLocked(ctx, access, refresh, expiresIn)
}

func (t *AuthToken) saveLocked(ctx context.Context, access, refresh string, expiresIn time.Duration) (uint64, error) {
	if access == "" {
		return t.version, ErrEmptyAccessToken
	}

	encAccess, err := t.cipher.Encrypt(access)
	if err != nil {
		return t.version, fmt.Errorf("encrypt access token: %w", err)
	}
	var encRefresh string
	if refresh != "" {
		if encRefresh, err = t.cipher.Encrypt(refresh); err != nil {
			return t.version, fmt.Errorf("encrypt refresh token: %w", err)
		}
	}

	// The version moves even if a write below fails: the store may be
	// partially updated and no earlier observer should win against it.
	t.version++

	if err := t.store.SetString(ctx, credentials.KeyAccessToken, encAccess); err != nil {
		return t.version, fmt.Errorf("store access token: %w", err)
	}
	if encRefresh != "" {
		if err := t.store.SetString(ctx, credentials.KeyRefreshToken, encRefresh); err != nil {
			return t.version, fmt.Errorf("store refresh token: %w", err)
		}
	}
	expiry := t.now().UTC().Add(expiresIn).Unix()
	if err := t.store.SetInt64(ctx, credentials.KeyAccessTokenExpiry, expiry); err != nil {
		return t.version, fmt.Errorf("store token expiry: %w", err)
	}

	logger.Get().Debug().Int64("expiry", expiry).Uint64("version", t.version).Msg("Saved tokens")
	return t.version, nil
}

// ClearTokens removes both tokens and resets the expiry to unset.
func (t *AuthToken) ClearTokens(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.version++
	if err := t.store.Remove(ctx, credentials.KeyAccessToken, credentials.KeyRefreshToken); err != nil {
		return fmt.Errorf("remove tokens: %w", err)
	}
	if err := t.store.SetInt64(ctx, credentials.KeyAccessTokenExpiry, credentials.ExpiryUnset); err != nil {
		return fmt.Errorf("reset token expiry: %w", err)
	}

	logger.Get().Info().Uint64("version", t.version).Msg("Cleared tokens")
	return nil
}

func (t *AuthToken) read(ctx context.Context, key string) string {
	enc, ok, err := t.store.GetString(ctx, key)
	if err != nil {
		logger.Get().Error().Err(err).Str("key", key).Str("store", t.store.Name()).Msg("Failed to read token")
		return ""
	}
	if !ok || enc == "" {
		return ""
	}
	plain, err := t.cipher.Decrypt(enc)
	if err != nil {
		logger.Get().Error().Err(err).Str("key", key).Msg("Failed to decrypt token, treating as absent")
		return ""
	}
	return plain
}
