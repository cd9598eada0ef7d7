package credentials

import (
	"context"
	"errors"
)

// Keys under which the token triple is persisted.
const (
	KeyAccessToken       = "access_token"
	KeyRefreshToken      = "refresh_token"
	KeyAccessTokenExpiry = "access_token_expiry"
)

// ExpiryUnset marks an access token expiry that has never been written.
const ExpiryUnset int64 = -1

// ErrNotNumeric is returned by GetInt64 when the stored value is not an integer.
var ErrNotNumeric = errors.New("stored value is not numeric")

// Store is a small key/value preference store for credential material.
// Values handed to a Store are already encrypted where needed; a Store never
// sees plaintext tokens.
type Store interface {
	// GetString returns the value for key and whether it exists.
	GetString(ctx context.Context, key string) (string, bool, error)

	// SetString stores value under key.
	SetString(ctx context.Context, key, value string) error

	// GetInt64 returns the integer for key and whether it exists.
	GetInt64(ctx context.Context, key string) (int64, bool, error)

	// SetInt64 stores value under key.
	SetInt64(ctx context.Context, key string, value int64) error

	// Remove deletes keys. Missing keys are not an error.
	Remove(ctx context.Context, keys ...string) error

	// Name returns the name of the store for logging
	Name() string
}
