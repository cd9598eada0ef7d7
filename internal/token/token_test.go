package token

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dvcrn/frollo-sdk-go/internal/cipher"
	"github.com/dvcrn/frollo-sdk-go/internal/credentials"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time { return c.t }

func newTestToken(t *testing.T, store credentials.Store) (*AuthToken, *fakeClock) {
	t.Helper()
	c, err := cipher.NewSoftwareCipher([]byte("test-secret"))
	require.NoError(t, err)
	clock := &fakeClock{t: time.Date(2024, 7, 1, 12, 0, 0, 0, time.UTC)}
	return New(store, c, WithClock(clock.Now)), clock
}

// brokenCipher fails every operation.
type brokenCipher struct{}

func (brokenCipher) Encrypt(string) (string, error) { return "", errors.New("keystore locked") }
func (brokenCipher) Decrypt(string) (string, error) { return "", errors.New("keystore locked") }

// failingStore fails every read.
type failingStore struct{ *credentials.MemoryStore }

func (failingStore) GetString(context.Context, string) (string, bool, error) {
	return "", false, errors.New("disk gone")
}

func (failingStore) GetInt64(context.Context, string) (int64, bool, error) {
	return 0, false, errors.New("disk gone")
}

func TestAuthToken_EmptyStore(t *testing.T) {
	tok, _ := newTestToken(t, credentials.NewMemoryStore())
	ctx := context.Background()

	assert.Empty(t, tok.AccessToken(ctx))
	assert.Empty(t, tok.RefreshToken(ctx))
	assert.Equal(t, credentials.ExpiryUnset, tok.Expiry(ctx))
	assert.False(t, tok.IsValid(ctx))
}

func TestAuthToken_SaveAndRead(t *testing.T) {
	store := credentials.NewMemoryStore()
	tok, clock := newTestToken(t, store)
	ctx := context.Background()

	v, err := tok.SaveTokens(ctx, "access-1", "refresh-1", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), v)

	assert.Equal(t, "access-1", tok.AccessToken(ctx))
	assert.Equal(t, "refresh-1", tok.RefreshToken(ctx))
	assert.Equal(t, clock.t.Add(time.Hour).Unix(), tok.Expiry(ctx))

	raw, ok, err := store.GetString(ctx, credentials.KeyAccessToken)
	require.NoError(t, err)
	require.True(t, ok)
	assert.NotEqual(t, "access-1", raw, "store must only see ciphertext")
}

func TestAuthToken_SaveKeepsRefreshWhenOmitted(t *testing.T) {
	tok, _ := newTestToken(t, credentials.NewMemoryStore())
	ctx := context.Background()

	_, err := tok.SaveTokens(ctx, "a1", "r1", time.Hour)
	require.NoError(t, err)
	_, err = tok.SaveTokens(ctx, "a2", "", time.Hour)
	require.NoError(t, err)

	assert.Equal(t, "a2", tok.AccessToken(ctx))
	assert.Equal(t, "r1", tok.RefreshToken(ctx))
}

func TestAuthToken_SaveRejectsEmptyAccess(t *testing.T) {
	tok, _ := newTestToken(t, credentials.NewMemoryStore())

	_, err := tok.SaveTokens(context.Background(), "", "r", time.Hour)
	require.ErrorIs(t, err, ErrEmptyAccessToken)
	assert.Equal(t, uint64(0), tok.Version())
}

func TestAuthToken_IsValidMargin(t *testing.T) {
	tests := []struct {
		name      string
		expiresIn time.Duration
		want      bool
	}{
		{name: "fifteen minutes left", expiresIn: 900 * time.Second, want: true},
		{name: "just over margin", expiresIn: 5*time.Minute + time.Second, want: true},
		{name: "exactly at margin", expiresIn: 5 * time.Minute, want: false},
		{name: "two hundred seconds left", expiresIn: 200 * time.Second, want: false},
		{name: "already expired", expiresIn: -time.Minute, want: false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			tok, _ := newTestToken(t, credentials.NewMemoryStore())
			ctx := context.Background()
			_, err := tok.SaveTokens(ctx, "a", "r", tc.expiresIn)
			require.NoError(t, err)
			assert.Equal(t, tc.want, tok.IsValid(ctx))
		})
	}
}

func TestAuthToken_IsValidFollowsClock(t *testing.T) {
	tok, clock := newTestToken(t, credentials.NewMemoryStore())
	ctx := context.Background()

	_, err := tok.SaveTokens(ctx, "a", "r", time.Hour)
	require.NoError(t, err)
	assert.True(t, tok.IsValid(ctx))

	clock.t = clock.t.Add(56 * time.Minute)
	assert.False(t, tok.IsValid(ctx))
}

func TestAuthToken_ClearTokens(t *testing.T) {
	tok, _ := newTestToken(t, credentials.NewMemoryStore())
	ctx := context.Background()

	_, err := tok.SaveTokens(ctx, "a", "r", time.Hour)
	require.NoError(t, err)
	require.NoError(t, tok.ClearTokens(ctx))

	assert.Empty(t, tok.AccessToken(ctx))
	assert.Empty(t, tok.RefreshToken(ctx))
	assert.Equal(t, credentials.ExpiryUnset, tok.Expiry(ctx))
	assert.False(t, tok.IsValid(ctx))
	assert.Equal(t, uint64(2), tok.Version())
}

func TestAuthToken_SaveTokensIfVersion(t *testing.T) {
	tok, _ := newTestToken(t, credentials.NewMemoryStore())
	ctx := context.Background()

	v0, err := tok.SaveTokens(ctx, "a0", "r0", time.Hour)
	require.NoError(t, err)

	// a refresh starts at v0, then a faster writer lands first
	_, err = tok.SaveTokens(ctx, "a-fast", "r-fast", time.Hour)
	require.NoError(t, err)

	_, err = tok.SaveTokensIfVersion(ctx, v0, "a-stale", "r-stale", time.Hour)
	require.ErrorIs(t, err, ErrStaleWrite)
	assert.Equal(t, "a-fast", tok.AccessToken(ctx), "stale refresh must not resurrect older tokens")

	// a clear also invalidates the observed version
	v := tok.Version()
	require.NoError(t, tok.ClearTokens(ctx))
	_, err = tok.SaveTokensIfVersion(ctx, v, "a-late", "r-late", time.Hour)
	require.ErrorIs(t, err, ErrStaleWrite)
	assert.Empty(t, tok.AccessToken(ctx))

	v = tok.Version()
	next, err := tok.SaveTokensIfVersion(ctx, v, "a1", "r1", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, v+1, next)
	assert.Equal(t, "a1", tok.AccessToken(ctx))
}

func TestAuthToken_DecryptFailureReadsAsAbsent(t *testing.T) {
	store := credentials.NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, store.SetString(ctx, credentials.KeyAccessToken, "garbage"))
	require.NoError(t, store.SetInt64(ctx, credentials.KeyAccessTokenExpiry, time.Now().Add(time.Hour).Unix()))

	tok, _ := newTestToken(t, store)
	assert.Empty(t, tok.AccessToken(ctx))
	assert.False(t, tok.IsValid(ctx))

	broken := New(store, brokenCipher{})
	assert.Empty(t, broken.AccessToken(ctx))
	_, err := broken.SaveTokens(ctx, "a", "r", time.Hour)
	require.Error(t, err)
}

func TestAuthToken_StoreFailureReadsAsAbsent(t *testing.T) {
	tok, _ := newTestToken(t, &failingStore{MemoryStore: credentials.NewMemoryStore()})
	ctx := context.Background()

	assert.Empty(t, tok.AccessToken(ctx))
	assert.Empty(t, tok.RefreshToken(ctx))
	assert.Equal(t, credentials.ExpiryUnset, tok.Expiry(ctx))
}
