package network

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dvcrn/frollo-sdk-go/internal/credentials"
	"github.com/dvcrn/frollo-sdk-go/internal/metrics"
	"github.com/dvcrn/frollo-sdk-go/internal/oauth"
)

// capture records the decoded token request and then issues tokens.
func capture(got *oauth.TokenRequest) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(got)
		issue("new-access", "new-refresh")(w, r)
	}
}

func TestService_LoginWithPassword(t *testing.T) {
	var got oauth.TokenRequest
	h := newHarness(t, acceptOnly("new-access"), capture(&got))
	ctx := context.Background()

	require.NoError(t, h.svc.LoginWithPassword(ctx, "jacob@frollo.us", "hunter2"))

	assert.Equal(t, oauth.GrantPassword, got.GrantType)
	assert.Equal(t, "jacob@frollo.us", got.Username)
	assert.Equal(t, "hunter2", got.Password)
	assert.Equal(t, "client-1", got.ClientID)
	assert.Equal(t, "api.frollo.us", got.Domain)

	assert.Equal(t, "new-access", h.tok.AccessToken(ctx))
	assert.True(t, h.tok.IsValid(ctx))

	st := h.svc.Status(ctx)
	assert.True(t, st.Authenticated)
	assert.True(t, st.Valid)
	assert.Equal(t, "idle", st.State)
	assert.WithinDuration(t, time.Now().Add(30*time.Minute), st.Expiry, 5*time.Second)

	var out map[string]bool
	require.NoError(t, h.svc.Do(ctx, http.MethodGet, "user/details", nil, &out))
	assert.True(t, out["ok"])
}

func TestService_LoginFailure(t *testing.T) {
	h := newHarness(t, acceptOnly("x"), oauthError(http.StatusForbidden, oauth.ErrorInvalidGrant))
	ctx := context.Background()

	err := h.svc.LoginWithPassword(ctx, "jacob@frollo.us", "wrong")

	var oauthErr *oauth.Error
	require.ErrorAs(t, err, &oauthErr)
	assert.Equal(t, http.StatusForbidden, oauthErr.StatusCode)
	assert.Empty(t, h.tok.AccessToken(ctx))
	assert.Empty(t, h.events, "a failed login is not an invalidation")
}

func TestService_LoginNetworkFailure(t *testing.T) {
	h := newHarness(t, acceptOnly("x"), dropConnection)

	err := h.svc.LoginWithPassword(context.Background(), "jacob@frollo.us", "hunter2")

	var netErr *NetworkError
	require.ErrorAs(t, err, &netErr)
}

func TestService_LoginWithoutExpiryUsesDefaultLifetime(t *testing.T) {
	h := newHarness(t, acceptOnly("opaque-access"), func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"opaque-access","refresh_token":"r","token_type":"Bearer"}`))
	})
	h.cfg.Network.DefaultTokenLifetime = 45 * time.Minute
	svc, err := New(h.cfg, h.tok, WithBaseTransport(http.DefaultTransport), WithTokenHTTPClient(h.idSrv.Client()))
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, svc.LoginWithPassword(ctx, "ann@example.com", "pw"))

	assert.True(t, h.tok.IsValid(ctx))
	assert.InDelta(t, time.Now().Add(45*time.Minute).Unix(), h.tok.Expiry(ctx), 5)

	require.NoError(t, svc.Do(ctx, http.MethodGet, "user/details", nil, nil))
	assert.Equal(t, int32(1), h.tokenHits.Load(), "no proactive refresh")
}

func TestAuthenticator_Lifetime(t *testing.T) {
	now := time.Date(2024, 7, 1, 12, 0, 0, 0, time.UTC)
	a := &authenticator{now: func() time.Time { return now }, defaultLifetime: time.Hour}

	assert.Equal(t, 10*time.Minute, a.lifetime(&oauth.TokenResponse{AccessToken: "x", ExpiresIn: 600}))
	assert.Equal(t, time.Hour, a.lifetime(&oauth.TokenResponse{AccessToken: "opaque"}))
}

func TestService_LoginWithLegacyToken(t *testing.T) {
	var got oauth.TokenRequest
	h := newHarness(t, acceptOnly("new-access"), capture(&got))

	require.NoError(t, h.svc.LoginWithLegacyToken(context.Background(), "legacy-abc"))
	assert.Equal(t, "legacy-abc", got.LegacyToken)
	assert.Equal(t, "new-refresh", h.tok.RefreshToken(context.Background()))
}

func TestService_AuthorizationCodeFlow(t *testing.T) {
	var got oauth.TokenRequest
	h := newHarness(t, acceptOnly("new-access"), capture(&got))

	raw, verifier := h.svc.AuthorizationURL("state-1")
	u, err := url.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "/oauth/authorize", u.Path)
	assert.Equal(t, "state-1", u.Query().Get("state"))

	require.NoError(t, h.svc.ExchangeAuthorizationCode(context.Background(), "code-1", verifier))
	assert.Equal(t, oauth.GrantAuthorizationCode, got.GrantType)
	assert.Equal(t, "code-1", got.Code)
	assert.Equal(t, verifier, got.CodeVerifier)
	assert.Equal(t, "app://redirect", got.RedirectURI)
}

func TestService_LoginAfterInvalidation(t *testing.T) {
	h := newHarness(t, acceptOnly("new-access"), func(w http.ResponseWriter, r *http.Request) {
		var req oauth.TokenRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.GrantType == oauth.GrantRefreshToken {
			oauthError(http.StatusBadRequest, oauth.ErrorInvalidGrant)(w, r)
			return
		}
		issue("new-access", "new-refresh")(w, r)
	})
	h.seed("old-access", "old-refresh", 900*time.Second)
	ctx := context.Background()

	status, _, err := h.get("user/details")
	require.NoError(t, err)
	require.Equal(t, http.StatusUnauthorized, status)
	require.Equal(t, StateInvalidated, h.svc.RefreshState())

	require.NoError(t, h.svc.LoginWithPassword(ctx, "jacob@frollo.us", "hunter2"))
	assert.Equal(t, StateIdle, h.svc.RefreshState())

	status, _, err = h.get("user/details")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, status)
}

func TestService_Logout(t *testing.T) {
	h := newHarness(t, acceptOnly("x"), noTokenCalls(t))
	h.seed("access-1", "refresh-1", time.Hour)
	ctx := context.Background()

	require.NoError(t, h.svc.Logout(ctx))

	assert.Equal(t, int32(1), h.revokeHits.Load())
	assert.Empty(t, h.tok.AccessToken(ctx))
	assert.Empty(t, h.tok.RefreshToken(ctx))
	assert.Equal(t, credentials.ExpiryUnset, h.tok.Expiry(ctx))
	assert.False(t, h.svc.Status(ctx).Authenticated)
	assert.Empty(t, h.events, "logout does not publish invalidation")
}

func TestService_LogoutWithoutRevokeEndpoint(t *testing.T) {
	h := newHarness(t, acceptOnly("x"), noTokenCalls(t))
	h.cfg.OAuth.RevokeURL = ""
	svc, err := New(h.cfg, h.tok, WithTokenHTTPClient(h.idSrv.Client()))
	require.NoError(t, err)
	h.seed("access-1", "refresh-1", time.Hour)

	require.NoError(t, svc.Logout(context.Background()))
	assert.Zero(t, h.revokeHits.Load())
	assert.Empty(t, h.tok.AccessToken(context.Background()))
}

func TestService_ResetCancelsRequestsInFlight(t *testing.T) {
	entered := make(chan struct{}, 1)
	var block atomic.Bool
	block.Store(true)
	h := newHarness(t, func(w http.ResponseWriter, r *http.Request) {
		if block.Load() {
			entered <- struct{}{}
			select {
			case <-r.Context().Done():
			case <-time.After(5 * time.Second):
			}
		}
		w.WriteHeader(http.StatusOK)
	}, noTokenCalls(t))
	h.seed("access-1", "refresh-1", time.Hour)
	ctx := context.Background()

	errCh := make(chan error, 1)
	go func() { errCh <- h.svc.Do(ctx, http.MethodGet, "user/details", nil, nil) }()

	<-entered
	require.NoError(t, h.svc.Reset(ctx))

	select {
	case err := <-errCh:
		require.ErrorIs(t, err, ErrSessionReset)
	case <-time.After(3 * time.Second):
		t.Fatal("request was not cancelled")
	}

	// the next session works normally
	h.seed("access-2", "refresh-2", time.Hour)
	block.Store(false)
	require.NoError(t, h.svc.Do(ctx, http.MethodGet, "user/details", nil, nil))
}

func TestService_RefreshResultDiscardedAfterReset(t *testing.T) {
	entered := make(chan struct{}, 1)
	release := make(chan struct{})
	h := newHarness(t, acceptOnly("new-access"), func(w http.ResponseWriter, r *http.Request) {
		entered <- struct{}{}
		select {
		case <-release:
		case <-time.After(5 * time.Second):
		}
		issue("new-access", "new-refresh")(w, r)
	})
	h.seed("old-access", "old-refresh", time.Minute)
	ctx := context.Background()

	errCh := make(chan error, 1)
	go func() { errCh <- h.svc.Do(ctx, http.MethodGet, "user/details", nil, nil) }()

	<-entered
	require.NoError(t, h.svc.Reset(ctx))
	require.ErrorIs(t, <-errCh, ErrSessionReset)
	close(release)

	discarded := h.metrics.Refreshes.WithLabelValues(metrics.TriggerProactive, metrics.RefreshDiscarded)
	require.Eventually(t, func() bool { return testutil.ToFloat64(discarded) == 1 }, 3*time.Second, 10*time.Millisecond)

	assert.Empty(t, h.tok.AccessToken(ctx), "a refresh that started before reset must not resurrect the session")
	assert.Empty(t, h.tok.RefreshToken(ctx))
	assert.Zero(t, h.apiHits.Load())
}

func TestService_TokenSource(t *testing.T) {
	h := newHarness(t, acceptOnly("x"), issue("new-access", "new-refresh"))

	_, err := h.svc.Token()
	require.ErrorIs(t, err, ErrNotAuthenticated)

	h.seed("access-1", "refresh-1", time.Hour)
	tok, err := h.svc.Token()
	require.NoError(t, err)
	assert.Equal(t, "access-1", tok.AccessToken)
	assert.Equal(t, "Bearer", tok.TokenType)
	assert.True(t, tok.Valid())
	assert.WithinDuration(t, time.Now().Add(time.Hour), tok.Expiry, 5*time.Second)

	h.seed("access-1", "refresh-1", time.Minute)
	tok, err = h.svc.Token()
	require.NoError(t, err)
	assert.Equal(t, "new-access", tok.AccessToken, "refreshes inside the expiry margin")
}

func TestService_URL(t *testing.T) {
	h := newHarness(t, acceptOnly("x"), noTokenCalls(t))

	got, err := h.svc.URL("/user/details?x=1")
	require.NoError(t, err)
	assert.Equal(t, h.apiSrv.URL+"/api/v2/user/details?x=1", got)

	for _, path := range []string{
		"http://evil.example/steal",
		"/https://evil.example/steal",
		"///evil.example/steal",
		"mailto:someone@example.com",
	} {
		_, err := h.svc.URL(path)
		assert.ErrorIs(t, err, ErrForeignURL, path)
	}
}

func TestNew_RejectsRelativeServerURL(t *testing.T) {
	h := newHarness(t, acceptOnly("x"), noTokenCalls(t))
	h.cfg.API.ServerURL = "/api/v2"

	_, err := New(h.cfg, h.tok)
	require.Error(t, err)
}
