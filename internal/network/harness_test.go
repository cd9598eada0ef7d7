package network

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dvcrn/frollo-sdk-go/internal/cipher"
	"github.com/dvcrn/frollo-sdk-go/internal/config"
	"github.com/dvcrn/frollo-sdk-go/internal/credentials"
	"github.com/dvcrn/frollo-sdk-go/internal/metrics"
	"github.com/dvcrn/frollo-sdk-go/internal/notify"
	"github.com/dvcrn/frollo-sdk-go/internal/oauth"
	"github.com/dvcrn/frollo-sdk-go/internal/token"
)

const invalidAccessTokenBody = `{"error":{"error_code":"F0110","error_message":"Invalid access token"}}`

// harness runs a resource server and an authorization server and wires a
// Service against both.
type harness struct {
	t       *testing.T
	svc     *Service
	tok     *token.AuthToken
	metrics *metrics.Metrics
	events  chan notify.Event
	cfg     *config.Config

	apiSrv *httptest.Server
	idSrv  *httptest.Server

	apiHits    atomic.Int32
	tokenHits  atomic.Int32
	revokeHits atomic.Int32

	mu     sync.Mutex
	sleeps []time.Duration
}

func newHarness(t *testing.T, api, tokenEndpoint http.HandlerFunc) *harness {
	t.Helper()
	h := &harness{t: t, events: make(chan notify.Event, 16), metrics: metrics.New(nil)}

	h.apiSrv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.apiHits.Add(1)
		api(w, r)
	}))
	t.Cleanup(h.apiSrv.Close)

	h.idSrv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/oauth/token":
			h.tokenHits.Add(1)
			tokenEndpoint(w, r)
		case "/oauth/revoke":
			h.revokeHits.Add(1)
			w.WriteHeader(http.StatusOK)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(h.idSrv.Close)

	h.cfg = &config.Config{
		OAuth: config.OAuthConfig{
			ClientID:         "client-1",
			Domain:           "api.frollo.us",
			TokenURL:         h.idSrv.URL + "/oauth/token",
			RevokeURL:        h.idSrv.URL + "/oauth/revoke",
			AuthorizationURL: h.idSrv.URL + "/oauth/authorize",
			RedirectURL:      "app://redirect",
			Scopes:           []string{"offline_access", "openid"},
			GrantType:        config.GrantPassword,
		},
		API: config.APIConfig{
			ServerURL:      h.apiSrv.URL + "/api/v2",
			LoginPaths:     []string{"user/login", "user/migrate"},
			OTPPaths:       []string{"user/register", "user/reset"},
			RefreshPaths:   []string{"device/refresh"},
			MaxAuthRetries: 1,
		},
		App: config.AppConfig{
			APIVersion:      "2.18",
			BundleID:        "us.frollo.test",
			DeviceVersion:   "linux",
			SoftwareVersion: "SDK3.0.0-B1",
			UserAgent:       "frollo-sdk-go/test",
		},
		Network: config.NetworkConfig{
			Timeout:           10 * time.Second,
			RateLimitDelay:    3 * time.Second,
			RateLimitMaxCount: 10,
		},
	}

	c, err := cipher.NewSoftwareCipher([]byte("test-secret"))
	require.NoError(t, err)
	h.tok = token.New(credentials.NewMemoryStore(), c)

	h.svc, err = New(h.cfg, h.tok,
		WithBaseTransport(http.DefaultTransport),
		WithTokenHTTPClient(h.idSrv.Client()),
		WithMetrics(h.metrics),
		WithSleep(h.recordSleep),
	)
	require.NoError(t, err)
	h.svc.Subscribe(notify.Chan(h.events))
	return h
}

func (h *harness) recordSleep(_ context.Context, d time.Duration) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sleeps = append(h.sleeps, d)
	return nil
}

func (h *harness) recordedSleeps() []time.Duration {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]time.Duration(nil), h.sleeps...)
}

func (h *harness) seed(access, refresh string, expiresIn time.Duration) {
	h.t.Helper()
	_, err := h.tok.SaveTokens(context.Background(), access, refresh, expiresIn)
	require.NoError(h.t, err)
}

// get sends a GET through the authenticated client and returns status and body.
func (h *harness) get(path string) (int, string, error) {
	target, err := h.svc.URL(path)
	require.NoError(h.t, err)
	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, target, nil)
	require.NoError(h.t, err)

	resp, err := h.svc.Client().Do(req)
	if err != nil {
		return 0, "", err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(h.t, err)
	return resp.StatusCode, string(body), nil
}

func (h *harness) nextEvent() notify.Event {
	h.t.Helper()
	select {
	case e := <-h.events:
		return e
	default:
		h.t.Fatal("expected an event")
		return notify.Event{}
	}
}

// acceptOnly answers 200 for Bearer valid and 401 with F0110 otherwise.
func acceptOnly(valid string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get(HeaderAuthorization) != "Bearer "+valid {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(invalidAccessTokenBody))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true}`))
	}
}

// issue answers every token request with the given pair.
func issue(access, refresh string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(oauth.TokenResponse{
			AccessToken:  access,
			RefreshToken: refresh,
			TokenType:    "Bearer",
			ExpiresIn:    1800,
		})
	}
}

func oauthError(status int, kind oauth.ErrorType) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(oauth.Error{Type: kind, Description: "rejected"})
	}
}

// dropConnection closes the connection without answering.
func dropConnection(w http.ResponseWriter, r *http.Request) {
	hj, ok := w.(http.Hijacker)
	if !ok {
		panic("response writer cannot hijack")
	}
	conn, _, err := hj.Hijack()
	if err != nil {
		panic(err)
	}
	_ = conn.Close()
}

func noTokenCalls(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("unexpected token request to %s", r.URL.Path)
		w.WriteHeader(http.StatusInternalServerError)
	}
}
