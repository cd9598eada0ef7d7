package network

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"github.com/dvcrn/frollo-sdk-go/internal/config"
	serverhttp "github.com/dvcrn/frollo-sdk-go/internal/http"
	"github.com/dvcrn/frollo-sdk-go/internal/logger"
	"github.com/dvcrn/frollo-sdk-go/internal/metrics"
	"github.com/dvcrn/frollo-sdk-go/internal/notify"
	"github.com/dvcrn/frollo-sdk-go/internal/oauth"
	"github.com/dvcrn/frollo-sdk-go/internal/token"
)

const maxResponseBody = 10 << 20

// Service owns the token, the OAuth client and the authenticated HTTP client.
type Service struct {
	cfg      *config.Config
	token    *token.AuthToken
	builder  *oauth.Builder
	oauth    *oauth.Client
	auth     *authenticator
	limiter  *rateLimiter
	notifier *notify.Broadcaster
	metrics  *metrics.Metrics
	server   *url.URL
	client   *http.Client

	sessionMu     sync.Mutex
	sessionCtx    context.Context
	sessionCancel context.CancelCauseFunc
}

type options struct {
	base      http.RoundTripper
	tokenHTTP serverhttp.HTTPClient
	metrics   *metrics.Metrics
	notifier  *notify.Broadcaster
	now       func() time.Time
	sleep     func(context.Context, time.Duration) error
}

// Option customizes a Service.
type Option func(*options)

// WithBaseTransport sets the RoundTripper requests go out on after the
// auth pipeline. Defaults to the platform transport.
func WithBaseTransport(rt http.RoundTripper) Option {
	return func(o *options) { o.base = rt }
}

// WithTokenHTTPClient sets the plain client used for token and revoke calls.
func WithTokenHTTPClient(c serverhttp.HTTPClient) Option {
	return func(o *options) { o.tokenHTTP = c }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

func WithNotifier(b *notify.Broadcaster) Option {
	return func(o *options) { o.notifier = b }
}

func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithSleep replaces the 429 backoff sleep.
func WithSleep(sleep func(context.Context, time.Duration) error) Option {
	return func(o *options) { o.sleep = sleep }
}

func New(cfg *config.Config, tok *token.AuthToken, opts ...Option) (*Service, error) {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	if o.base == nil {
		o.base = serverhttp.NewTransport()
	}
	if o.tokenHTTP == nil {
		o.tokenHTTP = serverhttp.NewHTTPClient(cfg.Network.Timeout)
	}
	if o.notifier == nil {
		o.notifier = notify.NewBroadcaster()
	}

	server, err := url.Parse(cfg.API.ServerURL)
	if err != nil || server.Scheme == "" || server.Host == "" {
		return nil, fmt.Errorf("invalid server url %q", cfg.API.ServerURL)
	}
	if !strings.HasSuffix(server.Path, "/") {
		server.Path += "/"
	}

	s := &Service{
		cfg:      cfg,
		token:    tok,
		builder:  oauth.NewBuilder(cfg.OAuth),
		oauth:    oauth.NewClient(o.tokenHTTP, cfg.OAuth.TokenURL, cfg.OAuth.RevokeURL, cfg.App.UserAgent),
		notifier: o.notifier,
		metrics:  o.metrics,
		server:   server,
		limiter:  newRateLimiter(cfg.Network.RateLimitDelay, cfg.Network.RateLimitMaxCount),
	}
	if o.sleep != nil {
		s.limiter.sleep = o.sleep
	}
	s.auth = &authenticator{
		token:    tok,
		exchange: s.oauth,
		builder:  s.builder,
		notifier: s.notifier,
		metrics:  s.metrics,
		now:      o.now,

		defaultLifetime: cfg.Network.DefaultTokenLifetime,
	}
	s.sessionCtx, s.sessionCancel = context.WithCancelCause(context.Background())

	s.client = &http.Client{
		Timeout: cfg.Network.Timeout,
		Transport: &Transport{
			base:           o.base,
			auth:           s.auth,
			routes:         newRouter(server, cfg.API, cfg.OAuth),
			app:            cfg.App,
			limiter:        s.limiter,
			metrics:        s.metrics,
			maxAuthRetries: cfg.API.MaxAuthRetries,
			bind:           s.bind,
		},
	}
	return s, nil
}

// Client is the authenticated HTTP client. Requests may use absolute URLs or
// URLs resolved against the configured server; only requests to the server's
// host carry credentials.
func (s *Service) Client() *http.Client { return s.client }

// Config returns the configuration the service was built with.
func (s *Service) Config() *config.Config { return s.cfg }

// Notifier exposes the event broadcaster.
func (s *Service) Notifier() *notify.Broadcaster { return s.notifier }

// Subscribe registers an observer for session events.
func (s *Service) Subscribe(o notify.Observer) func() { return s.notifier.Subscribe(o) }

// URL resolves path against the server URL.
func (s *Service) URL(path string) (string, error) {
	ref, err := url.Parse(strings.TrimPrefix(path, "/"))
	if err != nil {
		return "", fmt.Errorf("invalid path %q: %w", path, err)
	}
	if ref.Scheme != "" || ref.Host != "" || ref.User != nil {
		return "", fmt.Errorf("%w: %q", ErrForeignURL, path)
	}
	return s.server.ResolveReference(ref).String(), nil
}

// Do sends a JSON request through the pipeline and decodes a JSON reply into out.
func (s *Service) Do(ctx context.Context, method, path string, in, out any) error {
	target, err := s.URL(path)
	if err != nil {
		return err
	}

	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return unwrapClientError(err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return &NetworkError{Op: method + " " + path, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return ParseAPIError(resp.StatusCode, data)
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// unwrapClientError strips the *url.Error http.Client adds so callers can
// type-assert pipeline errors directly.
func unwrapClientError(err error) error {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}
	var netErr *NetworkError
	if errors.As(err, &netErr) {
		return netErr
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		if errors.Is(urlErr.Err, context.Canceled) || errors.Is(urlErr.Err, context.DeadlineExceeded) || errors.Is(urlErr.Err, ErrSessionReset) {
			return urlErr.Err
		}
		return &NetworkError{Op: urlErr.Op + " " + urlErr.URL, Err: urlErr.Err}
	}
	return err
}

// LoginWithPassword exchanges user credentials for tokens.
func (s *Service) LoginWithPassword(ctx context.Context, username, password string) error {
	return s.login(ctx, s.builder.Password(username, password))
}

// LoginWithLegacyToken migrates a legacy session token to OAuth tokens.
func (s *Service) LoginWithLegacyToken(ctx context.Context, legacyToken string) error {
	return s.login(ctx, s.builder.LegacyToken(legacyToken))
}

// AuthorizationURL returns the URL to send the user to and the PKCE verifier
// to keep for ExchangeAuthorizationCode.
func (s *Service) AuthorizationURL(state string) (string, string) {
	return s.builder.AuthorizationURL(state)
}

// ExchangeAuthorizationCode completes the authorization code flow.
func (s *Service) ExchangeAuthorizationCode(ctx context.Context, code, verifier string) error {
	return s.login(ctx, s.builder.AuthorizationCode(code, verifier))
}

func (s *Service) login(ctx context.Context, req *oauth.TokenRequest) error {
	resp, err := s.oauth.Exchange(ctx, req)
	if err != nil {
		var oauthErr *oauth.Error
		if errors.As(err, &oauthErr) || errors.Is(err, oauth.ErrInvalidRequest) {
			return err
		}
		return &NetworkError{Op: "token exchange", Err: err}
	}

	if _, err := s.token.SaveTokens(ctx, resp.AccessToken, resp.RefreshToken, s.auth.lifetime(resp)); err != nil {
		return fmt.Errorf("failed to save tokens: %w", err)
	}
	s.auth.setState(StateIdle)
	logger.Get().Info().Str("grant_type", string(req.GrantType)).Msg("Logged in")
	return nil
}

// Logout revokes the refresh token where supported, clears credentials and
// cancels requests in flight. Revocation failures are logged only.
func (s *Service) Logout(ctx context.Context) error {
	if rt := s.token.RefreshToken(ctx); rt != "" && s.oauth.RevokeURL() != "" {
		if err := s.oauth.Revoke(ctx, s.builder.Revoke(rt)); err != nil {
			logger.Get().Warn().Err(err).Msg("Failed to revoke refresh token")
		}
	}
	return s.Reset(ctx)
}

// Reset clears credentials and cancels requests in flight without contacting
// the server.
func (s *Service) Reset(ctx context.Context) error {
	s.cancelSession()
	s.auth.forget()
	s.limiter.reset()

	err := s.token.ClearTokens(ctx)
	s.auth.setState(StateIdle)
	if err != nil {
		return fmt.Errorf("failed to clear tokens: %w", err)
	}
	logger.Get().Info().Msg("Session reset")
	return nil
}

func (s *Service) cancelSession() {
	s.sessionMu.Lock()
	defer s.sessionMu.Unlock()
	s.sessionCancel(ErrSessionReset)
	s.sessionCtx, s.sessionCancel = context.WithCancelCause(context.Background())
}

func (s *Service) session() context.Context {
	s.sessionMu.Lock()
	defer s.sessionMu.Unlock()
	return s.sessionCtx
}

func (s *Service) bind(parent context.Context) (context.Context, func()) {
	ctx, cancel := context.WithCancelCause(parent)
	stop := context.AfterFunc(s.session(), func() { cancel(ErrSessionReset) })
	return ctx, func() {
		stop()
		cancel(nil)
	}
}

// Token implements oauth2.TokenSource, refreshing ahead of expiry.
func (s *Service) Token() (*oauth2.Token, error) {
	ctx := s.session()
	access, err := s.auth.ensureFresh(ctx)
	if err != nil {
		return nil, err
	}
	if access == "" {
		return nil, ErrNotAuthenticated
	}

	t := &oauth2.Token{AccessToken: access, TokenType: "Bearer"}
	if exp := s.token.Expiry(ctx); exp > 0 {
		t.Expiry = time.Unix(exp, 0)
	}
	return t, nil
}

// Status summarizes the stored session.
type Status struct {
	Authenticated bool      `json:"authenticated"`
	Valid         bool      `json:"valid"`
	Expiry        time.Time `json:"expiry,omitzero"`
	State         string    `json:"state"`
}

func (s *Service) Status(ctx context.Context) Status {
	st := Status{
		Authenticated: s.token.RefreshToken(ctx) != "" || s.token.AccessToken(ctx) != "",
		Valid:         s.token.IsValid(ctx),
		State:         s.auth.State().String(),
	}
	if exp := s.token.Expiry(ctx); exp > 0 {
		st.Expiry = time.Unix(exp, 0).UTC()
	}
	return st
}

// RefreshState reports the coordinator state.
func (s *Service) RefreshState() RefreshState { return s.auth.State() }
