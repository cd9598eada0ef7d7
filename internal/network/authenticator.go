package network

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/dvcrn/frollo-sdk-go/internal/logger"
	"github.com/dvcrn/frollo-sdk-go/internal/metrics"
	"github.com/dvcrn/frollo-sdk-go/internal/notify"
	"github.com/dvcrn/frollo-sdk-go/internal/oauth"
	"github.com/dvcrn/frollo-sdk-go/internal/token"
)

// RefreshState is the coordinator's position in its lifecycle.
type RefreshState int32

const (
	StateIdle RefreshState = iota
	StateRefreshInFlight
	StateInvalidated
)

func (s RefreshState) String() string {
	switch s {
	case StateRefreshInFlight:
		return "refresh_in_flight"
	case StateInvalidated:
		return "invalidated"
	default:
		return "idle"
	}
}

// tokenExchanger is the part of *oauth.Client the coordinator needs.
type tokenExchanger interface {
	Exchange(ctx context.Context, req *oauth.TokenRequest) (*oauth.TokenResponse, error)
}

const refreshKey = "refresh"

// authenticator serializes refreshes so that any number of concurrent
// callers share one token-endpoint round trip.
type authenticator struct {
	token    *token.AuthToken
	exchange tokenExchanger
	builder  *oauth.Builder
	notifier notify.Notifier
	metrics  *metrics.Metrics
	now      func() time.Time

	// defaultLifetime is assumed for tokens that come back without an expiry.
	defaultLifetime time.Duration

	group singleflight.Group
	state atomic.Int32
}

func (a *authenticator) State() RefreshState { return RefreshState(a.state.Load()) }

func (a *authenticator) setState(s RefreshState) { a.state.Store(int32(s)) }

// ensureFresh returns an access token usable for the next request, refreshing
// first when the stored one is inside the expiry margin. On a transient
// refresh failure it falls back to the stored token and lets the server decide.
func (a *authenticator) ensureFresh(ctx context.Context) (string, error) {
	if a.token.IsValid(ctx) {
		return a.token.AccessToken(ctx), nil
	}

	access, err := a.refresh(ctx, metrics.TriggerProactive, a.token.IsValid)
	if err == nil {
		return access, nil
	}
	if ctx.Err() != nil {
		return "", context.Cause(ctx)
	}
	if errors.Is(err, ErrTokenInvalidated) || errors.Is(err, ErrNotAuthenticated) {
		return "", err
	}

	if current := a.token.AccessToken(ctx); current != "" {
		logger.Get().Warn().Err(err).Msg("Proactive refresh failed, sending request with the stored access token")
		return current, nil
	}
	return "", err
}

// renewAfterUnauthorized returns a token other than rejected, refreshing only
// if nobody else already replaced it.
func (a *authenticator) renewAfterUnauthorized(ctx context.Context, rejected string) (string, error) {
	replaced := func(ctx context.Context) bool {
		current := a.token.AccessToken(ctx)
		return current != "" && current != rejected
	}
	if replaced(ctx) {
		return a.token.AccessToken(ctx), nil
	}

	// A flight started by a proactive caller may have been satisfied by the
	// very token that was just rejected; in that case go round once more.
	for range 2 {
		access, err := a.refresh(ctx, metrics.TriggerReactive, replaced)
		if err != nil {
			return "", err
		}
		if access != rejected {
			return access, nil
		}
	}
	return "", fmt.Errorf("%w: server rejected the refreshed access token", ErrUnauthorized)
}

// refresh joins or starts the single refresh flight. satisfied is evaluated
// inside the flight so late joiners skip the network when the token was
// already replaced.
func (a *authenticator) refresh(ctx context.Context, trigger string, satisfied func(context.Context) bool) (string, error) {
	ch := a.group.DoChan(refreshKey, func() (any, error) {
		// The flight is shared; one caller going away must not fail the others.
		fctx := context.WithoutCancel(ctx)
		if satisfied(fctx) {
			a.metrics.Refresh(trigger, metrics.RefreshSkipped)
			return a.token.AccessToken(fctx), nil
		}
		return a.doRefresh(fctx, trigger)
	})

	select {
	case <-ctx.Done():
		return "", context.Cause(ctx)
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	}
}

func (a *authenticator) doRefresh(ctx context.Context, trigger string) (string, error) {
	log := logger.Get().With().Str("trigger", trigger).Logger()

	version := a.token.Version()
	refreshToken := a.token.RefreshToken(ctx)
	if refreshToken == "" {
		if a.token.AccessToken(ctx) == "" {
			a.metrics.Refresh(trigger, metrics.RefreshSkipped)
			return "", ErrNotAuthenticated
		}
		a.invalidate(ctx, version, "no refresh token stored")
		a.metrics.Refresh(trigger, metrics.RefreshInvalidated)
		return "", fmt.Errorf("%w: no refresh token stored", ErrTokenInvalidated)
	}

	a.setState(StateRefreshInFlight)
	log.Debug().Msg("Refreshing access token")

	resp, err := a.exchange.Exchange(ctx, a.builder.Refresh(refreshToken))
	if err != nil {
		var oauthErr *oauth.Error
		if errors.As(err, &oauthErr) && oauthErr.Terminal() {
			log.Warn().Err(err).Msg("Refresh token rejected, clearing credentials")
			a.invalidate(ctx, version, string(oauthErr.Type))
			a.metrics.Refresh(trigger, metrics.RefreshInvalidated)
			return "", fmt.Errorf("%w: %w", ErrTokenInvalidated, err)
		}

		a.setState(StateIdle)
		a.metrics.Refresh(trigger, metrics.RefreshFailure)
		log.Error().Err(err).Msg("Token refresh failed")
		if oauthErr == nil {
			return "", &NetworkError{Op: "token refresh", Err: err}
		}
		return "", err
	}

	if _, err := a.token.SaveTokensIfVersion(ctx, version, resp.AccessToken, resp.RefreshToken, a.lifetime(resp)); err != nil {
		a.setState(StateIdle)
		if errors.Is(err, token.ErrStaleWrite) {
			log.Info().Msg("Credentials changed during refresh, discarding result")
			a.metrics.Refresh(trigger, metrics.RefreshDiscarded)
			return "", err
		}
		a.metrics.Refresh(trigger, metrics.RefreshFailure)
		log.Error().Err(err).Msg("Failed to persist refreshed tokens")
		return "", err
	}

	a.setState(StateIdle)
	a.metrics.Refresh(trigger, metrics.RefreshSuccess)
	log.Info().Msg("Access token refreshed")
	return resp.AccessToken, nil
}

// lifetime is how long resp's access token lasts, falling back to
// defaultLifetime when the server did not say.
func (a *authenticator) lifetime(resp *oauth.TokenResponse) time.Duration {
	if d := resp.Lifetime(a.now()); d != 0 {
		return d
	}
	logger.Get().Warn().Dur("assumed_lifetime", a.defaultLifetime).Msg("Token response has no expiry")
	return a.defaultLifetime
}

// invalidate clears credentials and tells subscribers, unless the
// credentials were replaced since version was observed.
func (a *authenticator) invalidate(ctx context.Context, version uint64, reason string) {
	if a.token.Version() != version {
		return
	}
	if err := a.token.ClearTokens(ctx); err != nil {
		logger.Get().Error().Err(err).Msg("Failed to clear credentials")
	}
	a.setState(StateInvalidated)
	a.metrics.Invalidated()
	a.notifier.Publish(notify.Event{Kind: notify.KindTokenInvalidated, Reason: reason})
}

// forget detaches any running flight so later callers start a new one.
func (a *authenticator) forget() {
	a.group.Forget(refreshKey)
}
