package network

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/dvcrn/frollo-sdk-go/internal/config"
	"github.com/dvcrn/frollo-sdk-go/internal/logger"
	"github.com/dvcrn/frollo-sdk-go/internal/metrics"
)

const maxBufferedBody = 1 << 20

// Transport is the auth pipeline. It injects headers and credentials,
// refreshes ahead of expiry, backs off on 429 and replays once after a 401.
type Transport struct {
	base           http.RoundTripper
	auth           *authenticator
	routes         *router
	app            config.AppConfig
	limiter        *rateLimiter
	metrics        *metrics.Metrics
	maxAuthRetries int

	// bind merges the session context into a request context. The returned
	// func releases the merge once the response is done with.
	bind func(context.Context) (context.Context, func())
}

func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx, release := t.bind(req.Context())
	req = req.Clone(ctx)

	kind := t.routes.classify(req)
	applyStandardHeaders(req.Header, t.app)

	log := logger.Get().With().
		Str("method", req.Method).
		Str("path", req.URL.Path).
		Str("route", kind.String()).
		Logger()

	var sent string
	switch kind {
	case routeOTP:
		req.Header.Del(HeaderAuthorization)
		if otp := otpFrom(ctx); otp != "" {
			req.Header.Set(HeaderOTP, otp)
		}
	case routeRefreshToken:
		if rt := t.auth.token.RefreshToken(ctx); rt != "" {
			setBearer(req.Header, rt)
		}
	case routeForeign:
		log.Debug().Str("host", req.URL.Host).Msg("Request leaves the API server, sending without credentials")
	case routeAccessToken:
		access, err := t.auth.ensureFresh(ctx)
		if err != nil {
			release()
			if ctx.Err() != nil {
				return nil, err
			}
			log.Warn().Err(err).Msg("No usable access token")
			return nil, unauthorizedError()
		}
		setBearer(req.Header, access)
		sent = access
	}

	resp, err := t.send(req)
	if err != nil {
		release()
		return nil, err
	}

	if resp.StatusCode == http.StatusUnauthorized && kind == routeAccessToken {
		resp, err = t.handleUnauthorized(req, resp, sent)
		if err != nil {
			release()
			return nil, err
		}
	}

	resp.Body = &releasingBody{ReadCloser: resp.Body, release: release}
	return resp, nil
}

// send performs one round trip, sleeping and retrying once on 429.
func (t *Transport) send(req *http.Request) (*http.Response, error) {
	resp, err := t.roundTrip(req)
	if err != nil {
		return nil, err
	}

	delay := t.limiter.observe(resp.StatusCode)
	if resp.StatusCode != http.StatusTooManyRequests {
		return resp, nil
	}
	t.metrics.RateLimit()

	retry, err := rewind(req)
	if err != nil {
		return resp, nil
	}

	logger.Get().Warn().
		Str("path", req.URL.Path).
		Dur("delay", delay).
		Msg("Rate limited, backing off")

	drain(resp)
	if err := t.limiter.sleep(req.Context(), delay); err != nil {
		return nil, err
	}

	resp, err = t.roundTrip(retry)
	if err != nil {
		return nil, err
	}
	t.limiter.observe(resp.StatusCode)
	return resp, nil
}

func (t *Transport) roundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.base.RoundTrip(req)
	if err != nil {
		if ctxErr := req.Context().Err(); ctxErr != nil {
			return nil, context.Cause(req.Context())
		}
		return nil, &NetworkError{Op: req.Method + " " + req.URL.Path, Err: err}
	}
	return resp, nil
}

// handleUnauthorized renews the access token and replays req, at most
// maxAuthRetries times. When renewal is impossible the 401 is returned as is.
func (t *Transport) handleUnauthorized(req *http.Request, resp *http.Response, sent string) (*http.Response, error) {
	ctx := req.Context()

	for attempt := 0; attempt < t.maxAuthRetries; attempt++ {
		body := buffer(resp)
		apiErr := ParseAPIError(resp.StatusCode, body)

		if apiErr.Code.endsSession() {
			logger.Get().Warn().Str("code", string(apiErr.Code)).Msg("Session ended by server")
			t.auth.invalidate(ctx, t.auth.token.Version(), string(apiErr.Code))
			return resp, nil
		}

		retry, err := rewind(req)
		if err != nil {
			return resp, nil
		}

		access, err := t.auth.renewAfterUnauthorized(ctx, sent)
		if err != nil {
			if ctx.Err() != nil {
				return nil, context.Cause(ctx)
			}
			logger.Get().Warn().Err(err).Msg("Could not renew access token after 401")
			return resp, nil
		}

		setBearer(retry.Header, access)
		t.metrics.AuthRetry()

		next, err := t.send(retry)
		if err != nil {
			return nil, err
		}
		_ = resp.Body.Close()

		resp, sent = next, access
		if resp.StatusCode != http.StatusUnauthorized {
			return resp, nil
		}
	}

	// the final 401 can still carry a session-ending code
	if apiErr := ParseAPIError(resp.StatusCode, buffer(resp)); apiErr.Code.endsSession() {
		t.auth.invalidate(ctx, t.auth.token.Version(), string(apiErr.Code))
	}
	return resp, nil
}

// rewind returns a fresh copy of req with a replayed body.
func rewind(req *http.Request) (*http.Request, error) {
	r := req.Clone(req.Context())
	if req.Body == nil || req.Body == http.NoBody {
		return r, nil
	}
	if req.GetBody == nil {
		return nil, errNotReplayable
	}
	body, err := req.GetBody()
	if err != nil {
		return nil, err
	}
	r.Body = body
	return r, nil
}

// buffer reads resp.Body into memory and swaps in a re-readable copy.
func buffer(resp *http.Response) []byte {
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBufferedBody))
	_ = resp.Body.Close()
	if err != nil && !errors.Is(err, io.EOF) {
		logger.Get().Debug().Err(err).Msg("Failed to buffer response body")
	}
	resp.Body = io.NopCloser(bytes.NewReader(data))
	return data
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBufferedBody))
	_ = resp.Body.Close()
}

type releasingBody struct {
	io.ReadCloser
	release func()
}

func (b *releasingBody) Close() error {
	err := b.ReadCloser.Close()
	b.release()
	return err
}
