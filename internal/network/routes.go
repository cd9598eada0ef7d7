package network

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/dvcrn/frollo-sdk-go/internal/config"
)

// routeKind decides which credential a request carries.
type routeKind int

const (
	routeAccessToken  routeKind = iota // Bearer access token, refreshed first if needed
	routeNoAuth                        // login, bootstrap and OAuth endpoints
	routeOTP                           // register and password reset
	routeRefreshToken                  // legacy refresh endpoint, Bearer refresh token
	routeForeign                       // another host, never gets our credentials
)

func (k routeKind) String() string {
	switch k {
	case routeNoAuth:
		return "no_auth"
	case routeOTP:
		return "otp"
	case routeRefreshToken:
		return "refresh_token"
	case routeForeign:
		return "foreign"
	default:
		return "access_token"
	}
}

type router struct {
	host      string
	basePath  string
	login     map[string]struct{}
	otp       map[string]struct{}
	refresh   map[string]struct{}
	endpoints map[string]struct{}
}

func newRouter(server *url.URL, api config.APIConfig, oauthCfg config.OAuthConfig) *router {
	r := &router{
		host:      strings.ToLower(server.Host),
		basePath:  strings.TrimSuffix(server.Path, "/"),
		login:     pathSet(api.LoginPaths),
		otp:       pathSet(api.OTPPaths),
		refresh:   pathSet(api.RefreshPaths),
		endpoints: make(map[string]struct{}),
	}
	for _, raw := range []string{oauthCfg.TokenURL, oauthCfg.RevokeURL, oauthCfg.AuthorizationURL} {
		if raw == "" {
			continue
		}
		if u, err := url.Parse(raw); err == nil {
			r.endpoints[endpointKey(u)] = struct{}{}
		}
	}
	return r
}

func pathSet(paths []string) map[string]struct{} {
	set := make(map[string]struct{}, len(paths))
	for _, p := range paths {
		set[strings.Trim(p, "/")] = struct{}{}
	}
	return set
}

func endpointKey(u *url.URL) string {
	return strings.ToLower(u.Host) + "/" + strings.Trim(u.Path, "/")
}

func (r *router) classify(req *http.Request) routeKind {
	if _, ok := r.endpoints[endpointKey(req.URL)]; ok {
		return routeNoAuth
	}
	if !strings.EqualFold(req.URL.Host, r.host) {
		return routeForeign
	}

	p := strings.TrimPrefix(req.URL.Path, r.basePath)
	p = strings.Trim(p, "/")

	if _, ok := r.login[p]; ok {
		return routeNoAuth
	}
	if _, ok := r.otp[p]; ok {
		return routeOTP
	}
	if _, ok := r.refresh[p]; ok {
		return routeRefreshToken
	}
	return routeAccessToken
}
