package oauth

import (
	"strings"

	"golang.org/x/oauth2"

	"github.com/dvcrn/frollo-sdk-go/internal/config"
)

// Builder constructs token and revoke requests from the SDK configuration.
type Builder struct {
	cfg config.OAuthConfig
}

func NewBuilder(cfg config.OAuthConfig) *Builder {
	return &Builder{cfg: cfg}
}

func (b *Builder) base(grant GrantType) *TokenRequest {
	return &TokenRequest{
		GrantType: grant,
		ClientID:  b.cfg.ClientID,
		Domain:    b.cfg.Domain,
		Audience:  b.cfg.Audience,
	}
}

func (b *Builder) scope() string { return strings.Join(b.cfg.Scopes, " ") }

// Password builds a resource-owner password grant.
func (b *Builder) Password(username, password string) *TokenRequest {
	r := b.base(GrantPassword)
	r.Username = username
	r.Password = password
	r.Scope = b.scope()
	return r
}

// LegacyToken builds a password grant that migrates a pre-OAuth session token.
func (b *Builder) LegacyToken(legacyToken string) *TokenRequest {
	r := b.base(GrantPassword)
	r.LegacyToken = legacyToken
	r.Scope = b.scope()
	return r
}

// Refresh builds a refresh_token grant.
func (b *Builder) Refresh(refreshToken string) *TokenRequest {
	r := b.base(GrantRefreshToken)
	r.RefreshToken = refreshToken
	return r
}

// AuthorizationCode builds an authorization_code grant for a PKCE flow.
func (b *Builder) AuthorizationCode(code, verifier string) *TokenRequest {
	r := b.base(GrantAuthorizationCode)
	r.Code = code
	r.CodeVerifier = verifier
	r.RedirectURI = b.cfg.RedirectURL
	return r
}

// Revoke builds a revoke request for token.
func (b *Builder) Revoke(token string) *RevokeRequest {
	return &RevokeRequest{ClientID: b.cfg.ClientID, Token: token}
}

// AuthorizationURL returns the URL to open in a browser for the
// authorization_code grant, together with the PKCE verifier that must be
// passed to AuthorizationCode once the redirect delivers the code.
func (b *Builder) AuthorizationURL(state string) (string, string) {
	conf := &oauth2.Config{
		ClientID:    b.cfg.ClientID,
		RedirectURL: b.cfg.RedirectURL,
		Scopes:      b.cfg.Scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:  b.cfg.AuthorizationURL,
			TokenURL: b.cfg.TokenURL,
		},
	}

	verifier := oauth2.GenerateVerifier()
	opts := []oauth2.AuthCodeOption{oauth2.S256ChallengeOption(verifier)}
	if b.cfg.Domain != "" {
		opts = append(opts, oauth2.SetAuthURLParam("domain", b.cfg.Domain))
	}
	if b.cfg.Audience != "" {
		opts = append(opts, oauth2.SetAuthURLParam("audience", b.cfg.Audience))
	}
	return conf.AuthCodeURL(state, opts...), verifier
}
