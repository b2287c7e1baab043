// Package provider wraps the OAuth2/OIDC protocol client consumed by the
// authentication middleware: authorization-code-URL generation, code
// exchange, silent acquisition from a token cache, and on-behalf-of
// delegation. The middleware depends only on the Client interface; the
// concrete implementation lives in oidc.go.
package provider

import (
	"context"
	"time"

	"github.com/jrsteele09/go-webapp-auth/sessions"
)

// AuthCodeURLRequest carries the parameters for building an authorization
// URL at the identity provider.
type AuthCodeURLRequest struct {
	Authority   string
	Scopes      []string
	State       string
	RedirectURI string
	Prompt      string
}

// CodeExchangeRequest carries the parameters for exchanging an
// authorization code for tokens.
type CodeExchangeRequest struct {
	Authority   string
	Scopes      []string
	RedirectURI string
	Code        string
}

// SilentRequest asks the provider's token cache for a token without user
// interaction.
type SilentRequest struct {
	Account *sessions.Account
	Scopes  []string
}

// OnBehalfOfRequest exchanges an inbound bearer assertion for a token
// scoped to a downstream API.
type OnBehalfOfRequest struct {
	Assertion string
	Scopes    []string
}

// TokenResult is the outcome of any successful acquisition.
type TokenResult struct {
	AccessToken  string
	RefreshToken string
	RawIDToken   string
	ExpiresAt    time.Time
	Account      *sessions.Account
}

// Client is the narrow interface through which the middleware invokes the
// protocol client. AcquireSilent returns an error wrapping
// apperrors.ErrInteractionRequired when the cache cannot satisfy the
// request; that is expected control flow, not a failure.
type Client interface {
	AuthCodeURL(ctx context.Context, req AuthCodeURLRequest) (string, error)
	ExchangeCode(ctx context.Context, req CodeExchangeRequest) (*TokenResult, error)
	AcquireSilent(ctx context.Context, req SilentRequest) (*TokenResult, error)
	AcquireOnBehalfOf(ctx context.Context, req OnBehalfOfRequest) (*TokenResult, error)
}
