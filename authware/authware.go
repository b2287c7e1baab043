// Package authware is the authentication and authorization middleware for
// a confidential web application fronting an OAuth2/OIDC identity
// provider. It owns the redirect state machine (sign-in versus interactive
// token acquisition, correlated by a session-bound nonce and an opaque
// state blob), silent-with-interactive-fallback token acquisition,
// on-behalf-of delegation, and declarative route access control including
// claims-overage resolution against a directory service.
package authware

import (
	"net/http"
	"net/url"

	"github.com/jrsteele09/go-webapp-auth/directory"
	"github.com/jrsteele09/go-webapp-auth/provider"
	"github.com/jrsteele09/go-webapp-auth/sessions"
	"github.com/jrsteele09/go-webapp-auth/validator"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// Denial condition codes. Every denial produces the same class of response
// (a redirect to the configured unauthorized target) but is logged with a
// distinct condition for operability.
const (
	condSessionNotFound    = "SESSION_NOT_FOUND"
	condNotAuthenticated   = "USER_NOT_AUTHENTICATED"
	condStateNotFound      = "STATE_NOT_FOUND"
	condMalformedState     = "MALFORMED_STATE"
	condNonceMismatch      = "NONCE_MISMATCH"
	condUnknownStage       = "CANNOT_DETERMINE_APP_STAGE"
	condAuthCodeNotFound   = "AUTH_CODE_NOT_FOUND"
	condValidationFailed   = "VALIDATION_FAILED"
	condAuthHeaderMissing  = "AUTH_HEADER_MISSING"
	condInvalidAccessToken = "INVALID_ACCESS_TOKEN"
	condMethodNotAllowed   = "METHOD_NOT_ALLOWED"
	condUserHasNoRole      = "USER_HAS_NO_ROLE"
	condUserHasNoGroup     = "USER_HAS_NO_GROUP"
	condUserNotInRole      = "USER_NOT_IN_ROLE"
	condUserNotInGroup     = "USER_NOT_IN_GROUP"
)

// Config carries the redirect targets and provider coordinates the
// middleware needs at request time.
type Config struct {
	Authority              string
	RedirectURI            string // absolute redirect URI registered with the provider
	UnauthorizedPath       string
	ErrorPath              string
	EndSessionEndpoint     string
	PostLogoutRedirectPath string
	DirectoryReadScope     string   // scope used for overage resolution, e.g. "Directory.Read"
	DefaultScopes          []string // scopes requested on sign-in
}

// Middleware composes the session store, the protocol client, the token
// validators and the directory client into the request-handling behaviours
// of the authentication layer. All state lives on the session passed in
// through the request context; the middleware holds none of its own.
type Middleware struct {
	cfg             Config
	repo            sessions.Repo
	provider        provider.Client
	idValidator     validator.IDTokenValidator
	bearerValidator validator.BearerValidator
	directory       directory.Client
}

// MiddlewareOption defines a function type to modify the Middleware instance.
type MiddlewareOption func(*Middleware)

// WithBearerValidator enables RequireAuthorized and on-behalf-of routes.
func WithBearerValidator(v validator.BearerValidator) MiddlewareOption {
	return func(m *Middleware) {
		m.bearerValidator = v
	}
}

// WithDirectory enables claims-overage resolution.
func WithDirectory(d directory.Client) MiddlewareOption {
	return func(m *Middleware) {
		m.directory = d
	}
}

// New initializes the middleware with its required dependencies.
func New(cfg Config, repo sessions.Repo, providerClient provider.Client, idValidator validator.IDTokenValidator, options ...MiddlewareOption) (*Middleware, error) {
	if repo == nil {
		return nil, errors.New("[authware.New] session repo is required")
	}
	if providerClient == nil {
		return nil, errors.New("[authware.New] provider client is required")
	}
	if idValidator == nil {
		return nil, errors.New("[authware.New] id token validator is required")
	}
	if cfg.RedirectURI == "" {
		return nil, errors.New("[authware.New] redirect URI is required")
	}
	if cfg.UnauthorizedPath == "" {
		cfg.UnauthorizedPath = "/unauthorized"
	}
	if cfg.ErrorPath == "" {
		cfg.ErrorPath = "/error"
	}
	if len(cfg.DefaultScopes) == 0 {
		cfg.DefaultScopes = []string{"openid", "profile"}
	}

	m := &Middleware{
		cfg:         cfg,
		repo:        repo,
		provider:    providerClient,
		idValidator: idValidator,
	}
	for _, opt := range options {
		opt(m)
	}
	return m, nil
}

// unauthorized logs the denial condition and redirects to the configured
// unauthorized target. Denials are never surfaced as errors to the caller.
func (m *Middleware) unauthorized(w http.ResponseWriter, r *http.Request, condition string, err error) {
	log.Warn().
		Str("condition", condition).
		Str("method", r.Method).
		Str("path", r.URL.Path).
		Err(err).
		Msg("access denied")
	http.Redirect(w, r, m.cfg.UnauthorizedPath, http.StatusFound)
}

// fail routes an unexpected failure to the generic error target.
func (m *Middleware) fail(w http.ResponseWriter, r *http.Request, err error) {
	log.Error().
		Str("method", r.Method).
		Str("path", r.URL.Path).
		Err(err).
		Msg("authentication flow error")
	http.Redirect(w, r, m.cfg.ErrorPath, http.StatusFound)
}

// absoluteURL resolves a path against the scheme and host of the inbound
// request.
func absoluteURL(r *http.Request, path string) string {
	u := url.URL{Scheme: requestScheme(r), Host: r.Host, Path: path}
	return u.String()
}

func requestScheme(r *http.Request) string {
	if r.TLS != nil {
		return "https"
	}
	if scheme := r.Header.Get("X-Forwarded-Proto"); scheme != "" {
		return scheme
	}
	return "http"
}

// safeRedirectPath confines post-flow redirects to local paths.
func safeRedirectPath(path string) string {
	if path == "" || path[0] != '/' {
		return "/"
	}
	return path
}
