package authware

import (
	"net/http"
	"net/url"

	"github.com/google/uuid"
	"github.com/jrsteele09/go-webapp-auth/authstate"
	apperrors "github.com/jrsteele09/go-webapp-auth/internal/errors"
	"github.com/jrsteele09/go-webapp-auth/provider"
	"github.com/jrsteele09/go-webapp-auth/sessions"
)

// SignInOptions configures sign-in initiation.
type SignInOptions struct {
	// SuccessRedirect is the local path the user lands on after the
	// sign-in round trip completes.
	SuccessRedirect string
	// Scopes overrides the configured default sign-in scopes.
	Scopes []string
	// Prompt is forwarded to the provider (e.g. "select_account").
	Prompt string
}

// SignOutOptions configures sign-out.
type SignOutOptions struct {
	// PostLogoutRedirect overrides the configured post-logout path.
	PostLogoutRedirect string
}

// GetTokenOptions names the downstream resource a route needs a token for.
type GetTokenOptions struct {
	Resource string
	Scopes   []string
}

// OnBehalfOfOptions carries the scopes of the delegated exchange.
type OnBehalfOfOptions struct {
	Scopes []string
}

// SignIn initiates the authorization-code round trip. The session's flow
// skeletons are created if absent, a fresh nonce is bound to the session,
// and the user agent is redirected to the provider with a state blob at
// the sign-in stage.
func (m *Middleware) SignIn(opts SignInOptions) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		session := SessionFromContext(r.Context())
		if session == nil {
			m.unauthorized(w, r, condSessionNotFound, apperrors.ErrSessionNotFound)
			return
		}

		session.EnsureFlowState()
		if session.Account == nil {
			session.Account = &sessions.Account{}
		}
		session.Nonce = uuid.NewString()

		scopes := opts.Scopes
		if len(scopes) == 0 {
			scopes = m.cfg.DefaultScopes
		}

		encoded, err := authstate.Encode(authstate.State{
			Stage: authstate.StageSignIn,
			Path:  safeRedirectPath(opts.SuccessRedirect),
			Nonce: session.Nonce,
		})
		if err != nil {
			m.fail(w, r, err)
			return
		}

		m.redirectToAuthCodeURL(w, r, session, scopes, encoded, opts.Prompt)
	}
}

// SignOut marks the session unauthenticated, destroys it, and only then
// redirects through the provider's logout endpoint. The destroy must
// complete before the redirect is written so no cached response can still
// reflect an authenticated session.
func (m *Middleware) SignOut(opts SignOutOptions) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		session := SessionFromContext(r.Context())
		if session == nil {
			m.unauthorized(w, r, condSessionNotFound, apperrors.ErrSessionNotFound)
			return
		}

		postLogoutPath := opts.PostLogoutRedirect
		if postLogoutPath == "" {
			postLogoutPath = m.cfg.PostLogoutRedirectPath
		}
		postLogout := absoluteURL(r, safeRedirectPath(postLogoutPath))

		logoutURL := postLogout
		if m.cfg.EndSessionEndpoint != "" {
			logoutURL = m.cfg.EndSessionEndpoint + "?post_logout_redirect_uri=" + url.QueryEscape(postLogout)
		}

		session.IsAuthenticated = false
		if err := m.repo.Delete(r.Context(), session.ID); err != nil {
			m.fail(w, r, apperrors.Wrapf(err, "[Middleware.SignOut] destroy session"))
			return
		}

		http.Redirect(w, r, logoutURL, http.StatusFound)
	}
}

// HandleRedirect is the single callback endpoint for both legs of the
// redirect state machine. The decoded state's nonce must match the
// session's nonce exactly; any mismatch is a hard deny.
func (m *Middleware) HandleRedirect() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		session := SessionFromContext(r.Context())
		if session == nil {
			m.unauthorized(w, r, condSessionNotFound, apperrors.ErrSessionNotFound)
			return
		}

		rawState := r.FormValue("state")
		if rawState == "" {
			m.unauthorized(w, r, condStateNotFound, apperrors.ErrStateNotFound)
			return
		}

		state, err := authstate.Decode(rawState)
		if err != nil {
			m.unauthorized(w, r, condMalformedState, err)
			return
		}

		if session.Nonce == "" || state.Nonce != session.Nonce {
			m.unauthorized(w, r, condNonceMismatch, apperrors.ErrNonceMismatch)
			return
		}

		switch state.Stage {
		case authstate.StageSignIn:
			m.completeSignIn(w, r, session, state)
		case authstate.StageAcquireToken:
			m.completeAcquireToken(w, r, session, state)
		default:
			m.unauthorized(w, r, condUnknownStage, apperrors.ErrCannotDetermineStage)
		}
	}
}

// completeSignIn finishes the sign-in leg: code exchange, identity token
// validation, then the session becomes authenticated.
func (m *Middleware) completeSignIn(w http.ResponseWriter, r *http.Request, session *sessions.Session, state authstate.State) {
	ctx := r.Context()

	code := r.FormValue("code")
	if code == "" {
		m.unauthorized(w, r, condAuthCodeNotFound, apperrors.ErrAuthCodeNotFound)
		return
	}

	session.EnsureFlowState()
	session.TokenRequest.Code = code

	result, err := m.provider.ExchangeCode(ctx, provider.CodeExchangeRequest{
		Authority:   session.TokenRequest.Authority,
		Scopes:      session.TokenRequest.Scopes,
		RedirectURI: session.TokenRequest.RedirectURI,
		Code:        session.TokenRequest.Code,
	})
	if err != nil {
		m.fail(w, r, err)
		return
	}

	claims, err := m.idValidator.Validate(ctx, result.RawIDToken)
	if err != nil {
		if apperrors.Is(err, apperrors.ErrInvalidIDToken) {
			m.unauthorized(w, r, condValidationFailed, err)
			return
		}
		// The validation call itself failed; that is not a verdict.
		m.fail(w, r, err)
		return
	}

	account := result.Account
	if account == nil {
		account = &sessions.Account{}
	}
	account.IDTokenClaims = claims

	session.Account = account
	session.IsAuthenticated = true
	session.Nonce = "" // the state blob is consumed exactly once

	if err := m.repo.Upsert(ctx, session); err != nil {
		m.fail(w, r, apperrors.Wrapf(err, "[Middleware.completeSignIn] persist session"))
		return
	}

	http.Redirect(w, r, safeRedirectPath(state.Path), http.StatusFound)
}

// completeAcquireToken finishes the interactive acquisition leg: the code
// is exchanged and the token lands on the remote resource whose scopes the
// pending token request carries, then the original route is resumed.
func (m *Middleware) completeAcquireToken(w http.ResponseWriter, r *http.Request, session *sessions.Session, state authstate.State) {
	ctx := r.Context()

	code := r.FormValue("code")
	if code == "" {
		m.unauthorized(w, r, condAuthCodeNotFound, apperrors.ErrAuthCodeNotFound)
		return
	}

	session.EnsureFlowState()
	session.TokenRequest.Code = code

	resource := session.ResourceByScopes(session.TokenRequest.Scopes)
	if resource == nil {
		m.fail(w, r, apperrors.Wrapf(apperrors.ErrResourceNotFound, "[Middleware.completeAcquireToken] no resource for pending scopes"))
		return
	}

	result, err := m.provider.ExchangeCode(ctx, provider.CodeExchangeRequest{
		Authority:   session.TokenRequest.Authority,
		Scopes:      session.TokenRequest.Scopes,
		RedirectURI: session.TokenRequest.RedirectURI,
		Code:        session.TokenRequest.Code,
	})
	if err != nil {
		m.fail(w, r, err)
		return
	}

	resource.AccessToken = result.AccessToken
	session.Nonce = ""

	if err := m.repo.Upsert(ctx, session); err != nil {
		m.fail(w, r, apperrors.Wrapf(err, "[Middleware.completeAcquireToken] persist session"))
		return
	}

	http.Redirect(w, r, safeRedirectPath(state.Path), http.StatusFound)
}

// GetToken guards a route that calls a downstream resource. Silent
// acquisition is attempted first; when interaction is required the user is
// detoured through the authorization-code flow with a state blob pointing
// back at the original request URL, so the flow resumes exactly where it
// left off.
func (m *Middleware) GetToken(opts GetTokenOptions) func(http.HandlerFunc) http.HandlerFunc {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			session := SessionFromContext(ctx)
			if session == nil {
				m.unauthorized(w, r, condSessionNotFound, apperrors.ErrSessionNotFound)
				return
			}

			resource := session.Resource(opts.Resource, opts.Scopes)
			resource.AccessToken = ""

			result, err := m.provider.AcquireSilent(ctx, provider.SilentRequest{
				Account: session.Account,
				Scopes:  resource.Scopes,
			})
			if err == nil && result.AccessToken == "" {
				// Known provider quirk: a nominally successful silent call
				// can return an empty token. Treat it as interaction
				// required, never as success.
				err = apperrors.ErrInteractionRequired
			}

			if err != nil {
				if apperrors.Is(err, apperrors.ErrInteractionRequired) {
					m.interactiveDetour(w, r, session, resource)
					return
				}
				m.fail(w, r, err)
				return
			}

			resource.AccessToken = result.AccessToken
			if err := m.repo.Upsert(ctx, session); err != nil {
				m.fail(w, r, apperrors.Wrapf(err, "[Middleware.GetToken] persist session"))
				return
			}

			next(w, r)
		}
	}
}

// interactiveDetour redirects through the authorization-code flow at the
// acquire-token stage, resuming at the original request URL afterwards.
func (m *Middleware) interactiveDetour(w http.ResponseWriter, r *http.Request, session *sessions.Session, resource *sessions.RemoteResource) {
	session.Nonce = uuid.NewString()

	encoded, err := authstate.Encode(authstate.State{
		Stage: authstate.StageAcquireToken,
		Path:  r.URL.RequestURI(),
		Nonce: session.Nonce,
	})
	if err != nil {
		m.fail(w, r, err)
		return
	}

	m.redirectToAuthCodeURL(w, r, session, resource.Scopes, encoded, "")
}

// GetTokenOnBehalfOf exchanges the inbound bearer token for a token scoped
// to a downstream API and exposes it to the next handler through the
// request context. Nothing is written to the session.
func (m *Middleware) GetTokenOnBehalfOf(opts OnBehalfOfOptions) func(http.HandlerFunc) http.HandlerFunc {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			assertion := BearerTokenFromContext(ctx)
			if assertion == "" {
				assertion = bearerFromRequest(r)
			}
			if assertion == "" {
				m.unauthorized(w, r, condAuthHeaderMissing, apperrors.ErrInvalidAccessToken)
				return
			}

			result, err := m.provider.AcquireOnBehalfOf(ctx, provider.OnBehalfOfRequest{
				Assertion: assertion,
				Scopes:    opts.Scopes,
			})
			if err != nil {
				m.fail(w, r, err)
				return
			}

			next(w, r.WithContext(ContextWithDelegatedToken(ctx, result.AccessToken)))
		}
	}
}

// redirectToAuthCodeURL is the shared primitive behind every interactive
// detour: the request parameters are written into both the pending
// auth-code request and the pending token request, the session is
// persisted, and the user agent is sent to the provider.
func (m *Middleware) redirectToAuthCodeURL(w http.ResponseWriter, r *http.Request, session *sessions.Session, scopes []string, state, prompt string) {
	ctx := r.Context()

	session.EnsureFlowState()
	session.AuthCodeRequest.Authority = m.cfg.Authority
	session.AuthCodeRequest.Scopes = scopes
	session.AuthCodeRequest.State = state
	session.AuthCodeRequest.RedirectURI = m.cfg.RedirectURI
	session.AuthCodeRequest.Prompt = prompt
	session.AuthCodeRequest.Account = session.Account

	session.TokenRequest = &sessions.TokenRequest{
		Authority:   m.cfg.Authority,
		Scopes:      scopes,
		RedirectURI: m.cfg.RedirectURI,
	}

	if err := m.repo.Upsert(ctx, session); err != nil {
		m.fail(w, r, apperrors.Wrapf(err, "[Middleware.redirectToAuthCodeURL] persist session"))
		return
	}

	authURL, err := m.provider.AuthCodeURL(ctx, provider.AuthCodeURLRequest{
		Authority:   session.AuthCodeRequest.Authority,
		Scopes:      session.AuthCodeRequest.Scopes,
		State:       session.AuthCodeRequest.State,
		RedirectURI: session.AuthCodeRequest.RedirectURI,
		Prompt:      session.AuthCodeRequest.Prompt,
	})
	if err != nil {
		m.fail(w, r, apperrors.Wrapf(apperrors.ErrAuthCodeNotObtained, "[Middleware.redirectToAuthCodeURL] %v", err))
		return
	}

	http.Redirect(w, r, authURL, http.StatusFound)
}
