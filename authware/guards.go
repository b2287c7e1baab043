package authware

import (
	"context"
	"net/http"
	"strings"

	apperrors "github.com/jrsteele09/go-webapp-auth/internal/errors"
	"github.com/jrsteele09/go-webapp-auth/sessions"
	"github.com/pkg/errors"
)

// RequireAuthenticated passes the request through when the session carries
// an authenticated flag. A missing session and an unauthenticated session
// produce the same redirect but are logged as distinct conditions.
func (m *Middleware) RequireAuthenticated() func(http.HandlerFunc) http.HandlerFunc {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			session := SessionFromContext(r.Context())
			if session == nil {
				m.unauthorized(w, r, condSessionNotFound, apperrors.ErrSessionNotFound)
				return
			}
			if !session.IsAuthenticated {
				m.unauthorized(w, r, condNotAuthenticated, nil)
				return
			}
			next(w, r)
		}
	}
}

// RequireAuthorized requires a verified bearer token on the request. The
// token's signature and audience are checked against the request path's
// configured resource.
func (m *Middleware) RequireAuthorized() func(http.HandlerFunc) http.HandlerFunc {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			token := bearerFromRequest(r)
			if token == "" {
				m.unauthorized(w, r, condAuthHeaderMissing, apperrors.ErrInvalidAccessToken)
				return
			}

			if m.bearerValidator == nil {
				m.fail(w, r, errors.Wrap(apperrors.ErrConfiguration, "[Middleware.RequireAuthorized] no bearer validator configured"))
				return
			}

			claims, err := m.bearerValidator.VerifySignature(ctx, token, r.URL.Path)
			if err != nil {
				m.unauthorized(w, r, condInvalidAccessToken, err)
				return
			}

			ctx = context.WithValue(ctx, ContextKeyBearerToken, token)
			ctx = context.WithValue(ctx, ContextKeyBearerClaims, claims)
			next(w, r.WithContext(ctx))
		}
	}
}

// RequireAccess evaluates the route's access rule against the caller's
// role or group claims. When group claims are omitted because of claims
// overage, the complete group set is fetched from the directory before any
// decision is made; every failure on that path denies.
func (m *Middleware) RequireAccess(rule AccessRule) func(http.HandlerFunc) http.HandlerFunc {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			session := SessionFromContext(r.Context())
			if session == nil {
				m.unauthorized(w, r, condSessionNotFound, apperrors.ErrSessionNotFound)
				return
			}
			if session.Account == nil || session.Account.IDTokenClaims == nil {
				m.unauthorized(w, r, condNotAuthenticated, nil)
				return
			}

			credentials, err := m.credentials(r, session, rule)
			if err != nil {
				switch {
				case apperrors.Is(err, apperrors.ErrUserHasNoRole):
					m.unauthorized(w, r, condUserHasNoRole, err)
				case apperrors.Is(err, apperrors.ErrUserHasNoGroup):
					m.unauthorized(w, r, condUserHasNoGroup, err)
				default:
					// Overage resolution failed; fail closed through the
					// error handler, never default to allow.
					m.fail(w, r, err)
				}
				return
			}

			if err := Evaluate(r.Method, rule, credentials); err != nil {
				m.unauthorized(w, r, denialCondition(err), err)
				return
			}

			next(w, r)
		}
	}
}

// credentials extracts the claim values the rule is checked against,
// resolving claims overage for group rules when the token carries the
// overage markers.
func (m *Middleware) credentials(r *http.Request, session *sessions.Session, rule AccessRule) ([]string, error) {
	claims := session.Account.IDTokenClaims

	switch rule.Kind {
	case CredentialGroups:
		if groups := claimStrings(claims, "groups"); len(groups) > 0 {
			return groups, nil
		}
		if hasOverageMarkers(claims) {
			return m.resolveOverage(r.Context(), session)
		}
		return nil, apperrors.ErrUserHasNoGroup
	default:
		if roles := claimStrings(claims, "roles"); len(roles) > 0 {
			return roles, nil
		}
		// No overage path exists for roles.
		return nil, apperrors.ErrUserHasNoRole
	}
}

func denialCondition(err error) string {
	switch {
	case apperrors.Is(err, apperrors.ErrMethodNotAllowed):
		return condMethodNotAllowed
	case apperrors.Is(err, apperrors.ErrUserNotInGroup):
		return condUserNotInGroup
	default:
		return condUserNotInRole
	}
}

// bearerFromRequest extracts a Bearer token from the Authorization header.
func bearerFromRequest(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return ""
	}
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
