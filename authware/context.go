package authware

import (
	"context"

	"github.com/jrsteele09/go-webapp-auth/sessions"
)

// ContextKey is a custom type for context keys to avoid collisions
type ContextKey string

const (
	// ContextKeySession stores the caller's session
	ContextKeySession ContextKey = "session"
	// ContextKeyBearerToken stores the verified inbound bearer token
	ContextKeyBearerToken ContextKey = "bearer_token"
	// ContextKeyBearerClaims stores the verified bearer token claims
	ContextKeyBearerClaims ContextKey = "bearer_claims"
	// ContextKeyDelegatedToken stores an on-behalf-of access token,
	// request-scoped by design: delegated tokens never touch the session
	ContextKeyDelegatedToken ContextKey = "delegated_token"
)

// ContextWithSession attaches the session to a request context. The outer
// session-cookie middleware calls this; every authware handler reads it
// back instead of reaching into a store.
func ContextWithSession(ctx context.Context, session *sessions.Session) context.Context {
	return context.WithValue(ctx, ContextKeySession, session)
}

// SessionFromContext returns the request's session, or nil when the
// session middleware did not run or found nothing.
func SessionFromContext(ctx context.Context) *sessions.Session {
	session, _ := ctx.Value(ContextKeySession).(*sessions.Session)
	return session
}

// ContextWithDelegatedToken attaches an on-behalf-of token for downstream
// handlers.
func ContextWithDelegatedToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, ContextKeyDelegatedToken, token)
}

// DelegatedTokenFromContext returns the on-behalf-of token acquired for
// this request, if any.
func DelegatedTokenFromContext(ctx context.Context) string {
	token, _ := ctx.Value(ContextKeyDelegatedToken).(string)
	return token
}

// BearerTokenFromContext returns the verified inbound bearer token placed
// by RequireAuthorized.
func BearerTokenFromContext(ctx context.Context) string {
	token, _ := ctx.Value(ContextKeyBearerToken).(string)
	return token
}

// BearerClaimsFromContext returns the verified bearer token claims placed
// by RequireAuthorized.
func BearerClaimsFromContext(ctx context.Context) map[string]any {
	claims, _ := ctx.Value(ContextKeyBearerClaims).(map[string]any)
	return claims
}
