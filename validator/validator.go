// Package validator holds the two token checks the middleware consumes:
// identity-token verification after a code exchange, and bearer-token
// verification for API routes. Both are behind narrow interfaces so the
// middleware can be tested without a live provider.
package validator

import (
	"context"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/golang-jwt/jwt/v5"
	apperrors "github.com/jrsteele09/go-webapp-auth/internal/errors"
	"github.com/pkg/errors"
)

// IDTokenValidator verifies a raw identity token's signature, issuer and
// audience, returning its claims when valid. An invalid token yields an
// error wrapping apperrors.ErrInvalidIDToken; transport or key-fetch
// failures yield other errors and must not be treated as "invalid".
type IDTokenValidator interface {
	Validate(ctx context.Context, rawIDToken string) (map[string]any, error)
}

// BearerValidator verifies the signature of an inbound access token and
// that its audience matches the resource the request path belongs to.
type BearerValidator interface {
	VerifySignature(ctx context.Context, accessToken, resourcePath string) (map[string]any, error)
}

// OIDCIDTokenValidator implements IDTokenValidator on go-oidc's verifier.
type OIDCIDTokenValidator struct {
	verifier *oidc.IDTokenVerifier
}

var _ IDTokenValidator = (*OIDCIDTokenValidator)(nil)

// NewOIDCIDTokenValidator discovers the authority and builds a verifier
// bound to the given client ID.
func NewOIDCIDTokenValidator(ctx context.Context, authority, clientID string) (*OIDCIDTokenValidator, error) {
	p, err := oidc.NewProvider(ctx, authority)
	if err != nil {
		return nil, errors.Wrap(err, "[NewOIDCIDTokenValidator] oidc discovery")
	}
	return &OIDCIDTokenValidator{
		verifier: p.Verifier(&oidc.Config{ClientID: clientID}),
	}, nil
}

// Validate verifies the identity token and extracts its claims.
func (v *OIDCIDTokenValidator) Validate(ctx context.Context, rawIDToken string) (map[string]any, error) {
	idToken, err := v.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return nil, apperrors.Wrapf(apperrors.ErrInvalidIDToken, "[OIDCIDTokenValidator.Validate] %v", err)
	}

	var claims map[string]any
	if err := idToken.Claims(&claims); err != nil {
		return nil, errors.Wrap(err, "[OIDCIDTokenValidator.Validate] extract claims")
	}
	return claims, nil
}

// JWTBearerValidator implements BearerValidator with golang-jwt. Keys are
// resolved through the supplied Keyfunc (typically JWKS-backed) and the
// expected audience is looked up per resource path.
type JWTBearerValidator struct {
	keyfunc   jwt.Keyfunc
	audiences map[string]string // resource path -> expected audience
}

var _ BearerValidator = (*JWTBearerValidator)(nil)

// NewJWTBearerValidator builds a bearer validator. audiences maps a
// protected route path to the audience its tokens must carry.
func NewJWTBearerValidator(keyfunc jwt.Keyfunc, audiences map[string]string) (*JWTBearerValidator, error) {
	if keyfunc == nil {
		return nil, errors.New("[NewJWTBearerValidator] keyfunc is required")
	}
	return &JWTBearerValidator{keyfunc: keyfunc, audiences: audiences}, nil
}

// VerifySignature parses and verifies the access token, then checks its
// audience against the resource path's configured audience.
func (v *JWTBearerValidator) VerifySignature(_ context.Context, accessToken, resourcePath string) (map[string]any, error) {
	token, err := jwt.Parse(accessToken, v.keyfunc)
	if err != nil {
		return nil, apperrors.Wrapf(apperrors.ErrInvalidAccessToken, "[JWTBearerValidator.VerifySignature] %v", err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, errors.Wrap(apperrors.ErrInvalidAccessToken, "[JWTBearerValidator.VerifySignature] unexpected claims type")
	}

	expected, ok := v.audiences[resourcePath]
	if !ok {
		return nil, errors.Wrapf(apperrors.ErrConfiguration, "[JWTBearerValidator.VerifySignature] no audience configured for %q", resourcePath)
	}

	aud, err := claims.GetAudience()
	if err != nil {
		return nil, errors.Wrap(apperrors.ErrInvalidAccessToken, "[JWTBearerValidator.VerifySignature] audience claim")
	}
	for _, a := range aud {
		if a == expected {
			return map[string]any(claims), nil
		}
	}
	return nil, errors.Wrapf(apperrors.ErrInvalidAccessToken, "[JWTBearerValidator.VerifySignature] audience mismatch for %q", resourcePath)
}
