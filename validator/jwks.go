package validator

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/http"
	"sync"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/golang-jwt/jwt/v5"
	"github.com/pkg/errors"
)

// JWKSKeyfunc resolves token signing keys from a JWKS endpoint. Keys are
// cached by key ID; an unknown key ID triggers one refetch, which covers
// provider key rollover.
type JWKSKeyfunc struct {
	jwksURL    string
	httpClient *http.Client

	mu   sync.RWMutex
	keys map[string]*rsa.PublicKey
}

// NewJWKSKeyfunc discovers the authority's JWKS endpoint and primes the
// key cache.
func NewJWKSKeyfunc(ctx context.Context, authority string) (*JWKSKeyfunc, error) {
	p, err := oidc.NewProvider(ctx, authority)
	if err != nil {
		return nil, errors.Wrap(err, "[NewJWKSKeyfunc] oidc discovery")
	}

	var claims struct {
		JWKSURI string `json:"jwks_uri"`
	}
	if err := p.Claims(&claims); err != nil {
		return nil, errors.Wrap(err, "[NewJWKSKeyfunc] discovery claims")
	}
	if claims.JWKSURI == "" {
		return nil, errors.New("[NewJWKSKeyfunc] authority publishes no jwks_uri")
	}

	k := &JWKSKeyfunc{
		jwksURL:    claims.JWKSURI,
		httpClient: http.DefaultClient,
		keys:       map[string]*rsa.PublicKey{},
	}
	if err := k.refresh(ctx); err != nil {
		return nil, err
	}
	return k, nil
}

// NewJWKSKeyfuncFromURL builds a keyfunc straight from a JWKS URL, skipping
// discovery.
func NewJWKSKeyfuncFromURL(ctx context.Context, jwksURL string) (*JWKSKeyfunc, error) {
	k := &JWKSKeyfunc{
		jwksURL:    jwksURL,
		httpClient: http.DefaultClient,
		keys:       map[string]*rsa.PublicKey{},
	}
	if err := k.refresh(ctx); err != nil {
		return nil, err
	}
	return k, nil
}

// Keyfunc satisfies jwt.Keyfunc.
func (k *JWKSKeyfunc) Keyfunc(token *jwt.Token) (any, error) {
	kid, _ := token.Header["kid"].(string)
	if kid == "" {
		return nil, errors.New("[JWKSKeyfunc.Keyfunc] token has no kid header")
	}

	if key := k.cached(kid); key != nil {
		return key, nil
	}

	if err := k.refresh(context.Background()); err != nil {
		return nil, err
	}
	if key := k.cached(kid); key != nil {
		return key, nil
	}
	return nil, errors.Errorf("[JWKSKeyfunc.Keyfunc] no signing key %q", kid)
}

func (k *JWKSKeyfunc) cached(kid string) *rsa.PublicKey {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.keys[kid]
}

func (k *JWKSKeyfunc) refresh(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, k.jwksURL, nil)
	if err != nil {
		return errors.Wrap(err, "[JWKSKeyfunc.refresh] build request")
	}

	resp, err := k.httpClient.Do(req)
	if err != nil {
		return errors.Wrap(err, "[JWKSKeyfunc.refresh] fetch jwks")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return errors.Errorf("[JWKSKeyfunc.refresh] jwks endpoint returned %d", resp.StatusCode)
	}

	var doc struct {
		Keys []struct {
			Kty string `json:"kty"`
			Kid string `json:"kid"`
			N   string `json:"n"`
			E   string `json:"e"`
		} `json:"keys"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return errors.Wrap(err, "[JWKSKeyfunc.refresh] decode jwks")
	}

	keys := make(map[string]*rsa.PublicKey, len(doc.Keys))
	for _, jwk := range doc.Keys {
		if jwk.Kty != "RSA" || jwk.Kid == "" {
			continue
		}
		key, err := rsaKeyFromJWK(jwk.N, jwk.E)
		if err != nil {
			return errors.Wrapf(err, "[JWKSKeyfunc.refresh] key %q", jwk.Kid)
		}
		keys[jwk.Kid] = key
	}

	k.mu.Lock()
	k.keys = keys
	k.mu.Unlock()
	return nil
}

func rsaKeyFromJWK(n, e string) (*rsa.PublicKey, error) {
	nBytes, err := base64.RawURLEncoding.DecodeString(n)
	if err != nil {
		return nil, errors.Wrap(err, "modulus")
	}
	eBytes, err := base64.RawURLEncoding.DecodeString(e)
	if err != nil {
		return nil, errors.Wrap(err, "exponent")
	}

	return &rsa.PublicKey{
		N: new(big.Int).SetBytes(nBytes),
		E: int(new(big.Int).SetBytes(eBytes).Int64()),
	}, nil
}
