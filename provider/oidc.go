package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/golang-jwt/jwt/v5"
	apperrors "github.com/jrsteele09/go-webapp-auth/internal/errors"
	"github.com/jrsteele09/go-webapp-auth/sessions"
	"github.com/pkg/errors"
	"golang.org/x/oauth2"
)

const oboGrantType = "urn:ietf:params:oauth:grant-type:jwt-bearer"

// expirySkew is subtracted from a cached token's lifetime so a token
// about to expire is refreshed rather than handed out.
const expirySkew = 30 * time.Second

// Endpoints are the provider URLs the client talks to.
type Endpoints struct {
	AuthURL       string
	TokenURL      string
	EndSessionURL string
}

// OIDCClient implements Client on top of golang.org/x/oauth2, with a
// per-account, scope-keyed token cache backing silent acquisition.
type OIDCClient struct {
	clientID     string
	clientSecret string
	authority    string
	endpoints    Endpoints
	httpClient   *http.Client
	nowTime      func() time.Time

	mu    sync.Mutex
	cache map[string]*cacheEntry
}

type cacheEntry struct {
	result       TokenResult
	refreshToken string
}

var _ Client = (*OIDCClient)(nil)

// OIDCClientOption defines a function type to modify the OIDCClient instance.
type OIDCClientOption func(*OIDCClient)

// WithHTTPClient sets the HTTP client used for direct token-endpoint calls.
func WithHTTPClient(hc *http.Client) OIDCClientOption {
	return func(c *OIDCClient) {
		c.httpClient = hc
	}
}

// WithNowTime sets the now time function (primarily for testing)
func WithNowTime(nowFunc func() time.Time) OIDCClientOption {
	return func(c *OIDCClient) {
		c.nowTime = nowFunc
	}
}

// NewOIDCClient builds a client against explicitly supplied endpoints.
// Most callers should use Discover instead.
func NewOIDCClient(authority, clientID, clientSecret string, endpoints Endpoints, options ...OIDCClientOption) *OIDCClient {
	c := &OIDCClient{
		clientID:     clientID,
		clientSecret: clientSecret,
		authority:    authority,
		endpoints:    endpoints,
		httpClient:   http.DefaultClient,
		nowTime:      time.Now,
		cache:        make(map[string]*cacheEntry),
	}
	for _, opt := range options {
		opt(c)
	}
	return c
}

// Discover builds a client from the authority's OIDC discovery document.
func Discover(ctx context.Context, authority, clientID, clientSecret string, options ...OIDCClientOption) (*OIDCClient, error) {
	p, err := oidc.NewProvider(ctx, authority)
	if err != nil {
		return nil, errors.Wrap(err, "[provider.Discover] oidc discovery")
	}

	var extra struct {
		EndSessionEndpoint string `json:"end_session_endpoint"`
	}
	if err := p.Claims(&extra); err != nil {
		return nil, errors.Wrap(err, "[provider.Discover] discovery claims")
	}

	endpoints := Endpoints{
		AuthURL:       p.Endpoint().AuthURL,
		TokenURL:      p.Endpoint().TokenURL,
		EndSessionURL: extra.EndSessionEndpoint,
	}
	return NewOIDCClient(authority, clientID, clientSecret, endpoints, options...), nil
}

// Endpoints returns the provider endpoints the client was built with.
func (c *OIDCClient) Endpoints() Endpoints {
	return c.endpoints
}

func (c *OIDCClient) oauthConfig(scopes []string, redirectURI string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     c.clientID,
		ClientSecret: c.clientSecret,
		RedirectURL:  redirectURI,
		Scopes:       scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:  c.endpoints.AuthURL,
			TokenURL: c.endpoints.TokenURL,
		},
	}
}

// AuthCodeURL builds the URL the user agent is redirected to in order to
// obtain an authorization code.
func (c *OIDCClient) AuthCodeURL(_ context.Context, req AuthCodeURLRequest) (string, error) {
	if c.endpoints.AuthURL == "" {
		return "", errors.Wrap(apperrors.ErrConfiguration, "[OIDCClient.AuthCodeURL] authorization endpoint not configured")
	}
	if req.State == "" {
		return "", errors.New("[OIDCClient.AuthCodeURL] state is required")
	}

	var opts []oauth2.AuthCodeOption
	if req.Prompt != "" {
		opts = append(opts, oauth2.SetAuthURLParam("prompt", req.Prompt))
	}
	return c.oauthConfig(req.Scopes, req.RedirectURI).AuthCodeURL(req.State, opts...), nil
}

// ExchangeCode swaps an authorization code for tokens and caches the
// outcome for later silent acquisition.
func (c *OIDCClient) ExchangeCode(ctx context.Context, req CodeExchangeRequest) (*TokenResult, error) {
	if req.Code == "" {
		return nil, apperrors.ErrAuthCodeNotFound
	}

	ctx = c.clientContext(ctx)
	tok, err := c.oauthConfig(req.Scopes, req.RedirectURI).Exchange(ctx, req.Code)
	if err != nil {
		return nil, apperrors.Wrapf(apperrors.ErrTokenAcquisition, "[OIDCClient.ExchangeCode] %v", err)
	}

	rawIDToken, _ := tok.Extra("id_token").(string)
	account := c.accountFromIDToken(rawIDToken)

	result := &TokenResult{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		RawIDToken:   rawIDToken,
		ExpiresAt:    tok.Expiry,
		Account:      account,
	}

	if account != nil {
		c.storeCacheEntry(account.HomeAccountID, req.Scopes, result)
	}
	return result, nil
}

// AcquireSilent serves a token from the cache, refreshing it through the
// refresh grant when expired. A cache miss with no refresh token available
// is reported as ErrInteractionRequired.
func (c *OIDCClient) AcquireSilent(ctx context.Context, req SilentRequest) (*TokenResult, error) {
	if req.Account == nil {
		return nil, apperrors.Wrapf(apperrors.ErrInteractionRequired, "[OIDCClient.AcquireSilent] no account")
	}

	c.mu.Lock()
	entry, ok := c.cache[cacheKey(req.Account.HomeAccountID, req.Scopes)]
	c.mu.Unlock()
	if !ok {
		return nil, apperrors.Wrapf(apperrors.ErrInteractionRequired, "[OIDCClient.AcquireSilent] no cached token for account %q", req.Account.HomeAccountID)
	}

	if entry.result.ExpiresAt.After(c.nowTime().Add(expirySkew)) {
		result := entry.result
		result.Account = req.Account
		return &result, nil
	}

	if entry.refreshToken == "" {
		return nil, apperrors.Wrapf(apperrors.ErrInteractionRequired, "[OIDCClient.AcquireSilent] cached token expired and no refresh token held")
	}

	ctx = c.clientContext(ctx)
	tok, err := c.oauthConfig(req.Scopes, "").TokenSource(ctx, &oauth2.Token{RefreshToken: entry.refreshToken}).Token()
	if err != nil {
		return nil, apperrors.Wrapf(apperrors.ErrTokenAcquisition, "[OIDCClient.AcquireSilent] refresh grant: %v", err)
	}

	result := &TokenResult{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresAt:    tok.Expiry,
		Account:      req.Account,
	}
	c.storeCacheEntry(req.Account.HomeAccountID, req.Scopes, result)
	return result, nil
}

// AcquireOnBehalfOf performs the delegated jwt-bearer exchange: the inbound
// bearer token is presented as the assertion and traded for a token scoped
// to a downstream API. The outcome is never cached against a session.
func (c *OIDCClient) AcquireOnBehalfOf(ctx context.Context, req OnBehalfOfRequest) (*TokenResult, error) {
	if req.Assertion == "" {
		return nil, errors.Wrap(apperrors.ErrInvalidAccessToken, "[OIDCClient.AcquireOnBehalfOf] assertion is required")
	}

	form := url.Values{
		"grant_type":          {oboGrantType},
		"client_id":           {c.clientID},
		"client_secret":       {c.clientSecret},
		"assertion":           {req.Assertion},
		"scope":               {strings.Join(req.Scopes, " ")},
		"requested_token_use": {"on_behalf_of"},
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoints.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, errors.Wrap(err, "[OIDCClient.AcquireOnBehalfOf] build request")
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, apperrors.Wrapf(apperrors.ErrTokenAcquisition, "[OIDCClient.AcquireOnBehalfOf] %v", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, apperrors.Wrapf(apperrors.ErrTokenAcquisition, "[OIDCClient.AcquireOnBehalfOf] read response: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, apperrors.Wrapf(apperrors.ErrTokenAcquisition, "[OIDCClient.AcquireOnBehalfOf] token endpoint returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var payload struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int64  `json:"expires_in"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, apperrors.Wrapf(apperrors.ErrTokenAcquisition, "[OIDCClient.AcquireOnBehalfOf] decode response: %v", err)
	}

	return &TokenResult{
		AccessToken: payload.AccessToken,
		ExpiresAt:   c.nowTime().Add(time.Duration(payload.ExpiresIn) * time.Second),
	}, nil
}

// clientContext routes oauth2 library calls through the configured HTTP
// client.
func (c *OIDCClient) clientContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
}

func (c *OIDCClient) storeCacheEntry(homeAccountID string, scopes []string, result *TokenResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache[cacheKey(homeAccountID, scopes)] = &cacheEntry{
		result:       *result,
		refreshToken: result.RefreshToken,
	}
}

func cacheKey(homeAccountID string, scopes []string) string {
	sorted := append([]string(nil), scopes...)
	sort.Strings(sorted)
	return homeAccountID + "|" + strings.Join(sorted, " ")
}

// accountFromIDToken shapes an Account from the identity token's claims.
// The token is decoded without verification here; signature and issuer
// checks are the validator's job, performed before the account is trusted.
func (c *OIDCClient) accountFromIDToken(rawIDToken string) *sessions.Account {
	if rawIDToken == "" {
		return nil
	}

	token, _, err := jwt.NewParser().ParseUnverified(rawIDToken, jwt.MapClaims{})
	if err != nil {
		return nil
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil
	}

	oid, _ := claims["oid"].(string)
	tid, _ := claims["tid"].(string)
	sub, _ := claims["sub"].(string)
	username, _ := claims["preferred_username"].(string)
	if username == "" {
		username, _ = claims["email"].(string)
	}

	homeAccountID := sub
	if oid != "" && tid != "" {
		homeAccountID = fmt.Sprintf("%s.%s", oid, tid)
	}

	environment := c.authority
	if u, err := url.Parse(c.authority); err == nil && u.Host != "" {
		environment = u.Host
	}

	return &sessions.Account{
		HomeAccountID: homeAccountID,
		Environment:   environment,
		TenantID:      tid,
		Username:      username,
		IDTokenClaims: map[string]any(claims),
	}
}
