package authware_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/jrsteele09/go-webapp-auth/authware"
	"github.com/jrsteele09/go-webapp-auth/directory"
	"github.com/jrsteele09/go-webapp-auth/provider"
	"github.com/jrsteele09/go-webapp-auth/sessions"
	"github.com/stretchr/testify/require"
)

type fakeProvider struct {
	authCodeURLFn func(req provider.AuthCodeURLRequest) (string, error)
	exchangeFn    func(req provider.CodeExchangeRequest) (*provider.TokenResult, error)
	silentFn      func(req provider.SilentRequest) (*provider.TokenResult, error)
	oboFn         func(req provider.OnBehalfOfRequest) (*provider.TokenResult, error)

	authCodeURLCalls []provider.AuthCodeURLRequest
	exchangeCalls    []provider.CodeExchangeRequest
	silentCalls      []provider.SilentRequest
	oboCalls         []provider.OnBehalfOfRequest
}

var _ provider.Client = (*fakeProvider)(nil)

func (f *fakeProvider) AuthCodeURL(_ context.Context, req provider.AuthCodeURLRequest) (string, error) {
	f.authCodeURLCalls = append(f.authCodeURLCalls, req)
	if f.authCodeURLFn != nil {
		return f.authCodeURLFn(req)
	}
	return "https://login.example.com/authorize?state=" + url.QueryEscape(req.State), nil
}

func (f *fakeProvider) ExchangeCode(_ context.Context, req provider.CodeExchangeRequest) (*provider.TokenResult, error) {
	f.exchangeCalls = append(f.exchangeCalls, req)
	if f.exchangeFn != nil {
		return f.exchangeFn(req)
	}
	return &provider.TokenResult{
		AccessToken: "exchanged-access-token",
		RawIDToken:  "raw-id-token",
		Account: &sessions.Account{
			HomeAccountID: "oid.tid",
			Username:      "jo@example.com",
		},
	}, nil
}

func (f *fakeProvider) AcquireSilent(_ context.Context, req provider.SilentRequest) (*provider.TokenResult, error) {
	f.silentCalls = append(f.silentCalls, req)
	if f.silentFn != nil {
		return f.silentFn(req)
	}
	return &provider.TokenResult{AccessToken: "silent-access-token"}, nil
}

func (f *fakeProvider) AcquireOnBehalfOf(_ context.Context, req provider.OnBehalfOfRequest) (*provider.TokenResult, error) {
	f.oboCalls = append(f.oboCalls, req)
	if f.oboFn != nil {
		return f.oboFn(req)
	}
	return &provider.TokenResult{AccessToken: "obo-access-token"}, nil
}

type fakeIDValidator struct {
	validateFn func(rawIDToken string) (map[string]any, error)
	calls      int
}

func (f *fakeIDValidator) Validate(_ context.Context, rawIDToken string) (map[string]any, error) {
	f.calls++
	if f.validateFn != nil {
		return f.validateFn(rawIDToken)
	}
	return map[string]any{"sub": "subject"}, nil
}

type fakeBearerValidator struct {
	verifyFn func(accessToken, resourcePath string) (map[string]any, error)
}

func (f *fakeBearerValidator) VerifySignature(_ context.Context, accessToken, resourcePath string) (map[string]any, error) {
	if f.verifyFn != nil {
		return f.verifyFn(accessToken, resourcePath)
	}
	return map[string]any{"sub": "subject"}, nil
}

type fakeDirectory struct {
	listFn   func(accessToken string) (*directory.MembershipPage, error)
	followFn func(accessToken, link string) ([]string, error)
}

var _ directory.Client = (*fakeDirectory)(nil)

func (f *fakeDirectory) ListMemberships(_ context.Context, accessToken string) (*directory.MembershipPage, error) {
	if f.listFn != nil {
		return f.listFn(accessToken)
	}
	return &directory.MembershipPage{}, nil
}

func (f *fakeDirectory) FollowPagination(_ context.Context, accessToken, link string) ([]string, error) {
	if f.followFn != nil {
		return f.followFn(accessToken, link)
	}
	return nil, nil
}

type testHarness struct {
	mw       *authware.Middleware
	repo     *sessions.InMemoryRepo
	provider *fakeProvider
	idv      *fakeIDValidator
	bearer   *fakeBearerValidator
	dir      *fakeDirectory
}

func testConfig() authware.Config {
	return authware.Config{
		Authority:              "https://login.example.com/tenant",
		RedirectURI:            "https://app.example.com/auth/redirect",
		UnauthorizedPath:       "/unauthorized",
		ErrorPath:              "/error",
		EndSessionEndpoint:     "https://login.example.com/tenant/logout",
		PostLogoutRedirectPath: "/",
		DirectoryReadScope:     "Directory.Read",
		DefaultScopes:          []string{"openid", "profile"},
	}
}

func newHarness(t *testing.T) *testHarness {
	t.Helper()

	h := &testHarness{
		repo:     sessions.NewInMemoryRepo(),
		provider: &fakeProvider{},
		idv:      &fakeIDValidator{},
		bearer:   &fakeBearerValidator{},
		dir:      &fakeDirectory{},
	}

	mw, err := authware.New(testConfig(), h.repo, h.provider, h.idv,
		authware.WithBearerValidator(h.bearer),
		authware.WithDirectory(h.dir),
	)
	require.NoError(t, err)
	h.mw = mw
	return h
}

// newSession stores a session in the repo and returns it.
func (h *testHarness) newSession(t *testing.T, id string) *sessions.Session {
	t.Helper()
	s := sessions.New(id)
	require.NoError(t, h.repo.Upsert(context.Background(), s))
	return s
}

// request builds a request with the session attached, the way the outer
// session-cookie middleware would.
func sessionRequest(method, target string, session *sessions.Session) *http.Request {
	r := httptest.NewRequest(method, target, nil)
	if session != nil {
		r = r.WithContext(authware.ContextWithSession(r.Context(), session))
	}
	return r
}

func requireRedirect(t *testing.T, rec *httptest.ResponseRecorder, location string) {
	t.Helper()
	require.Equal(t, http.StatusFound, rec.Code)
	require.Equal(t, location, rec.Header().Get("Location"))
}

// nextRecorder returns a terminal handler and a pointer to whether it ran.
func nextRecorder() (http.HandlerFunc, *bool, *http.Request) {
	called := false
	captured := &http.Request{}
	return func(w http.ResponseWriter, r *http.Request) {
		called = true
		*captured = *r
		w.WriteHeader(http.StatusOK)
	}, &called, captured
}
