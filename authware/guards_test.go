package authware_test

import (
	"net/http/httptest"
	"testing"

	"github.com/jrsteele09/go-webapp-auth/authware"
	"github.com/jrsteele09/go-webapp-auth/directory"
	apperrors "github.com/jrsteele09/go-webapp-auth/internal/errors"
	"github.com/jrsteele09/go-webapp-auth/provider"
	"github.com/jrsteele09/go-webapp-auth/sessions"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

func authenticatedSession(h *testHarness, t *testing.T, id string, claims map[string]any) *sessions.Session {
	t.Helper()
	session := h.newSession(t, id)
	session.IsAuthenticated = true
	session.Account = &sessions.Account{
		HomeAccountID: "oid.tid",
		IDTokenClaims: claims,
	}
	return session
}

func TestRequireAuthenticated(t *testing.T) {
	h := newHarness(t)
	guard := h.mw.RequireAuthenticated()

	t.Run("missing session", func(t *testing.T) {
		next, called, _ := nextRecorder()
		rec := httptest.NewRecorder()
		guard(next)(rec, sessionRequest("GET", "/profile", nil))
		require.False(t, *called)
		requireRedirect(t, rec, "/unauthorized")
	})

	t.Run("session present but unauthenticated", func(t *testing.T) {
		session := h.newSession(t, "ra1")
		next, called, _ := nextRecorder()
		rec := httptest.NewRecorder()
		guard(next)(rec, sessionRequest("GET", "/profile", session))
		require.False(t, *called)
		requireRedirect(t, rec, "/unauthorized")
	})

	t.Run("authenticated session passes", func(t *testing.T) {
		session := h.newSession(t, "ra2")
		session.IsAuthenticated = true
		next, called, _ := nextRecorder()
		rec := httptest.NewRecorder()
		guard(next)(rec, sessionRequest("GET", "/profile", session))
		require.True(t, *called)
	})
}

func TestRequireAuthorized(t *testing.T) {
	t.Run("missing header", func(t *testing.T) {
		h := newHarness(t)
		next, called, _ := nextRecorder()
		rec := httptest.NewRecorder()
		h.mw.RequireAuthorized()(next)(rec, sessionRequest("GET", "/api/reports", nil))
		require.False(t, *called)
		requireRedirect(t, rec, "/unauthorized")
	})

	t.Run("failed verification", func(t *testing.T) {
		h := newHarness(t)
		h.bearer.verifyFn = func(accessToken, resourcePath string) (map[string]any, error) {
			require.Equal(t, "/api/reports", resourcePath)
			return nil, apperrors.Wrapf(apperrors.ErrInvalidAccessToken, "audience mismatch")
		}
		next, called, _ := nextRecorder()
		rec := httptest.NewRecorder()
		r := sessionRequest("GET", "/api/reports", nil)
		r.Header.Set("Authorization", "Bearer some-token")
		h.mw.RequireAuthorized()(next)(rec, r)
		require.False(t, *called)
		requireRedirect(t, rec, "/unauthorized")
	})

	t.Run("verified token flows into context", func(t *testing.T) {
		h := newHarness(t)
		next, called, captured := nextRecorder()
		rec := httptest.NewRecorder()
		r := sessionRequest("GET", "/api/reports", nil)
		r.Header.Set("Authorization", "Bearer some-token")
		h.mw.RequireAuthorized()(next)(rec, r)
		require.True(t, *called)
		require.Equal(t, "some-token", authware.BearerTokenFromContext(captured.Context()))
		require.Equal(t, "subject", authware.BearerClaimsFromContext(captured.Context())["sub"])
	})

	t.Run("malformed scheme is treated as missing", func(t *testing.T) {
		h := newHarness(t)
		next, called, _ := nextRecorder()
		rec := httptest.NewRecorder()
		r := sessionRequest("GET", "/api/reports", nil)
		r.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
		h.mw.RequireAuthorized()(next)(rec, r)
		require.False(t, *called)
		requireRedirect(t, rec, "/unauthorized")
	})
}

func TestRequireAccessRoles(t *testing.T) {
	rule := authware.NewRoleRule([]string{"GET"}, []string{"admin"})

	t.Run("role not held denies", func(t *testing.T) {
		h := newHarness(t)
		session := authenticatedSession(h, t, "rr1", map[string]any{"roles": []any{"user"}})
		next, called, _ := nextRecorder()
		rec := httptest.NewRecorder()
		h.mw.RequireAccess(rule)(next)(rec, sessionRequest("GET", "/admin", session))
		require.False(t, *called)
		requireRedirect(t, rec, "/unauthorized")
	})

	t.Run("any single matching role allows", func(t *testing.T) {
		h := newHarness(t)
		session := authenticatedSession(h, t, "rr2", map[string]any{"roles": []any{"admin", "user"}})
		next, called, _ := nextRecorder()
		rec := httptest.NewRecorder()
		h.mw.RequireAccess(rule)(next)(rec, sessionRequest("GET", "/admin", session))
		require.True(t, *called)
	})

	t.Run("method mismatch denies regardless of credentials", func(t *testing.T) {
		h := newHarness(t)
		postRule := authware.NewRoleRule([]string{"POST"}, []string{"admin"})
		session := authenticatedSession(h, t, "rr3", map[string]any{"roles": []any{"admin"}})
		next, called, _ := nextRecorder()
		rec := httptest.NewRecorder()
		h.mw.RequireAccess(postRule)(next)(rec, sessionRequest("GET", "/admin", session))
		require.False(t, *called)
		requireRedirect(t, rec, "/unauthorized")
	})

	t.Run("absent roles claim denies with no overage path", func(t *testing.T) {
		h := newHarness(t)
		session := authenticatedSession(h, t, "rr4", map[string]any{"sub": "subject"})
		next, called, _ := nextRecorder()
		rec := httptest.NewRecorder()
		h.mw.RequireAccess(rule)(next)(rec, sessionRequest("GET", "/admin", session))
		require.False(t, *called)
		requireRedirect(t, rec, "/unauthorized")
	})
}

func TestRequireAccessGroups(t *testing.T) {
	rule := authware.NewGroupRule([]string{"GET"}, []string{"g4"})

	t.Run("group claim present", func(t *testing.T) {
		h := newHarness(t)
		session := authenticatedSession(h, t, "rg1", map[string]any{"groups": []any{"g4"}})
		next, called, _ := nextRecorder()
		rec := httptest.NewRecorder()
		h.mw.RequireAccess(rule)(next)(rec, sessionRequest("GET", "/members", session))
		require.True(t, *called)
	})

	t.Run("no groups and no overage marker denies", func(t *testing.T) {
		h := newHarness(t)
		session := authenticatedSession(h, t, "rg2", map[string]any{"sub": "subject"})
		next, called, _ := nextRecorder()
		rec := httptest.NewRecorder()
		h.mw.RequireAccess(rule)(next)(rec, sessionRequest("GET", "/members", session))
		require.False(t, *called)
		requireRedirect(t, rec, "/unauthorized")
	})
}

func overageClaims() map[string]any {
	return map[string]any{
		"sub":            "subject",
		"_claim_names":   map[string]any{"groups": "src1"},
		"_claim_sources": map[string]any{"src1": map[string]any{"endpoint": "https://graph.example.com"}},
	}
}

func TestOverageResolution(t *testing.T) {
	rule := authware.NewGroupRule([]string{"GET"}, []string{"g4"})

	t.Run("rule is evaluated against the union of all pages", func(t *testing.T) {
		h := newHarness(t)
		h.provider.silentFn = func(req provider.SilentRequest) (*provider.TokenResult, error) {
			require.Equal(t, []string{"Directory.Read"}, req.Scopes)
			return &provider.TokenResult{AccessToken: "directory-token"}, nil
		}
		h.dir.listFn = func(accessToken string) (*directory.MembershipPage, error) {
			require.Equal(t, "directory-token", accessToken)
			return &directory.MembershipPage{Items: []string{"g1", "g2"}, NextLink: "next-page"}, nil
		}
		h.dir.followFn = func(accessToken, link string) ([]string, error) {
			require.Equal(t, "next-page", link)
			return []string{"g3", "g4"}, nil
		}

		// The granting group lives on the second page, so a decision made
		// from the first page alone would wrongly deny.
		session := authenticatedSession(h, t, "ov1", overageClaims())
		next, called, _ := nextRecorder()
		rec := httptest.NewRecorder()
		h.mw.RequireAccess(rule)(next)(rec, sessionRequest("GET", "/members", session))

		require.True(t, *called)
		require.Equal(t, []string{"g1", "g2", "g3", "g4"}, session.Account.IDTokenClaims["groups"])
		require.NotContains(t, session.Account.IDTokenClaims, "_claim_names")
		require.NotContains(t, session.Account.IDTokenClaims, "_claim_sources")
	})

	t.Run("silent acquisition failure fails closed", func(t *testing.T) {
		h := newHarness(t)
		h.provider.silentFn = func(provider.SilentRequest) (*provider.TokenResult, error) {
			return nil, apperrors.Wrapf(apperrors.ErrInteractionRequired, "no cached token")
		}
		session := authenticatedSession(h, t, "ov2", overageClaims())
		next, called, _ := nextRecorder()
		rec := httptest.NewRecorder()
		h.mw.RequireAccess(rule)(next)(rec, sessionRequest("GET", "/members", session))
		require.False(t, *called)
		requireRedirect(t, rec, "/error")
	})

	t.Run("directory failure fails closed", func(t *testing.T) {
		h := newHarness(t)
		h.dir.listFn = func(string) (*directory.MembershipPage, error) {
			return nil, apperrors.Wrapf(apperrors.ErrDirectoryLookup, "429 throttled")
		}
		session := authenticatedSession(h, t, "ov3", overageClaims())
		next, called, _ := nextRecorder()
		rec := httptest.NewRecorder()
		h.mw.RequireAccess(rule)(next)(rec, sessionRequest("GET", "/members", session))
		require.False(t, *called)
		requireRedirect(t, rec, "/error")
	})

	t.Run("pagination failure fails closed", func(t *testing.T) {
		h := newHarness(t)
		h.dir.listFn = func(string) (*directory.MembershipPage, error) {
			return &directory.MembershipPage{Items: []string{"g1"}, NextLink: "next-page"}, nil
		}
		h.dir.followFn = func(string, string) ([]string, error) {
			return nil, errors.New("connection reset")
		}
		session := authenticatedSession(h, t, "ov4", overageClaims())
		next, called, _ := nextRecorder()
		rec := httptest.NewRecorder()
		h.mw.RequireAccess(rule)(next)(rec, sessionRequest("GET", "/members", session))
		require.False(t, *called)
		requireRedirect(t, rec, "/error")
	})
}
