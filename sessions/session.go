// Package sessions holds per-browser-session authentication state. A
// Session is the only state shared between the requests of one redirect
// round trip; every middleware in the authentication layer receives it
// explicitly rather than through ambient globals.
package sessions

import (
	"time"
)

// Account is the authenticated identity established by a successful
// authorization-code exchange. It is replaced wholesale when claims-overage
// resolution re-shapes the identity token claims.
type Account struct {
	HomeAccountID string
	Environment   string
	TenantID      string
	Username      string
	IDTokenClaims map[string]any
}

// AuthCodeRequest carries the in-flight authorization-code-URL parameters.
// It is overwritten on each new sign-in or acquire-token detour.
type AuthCodeRequest struct {
	Authority   string
	Scopes      []string
	State       string
	RedirectURI string
	Prompt      string
	Account     *Account
}

// TokenRequest carries the in-flight code-exchange parameters. Code is
// populated only after the provider redirect returns an authorization code.
type TokenRequest struct {
	Authority   string
	Scopes      []string
	RedirectURI string
	Code        string
}

// RemoteResource is a downstream API called on the user's behalf. Its
// AccessToken is empty until a successful acquisition and is reset at the
// start of every new acquisition attempt, so a stale token is never reused
// across an overwrite.
type RemoteResource struct {
	Name        string
	Scopes      []string
	AccessToken string
}

// Session stores the server-side state for one browser session.
type Session struct {
	ID              string
	IsAuthenticated bool
	Nonce           string
	Account         *Account
	AuthCodeRequest *AuthCodeRequest
	TokenRequest    *TokenRequest
	RemoteResources map[string]*RemoteResource
	CreatedAt       time.Time
}

// New creates an empty, unauthenticated session.
func New(id string) *Session {
	return &Session{
		ID:              id,
		RemoteResources: make(map[string]*RemoteResource),
		CreatedAt:       time.Now(),
	}
}

// EnsureFlowState lazily initialises the request skeletons used by the
// redirect flow. Calling it repeatedly before a flow completes is a no-op.
func (s *Session) EnsureFlowState() {
	if s.AuthCodeRequest == nil {
		s.AuthCodeRequest = &AuthCodeRequest{}
	}
	if s.TokenRequest == nil {
		s.TokenRequest = &TokenRequest{}
	}
	if s.RemoteResources == nil {
		s.RemoteResources = make(map[string]*RemoteResource)
	}
}

// Resource returns the named remote resource, creating it with the given
// scopes if the session has not seen it before.
func (s *Session) Resource(name string, scopes []string) *RemoteResource {
	s.EnsureFlowState()
	if res, ok := s.RemoteResources[name]; ok {
		return res
	}
	res := &RemoteResource{Name: name, Scopes: scopes}
	s.RemoteResources[name] = res
	return res
}

// ResourceByScopes resolves which remote resource a set of pending scopes
// belongs to. Used on the acquire-token callback leg, where only the scopes
// of the pending token request identify the resource.
func (s *Session) ResourceByScopes(scopes []string) *RemoteResource {
	want := make(map[string]struct{}, len(scopes))
	for _, sc := range scopes {
		want[sc] = struct{}{}
	}
	for _, res := range s.RemoteResources {
		if len(res.Scopes) != len(want) {
			continue
		}
		matched := true
		for _, sc := range res.Scopes {
			if _, ok := want[sc]; !ok {
				matched = false
				break
			}
		}
		if matched {
			return res
		}
	}
	return nil
}
