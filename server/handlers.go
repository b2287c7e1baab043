package server

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/jrsteele09/go-webapp-auth/authware"
	"github.com/jrsteele09/go-webapp-auth/internal/config"
	"github.com/rs/zerolog/log"
)

func (s *Server) HomeHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		session := authware.SessionFromContext(r.Context())

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprintf(w, "<html><body><h1>%s</h1>", s.config.GetAppName())
		if session != nil && session.IsAuthenticated {
			fmt.Fprintf(w, `<p>Signed in as %s</p><p><a href="%s">Profile</a> | <a href="%s">Sign out</a></p>`,
				session.Account.Username, RouteProfile, RouteSignOut)
		} else {
			fmt.Fprintf(w, `<p><a href="%s">Sign in</a></p>`, RouteSignIn)
		}
		fmt.Fprint(w, "</body></html>")
	}
}

func (s *Server) ProfileHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		session := authware.SessionFromContext(r.Context())

		writeJSON(w, http.StatusOK, map[string]any{
			"username": session.Account.Username,
			"tenant":   session.Account.TenantID,
			"claims":   session.Account.IDTokenClaims,
		})
	}
}

// SignOutHandler clears the session cookie before handing over to the
// middleware, which destroys the session and redirects through the
// provider's logout endpoint.
func (s *Server) SignOutHandler() http.HandlerFunc {
	signOut := s.mw.SignOut(authware.SignOutOptions{})
	return func(w http.ResponseWriter, r *http.Request) {
		s.ClearSessionCookie(w)
		signOut(w, r)
	}
}

func (s *Server) UnauthorizedHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprintf(w, `<html><body><h1>Unauthorized</h1><p>You do not have access to that page.</p><p><a href="%s">Home</a></p></body></html>`, RouteHome)
	}
}

func (s *Server) ErrorHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprintf(w, `<html><body><h1>Something went wrong</h1><p><a href="%s">Home</a></p></body></html>`, RouteHome)
	}
}

// ResourceHandler proxies a call to a downstream resource using the access
// token the GetToken middleware placed on the session's remote resource.
func (s *Server) ResourceHandler(name string, resource config.ProtectedResource) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		session := authware.SessionFromContext(r.Context())

		remote := session.RemoteResources[name]
		if remote == nil || remote.AccessToken == "" {
			writeJSON(w, http.StatusBadGateway, map[string]any{"error": "no access token for resource " + name})
			return
		}

		s.proxyResource(w, r, resource.Endpoint, remote.AccessToken)
	}
}

// RestrictedHandler backs the routes guarded by the access matrix. By the
// time it runs, the access rule has already allowed the request.
func (s *Server) RestrictedHandler(ruleName string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		session := authware.SessionFromContext(r.Context())

		writeJSON(w, http.StatusOK, map[string]any{
			"rule":     ruleName,
			"username": session.Account.Username,
		})
	}
}

// MeHandler returns the verified claims of the inbound bearer token.
func (s *Server) MeHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, authware.BearerClaimsFromContext(r.Context()))
	}
}

// DelegateHandler calls the downstream resource with the token obtained by
// the on-behalf-of exchange and relays the response.
func (s *Server) DelegateHandler(resource config.ProtectedResource) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := authware.DelegatedTokenFromContext(r.Context())
		if token == "" {
			writeJSON(w, http.StatusBadGateway, map[string]any{"error": "no delegated token"})
			return
		}

		s.proxyResource(w, r, resource.Endpoint, token)
	}
}

func (s *Server) proxyResource(w http.ResponseWriter, r *http.Request, endpoint, accessToken string) {
	req, err := http.NewRequestWithContext(r.Context(), http.MethodGet, endpoint, nil)
	if err != nil {
		writeJSON(w, http.StatusBadGateway, map[string]any{"error": err.Error()})
		return
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := s.client.Do(req)
	if err != nil {
		log.Error().Err(err).Str("endpoint", endpoint).Msg("downstream resource call failed")
		writeJSON(w, http.StatusBadGateway, map[string]any{"error": "downstream call failed"})
		return
	}
	defer resp.Body.Close()

	w.Header().Set("Content-Type", resp.Header.Get("Content-Type"))
	w.WriteHeader(resp.StatusCode)
	if _, err := io.Copy(w, resp.Body); err != nil {
		log.Error().Err(err).Str("endpoint", endpoint).Msg("failed to relay downstream response")
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Error().Err(err).Msg("failed to encode response body")
	}
}
