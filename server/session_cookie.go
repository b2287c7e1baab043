package server

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/securecookie"
	"github.com/jrsteele09/go-webapp-auth/authware"
	"github.com/jrsteele09/go-webapp-auth/internal/config"
	"github.com/jrsteele09/go-webapp-auth/sessions"
	"github.com/rs/zerolog/log"
)

const (
	// sessionCookieName is the name of the cookie carrying the encoded
	// session ID
	sessionCookieName = "webapp_session_id"
)

// newCookieCodec builds the securecookie codec from the configured keys.
// When no keys are configured, random ones are generated, which means
// sessions do not survive a restart.
func newCookieCodec(cfg config.Config) *securecookie.SecureCookie {
	hashKey := []byte(cfg.GetCookieHashKey())
	if len(hashKey) == 0 {
		hashKey = securecookie.GenerateRandomKey(64)
	}
	blockKey := []byte(cfg.GetCookieBlockKey())
	if len(blockKey) == 0 {
		blockKey = securecookie.GenerateRandomKey(32)
	}
	return securecookie.New(hashKey, blockKey)
}

// SessionMiddleware resolves the request's session from the session cookie
// and attaches it to the request context. A request without a session gets
// a fresh one so the sign-in flow always has somewhere to bind its nonce.
func (s *Server) SessionMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		session := s.sessionFromCookie(r)
		if session == nil {
			session = sessions.New(uuid.NewString())
			if err := s.sessions.Upsert(r.Context(), session); err != nil {
				log.Error().Err(err).Msg("failed to create session")
				http.Redirect(w, r, RouteError, http.StatusFound)
				return
			}
			s.SetSessionCookie(w, r, session.ID)
		}

		ctx := authware.ContextWithSession(r.Context(), session)
		next(w, r.WithContext(ctx))
	}
}

func (s *Server) sessionFromCookie(r *http.Request) *sessions.Session {
	cookie, err := r.Cookie(sessionCookieName)
	if err != nil {
		return nil
	}

	var sessionID string
	if err := s.cookies.Decode(sessionCookieName, cookie.Value, &sessionID); err != nil {
		return nil
	}

	session, err := s.sessions.Get(r.Context(), sessionID)
	if err != nil {
		return nil
	}
	return session
}

func (s *Server) SetSessionCookie(w http.ResponseWriter, r *http.Request, sessionID string) {
	encoded, err := s.cookies.Encode(sessionCookieName, sessionID)
	if err != nil {
		log.Error().Err(err).Msg("failed to encode session cookie")
		return
	}

	isSecure := getScheme(r) == "https"
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    encoded,
		Path:     "/",
		HttpOnly: true,
		Secure:   isSecure,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(s.config.GetMaxSessionAge().Seconds()),
	})
}

func (s *Server) ClearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		MaxAge:   -1,
	})
}
