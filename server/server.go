package server

import (
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/securecookie"
	"github.com/jrsteele09/go-webapp-auth/authware"
	"github.com/jrsteele09/go-webapp-auth/internal/config"
	"github.com/jrsteele09/go-webapp-auth/sessions"
)

// Server is the demo web application fronting the authentication
// middleware. Every route is registered through the middleware chains in
// routes.go; the server itself holds no authentication state beyond the
// session cookie codec.
type Server struct {
	env      string // Environment (e.g., "DEV", "PROD")
	mux      *http.ServeMux
	routes   []string
	config   config.Config
	mw       *authware.Middleware
	sessions sessions.Repo
	cookies  *securecookie.SecureCookie
	client   *http.Client // used for calls to downstream resources
}

func New(config config.Config, mw *authware.Middleware, sessionRepo sessions.Repo) (*Server, error) {
	if mw == nil {
		return nil, fmt.Errorf("[Server New] authware middleware is required")
	}
	if sessionRepo == nil {
		return nil, fmt.Errorf("[Server New] session repo is required")
	}

	s := &Server{
		mux:      http.NewServeMux(),
		config:   config,
		mw:       mw,
		sessions: sessionRepo,
		cookies:  newCookieCodec(config),
		client:   &http.Client{Timeout: 10 * time.Second},
	}
	s.env = config.GetEnv()

	if err := s.initRoutes(); err != nil {
		return nil, fmt.Errorf("[Server New] failed to initialise routes: %w", err)
	}
	s.logRoutes()

	return s, nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) RegisterRouteHandler(pattern string, handler http.Handler) {
	s.routes = append(s.routes, pattern)
	s.mux.Handle(pattern, handler)
}

func (s *Server) RegisterRouteFunc(pattern string, handler func(http.ResponseWriter, *http.Request)) {
	s.routes = append(s.routes, pattern)
	s.mux.HandleFunc(pattern, handler)
}

func (s *Server) logRoutes() {
	if s.env != "DEV" {
		return // Skip logging in non-development environments
	}
	for _, route := range s.routes {
		parts := strings.SplitN(route, " ", 2)

		if len(parts) > 1 {
			logRoute(parts[0], parts[1])
		} else {
			logRoute("", parts[0])
		}
	}
}

func logRoute(method, path string) {
	var displayMethod string
	paddedMethod := fmt.Sprintf(" %-7s", method)
	if color, ok := methodColors[method]; ok {
		displayMethod = color + paddedMethod + ResetColor
	} else {
		displayMethod = Gray + paddedMethod + ResetColor
	}
	log.Printf("[%-19s] %s\n", displayMethod, path)
}

// Helper function to determine the scheme (http/https)
func getScheme(r *http.Request) string {
	if r.TLS != nil {
		return "https"
	}
	if scheme := r.Header.Get("X-Forwarded-Proto"); scheme != "" {
		return scheme
	}
	return "http"
}
