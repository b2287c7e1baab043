package server

import (
	"fmt"

	"github.com/jrsteele09/go-webapp-auth/authware"
)

func (s *Server) initRoutes() error {
	s.RegisterRouteHandler("GET "+RouteHome, ChainMiddleware(s.HomeHandler(), s.HTMLMiddleware()...))

	// SIGN-IN / SIGN-OUT
	s.RegisterRouteHandler("GET "+RouteSignIn, ChainMiddleware(s.mw.SignIn(authware.SignInOptions{SuccessRedirect: RouteProfile}), s.HTMLMiddleware()...))
	s.RegisterRouteHandler("GET "+RouteSignOut, ChainMiddleware(s.SignOutHandler(), s.HTMLMiddleware()...))

	// Provider callback, shared by the sign-in and token-acquisition legs
	s.RegisterRouteHandler("GET "+RouteRedirect, ChainMiddleware(s.mw.HandleRedirect(), s.HTMLMiddleware()...))
	s.RegisterRouteHandler("POST "+RouteRedirect, ChainMiddleware(s.mw.HandleRedirect(), s.HTMLMiddleware()...)) // For form_post response mode

	// Landing pages for denials and flow failures
	s.RegisterRouteFunc("GET "+RouteUnauthorized, s.UnauthorizedHandler())
	s.RegisterRouteFunc("GET "+RouteError, s.ErrorHandler())

	s.RegisterRouteHandler("GET "+RouteProfile, ChainMiddleware(s.ProfileHandler(), s.HTMLMiddleware(s.mw.RequireAuthenticated())...))

	// Downstream resources: silent acquisition with interactive fallback
	for name, resource := range s.config.GetProtectedResources() {
		getToken := s.mw.GetToken(authware.GetTokenOptions{Resource: name, Scopes: resource.Scopes})
		s.RegisterRouteHandler("GET "+RouteResourcePrefix+name,
			ChainMiddleware(s.ResourceHandler(name, resource), s.HTMLMiddleware(s.mw.RequireAuthenticated(), getToken)...))

		// On-behalf-of delegation to the same resource for API callers
		onBehalfOf := s.mw.GetTokenOnBehalfOf(authware.OnBehalfOfOptions{Scopes: resource.Scopes})
		s.RegisterRouteHandler("POST "+RouteAPIDelegate+"/"+name,
			ChainMiddleware(s.DelegateHandler(resource), s.APIMiddleware(s.mw.RequireAuthorized(), onBehalfOf)...))
	}

	// Declarative route access rules from the settings file
	for name, rule := range s.config.GetAccessMatrix() {
		accessRule, err := authware.NewRule(rule.Methods, rule.Roles, rule.Groups)
		if err != nil {
			return fmt.Errorf("[Server initRoutes] access rule %q: %w", name, err)
		}
		handler := ChainMiddleware(s.RestrictedHandler(name), s.HTMLMiddleware(s.mw.RequireAuthenticated(), s.mw.RequireAccess(accessRule))...)
		for _, method := range rule.Methods {
			s.RegisterRouteHandler(method+" "+rule.Path, handler)
		}
	}

	// Bearer-token API routes
	s.RegisterRouteHandler("GET "+RouteAPIMe, ChainMiddleware(s.MeHandler(), s.APIMiddleware(s.mw.RequireAuthorized())...))

	return nil
}
