package server

// Route path constants
// All application routes are defined here to ensure consistency and prevent typos
const (
	// General pages
	RouteHome    = "/"
	RouteProfile = "/profile"

	// Auth Routes - Sign-in, Sign-out and the provider callback
	RouteSignIn   = "/auth/signin"
	RouteSignOut  = "/auth/signout"
	RouteRedirect = "/auth/redirect"

	// Denial and failure landing pages
	RouteUnauthorized = "/unauthorized"
	RouteError        = "/error"

	// Downstream resource proxy routes (pattern, completed per resource)
	RouteResourcePrefix = "/resources/"

	// API Routes (bearer-token protected)
	RouteAPIMe       = "/api/me"
	RouteAPIDelegate = "/api/delegate"
)
