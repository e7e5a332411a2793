package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// Routes constructs the HTTP router with the pages and auth endpoints.
func (a *App) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(a.Logger))
	r.Use(RecoveryMiddleware(a.Logger))
	if !a.Config.Server.DevMode {
		r.Use(SecurityHeadersMiddleware(a.Config.Server.TLS.HSTSMaxAge))
	}
	r.Use(RouteGate(a.Logger))

	r.Get("/", a.handleLanding)
	r.Get("/auth/signin", a.handleSignInPage)
	r.Get("/auth/error", a.handleErrorPage)
	r.Get("/auth/demo", a.handleDemo)
	r.Get("/dashboard", a.handleDashboard)
	r.Get("/dashboard/*", a.handleDashboard)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", a.handleHealth)
		r.Get("/auth/github", a.handleGitHubAuth)
		r.Get("/auth/session", a.handleSessionQuery)
		r.Delete("/auth/session", a.handleSessionTeardown)
	})

	return r
}
