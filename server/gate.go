package server

import (
	"log/slog"
	"net/http"
	"strings"
)

// SignInPath is where unauthorized visitors of protected pages are sent.
const SignInPath = "/auth/signin"

var (
	publicPrefixes = []string{"/auth/", "/api/", "/static/", "/assets/"}
	publicExact    = map[string]bool{
		"/":            true,
		"/auth":        true,
		"/favicon.ico": true,
		"/robots.txt":  true,
	}
)

// IsPublicPath reports whether a path is served without authorization.
func IsPublicPath(path string) bool {
	if publicExact[path] {
		return true
	}
	for _, prefix := range publicPrefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

// Authorized decides from cookies and query string alone whether a request
// may see a protected page. Any one of a token cookie, an identity cookie,
// demo_mode=true, or ?demo=true is sufficient; token and identity contents are
// not validated here.
func Authorized(r *http.Request) bool {
	cookies := RequestCookies(r)
	if cookieValue(cookies, TokenCookieName) != "" || cookieValue(cookies, UserCookieName) != "" {
		return true
	}
	if cookieValue(cookies, DemoCookieName) == "true" {
		return true
	}
	return r.URL.Query().Get("demo") == "true"
}

// RouteGate redirects unauthorized requests for protected paths to sign-in.
func RouteGate(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if IsPublicPath(r.URL.Path) || Authorized(r) {
				next.ServeHTTP(w, r)
				return
			}
			logger.Debug("route gate redirect", "path", r.URL.Path)
			http.Redirect(w, r, SignInPath, http.StatusFound)
		})
	}
}
