package server

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestIsPublicPath(t *testing.T) {
	public := []string{"/", "/auth", "/auth/signin", "/auth/error", "/api/auth/session", "/api/health", "/static/app.css", "/assets/logo.svg", "/favicon.ico", "/robots.txt"}
	for _, p := range public {
		if !IsPublicPath(p) {
			t.Fatalf("expected %s to be public", p)
		}
	}
	protected := []string{"/dashboard", "/dashboard/focus", "/settings", "/authx", "/apix"}
	for _, p := range protected {
		if IsPublicPath(p) {
			t.Fatalf("expected %s to be protected", p)
		}
	}
}

func TestRouteGateDecisions(t *testing.T) {
	passed := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	gate := RouteGate(discardLogger())(passed)

	tests := []struct {
		name    string
		target  string
		cookie  string
		allowed bool
	}{
		{"no signals", "/dashboard", "", false},
		{"token cookie", "/dashboard", "github_token=abc", true},
		{"identity cookie", "/dashboard", "user_data=x", true},
		{"raw json identity cookie", "/dashboard", `user_data={"id":7,"login":"alice"}`, true},
		{"demo cookie", "/dashboard", "demo_mode=true", true},
		{"demo cookie false", "/dashboard", "demo_mode=false", false},
		{"empty token cookie", "/dashboard", "github_token=", false},
		{"demo query", "/dashboard?demo=true", "", true},
		{"demo query other value", "/dashboard?demo=1", "", false},
		{"unrelated cookie", "/dashboard", "theme=dark", false},
		{"public path", "/auth/signin", "", true},
		{"api path", "/api/auth/session", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.target, nil)
			if tt.cookie != "" {
				req.Header.Set("Cookie", tt.cookie)
			}
			rec := httptest.NewRecorder()
			gate.ServeHTTP(rec, req)

			if tt.allowed {
				if rec.Code != http.StatusTeapot {
					t.Fatalf("expected pass-through, got %d", rec.Code)
				}
				return
			}
			if rec.Code != http.StatusFound {
				t.Fatalf("expected redirect, got %d", rec.Code)
			}
			if loc := rec.Header().Get("Location"); loc != SignInPath {
				t.Fatalf("redirect location = %q", loc)
			}
		})
	}
}
