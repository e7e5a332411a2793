package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
)

// App bundles runtime dependencies for the HTTP service.
type App struct {
	Config   Config
	Logger   *slog.Logger
	Provider IdentityProvider
	Cookies  *CookieStore
}

// NewApp wires together the application state from configuration.
func NewApp(cfg Config, logger *slog.Logger) (*App, error) {
	codec, err := NewCookieCodec(cfg, logger)
	if err != nil {
		return nil, err
	}

	provider := NewGitHubProvider(cfg, logger)
	if !provider.Configured() {
		logger.Warn("github oauth not configured; sign-in limited to demo mode")
	}

	return &App{
		Config:   cfg,
		Logger:   logger,
		Provider: provider,
		Cookies:  NewCookieStore(cfg, codec, logger),
	}, nil
}

// handleGitHubAuth starts the authorize redirect, or completes it when GitHub
// calls back with a code.
func (a *App) handleGitHubAuth(w http.ResponseWriter, r *http.Request) {
	if !a.Provider.Configured() {
		a.Logger.Warn("github sign-in attempted without configuration")
		http.Redirect(w, r, SignInPath+"?error=not_configured", http.StatusFound)
		return
	}

	q := r.URL.Query()
	if providerErr := q.Get("error"); providerErr != "" {
		a.Logger.Warn("github authorize returned error", "error", providerErr, "description", q.Get("error_description"))
		http.SetCookie(w, a.Cookies.ClearState())
		redirectAuthError(w, r, "access_denied")
		return
	}

	code := q.Get("code")
	if code == "" {
		state, cookie := a.Cookies.State()
		http.SetCookie(w, cookie)
		http.Redirect(w, r, a.Provider.AuthCodeURL(state), http.StatusFound)
		return
	}

	http.SetCookie(w, a.Cookies.ClearState())
	if !CheckState(RequestCookies(r), q.Get("state")) {
		a.Logger.Warn("github callback state mismatch")
		redirectAuthError(w, r, "invalid_state")
		return
	}

	cookies, err := a.completeSignIn(r.Context(), code)
	if err != nil {
		a.Logger.Error("github sign-in failed", "error", err)
		var exErr *OAuthExchangeError
		if errors.As(err, &exErr) {
			redirectAuthError(w, r, exErr.Reason())
			return
		}
		redirectAuthError(w, r, "session_error")
		return
	}

	writeCookies(w, cookies)
	http.Redirect(w, r, "/dashboard", http.StatusFound)
}

// completeSignIn runs the code exchange and identity fetch and returns the
// cookie mutations for the new session.
func (a *App) completeSignIn(ctx context.Context, code string) ([]*http.Cookie, error) {
	token, err := a.Provider.Exchange(ctx, code)
	if err != nil {
		return nil, err
	}
	identity, err := a.Provider.FetchIdentity(ctx, token)
	if err != nil {
		return nil, err
	}
	a.Logger.Info("github sign-in", "login", identity.Login, "id", identity.ID.String())
	return a.Cookies.Issue(token.AccessToken, identity)
}

func (a *App) handleSessionQuery(w http.ResponseWriter, r *http.Request) {
	state := a.Cookies.Resolve(RequestCookies(r))
	noteSession(r.Context(), state)
	writeJSON(w, sessionResponse{User: state.User()})
}

func (a *App) handleSessionTeardown(w http.ResponseWriter, r *http.Request) {
	writeCookies(w, a.Cookies.Clear())
	writeJSON(w, map[string]string{"message": "Logged out"})
}

func (a *App) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{"status": "ok"})
}

type sessionResponse struct {
	User *Identity `json:"user"`
}

func redirectAuthError(w http.ResponseWriter, r *http.Request, reason string) {
	http.Redirect(w, r, "/auth/error?error="+url.QueryEscape(reason), http.StatusFound)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	_ = json.NewEncoder(w).Encode(v)
}
