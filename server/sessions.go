package server

import (
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/securecookie"
)

// Cookie names shared with the dashboard front end.
const (
	TokenCookieName = "github_token"
	UserCookieName  = "user_data"
	DemoCookieName  = "demo_mode"

	// StateCookieName binds an authorize redirect to the browser that started it.
	StateCookieName = "oauth_state"
	stateCookiePath = "/api/auth"
	stateTTL        = 10 * time.Minute
)

// CookieStore issues and clears the session cookies. It holds no session
// state itself; every operation returns the cookie mutations to write.
type CookieStore struct {
	codec        CookieCodec
	logger       *slog.Logger
	ttl          time.Duration
	secure       bool
	cookieDomain string
	now          func() time.Time
}

// NewCookieStore constructs a cookie store honouring config.
func NewCookieStore(cfg Config, codec CookieCodec, logger *slog.Logger) *CookieStore {
	ttl := cfg.Session.TTL
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &CookieStore{
		codec:        codec,
		logger:       logger,
		ttl:          ttl,
		secure:       !cfg.Server.DevMode,
		cookieDomain: cfg.Server.CookieDomain,
		now:          time.Now,
	}
}

// Resolve evaluates the session carried by a cookie set. Decode failures are
// logged and degrade to demo or anonymous.
func (cs *CookieStore) Resolve(cookies []*http.Cookie) SessionState {
	state, err := ResolveSession(InputsFromCookies(cookies), cs.codec)
	if err != nil {
		cs.logger.Warn("session cookie unreadable", "error", err, "fallback", state.Kind.String())
	}
	return state
}

// Issue returns the cookies for a freshly authenticated session. The demo
// flag is deleted in the same write so real auth supersedes demo mode.
func (cs *CookieStore) Issue(token string, identity Identity) ([]*http.Cookie, error) {
	encodedToken, err := cs.codec.EncodeToken(TokenCookieName, token)
	if err != nil {
		return nil, fmt.Errorf("encode token cookie: %w", err)
	}
	encodedUser, err := cs.codec.EncodeIdentity(UserCookieName, StoredIdentity{
		Identity: identity,
		IssuedAt: cs.now().Unix(),
	})
	if err != nil {
		return nil, fmt.Errorf("encode user cookie: %w", err)
	}

	return []*http.Cookie{
		cs.cookie(TokenCookieName, encodedToken, true),
		cs.cookie(UserCookieName, encodedUser, true),
		cs.expired(DemoCookieName, false),
	}, nil
}

// Clear returns deletions for the authenticated cookies. The demo flag is
// left untouched.
func (cs *CookieStore) Clear() []*http.Cookie {
	return []*http.Cookie{
		cs.expired(TokenCookieName, true),
		cs.expired(UserCookieName, true),
	}
}

// Demo returns the cookie that turns on demo mode.
func (cs *CookieStore) Demo() *http.Cookie {
	return cs.cookie(DemoCookieName, "true", false)
}

// State returns a fresh authorize state value and the short-lived cookie that
// remembers it until the callback.
func (cs *CookieStore) State() (string, *http.Cookie) {
	state := base64.RawURLEncoding.EncodeToString(securecookie.GenerateRandomKey(32))
	return state, &http.Cookie{
		Name:     StateCookieName,
		Value:    state,
		Path:     stateCookiePath,
		Domain:   cs.cookieDomain,
		HttpOnly: true,
		Secure:   cs.secure,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(stateTTL.Seconds()),
	}
}

// ClearState deletes the state cookie once a callback has been handled.
func (cs *CookieStore) ClearState() *http.Cookie {
	c := cs.expired(StateCookieName, true)
	c.Path = stateCookiePath
	return c
}

// CheckState reports whether the callback state matches the cookie set when
// the authorize redirect was issued.
func CheckState(cookies []*http.Cookie, state string) bool {
	want := cookieValue(cookies, StateCookieName)
	if want == "" || state == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(want), []byte(state)) == 1
}

func (cs *CookieStore) cookie(name, value string, httpOnly bool) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		Domain:   cs.cookieDomain,
		HttpOnly: httpOnly,
		Secure:   cs.secure,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(cs.ttl.Seconds()),
	}
}

func (cs *CookieStore) expired(name string, httpOnly bool) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		Domain:   cs.cookieDomain,
		HttpOnly: httpOnly,
		Secure:   cs.secure,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   -1,
	}
}

// RequestCookies reads the Cookie headers without the octet validation
// net/http applies, so a user_data value holding raw JSON is kept. Each pair
// is split at its first '=' and an enclosing pair of double quotes is removed.
func RequestCookies(r *http.Request) []*http.Cookie {
	var cookies []*http.Cookie
	for _, line := range r.Header.Values("Cookie") {
		for _, part := range strings.Split(line, ";") {
			name, value, ok := strings.Cut(strings.TrimSpace(part), "=")
			name = strings.TrimSpace(name)
			if !ok || name == "" {
				continue
			}
			value = strings.TrimSpace(value)
			if len(value) >= 2 && value[0] == '"' && value[len(value)-1] == '"' {
				value = value[1 : len(value)-1]
			}
			cookies = append(cookies, &http.Cookie{Name: name, Value: value})
		}
	}
	return cookies
}

// cookieValue returns the first value sent under name, or "".
func cookieValue(cookies []*http.Cookie, name string) string {
	for _, c := range cookies {
		if c.Name == name {
			return c.Value
		}
	}
	return ""
}

// writeCookies applies a set of cookie mutations to the response.
func writeCookies(w http.ResponseWriter, cookies []*http.Cookie) {
	for _, c := range cookies {
		http.SetCookie(w, c)
	}
}
