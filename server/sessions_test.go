package server

import (
	"encoding/base64"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/gorilla/securecookie"
)

func newTestStore(t *testing.T, cfg Config) *CookieStore {
	t.Helper()
	codec, err := NewCookieCodec(cfg, discardLogger())
	if err != nil {
		t.Fatalf("NewCookieCodec returned error: %v", err)
	}
	store := NewCookieStore(cfg, codec, discardLogger())
	store.now = func() time.Time { return time.Unix(1700000000, 0) }
	return store
}

func findCookie(cookies []*http.Cookie, name string) *http.Cookie {
	for _, c := range cookies {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func TestIssueSetsScopedCookiesAndClearsDemo(t *testing.T) {
	cfg := DefaultConfig()
	store := newTestStore(t, cfg)

	cookies, err := store.Issue("gho_abc", Identity{ID: NumericID(7), Login: "alice"})
	if err != nil {
		t.Fatalf("Issue returned error: %v", err)
	}

	for _, name := range []string{TokenCookieName, UserCookieName} {
		c := findCookie(cookies, name)
		if c == nil {
			t.Fatalf("cookie %s missing", name)
		}
		if !c.HttpOnly || c.SameSite != http.SameSiteLaxMode || c.Path != "/" {
			t.Fatalf("cookie %s has wrong attributes: %+v", name, c)
		}
		if c.MaxAge != int((7 * 24 * time.Hour).Seconds()) {
			t.Fatalf("cookie %s max age = %d", name, c.MaxAge)
		}
		if c.Secure {
			t.Fatalf("dev mode cookies should not be Secure")
		}
	}

	demo := findCookie(cookies, DemoCookieName)
	if demo == nil || demo.MaxAge >= 0 {
		t.Fatalf("expected demo cookie deletion, got %+v", demo)
	}
}

func TestIssueSecureOutsideDevMode(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Server.DevMode = false
	cfg.Server.PublicURL = "https://dash.example.com"
	cfg.Server.CookieDomain = "dash.example.com"
	store := newTestStore(t, cfg)

	cookies, err := store.Issue("gho_abc", Identity{ID: NumericID(7), Login: "alice"})
	if err != nil {
		t.Fatalf("Issue returned error: %v", err)
	}
	c := findCookie(cookies, TokenCookieName)
	if !c.Secure || c.Domain != "dash.example.com" {
		t.Fatalf("expected secure domain-scoped cookie, got %+v", c)
	}
}

func TestIssuedCookiesResolveToAuthenticated(t *testing.T) {
	for _, signed := range []bool{false, true} {
		cfg := DefaultConfig()
		cfg.Session.Signed = signed
		cfg.Session.HashKey = base64.StdEncoding.EncodeToString(securecookie.GenerateRandomKey(32))
		store := newTestStore(t, cfg)

		identity := Identity{ID: NumericID(7), Login: "alice", Name: "Alice"}
		cookies, err := store.Issue("gho_abc", identity)
		if err != nil {
			t.Fatalf("Issue returned error: %v", err)
		}
		// The browser keeps only live cookies, alongside a stale demo flag.
		jar := []*http.Cookie{{Name: DemoCookieName, Value: "true"}}
		for _, c := range cookies {
			if c.MaxAge > 0 {
				jar = append(jar, &http.Cookie{Name: c.Name, Value: c.Value})
			}
		}

		state := store.Resolve(jar)
		want := SessionState{
			Kind: SessionAuthenticated,
			Record: SessionRecord{
				AccessToken: "gho_abc",
				Identity:    identity,
				IssuedAt:    time.Unix(1700000000, 0),
			},
		}
		if diff := cmp.Diff(want, state); diff != "" {
			t.Fatalf("signed=%v: state mismatch (-want +got):\n%s", signed, diff)
		}
	}
}

func TestClearDeletesOnlyAuthCookies(t *testing.T) {
	store := newTestStore(t, DefaultConfig())
	cookies := store.Clear()
	if len(cookies) != 2 {
		t.Fatalf("expected two deletions, got %d", len(cookies))
	}
	for _, c := range cookies {
		if c.Name == DemoCookieName {
			t.Fatalf("teardown must not touch the demo flag")
		}
		if c.MaxAge >= 0 || c.Value != "" {
			t.Fatalf("cookie %s not deleted: %+v", c.Name, c)
		}
	}
}

func plainUserData(raw string) string {
	return url.QueryEscape(raw)
}

func TestResolveSessionPriority(t *testing.T) {
	alice := plainUserData(`{"id":7,"login":"alice"}`)
	tests := []struct {
		name     string
		in       SessionInputs
		want     SessionKind
		parseErr bool
	}{
		{"nothing", SessionInputs{}, SessionAnonymous, false},
		{"demo only", SessionInputs{Demo: "true"}, SessionDemo, false},
		{"demo not true", SessionInputs{Demo: "yes"}, SessionAnonymous, false},
		{"auth", SessionInputs{Token: "abc", UserData: alice}, SessionAuthenticated, false},
		{"auth beats demo", SessionInputs{Token: "abc", UserData: alice, Demo: "true"}, SessionAuthenticated, false},
		{"token without identity", SessionInputs{Token: "abc"}, SessionAnonymous, false},
		{"identity without token", SessionInputs{UserData: alice, Demo: "true"}, SessionDemo, false},
		{"malformed identity", SessionInputs{Token: "abc", UserData: "%7Bnot-json"}, SessionAnonymous, true},
		{"malformed identity with demo", SessionInputs{Token: "abc", UserData: "{{", Demo: "true"}, SessionDemo, true},
		{"empty identity object", SessionInputs{Token: "abc", UserData: plainUserData(`{}`)}, SessionAnonymous, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			state, err := ResolveSession(tt.in, plainCodec{})
			if state.Kind != tt.want {
				t.Fatalf("kind = %s, want %s", state.Kind, tt.want)
			}
			if tt.parseErr != (err != nil) {
				t.Fatalf("parse error = %v, want error %v", err, tt.parseErr)
			}
			if err != nil && !errors.Is(err, ErrParse) {
				t.Fatalf("expected ErrParse, got %v", err)
			}
		})
	}
}

func TestSessionStateUser(t *testing.T) {
	if (SessionState{}).User() != nil {
		t.Fatalf("anonymous must report nil user")
	}
	demo := SessionState{Kind: SessionDemo}.User()
	if demo == nil || demo.ID != StringID("demo-user") {
		t.Fatalf("unexpected demo identity %+v", demo)
	}
	demo.Name = "changed"
	if DemoIdentity.Name != "Demo User" {
		t.Fatalf("demo identity must not be shared")
	}
}

func TestSignedCookieRejectsTampering(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Session.Signed = true
	cfg.Session.HashKey = base64.StdEncoding.EncodeToString(securecookie.GenerateRandomKey(32))
	store := newTestStore(t, cfg)

	in := SessionInputs{Token: "abc", UserData: plainUserData(`{"id":7,"login":"mallory"}`)}
	state, err := ResolveSession(in, store.codec)
	if state.Kind != SessionAnonymous || !errors.Is(err, ErrParse) {
		t.Fatalf("unsigned cookies must not authenticate: %v %v", state.Kind, err)
	}
}

func TestSignedCodecGeneratesAndReusesKey(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Session.Signed = true
	cfg.Server.SecretsPath = filepath.Join(t.TempDir(), "secrets")

	first := newTestStore(t, cfg)
	cookies, err := first.Issue("gho_abc", Identity{ID: NumericID(7), Login: "alice"})
	if err != nil {
		t.Fatalf("Issue returned error: %v", err)
	}
	if _, err := os.Stat(filepath.Join(cfg.Server.SecretsPath, hashKeyFile)); err != nil {
		t.Fatalf("hash key not persisted: %v", err)
	}

	second := newTestStore(t, cfg)
	var jar []*http.Cookie
	for _, c := range cookies {
		if c.MaxAge > 0 {
			jar = append(jar, &http.Cookie{Name: c.Name, Value: c.Value})
		}
	}
	if state := second.Resolve(jar); state.Kind != SessionAuthenticated {
		t.Fatalf("cookies issued before restart should still verify, got %s", state.Kind)
	}
}

func TestRequestCookiesKeepsRawJSON(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Add("Cookie", `github_token=abc; user_data={"id":7,"login":"alice"}`)
	req.Header.Add("Cookie", `demo_mode="true"; github_token=second; broken`)

	in := InputsFromCookies(RequestCookies(req))
	want := SessionInputs{Token: "abc", UserData: `{"id":7,"login":"alice"}`, Demo: "true"}
	if diff := cmp.Diff(want, in); diff != "" {
		t.Fatalf("inputs mismatch (-want +got):\n%s", diff)
	}

	state, err := ResolveSession(in, plainCodec{})
	if err != nil || state.Kind != SessionAuthenticated || state.Record.Identity.Login != "alice" {
		t.Fatalf("raw JSON identity should authenticate: %v %+v", err, state)
	}
}
