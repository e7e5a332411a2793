package server

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadConfigAppliesEnvOverrides(t *testing.T) {
	path := writeConfig(t, `server:
  public_url: http://localhost:3000
  dev_mode: true
github:
  client_id: from-file
`)

	t.Setenv("DEVDASH_SERVER_PUBLIC_URL", "https://dash.example.com")
	t.Setenv("GITHUB_CLIENT_ID", "from-env")
	t.Setenv("GITHUB_CLIENT_SECRET", "s3cret")
	t.Setenv("DEVDASH_SESSION_TTL", "48h")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}

	if cfg.Server.PublicURL != "https://dash.example.com" {
		t.Fatalf("PublicURL override mismatch, got %q", cfg.Server.PublicURL)
	}
	if cfg.GitHub.ClientID != "from-env" {
		t.Fatalf("ClientID override mismatch, got %q", cfg.GitHub.ClientID)
	}
	if cfg.Session.TTL != 48*time.Hour {
		t.Fatalf("session TTL override mismatch, got %s", cfg.Session.TTL)
	}
	if cfg.GitHub.CallbackURL != "https://dash.example.com/api/auth/github" {
		t.Fatalf("callback should derive from overridden public url, got %q", cfg.GitHub.CallbackURL)
	}
	if !cfg.GitHub.Configured() {
		t.Fatalf("expected github to be configured")
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	path := writeConfig(t, "# nothing but a comment\n")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.Session.TTL != DefaultSessionTTL {
		t.Fatalf("expected default TTL, got %s", cfg.Session.TTL)
	}
	if len(cfg.GitHub.Scopes) != 3 || cfg.GitHub.Scopes[2] != "repo" {
		t.Fatalf("unexpected default scopes: %v", cfg.GitHub.Scopes)
	}
	if cfg.GitHub.Configured() {
		t.Fatalf("github must not be configured without credentials")
	}
}

func TestLoadConfigRejectsUnknownKeys(t *testing.T) {
	path := writeConfig(t, `server:
  public_url: http://localhost:3000
  listen: nope
`)
	if _, err := LoadConfig(path); err == nil {
		t.Fatalf("expected unknown key to be rejected")
	}
}

func TestLoadConfigExplicitCallbackWins(t *testing.T) {
	path := writeConfig(t, `github:
  callback_url: https://auth.example.com/api/auth/github
`)
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.GitHub.CallbackURL != "https://auth.example.com/api/auth/github" {
		t.Fatalf("callback url overwritten: %q", cfg.GitHub.CallbackURL)
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing public url", func(c *Config) { c.Server.PublicURL = "" }},
		{"bad scheme", func(c *Config) { c.Server.PublicURL = "ftp://example.com" }},
		{"prod without domains", func(c *Config) { c.Server.DevMode = false; c.Server.TLS.Domains = nil }},
		{"bad tls version", func(c *Config) { c.Server.TLS.MinVersion = "1.0" }},
		{"cookie domain mismatch", func(c *Config) { c.Server.CookieDomain = ".other.org" }},
		{"bad callback", func(c *Config) { c.GitHub.CallbackURL = "localhost/cb" }},
		{"bad timeout", func(c *Config) { c.GitHub.Timeout = "soon" }},
		{"zero ttl", func(c *Config) { c.Session.TTL = 0 }},
		{"hash key not base64", func(c *Config) { c.Session.HashKey = "***" }},
		{"short block key", func(c *Config) { c.Session.BlockKey = "c2hvcnQ=" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}

	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
}

func TestCookieDomainSuffixAccepted(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Server.PublicURL = "https://dash.dev.example.com:8443/app"
	cfg.Server.CookieDomain = ".example.com"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected cookie domain to be accepted: %v", err)
	}
}

func TestTrimListRemovesEmpty(t *testing.T) {
	out := trimList([]string{" a ", "", "b", " ", " c"})
	if diff := cmp.Diff([]string{"a", "b", "c"}, out); diff != "" {
		t.Fatalf("unexpected list (-want +got):\n%s", diff)
	}
}

func TestLoadConfigTypedEnvOverrides(t *testing.T) {
	path := writeConfig(t, "# defaults\n")

	t.Setenv("DEVDASH_SERVER_DEV_MODE", "false")
	t.Setenv("DEVDASH_SERVER_PUBLIC_URL", "https://dash.example.com")
	t.Setenv("DEVDASH_SERVER_TLS_DOMAINS", "dash.example.com, www.dash.example.com")
	t.Setenv("DEVDASH_SESSION_SIGNED", "true")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.Server.DevMode || !cfg.Session.Signed {
		t.Fatalf("bool overrides not applied: dev=%v signed=%v", cfg.Server.DevMode, cfg.Session.Signed)
	}
	if diff := cmp.Diff([]string{"dash.example.com", "www.dash.example.com"}, cfg.Server.TLS.Domains); diff != "" {
		t.Fatalf("tls domains mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadConfigRejectsMalformedEnv(t *testing.T) {
	tests := map[string]string{
		"DEVDASH_SESSION_TTL":     "7days",
		"DEVDASH_SESSION_SIGNED":  "ture",
		"DEVDASH_SERVER_DEV_MODE": "maybe",
	}

	for key, value := range tests {
		t.Run(key, func(t *testing.T) {
			path := writeConfig(t, "# defaults\n")
			t.Setenv(key, value)
			if _, err := LoadConfig(path); err == nil {
				t.Fatalf("expected %s=%q to fail the load", key, value)
			}
		})
	}
}

func TestProviderTimeoutFallback(t *testing.T) {
	cfg := DefaultConfig()
	cfg.GitHub.Timeout = ""
	if cfg.ProviderTimeout() != DefaultProviderTimeout {
		t.Fatalf("expected default timeout, got %s", cfg.ProviderTimeout())
	}
	cfg.GitHub.Timeout = "3s"
	if cfg.ProviderTimeout() != 3*time.Second {
		t.Fatalf("expected 3s, got %s", cfg.ProviderTimeout())
	}
}
