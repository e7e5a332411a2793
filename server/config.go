package server

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Session and provider defaults
const (
	DefaultSessionTTL      = 7 * 24 * time.Hour
	DefaultProviderTimeout = 10 * time.Second
)

// DefaultGitHubScopes are requested on every authorize redirect unless overridden.
var DefaultGitHubScopes = []string{"read:user", "user:email", "repo"}

// Config captures the full application configuration loaded from YAML and environment variables.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	GitHub  GitHubConfig  `yaml:"github"`
	Session SessionConfig `yaml:"session"`
}

// ServerConfig controls listener, TLS, and HTTP concerns.
type ServerConfig struct {
	PublicURL       string    `yaml:"public_url"`
	DevListenAddr   string    `yaml:"dev_listen_addr"`
	HTTPListenAddr  string    `yaml:"http_listen_addr"`
	HTTPSListenAddr string    `yaml:"https_listen_addr"`
	DevMode         bool      `yaml:"dev_mode"`
	CookieDomain    string    `yaml:"cookie_domain"`
	SecretsPath     string    `yaml:"secrets_path"`
	TLS             TLSConfig `yaml:"tls"`
}

// TLSConfig defines autocert behaviour and TLS constraints.
type TLSConfig struct {
	Domains    []string `yaml:"domains"`
	Email      string   `yaml:"email"`
	MinVersion string   `yaml:"min_version"`
	HSTSMaxAge int      `yaml:"hsts_max_age"`
}

// GitHubConfig holds the OAuth application credentials. Empty credentials are
// allowed and leave sign-in in the "not configured" state.
type GitHubConfig struct {
	ClientID     string   `yaml:"client_id"`
	ClientSecret string   `yaml:"client_secret"`
	CallbackURL  string   `yaml:"callback_url"`
	Scopes       []string `yaml:"scopes"`
	AuthURL      string   `yaml:"auth_url"`
	TokenURL     string   `yaml:"token_url"`
	APIURL       string   `yaml:"api_url"`
	Timeout      string   `yaml:"timeout"`
}

// SessionConfig controls cookie lifetime and signing.
type SessionConfig struct {
	TTL      time.Duration `yaml:"ttl"`
	Signed   bool          `yaml:"signed"`
	HashKey  string        `yaml:"hash_key"`
	BlockKey string        `yaml:"block_key"`
}

// Configured reports whether every value the code exchange needs is present.
func (g GitHubConfig) Configured() bool {
	return g.ClientID != "" && g.ClientSecret != "" && g.CallbackURL != ""
}

// envOverrides lists the environment variables consulted after the YAML file.
// Unset variables leave the file value in place; malformed ones fail the load.
type envOverrides struct {
	PublicURL     string         `env:"DEVDASH_SERVER_PUBLIC_URL"`
	DevListenAddr string         `env:"DEVDASH_SERVER_DEV_LISTEN_ADDR"`
	DevMode       *bool          `env:"DEVDASH_SERVER_DEV_MODE"`
	CookieDomain  string         `env:"DEVDASH_SERVER_COOKIE_DOMAIN"`
	SecretsPath   string         `env:"DEVDASH_SERVER_SECRETS_PATH"`
	TLSDomains    []string       `env:"DEVDASH_SERVER_TLS_DOMAINS" envSeparator:","`
	TLSEmail      string         `env:"DEVDASH_SERVER_TLS_EMAIL"`
	ClientID      string         `env:"GITHUB_CLIENT_ID"`
	ClientSecret  string         `env:"GITHUB_CLIENT_SECRET"`
	CallbackURL   string         `env:"DEVDASH_GITHUB_CALLBACK_URL"`
	SessionTTL    *time.Duration `env:"DEVDASH_SESSION_TTL"`
	SessionSigned *bool          `env:"DEVDASH_SESSION_SIGNED"`
	HashKey       string         `env:"DEVDASH_SESSION_HASH_KEY"`
	BlockKey      string         `env:"DEVDASH_SESSION_BLOCK_KEY"`
}

// LoadConfig reads the YAML config file and merges environment overrides.
func LoadConfig(path string) (Config, error) {
	cfg := defaultConfig()

	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		sanitized := stripYAMLComments(b)

		decoder := yaml.NewDecoder(bytes.NewReader(sanitized))
		decoder.KnownFields(true)

		if err := decoder.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
			if strings.Contains(err.Error(), "field") && strings.Contains(err.Error(), "not found") {
				slog.Error("Configuration contains unknown keys", "error", err, "file", path)
				return Config{}, fmt.Errorf("invalid config: %w (check for typos or deprecated fields)", err)
			}
			slog.Error("Failed to parse configuration", "error", err, "file", path)
			return Config{}, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := applyEnvOverrides(&cfg); err != nil {
		return Config{}, err
	}
	cfg.applyDerived()

	if err := cfg.Validate(); err != nil {
		slog.Error("Configuration validation failed", "error", err)
		return Config{}, err
	}

	return cfg, nil
}

func defaultConfig() Config {
	return Config{
		Server: ServerConfig{
			PublicURL:       "http://127.0.0.1:3000",
			DevListenAddr:   "127.0.0.1:3000",
			HTTPListenAddr:  ":80",
			HTTPSListenAddr: ":443",
			DevMode:         true,
			SecretsPath:     ".secrets",
			TLS: TLSConfig{
				Domains:    []string{"localhost"},
				MinVersion: "1.2",
				HSTSMaxAge: 31536000,
			},
		},
		GitHub: GitHubConfig{
			Scopes:  append([]string(nil), DefaultGitHubScopes...),
			Timeout: DefaultProviderTimeout.String(),
		},
		Session: SessionConfig{
			TTL: DefaultSessionTTL,
		},
	}
}

// DefaultConfig returns the default configuration template.
func DefaultConfig() Config {
	cfg := defaultConfig()
	cfg.applyDerived()
	return cfg
}

// applyDerived fills values computed from other settings.
func (c *Config) applyDerived() {
	if c.GitHub.CallbackURL == "" && c.Server.PublicURL != "" {
		c.GitHub.CallbackURL = strings.TrimSuffix(c.Server.PublicURL, "/") + "/api/auth/github"
	}
	if len(c.GitHub.Scopes) == 0 {
		c.GitHub.Scopes = append([]string(nil), DefaultGitHubScopes...)
	}
}

func stripYAMLComments(in []byte) []byte {
	lines := bytes.Split(in, []byte("\n"))
	out := make([][]byte, 0, len(lines))
	for _, line := range lines {
		trim := bytes.TrimLeft(line, " \t")
		if len(trim) > 0 && trim[0] == '#' {
			continue
		}
		out = append(out, line)
	}
	return bytes.Join(out, []byte("\n"))
}

func applyEnvOverrides(cfg *Config) error {
	var raw envOverrides
	if err := env.Parse(&raw); err != nil {
		return fmt.Errorf("parse environment: %w", err)
	}

	setIf := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	setIf(&cfg.Server.PublicURL, raw.PublicURL)
	setIf(&cfg.Server.DevListenAddr, raw.DevListenAddr)
	setIf(&cfg.Server.CookieDomain, raw.CookieDomain)
	setIf(&cfg.Server.SecretsPath, raw.SecretsPath)
	setIf(&cfg.Server.TLS.Email, raw.TLSEmail)
	setIf(&cfg.GitHub.ClientID, raw.ClientID)
	setIf(&cfg.GitHub.ClientSecret, raw.ClientSecret)
	setIf(&cfg.GitHub.CallbackURL, raw.CallbackURL)
	setIf(&cfg.Session.HashKey, raw.HashKey)
	setIf(&cfg.Session.BlockKey, raw.BlockKey)

	if raw.DevMode != nil {
		cfg.Server.DevMode = *raw.DevMode
	}
	if domains := trimList(raw.TLSDomains); len(domains) > 0 {
		cfg.Server.TLS.Domains = domains
	}
	if raw.SessionTTL != nil {
		cfg.Session.TTL = *raw.SessionTTL
	}
	if raw.SessionSigned != nil {
		cfg.Session.Signed = *raw.SessionSigned
	}
	return nil
}

func parseDuration(val string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(val)
	if err != nil {
		return fallback
	}
	return d
}

func trimList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, p := range in {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// ProviderTimeout returns the outbound HTTP timeout for GitHub calls.
func (c Config) ProviderTimeout() time.Duration {
	if c.GitHub.Timeout == "" {
		return DefaultProviderTimeout
	}
	return parseDuration(c.GitHub.Timeout, DefaultProviderTimeout)
}

// Validate performs minimal sanity checks on the config.
func (c Config) Validate() error {
	if c.Server.PublicURL == "" {
		slog.Error("Missing required configuration", "field", "server.public_url")
		return errors.New("server.public_url is required")
	}

	if !strings.HasPrefix(c.Server.PublicURL, "http://") && !strings.HasPrefix(c.Server.PublicURL, "https://") {
		slog.Error("Invalid configuration value", "field", "server.public_url", "value", c.Server.PublicURL, "reason", "must start with http:// or https://")
		return fmt.Errorf("server.public_url must start with http:// or https://, got: %s", c.Server.PublicURL)
	}

	if !c.Server.DevMode && len(c.Server.TLS.Domains) == 0 {
		slog.Error("Missing required configuration for production mode", "field", "server.tls.domains")
		return errors.New("server.tls.domains must be provided in production")
	}

	if c.Server.TLS.MinVersion != "" {
		validVersions := map[string]bool{"1.2": true, "1.3": true}
		if !validVersions[c.Server.TLS.MinVersion] {
			slog.Error("Invalid TLS minimum version", "field", "server.tls.min_version", "value", c.Server.TLS.MinVersion, "valid_values", []string{"1.2", "1.3"})
			return fmt.Errorf("server.tls.min_version must be '1.2' or '1.3', got: %s", c.Server.TLS.MinVersion)
		}
	}

	if c.Server.CookieDomain != "" {
		host := hostOf(c.Server.PublicURL)
		cookieDomain := strings.TrimPrefix(c.Server.CookieDomain, ".")
		if !strings.HasSuffix(host, cookieDomain) {
			slog.Error("Cookie domain mismatch",
				"field", "server.cookie_domain",
				"cookie_domain", c.Server.CookieDomain,
				"public_url_domain", host,
				"reason", "cookie_domain must be a suffix of public_url domain")
			return fmt.Errorf("server.cookie_domain '%s' does not match server.public_url domain '%s'", c.Server.CookieDomain, host)
		}
	}

	if c.GitHub.CallbackURL != "" && !strings.HasPrefix(c.GitHub.CallbackURL, "http://") && !strings.HasPrefix(c.GitHub.CallbackURL, "https://") {
		slog.Error("Invalid callback URL", "field", "github.callback_url", "value", c.GitHub.CallbackURL)
		return fmt.Errorf("github.callback_url must start with http:// or https://, got: %s", c.GitHub.CallbackURL)
	}

	if c.GitHub.Timeout != "" {
		if _, err := time.ParseDuration(c.GitHub.Timeout); err != nil {
			slog.Error("Invalid provider timeout", "field", "github.timeout", "value", c.GitHub.Timeout, "error", err)
			return fmt.Errorf("github.timeout: invalid duration '%s': %w", c.GitHub.Timeout, err)
		}
	}

	if c.Session.TTL <= 0 {
		slog.Error("Invalid session TTL", "field", "session.ttl", "value", c.Session.TTL)
		return fmt.Errorf("session.ttl must be positive, got: %s", c.Session.TTL)
	}

	for field, value := range map[string]string{"session.hash_key": c.Session.HashKey, "session.block_key": c.Session.BlockKey} {
		if value == "" {
			continue
		}
		if _, err := base64.StdEncoding.DecodeString(value); err != nil {
			slog.Error("Invalid key encoding", "field", field, "error", err)
			return fmt.Errorf("%s must be base64 encoded: %w", field, err)
		}
	}

	if c.Session.BlockKey != "" {
		key, _ := base64.StdEncoding.DecodeString(c.Session.BlockKey)
		switch len(key) {
		case 16, 24, 32:
		default:
			slog.Error("Invalid block key length", "field", "session.block_key", "length", len(key))
			return fmt.Errorf("session.block_key must decode to 16, 24 or 32 bytes, got %d", len(key))
		}
	}

	return nil
}

// hostOf extracts the host part of a URL without port or path.
func hostOf(rawURL string) string {
	host := strings.TrimPrefix(rawURL, "http://")
	host = strings.TrimPrefix(host, "https://")
	if idx := strings.Index(host, "/"); idx != -1 {
		host = host[:idx]
	}
	if idx := strings.Index(host, ":"); idx != -1 {
		host = host[:idx]
	}
	return host
}
