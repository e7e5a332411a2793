package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"slices"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/github"
)

const (
	defaultGitHubAPIURL = "https://api.github.com"
	userPath            = "/user"
	emailPath           = "/user/emails"
	userAgent           = "devdash"
)

// IdentityProvider represents the behaviour required from the OAuth provider.
type IdentityProvider interface {
	Configured() bool
	AuthCodeURL(state string) string
	Exchange(ctx context.Context, code string) (Token, error)
	FetchIdentity(ctx context.Context, token Token) (Identity, error)
}

// GitHubProvider exchanges authorization codes and reads the signed-in user.
type GitHubProvider struct {
	oauthConfig *oauth2.Config
	apiURL      string
	httpClient  *http.Client
	configured  bool
	logger      *slog.Logger
}

// NewGitHubProvider builds the provider from config. Missing credentials yield
// a provider whose Configured reports false; it never touches the network.
func NewGitHubProvider(cfg Config, logger *slog.Logger) *GitHubProvider {
	endpoint := github.Endpoint
	if cfg.GitHub.AuthURL != "" {
		endpoint.AuthURL = cfg.GitHub.AuthURL
	}
	if cfg.GitHub.TokenURL != "" {
		endpoint.TokenURL = cfg.GitHub.TokenURL
	}
	endpoint.AuthStyle = oauth2.AuthStyleInParams

	apiURL := strings.TrimSuffix(cfg.GitHub.APIURL, "/")
	if apiURL == "" {
		apiURL = defaultGitHubAPIURL
	}

	return &GitHubProvider{
		oauthConfig: &oauth2.Config{
			ClientID:     cfg.GitHub.ClientID,
			ClientSecret: cfg.GitHub.ClientSecret,
			RedirectURL:  cfg.GitHub.CallbackURL,
			Endpoint:     endpoint,
			Scopes:       cfg.GitHub.Scopes,
		},
		apiURL:     apiURL,
		httpClient: &http.Client{Timeout: cfg.ProviderTimeout()},
		configured: cfg.GitHub.Configured(),
		logger:     logger,
	}
}

// Configured reports whether client id, secret and callback are all set.
func (p *GitHubProvider) Configured() bool {
	return p.configured
}

// AuthCodeURL constructs the authorize redirect carrying state. The
// redirect_uri is the same value later sent with the code exchange.
func (p *GitHubProvider) AuthCodeURL(state string) string {
	return p.oauthConfig.AuthCodeURL(state)
}

// Exchange trades an authorization code for an access token.
func (p *GitHubProvider) Exchange(ctx context.Context, code string) (Token, error) {
	if !p.configured {
		return Token{}, exchangeError(ErrConfiguration, nil)
	}
	if code == "" {
		return Token{}, exchangeError(ErrProvider, errors.New("empty code"))
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, p.httpClient)
	tok, err := p.oauthConfig.Exchange(ctx, code)
	if err != nil {
		return Token{}, classifyExchangeError(err)
	}

	out := Token{
		AccessToken: tok.AccessToken,
		TokenType:   tok.TokenType,
	}
	if scope, ok := tok.Extra("scope").(string); ok {
		out.Scope = scope
	}
	return out, nil
}

// FetchIdentity reads the authenticated user's profile. A missing public email
// is filled from the primary verified address when the token allows it.
func (p *GitHubProvider) FetchIdentity(ctx context.Context, token Token) (Identity, error) {
	client := p.apiClient(ctx, token)

	var profile struct {
		ID        int64  `json:"id"`
		Login     string `json:"login"`
		Name      string `json:"name"`
		Email     string `json:"email"`
		AvatarURL string `json:"avatar_url"`
	}
	if err := p.getJSON(ctx, client, userPath, &profile); err != nil {
		return Identity{}, err
	}
	if profile.ID == 0 || profile.Login == "" {
		return Identity{}, exchangeError(ErrProvider, errors.New("user response missing id or login"))
	}

	identity := Identity{
		ID:        NumericID(profile.ID),
		Login:     profile.Login,
		Name:      profile.Name,
		Email:     profile.Email,
		AvatarURL: profile.AvatarURL,
	}

	if identity.Email == "" && p.canReadEmails(token) {
		email, err := p.primaryEmail(ctx, client)
		if err != nil {
			p.logger.Warn("github email lookup failed", "login", identity.Login, "error", err)
		} else {
			identity.Email = email
		}
	}

	return identity, nil
}

func (p *GitHubProvider) primaryEmail(ctx context.Context, client *http.Client) (string, error) {
	var emails []struct {
		Email    string `json:"email"`
		Primary  bool   `json:"primary"`
		Verified bool   `json:"verified"`
	}
	if err := p.getJSON(ctx, client, emailPath, &emails); err != nil {
		return "", err
	}
	for _, e := range emails {
		if e.Primary && e.Verified {
			return e.Email, nil
		}
	}
	return "", nil
}

// canReadEmails checks the granted scope, falling back to the requested scopes
// when the provider did not echo any.
func (p *GitHubProvider) canReadEmails(token Token) bool {
	granted := strings.FieldsFunc(token.Scope, func(r rune) bool { return r == ',' || r == ' ' })
	if len(granted) == 0 {
		granted = p.oauthConfig.Scopes
	}
	return slices.Contains(granted, "user:email") || slices.Contains(granted, "user")
}

func (p *GitHubProvider) apiClient(ctx context.Context, token Token) *http.Client {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, p.httpClient)
	client := oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{
		AccessToken: token.AccessToken,
		TokenType:   token.TokenType,
	}))
	client.Timeout = p.httpClient.Timeout
	return client
}

func (p *GitHubProvider) getJSON(ctx context.Context, client *http.Client, path string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.apiURL+path, nil)
	if err != nil {
		return exchangeError(ErrProvider, fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("User-Agent", userAgent)

	resp, err := client.Do(req)
	if err != nil {
		return exchangeError(ErrNetwork, fmt.Errorf("GET %s: %w", path, err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return exchangeError(ErrProvider, fmt.Errorf("GET %s: status %d: %s", path, resp.StatusCode, strings.TrimSpace(string(body))))
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return exchangeError(ErrProvider, fmt.Errorf("decode %s: %w", path, err))
	}
	return nil
}

func classifyExchangeError(err error) error {
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		return exchangeError(ErrProvider, err)
	}
	var urlErr *url.Error
	var netErr net.Error
	if errors.As(err, &urlErr) || errors.As(err, &netErr) {
		return exchangeError(ErrNetwork, err)
	}
	return exchangeError(ErrProvider, err)
}
