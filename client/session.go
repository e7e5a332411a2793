// Package client is a Go consumer of the dashboard session API. It mirrors
// what the browser UI does: query the session once, expose the user, and
// drive sign-in and sign-out.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/net/publicsuffix"
)

const (
	sessionPath = "/api/auth/session"
	signInPath  = "/api/auth/github"
)

// ID is a user id reported as either a JSON number or a string.
type ID string

// UnmarshalJSON accepts a JSON number or string.
func (id *ID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("user id: %w", err)
	}
	*id = ID(n.String())
	return nil
}

// User is the identity reported by the session endpoint.
type User struct {
	ID        ID     `json:"id"`
	Login     string `json:"login"`
	Name      string `json:"name,omitempty"`
	Email     string `json:"email,omitempty"`
	AvatarURL string `json:"avatar_url,omitempty"`
}

// Navigator moves the user agent to another page.
type Navigator interface {
	Navigate(target string)
}

// NavigatorFunc adapts a function to Navigator.
type NavigatorFunc func(target string)

// Navigate calls f(target).
func (f NavigatorFunc) Navigate(target string) { f(target) }

// Config configures a Session.
type Config struct {
	BaseURL    string
	HTTPClient *http.Client
	Navigator  Navigator
}

// Session holds the client-side view of the current sign-in.
type Session struct {
	base      *url.URL
	client    *http.Client
	navigator Navigator

	mu      sync.RWMutex
	user    *User
	loading bool
}

// New creates a session for the dashboard at cfg.BaseURL. Without an explicit
// HTTP client, one with a cookie jar is created so cookies persist between
// calls.
func New(cfg Config) (*Session, error) {
	base, err := url.Parse(strings.TrimSuffix(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, errors.New("base url must be absolute")
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
		if err != nil {
			return nil, fmt.Errorf("create cookie jar: %w", err)
		}
		httpClient = &http.Client{Jar: jar, Timeout: 10 * time.Second}
	}

	navigator := cfg.Navigator
	if navigator == nil {
		navigator = NavigatorFunc(func(string) {})
	}

	return &Session{
		base:      base,
		client:    httpClient,
		navigator: navigator,
		loading:   true,
	}, nil
}

// Load queries the session endpoint once. Any failure leaves the user nil.
func (s *Session) Load(ctx context.Context) {
	user, _ := s.fetch(ctx)

	s.mu.Lock()
	s.user = user
	s.loading = false
	s.mu.Unlock()
}

// User returns the signed-in user, or nil.
func (s *Session) User() *User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.user == nil {
		return nil
	}
	u := *s.user
	return &u
}

// IsLoading reports whether the first Load has not finished yet.
func (s *Session) IsLoading() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loading
}

// SignIn navigates to the GitHub authorize entry point.
func (s *Session) SignIn() {
	s.navigator.Navigate(s.resolve(signInPath))
}

// SignOut tears down the server session, forgets the local user and
// navigates home. The local user is cleared even if the request fails.
func (s *Session) SignOut(ctx context.Context) error {
	err := s.teardown(ctx)

	s.mu.Lock()
	s.user = nil
	s.mu.Unlock()

	s.navigator.Navigate(s.resolve("/"))
	return err
}

func (s *Session) fetch(ctx context.Context) (*User, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.resolve(sessionPath), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("session query: status %d", resp.StatusCode)
	}

	var body struct {
		User *User `json:"user"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	return body.User, nil
}

func (s *Session) teardown(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, s.resolve(sessionPath), nil)
	if err != nil {
		return err
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("sign out: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1024))

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("sign out: status %d", resp.StatusCode)
	}
	return nil
}

func (s *Session) resolve(path string) string {
	return s.base.String() + path
}
