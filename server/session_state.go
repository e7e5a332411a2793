package server

import (
	"fmt"
	"net/http"
	"time"
)

// SessionKind tags the resolved state of a browser session.
type SessionKind int

const (
	SessionAnonymous SessionKind = iota
	SessionDemo
	SessionAuthenticated
)

func (k SessionKind) String() string {
	switch k {
	case SessionAuthenticated:
		return "authenticated"
	case SessionDemo:
		return "demo"
	default:
		return "anonymous"
	}
}

// SessionState is Authenticated(Record) | Demo | Anonymous. Record is only
// meaningful when Kind is SessionAuthenticated.
type SessionState struct {
	Kind   SessionKind
	Record SessionRecord
}

// User returns the identity to report for this state, or nil when anonymous.
func (s SessionState) User() *Identity {
	switch s.Kind {
	case SessionAuthenticated:
		id := s.Record.Identity
		return &id
	case SessionDemo:
		id := DemoIdentity
		return &id
	default:
		return nil
	}
}

// SessionInputs are the raw cookie values the session is resolved from.
type SessionInputs struct {
	Token    string
	UserData string
	Demo     string
}

// InputsFromCookies picks the session cookies out of a request cookie set.
// The first value sent under each name wins.
func InputsFromCookies(cookies []*http.Cookie) SessionInputs {
	return SessionInputs{
		Token:    cookieValue(cookies, TokenCookieName),
		UserData: cookieValue(cookies, UserCookieName),
		Demo:     cookieValue(cookies, DemoCookieName),
	}
}

// ResolveSession evaluates authenticated, then demo, then anonymous. A
// user_data value that cannot be decoded is reported as an ErrParse error
// alongside the fallback state; it never prevents resolution.
func ResolveSession(in SessionInputs, codec CookieCodec) (SessionState, error) {
	var parseErr error

	if in.Token != "" && in.UserData != "" {
		record, err := decodeRecord(in, codec)
		if err == nil {
			return SessionState{Kind: SessionAuthenticated, Record: record}, nil
		}
		parseErr = fmt.Errorf("%w: %v", ErrParse, err)
	}

	if in.Demo == "true" {
		return SessionState{Kind: SessionDemo}, parseErr
	}
	return SessionState{Kind: SessionAnonymous}, parseErr
}

func decodeRecord(in SessionInputs, codec CookieCodec) (SessionRecord, error) {
	token, err := codec.DecodeToken(TokenCookieName, in.Token)
	if err != nil {
		return SessionRecord{}, fmt.Errorf("decode token: %w", err)
	}
	if token == "" {
		return SessionRecord{}, fmt.Errorf("empty token")
	}

	stored, err := codec.DecodeIdentity(UserCookieName, in.UserData)
	if err != nil {
		return SessionRecord{}, fmt.Errorf("decode identity: %w", err)
	}
	if stored.ID.IsZero() && stored.Login == "" {
		return SessionRecord{}, fmt.Errorf("identity has neither id nor login")
	}

	record := SessionRecord{
		AccessToken: token,
		Identity:    stored.Identity,
	}
	if stored.IssuedAt > 0 {
		record.IssuedAt = time.Unix(stored.IssuedAt, 0)
	}
	return record, nil
}
