package server

import (
	"errors"
	"fmt"
)

// Sentinel errors for the sign-in handshake.
var (
	ErrConfiguration = errors.New("github oauth not configured")
	ErrProvider      = errors.New("provider returned an error")
	ErrNetwork       = errors.New("provider unreachable")
	ErrParse         = errors.New("stored identity is malformed")
)

// OAuthExchangeError reports a failed code exchange or identity fetch.
type OAuthExchangeError struct {
	Kind error
	Err  error
}

func (e *OAuthExchangeError) Error() string {
	if e.Err == nil {
		return e.Kind.Error()
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

// Is matches the error kind so callers can use errors.Is with the sentinels.
func (e *OAuthExchangeError) Is(target error) bool {
	return e.Kind == target
}

func (e *OAuthExchangeError) Unwrap() error {
	return e.Err
}

// Reason is the coarse category shown to end users.
func (e *OAuthExchangeError) Reason() string {
	return reasonFor(e)
}

func exchangeError(kind, err error) error {
	return &OAuthExchangeError{Kind: kind, Err: err}
}

// reasonFor maps an error to the coarse tag appended to /auth/error.
func reasonFor(err error) string {
	switch {
	case errors.Is(err, ErrConfiguration):
		return "not_configured"
	case errors.Is(err, ErrProvider):
		return "provider_error"
	case errors.Is(err, ErrNetwork):
		return "network_error"
	default:
		return "unknown"
	}
}
