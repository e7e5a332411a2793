package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// UserID holds a GitHub numeric id or a synthetic string id. It records the
// JSON form it was read in and marshals back the same way.
type UserID struct {
	Value   string
	Numeric bool
}

// NumericID returns an id that marshals as a JSON number.
func NumericID(n int64) UserID {
	return UserID{Value: strconv.FormatInt(n, 10), Numeric: true}
}

// StringID returns an id that marshals as a JSON string.
func StringID(s string) UserID {
	return UserID{Value: s}
}

func (id UserID) String() string { return id.Value }

// IsZero reports whether no id was set.
func (id UserID) IsZero() bool { return id.Value == "" }

func (id UserID) MarshalJSON() ([]byte, error) {
	if !id.Numeric {
		return json.Marshal(id.Value)
	}
	if _, err := strconv.ParseInt(id.Value, 10, 64); err != nil {
		return nil, fmt.Errorf("user id %q is not an integer", id.Value)
	}
	return []byte(id.Value), nil
}

// UnmarshalJSON accepts a JSON number or string.
func (id *UserID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = StringID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("user id: %w", err)
	}
	v, err := n.Int64()
	if err != nil {
		return fmt.Errorf("user id %q is not an integer", n)
	}
	*id = NumericID(v)
	return nil
}

// Identity is the normalized user profile snapshot stored at sign-in.
type Identity struct {
	ID        UserID `json:"id"`
	Login     string `json:"login"`
	Name      string `json:"name,omitempty"`
	Email     string `json:"email,omitempty"`
	AvatarURL string `json:"avatar_url,omitempty"`
}

// DemoIdentity is reported for visitors in demo mode.
var DemoIdentity = Identity{
	ID:    StringID("demo-user"),
	Login: "demo-user",
	Name:  "Demo User",
}

// SessionRecord is an authenticated session as carried by the cookies.
type SessionRecord struct {
	AccessToken string
	Identity    Identity
	IssuedAt    time.Time
}

// Token is the result of a successful code exchange.
type Token struct {
	AccessToken string
	TokenType   string
	Scope       string
}

// StoredIdentity is the user_data cookie payload: the identity snapshot plus
// the time it was issued.
type StoredIdentity struct {
	Identity
	IssuedAt int64 `json:"issued_at,omitempty"`
}
