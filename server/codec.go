package server

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/gorilla/securecookie"
)

const hashKeyFile = "cookie_hash.key"

// CookieCodec turns cookie payloads into header-safe strings and back.
type CookieCodec interface {
	EncodeToken(name, token string) (string, error)
	DecodeToken(name, value string) (string, error)
	EncodeIdentity(name string, v StoredIdentity) (string, error)
	DecodeIdentity(name, value string) (StoredIdentity, error)
}

// plainCodec stores the token verbatim and the identity as URL-escaped JSON,
// since raw JSON quotes are not valid cookie octets. Decoding also accepts the
// unescaped JSON form.
type plainCodec struct{}

func (plainCodec) EncodeToken(_, token string) (string, error) {
	return token, nil
}

func (plainCodec) DecodeToken(_, value string) (string, error) {
	return value, nil
}

func (plainCodec) EncodeIdentity(_ string, v StoredIdentity) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return url.QueryEscape(string(b)), nil
}

func (plainCodec) DecodeIdentity(_ string, value string) (StoredIdentity, error) {
	raw := value
	if !strings.HasPrefix(value, "{") {
		unescaped, err := url.QueryUnescape(value)
		if err != nil {
			return StoredIdentity{}, err
		}
		raw = unescaped
	}
	var v StoredIdentity
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return StoredIdentity{}, err
	}
	return v, nil
}

// signedCodec authenticates (and optionally encrypts) values with securecookie.
type signedCodec struct {
	sc *securecookie.SecureCookie
}

func newSignedCodec(hashKey, blockKey []byte, ttl int) *signedCodec {
	sc := securecookie.New(hashKey, blockKey)
	sc.SetSerializer(securecookie.JSONEncoder{})
	sc.MaxAge(ttl)
	return &signedCodec{sc: sc}
}

func (c *signedCodec) EncodeToken(name, token string) (string, error) {
	return c.sc.Encode(name, token)
}

func (c *signedCodec) DecodeToken(name, value string) (string, error) {
	var token string
	if err := c.sc.Decode(name, value, &token); err != nil {
		return "", err
	}
	return token, nil
}

func (c *signedCodec) EncodeIdentity(name string, v StoredIdentity) (string, error) {
	return c.sc.Encode(name, v)
}

func (c *signedCodec) DecodeIdentity(name, value string) (StoredIdentity, error) {
	var v StoredIdentity
	if err := c.sc.Decode(name, value, &v); err != nil {
		return StoredIdentity{}, err
	}
	return v, nil
}

// NewCookieCodec builds the codec selected by the session config. When signing
// is enabled without a configured hash key, one is loaded from (or generated
// into) the secrets directory.
func NewCookieCodec(cfg Config, logger *slog.Logger) (CookieCodec, error) {
	if !cfg.Session.Signed {
		return plainCodec{}, nil
	}

	var hashKey []byte
	if cfg.Session.HashKey != "" {
		k, err := base64.StdEncoding.DecodeString(cfg.Session.HashKey)
		if err != nil {
			return nil, fmt.Errorf("decode session.hash_key: %w", err)
		}
		hashKey = k
	} else {
		k, err := loadOrCreateHashKey(cfg.Server.SecretsPath, logger)
		if err != nil {
			return nil, err
		}
		hashKey = k
	}

	var blockKey []byte
	if cfg.Session.BlockKey != "" {
		k, err := base64.StdEncoding.DecodeString(cfg.Session.BlockKey)
		if err != nil {
			return nil, fmt.Errorf("decode session.block_key: %w", err)
		}
		blockKey = k
	}

	return newSignedCodec(hashKey, blockKey, int(cfg.Session.TTL.Seconds())), nil
}

func loadOrCreateHashKey(dir string, logger *slog.Logger) ([]byte, error) {
	path := filepath.Join(dir, hashKeyFile)
	b, err := os.ReadFile(path)
	if err == nil {
		key, err := base64.StdEncoding.DecodeString(string(b))
		if err != nil {
			return nil, fmt.Errorf("decode %s: %w", path, err)
		}
		return key, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	key := securecookie.GenerateRandomKey(64)
	if key == nil {
		return nil, errors.New("generate cookie hash key")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create secrets dir: %w", err)
	}
	if err := os.WriteFile(path, []byte(base64.StdEncoding.EncodeToString(key)), 0o600); err != nil {
		return nil, fmt.Errorf("write %s: %w", path, err)
	}
	logger.Info("generated cookie hash key", "path", path)
	return key, nil
}
