package auth

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"

	"github.com/go-faster/errors"
)

var (
	// ErrKeyNotFound is returned by repositories for unknown or inactive keys.
	ErrKeyNotFound = errors.New("api key not found")
	// ErrUnauthorized is returned for keys that do not authenticate.
	ErrUnauthorized = errors.New("unauthorized")
)

// APIKeyInfo is a stored API key and the principal it authenticates.
type APIKeyInfo struct {
	ID      string
	KeyHash string
	Name    string
	UserID  string
	Role    Role
}

// Repository provides lookup of API keys by their HMAC hash.
type Repository interface {
	FindByHash(ctx context.Context, hash string) (*APIKeyInfo, error)
}

// HashKey returns the hex HMAC-SHA256 of key under pepper, as stored.
func HashKey(pepper []byte, key string) string {
	return hex.EncodeToString(mac(pepper, key))
}

func mac(pepper []byte, key string) []byte {
	h := hmac.New(sha256.New, pepper)
	h.Write([]byte(key))
	return h.Sum(nil)
}

// Authenticator resolves raw API keys into principals.
type Authenticator struct {
	keys   Repository
	pepper []byte
}

// NewAuthenticator creates an Authenticator over the given key store.
func NewAuthenticator(keys Repository, pepper []byte) *Authenticator {
	return &Authenticator{keys: keys, pepper: pepper}
}

// Authenticate returns the principal owning key, or ErrUnauthorized.
func (a *Authenticator) Authenticate(ctx context.Context, key string) (Principal, error) {
	if key == "" {
		return Principal{}, ErrUnauthorized
	}
	sum := mac(a.pepper, key)

	info, err := a.keys.FindByHash(ctx, hex.EncodeToString(sum))
	if err != nil {
		if errors.Is(err, ErrKeyNotFound) {
			return Principal{}, ErrUnauthorized
		}
		return Principal{}, errors.Wrap(err, "find api key")
	}

	stored, err := hex.DecodeString(info.KeyHash)
	if err != nil || subtle.ConstantTimeCompare(sum, stored) != 1 {
		return Principal{}, ErrUnauthorized
	}

	role := info.Role
	if role == "" {
		role = RoleCustomer
	}
	return Principal{UserID: info.UserID, Role: role}, nil
}
