package handler

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"net/http"

	"github.com/xenking/rop-settlement/internal/domain/auth"
)

// APIKeyHeader carries the caller's API key.
const APIKeyHeader = "api_key"

// Authenticator resolves the api_key header to a stored key using an
// HMAC-SHA256 hash with a server-side pepper.
type Authenticator struct {
	apikeys auth.Repository
	pepper  []byte
}

// NewAuthenticator creates an Authenticator.
func NewAuthenticator(apikeys auth.Repository, pepper []byte) *Authenticator {
	return &Authenticator{
		apikeys: apikeys,
		pepper:  pepper,
	}
}

// HashKey returns the hex HMAC-SHA256 of key under pepper, as stored in api_keys.
func HashKey(pepper []byte, key string) string {
	mac := hmac.New(sha256.New, pepper)
	mac.Write([]byte(key))
	return hex.EncodeToString(mac.Sum(nil))
}

// Middleware authenticates the request and stores the key in its context.
// Requests without a valid key are rejected with 401.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key, err := a.authenticate(r)
		if err != nil {
			writeError(w, r, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(auth.WithKey(r.Context(), key)))
	})
}

func (a *Authenticator) authenticate(r *http.Request) (*auth.APIKeyInfo, error) {
	raw := r.Header.Get(APIKeyHeader)
	if raw == "" {
		return nil, auth.ErrUnauthenticated
	}
	hexHash := HashKey(a.pepper, raw)

	info, err := a.apikeys.FindByHash(r.Context(), hexHash)
	if err != nil {
		return nil, auth.ErrUnauthenticated
	}

	// The row was found by hash; compare anyway so a mismatched row cannot pass.
	stored, err := hex.DecodeString(info.KeyHash)
	if err != nil {
		return nil, auth.ErrUnauthenticated
	}
	computed, _ := hex.DecodeString(hexHash)
	if subtle.ConstantTimeCompare(computed, stored) != 1 {
		return nil, auth.ErrUnauthenticated
	}
	return info, nil
}
