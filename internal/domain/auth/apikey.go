package auth

import (
	"context"
	"slices"

	"github.com/go-faster/errors"
)

// Scopes understood by the settlement API.
const (
	ScopeSettle = "settlement:write"
	ScopeAll    = "*"
)

var (
	// ErrUnauthenticated is returned when no valid API key is presented.
	ErrUnauthenticated = errors.New("unauthorized")
	// ErrForbidden is returned when the key may not update the order.
	ErrForbidden = errors.New("forbidden")
)

// APIKeyInfo holds the identity and permission data for a validated API key.
type APIKeyInfo struct {
	ID      string
	KeyHash string
	Name    string
	Scopes  []string
}

// HasScope reports whether the key grants scope, directly or via ScopeAll.
func (k *APIKeyInfo) HasScope(scope string) bool {
	return slices.Contains(k.Scopes, scope) || slices.Contains(k.Scopes, ScopeAll)
}

// Repository provides lookup of API keys by their HMAC hash.
type Repository interface {
	FindByHash(ctx context.Context, hash string) (*APIKeyInfo, error)
}

type keyCtx struct{}

// WithKey stores the authenticated key in ctx.
func WithKey(ctx context.Context, k *APIKeyInfo) context.Context {
	return context.WithValue(ctx, keyCtx{}, k)
}

// KeyFrom returns the authenticated key stored in ctx, or nil.
func KeyFrom(ctx context.Context) *APIKeyInfo {
	k, _ := ctx.Value(keyCtx{}).(*APIKeyInfo)
	return k
}

// CanUpdateOrder decides whether the caller in ctx may settle the order.
func CanUpdateOrder(ctx context.Context, _ string) error {
	k := KeyFrom(ctx)
	if k == nil {
		return ErrUnauthenticated
	}
	if !k.HasScope(ScopeSettle) {
		return ErrForbidden
	}
	return nil
}
