package auth

import (
	"context"

	"github.com/ponulis/Software-Design-POS-System-sub001/internal/domain/apperr"
)

// ErrKeyNotFound is returned when no active key matches a hash.
var ErrKeyNotFound = apperr.New(apperr.KindNotFound, "api_key_not_found", "api key not found")

// APIKeyInfo holds the identity and permission data for a validated API key.
// Every key belongs to exactly one business; all requests made with it are
// scoped to that business.
type APIKeyInfo struct {
	ID         string
	BusinessID string
	KeyHash    string
	Name       string
	Scopes     []string
}

// HasScope reports whether the key was granted scope.
func (k *APIKeyInfo) HasScope(scope string) bool {
	for _, s := range k.Scopes {
		if s == scope || s == "*" {
			return true
		}
	}
	return false
}

// Repository provides lookup of API keys by their HMAC hash.
type Repository interface {
	FindByHash(ctx context.Context, hash string) (*APIKeyInfo, error)
}

type ctxKey struct{}

// WithKey returns a copy of ctx carrying the authenticated key.
func WithKey(ctx context.Context, k *APIKeyInfo) context.Context {
	return context.WithValue(ctx, ctxKey{}, k)
}

// FromContext returns the authenticated key stored in ctx, if any.
func FromContext(ctx context.Context) (*APIKeyInfo, bool) {
	k, ok := ctx.Value(ctxKey{}).(*APIKeyInfo)
	return k, ok
}
