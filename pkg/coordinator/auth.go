package coordinator

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"

	"github.com/cuemby/burrow/pkg/apierror"
	"github.com/cuemby/burrow/pkg/config"
)

// ErrUnauthorized is returned for missing, unknown or out-of-scope keys
var ErrUnauthorized = errors.New("unauthorized")

// Scope is what an API key may see: every tenant, or a fixed set
type Scope struct {
	Skeleton bool
	Tenants  map[string]bool
}

// Allows reports whether the scope covers tenant
func (s Scope) Allows(tenant string) bool {
	return s.Skeleton || s.Tenants[tenant]
}

type apiKey struct {
	key   []byte
	scope Scope
}

// KeyRing validates bearer keys against the configured secrets
type KeyRing struct {
	keys []apiKey
}

// NewKeyRing builds a key ring. The readonly key is the skeleton key.
func NewKeyRing(secrets config.MomSecrets) *KeyRing {
	kr := &KeyRing{}
	if secrets.ReadonlyAPIKey != "" {
		kr.keys = append(kr.keys, apiKey{key: []byte(secrets.ReadonlyAPIKey), scope: Scope{Skeleton: true}})
	}
	for key, tenants := range secrets.ScopedAPIKeys {
		scope := Scope{Tenants: make(map[string]bool, len(tenants))}
		for _, t := range tenants {
			scope.Tenants[t] = true
		}
		kr.keys = append(kr.keys, apiKey{key: []byte(key), scope: scope})
	}
	return kr
}

// Validate returns the scope of key
func (kr *KeyRing) Validate(key string) (Scope, error) {
	if key == "" {
		return Scope{}, ErrUnauthorized
	}
	candidate := []byte(key)
	for _, k := range kr.keys {
		if subtle.ConstantTimeCompare(k.key, candidate) == 1 {
			return k.scope, nil
		}
	}
	return Scope{}, ErrUnauthorized
}

// BearerToken extracts the token of an Authorization: Bearer header
func BearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(h, "Bearer ")
	if !ok {
		return ""
	}
	return strings.TrimSpace(token)
}

type scopeKey struct{}

func withScope(ctx context.Context, s Scope) context.Context {
	return context.WithValue(ctx, scopeKey{}, s)
}

// ScopeFrom returns the scope of the authenticated caller
func ScopeFrom(ctx context.Context) (Scope, bool) {
	s, ok := ctx.Value(scopeKey{}).(Scope)
	return s, ok
}

func (s *Service) authenticated(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		scope, err := s.keys.Validate(BearerToken(r))
		if err != nil {
			apierror.Write(w, apierror.New(apierror.KindUnauthorized, err))
			return
		}
		next.ServeHTTP(w, r.WithContext(withScope(r.Context(), scope)))
	})
}
