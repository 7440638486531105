// ABOUTME: Explicit per-call memoization scope carried through context.Context
// ABOUTME: Lets one request resolve the instance id once without any global cache

package enhanced

import (
	"context"
	"sync"
)

// Scope memoizes lookups for the lifetime of a single call. It is created by
// the caller and discarded with the request, so nothing leaks across calls.
type Scope struct {
	mu         sync.Mutex
	instanceID string
}

type scopeKey struct{}

// WithScope returns a context carrying a fresh, empty Scope.
func WithScope(ctx context.Context) context.Context {
	return context.WithValue(ctx, scopeKey{}, &Scope{})
}

// ScopeFromContext returns the Scope attached to ctx, or nil.
func ScopeFromContext(ctx context.Context) *Scope {
	s, _ := ctx.Value(scopeKey{}).(*Scope)
	return s
}

func (s *Scope) cachedInstanceID() (string, bool) {
	if s == nil {
		return "", false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.instanceID, s.instanceID != ""
}

func (s *Scope) rememberInstanceID(id string) {
	if s == nil {
		return
	}
	s.mu.Lock()
	s.instanceID = id
	s.mu.Unlock()
}
