package cache

import (
	"context"
	"fmt"
	"time"
)

// IdempotencyGuard records processed external ids with SetNX so a redelivered
// event is recognised before any work is done.
type IdempotencyGuard struct {
	store  Store
	prefix string
	ttl    time.Duration
}

func NewIdempotencyGuard(store Store, prefix string, ttl time.Duration) *IdempotencyGuard {
	if prefix == "" {
		prefix = "idem"
	}
	return &IdempotencyGuard{store: store, prefix: prefix, ttl: ttl}
}

func (g *IdempotencyGuard) key(scope, id string) string {
	return fmt.Sprintf("%s:%s:%s", g.prefix, scope, id)
}

// Claim returns true if this caller is the first to see id within scope.
func (g *IdempotencyGuard) Claim(ctx context.Context, scope, id string) (bool, error) {
	if g == nil || g.store == nil {
		return true, nil
	}
	return g.store.SetNX(ctx, g.key(scope, id), []byte("1"), g.ttl)
}

// Release forgets id so a later delivery is processed again. Used when
// processing failed after a successful Claim.
func (g *IdempotencyGuard) Release(ctx context.Context, scope, id string) error {
	if g == nil || g.store == nil {
		return nil
	}
	return g.store.Del(ctx, g.key(scope, id))
}
