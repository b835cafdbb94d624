package repository

import (
	"context"
	"time"
)

// ReplayGuard is a best-effort fast path for collapsing redelivered webhooks
// before they reach the database. The conditional repository updates remain
// the source of truth; a guard miss is never fatal.
type ReplayGuard interface {
	// Acquire claims the idempotency key for ttl. Returns a release token,
	// or ok=false when another delivery already holds the key.
	Acquire(ctx context.Context, key string, ttl time.Duration) (token string, ok bool, err error)
	// Release frees the key so a retried delivery can be processed after a
	// failed transaction. Only the holder of token may release.
	Release(ctx context.Context, key, token string) error
}
