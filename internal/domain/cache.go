package domain

import (
	"context"
	"time"
)

// MarketCache holds the latest catalog snapshot for other processes.
type MarketCache interface {
	ReplaceAll(ctx context.Context, markets []Market) error
	Get(ctx context.Context, id string) (Market, error)
	IDs(ctx context.Context) ([]string, error)
}

// RateLimiter provides distributed rate limiting.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
	Wait(ctx context.Context, key string) error
}

// LockManager provides distributed locking.
type LockManager interface {
	// Acquire fails with ErrLockHeld when another holder owns key.
	Acquire(ctx context.Context, key string, ttl time.Duration) (Lock, error)
}

// Lock is a held lock. It expires after its TTL unless refreshed.
type Lock interface {
	// Refresh resets the TTL. It fails with ErrLockLost once the lock has
	// expired or passed to another holder.
	Refresh(ctx context.Context, ttl time.Duration) error
	// Release drops the lock. Safe to call more than once.
	Release()
}

// SignalBus publishes bot events for other consumers.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
}
