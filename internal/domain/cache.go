package domain

import (
	"context"
	"time"
)

// HealthCache stores the most recent venue-reported account health so read
// paths can serve snapshots without a venue round trip. Engine decisions
// always re-fetch from the venue; the cache is advisory only.
type HealthCache interface {
	Set(ctx context.Context, venue string, health AccountHealth, ts time.Time) error
	Get(ctx context.Context, venue string) (AccountHealth, time.Time, error)
}

// RateLimiter provides distributed rate limiting for venue gateway calls.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
	Wait(ctx context.Context, key string) error
}

// LockManager provides distributed locking. The engine holds a per-owner
// lock for the duration of every state-changing operation; a second call
// into the same position fails with ErrLockHeld instead of interleaving.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// StreamMessage represents a single entry from a durable stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus provides pub/sub and durable streams for engine events.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}
