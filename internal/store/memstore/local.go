package memstore

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/yieldloop/loopd/internal/domain"
)

func cloneBig(n *big.Int) *big.Int {
	if n == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(n)
}

// LockManager is an in-process domain.LockManager. It provides the same
// mutual-exclusion semantics as the Redis lock for single-process runs.
type LockManager struct {
	mu    sync.Mutex
	locks map[string]struct{}
}

// NewLockManager creates an empty in-process lock manager.
func NewLockManager() *LockManager {
	return &LockManager{locks: make(map[string]struct{})}
}

// Acquire obtains the named lock or returns ErrLockHeld. The TTL is ignored;
// in-process locks live until the unlock function runs.
func (lm *LockManager) Acquire(_ context.Context, key string, _ time.Duration) (func(), error) {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	if _, held := lm.locks[key]; held {
		return nil, domain.ErrLockHeld
	}
	lm.locks[key] = struct{}{}

	released := false
	unlock := func() {
		lm.mu.Lock()
		defer lm.mu.Unlock()
		if released {
			return
		}
		released = true
		delete(lm.locks, key)
	}
	return unlock, nil
}

// SignalBus is an in-process domain.SignalBus backed by channels and an
// append-only stream slice.
type SignalBus struct {
	mu      sync.Mutex
	subs    map[string][]chan []byte
	streams map[string][]domain.StreamMessage
	nextID  int64
}

// NewSignalBus creates an empty in-process signal bus.
func NewSignalBus() *SignalBus {
	return &SignalBus{
		subs:    make(map[string][]chan []byte),
		streams: make(map[string][]domain.StreamMessage),
		nextID:  1,
	}
}

func (b *SignalBus) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	subs := make([]chan []byte, len(b.subs[channel]))
	copy(subs, b.subs[channel])
	b.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- payload:
		default: // drop for slow subscribers
		}
	}
	return nil
}

func (b *SignalBus) Subscribe(_ context.Context, channel string) (<-chan []byte, error) {
	ch := make(chan []byte, 64)
	b.mu.Lock()
	b.subs[channel] = append(b.subs[channel], ch)
	b.mu.Unlock()
	return ch, nil
}

func (b *SignalBus) StreamAppend(_ context.Context, stream string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	// Zero-padded so IDs sort as strings, like Redis stream IDs do.
	b.streams[stream] = append(b.streams[stream], domain.StreamMessage{
		ID:      fmt.Sprintf("%020d", b.nextID),
		Payload: payload,
	})
	b.nextID++
	return nil
}

func (b *SignalBus) StreamRead(_ context.Context, stream string, lastID string, count int) ([]domain.StreamMessage, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []domain.StreamMessage
	for _, m := range b.streams[stream] {
		if lastID != "" && m.ID <= lastID {
			continue
		}
		out = append(out, m)
		if count > 0 && len(out) >= count {
			break
		}
	}
	return out, nil
}

// HealthCache is an in-process domain.HealthCache.
type HealthCache struct {
	mu      sync.RWMutex
	entries map[string]healthEntry
}

type healthEntry struct {
	health domain.AccountHealth
	ts     time.Time
}

// NewHealthCache creates an empty in-process health cache.
func NewHealthCache() *HealthCache {
	return &HealthCache{entries: make(map[string]healthEntry)}
}

func (c *HealthCache) Set(_ context.Context, venue string, health domain.AccountHealth, ts time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[venue] = healthEntry{health: health, ts: ts}
	return nil
}

func (c *HealthCache) Get(_ context.Context, venue string) (domain.AccountHealth, time.Time, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[venue]
	if !ok {
		return domain.AccountHealth{}, time.Time{}, domain.ErrNotFound
	}
	return e.health, e.ts, nil
}

// Compile-time interface checks.
var (
	_ domain.LockManager = (*LockManager)(nil)
	_ domain.SignalBus   = (*SignalBus)(nil)
	_ domain.HealthCache = (*HealthCache)(nil)
)
