// Package memstore provides in-memory implementations of the domain store
// and cache interfaces. The sim mode runs the full engine against memstore
// and the venue simulators with no external dependencies; engine tests use
// it the same way.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/yieldloop/loopd/internal/domain"
)

// PositionStore is an in-memory domain.PositionStore.
type PositionStore struct {
	mu        sync.RWMutex
	positions map[string]domain.Position
}

// NewPositionStore creates an empty in-memory position store.
func NewPositionStore() *PositionStore {
	return &PositionStore{positions: make(map[string]domain.Position)}
}

func clonePosition(p domain.Position) domain.Position {
	c := p
	c.CollateralDeposited = cloneBig(p.CollateralDeposited)
	c.DebtOutstanding = cloneBig(p.DebtOutstanding)
	c.Claims.Principal = cloneBig(p.Claims.Principal)
	c.Claims.Yield = cloneBig(p.Claims.Yield)
	c.InitialDeposit = cloneBig(p.InitialDeposit)
	return c
}

func (s *PositionStore) Create(_ context.Context, pos domain.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.positions[pos.ID]; ok {
		return domain.ErrAlreadyExists
	}
	if pos.IsActive {
		for _, existing := range s.positions {
			if existing.IsActive && existing.Owner == pos.Owner {
				return domain.ErrPositionActive
			}
		}
	}
	s.positions[pos.ID] = clonePosition(pos)
	return nil
}

func (s *PositionStore) Update(_ context.Context, pos domain.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.positions[pos.ID]; !ok {
		return domain.ErrNotFound
	}
	s.positions[pos.ID] = clonePosition(pos)
	return nil
}

func (s *PositionStore) GetByID(_ context.Context, id string) (domain.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.positions[id]
	if !ok {
		return domain.Position{}, domain.ErrNotFound
	}
	return clonePosition(p), nil
}

func (s *PositionStore) GetActive(_ context.Context, owner common.Address) (domain.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.positions {
		if p.IsActive && p.Owner == owner {
			return clonePosition(p), nil
		}
	}
	return domain.Position{}, domain.ErrNotFound
}

func (s *PositionStore) ListActive(_ context.Context, opts domain.ListOpts) ([]domain.Position, error) {
	return s.list(true, opts), nil
}

func (s *PositionStore) ListClosed(_ context.Context, opts domain.ListOpts) ([]domain.Position, error) {
	return s.list(false, opts), nil
}

func (s *PositionStore) list(active bool, opts domain.ListOpts) []domain.Position {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Position
	for _, p := range s.positions {
		if p.IsActive != active {
			continue
		}
		if opts.Since != nil && p.OpenedAt.Before(*opts.Since) {
			continue
		}
		if opts.Until != nil && p.OpenedAt.After(*opts.Until) {
			continue
		}
		out = append(out, clonePosition(p))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OpenedAt.After(out[j].OpenedAt) })
	if opts.Offset > 0 {
		if opts.Offset >= len(out) {
			return nil
		}
		out = out[opts.Offset:]
	}
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out
}

func (s *PositionStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.positions[id]
	if !ok || p.IsActive {
		return domain.ErrNotFound
	}
	delete(s.positions, id)
	return nil
}

// RegistryStore is an in-memory domain.RegistryStore.
type RegistryStore struct {
	mu      sync.RWMutex
	entries map[string]domain.RegistryEntry
}

// NewRegistryStore creates an empty in-memory registry store.
func NewRegistryStore() *RegistryStore {
	return &RegistryStore{entries: make(map[string]domain.RegistryEntry)}
}

func registryKey(cat domain.VenueCategory, addr common.Address) string {
	return string(cat) + "/" + addr.Hex()
}

func (s *RegistryStore) Upsert(_ context.Context, entry domain.RegistryEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[registryKey(entry.Category, entry.Address)] = entry
	return nil
}

func (s *RegistryStore) Get(_ context.Context, category domain.VenueCategory, addr common.Address) (domain.RegistryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[registryKey(category, addr)]
	if !ok {
		return domain.RegistryEntry{}, domain.ErrNotFound
	}
	return e, nil
}

func (s *RegistryStore) ListByCategory(_ context.Context, category domain.VenueCategory) ([]domain.RegistryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.RegistryEntry
	for _, e := range s.entries {
		if e.Category == category {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Address.Hex() < out[j].Address.Hex() })
	return out, nil
}

// StrategyConfigStore is an in-memory domain.StrategyConfigStore.
type StrategyConfigStore struct {
	mu  sync.RWMutex
	cfg *domain.StrategyConfig
}

// NewStrategyConfigStore creates an empty in-memory config store.
func NewStrategyConfigStore() *StrategyConfigStore {
	return &StrategyConfigStore{}
}

func (s *StrategyConfigStore) Get(_ context.Context) (domain.StrategyConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.cfg == nil {
		return domain.StrategyConfig{}, domain.ErrNotFound
	}
	return *s.cfg, nil
}

func (s *StrategyConfigStore) Put(_ context.Context, cfg domain.StrategyConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cfg.UpdatedAt = time.Now().UTC()
	s.cfg = &cfg
	return nil
}

// AuditStore is an in-memory domain.AuditStore.
type AuditStore struct {
	mu      sync.Mutex
	nextID  int64
	entries []domain.AuditEntry
}

// NewAuditStore creates an empty in-memory audit store.
func NewAuditStore() *AuditStore {
	return &AuditStore{nextID: 1}
}

func (s *AuditStore) Log(_ context.Context, event string, detail map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, domain.AuditEntry{
		ID:        s.nextID,
		Event:     event,
		Detail:    detail,
		CreatedAt: time.Now().UTC(),
	})
	s.nextID++
	return nil
}

func (s *AuditStore) List(_ context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.AuditEntry, 0, len(s.entries))
	for i := len(s.entries) - 1; i >= 0; i-- {
		e := s.entries[i]
		if opts.Since != nil && e.CreatedAt.Before(*opts.Since) {
			continue
		}
		if opts.Until != nil && e.CreatedAt.After(*opts.Until) {
			continue
		}
		out = append(out, e)
	}
	if opts.Offset > 0 {
		if opts.Offset >= len(out) {
			return nil, nil
		}
		out = out[opts.Offset:]
	}
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out, nil
}

// Compile-time interface checks.
var (
	_ domain.PositionStore       = (*PositionStore)(nil)
	_ domain.RegistryStore       = (*RegistryStore)(nil)
	_ domain.StrategyConfigStore = (*StrategyConfigStore)(nil)
	_ domain.AuditStore          = (*AuditStore)(nil)
)
