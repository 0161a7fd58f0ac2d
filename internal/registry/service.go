// Package registry manages the administered whitelist of external venue
// addresses. Every categorized external call the engine makes is checked
// here first.
package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/yieldloop/loopd/internal/domain"
)

// cacheTTL bounds how stale an approval decision may be after an admin
// update lands on another instance.
const cacheTTL = 30 * time.Second

type cacheEntry struct {
	approved bool
	expires  time.Time
}

// Service fronts the registry store with a short-lived approval cache and
// publishes admin updates on the signal bus.
type Service struct {
	store  domain.RegistryStore
	audit  domain.AuditStore
	bus    domain.SignalBus
	logger *slog.Logger

	mu    sync.RWMutex
	cache map[string]cacheEntry
}

func NewService(store domain.RegistryStore, audit domain.AuditStore, bus domain.SignalBus, logger *slog.Logger) *Service {
	return &Service{
		store:  store,
		audit:  audit,
		bus:    bus,
		logger: logger.With("component", "registry"),
		cache:  make(map[string]cacheEntry),
	}
}

// IsApproved reports whether addr is currently whitelisted for category.
// Unknown addresses are not approved.
func (s *Service) IsApproved(ctx context.Context, category domain.VenueCategory, addr common.Address) (bool, error) {
	key := string(category) + ":" + addr.Hex()

	s.mu.RLock()
	if e, ok := s.cache[key]; ok && time.Now().Before(e.expires) {
		s.mu.RUnlock()
		return e.approved, nil
	}
	s.mu.RUnlock()

	entry, err := s.store.Get(ctx, category, addr)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			s.remember(key, false)
			return false, nil
		}
		return false, fmt.Errorf("registry: lookup %s: %w", key, err)
	}
	s.remember(key, entry.Approved)
	return entry.Approved, nil
}

// Require is IsApproved with the not-approved case folded into an error.
func (s *Service) Require(ctx context.Context, category domain.VenueCategory, addr common.Address) error {
	ok, err := s.IsApproved(ctx, category, addr)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("registry: %s %s: %w", category, addr.Hex(), domain.ErrVenueNotApproved)
	}
	return nil
}

// SetApproval writes an entry and invalidates the local cache. updatedBy is
// the admin identity recorded on the row and in the audit log.
func (s *Service) SetApproval(ctx context.Context, category domain.VenueCategory, addr common.Address, approved bool, updatedBy string) error {
	switch category {
	case domain.CategorySplittingMarket, domain.CategorySwapRouter, domain.CategoryClaimSource:
	default:
		return fmt.Errorf("registry: unknown category %q: %w", category, domain.ErrInvalidInput)
	}

	entry := domain.RegistryEntry{
		Category:  category,
		Address:   addr,
		Approved:  approved,
		UpdatedBy: updatedBy,
		UpdatedAt: time.Now().UTC(),
	}
	if err := s.store.Upsert(ctx, entry); err != nil {
		return fmt.Errorf("registry: upsert %s %s: %w", category, addr.Hex(), err)
	}

	key := string(category) + ":" + addr.Hex()
	s.remember(key, approved)

	detail := map[string]any{
		"category":   string(category),
		"address":    addr.Hex(),
		"approved":   approved,
		"updated_by": updatedBy,
	}
	if err := s.audit.Log(ctx, domain.EventRegistryUpdated, detail); err != nil {
		s.logger.Warn("audit write failed", "event", domain.EventRegistryUpdated, "error", err)
	}
	s.publish(ctx, detail)

	s.logger.Info("registry updated",
		"category", category, "address", addr.Hex(), "approved", approved, "updated_by", updatedBy)
	return nil
}

// List returns all entries in a category.
func (s *Service) List(ctx context.Context, category domain.VenueCategory) ([]domain.RegistryEntry, error) {
	entries, err := s.store.ListByCategory(ctx, category)
	if err != nil {
		return nil, fmt.Errorf("registry: list %s: %w", category, err)
	}
	return entries, nil
}

func (s *Service) remember(key string, approved bool) {
	s.mu.Lock()
	s.cache[key] = cacheEntry{approved: approved, expires: time.Now().Add(cacheTTL)}
	s.mu.Unlock()
}

func (s *Service) publish(ctx context.Context, detail map[string]any) {
	if s.bus == nil {
		return
	}
	payload, err := json.Marshal(map[string]any{"event": domain.EventRegistryUpdated, "detail": detail})
	if err != nil {
		return
	}
	if err := s.bus.Publish(ctx, domain.ChannelAdmin, payload); err != nil {
		s.logger.Warn("bus publish failed", "channel", domain.ChannelAdmin, "error", err)
	}
}
