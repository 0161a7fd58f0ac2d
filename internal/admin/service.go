// Package admin implements the administrative surface: pause control,
// strategy updates, venue approvals, and emergency withdrawals. Caller
// identity is established by the transport layer; this package records who
// did what and enforces the funds-safety rules.
package admin

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/big"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/yieldloop/loopd/internal/domain"
	"github.com/yieldloop/loopd/internal/ledger"
	"github.com/yieldloop/loopd/internal/registry"
)

// Service holds the pause switch and mediates privileged operations.
type Service struct {
	paused     atomic.Bool
	strategies domain.StrategyConfigStore
	registry   *registry.Service
	ledger     *ledger.Service
	treasury   domain.Treasury
	audit      domain.AuditStore
	bus        domain.SignalBus
	logger     *slog.Logger
}

func NewService(strategies domain.StrategyConfigStore, reg *registry.Service, led *ledger.Service, treasury domain.Treasury, audit domain.AuditStore, bus domain.SignalBus, logger *slog.Logger) *Service {
	return &Service{
		strategies: strategies,
		registry:   reg,
		ledger:     led,
		treasury:   treasury,
		audit:      audit,
		bus:        bus,
		logger:     logger.With("component", "admin"),
	}
}

// Check implements the engine's gate: state-changing operations fail with
// ErrPaused while the switch is set.
func (s *Service) Check() error {
	if s.paused.Load() {
		return domain.ErrPaused
	}
	return nil
}

// Paused reports the switch state.
func (s *Service) Paused() bool {
	return s.paused.Load()
}

// Pause stops all state-changing engine operations. Reads stay available.
func (s *Service) Pause(ctx context.Context, by string) {
	if s.paused.Swap(true) {
		return
	}
	s.record(ctx, domain.EventEmergencyAction, map[string]any{"action": "pause", "by": by})
	s.logger.Warn("engine paused", "by", by)
}

// Resume re-enables engine operations.
func (s *Service) Resume(ctx context.Context, by string) {
	if !s.paused.Swap(false) {
		return
	}
	s.record(ctx, domain.EventEmergencyAction, map[string]any{"action": "resume", "by": by})
	s.logger.Info("engine resumed", "by", by)
}

// UpdateStrategy replaces the strategy configuration. Open positions keep
// the health parameters they were opened with.
func (s *Service) UpdateStrategy(ctx context.Context, cfg domain.StrategyConfig, by string) error {
	if cfg.Active && !cfg.Populated() {
		return fmt.Errorf("admin: cannot activate an incomplete strategy: %w", domain.ErrInvalidInput)
	}
	if cfg.MaxLeverageBps < 0 || cfg.TargetLTVBps < 0 || cfg.TargetLTVBps >= 10_000 {
		return fmt.Errorf("admin: leverage bounds out of range: %w", domain.ErrInvalidInput)
	}
	if cfg.SlippageFloorBps < 0 || cfg.SlippageFloorBps > 10_000 || cfg.SlippageDecayBps < 0 {
		return fmt.Errorf("admin: slippage bounds out of range: %w", domain.ErrInvalidInput)
	}
	cfg.UpdatedAt = time.Now().UTC()
	if err := s.strategies.Put(ctx, cfg); err != nil {
		return fmt.Errorf("admin: store strategy: %w", err)
	}
	s.record(ctx, domain.EventStrategyUpdated, map[string]any{
		"by":           by,
		"base_asset":   cfg.BaseAsset.Hex(),
		"venue":        cfg.LendingVenue,
		"max_leverage": cfg.MaxLeverageBps,
		"target_ltv":   cfg.TargetLTVBps,
		"active":       cfg.Active,
	})
	s.logger.Info("strategy updated", "by", by, "venue", cfg.LendingVenue, "active", cfg.Active)
	return nil
}

// Strategy returns the current strategy configuration.
func (s *Service) Strategy(ctx context.Context) (domain.StrategyConfig, error) {
	return s.strategies.Get(ctx)
}

// SetVenueApproval delegates to the registry.
func (s *Service) SetVenueApproval(ctx context.Context, category domain.VenueCategory, addr common.Address, approved bool, by string) error {
	return s.registry.SetApproval(ctx, category, addr, approved, by)
}

// EmergencyWithdraw moves tokens out of engine custody to a recovery
// address. The engine must be paused first, and balances backing open
// positions can never leave.
func (s *Service) EmergencyWithdraw(ctx context.Context, token, to common.Address, amount *big.Int, by string) error {
	if !s.paused.Load() {
		return fmt.Errorf("admin: emergency withdraw requires a paused engine: %w", domain.ErrInvalidInput)
	}
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("admin: withdraw amount must be positive: %w", domain.ErrInvalidInput)
	}

	strat, err := s.strategies.Get(ctx)
	if err != nil {
		return fmt.Errorf("admin: load strategy: %w", err)
	}
	backing, err := s.ledger.BackingBalances(ctx, strat)
	if err != nil {
		return fmt.Errorf("admin: compute backing balances: %w", err)
	}
	held, err := s.treasury.Balance(ctx, token)
	if err != nil {
		return fmt.Errorf("admin: custody balance: %w", err)
	}
	available := new(big.Int).Set(held)
	if reserved, ok := backing[token]; ok {
		available.Sub(available, reserved)
	}
	if available.Sign() < 0 || amount.Cmp(available) > 0 {
		return fmt.Errorf("admin: %s of %s available, %s requested: %w",
			available, token.Hex(), amount, domain.ErrTokenBacksOpenPos)
	}

	if err := s.treasury.Push(ctx, to, token, amount); err != nil {
		return fmt.Errorf("admin: emergency transfer: %w", err)
	}
	s.record(ctx, domain.EventEmergencyAction, map[string]any{
		"action": "emergency_withdraw",
		"by":     by,
		"token":  token.Hex(),
		"to":     to.Hex(),
		"amount": amount.String(),
	})
	s.logger.Warn("emergency withdrawal executed",
		"by", by, "token", token.Hex(), "to", to.Hex(), "amount", amount.String())
	return nil
}

func (s *Service) record(ctx context.Context, event string, detail map[string]any) {
	if err := s.audit.Log(ctx, event, detail); err != nil {
		s.logger.Warn("audit write failed", "event", event, "error", err)
	}
	if s.bus == nil {
		return
	}
	if payload, err := json.Marshal(map[string]any{"event": event, "detail": detail}); err == nil {
		if err := s.bus.Publish(ctx, domain.ChannelAdmin, payload); err != nil {
			s.logger.Warn("bus publish failed", "channel", domain.ChannelAdmin, "error", err)
		}
	}
}
