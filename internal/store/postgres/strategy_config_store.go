package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/yieldloop/loopd/internal/domain"
)

// StrategyConfigStore implements domain.StrategyConfigStore using
// PostgreSQL. The table holds exactly one row.
type StrategyConfigStore struct {
	pool *pgxpool.Pool
}

// NewStrategyConfigStore creates a new StrategyConfigStore backed by the
// given pool.
func NewStrategyConfigStore(pool *pgxpool.Pool) *StrategyConfigStore {
	return &StrategyConfigStore{pool: pool}
}

// Get returns the strategy configuration, or ErrNotFound before first Put.
func (s *StrategyConfigStore) Get(ctx context.Context) (domain.StrategyConfig, error) {
	const query = `
		SELECT base_asset, principal_claim, yield_claim, splitting_market,
			swap_router, lending_venue, max_leverage_bps, min_health_ratio,
			target_ltv_bps, slippage_floor_bps, slippage_decay_bps, active, updated_at
		FROM strategy_config WHERE id = 1`

	var cfg domain.StrategyConfig
	var base, principal, yield, market, router string
	err := s.pool.QueryRow(ctx, query).Scan(
		&base, &principal, &yield, &market, &router,
		&cfg.LendingVenue, &cfg.MaxLeverageBps, &cfg.MinHealthRatio,
		&cfg.TargetLTVBps, &cfg.SlippageFloorBps, &cfg.SlippageDecayBps,
		&cfg.Active, &cfg.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.StrategyConfig{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.StrategyConfig{}, fmt.Errorf("postgres: get strategy config: %w", err)
	}

	cfg.BaseAsset = common.HexToAddress(base)
	cfg.PrincipalClaim = common.HexToAddress(principal)
	cfg.YieldClaim = common.HexToAddress(yield)
	cfg.SplittingMarket = common.HexToAddress(market)
	cfg.SwapRouter = common.HexToAddress(router)
	return cfg, nil
}

// Put writes the strategy configuration.
func (s *StrategyConfigStore) Put(ctx context.Context, cfg domain.StrategyConfig) error {
	const query = `
		INSERT INTO strategy_config (
			id, base_asset, principal_claim, yield_claim, splitting_market,
			swap_router, lending_venue, max_leverage_bps, min_health_ratio,
			target_ltv_bps, slippage_floor_bps, slippage_decay_bps, active, updated_at
		) VALUES (1, $1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, NOW())
		ON CONFLICT (id) DO UPDATE SET
			base_asset = EXCLUDED.base_asset,
			principal_claim = EXCLUDED.principal_claim,
			yield_claim = EXCLUDED.yield_claim,
			splitting_market = EXCLUDED.splitting_market,
			swap_router = EXCLUDED.swap_router,
			lending_venue = EXCLUDED.lending_venue,
			max_leverage_bps = EXCLUDED.max_leverage_bps,
			min_health_ratio = EXCLUDED.min_health_ratio,
			target_ltv_bps = EXCLUDED.target_ltv_bps,
			slippage_floor_bps = EXCLUDED.slippage_floor_bps,
			slippage_decay_bps = EXCLUDED.slippage_decay_bps,
			active = EXCLUDED.active,
			updated_at = NOW()`

	_, err := s.pool.Exec(ctx, query,
		cfg.BaseAsset.Hex(), cfg.PrincipalClaim.Hex(), cfg.YieldClaim.Hex(),
		cfg.SplittingMarket.Hex(), cfg.SwapRouter.Hex(), cfg.LendingVenue,
		cfg.MaxLeverageBps, cfg.MinHealthRatio, cfg.TargetLTVBps,
		cfg.SlippageFloorBps, cfg.SlippageDecayBps, cfg.Active,
	)
	if err != nil {
		return fmt.Errorf("postgres: put strategy config: %w", err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.StrategyConfigStore = (*StrategyConfigStore)(nil)
