package postgres

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/yieldloop/loopd/internal/domain"
)

// PositionStore implements domain.PositionStore using PostgreSQL. Amounts
// are stored as NUMERIC(78,0) and moved across the wire as decimal strings
// to preserve big.Int precision.
type PositionStore struct {
	pool *pgxpool.Pool
}

// NewPositionStore creates a new PositionStore backed by the given pool.
func NewPositionStore(pool *pgxpool.Pool) *PositionStore {
	return &PositionStore{pool: pool}
}

const positionSelectCols = `id, owner, splitting_market, lending_venue,
	collateral_deposited::text, debt_outstanding::text,
	principal_held::text, yield_held::text, initial_deposit::text,
	loops_executed, target_leverage_bps, min_health_ratio,
	state, is_active, opened_at, last_rebalanced_at, closed_at`

func parseAmount(s string) (*big.Int, error) {
	n, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("postgres: invalid amount %q", s)
	}
	return n, nil
}

func scanPosition(row pgx.Row) (domain.Position, error) {
	var p domain.Position
	var owner, market, state string
	var collateral, debt, principal, yield, deposit string

	err := row.Scan(
		&p.ID, &owner, &market, &p.LendingVenue,
		&collateral, &debt, &principal, &yield, &deposit,
		&p.LoopsExecuted, &p.TargetLeverageBps, &p.MinHealthRatio,
		&state, &p.IsActive, &p.OpenedAt, &p.LastRebalancedAt, &p.ClosedAt,
	)
	if err != nil {
		return domain.Position{}, err
	}

	p.Owner = common.HexToAddress(owner)
	p.SplittingMarket = common.HexToAddress(market)
	p.State = domain.HealthState(state)

	for _, f := range []struct {
		dst **big.Int
		src string
	}{
		{&p.CollateralDeposited, collateral},
		{&p.DebtOutstanding, debt},
		{&p.Claims.Principal, principal},
		{&p.Claims.Yield, yield},
		{&p.InitialDeposit, deposit},
	} {
		n, err := parseAmount(f.src)
		if err != nil {
			return domain.Position{}, err
		}
		*f.dst = n
	}
	return p, nil
}

// Create inserts a new position. A unique partial index rejects a second
// active position for the same owner.
func (s *PositionStore) Create(ctx context.Context, p domain.Position) error {
	const query = `
		INSERT INTO positions (
			id, owner, splitting_market, lending_venue,
			collateral_deposited, debt_outstanding,
			principal_held, yield_held, initial_deposit,
			loops_executed, target_leverage_bps, min_health_ratio,
			state, is_active, opened_at, last_rebalanced_at, closed_at, updated_at
		) VALUES (
			$1, $2, $3, $4,
			$5::numeric, $6::numeric, $7::numeric, $8::numeric, $9::numeric,
			$10, $11, $12, $13, $14, $15, $16, $17, NOW()
		)`

	_, err := s.pool.Exec(ctx, query,
		p.ID, p.Owner.Hex(), p.SplittingMarket.Hex(), p.LendingVenue,
		p.CollateralDeposited.String(), p.DebtOutstanding.String(),
		p.Claims.Principal.String(), p.Claims.Yield.String(), p.InitialDeposit.String(),
		p.LoopsExecuted, p.TargetLeverageBps, p.MinHealthRatio,
		string(p.State), p.IsActive, p.OpenedAt, p.LastRebalancedAt, p.ClosedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return domain.ErrPositionActive
		}
		return fmt.Errorf("postgres: create position %s: %w", p.ID, err)
	}
	return nil
}

// Update replaces all mutable fields of a position.
func (s *PositionStore) Update(ctx context.Context, p domain.Position) error {
	const query = `
		UPDATE positions SET
			collateral_deposited = $2::numeric,
			debt_outstanding     = $3::numeric,
			principal_held       = $4::numeric,
			yield_held           = $5::numeric,
			loops_executed       = $6,
			target_leverage_bps  = $7,
			min_health_ratio     = $8,
			state                = $9,
			is_active            = $10,
			last_rebalanced_at   = $11,
			closed_at            = $12,
			updated_at           = NOW()
		WHERE id = $1`

	tag, err := s.pool.Exec(ctx, query,
		p.ID,
		p.CollateralDeposited.String(), p.DebtOutstanding.String(),
		p.Claims.Principal.String(), p.Claims.Yield.String(),
		p.LoopsExecuted, p.TargetLeverageBps, p.MinHealthRatio,
		string(p.State), p.IsActive, p.LastRebalancedAt, p.ClosedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: update position %s: %w", p.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// GetByID returns one position by its ID.
func (s *PositionStore) GetByID(ctx context.Context, id string) (domain.Position, error) {
	query := `SELECT ` + positionSelectCols + ` FROM positions WHERE id = $1`
	p, err := scanPosition(s.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Position{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Position{}, fmt.Errorf("postgres: get position %s: %w", id, err)
	}
	return p, nil
}

// GetActive returns the owner's single active position.
func (s *PositionStore) GetActive(ctx context.Context, owner common.Address) (domain.Position, error) {
	query := `SELECT ` + positionSelectCols + ` FROM positions WHERE owner = $1 AND is_active`
	p, err := scanPosition(s.pool.QueryRow(ctx, query, owner.Hex()))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Position{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Position{}, fmt.Errorf("postgres: get active position for %s: %w", owner.Hex(), err)
	}
	return p, nil
}

// ListActive returns active positions ordered by open time.
func (s *PositionStore) ListActive(ctx context.Context, opts domain.ListOpts) ([]domain.Position, error) {
	return s.list(ctx, true, opts)
}

// ListClosed returns closed positions ordered by close time.
func (s *PositionStore) ListClosed(ctx context.Context, opts domain.ListOpts) ([]domain.Position, error) {
	return s.list(ctx, false, opts)
}

func (s *PositionStore) list(ctx context.Context, active bool, opts domain.ListOpts) ([]domain.Position, error) {
	query := `SELECT ` + positionSelectCols + ` FROM positions WHERE is_active = $1`
	args := []any{active}
	argIdx := 2

	if opts.Since != nil {
		query += fmt.Sprintf(" AND opened_at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND opened_at <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += " ORDER BY opened_at DESC"
	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list positions: %w", err)
	}
	defer rows.Close()

	var positions []domain.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan position: %w", err)
		}
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

// Delete removes a position row. Used only by history archival after the
// record has been copied to cold storage.
func (s *PositionStore) Delete(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM positions WHERE id = $1 AND NOT is_active`, id)
	if err != nil {
		return fmt.Errorf("postgres: delete position %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// Compile-time interface check.
var _ domain.PositionStore = (*PositionStore)(nil)
