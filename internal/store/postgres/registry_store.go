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

// RegistryStore implements domain.RegistryStore using PostgreSQL.
type RegistryStore struct {
	pool *pgxpool.Pool
}

// NewRegistryStore creates a new RegistryStore backed by the given pool.
func NewRegistryStore(pool *pgxpool.Pool) *RegistryStore {
	return &RegistryStore{pool: pool}
}

// Upsert writes one registry entry, replacing any prior row for the same
// (category, address) pair.
func (s *RegistryStore) Upsert(ctx context.Context, entry domain.RegistryEntry) error {
	const query = `
		INSERT INTO venue_registry (category, address, approved, updated_by, updated_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (category, address) DO UPDATE SET
			approved = EXCLUDED.approved,
			updated_by = EXCLUDED.updated_by,
			updated_at = NOW()`

	_, err := s.pool.Exec(ctx, query,
		string(entry.Category), entry.Address.Hex(), entry.Approved, entry.UpdatedBy,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert registry %s/%s: %w", entry.Category, entry.Address.Hex(), err)
	}
	return nil
}

// Get returns one registry entry.
func (s *RegistryStore) Get(ctx context.Context, category domain.VenueCategory, addr common.Address) (domain.RegistryEntry, error) {
	const query = `
		SELECT category, address, approved, updated_by, updated_at
		FROM venue_registry WHERE category = $1 AND address = $2`

	var e domain.RegistryEntry
	var cat, address string
	err := s.pool.QueryRow(ctx, query, string(category), addr.Hex()).Scan(
		&cat, &address, &e.Approved, &e.UpdatedBy, &e.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.RegistryEntry{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.RegistryEntry{}, fmt.Errorf("postgres: get registry %s/%s: %w", category, addr.Hex(), err)
	}
	e.Category = domain.VenueCategory(cat)
	e.Address = common.HexToAddress(address)
	return e, nil
}

// ListByCategory returns all entries in one category.
func (s *RegistryStore) ListByCategory(ctx context.Context, category domain.VenueCategory) ([]domain.RegistryEntry, error) {
	const query = `
		SELECT category, address, approved, updated_by, updated_at
		FROM venue_registry WHERE category = $1 ORDER BY address`

	rows, err := s.pool.Query(ctx, query, string(category))
	if err != nil {
		return nil, fmt.Errorf("postgres: list registry %s: %w", category, err)
	}
	defer rows.Close()

	var entries []domain.RegistryEntry
	for rows.Next() {
		var e domain.RegistryEntry
		var cat, address string
		if err := rows.Scan(&cat, &address, &e.Approved, &e.UpdatedBy, &e.UpdatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan registry entry: %w", err)
		}
		e.Category = domain.VenueCategory(cat)
		e.Address = common.HexToAddress(address)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Compile-time interface check.
var _ domain.RegistryStore = (*RegistryStore)(nil)
