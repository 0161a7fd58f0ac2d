package domain

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// ListOpts provides pagination for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// PositionStore persists positions. Only the loop executor, accelerator, and
// risk guard write through this interface; every other component reads.
type PositionStore interface {
	Create(ctx context.Context, pos Position) error
	Update(ctx context.Context, pos Position) error
	GetByID(ctx context.Context, id string) (Position, error)
	// GetActive returns the owner's single active position, or ErrNotFound.
	GetActive(ctx context.Context, owner common.Address) (Position, error)
	ListActive(ctx context.Context, opts ListOpts) ([]Position, error)
	ListClosed(ctx context.Context, opts ListOpts) ([]Position, error)
	Delete(ctx context.Context, id string) error
}

// RegistryStore persists the administered venue whitelist.
type RegistryStore interface {
	Upsert(ctx context.Context, entry RegistryEntry) error
	Get(ctx context.Context, category VenueCategory, addr common.Address) (RegistryEntry, error)
	ListByCategory(ctx context.Context, category VenueCategory) ([]RegistryEntry, error)
}

// StrategyConfigStore persists the single strategy configuration.
type StrategyConfigStore interface {
	Get(ctx context.Context) (StrategyConfig, error)
	Put(ctx context.Context, cfg StrategyConfig) error
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log of state-changing operations.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
