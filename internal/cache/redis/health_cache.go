package redis

import (
	"context"
	"fmt"
	"math/big"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/yieldloop/loopd/internal/domain"
)

// HealthCache implements domain.HealthCache using Redis hashes. Each venue's
// latest account health is stored at "health:{venue}" with fields
// "collateral", "debt", "ratio", and "ts" (Unix nanosecond timestamp).
// Amounts are decimal strings to preserve big.Int precision.
type HealthCache struct {
	rdb *redis.Client
}

// NewHealthCache creates a HealthCache backed by the given Client.
func NewHealthCache(c *Client) *HealthCache {
	return &HealthCache{rdb: c.Underlying()}
}

func healthKey(venue string) string {
	return "health:" + venue
}

// Set stores the latest venue-reported health snapshot.
func (hc *HealthCache) Set(ctx context.Context, venue string, health domain.AccountHealth, ts time.Time) error {
	fields := map[string]interface{}{
		"collateral": health.CollateralValue.String(),
		"debt":       health.DebtValue.String(),
		"ratio":      strconv.FormatFloat(health.HealthRatio, 'f', -1, 64),
		"ts":         strconv.FormatInt(ts.UnixNano(), 10),
	}
	if err := hc.rdb.HSet(ctx, healthKey(venue), fields).Err(); err != nil {
		return fmt.Errorf("redis: set health %s: %w", venue, err)
	}
	return nil
}

// Get retrieves the latest health snapshot for a venue. It returns
// domain.ErrNotFound when no snapshot has been stored.
func (hc *HealthCache) Get(ctx context.Context, venue string) (domain.AccountHealth, time.Time, error) {
	vals, err := hc.rdb.HGetAll(ctx, healthKey(venue)).Result()
	if err != nil {
		return domain.AccountHealth{}, time.Time{}, fmt.Errorf("redis: get health %s: %w", venue, err)
	}
	if len(vals) == 0 {
		return domain.AccountHealth{}, time.Time{}, domain.ErrNotFound
	}

	collateral, ok := new(big.Int).SetString(vals["collateral"], 10)
	if !ok {
		return domain.AccountHealth{}, time.Time{}, fmt.Errorf("redis: parse health collateral %q", vals["collateral"])
	}
	debt, ok := new(big.Int).SetString(vals["debt"], 10)
	if !ok {
		return domain.AccountHealth{}, time.Time{}, fmt.Errorf("redis: parse health debt %q", vals["debt"])
	}
	ratio, err := strconv.ParseFloat(vals["ratio"], 64)
	if err != nil {
		return domain.AccountHealth{}, time.Time{}, fmt.Errorf("redis: parse health ratio %s: %w", venue, err)
	}
	tsNano, err := strconv.ParseInt(vals["ts"], 10, 64)
	if err != nil {
		return domain.AccountHealth{}, time.Time{}, fmt.Errorf("redis: parse health ts %s: %w", venue, err)
	}

	health := domain.AccountHealth{
		CollateralValue: collateral,
		DebtValue:       debt,
		HealthRatio:     ratio,
	}
	return health, time.Unix(0, tsNano), nil
}

// Compile-time interface check.
var _ domain.HealthCache = (*HealthCache)(nil)
