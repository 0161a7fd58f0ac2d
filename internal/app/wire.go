package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	s3blob "github.com/yieldloop/loopd/internal/blob/s3"
	"github.com/yieldloop/loopd/internal/cache/redis"
	"github.com/yieldloop/loopd/internal/config"
	"github.com/yieldloop/loopd/internal/crypto"
	"github.com/yieldloop/loopd/internal/domain"
	"github.com/yieldloop/loopd/internal/store/memstore"
	"github.com/yieldloop/loopd/internal/store/postgres"
	"github.com/yieldloop/loopd/internal/venue/flash"
	"github.com/yieldloop/loopd/internal/venue/gateway"
	"github.com/yieldloop/loopd/internal/venue/lending"
	"github.com/yieldloop/loopd/internal/venue/splitmarket"
	"github.com/yieldloop/loopd/internal/venue/swap"
	"github.com/yieldloop/loopd/internal/venue/treasury"
	"github.com/yieldloop/loopd/internal/venue/venuesim"
)

// Dependencies bundles every domain-level dependency the application modes
// need. It is constructed by Wire and torn down by the returned cleanup
// function.
type Dependencies struct {
	// Stores
	Positions  domain.PositionStore
	Registry   domain.RegistryStore
	Strategies domain.StrategyConfigStore
	Audit      domain.AuditStore

	// Caches and coordination
	Health  domain.HealthCache
	Limiter domain.RateLimiter
	Locks   domain.LockManager
	Bus     domain.SignalBus

	// Venue adapters
	Market   domain.SplittingMarket
	Venue    domain.LendingVenue
	Swapper  domain.SwapVenue
	Flash    domain.FlashLoanProvider
	Treasury domain.Treasury

	// Blob storage
	BlobWriter domain.BlobWriter
	BlobReader domain.BlobReader
	Archiver   *s3blob.Archive

	// Bank is the shared settlement ledger behind the venue simulators.
	// Only set in sim mode.
	Bank *venuesim.Bank
}

// needsPostgres returns true for modes that require a database connection.
func needsPostgres(mode string) bool {
	switch mode {
	case "server", "engine", "reconcile", "full":
		return true
	default:
		return false
	}
}

// needsS3 returns true for modes that archive history to object storage.
func needsS3(mode string) bool {
	switch mode {
	case "engine", "full":
		return true
	default:
		return false
	}
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- Stores ---
	if needsPostgres(cfg.Mode) {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
		}

		pool := pgClient.Pool()
		deps.Positions = postgres.NewPositionStore(pool)
		deps.Registry = postgres.NewRegistryStore(pool)
		deps.Strategies = postgres.NewStrategyConfigStore(pool)
		deps.Audit = postgres.NewAuditStore(pool)
	} else {
		deps.Positions = memstore.NewPositionStore()
		deps.Registry = memstore.NewRegistryStore()
		deps.Strategies = memstore.NewStrategyConfigStore()
		deps.Audit = memstore.NewAuditStore()
	}

	// --- Caches and coordination ---
	if cfg.Mode == "sim" {
		deps.Health = memstore.NewHealthCache()
		deps.Locks = memstore.NewLockManager()
		deps.Bus = memstore.NewSignalBus()
	} else {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.Health = redis.NewHealthCache(redisClient)
		deps.Limiter = redis.NewRateLimiter(redisClient)
		deps.Locks = redis.NewLockManager(redisClient)
		deps.Bus = redis.NewSignalBus(redisClient)
	}

	// --- Venue adapters ---
	if cfg.Mode == "sim" {
		if err := wireSimVenues(ctx, cfg, deps); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: sim venues: %w", err)
		}
	} else {
		if err := wireGatewayVenues(cfg, deps); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: venues: %w", err)
		}
	}

	// --- Strategy seed ---
	if err := seedStrategy(ctx, cfg, deps.Strategies); err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: strategy seed: %w", err)
	}

	// --- S3 blob storage ---
	if needsS3(cfg.Mode) {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}

		deps.BlobWriter = s3blob.NewWriter(s3Client)
		deps.BlobReader = s3blob.NewReader(s3Client)
		deps.Archiver = s3blob.NewArchiver(deps.BlobWriter, deps.Positions, deps.Audit, slog.Default())
	}

	return deps, cleanup, nil
}

// wireGatewayVenues builds the HTTP gateway adapters from the configured
// endpoints. The operator key is required for modes that move funds; other
// modes fall back to unsigned requests for read paths.
func wireGatewayVenues(cfg *config.Config, deps *Dependencies) error {
	operator := ""
	var op *crypto.Operator
	if cfg.Operator.PrivateKey != "" || cfg.Operator.EncryptedKeyPath != "" {
		keyHex, err := crypto.LoadKey(crypto.KeyConfig{
			RawPrivateKey:    cfg.Operator.PrivateKey,
			EncryptedKeyPath: cfg.Operator.EncryptedKeyPath,
			KeyPassword:      cfg.Operator.KeyPassword,
		})
		if err != nil {
			return fmt.Errorf("operator key: %w", err)
		}
		if op, err = crypto.NewOperator(keyHex); err != nil {
			return err
		}
		operator = op.Address().Hex()
	}

	auth := &crypto.GatewayAuth{Operator: operator, Secret: cfg.Gateways.HMACSecret}

	client := func(baseURL, limitKey string) *gateway.Client {
		return gateway.New(gateway.Config{
			BaseURL:       baseURL,
			Auth:          auth,
			Timeout:       cfg.Gateways.RequestTimeout.Duration,
			RateLimiter:   deps.Limiter,
			RateLimitKey:  limitKey,
			RateLimitPerS: cfg.Gateways.RateLimitPerS,
		})
	}

	strat, err := strategySeed(cfg)
	if err != nil {
		return err
	}

	deps.Market = splitmarket.New(client(cfg.Gateways.SplitMarketURL, "gw:splitmarket"), strat.SplittingMarket)
	deps.Swapper = swap.New(client(cfg.Gateways.SwapURL, "gw:swap"), strat.SwapRouter)
	deps.Flash = flash.New(client(cfg.Gateways.FlashURL, "gw:flash"), cfg.Gateways.FlashFeeBps)
	var signer treasury.Signer
	if op != nil {
		signer = op
	}
	deps.Treasury = treasury.New(client(cfg.Gateways.TreasuryURL, "gw:treasury"), signer)

	venue, err := lending.New(cfg.Strategy.LendingVenue, client(cfg.Gateways.LendingURL, "gw:lending"), lending.Options{
		MorphoMarketID: cfg.Strategy.MorphoMarketID,
	})
	if err != nil {
		return err
	}
	deps.Venue = venue
	return nil
}

// wireSimVenues builds the in-memory venue set over a shared bank, approves
// the simulated venues in the registry, and funds the configured admin
// addresses so the API can be exercised end to end without real gateways.
func wireSimVenues(ctx context.Context, cfg *config.Config, deps *Dependencies) error {
	strat, err := strategySeed(cfg)
	if err != nil {
		return err
	}

	bank := venuesim.NewBank()
	deps.Bank = bank

	deps.Market = venuesim.NewSplitMarket(bank, venuesim.SplitMarketConfig{
		Market:       strat.SplittingMarket,
		Base:         strat.BaseAsset,
		Principal:    strat.PrincipalClaim,
		Yield:        strat.YieldClaim,
		SplitRateBps: 10_000,
		Maturity:     time.Now().UTC().Add(365 * 24 * time.Hour),
	})
	// The venue's liquidation threshold sits above the strategy target so
	// deleveraging has free-collateral headroom to work with.
	venueLTV := strat.TargetLTVBps + 1_000
	if venueLTV > 9_500 {
		venueLTV = 9_500
	}
	deps.Venue = venuesim.NewLendingVenue(bank, venuesim.LendingConfig{
		Name:       cfg.Strategy.LendingVenue,
		Collateral: strat.PrincipalClaim,
		DebtToken:  strat.BaseAsset,
		LTVBps:     venueLTV,
	})
	sim := venuesim.NewSwap(bank, strat.SwapRouter)
	sim.SetRate(strat.YieldClaim, strat.BaseAsset, 500)
	sim.SetRate(strat.PrincipalClaim, strat.BaseAsset, 9_500)
	deps.Swapper = sim
	deps.Flash = venuesim.NewFlashProvider(bank, cfg.Gateways.FlashFeeBps)
	deps.Treasury = venuesim.NewTreasury(bank)

	// Pre-approve the simulated venues so opens work out of the box.
	for _, entry := range []domain.RegistryEntry{
		{Category: domain.CategorySplittingMarket, Address: strat.SplittingMarket, Approved: true, UpdatedBy: "sim"},
		{Category: domain.CategorySwapRouter, Address: strat.SwapRouter, Approved: true, UpdatedBy: "sim"},
		{Category: domain.CategoryClaimSource, Address: strat.SplittingMarket, Approved: true, UpdatedBy: "sim"},
	} {
		if err := deps.Registry.Upsert(ctx, entry); err != nil {
			return err
		}
	}

	// Fund the configured admin addresses with base asset to play with.
	seed := new(big.Int)
	seed.SetString("1000000000000000000000000", 10) // 1e24 base units
	for _, a := range cfg.Operator.Admins {
		bank.FundOwner(common.HexToAddress(a), strat.BaseAsset, seed)
	}

	return nil
}

// simAddress derives deterministic placeholder addresses for sim mode when
// the strategy section leaves them unset.
func simAddress(i int64) common.Address {
	return common.BigToAddress(big.NewInt(i))
}

// strategySeed converts the strategy config section into the domain form,
// substituting deterministic placeholder addresses in sim mode.
func strategySeed(cfg *config.Config) (domain.StrategyConfig, error) {
	addr := func(s string, simDefault int64) (common.Address, error) {
		if s == "" {
			if cfg.Mode == "sim" {
				return simAddress(simDefault), nil
			}
			return common.Address{}, nil
		}
		if !common.IsHexAddress(s) {
			return common.Address{}, fmt.Errorf("invalid address %q: %w", s, domain.ErrInvalidInput)
		}
		return common.HexToAddress(s), nil
	}

	var (
		strat domain.StrategyConfig
		err   error
	)
	if strat.BaseAsset, err = addr(cfg.Strategy.BaseAsset, 1); err != nil {
		return strat, err
	}
	if strat.PrincipalClaim, err = addr(cfg.Strategy.PrincipalClaim, 2); err != nil {
		return strat, err
	}
	if strat.YieldClaim, err = addr(cfg.Strategy.YieldClaim, 3); err != nil {
		return strat, err
	}
	if strat.SplittingMarket, err = addr(cfg.Strategy.SplittingMarket, 4); err != nil {
		return strat, err
	}
	if strat.SwapRouter, err = addr(cfg.Strategy.SwapRouter, 5); err != nil {
		return strat, err
	}
	strat.LendingVenue = cfg.Strategy.LendingVenue
	strat.MaxLeverageBps = cfg.Strategy.MaxLeverageBps
	strat.MinHealthRatio = cfg.Strategy.MinHealthRatio
	strat.TargetLTVBps = cfg.Strategy.TargetLTVBps
	strat.SlippageFloorBps = cfg.Strategy.SlippageFloorBps
	strat.SlippageDecayBps = cfg.Strategy.SlippageDecayBps
	strat.Active = cfg.Strategy.Active || cfg.Mode == "sim"
	return strat, nil
}

// seedStrategy writes the configured strategy into the store on first start.
// An existing stored configuration always wins; runtime updates go through
// the admin API, not the config file.
func seedStrategy(ctx context.Context, cfg *config.Config, store domain.StrategyConfigStore) error {
	_, err := store.Get(ctx)
	if err == nil {
		return nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return err
	}

	strat, err := strategySeed(cfg)
	if err != nil {
		return err
	}
	return store.Put(ctx, strat)
}
