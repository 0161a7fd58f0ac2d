// Package config defines the top-level configuration for the looping engine
// daemon and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Config is the root configuration structure. Fields are populated from a
// TOML file and then optionally overridden by LOOPD_* environment variables.
type Config struct {
	Operator Operator       `toml:"operator"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Gateways GatewayConfig  `toml:"gateways"`
	Strategy StrategyConfig `toml:"strategy"`
	Engine   EngineConfig   `toml:"engine"`
	Server   ServerConfig   `toml:"server"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// Operator holds the engine's operator key material and the administrator
// allow-list.
type Operator struct {
	PrivateKey       string   `toml:"private_key"`
	EncryptedKeyPath string   `toml:"encrypted_key_path"`
	KeyPassword      string   `toml:"key_password"`
	Admins           []string `toml:"admins"` // hex addresses allowed admin calls
	AdminAPIKey      string   `toml:"admin_api_key"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters for history
// archival.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// GatewayConfig holds the venue gateway endpoints and shared auth secret.
type GatewayConfig struct {
	SplitMarketURL string   `toml:"split_market_url"`
	LendingURL     string   `toml:"lending_url"`
	SwapURL        string   `toml:"swap_url"`
	FlashURL       string   `toml:"flash_url"`
	TreasuryURL    string   `toml:"treasury_url"`
	HMACSecret     string   `toml:"hmac_secret"`
	RequestTimeout duration `toml:"request_timeout"`
	RateLimitPerS  int      `toml:"rate_limit_per_s"`
	FlashFeeBps    int64    `toml:"flash_fee_bps"`
}

// StrategyConfig holds the initial strategy configuration seeded into the
// store on first start. Addresses are hex strings.
type StrategyConfig struct {
	BaseAsset        string  `toml:"base_asset"`
	PrincipalClaim   string  `toml:"principal_claim"`
	YieldClaim       string  `toml:"yield_claim"`
	SplittingMarket  string  `toml:"splitting_market"`
	SwapRouter       string  `toml:"swap_router"`
	LendingVenue     string  `toml:"lending_venue"` // aave | morpho | spark
	MorphoMarketID   string  `toml:"morpho_market_id"`
	MaxLeverageBps   int64   `toml:"max_leverage_bps"`
	MinHealthRatio   float64 `toml:"min_health_ratio"`
	TargetLTVBps     int64   `toml:"target_ltv_bps"`
	SlippageFloorBps int64   `toml:"slippage_floor_bps"`
	SlippageDecayBps int64   `toml:"slippage_decay_bps"`
	Active           bool    `toml:"active"`
}

// EngineConfig holds executor behaviour parameters.
type EngineConfig struct {
	MaxLoops          int      `toml:"max_loops"`
	OperationLockTTL  duration `toml:"operation_lock_ttl"`
	ReconcileInterval duration `toml:"reconcile_interval"`
	ArchiveInterval   duration `toml:"archive_interval"`
	ArchiveAfterDays  int      `toml:"archive_after_days"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	APIKey      string   `toml:"api_key"` // empty disables auth on the public surface
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values.
func Defaults() Config {
	return Config{
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "loopd",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "loopd-history",
			UseSSL:         false,
			ForcePathStyle: true,
		},
		Gateways: GatewayConfig{
			RequestTimeout: duration{15 * time.Second},
			RateLimitPerS:  20,
			FlashFeeBps:    9,
		},
		Strategy: StrategyConfig{
			LendingVenue:     "aave",
			MaxLeverageBps:   50_000, // 5x
			MinHealthRatio:   1.05,
			TargetLTVBps:     8_000,
			SlippageFloorBps: 9_900, // accept 1% below quote on loop 1
			SlippageDecayBps: 50,
			Active:           false,
		},
		Engine: EngineConfig{
			MaxLoops:          10,
			OperationLockTTL:  duration{2 * time.Minute},
			ReconcileInterval: duration{5 * time.Minute},
			ArchiveInterval:   duration{24 * time.Hour},
			ArchiveAfterDays:  90,
		},
		Server: ServerConfig{
			Enabled:     true,
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
		},
		Mode:     "engine",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"server":    true,
	"engine":    true,
	"sim":       true,
	"reconcile": true,
	"full":      true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// validLendingVenues is the closed set of supported lending adapters.
var validLendingVenues = map[string]bool{
	"aave":   true,
	"morpho": true,
	"spark":  true,
}

func validHexAddress(s string) bool {
	return s == "" || common.IsHexAddress(s)
}

// Validate checks Config for obviously invalid or missing values and returns
// a combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: server, engine, sim, reconcile, full)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Operator — state-changing modes need a key.
	needsKey := c.Mode == "engine" || c.Mode == "full"
	if needsKey {
		if c.Operator.PrivateKey == "" && c.Operator.EncryptedKeyPath == "" {
			errs = append(errs, "operator: either private_key or encrypted_key_path must be set for mode "+c.Mode)
		}
		if c.Operator.EncryptedKeyPath != "" && c.Operator.KeyPassword == "" {
			errs = append(errs, "operator: key_password is required when encrypted_key_path is set")
		}
	}
	for _, a := range c.Operator.Admins {
		if !common.IsHexAddress(a) {
			errs = append(errs, fmt.Sprintf("operator: admin %q is not a valid hex address", a))
		}
	}

	// Gateways — required outside sim mode.
	if c.Mode != "sim" && c.Mode != "server" {
		if c.Gateways.SplitMarketURL == "" {
			errs = append(errs, "gateways: split_market_url must not be empty")
		}
		if c.Gateways.LendingURL == "" {
			errs = append(errs, "gateways: lending_url must not be empty")
		}
		if c.Gateways.SwapURL == "" {
			errs = append(errs, "gateways: swap_url must not be empty")
		}
		if c.Gateways.HMACSecret == "" {
			errs = append(errs, "gateways: hmac_secret must not be empty")
		}
	}
	if c.Gateways.RateLimitPerS < 1 {
		errs = append(errs, "gateways: rate_limit_per_s must be >= 1")
	}
	if c.Gateways.FlashFeeBps < 0 {
		errs = append(errs, "gateways: flash_fee_bps must be >= 0")
	}

	// Postgres
	if strings.TrimSpace(c.Postgres.DSN) == "" {
		if c.Postgres.Host == "" {
			errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
		}
		if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
			errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
		}
		if c.Postgres.Database == "" {
			errs = append(errs, "postgres: database must not be empty")
		}
	}
	if c.Postgres.PoolMaxConns < 1 {
		errs = append(errs, "postgres: pool_max_conns must be >= 1")
	}
	if c.Postgres.PoolMinConns < 0 {
		errs = append(errs, "postgres: pool_min_conns must be >= 0")
	}
	if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
		errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
	}

	// Redis
	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	// S3
	if c.S3.Endpoint == "" {
		errs = append(errs, "s3: endpoint must not be empty")
	}
	if c.S3.Bucket == "" {
		errs = append(errs, "s3: bucket must not be empty")
	}

	// Strategy seed — addresses may be empty (set later via admin API) but
	// must parse when present.
	for name, v := range map[string]string{
		"base_asset":       c.Strategy.BaseAsset,
		"principal_claim":  c.Strategy.PrincipalClaim,
		"yield_claim":      c.Strategy.YieldClaim,
		"splitting_market": c.Strategy.SplittingMarket,
		"swap_router":      c.Strategy.SwapRouter,
	} {
		if !validHexAddress(v) {
			errs = append(errs, fmt.Sprintf("strategy: %s %q is not a valid hex address", name, v))
		}
	}
	if !validLendingVenues[c.Strategy.LendingVenue] {
		errs = append(errs, fmt.Sprintf("strategy: lending_venue must be one of aave, morpho, spark; got %q", c.Strategy.LendingVenue))
	}
	if c.Strategy.LendingVenue == "morpho" && c.Mode != "sim" && c.Strategy.MorphoMarketID == "" {
		errs = append(errs, "strategy: morpho_market_id is required when lending_venue is morpho")
	}
	if c.Strategy.MaxLeverageBps <= 10_000 {
		errs = append(errs, "strategy: max_leverage_bps must be > 10000 (1x)")
	}
	if c.Strategy.MinHealthRatio <= 1.0 {
		errs = append(errs, "strategy: min_health_ratio must be > 1.0")
	}
	if c.Strategy.TargetLTVBps <= 0 || c.Strategy.TargetLTVBps >= 10_000 {
		errs = append(errs, fmt.Sprintf("strategy: target_ltv_bps must be in (0, 10000), got %d", c.Strategy.TargetLTVBps))
	}
	if c.Strategy.SlippageFloorBps <= 0 || c.Strategy.SlippageFloorBps > 10_000 {
		errs = append(errs, "strategy: slippage_floor_bps must be in (0, 10000]")
	}
	if c.Strategy.SlippageDecayBps < 0 {
		errs = append(errs, "strategy: slippage_decay_bps must be >= 0")
	}

	// Engine
	if c.Engine.MaxLoops < 1 || c.Engine.MaxLoops > 10 {
		errs = append(errs, fmt.Sprintf("engine: max_loops must be 1-10, got %d", c.Engine.MaxLoops))
	}
	if c.Engine.OperationLockTTL.Duration <= 0 {
		errs = append(errs, "engine: operation_lock_ttl must be positive")
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
