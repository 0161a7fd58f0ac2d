package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies LOOPD_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known LOOPD_* environment variables and
// overwrites the corresponding Config fields when a variable is set. This
// lets operators inject secrets at deploy time without touching the TOML
// file.
func applyEnvOverrides(cfg *Config) {
	// ── Operator ──
	setStr(&cfg.Operator.PrivateKey, "LOOPD_OPERATOR_PRIVATE_KEY")
	setStr(&cfg.Operator.EncryptedKeyPath, "LOOPD_OPERATOR_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Operator.KeyPassword, "LOOPD_OPERATOR_KEY_PASSWORD")
	setStr(&cfg.Operator.AdminAPIKey, "LOOPD_OPERATOR_ADMIN_API_KEY")
	setStringSlice(&cfg.Operator.Admins, "LOOPD_OPERATOR_ADMINS")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "LOOPD_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "LOOPD_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "LOOPD_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "LOOPD_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "LOOPD_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "LOOPD_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "LOOPD_POSTGRES_SSLMODE")
	setInt(&cfg.Postgres.PoolMaxConns, "LOOPD_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "LOOPD_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "LOOPD_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "LOOPD_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "LOOPD_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "LOOPD_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "LOOPD_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "LOOPD_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "LOOPD_REDIS_TLS_ENABLED")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "LOOPD_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "LOOPD_S3_REGION")
	setStr(&cfg.S3.Bucket, "LOOPD_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "LOOPD_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "LOOPD_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "LOOPD_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "LOOPD_S3_FORCE_PATH_STYLE")

	// ── Gateways ──
	setStr(&cfg.Gateways.SplitMarketURL, "LOOPD_GATEWAYS_SPLIT_MARKET_URL")
	setStr(&cfg.Gateways.LendingURL, "LOOPD_GATEWAYS_LENDING_URL")
	setStr(&cfg.Gateways.SwapURL, "LOOPD_GATEWAYS_SWAP_URL")
	setStr(&cfg.Gateways.FlashURL, "LOOPD_GATEWAYS_FLASH_URL")
	setStr(&cfg.Gateways.TreasuryURL, "LOOPD_GATEWAYS_TREASURY_URL")
	setStr(&cfg.Gateways.HMACSecret, "LOOPD_GATEWAYS_HMAC_SECRET")
	setDuration(&cfg.Gateways.RequestTimeout, "LOOPD_GATEWAYS_REQUEST_TIMEOUT")
	setInt(&cfg.Gateways.RateLimitPerS, "LOOPD_GATEWAYS_RATE_LIMIT_PER_S")

	// ── Strategy ──
	setStr(&cfg.Strategy.BaseAsset, "LOOPD_STRATEGY_BASE_ASSET")
	setStr(&cfg.Strategy.PrincipalClaim, "LOOPD_STRATEGY_PRINCIPAL_CLAIM")
	setStr(&cfg.Strategy.YieldClaim, "LOOPD_STRATEGY_YIELD_CLAIM")
	setStr(&cfg.Strategy.SplittingMarket, "LOOPD_STRATEGY_SPLITTING_MARKET")
	setStr(&cfg.Strategy.SwapRouter, "LOOPD_STRATEGY_SWAP_ROUTER")
	setStr(&cfg.Strategy.LendingVenue, "LOOPD_STRATEGY_LENDING_VENUE")
	setInt64(&cfg.Strategy.MaxLeverageBps, "LOOPD_STRATEGY_MAX_LEVERAGE_BPS")
	setFloat64(&cfg.Strategy.MinHealthRatio, "LOOPD_STRATEGY_MIN_HEALTH_RATIO")
	setInt64(&cfg.Strategy.TargetLTVBps, "LOOPD_STRATEGY_TARGET_LTV_BPS")
	setInt64(&cfg.Strategy.SlippageFloorBps, "LOOPD_STRATEGY_SLIPPAGE_FLOOR_BPS")
	setInt64(&cfg.Strategy.SlippageDecayBps, "LOOPD_STRATEGY_SLIPPAGE_DECAY_BPS")
	setBool(&cfg.Strategy.Active, "LOOPD_STRATEGY_ACTIVE")

	// ── Engine ──
	setInt(&cfg.Engine.MaxLoops, "LOOPD_ENGINE_MAX_LOOPS")
	setDuration(&cfg.Engine.OperationLockTTL, "LOOPD_ENGINE_OPERATION_LOCK_TTL")
	setDuration(&cfg.Engine.ReconcileInterval, "LOOPD_ENGINE_RECONCILE_INTERVAL")
	setDuration(&cfg.Engine.ArchiveInterval, "LOOPD_ENGINE_ARCHIVE_INTERVAL")
	setInt(&cfg.Engine.ArchiveAfterDays, "LOOPD_ENGINE_ARCHIVE_AFTER_DAYS")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "LOOPD_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "LOOPD_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "LOOPD_SERVER_CORS_ORIGINS")

	// ── Top-level ──
	setStr(&cfg.Mode, "LOOPD_MODE")
	setStr(&cfg.LogLevel, "LOOPD_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			if s := strings.TrimSpace(p); s != "" {
				cleaned = append(cleaned, s)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
