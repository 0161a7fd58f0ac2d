package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const testPrivateKey = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

func engineConfig() Config {
	cfg := Defaults()
	cfg.Operator.PrivateKey = testPrivateKey
	cfg.Gateways.SplitMarketURL = "http://localhost:9101"
	cfg.Gateways.LendingURL = "http://localhost:9102"
	cfg.Gateways.SwapURL = "http://localhost:9103"
	cfg.Gateways.HMACSecret = "secret"
	return cfg
}

func TestDefaultsValidateForEngineMode(t *testing.T) {
	cfg := engineConfig()
	require.NoError(t, cfg.Validate())
}

func TestDefaultsValidateForSimMode(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "sim"
	// Sim needs no key and no gateway endpoints.
	require.NoError(t, cfg.Validate())
}

func TestValidateCollectsAllProblems(t *testing.T) {
	cfg := engineConfig()
	cfg.Mode = "warp"
	cfg.LogLevel = "loud"
	cfg.Redis.Addr = ""
	cfg.Strategy.TargetLTVBps = 10_000

	err := cfg.Validate()
	require.Error(t, err)
	require.Contains(t, err.Error(), `unknown mode "warp"`)
	require.Contains(t, err.Error(), `unknown log_level "loud"`)
	require.Contains(t, err.Error(), "redis: addr must not be empty")
	require.Contains(t, err.Error(), "target_ltv_bps")
}

func TestValidateRequiresOperatorKeyForEngine(t *testing.T) {
	cfg := engineConfig()
	cfg.Operator.PrivateKey = ""

	err := cfg.Validate()
	require.Error(t, err)
	require.Contains(t, err.Error(), "private_key or encrypted_key_path")

	cfg.Operator.EncryptedKeyPath = "/etc/loopd/key.json"
	err = cfg.Validate()
	require.Error(t, err)
	require.Contains(t, err.Error(), "key_password")

	cfg.Operator.KeyPassword = "pw"
	require.NoError(t, cfg.Validate())
}

func TestValidateRequiresGatewaysOutsideSim(t *testing.T) {
	cfg := engineConfig()
	cfg.Gateways.SplitMarketURL = ""
	cfg.Gateways.HMACSecret = ""

	err := cfg.Validate()
	require.Error(t, err)
	require.Contains(t, err.Error(), "split_market_url")
	require.Contains(t, err.Error(), "hmac_secret")
}

func TestValidateStrategyBounds(t *testing.T) {
	cfg := engineConfig()
	cfg.Strategy.MaxLeverageBps = 10_000
	cfg.Strategy.MinHealthRatio = 1.0
	cfg.Strategy.BaseAsset = "not-an-address"

	err := cfg.Validate()
	require.Error(t, err)
	require.Contains(t, err.Error(), "max_leverage_bps")
	require.Contains(t, err.Error(), "min_health_ratio")
	require.Contains(t, err.Error(), "base_asset")
}

func TestValidateMorphoNeedsMarketID(t *testing.T) {
	cfg := engineConfig()
	cfg.Strategy.LendingVenue = "morpho"

	err := cfg.Validate()
	require.Error(t, err)
	require.Contains(t, err.Error(), "morpho_market_id")

	cfg.Strategy.MorphoMarketID = "0xabc123"
	require.NoError(t, cfg.Validate())
}

func TestValidateAdminAddresses(t *testing.T) {
	cfg := engineConfig()
	cfg.Operator.Admins = []string{"0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266", "banana"}

	err := cfg.Validate()
	require.Error(t, err)
	require.Contains(t, err.Error(), `admin "banana"`)
}

func TestLoadMergesFileOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
mode = "sim"
log_level = "debug"

[engine]
max_loops = 6
operation_lock_ttl = "90s"

[strategy]
target_ltv_bps = 7500

[server]
port = 9000
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "sim", cfg.Mode)
	require.Equal(t, "debug", cfg.LogLevel)
	require.Equal(t, 6, cfg.Engine.MaxLoops)
	require.Equal(t, 90*time.Second, cfg.Engine.OperationLockTTL.Duration)
	require.Equal(t, int64(7_500), cfg.Strategy.TargetLTVBps)
	require.Equal(t, 9000, cfg.Server.Port)
	// Untouched sections keep their defaults.
	require.Equal(t, "localhost:6379", cfg.Redis.Addr)
	require.Equal(t, 10, cfg.Postgres.PoolMaxConns)
}

func TestLoadAppliesEnvOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
mode = "sim"

[redis]
addr = "fromfile:6379"
`), 0o600))

	t.Setenv("LOOPD_REDIS_ADDR", "fromenv:6379")
	t.Setenv("LOOPD_MODE", "full")
	t.Setenv("LOOPD_ENGINE_MAX_LOOPS", "4")
	t.Setenv("LOOPD_SERVER_CORS_ORIGINS", "https://a.example, https://b.example")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "fromenv:6379", cfg.Redis.Addr)
	require.Equal(t, "full", cfg.Mode)
	require.Equal(t, 4, cfg.Engine.MaxLoops)
	require.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.CORSOrigins)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	require.Error(t, err)
}

func TestDurationRoundTrip(t *testing.T) {
	var d duration
	require.NoError(t, d.UnmarshalText([]byte("2m30s")))
	require.Equal(t, 150*time.Second, d.Duration)

	out, err := d.MarshalText()
	require.NoError(t, err)
	require.Equal(t, "2m30s", string(out))

	require.Error(t, d.UnmarshalText([]byte("soon")))
}
