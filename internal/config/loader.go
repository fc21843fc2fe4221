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
// built-in defaults, applies SOLWATCH_* environment variable overrides, and
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

// applyEnvOverrides reads well-known SOLWATCH_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Wallet ──
	setStr(&cfg.Wallet.PrivateKey, "SOLWATCH_WALLET_PRIVATE_KEY")
	setStr(&cfg.Wallet.PublicKey, "SOLWATCH_WALLET_PUBLIC_KEY")
	setStr(&cfg.Wallet.EncryptedKeyPath, "SOLWATCH_WALLET_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Wallet.KeyPassword, "SOLWATCH_WALLET_KEY_PASSWORD")

	// ── Birdeye ──
	setStr(&cfg.Birdeye.BaseURL, "SOLWATCH_BIRDEYE_BASE_URL")
	setStr(&cfg.Birdeye.WsHost, "SOLWATCH_BIRDEYE_WS_HOST")
	setStr(&cfg.Birdeye.ApiKey, "SOLWATCH_BIRDEYE_API_KEY")
	setDuration(&cfg.Birdeye.HistoryWindow, "SOLWATCH_BIRDEYE_HISTORY_WINDOW")
	setInt(&cfg.Birdeye.RequestsPerSec, "SOLWATCH_BIRDEYE_REQUESTS_PER_SEC")

	// ── Jupiter ──
	setStr(&cfg.Jupiter.BaseURL, "SOLWATCH_JUPITER_BASE_URL")
	setStr(&cfg.Jupiter.RPCEndpoint, "SOLWATCH_JUPITER_RPC_ENDPOINT")
	setFloat64(&cfg.Jupiter.MaxSlippageBps, "SOLWATCH_JUPITER_MAX_SLIPPAGE_BPS")
	setFloat64(&cfg.Jupiter.PriorityFeeSOL, "SOLWATCH_JUPITER_PRIORITY_FEE_SOL")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "SOLWATCH_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "SOLWATCH_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "SOLWATCH_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "SOLWATCH_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "SOLWATCH_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "SOLWATCH_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "SOLWATCH_POSTGRES_SSLMODE")
	setInt(&cfg.Postgres.PoolMaxConns, "SOLWATCH_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "SOLWATCH_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "SOLWATCH_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "SOLWATCH_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "SOLWATCH_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "SOLWATCH_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "SOLWATCH_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "SOLWATCH_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "SOLWATCH_REDIS_TLS_ENABLED")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "SOLWATCH_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "SOLWATCH_S3_REGION")
	setStr(&cfg.S3.Bucket, "SOLWATCH_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "SOLWATCH_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "SOLWATCH_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "SOLWATCH_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "SOLWATCH_S3_FORCE_PATH_STYLE")

	// ── Engine ──
	setInt(&cfg.Engine.MaxPositions, "SOLWATCH_ENGINE_MAX_POSITIONS")
	setFloat64(&cfg.Engine.MinConfidence, "SOLWATCH_ENGINE_MIN_CONFIDENCE")
	setFloat64(&cfg.Engine.MinPositionSize, "SOLWATCH_ENGINE_MIN_POSITION_SIZE")
	setFloat64(&cfg.Engine.MaxPositionSize, "SOLWATCH_ENGINE_MAX_POSITION_SIZE")
	setFloat64(&cfg.Engine.SizeFraction, "SOLWATCH_ENGINE_SIZE_FRACTION")
	setFloat64(&cfg.Engine.MaxPositionFraction, "SOLWATCH_ENGINE_MAX_POSITION_FRACTION")
	setFloat64(&cfg.Engine.StopLossPercent, "SOLWATCH_ENGINE_STOP_LOSS_PERCENT")
	setFloat64(&cfg.Engine.TakeProfitPercent, "SOLWATCH_ENGINE_TAKE_PROFIT_PERCENT")
	setFloat64(&cfg.Engine.TrailingActivationPercent, "SOLWATCH_ENGINE_TRAILING_ACTIVATION_PERCENT")
	setFloat64(&cfg.Engine.TrailingDistance, "SOLWATCH_ENGINE_TRAILING_DISTANCE")
	setFloat64(&cfg.Engine.VolatilityThreshold, "SOLWATCH_ENGINE_VOLATILITY_THRESHOLD")
	setFloat64(&cfg.Engine.VolatilityTPMultiplier, "SOLWATCH_ENGINE_VOLATILITY_TP_MULTIPLIER")
	setDuration(&cfg.Engine.MonitorInterval, "SOLWATCH_ENGINE_MONITOR_INTERVAL")
	setInt(&cfg.Engine.MaxParallelChecks, "SOLWATCH_ENGINE_MAX_PARALLEL_CHECKS")
	setDuration(&cfg.Engine.StalenessThreshold, "SOLWATCH_ENGINE_STALENESS_THRESHOLD")
	setBool(&cfg.Engine.LiquidateOnShutdown, "SOLWATCH_ENGINE_LIQUIDATE_ON_SHUTDOWN")
	setDuration(&cfg.Engine.ShutdownTimeout, "SOLWATCH_ENGINE_SHUTDOWN_TIMEOUT")

	// ── Screener ──
	setBool(&cfg.Screener.Enabled, "SOLWATCH_SCREENER_ENABLED")
	setStringSlice(&cfg.Screener.Mints, "SOLWATCH_SCREENER_MINTS")
	setDuration(&cfg.Screener.Interval, "SOLWATCH_SCREENER_INTERVAL")

	// ── Archive ──
	setBool(&cfg.Archive.Enabled, "SOLWATCH_ARCHIVE_ENABLED")
	setInt(&cfg.Archive.RetentionDays, "SOLWATCH_ARCHIVE_RETENTION_DAYS")
	setDuration(&cfg.Archive.Interval, "SOLWATCH_ARCHIVE_INTERVAL")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "SOLWATCH_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "SOLWATCH_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "SOLWATCH_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "SOLWATCH_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "SOLWATCH_MODE")
	setStr(&cfg.LogLevel, "SOLWATCH_LOG_LEVEL")
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
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
