// Package config defines the top-level configuration for the solwatch daemon
// and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by SOLWATCH_* environment variables.
type Config struct {
	Wallet   WalletConfig   `toml:"wallet"`
	Birdeye  BirdeyeConfig  `toml:"birdeye"`
	Jupiter  JupiterConfig  `toml:"jupiter"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Engine   EngineConfig   `toml:"engine"`
	Screener ScreenerConfig `toml:"screener"`
	Archive  ArchiveConfig  `toml:"archive"`
	Notify   NotifyConfig   `toml:"notify"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// WalletConfig holds the Solana signing identity.
type WalletConfig struct {
	// PrivateKey is the base58-encoded keypair. Prefer EncryptedKeyPath.
	PrivateKey       string `toml:"private_key"`
	PublicKey        string `toml:"public_key"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
}

// BirdeyeConfig holds the market-data provider endpoints.
type BirdeyeConfig struct {
	BaseURL        string   `toml:"base_url"`
	WsHost         string   `toml:"ws_host"`
	ApiKey         string   `toml:"api_key"`
	HistoryWindow  duration `toml:"history_window"`
	RequestsPerSec int      `toml:"requests_per_sec"`
}

// JupiterConfig holds the swap aggregator endpoints and routing bounds.
type JupiterConfig struct {
	BaseURL        string  `toml:"base_url"`
	RPCEndpoint    string  `toml:"rpc_endpoint"`
	MaxSlippageBps float64 `toml:"max_slippage_bps"`
	PriorityFeeSOL float64 `toml:"priority_fee_sol"`
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

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// EngineConfig holds every engine-tunable risk and scheduling parameter.
type EngineConfig struct {
	MaxPositions  int     `toml:"max_positions"`
	MinConfidence float64 `toml:"min_confidence"`

	// Notional bounds in USD.
	MinPositionSize     float64 `toml:"min_position_size"`
	MaxPositionSize     float64 `toml:"max_position_size"`
	SizeFraction        float64 `toml:"size_fraction"`
	MaxPositionFraction float64 `toml:"max_position_fraction"`

	// Default exit levels as percentages of entry price.
	StopLossPercent   float64 `toml:"stop_loss_percent"`
	TakeProfitPercent float64 `toml:"take_profit_percent"`

	TrailingActivationPercent float64 `toml:"trailing_activation_percent"`
	TrailingDistance          float64 `toml:"trailing_distance"`
	VolatilityThreshold       float64 `toml:"volatility_threshold"`
	VolatilityTPMultiplier    float64 `toml:"volatility_tp_multiplier"`

	MonitorInterval     duration `toml:"monitor_interval"`
	MaxParallelChecks   int      `toml:"max_parallel_checks"`
	StalenessThreshold  duration `toml:"staleness_threshold"`
	LiquidateOnShutdown bool     `toml:"liquidate_on_shutdown"`
	ShutdownTimeout     duration `toml:"shutdown_timeout"`
}

// ScreenerConfig holds the token screening watchlist and cadence. When
// enabled, watched mints are scored periodically and qualifying ones are
// published as entry signals.
type ScreenerConfig struct {
	Enabled  bool     `toml:"enabled"`
	Mints    []string `toml:"mints"`
	Interval duration `toml:"interval"`
}

// ArchiveConfig holds cold-storage archival parameters.
type ArchiveConfig struct {
	Enabled       bool     `toml:"enabled"`
	RetentionDays int      `toml:"retention_days"`
	Interval      duration `toml:"interval"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
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
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Birdeye: BirdeyeConfig{
			BaseURL:        "https://public-api.birdeye.so",
			WsHost:         "wss://public-api.birdeye.so/socket",
			HistoryWindow:  duration{time.Hour},
			RequestsPerSec: 10,
		},
		Jupiter: JupiterConfig{
			BaseURL:        "https://quote-api.jup.ag/v6",
			RPCEndpoint:    "https://api.mainnet-beta.solana.com",
			MaxSlippageBps: 100,
			PriorityFeeSOL: 0.0001,
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "solwatch",
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
			TLSEnabled: false,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "solwatch-data",
			UseSSL:         false,
			ForcePathStyle: true,
		},
		Engine: EngineConfig{
			MaxPositions:              5,
			MinConfidence:             0.6,
			MinPositionSize:           10,
			MaxPositionSize:           1000,
			SizeFraction:              0.1,
			MaxPositionFraction:       0.25,
			StopLossPercent:           10,
			TakeProfitPercent:         30,
			TrailingActivationPercent: 5,
			TrailingDistance:          0.02,
			VolatilityThreshold:       0.10,
			VolatilityTPMultiplier:    0.5,
			MonitorInterval:           duration{15 * time.Second},
			MaxParallelChecks:         8,
			StalenessThreshold:        duration{2 * time.Minute},
			LiquidateOnShutdown:       false,
			ShutdownTimeout:           duration{30 * time.Second},
		},
		Screener: ScreenerConfig{
			Enabled:  false,
			Interval: duration{5 * time.Minute},
		},
		Archive: ArchiveConfig{
			Enabled:       false,
			RetentionDays: 90,
			Interval:      duration{24 * time.Hour},
		},
		Notify: NotifyConfig{
			Events: []string{"position_opened", "position_closed", "position_force_closed", "trade_failed"},
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"trade":   true,
	"monitor": true,
	"archive": true,
	"full":    true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	// Mode
	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: trade, monitor, archive, full)", c.Mode))
	}

	// LogLevel
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Wallet: a signing identity is required for trading modes.
	needsWallet := c.Mode == "trade" || c.Mode == "full"
	if needsWallet {
		if c.Wallet.PrivateKey == "" && c.Wallet.EncryptedKeyPath == "" {
			errs = append(errs, "wallet: either private_key or encrypted_key_path must be set for mode "+c.Mode)
		}
		if c.Wallet.EncryptedKeyPath != "" && c.Wallet.KeyPassword == "" {
			errs = append(errs, "wallet: key_password is required when encrypted_key_path is set")
		}
	}

	// Birdeye
	if c.Birdeye.BaseURL == "" {
		errs = append(errs, "birdeye: base_url must not be empty")
	}
	if c.Birdeye.ApiKey == "" && c.Mode != "archive" {
		errs = append(errs, "birdeye: api_key is required for mode "+c.Mode)
	}
	if c.Birdeye.RequestsPerSec < 1 {
		errs = append(errs, "birdeye: requests_per_sec must be >= 1")
	}

	// Jupiter
	if c.Jupiter.BaseURL == "" {
		errs = append(errs, "jupiter: base_url must not be empty")
	}
	if c.Jupiter.MaxSlippageBps <= 0 {
		errs = append(errs, "jupiter: max_slippage_bps must be > 0")
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

	// S3: only required when archival is on.
	if c.Archive.Enabled {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty when archive is enabled")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when archive is enabled")
		}
		if c.Archive.RetentionDays < 1 {
			errs = append(errs, "archive: retention_days must be >= 1")
		}
	}

	// Screener
	if c.Screener.Enabled {
		if len(c.Screener.Mints) == 0 {
			errs = append(errs, "screener: mints must not be empty when screener is enabled")
		}
		if c.Screener.Interval.Duration <= 0 {
			errs = append(errs, "screener: interval must be > 0")
		}
	}

	// Engine
	if c.Engine.MaxPositions < 1 {
		errs = append(errs, "engine: max_positions must be >= 1")
	}
	if c.Engine.MinConfidence < 0 || c.Engine.MinConfidence > 1 {
		errs = append(errs, "engine: min_confidence must be in [0,1]")
	}
	if c.Engine.MinPositionSize <= 0 {
		errs = append(errs, "engine: min_position_size must be > 0")
	}
	if c.Engine.MaxPositionSize < c.Engine.MinPositionSize {
		errs = append(errs, "engine: max_position_size must be >= min_position_size")
	}
	if c.Engine.SizeFraction <= 0 || c.Engine.SizeFraction > 1 {
		errs = append(errs, "engine: size_fraction must be in (0,1]")
	}
	if c.Engine.MaxPositionFraction <= 0 || c.Engine.MaxPositionFraction > 1 {
		errs = append(errs, "engine: max_position_fraction must be in (0,1]")
	}
	if c.Engine.StopLossPercent <= 0 || c.Engine.StopLossPercent >= 100 {
		errs = append(errs, "engine: stop_loss_percent must be in (0,100)")
	}
	if c.Engine.TakeProfitPercent <= 0 {
		errs = append(errs, "engine: take_profit_percent must be > 0")
	}
	if c.Engine.TrailingDistance <= 0 || c.Engine.TrailingDistance >= 1 {
		errs = append(errs, "engine: trailing_distance must be in (0,1)")
	}
	if c.Engine.MonitorInterval.Duration <= 0 {
		errs = append(errs, "engine: monitor_interval must be > 0")
	}
	if c.Engine.MaxParallelChecks < 0 {
		errs = append(errs, "engine: max_parallel_checks must be >= 0")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
