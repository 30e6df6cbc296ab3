// Package config defines the top-level configuration for the settlement
// engine and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Config is the root configuration structure. Fields are populated from a
// TOML file and then optionally overridden by SETTLED_* environment
// variables.
type Config struct {
	Engine   EngineConfig   `toml:"engine"`
	Wallet   WalletConfig   `toml:"wallet"`
	Admin    AdminConfig    `toml:"admin"`
	Clock    ClockConfig    `toml:"clock"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Archive  ArchiveConfig  `toml:"archive"`
	Server   ServerConfig   `toml:"server"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// EngineConfig holds the settlement engine instance parameters.
type EngineConfig struct {
	// Address is the engine's own identity, mixed into every order hash.
	Address string `toml:"address"`

	// FeeToken is the token in which protocol fees are denominated.
	FeeToken string `toml:"fee_token"`

	// ErrorTolerancePercent bounds the relative truncation error of the
	// sell-amount computation, in whole percent.
	ErrorTolerancePercent int64 `toml:"error_tolerance_percent"`
}

// WalletConfig holds the signing key used by the probe mode and client
// tooling. The engine itself never signs.
type WalletConfig struct {
	PrivateKey       string `toml:"private_key"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
}

// AdminConfig seeds the authorization registry.
type AdminConfig struct {
	Owner      string   `toml:"owner"`
	Operators  []string `toml:"operators"`
	FeeAccount string   `toml:"fee_account"`
}

// ClockConfig controls the block clock standing in for the host chain.
type ClockConfig struct {
	StartHeight   uint64   `toml:"start_height"`
	BlockInterval duration `toml:"block_interval"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	Enabled       bool   `toml:"enabled"`
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
	Enabled    bool   `toml:"enabled"`
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// ArchiveConfig controls journal archival to object storage.
type ArchiveConfig struct {
	Enabled       bool     `toml:"enabled"`
	RetentionDays int      `toml:"retention_days"`
	Interval      duration `toml:"interval"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled         bool     `toml:"enabled"`
	Port            int      `toml:"port"`
	CORSOrigins     []string `toml:"cors_origins"`
	APIKey          string   `toml:"api_key"`
	RateLimit       int      `toml:"rate_limit"`
	RateLimitWindow duration `toml:"rate_limit_window"`
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
		Engine: EngineConfig{
			ErrorTolerancePercent: 0,
		},
		Clock: ClockConfig{
			StartHeight:   1,
			BlockInterval: duration{12 * time.Second},
		},
		Postgres: PostgresConfig{
			Enabled:       false,
			Host:          "localhost",
			Port:          5432,
			Database:      "settled",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Enabled:    false,
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
			TLSEnabled: false,
		},
		S3: S3Config{
			Enabled:        false,
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "settled-archive",
			UseSSL:         false,
			ForcePathStyle: true,
		},
		Archive: ArchiveConfig{
			Enabled:       false,
			RetentionDays: 90,
			Interval:      duration{1 * time.Hour},
		},
		Server: ServerConfig{
			Enabled:         true,
			Port:            8000,
			CORSOrigins:     []string{"http://localhost:3000"},
			RateLimit:       0,
			RateLimitWindow: duration{time.Second},
		},
		Mode:     "server",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"server": true,
	"full":   true,
	"replay": true,
	"probe":  true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and
// returns a combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	// Mode
	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: server, full, replay, probe)", c.Mode))
	}

	// LogLevel
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Engine
	if !common.IsHexAddress(c.Engine.Address) {
		errs = append(errs, fmt.Sprintf("engine: address %q is not a valid hex address", c.Engine.Address))
	}
	if !common.IsHexAddress(c.Engine.FeeToken) {
		errs = append(errs, fmt.Sprintf("engine: fee_token %q is not a valid hex address", c.Engine.FeeToken))
	}
	if c.Engine.ErrorTolerancePercent < 0 || c.Engine.ErrorTolerancePercent > 100 {
		errs = append(errs, fmt.Sprintf("engine: error_tolerance_percent must be 0-100, got %d", c.Engine.ErrorTolerancePercent))
	}

	// Admin
	if !common.IsHexAddress(c.Admin.Owner) {
		errs = append(errs, fmt.Sprintf("admin: owner %q is not a valid hex address", c.Admin.Owner))
	}
	if !common.IsHexAddress(c.Admin.FeeAccount) {
		errs = append(errs, fmt.Sprintf("admin: fee_account %q is not a valid hex address", c.Admin.FeeAccount))
	}
	for _, op := range c.Admin.Operators {
		if !common.IsHexAddress(op) {
			errs = append(errs, fmt.Sprintf("admin: operator %q is not a valid hex address", op))
		}
	}

	// Wallet — probe mode needs a key source.
	if c.Mode == "probe" {
		if c.Wallet.PrivateKey == "" && c.Wallet.EncryptedKeyPath == "" {
			errs = append(errs, "wallet: either private_key or encrypted_key_path must be set for probe mode")
		}
		if c.Wallet.EncryptedKeyPath != "" && c.Wallet.KeyPassword == "" {
			errs = append(errs, "wallet: key_password is required when encrypted_key_path is set")
		}
	}

	// Clock
	if c.Clock.BlockInterval.Duration <= 0 {
		errs = append(errs, "clock: block_interval must be positive")
	}

	// Postgres — replay mode depends on the journal.
	if c.Mode == "replay" && !c.Postgres.Enabled {
		errs = append(errs, "postgres: must be enabled for replay mode")
	}
	if c.Postgres.Enabled {
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
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	// S3 / archive
	if c.Archive.Enabled && !c.S3.Enabled {
		errs = append(errs, "archive: s3 must be enabled when archival is enabled")
	}
	if c.Archive.Enabled && !c.Postgres.Enabled {
		errs = append(errs, "archive: postgres must be enabled when archival is enabled")
	}
	if c.S3.Enabled {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
	}
	if c.Archive.Enabled {
		if c.Archive.RetentionDays < 1 {
			errs = append(errs, "archive: retention_days must be >= 1")
		}
		if c.Archive.Interval.Duration <= 0 {
			errs = append(errs, "archive: interval must be positive")
		}
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.RateLimit < 0 {
			errs = append(errs, "server: rate_limit must be >= 0")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// EngineAddress returns the parsed engine address. Call only after a
// successful Validate.
func (c *Config) EngineAddress() common.Address {
	return common.HexToAddress(c.Engine.Address)
}

// FeeTokenAddress returns the parsed fee token address.
func (c *Config) FeeTokenAddress() common.Address {
	return common.HexToAddress(c.Engine.FeeToken)
}

// OwnerAddress returns the parsed owner address.
func (c *Config) OwnerAddress() common.Address {
	return common.HexToAddress(c.Admin.Owner)
}

// FeeAccountAddress returns the parsed fee account address.
func (c *Config) FeeAccountAddress() common.Address {
	return common.HexToAddress(c.Admin.FeeAccount)
}

// OperatorAddresses returns the parsed operator set.
func (c *Config) OperatorAddresses() []common.Address {
	out := make([]common.Address, 0, len(c.Admin.Operators))
	for _, op := range c.Admin.Operators {
		out = append(out, common.HexToAddress(op))
	}
	return out
}
