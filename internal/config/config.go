// Package config defines the top-level configuration for the escrow daemon
// and CLI and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/alanyoungcy/stakeescrow/internal/domain"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by ESCROW_* environment variables.
type Config struct {
	Program  ProgramConfig  `toml:"program"`
	Ledger   LedgerConfig   `toml:"ledger"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Archive  ArchiveConfig  `toml:"archive"`
	Server   ServerConfig   `toml:"server"`
	Notify   NotifyConfig   `toml:"notify"`
	Wallet   WalletConfig   `toml:"wallet"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// ProgramConfig holds the settlement program parameters.
type ProgramConfig struct {
	// ID is the 32-byte program identity, hex encoded.
	ID       string `toml:"id"`
	ChainID  int64  `toml:"chain_id"`
	MinStake uint64 `toml:"min_stake"`
	// TrustedResolvers restricts settlement to these identities. Empty
	// accepts any signer.
	TrustedResolvers []string `toml:"trusted_resolvers"`
}

// LedgerConfig selects the ledger backend.
type LedgerConfig struct {
	// Driver is one of memory, sqlite or postgres.
	Driver        string `toml:"driver"`
	SQLitePath    string `toml:"sqlite_path"`
	FaucetEnabled bool   `toml:"faucet_enabled"`
	// FaucetMax caps a single faucet credit in base units.
	FaucetMax uint64 `toml:"faucet_max"`
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
	Enabled    bool     `toml:"enabled"`
	Addr       string   `toml:"addr"`
	Password   string   `toml:"password"`
	DB         int      `toml:"db"`
	PoolSize   int      `toml:"pool_size"`
	MaxRetries int      `toml:"max_retries"`
	TLSEnabled bool     `toml:"tls_enabled"`
	MatchTTL   duration `toml:"match_ttl"`
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

// ArchiveConfig holds the match archive job parameters.
type ArchiveConfig struct {
	Enabled       bool     `toml:"enabled"`
	RetentionDays int      `toml:"retention_days"`
	Cron          string   `toml:"cron"`
	BatchSize     int      `toml:"batch_size"`
	LockTTL       duration `toml:"lock_ttl"`
}

// Retention returns the retention window as a duration.
func (a ArchiveConfig) Retention() time.Duration {
	return time.Duration(a.RetentionDays) * 24 * time.Hour
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Port        int      `toml:"port"`
	APIKey      string   `toml:"api_key"`
	CORSOrigins []string `toml:"cors_origins"`
	// RateLimit is the number of requests allowed per client per
	// RateWindow. Zero disables rate limiting.
	RateLimit  int      `toml:"rate_limit"`
	RateWindow duration `toml:"rate_window"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// WalletConfig holds the signing key used by escrowctl.
type WalletConfig struct {
	PrivateKey       string `toml:"private_key"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
	// ServerURL is the escrowd API base URL transactions are submitted to.
	ServerURL string `toml:"server_url"`
	APIKey    string `toml:"api_key"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
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

// DefaultProgramID is the program identity used when none is configured.
const DefaultProgramID = "0x5374616b65457363726f7750726f6772616d0000000000000000000000000000"

// Defaults returns a Config populated with reasonable default values.
func Defaults() Config {
	return Config{
		Program: ProgramConfig{
			ID:       DefaultProgramID,
			ChainID:  1,
			MinStake: domain.DefaultMinStake,
		},
		Ledger: LedgerConfig{
			Driver:     "sqlite",
			SQLitePath: "data/escrow.db",
			FaucetMax:  1_000_000_000_000,
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "postgres",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Enabled:    true,
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
			MatchTTL:   duration{30 * time.Second},
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "escrow-archive",
			ForcePathStyle: true,
		},
		Archive: ArchiveConfig{
			RetentionDays: 90,
			Cron:          "0 3 * * *",
			BatchSize:     500,
			LockTTL:       duration{10 * time.Minute},
		},
		Server: ServerConfig{
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
			RateLimit:   120,
			RateWindow:  duration{time.Minute},
		},
		Notify: NotifyConfig{
			Events: []string{"match_settled", "match_cancelled", "fees_withdrawn"},
		},
		Wallet: WalletConfig{
			ServerURL: "http://localhost:8000",
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"server":  true,
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

var validDrivers = map[string]bool{
	"memory":   true,
	"sqlite":   true,
	"postgres": true,
}

// ArchiveRuns reports whether the mode starts the archive scheduler.
func (c *Config) ArchiveRuns() bool {
	mode := strings.ToLower(c.Mode)
	return mode == "archive" || (mode == "full" && c.Archive.Enabled)
}

// ServerRuns reports whether the mode starts the HTTP server.
func (c *Config) ServerRuns() bool {
	mode := strings.ToLower(c.Mode)
	return mode == "server" || mode == "full"
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: server, archive, full)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Program
	if id, err := domain.ParseAddress(c.Program.ID); err != nil {
		errs = append(errs, fmt.Sprintf("program: id: %v", err))
	} else if id.IsZero() {
		errs = append(errs, "program: id must not be zero")
	}
	if c.Program.ChainID <= 0 {
		errs = append(errs, "program: chain_id must be positive")
	}
	if c.Program.MinStake == 0 {
		errs = append(errs, "program: min_stake must be > 0")
	}
	for _, r := range c.Program.TrustedResolvers {
		if _, err := domain.ParseAddress(r); err != nil {
			errs = append(errs, fmt.Sprintf("program: trusted_resolvers: %q: %v", r, err))
		}
	}

	// Ledger
	driver := strings.ToLower(c.Ledger.Driver)
	if !validDrivers[driver] {
		errs = append(errs, fmt.Sprintf("ledger: unknown driver %q (valid: memory, sqlite, postgres)", c.Ledger.Driver))
	}
	if driver == "sqlite" && strings.TrimSpace(c.Ledger.SQLitePath) == "" {
		errs = append(errs, "ledger: sqlite_path must not be empty for the sqlite driver")
	}
	if c.Ledger.FaucetEnabled && c.Ledger.FaucetMax == 0 {
		errs = append(errs, "ledger: faucet_max must be > 0 when the faucet is enabled")
	}

	// Postgres
	if driver == "postgres" {
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

	// Archive
	if c.ArchiveRuns() {
		if !c.Redis.Enabled {
			errs = append(errs, "archive: redis must be enabled for the archive lock")
		}
		if c.S3.Endpoint == "" && c.S3.Region == "" {
			errs = append(errs, "s3: endpoint or region must be set for archiving")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
		if c.Archive.RetentionDays < 1 {
			errs = append(errs, "archive: retention_days must be >= 1")
		}
		if strings.TrimSpace(c.Archive.Cron) == "" {
			errs = append(errs, "archive: cron must not be empty")
		}
		if c.Archive.BatchSize < 1 {
			errs = append(errs, "archive: batch_size must be >= 1")
		}
	}

	// Server
	if c.ServerRuns() {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.RateLimit < 0 {
			errs = append(errs, "server: rate_limit must be >= 0")
		}
		if c.Server.RateLimit > 0 && c.Server.RateWindow.Duration <= 0 {
			errs = append(errs, "server: rate_window must be positive when rate_limit is set")
		}
	}

	// Notify
	if (c.Notify.TelegramToken == "") != (c.Notify.TelegramChatID == "") {
		errs = append(errs, "notify: telegram_token and telegram_chat_id must be set together")
	}

	// Wallet
	if c.Wallet.EncryptedKeyPath != "" && c.Wallet.KeyPassword == "" {
		errs = append(errs, "wallet: key_password is required when encrypted_key_path is set")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// ProgramID parses the configured program identity.
func (c *Config) ProgramID() (domain.Address, error) {
	return domain.ParseAddress(c.Program.ID)
}

// TrustedResolvers parses the configured resolver identities.
func (c *Config) TrustedResolvers() ([]domain.Address, error) {
	out := make([]domain.Address, 0, len(c.Program.TrustedResolvers))
	for _, r := range c.Program.TrustedResolvers {
		addr, err := domain.ParseAddress(r)
		if err != nil {
			return nil, fmt.Errorf("config: trusted resolver %q: %w", r, err)
		}
		out = append(out, addr)
	}
	return out, nil
}
