package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsValidate(t *testing.T) {
	cfg := Defaults()
	require.NoError(t, cfg.Validate())

	id, err := cfg.ProgramID()
	require.NoError(t, err)
	assert.False(t, id.IsZero())
}

func TestValidateCollectsEveryProblem(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "trade"
	cfg.LogLevel = "verbose"
	cfg.Program.ID = "0x1234"
	cfg.Ledger.Driver = "mysql"
	cfg.Notify.TelegramToken = "token"

	err := cfg.Validate()
	require.Error(t, err)
	for _, want := range []string{
		`unknown mode "trade"`,
		`unknown log_level "verbose"`,
		"program: id",
		`ledger: unknown driver "mysql"`,
		"notify: telegram_token and telegram_chat_id",
	} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestValidateModeSpecificSections(t *testing.T) {
	t.Run("archive needs storage", func(t *testing.T) {
		cfg := Defaults()
		cfg.Mode = "archive"
		cfg.S3.Bucket = ""
		cfg.Archive.RetentionDays = 0
		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "s3: bucket")
		assert.Contains(t, err.Error(), "archive: retention_days")
	})

	t.Run("postgres checked only when selected", func(t *testing.T) {
		cfg := Defaults()
		cfg.Postgres.PoolMaxConns = 0
		require.NoError(t, cfg.Validate())

		cfg.Ledger.Driver = "postgres"
		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "postgres: pool_max_conns")
	})

	t.Run("rate window required", func(t *testing.T) {
		cfg := Defaults()
		cfg.Server.RateWindow.Duration = 0
		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "server: rate_window")
	})
}

func TestModes(t *testing.T) {
	cfg := Defaults()
	assert.True(t, cfg.ServerRuns())
	assert.False(t, cfg.ArchiveRuns())

	cfg.Archive.Enabled = true
	assert.True(t, cfg.ArchiveRuns())

	cfg.Mode = "archive"
	assert.False(t, cfg.ServerRuns())
	assert.True(t, cfg.ArchiveRuns())
}

func TestLoadMergesFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "escrow.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
mode = "server"

[program]
min_stake = 50000000
trusted_resolvers = ["0x0101010101010101010101010101010101010101010101010101010101010101"]

[ledger]
driver = "memory"

[archive]
lock_ttl = "2m"
`), 0o600))

	t.Setenv("ESCROW_SERVER_PORT", "9090")
	t.Setenv("ESCROW_NOTIFY_EVENTS", "match_settled, fees_withdrawn,")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "server", cfg.Mode)
	assert.Equal(t, uint64(50_000_000), cfg.Program.MinStake)
	assert.Equal(t, "memory", cfg.Ledger.Driver)
	assert.Equal(t, 2*time.Minute, cfg.Archive.LockTTL.Duration)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, []string{"match_settled", "fees_withdrawn"}, cfg.Notify.Events)
	// Untouched sections keep their defaults.
	assert.Equal(t, "escrow-archive", cfg.S3.Bucket)

	resolvers, err := cfg.TrustedResolvers()
	require.NoError(t, err)
	require.Len(t, resolvers, 1)
	assert.Equal(t, byte(1), resolvers[0][0])
}

func TestLoadWithoutFile(t *testing.T) {
	t.Setenv("ESCROW_LEDGER_DRIVER", "postgres")
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "postgres", cfg.Ledger.Driver)

	_, err = Load(filepath.Join(t.TempDir(), "missing.toml"))
	require.Error(t, err)
}

func TestRedactedConfig(t *testing.T) {
	cfg := Defaults()
	cfg.Wallet.PrivateKey = "deadbeef"
	cfg.Server.APIKey = "secret"
	cfg.Postgres.DSN = "postgres://u:p@h/db"

	out := RedactedConfig(&cfg)
	assert.Equal(t, "***", out.Wallet.PrivateKey)
	assert.Equal(t, "***", out.Server.APIKey)
	assert.Equal(t, "***", out.Postgres.DSN)
	assert.Empty(t, out.Redis.Password)
	assert.Equal(t, "deadbeef", cfg.Wallet.PrivateKey)

	out.Notify.Events[0] = "changed"
	assert.Equal(t, "match_settled", cfg.Notify.Events[0])
}
