package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	s3blob "github.com/alanyoungcy/stakeescrow/internal/blob/s3"
	"github.com/alanyoungcy/stakeescrow/internal/cache/redis"
	"github.com/alanyoungcy/stakeescrow/internal/config"
	"github.com/alanyoungcy/stakeescrow/internal/crypto"
	"github.com/alanyoungcy/stakeescrow/internal/domain"
	"github.com/alanyoungcy/stakeescrow/internal/escrow"
	"github.com/alanyoungcy/stakeescrow/internal/ledger/memory"
	"github.com/alanyoungcy/stakeescrow/internal/notify"
	"github.com/alanyoungcy/stakeescrow/internal/server/handler"
	"github.com/alanyoungcy/stakeescrow/internal/service"
	"github.com/alanyoungcy/stakeescrow/internal/store/postgres"
	"github.com/alanyoungcy/stakeescrow/internal/store/sqlite"
)

// Dependencies bundles every domain-level dependency that the application modes
// need to operate. It is constructed by Wire and torn down by the returned
// cleanup function.
type Dependencies struct {
	ProgramID domain.Address
	Ledger    domain.Ledger
	Escrow    *service.EscrowService

	// AuditStore is nil for the memory ledger.
	AuditStore domain.AuditStore

	// Caches; nil when Redis is disabled.
	RateLimiter domain.RateLimiter
	LockManager domain.LockManager
	SignalBus   domain.SignalBus
	MatchCache  domain.MatchCache

	// Blob storage; nil unless the archive job runs.
	BlobWriter domain.BlobWriter
	BlobReader domain.BlobReader
	Archiver   domain.Archiver
	Catalog    *s3blob.Catalog

	Notifier *notify.Notifier

	// HealthChecks are probed by GET /api/health.
	HealthChecks map[string]handler.HealthCheck
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, err
	}

	deps := &Dependencies{HealthChecks: map[string]handler.HealthCheck{}}

	programID, err := cfg.ProgramID()
	if err != nil {
		return fail(fmt.Errorf("wire: %w", err))
	}
	resolvers, err := cfg.TrustedResolvers()
	if err != nil {
		return fail(fmt.Errorf("wire: %w", err))
	}
	deps.ProgramID = programID

	// --- Ledger ---
	switch strings.ToLower(cfg.Ledger.Driver) {
	case "memory":
		deps.Ledger = memory.New()
		logger.WarnContext(ctx, "using the in-memory ledger; balances are lost on restart")

	case "sqlite":
		if dir := filepath.Dir(cfg.Ledger.SQLitePath); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return fail(fmt.Errorf("wire: sqlite dir: %w", err))
			}
		}
		store, err := sqlite.Open(ctx, cfg.Ledger.SQLitePath)
		if err != nil {
			return fail(fmt.Errorf("wire: sqlite: %w", err))
		}
		closers = append(closers, func() { _ = store.Close() })
		deps.Ledger = sqlite.NewLedger(store)
		deps.AuditStore = sqlite.NewAuditStore(store)
		deps.HealthChecks["ledger"] = func(ctx context.Context) error { return store.DB().PingContext(ctx) }

	case "postgres":
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
			return fail(fmt.Errorf("wire: postgres: %w", err))
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				return fail(fmt.Errorf("wire: postgres migrations: %w", err))
			}
		}
		deps.Ledger = postgres.NewLedger(pgClient.Pool())
		deps.AuditStore = postgres.NewAuditStore(pgClient.Pool())
		deps.HealthChecks["ledger"] = pgClient.Health

	default:
		return fail(fmt.Errorf("wire: unknown ledger driver %q", cfg.Ledger.Driver))
	}
	closers = append(closers, func() { _ = deps.Ledger.Close() })

	// --- Redis ---
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: redis: %w", err))
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.RateLimiter = redis.NewRateLimiter(redisClient)
		deps.LockManager = redis.NewLockManager(redisClient)
		deps.SignalBus = redis.NewSignalBus(redisClient)
		deps.MatchCache = redis.NewMatchCache(redisClient, cfg.Redis.MatchTTL.Duration)
		deps.HealthChecks["redis"] = redisClient.Ping
	}

	// --- S3 blob storage (only when the archive job runs) ---
	if cfg.ArchiveRuns() {
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
			return fail(fmt.Errorf("wire: s3: %w", err))
		}
		closers = append(closers, func() { _ = s3Client.Close() })

		deps.BlobWriter = s3blob.NewWriter(s3Client)
		deps.BlobReader = s3blob.NewReader(s3Client)
		deps.Archiver = s3blob.NewArchiver(deps.BlobWriter, deps.AuditStore)
		deps.Catalog = s3blob.NewCatalog(deps.BlobReader)
		deps.HealthChecks["s3"] = s3Client.Health
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			notify.DefaultTelegramAPI,
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
			nil,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL, nil))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	// --- Program and service ---
	program, err := escrow.New(escrow.Config{
		ProgramID:        programID,
		MinStake:         cfg.Program.MinStake,
		TrustedResolvers: resolvers,
	}, logger)
	if err != nil {
		return fail(fmt.Errorf("wire: program: %w", err))
	}
	verifier := crypto.NewVerifier(crypto.NewDomain(cfg.Program.ChainID, programID))

	svc := service.NewEscrowService(program, deps.Ledger, verifier, logger)
	if deps.AuditStore != nil {
		svc.WithAudit(deps.AuditStore)
	}
	if deps.SignalBus != nil {
		svc.WithBus(deps.SignalBus)
	}
	if deps.MatchCache != nil {
		svc.WithCache(deps.MatchCache)
	}
	if deps.Notifier.Enabled() {
		svc.WithNotifier(deps.Notifier)
	}
	deps.Escrow = svc

	return deps, cleanup, nil
}
