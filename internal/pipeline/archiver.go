// Package pipeline runs the background storage reclamation job: terminal
// match records past retention are copied to cold storage and then
// tombstoned in the ledger.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron/v2"

	"github.com/alanyoungcy/stakeescrow/internal/domain"
)

const (
	archiveLockKey = "archive"
	// DefaultBatchSize bounds how many records one run archives per status.
	DefaultBatchSize = 500
)

// MatchReclaimer is the slice of the escrow service the job drives.
type MatchReclaimer interface {
	ListMatches(ctx context.Context, filter domain.MatchFilter) ([]domain.MatchView, error)
	Reclaim(ctx context.Context, matchID uint64) (*domain.Receipt, error)
}

// ArchiverConfig configures the reclamation job.
type ArchiverConfig struct {
	Retention time.Duration
	BatchSize int
	// LockTTL bounds a run; it should exceed the slowest expected upload.
	LockTTL time.Duration
}

// RunResult summarizes one archive run.
type RunResult struct {
	Path      string
	Cutoff    time.Time
	Archived  int
	Reclaimed int
	Failed    int
	Skipped   bool
}

// Archiver moves terminal match records older than the retention window to
// blob storage and reclaims their ledger storage.
type Archiver struct {
	matches MatchReclaimer
	blobs   domain.Archiver
	locks   domain.LockManager
	audit   domain.AuditStore
	cfg     ArchiverConfig
	now     func() time.Time
	logger  *slog.Logger
}

// NewArchiver creates an Archiver. locks and audit may be nil.
func NewArchiver(matches MatchReclaimer, blobs domain.Archiver, locks domain.LockManager, audit domain.AuditStore, cfg ArchiverConfig, logger *slog.Logger) *Archiver {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 10 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Archiver{
		matches: matches,
		blobs:   blobs,
		locks:   locks,
		audit:   audit,
		cfg:     cfg,
		now:     time.Now,
		logger:  logger.With(slog.String("component", "archiver")),
	}
}

// Run executes a single archive pass. When another replica holds the job
// lock the run is skipped.
func (a *Archiver) Run(ctx context.Context) (RunResult, error) {
	if a.locks != nil {
		unlock, err := a.locks.Acquire(ctx, archiveLockKey, a.cfg.LockTTL)
		if errors.Is(err, domain.ErrLockHeld) {
			a.logger.InfoContext(ctx, "archive run skipped, lock held elsewhere")
			return RunResult{Skipped: true}, nil
		}
		if err != nil {
			return RunResult{}, fmt.Errorf("pipeline: archive lock: %w", err)
		}
		defer unlock()
	}

	now := a.now().UTC()
	res := RunResult{Cutoff: now.Add(-a.cfg.Retention)}
	a.logger.InfoContext(ctx, "starting archive run",
		slog.Time("cutoff", res.Cutoff),
		slog.Duration("retention", a.cfg.Retention),
	)

	candidates, err := a.collect(ctx, res.Cutoff)
	if err != nil {
		return res, err
	}
	if len(candidates) == 0 {
		a.logger.InfoContext(ctx, "archive run complete, nothing to archive")
		return res, nil
	}

	res.Path, err = a.blobs.ArchiveMatches(ctx, candidates, now)
	if err != nil {
		return res, fmt.Errorf("pipeline: archive %d matches: %w", len(candidates), err)
	}
	res.Archived = len(candidates)

	for _, m := range candidates {
		if _, err := a.matches.Reclaim(ctx, m.MatchID); err != nil {
			res.Failed++
			a.logger.WarnContext(ctx, "reclaim failed",
				slog.Uint64("match_id", m.MatchID),
				slog.String("error", err.Error()),
			)
			continue
		}
		res.Reclaimed++
	}

	if a.audit != nil {
		if err := a.audit.Log(ctx, "archive.run", map[string]any{
			"path":      res.Path,
			"cutoff":    res.Cutoff.Format(time.RFC3339),
			"archived":  res.Archived,
			"reclaimed": res.Reclaimed,
			"failed":    res.Failed,
		}); err != nil {
			a.logger.WarnContext(ctx, "archive audit failed", slog.String("error", err.Error()))
		}
	}
	a.logger.InfoContext(ctx, "archive run complete",
		slog.String("path", res.Path),
		slog.Int("archived", res.Archived),
		slog.Int("reclaimed", res.Reclaimed),
		slog.Int("failed", res.Failed),
	)
	return res, nil
}

// collect lists terminal, drained records created before cutoff, up to
// BatchSize per status. Records still holding funds are skipped and paged
// past so they never crowd out eligible ones.
func (a *Archiver) collect(ctx context.Context, cutoff time.Time) ([]domain.MatchView, error) {
	var out []domain.MatchView
	for _, status := range []domain.MatchStatus{domain.MatchStatusSettled, domain.MatchStatusCancelled} {
		found := 0
		for offset := 0; found < a.cfg.BatchSize; offset += a.cfg.BatchSize {
			views, err := a.matches.ListMatches(ctx, domain.MatchFilter{
				Status:        &status,
				CreatedBefore: &cutoff,
				ListOpts:      domain.ListOpts{Limit: a.cfg.BatchSize, Offset: offset},
			})
			if err != nil {
				return nil, fmt.Errorf("pipeline: list %s matches: %w", status, err)
			}
			for _, v := range views {
				if v.Balance != 0 {
					a.logger.WarnContext(ctx, "terminal match still holds funds, skipping",
						slog.Uint64("match_id", v.MatchID),
						slog.Uint64("balance", v.Balance),
					)
					continue
				}
				if found == a.cfg.BatchSize {
					break
				}
				out = append(out, v)
				found++
			}
			if len(views) < a.cfg.BatchSize {
				break
			}
		}
	}
	return out, nil
}

// RunCron runs the archiver on a 5-field cron schedule (UTC) until ctx is
// cancelled. Overlapping runs are rescheduled rather than stacked.
func (a *Archiver) RunCron(ctx context.Context, cronExpr string) error {
	sched, err := gocron.NewScheduler(gocron.WithLocation(time.UTC))
	if err != nil {
		return fmt.Errorf("pipeline: new scheduler: %w", err)
	}
	job, err := sched.NewJob(
		gocron.CronJob(cronExpr, false),
		gocron.NewTask(func() {
			if _, err := a.Run(ctx); err != nil {
				a.logger.ErrorContext(ctx, "archive run failed", slog.String("error", err.Error()))
			}
		}),
		gocron.WithName("archive-matches"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		_ = sched.Shutdown()
		return fmt.Errorf("pipeline: schedule %q: %w", cronExpr, err)
	}

	sched.Start()
	if next, err := job.NextRun(); err == nil {
		a.logger.InfoContext(ctx, "archiver cron started",
			slog.String("cron", cronExpr),
			slog.Time("next_run", next),
		)
	}

	<-ctx.Done()
	if err := sched.Shutdown(); err != nil {
		a.logger.Warn("archiver shutdown", slog.String("error", err.Error()))
	}
	a.logger.Info("archiver cron stopped")
	return ctx.Err()
}
