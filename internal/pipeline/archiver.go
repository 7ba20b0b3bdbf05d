// Package pipeline runs the scheduled background jobs.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/alanyoungcy/marketguard/internal/domain"
)

// archiveLockTTL bounds how long a crashed replica can block the next run.
const archiveLockTTL = 30 * time.Minute

// Archiver moves assessments past the retention window to cold storage on a
// cron schedule. When a lock manager is set only one replica runs per tick.
type Archiver struct {
	blobArchiver  domain.Archiver
	locks         domain.LockManager
	retentionDays int
	now           func() time.Time
	logger        *slog.Logger
}

// NewArchiver creates an Archiver. locks may be nil.
func NewArchiver(blobArchiver domain.Archiver, locks domain.LockManager, retentionDays int, logger *slog.Logger) *Archiver {
	return &Archiver{
		blobArchiver:  blobArchiver,
		locks:         locks,
		retentionDays: retentionDays,
		now:           func() time.Time { return time.Now().UTC() },
		logger:        logger.With(slog.String("component", "archiver")),
	}
}

// Cutoff returns the oldest timestamp still inside the retention window.
func (a *Archiver) Cutoff() time.Time {
	return a.now().Add(-time.Duration(a.retentionDays) * 24 * time.Hour)
}

// Run executes one archive pass. It is a no-op when another replica holds
// the archive lock.
func (a *Archiver) Run(ctx context.Context) (int64, error) {
	if a.locks != nil {
		unlock, err := a.locks.Acquire(ctx, "archive", archiveLockTTL)
		if err != nil {
			if errors.Is(err, domain.ErrLockHeld) {
				a.logger.Info("archive run skipped, lock held elsewhere")
				return 0, nil
			}
			return 0, fmt.Errorf("pipeline: archive lock: %w", err)
		}
		defer unlock()
	}

	cutoff := a.Cutoff()
	start := time.Now()
	a.logger.Info("starting archive run",
		slog.Time("cutoff", cutoff),
		slog.Int("retention_days", a.retentionDays),
	)

	n, err := a.blobArchiver.ArchiveAssessments(ctx, cutoff)
	if err != nil {
		return n, fmt.Errorf("pipeline: archive assessments before %s: %w", cutoff.Format(time.RFC3339), err)
	}
	a.logger.Info("archive run complete",
		slog.Int64("archived", n),
		slog.Duration("elapsed", time.Since(start)),
	)
	return n, nil
}

// RunCron runs the archiver on spec, a standard five-field cron expression
// evaluated in UTC, until ctx is cancelled.
func (a *Archiver) RunCron(ctx context.Context, spec string) error {
	c := cron.New(cron.WithLocation(time.UTC))
	if _, err := c.AddFunc(spec, func() {
		if _, err := a.Run(ctx); err != nil {
			a.logger.Error("archive run failed", slog.String("error", err.Error()))
		}
	}); err != nil {
		return fmt.Errorf("pipeline: parse cron %q: %w", spec, err)
	}

	c.Start()
	a.logger.Info("archiver cron started", slog.String("cron", spec))

	<-ctx.Done()
	<-c.Stop().Done()
	a.logger.Info("archiver cron stopped")
	return nil
}
