package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/alanyoungcy/polymon/internal/domain"
)

// SnapshotPruner deletes snapshot objects past the retention horizon.
type SnapshotPruner interface {
	List(ctx context.Context, prefix string) ([]domain.BlobInfo, error)
	Delete(ctx context.Context, path string) error
}

// Archiver writes periodic snapshots of the mirrored collections to cold
// storage and prunes snapshots older than the retention window.
type Archiver struct {
	snapshots domain.SnapshotArchiver
	pruner    SnapshotPruner
	retention time.Duration
	logger    *slog.Logger
}

// NewArchiver creates a new Archiver. Retention pruning is skipped when
// pruner is nil or retention is zero.
func NewArchiver(snapshots domain.SnapshotArchiver, pruner SnapshotPruner, retention time.Duration, logger *slog.Logger) *Archiver {
	return &Archiver{
		snapshots: snapshots,
		pruner:    pruner,
		retention: retention,
		logger:    logger.With(slog.String("component", "archiver")),
	}
}

// Run executes a single snapshot run covering both collections, then prunes
// expired snapshots.
func (a *Archiver) Run(ctx context.Context) error {
	a.logger.Info("starting snapshot run")

	eventCount, err := a.snapshots.ArchiveEvents(ctx)
	if err != nil {
		return fmt.Errorf("archiving events: %w", err)
	}
	a.logger.Info("archived events", slog.Int64("count", eventCount))

	marketCount, err := a.snapshots.ArchiveMarkets(ctx)
	if err != nil {
		return fmt.Errorf("archiving markets: %w", err)
	}
	a.logger.Info("archived markets", slog.Int64("count", marketCount))

	if err := a.prune(ctx); err != nil {
		a.logger.Error("snapshot pruning failed", slog.String("error", err.Error()))
	}

	a.logger.Info("snapshot run complete",
		slog.Int64("events", eventCount),
		slog.Int64("markets", marketCount),
	)

	return nil
}

// prune deletes snapshots whose last-modified time is past the retention
// window.
func (a *Archiver) prune(ctx context.Context) error {
	if a.pruner == nil || a.retention <= 0 {
		return nil
	}

	cutoff := time.Now().Add(-a.retention)
	infos, err := a.pruner.List(ctx, "snapshots/")
	if err != nil {
		return fmt.Errorf("listing snapshots: %w", err)
	}

	for _, info := range infos {
		if info.LastModified.After(cutoff) {
			continue
		}
		if err := a.pruner.Delete(ctx, info.Path); err != nil {
			return fmt.Errorf("deleting snapshot %s: %w", info.Path, err)
		}
		a.logger.Info("pruned snapshot", slog.String("path", info.Path))
	}
	return nil
}

// RunCron runs the archiver on a cron schedule until the context is cancelled.
// It supports cron expressions in the standard 5-field format:
// "minute hour day-of-month month day-of-week"
//
// Example: "0 3 * * *" runs at 3:00 AM every day.
func (a *Archiver) RunCron(ctx context.Context, cronExpr string) error {
	a.logger.Info("archiver cron started", slog.String("cron", cronExpr))

	for {
		next, err := nextCronTime(cronExpr, time.Now().UTC())
		if err != nil {
			return fmt.Errorf("parsing cron expression %q: %w", cronExpr, err)
		}

		waitDuration := time.Until(next)
		a.logger.Info("archiver waiting for next cron trigger",
			slog.Time("next_run", next),
			slog.Duration("wait", waitDuration),
		)

		timer := time.NewTimer(waitDuration)
		select {
		case <-ctx.Done():
			timer.Stop()
			a.logger.Info("archiver cron stopped")
			return ctx.Err()
		case <-timer.C:
			if err := a.Run(ctx); err != nil {
				a.logger.Error("snapshot run failed", slog.String("error", err.Error()))
			}
		}
	}
}

// cronSchedule is a parsed 5-field cron expression. Each field is a bitset
// over its value range; a set bit means the value matches. Months use bits
// 1-12 and weekdays 0-6 with Sunday as 0.
type cronSchedule struct {
	minute uint64
	hour   uint64
	dom    uint64
	month  uint64
	dow    uint64
}

func (s cronSchedule) matches(t time.Time) bool {
	return s.minute&(1<<t.Minute()) != 0 &&
		s.hour&(1<<t.Hour()) != 0 &&
		s.dom&(1<<t.Day()) != 0 &&
		s.month&(1<<int(t.Month())) != 0 &&
		s.dow&(1<<int(t.Weekday())) != 0
}

// parseCron parses "minute hour day-of-month month day-of-week". Fields
// accept "*" or comma-separated value lists.
func parseCron(expr string) (cronSchedule, error) {
	fields := strings.Fields(expr)
	if len(fields) != 5 {
		return cronSchedule{}, fmt.Errorf("cron expression must have 5 fields, got %d", len(fields))
	}

	var s cronSchedule
	for i, dst := range []*uint64{&s.minute, &s.hour, &s.dom, &s.month, &s.dow} {
		bits, err := parseCronField(fields[i])
		if err != nil {
			return cronSchedule{}, fmt.Errorf("cron field %d: %w", i+1, err)
		}
		*dst = bits
	}
	return s, nil
}

func parseCronField(field string) (uint64, error) {
	if field == "*" {
		return ^uint64(0), nil
	}

	var bits uint64
	for _, part := range strings.Split(field, ",") {
		v, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil || v < 0 || v > 63 {
			return 0, fmt.Errorf("invalid value %q", part)
		}
		bits |= 1 << v
	}
	return bits, nil
}

// nextCronTime returns the first minute boundary after 'after' matching the
// expression. The minute-by-minute scan is bounded at one year so an
// unsatisfiable schedule fails instead of spinning.
func nextCronTime(cronExpr string, after time.Time) (time.Time, error) {
	sched, err := parseCron(cronExpr)
	if err != nil {
		return time.Time{}, err
	}

	limit := after.Add(366 * 24 * time.Hour)
	for t := after.Truncate(time.Minute).Add(time.Minute); t.Before(limit); t = t.Add(time.Minute) {
		if sched.matches(t) {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("no matching cron time found within one year for %q", cronExpr)
}
