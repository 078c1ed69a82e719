package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/polymon/internal/domain"
	"github.com/alanyoungcy/polymon/internal/retry"
)

// Alerter delivers operator alerts raised by the monitoring loops.
type Alerter interface {
	Alert(ctx context.Context, event, title, message string) error
}

// Monitor runs delta passes for one collection on a fixed interval. On a
// failed pass it backs off exponentially per consecutive failure; when the
// consecutive-failure threshold is reached it raises a critical operator
// alert, resets the counter, and keeps going.
type Monitor[T any] struct {
	syncer   *Syncer[T]
	interval time.Duration
	backoff  *retry.Backoff
	alerter  Alerter

	// onNew is invoked with the records a pass added to the mirror.
	onNew func(ctx context.Context, recs []T)

	// locks guards against concurrent passes over the same collection
	// when several instances share the mirror. Optional.
	locks domain.LockManager

	sleep  func(ctx context.Context, d time.Duration) error
	logger *slog.Logger
}

// NewMonitor creates a Monitor around the given syncer.
func NewMonitor[T any](
	syncer *Syncer[T],
	interval time.Duration,
	backoff *retry.Backoff,
	alerter Alerter,
	onNew func(ctx context.Context, recs []T),
	logger *slog.Logger,
) *Monitor[T] {
	return &Monitor[T]{
		syncer:   syncer,
		interval: interval,
		backoff:  backoff,
		alerter:  alerter,
		onNew:    onNew,
		sleep:    sleepCtx,
		logger:   logger.With(slog.String("component", syncer.Name()+"_monitor")),
	}
}

// WithLock makes each pass acquire a distributed lock before touching the
// mirror. A held lock skips the pass instead of failing it.
func (m *Monitor[T]) WithLock(locks domain.LockManager) *Monitor[T] {
	m.locks = locks
	return m
}

// RunLoop runs passes until the context is cancelled. The first pass runs
// immediately.
func (m *Monitor[T]) RunLoop(ctx context.Context) error {
	m.logger.Info("monitor started", slog.Duration("interval", m.interval))

	for {
		err := m.pass(ctx)
		if ctx.Err() != nil {
			m.logger.Info("monitor stopped")
			return ctx.Err()
		}

		wait := m.interval
		if err != nil {
			var critical bool
			wait, critical = m.backoff.Fail()
			m.logger.Error("monitor pass failed",
				slog.Int("consecutive_failures", m.backoff.Failures()),
				slog.Duration("retry_in", wait),
				slog.String("error", err.Error()),
			)
			if critical && m.alerter != nil {
				msg := fmt.Sprintf("%s monitoring failing repeatedly, last error: %v", m.syncer.Name(), err)
				if alertErr := m.alerter.Alert(ctx, "monitor_failure", "CRITICAL: sync failures", msg); alertErr != nil {
					m.logger.Error("critical alert delivery failed", slog.String("error", alertErr.Error()))
				}
			}
		} else {
			m.backoff.Reset()
		}

		if err := m.sleep(ctx, wait); err != nil {
			m.logger.Info("monitor stopped")
			return err
		}
	}
}

// pass executes one fetch-diff-upsert cycle.
func (m *Monitor[T]) pass(ctx context.Context) error {
	if m.locks != nil {
		unlock, err := m.locks.Acquire(ctx, "sync:"+m.syncer.Name(), m.interval)
		if err != nil {
			if errors.Is(err, domain.ErrLockHeld) {
				m.logger.Debug("pass skipped, lock held elsewhere")
				return nil
			}
			return fmt.Errorf("acquire sync lock: %w", err)
		}
		defer unlock()
	}

	delta, err := m.syncer.FetchDelta(ctx)
	if err != nil {
		return err
	}
	if len(delta) == 0 {
		m.logger.Debug("pass complete, mirror up to date")
		return nil
	}

	rep, err := m.syncer.UpsertDelta(ctx, delta)
	if err != nil {
		return err
	}

	m.logger.Info("pass complete",
		slog.Int("fetched", rep.Fetched),
		slog.Int("upserted", rep.Upserted),
		slog.Int("rejected", rep.Rejected),
		slog.Int("missing", rep.Missing),
	)

	if m.onNew != nil && len(rep.NewKeys) > 0 {
		newKeys := make(map[string]struct{}, len(rep.NewKeys))
		for _, k := range rep.NewKeys {
			newKeys[k] = struct{}{}
		}
		accepted := make([]T, 0, len(rep.NewKeys))
		for i := range delta {
			if _, ok := newKeys[m.syncer.Key(delta[i])]; ok {
				accepted = append(accepted, delta[i])
			}
		}
		m.onNew(ctx, accepted)
	}

	return nil
}

// sleepCtx waits for d or until the context is cancelled.
func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
