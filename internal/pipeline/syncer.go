// Package pipeline implements the incremental synchronization engine that
// mirrors remote Polymarket collections into the local store.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/polymon/internal/retry"
)

// DeltaPolicy selects how a syncer detects records missing from the mirror.
type DeltaPolicy int

const (
	// PolicyCountOffset resumes fetching at offset = local count. Valid for
	// append-only remote collections such as events.
	PolicyCountOffset DeltaPolicy = iota

	// PolicyKeySet fetches the remote's current set and diffs its natural
	// keys against the mirror. Valid for collections whose listing churns,
	// such as active markets.
	PolicyKeySet
)

// Mirror is the narrow store surface the syncer needs: idempotent upserts
// by natural key, a record count, and key membership checks.
type Mirror[T any] interface {
	Upsert(ctx context.Context, rec T) error
	Count(ctx context.Context) (int64, error)
	ExistingKeys(ctx context.Context, keys []string) (map[string]bool, error)
}

// Config wires one remote collection into the syncer.
type Config[T any] struct {
	// Name labels log lines and lock keys, e.g. "events".
	Name string

	// PageSize is the page size for offset-paginated fetches.
	PageSize int

	Policy DeltaPolicy

	// FetchPage returns one page starting at offset. An empty page marks
	// the end of the collection. Required for PolicyCountOffset.
	FetchPage func(ctx context.Context, limit, offset int) ([]T, error)

	// FetchAll returns the entire remote collection, walking whatever
	// pagination the remote uses. Required for PolicyKeySet bootstrap.
	FetchAll func(ctx context.Context) ([]T, error)

	// FetchCurrent returns the remote's current set for key-diff deltas.
	// Required for PolicyKeySet.
	FetchCurrent func(ctx context.Context) ([]T, error)

	// Key extracts the natural key of a record.
	Key func(T) string

	// Validate rejects records that must not enter the mirror. A nil
	// Validate accepts everything.
	Validate func(T) error
}

// Report summarises one upsert batch.
type Report struct {
	Fetched  int
	Upserted int
	Rejected int
	// Missing counts keys that could not be read back after their upsert
	// reported success. Each one is logged as a persistence anomaly.
	Missing int
	NewKeys []string
}

// Syncer mirrors one remote collection. Instantiate once per collection.
type Syncer[T any] struct {
	cfg      Config[T]
	mirror   Mirror[T]
	governor *retry.Governor
	logger   *slog.Logger
}

// New creates a Syncer for one collection.
func New[T any](cfg Config[T], mirror Mirror[T], governor *retry.Governor, logger *slog.Logger) *Syncer[T] {
	return &Syncer[T]{
		cfg:      cfg,
		mirror:   mirror,
		governor: governor,
		logger:   logger.With(slog.String("collection", cfg.Name)),
	}
}

// Name returns the collection label.
func (s *Syncer[T]) Name() string { return s.cfg.Name }

// Key returns the natural key of a record.
func (s *Syncer[T]) Key(rec T) string { return s.cfg.Key(rec) }

// Bootstrap fills an empty mirror from the remote. When the mirror already
// holds records it is a no-op: the delta passes take over from there.
// Fetch failures with a known classification are retried indefinitely;
// anything unclassified aborts the bootstrap.
func (s *Syncer[T]) Bootstrap(ctx context.Context) error {
	count, err := s.mirror.Count(ctx)
	if err != nil {
		return fmt.Errorf("pipeline: count %s: %w", s.cfg.Name, err)
	}
	if count > 0 {
		s.logger.Info("bootstrap skipped, mirror already populated", slog.Int64("count", count))
		return nil
	}

	s.logger.Info("bootstrap starting")

	switch s.cfg.Policy {
	case PolicyCountOffset:
		return s.bootstrapPaged(ctx)
	case PolicyKeySet:
		return s.bootstrapAll(ctx)
	default:
		return fmt.Errorf("pipeline: unknown delta policy %d", s.cfg.Policy)
	}
}

func (s *Syncer[T]) bootstrapPaged(ctx context.Context) error {
	offset := 0
	total := 0

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		var page []T
		err := s.governor.Do(ctx, s.cfg.Name+".fetch_page", func(ctx context.Context) error {
			var ferr error
			page, ferr = s.cfg.FetchPage(ctx, s.cfg.PageSize, offset)
			return ferr
		})
		if err != nil {
			return fmt.Errorf("pipeline: bootstrap %s at offset %d: %w", s.cfg.Name, offset, err)
		}

		if len(page) == 0 {
			break
		}

		rep, err := s.UpsertDelta(ctx, page)
		if err != nil {
			return fmt.Errorf("pipeline: bootstrap %s upsert at offset %d: %w", s.cfg.Name, offset, err)
		}
		total += rep.Upserted

		s.logger.Info("bootstrap batch stored",
			slog.Int("batch_size", len(page)),
			slog.Int("total_stored", total),
			slog.Int("offset", offset),
		)

		offset += len(page)
		if len(page) < s.cfg.PageSize {
			break
		}
	}

	s.logger.Info("bootstrap complete", slog.Int("total_stored", total))
	return nil
}

func (s *Syncer[T]) bootstrapAll(ctx context.Context) error {
	var all []T
	err := s.governor.Do(ctx, s.cfg.Name+".fetch_all", func(ctx context.Context) error {
		var ferr error
		all, ferr = s.cfg.FetchAll(ctx)
		return ferr
	})
	if err != nil {
		return fmt.Errorf("pipeline: bootstrap %s: %w", s.cfg.Name, err)
	}

	rep, err := s.UpsertDelta(ctx, all)
	if err != nil {
		return fmt.Errorf("pipeline: bootstrap %s upsert: %w", s.cfg.Name, err)
	}

	s.logger.Info("bootstrap complete",
		slog.Int("fetched", rep.Fetched),
		slog.Int("total_stored", rep.Upserted),
		slog.Int("rejected", rep.Rejected),
	)
	return nil
}

// FetchDelta returns the remote records not yet present in the mirror.
func (s *Syncer[T]) FetchDelta(ctx context.Context) ([]T, error) {
	switch s.cfg.Policy {
	case PolicyCountOffset:
		return s.fetchDeltaByOffset(ctx)
	case PolicyKeySet:
		return s.fetchDeltaByKeySet(ctx)
	default:
		return nil, fmt.Errorf("pipeline: unknown delta policy %d", s.cfg.Policy)
	}
}

// fetchDeltaByOffset resumes pagination at offset = local count: for an
// append-only collection everything from there on is new.
func (s *Syncer[T]) fetchDeltaByOffset(ctx context.Context) ([]T, error) {
	count, err := s.mirror.Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("pipeline: count %s: %w", s.cfg.Name, err)
	}

	var delta []T
	offset := int(count)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		page, err := s.cfg.FetchPage(ctx, s.cfg.PageSize, offset)
		if err != nil {
			return nil, fmt.Errorf("pipeline: fetch %s at offset %d: %w", s.cfg.Name, offset, err)
		}
		if len(page) == 0 {
			break
		}

		delta = append(delta, page...)
		offset += len(page)
		if len(page) < s.cfg.PageSize {
			break
		}
	}

	return delta, nil
}

// fetchDeltaByKeySet fetches the remote's current set and keeps records
// whose natural key is absent from the mirror.
func (s *Syncer[T]) fetchDeltaByKeySet(ctx context.Context) ([]T, error) {
	current, err := s.cfg.FetchCurrent(ctx)
	if err != nil {
		return nil, fmt.Errorf("pipeline: fetch current %s: %w", s.cfg.Name, err)
	}
	if len(current) == 0 {
		return nil, nil
	}

	keys := make([]string, 0, len(current))
	for i := range current {
		keys = append(keys, s.cfg.Key(current[i]))
	}

	existing, err := s.mirror.ExistingKeys(ctx, keys)
	if err != nil {
		return nil, fmt.Errorf("pipeline: existing keys %s: %w", s.cfg.Name, err)
	}

	var delta []T
	for i := range current {
		if !existing[s.cfg.Key(current[i])] {
			delta = append(delta, current[i])
		}
	}
	return delta, nil
}

// UpsertDelta validates and upserts each record by natural key. Invalid
// records are rejected individually and the batch continues. After the
// batch the upserted keys are read back; keys that cannot be found are
// logged as persistence anomalies but do not fail the pass.
func (s *Syncer[T]) UpsertDelta(ctx context.Context, recs []T) (Report, error) {
	rep := Report{Fetched: len(recs)}

	var upsertedKeys []string
	for i := range recs {
		key := s.cfg.Key(recs[i])

		if s.cfg.Validate != nil {
			if err := s.cfg.Validate(recs[i]); err != nil {
				rep.Rejected++
				s.logger.Warn("rejected invalid record",
					slog.String("key", key),
					slog.String("error", err.Error()),
				)
				continue
			}
		}

		if err := s.mirror.Upsert(ctx, recs[i]); err != nil {
			if ctx.Err() != nil {
				return rep, ctx.Err()
			}
			rep.Rejected++
			s.logger.Error("upsert failed",
				slog.String("key", key),
				slog.String("error", err.Error()),
			)
			continue
		}

		rep.Upserted++
		rep.NewKeys = append(rep.NewKeys, key)
		upsertedKeys = append(upsertedKeys, key)
	}

	// Read-back verification.
	if len(upsertedKeys) > 0 {
		found, err := s.mirror.ExistingKeys(ctx, upsertedKeys)
		if err != nil {
			s.logger.Error("read-back verification failed", slog.String("error", err.Error()))
			return rep, nil
		}
		for _, key := range upsertedKeys {
			if !found[key] {
				rep.Missing++
				s.logger.Error("persistence anomaly: record missing after upsert",
					slog.String("key", key),
				)
			}
		}
	}

	return rep, nil
}
