package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/alanyoungcy/polymon/internal/domain"
)

// snapshotPageSize bounds how many records are pulled from the store per
// query while building a snapshot.
const snapshotPageSize = 1000

// Narrow store interfaces required by the snapshotter. The Postgres stores
// satisfy these implicitly through their paging methods.

// EventSnapshotStore provides paged read access to the event mirror.
type EventSnapshotStore interface {
	ListRecent(ctx context.Context, opts domain.ListOpts) ([]domain.Event, error)
}

// MarketSnapshotStore provides paged read access to the market mirror.
type MarketSnapshotStore interface {
	List(ctx context.Context, opts domain.ListOpts) ([]domain.Market, error)
}

// Snapshotter implements domain.SnapshotArchiver by paging the mirrored
// collections out of the primary store, serializing them to JSONL, and
// uploading the result to S3. Snapshots are additive: nothing is deleted
// from the primary store.
type Snapshotter struct {
	writer  domain.BlobWriter
	events  EventSnapshotStore
	markets MarketSnapshotStore
}

// NewSnapshotter creates a new Snapshotter.
func NewSnapshotter(writer domain.BlobWriter, events EventSnapshotStore, markets MarketSnapshotStore) *Snapshotter {
	return &Snapshotter{
		writer:  writer,
		events:  events,
		markets: markets,
	}
}

// ArchiveEvents dumps the full event mirror to S3 at
// snapshots/events/YYYY-MM-DD.jsonl and returns the record count.
func (s *Snapshotter) ArchiveEvents(ctx context.Context) (int64, error) {
	var buf bytes.Buffer
	enc := newJSONLEncoder(&buf)

	var count int64
	for offset := 0; ; offset += snapshotPageSize {
		page, err := s.events.ListRecent(ctx, domain.ListOpts{Limit: snapshotPageSize, Offset: offset})
		if err != nil {
			return 0, fmt.Errorf("s3blob: snapshot events query: %w", err)
		}
		if len(page) == 0 {
			break
		}
		for i, rec := range page {
			if err := enc.Encode(rec); err != nil {
				return 0, fmt.Errorf("s3blob: snapshot events encode record %d: %w", offset+i, err)
			}
		}
		count += int64(len(page))
		if len(page) < snapshotPageSize {
			break
		}
	}
	if count == 0 {
		return 0, nil
	}

	path := snapshotPath("events", time.Now().UTC())
	if err := s.writer.Put(ctx, path, &buf, "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: snapshot events upload: %w", err)
	}
	return count, nil
}

// ArchiveMarkets dumps the full market mirror to S3 at
// snapshots/markets/YYYY-MM-DD.jsonl and returns the record count.
func (s *Snapshotter) ArchiveMarkets(ctx context.Context) (int64, error) {
	var buf bytes.Buffer
	enc := newJSONLEncoder(&buf)

	var count int64
	for offset := 0; ; offset += snapshotPageSize {
		page, err := s.markets.List(ctx, domain.ListOpts{Limit: snapshotPageSize, Offset: offset})
		if err != nil {
			return 0, fmt.Errorf("s3blob: snapshot markets query: %w", err)
		}
		if len(page) == 0 {
			break
		}
		for i, rec := range page {
			if err := enc.Encode(rec); err != nil {
				return 0, fmt.Errorf("s3blob: snapshot markets encode record %d: %w", offset+i, err)
			}
		}
		count += int64(len(page))
		if len(page) < snapshotPageSize {
			break
		}
	}
	if count == 0 {
		return 0, nil
	}

	path := snapshotPath("markets", time.Now().UTC())
	if err := s.writer.Put(ctx, path, &buf, "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: snapshot markets upload: %w", err)
	}
	return count, nil
}

// snapshotPath builds the S3 key for a snapshot file, partitioned by day.
//
//	snapshots/events/2025-01-15.jsonl
//	snapshots/markets/2025-01-15.jsonl
func snapshotPath(kind string, ts time.Time) string {
	return fmt.Sprintf("snapshots/%s/%s.jsonl", kind, ts.Format("2006-01-02"))
}

// newJSONLEncoder returns an encoder producing newline-delimited JSON.
func newJSONLEncoder(buf *bytes.Buffer) *json.Encoder {
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	return enc
}

// Compile-time interface check.
var _ domain.SnapshotArchiver = (*Snapshotter)(nil)
