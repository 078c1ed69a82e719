package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/polymon/internal/domain"
)

type fakeSnapshots struct {
	events  int64
	markets int64
	err     error
	runs    int
}

func (f *fakeSnapshots) ArchiveEvents(context.Context) (int64, error) {
	f.runs++
	return f.events, f.err
}

func (f *fakeSnapshots) ArchiveMarkets(context.Context) (int64, error) {
	return f.markets, f.err
}

type fakePruner struct {
	infos   []domain.BlobInfo
	deleted []string
}

func (f *fakePruner) List(context.Context, string) ([]domain.BlobInfo, error) {
	return f.infos, nil
}

func (f *fakePruner) Delete(_ context.Context, path string) error {
	f.deleted = append(f.deleted, path)
	return nil
}

func TestArchiverRunPrunesExpired(t *testing.T) {
	now := time.Now()
	pruner := &fakePruner{infos: []domain.BlobInfo{
		{Path: "snapshots/old.jsonl", LastModified: now.Add(-10 * 24 * time.Hour)},
		{Path: "snapshots/fresh.jsonl", LastModified: now.Add(-time.Hour)},
	}}
	snaps := &fakeSnapshots{events: 3, markets: 7}
	arch := NewArchiver(snaps, pruner, 7*24*time.Hour, slog.New(slog.DiscardHandler))

	require.NoError(t, arch.Run(context.Background()))
	assert.Equal(t, 1, snaps.runs)
	assert.Equal(t, []string{"snapshots/old.jsonl"}, pruner.deleted)
}

func TestArchiverRunSkipsPruningWithoutPruner(t *testing.T) {
	snaps := &fakeSnapshots{}
	arch := NewArchiver(snaps, nil, 7*24*time.Hour, slog.New(slog.DiscardHandler))

	assert.NoError(t, arch.Run(context.Background()))
}

func TestArchiverRunArchiveFailure(t *testing.T) {
	snaps := &fakeSnapshots{err: errors.New("bucket gone")}
	arch := NewArchiver(snaps, nil, 0, slog.New(slog.DiscardHandler))

	err := arch.Run(context.Background())
	assert.ErrorContains(t, err, "archiving events")
}

func TestNextCronTime(t *testing.T) {
	after := time.Date(2025, 6, 15, 14, 30, 12, 0, time.UTC)

	tests := []struct {
		expr string
		want time.Time
	}{
		// Daily at 03:00: next match is tomorrow.
		{"0 3 * * *", time.Date(2025, 6, 16, 3, 0, 0, 0, time.UTC)},
		// Same hour, later minute: match today.
		{"45 14 * * *", time.Date(2025, 6, 15, 14, 45, 0, 0, time.UTC)},
		// Every minute: next minute boundary.
		{"* * * * *", time.Date(2025, 6, 15, 14, 31, 0, 0, time.UTC)},
		// First of the month.
		{"0 0 1 * *", time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)},
		// Value lists.
		{"0 6,18 * * *", time.Date(2025, 6, 15, 18, 0, 0, 0, time.UTC)},
	}

	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			got, err := nextCronTime(tt.expr, after)
			require.NoError(t, err)
			assert.True(t, got.Equal(tt.want), "got %v, want %v", got, tt.want)
		})
	}
}

func TestNextCronTimeInvalidExpressions(t *testing.T) {
	for _, expr := range []string{"", "0 3 * *", "x 3 * * *", "0 3 * * * *"} {
		t.Run(expr, func(t *testing.T) {
			_, err := nextCronTime(expr, time.Now())
			assert.Error(t, err)
		})
	}
}
