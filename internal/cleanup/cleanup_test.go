package cleanup_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/italolelis/sgx_downloader/internal/cleanup"
	"github.com/italolelis/sgx_downloader/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type pruneRecorder struct {
	storage.AttemptRepository

	before  time.Time
	calls   int
	removed int64
	err     error
}

func (p *pruneRecorder) PruneAttempts(_ context.Context, before time.Time) (int64, error) {
	p.calls++
	p.before = before

	return p.removed, p.err
}

func TestPruneHistory(t *testing.T) {
	now := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	repo := &pruneRecorder{removed: 12}

	removed, err := cleanup.PruneHistory(context.Background(), repo, 48*time.Hour, now)
	require.NoError(t, err)

	assert.EqualValues(t, 12, removed)
	assert.Equal(t, now.Add(-48*time.Hour), repo.before)
}

func TestPruneHistory_DisabledWhenKeepIsZero(t *testing.T) {
	repo := &pruneRecorder{}

	removed, err := cleanup.PruneHistory(context.Background(), repo, 0, time.Now())
	require.NoError(t, err)

	assert.Zero(t, removed)
	assert.Zero(t, repo.calls)
}

func TestPruneHistory_PropagatesError(t *testing.T) {
	repo := &pruneRecorder{err: errors.New("database is locked")}

	_, err := cleanup.PruneHistory(context.Background(), repo, time.Hour, time.Now())
	require.EqualError(t, err, "database is locked")
}

func TestRun_StopsWithContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.NoError(t, cleanup.Run(ctx, &pruneRecorder{}, time.Hour, time.Hour))
}
