package sqlite_test

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/italolelis/sgx_downloader/internal/storage"
	"github.com/italolelis/sgx_downloader/internal/storage/sqlite"
	"github.com/italolelis/sgx_downloader/internal/telemetry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sqlite.InitDB(filepath.Join(t.TempDir(), "downloads.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return db
}

func TestAttemptRepository(t *testing.T) {
	ctx := context.Background()
	repo := sqlite.NewInstrumentedAttemptRepository(openDB(t), &telemetry.Telemetry{})

	base := time.Date(2024, 1, 3, 18, 0, 0, 0, time.UTC)

	records := []storage.AttemptRecord{
		{RunID: "r1", Index: 102, File: "A.dat", Attempt: 1, Outcome: "http_status", StatusCode: 404, Reason: "not found", AttemptAt: base},
		{RunID: "r1", Index: 102, File: "A.dat", Attempt: 2, Outcome: "success", StatusCode: 200, Bytes: 2048, AttemptAt: base.Add(3 * time.Minute)},
		{RunID: "r1", Index: 103, File: "A.dat", Attempt: 1, Outcome: "success", StatusCode: 200, Bytes: 10, AttemptAt: base},
	}

	for _, rec := range records {
		require.NoError(t, repo.RecordAttempt(ctx, rec))
	}

	got, err := repo.ListAttempts(ctx, 102)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, records[0], got[0])
	assert.Equal(t, records[1], got[1])

	none, err := repo.ListAttempts(ctx, 999)
	require.NoError(t, err)
	assert.Empty(t, none)

	pruned, err := repo.PruneAttempts(ctx, base.Add(time.Minute))
	require.NoError(t, err)
	assert.EqualValues(t, 2, pruned)

	got, err = repo.ListAttempts(ctx, 102)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 2, got[0].Attempt)
}

func TestRunRepository(t *testing.T) {
	ctx := context.Background()
	repo := sqlite.NewInstrumentedRunRepository(openDB(t), nil)

	last, err := repo.LastRun(ctx, "daily")
	require.NoError(t, err)
	assert.Nil(t, last)

	first := storage.RunRecord{
		Name:       "daily",
		Day:        "2024-01-03",
		FinishedAt: time.Date(2024, 1, 3, 18, 2, 0, 0, time.UTC),
		Downloaded: 4,
	}
	require.NoError(t, repo.SaveRun(ctx, first))

	second := storage.RunRecord{
		Name:       "daily",
		Day:        "2024-01-04",
		FinishedAt: time.Date(2024, 1, 4, 18, 9, 0, 0, time.UTC),
		Downloaded: 3,
		Exhausted:  1,
	}
	require.NoError(t, repo.SaveRun(ctx, second))

	last, err = repo.LastRun(ctx, "daily")
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.Equal(t, second, *last)
}
