package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/italolelis/sgx_downloader/internal/storage"
)

// RunRepository implements storage.RunRepository.
type RunRepository struct {
	db *sql.DB
}

var _ storage.RunRepository = (*RunRepository)(nil)

func NewRunRepository(db *sql.DB) *RunRepository {
	return &RunRepository{db: db}
}

// LastRun returns the watermark for name, or nil if it never ran.
func (r *RunRepository) LastRun(ctx context.Context, name string) (*storage.RunRecord, error) {
	var (
		rec        storage.RunRecord
		finishedAt string
		downloaded sql.NullInt64
		exhausted  sql.NullInt64
	)

	err := r.db.QueryRowContext(ctx,
		`SELECT name, day, finished_at, downloaded, exhausted FROM scheduler_runs WHERE name = ?`, name,
	).Scan(&rec.Name, &rec.Day, &finishedAt, &downloaded, &exhausted)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}

	if err != nil {
		return nil, err
	}

	if rec.FinishedAt, err = time.Parse(timeLayout, finishedAt); err != nil {
		return nil, err
	}

	rec.Downloaded = int(downloaded.Int64)
	rec.Exhausted = int(exhausted.Int64)

	return &rec, nil
}

func (r *RunRepository) SaveRun(ctx context.Context, rec storage.RunRecord) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO scheduler_runs (name, day, finished_at, downloaded, exhausted)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			day = excluded.day,
			finished_at = excluded.finished_at,
			downloaded = excluded.downloaded,
			exhausted = excluded.exhausted`,
		rec.Name, rec.Day, rec.FinishedAt.UTC().Format(timeLayout), rec.Downloaded, rec.Exhausted,
	)

	return err
}
