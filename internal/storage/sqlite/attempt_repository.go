package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/italolelis/sgx_downloader/internal/storage"
)

// AttemptRepository implements storage.AttemptRepository.
type AttemptRepository struct {
	db *sql.DB
}

var _ storage.AttemptRepository = (*AttemptRepository)(nil)

func NewAttemptRepository(db *sql.DB) *AttemptRepository {
	return &AttemptRepository{db: db}
}

func (r *AttemptRepository) RecordAttempt(ctx context.Context, rec storage.AttemptRecord) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO attempts (run_id, session_index, file_name, attempt, outcome, status_code, reason, bytes, attempted_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.RunID, rec.Index, rec.File, rec.Attempt, rec.Outcome, rec.StatusCode, rec.Reason, rec.Bytes,
		rec.AttemptAt.UTC().Format(timeLayout),
	)

	return err
}

// ListAttempts returns the ledger rows of a session, oldest first.
func (r *AttemptRepository) ListAttempts(ctx context.Context, index int) ([]storage.AttemptRecord, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT
			run_id,
			session_index,
			file_name,
			attempt,
			outcome,
			status_code,
			reason,
			bytes,
			attempted_at
		FROM attempts
		WHERE session_index = ?
		ORDER BY id`, index)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []storage.AttemptRecord

	for rows.Next() {
		var (
			rec        storage.AttemptRecord
			runID      sql.NullString
			statusCode sql.NullInt64
			reason     sql.NullString
			bytes      sql.NullInt64
			at         string
		)

		if err := rows.Scan(&runID, &rec.Index, &rec.File, &rec.Attempt, &rec.Outcome, &statusCode, &reason, &bytes, &at); err != nil {
			return nil, err
		}

		rec.RunID = runID.String
		rec.StatusCode = int(statusCode.Int64)
		rec.Reason = reason.String
		rec.Bytes = bytes.Int64

		if rec.AttemptAt, err = time.Parse(timeLayout, at); err != nil {
			return nil, err
		}

		records = append(records, rec)
	}

	return records, rows.Err()
}

// PruneAttempts deletes rows attempted before the cutoff.
func (r *AttemptRepository) PruneAttempts(ctx context.Context, before time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM attempts WHERE attempted_at < ?`, before.UTC().Format(timeLayout))
	if err != nil {
		return 0, err
	}

	return res.RowsAffected()
}
