package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/italolelis/sgx_downloader/internal/storage"
	"github.com/italolelis/sgx_downloader/internal/telemetry"
)

// InstrumentedAttemptRepository wraps AttemptRepository with telemetry.
type InstrumentedAttemptRepository struct {
	repo      *AttemptRepository
	telemetry *telemetry.Telemetry
}

// NewInstrumentedAttemptRepository creates a new instrumented attempt repository.
func NewInstrumentedAttemptRepository(db *sql.DB, tel *telemetry.Telemetry) *InstrumentedAttemptRepository {
	return &InstrumentedAttemptRepository{
		repo:      NewAttemptRepository(db),
		telemetry: tel,
	}
}

func (r *InstrumentedAttemptRepository) RecordAttempt(ctx context.Context, rec storage.AttemptRecord) error {
	return r.telemetry.InstrumentDBOperation(ctx, "record_attempt", func(ctx context.Context) error {
		return r.repo.RecordAttempt(ctx, rec)
	})
}

func (r *InstrumentedAttemptRepository) ListAttempts(ctx context.Context, index int) ([]storage.AttemptRecord, error) {
	var result []storage.AttemptRecord

	var err error

	instrumentedErr := r.telemetry.InstrumentDBOperation(ctx, "list_attempts", func(ctx context.Context) error {
		result, err = r.repo.ListAttempts(ctx, index)

		return err
	})

	if instrumentedErr != nil {
		return nil, instrumentedErr
	}

	return result, nil
}

func (r *InstrumentedAttemptRepository) PruneAttempts(ctx context.Context, before time.Time) (int64, error) {
	var result int64

	var err error

	instrumentedErr := r.telemetry.InstrumentDBOperation(ctx, "prune_attempts", func(ctx context.Context) error {
		result, err = r.repo.PruneAttempts(ctx, before)

		return err
	})

	if instrumentedErr != nil {
		return 0, instrumentedErr
	}

	return result, nil
}

// InstrumentedRunRepository wraps RunRepository with telemetry.
type InstrumentedRunRepository struct {
	repo      *RunRepository
	telemetry *telemetry.Telemetry
}

// NewInstrumentedRunRepository creates a new instrumented run repository.
func NewInstrumentedRunRepository(db *sql.DB, tel *telemetry.Telemetry) *InstrumentedRunRepository {
	return &InstrumentedRunRepository{
		repo:      NewRunRepository(db),
		telemetry: tel,
	}
}

func (r *InstrumentedRunRepository) LastRun(ctx context.Context, name string) (*storage.RunRecord, error) {
	var result *storage.RunRecord

	var err error

	instrumentedErr := r.telemetry.InstrumentDBOperation(ctx, "last_run", func(ctx context.Context) error {
		result, err = r.repo.LastRun(ctx, name)

		return err
	})

	if instrumentedErr != nil {
		return nil, instrumentedErr
	}

	return result, nil
}

func (r *InstrumentedRunRepository) SaveRun(ctx context.Context, rec storage.RunRecord) error {
	return r.telemetry.InstrumentDBOperation(ctx, "save_run", func(ctx context.Context) error {
		return r.repo.SaveRun(ctx, rec)
	})
}
