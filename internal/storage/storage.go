package storage

import (
	"context"
	"io"
	"time"
)

// ArtifactStore holds downloaded session files under "<index>/<file>" keys.
// Existence of a key is the only idempotency marker.
type ArtifactStore interface {
	Exists(ctx context.Context, key string) (bool, error)
	// Put writes r under key and returns the number of bytes written. The
	// artifact becomes visible only once fully written.
	Put(ctx context.Context, key string, r io.Reader) (int64, error)
}

// FailureRecord is written once per task that exhausted its retries.
type FailureRecord struct {
	Timestamp time.Time
	Index     int
	File      string
	Attempts  int
	Reason    string
}

// FailureLog is append-only; records are never read back by the process.
type FailureLog interface {
	Append(ctx context.Context, rec FailureRecord) error
}

// AttemptRecord is one row of the attempt ledger.
type AttemptRecord struct {
	RunID      string
	Index      int
	File       string
	Attempt    int
	Outcome    string
	StatusCode int
	Reason     string
	Bytes      int64
	AttemptAt  time.Time
}

// AttemptRepository records every fetch attempt.
type AttemptRepository interface {
	RecordAttempt(ctx context.Context, rec AttemptRecord) error
	ListAttempts(ctx context.Context, index int) ([]AttemptRecord, error)
	PruneAttempts(ctx context.Context, before time.Time) (int64, error)
}

// RunRecord is the watermark of a scheduled pipeline run.
type RunRecord struct {
	Name       string
	Day        string
	FinishedAt time.Time
	Downloaded int
	Exhausted  int
}

// RunRepository persists the scheduler watermark so a restart does not run
// the same day twice.
type RunRepository interface {
	LastRun(ctx context.Context, name string) (*RunRecord, error)
	SaveRun(ctx context.Context, rec RunRecord) error
}
