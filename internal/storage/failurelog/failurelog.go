// Package failurelog appends one JSON line per task that exhausted its
// retries. The file is opened in append mode and never read back.
package failurelog

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/italolelis/sgx_downloader/internal/storage"
	"github.com/italolelis/sgx_downloader/internal/transfer"
)

const filePerm = 0o644

// FileLog implements storage.FailureLog.
type FileLog struct {
	mu      sync.Mutex
	closer  io.Closer
	handler slog.Handler
}

var _ storage.FailureLog = (*FileLog)(nil)

// Open opens (or creates) path for appending.
func Open(path string) (*FileLog, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, filePerm)
	if err != nil {
		return nil, fmt.Errorf("failed to open failure log %s: %w", path, err)
	}

	l := New(f)
	l.closer = f

	return l, nil
}

// New writes records to w.
func New(w io.Writer) *FileLog {
	return &FileLog{handler: slog.NewJSONHandler(w, nil)}
}

// Append writes one line. Records carry their own timestamp, so the slog
// time key is left out.
func (l *FileLog) Append(ctx context.Context, rec storage.FailureRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	r := slog.NewRecord(time.Time{}, slog.LevelError, "download exhausted retries", 0)
	r.AddAttrs(
		slog.String("timestamp", rec.Timestamp.Format(time.RFC3339)),
		slog.Int("attempts", rec.Attempts),
		slog.String("file", rec.File),
		slog.Int("index", rec.Index),
		slog.String("reason", rec.Reason),
	)

	if err := l.handler.Handle(ctx, r); err != nil {
		return &transfer.StorageError{Key: "failure log", Reason: "append failed", Err: err}
	}

	return nil
}

func (l *FileLog) Close() error {
	if l.closer == nil {
		return nil
	}

	return l.closer.Close()
}
