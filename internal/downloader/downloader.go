package downloader

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/dustin/go-humanize"
	"github.com/italolelis/sgx_downloader/internal/clock"
	"github.com/italolelis/sgx_downloader/internal/downloader/progress"
	"github.com/italolelis/sgx_downloader/internal/logctx"
	"github.com/italolelis/sgx_downloader/internal/storage"
	"github.com/italolelis/sgx_downloader/internal/telemetry"
	"github.com/italolelis/sgx_downloader/internal/transfer"
)

const progressInterval = 50 * 1024 * 1024 // 50MB

// FetchResult summarises one pass over every (index, file) pair.
type FetchResult struct {
	Downloaded int
	Skipped    int
	Failed     []*transfer.Task
}

// Downloader fetches session files one at a time and persists the valid ones.
type Downloader struct {
	source    transfer.Source
	store     storage.ArtifactStore
	validator Validator
	attempts  storage.AttemptRepository
	telemetry *telemetry.Telemetry
	clock     clock.Clock
}

// Option configures optional Downloader collaborators.
type Option func(*Downloader)

// WithAttemptLedger records every attempt in repo.
func WithAttemptLedger(repo storage.AttemptRepository) Option {
	return func(d *Downloader) { d.attempts = repo }
}

func WithTelemetry(tel *telemetry.Telemetry) Option {
	return func(d *Downloader) { d.telemetry = tel }
}

func WithClock(c clock.Clock) Option {
	return func(d *Downloader) { d.clock = c }
}

func NewDownloader(source transfer.Source, store storage.ArtifactStore, validator Validator, opts ...Option) *Downloader {
	if validator == nil {
		validator = NewErrorPageValidator()
	}

	d := &Downloader{
		source:    source,
		store:     store,
		validator: validator,
		clock:     clock.Real{},
	}

	for _, opt := range opts {
		opt(d)
	}

	return d
}

// Fetch attempts every (index, file) pair in index-major, file-minor order.
// Existing artifacts are skipped without a request. Transfer failures are
// returned as tasks with Attempts = 1; a storage failure aborts the pass.
func (d *Downloader) Fetch(ctx context.Context, indices []int, files []string) (*FetchResult, error) {
	logger := logctx.LoggerFromContext(ctx)

	result := &FetchResult{}

	for _, index := range indices {
		for _, file := range files {
			if err := ctx.Err(); err != nil {
				return result, err
			}

			key := transfer.ArtifactKey(index, file)

			exists, err := d.store.Exists(ctx, key)
			if err != nil {
				return result, err
			}

			if exists {
				logger.Debug("artifact already exists, skipping", "index", index, "file", file)
				d.telemetry.RecordSkipped(file)

				result.Skipped++

				continue
			}

			err = d.Attempt(ctx, index, file, 1)
			switch {
			case err == nil:
				result.Downloaded++
			case transfer.IsRetryable(err):
				result.Failed = append(result.Failed, transfer.NewFailedTask(index, file, err))
			default:
				return result, err
			}
		}
	}

	logger.Info("fetch pass finished",
		"downloaded", result.Downloaded,
		"skipped", result.Skipped,
		"failed", len(result.Failed),
	)

	return result, nil
}

// Attempt performs one GET for (index, file), validates the body and
// persists it. attempt is the 1-based attempt number used for the ledger.
func (d *Downloader) Attempt(ctx context.Context, index int, file string, attempt int) error {
	logger := logctx.LoggerFromContext(ctx).With("index", index, "file", file, "attempt", attempt)

	start := d.clock.Now()

	var (
		statusCode int
		written    int64
	)

	err := d.attempt(ctx, logger, index, file, &statusCode, &written)

	outcome := transfer.Outcome(err)
	d.telemetry.RecordFetchAttempt(file, outcome, d.clock.Now().Sub(start), written)
	d.record(ctx, logger, storage.AttemptRecord{
		RunID:      logctx.RunIDFromContext(ctx),
		Index:      index,
		File:       file,
		Attempt:    attempt,
		Outcome:    outcome,
		StatusCode: statusCode,
		Reason:     errString(err),
		Bytes:      written,
		AttemptAt:  start,
	})

	if err != nil {
		if transfer.IsRetryable(err) {
			logger.Warn("download attempt failed", "outcome", outcome, "err", err)
		} else {
			logger.Error("download attempt failed", "outcome", outcome, "err", err)
		}

		return err
	}

	return nil
}

func (d *Downloader) attempt(ctx context.Context, logger *slog.Logger, index int, file string, statusCode *int, written *int64) error {
	resp, err := d.source.Fetch(ctx, index, file)
	if err != nil {
		var netErr *transfer.NetworkError
		if errors.As(err, &netErr) {
			*statusCode = netErr.StatusCode
		}

		return err
	}
	defer resp.Body.Close()

	*statusCode = resp.StatusCode

	body, err := d.readBody(logger, resp)
	if err != nil {
		return &transfer.NetworkError{Operation: "read_body", APIMessage: err.Error(), Err: err}
	}

	if err := d.validator.Validate(index, file, body); err != nil {
		return err
	}

	key := transfer.ArtifactKey(index, file)

	n, err := d.store.Put(ctx, key, bytes.NewReader(body))
	if err != nil {
		return err
	}

	*written = n

	logger.Info("downloaded and saved file", "key", key, "size", humanize.Bytes(uint64(n)))

	return nil
}

func (d *Downloader) readBody(logger *slog.Logger, resp *transfer.Response) ([]byte, error) {
	pr := progress.NewReader(resp.Body, resp.ContentLength, progressInterval, func(read, total int64) {
		if total > 0 {
			logger.Debug("download progress",
				"downloaded", humanize.Bytes(uint64(read)),
				"total", humanize.Bytes(uint64(total)),
				"percent", humanize.FtoaWithDigits(float64(read)*100/float64(total), 2))
		} else {
			logger.Debug("download progress", "downloaded", humanize.Bytes(uint64(read)))
		}
	})

	body, err := io.ReadAll(pr)
	if err != nil {
		return nil, fmt.Errorf("failed to read body after %s: %w", humanize.Bytes(uint64(pr.BytesRead())), err)
	}

	return body, nil
}

// record writes to the attempt ledger. Ledger failures never fail a download.
func (d *Downloader) record(ctx context.Context, logger *slog.Logger, rec storage.AttemptRecord) {
	if d.attempts == nil {
		return
	}

	if err := d.attempts.RecordAttempt(ctx, rec); err != nil {
		logger.Warn("failed to record attempt", "err", err)
		d.telemetry.RecordSystemError("attempt_ledger", "write")
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}

	return err.Error()
}
