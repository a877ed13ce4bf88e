// Package retry settles failed downloads. Every task carries its own next
// eligible attempt time and attempt counter; a task leaves the coordinator
// either recovered (artifact persisted) or exhausted (failure record written).
package retry

import (
	"context"
	"fmt"
	"time"

	"github.com/italolelis/sgx_downloader/internal/clock"
	"github.com/italolelis/sgx_downloader/internal/logctx"
	"github.com/italolelis/sgx_downloader/internal/storage"
	"github.com/italolelis/sgx_downloader/internal/telemetry"
	"github.com/italolelis/sgx_downloader/internal/transfer"
)

const (
	StateRecovered = "recovered"
	StateExhausted = "exhausted"
)

// Attempter performs a single fetch-and-persist attempt.
type Attempter interface {
	Attempt(ctx context.Context, index int, file string, attempt int) error
}

// Policy bounds the retries of a single task.
type Policy struct {
	// Cooldown between two attempts of the same task.
	Cooldown time.Duration
	// MaxRetry is the number of retries after the initial failure.
	MaxRetry int
}

// Result lists how every task given to Retry was settled.
type Result struct {
	Recovered []*transfer.Task
	Exhausted []*transfer.Task
}

type Coordinator struct {
	attempter Attempter
	failures  storage.FailureLog
	policy    Policy
	clock     clock.Clock
	telemetry *telemetry.Telemetry
}

type Option func(*Coordinator)

func WithClock(c clock.Clock) Option {
	return func(co *Coordinator) { co.clock = c }
}

func WithTelemetry(tel *telemetry.Telemetry) Option {
	return func(co *Coordinator) { co.telemetry = tel }
}

func NewCoordinator(attempter Attempter, failures storage.FailureLog, policy Policy, opts ...Option) *Coordinator {
	if policy.MaxRetry < 0 {
		policy.MaxRetry = 0
	}

	c := &Coordinator{
		attempter: attempter,
		failures:  failures,
		policy:    policy,
		clock:     clock.Real{},
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Retry drives tasks until each one is recovered or exhausted. Tasks whose
// NextAttemptAt is unset become eligible one cooldown from now. A
// non-transfer error (storage, failure log) aborts the run; so does ctx, in
// which case no failure record is written for the tasks still pending.
func (c *Coordinator) Retry(ctx context.Context, tasks []*transfer.Task) (*Result, error) {
	logger := logctx.LoggerFromContext(ctx)

	result := &Result{}
	now := c.clock.Now()

	pending := make([]*transfer.Task, 0, len(tasks))

	for _, t := range tasks {
		if t.Attempts > c.policy.MaxRetry {
			if err := c.exhaust(ctx, t, result); err != nil {
				return result, err
			}

			continue
		}

		if t.NextAttemptAt.IsZero() {
			t.NextAttemptAt = now.Add(c.policy.Cooldown)
		}

		pending = append(pending, t)
	}

	if len(pending) > 0 {
		logger.Info("retrying failed downloads",
			"tasks", len(pending),
			"cooldown", c.policy.Cooldown,
			"max_retry", c.policy.MaxRetry,
		)
	}

	for len(pending) > 0 {
		if err := c.waitUntil(ctx, earliest(pending)); err != nil {
			return result, err
		}

		now = c.clock.Now()
		remaining := make([]*transfer.Task, 0, len(pending))

		for _, t := range pending {
			if t.NextAttemptAt.After(now) {
				remaining = append(remaining, t)
				continue
			}

			if err := ctx.Err(); err != nil {
				return result, err
			}

			logger.Info("retrying download", "index", t.Index, "file", t.File, "attempt", t.Attempts+1)

			err := c.attempter.Attempt(ctx, t.Index, t.File, t.Attempts+1)
			switch {
			case err == nil:
				t.LastErr = nil
				result.Recovered = append(result.Recovered, t)
				c.telemetry.RecordTaskSettled(StateRecovered)

				logger.Info("download recovered", "index", t.Index, "file", t.File, "attempts", t.Attempts+1)
			case transfer.IsRetryable(err):
				// A failure caused by shutdown is not the publisher's fault.
				if ctxErr := ctx.Err(); ctxErr != nil {
					return result, ctxErr
				}

				t.Attempts++
				t.LastErr = err

				if t.Attempts > c.policy.MaxRetry {
					if err := c.exhaust(ctx, t, result); err != nil {
						return result, err
					}

					continue
				}

				t.NextAttemptAt = c.clock.Now().Add(c.policy.Cooldown)
				remaining = append(remaining, t)
			default:
				return result, err
			}
		}

		pending = remaining
	}

	return result, nil
}

func (c *Coordinator) exhaust(ctx context.Context, t *transfer.Task, result *Result) error {
	rec := storage.FailureRecord{
		Timestamp: c.clock.Now(),
		Index:     t.Index,
		File:      t.File,
		Attempts:  t.Attempts,
	}
	if t.LastErr != nil {
		rec.Reason = t.LastErr.Error()
	}

	if err := c.failures.Append(ctx, rec); err != nil {
		return fmt.Errorf("failed to record exhausted task %s: %w", t, err)
	}

	result.Exhausted = append(result.Exhausted, t)
	c.telemetry.RecordTaskSettled(StateExhausted)

	logctx.LoggerFromContext(ctx).Error("download exhausted retries",
		"index", t.Index,
		"file", t.File,
		"attempts", t.Attempts,
		"err", t.LastErr,
	)

	return nil
}

func (c *Coordinator) waitUntil(ctx context.Context, at time.Time) error {
	d := at.Sub(c.clock.Now())
	if d <= 0 {
		return ctx.Err()
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-c.clock.After(d):
		return nil
	}
}

func earliest(tasks []*transfer.Task) time.Time {
	next := tasks[0].NextAttemptAt
	for _, t := range tasks[1:] {
		if t.NextAttemptAt.Before(next) {
			next = t.NextAttemptAt
		}
	}

	return next
}
