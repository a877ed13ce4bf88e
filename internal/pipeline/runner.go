// Package pipeline runs one resolve, fetch and retry cycle.
package pipeline

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/italolelis/sgx_downloader/internal/clock"
	"github.com/italolelis/sgx_downloader/internal/downloader"
	"github.com/italolelis/sgx_downloader/internal/logctx"
	"github.com/italolelis/sgx_downloader/internal/notifier"
	"github.com/italolelis/sgx_downloader/internal/retry"
	"github.com/italolelis/sgx_downloader/internal/session"
	"github.com/italolelis/sgx_downloader/internal/telemetry"
	"github.com/italolelis/sgx_downloader/internal/transfer"
)

const (
	ModeManual    = "manual"
	ModeScheduled = "scheduled"
)

type Fetcher interface {
	Fetch(ctx context.Context, indices []int, files []string) (*downloader.FetchResult, error)
}

type Retrier interface {
	Retry(ctx context.Context, tasks []*transfer.Task) (*retry.Result, error)
}

// Request describes one run. An empty Dates means today.
type Request struct {
	Dates []session.Date
	Files []string
	Mode  string
}

// Report is the outcome of a finished run.
type Report struct {
	RunID      string
	Mode       string
	Today      session.Date
	StartedAt  time.Time
	FinishedAt time.Time
	Sessions   []session.Session
	Excluded   []session.Exclusion
	Downloaded int
	Skipped    int
	Recovered  []*transfer.Task
	Exhausted  []*transfer.Task
}

type Runner struct {
	resolver  *session.Resolver
	fetcher   Fetcher
	retrier   Retrier
	notifier  notifier.Notifier
	clock     clock.Clock
	location  *time.Location
	telemetry *telemetry.Telemetry

	mu   sync.RWMutex
	last *Report
}

type Option func(*Runner)

func WithNotifier(n notifier.Notifier) Option {
	return func(r *Runner) { r.notifier = n }
}

func WithClock(c clock.Clock) Option {
	return func(r *Runner) { r.clock = c }
}

// WithLocation sets the time zone "today" is computed in.
func WithLocation(loc *time.Location) Option {
	return func(r *Runner) { r.location = loc }
}

func WithTelemetry(tel *telemetry.Telemetry) Option {
	return func(r *Runner) { r.telemetry = tel }
}

func NewRunner(resolver *session.Resolver, fetcher Fetcher, retrier Retrier, opts ...Option) *Runner {
	r := &Runner{
		resolver: resolver,
		fetcher:  fetcher,
		retrier:  retrier,
		notifier: notifier.Nop{},
		clock:    clock.Real{},
		location: time.Local,
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Today returns the current date in the runner's time zone.
func (r *Runner) Today() session.Date {
	return session.DateOf(r.clock.Now().In(r.location))
}

// Run resolves req.Dates, fetches every session file and settles the
// failures. Exhausted tasks do not fail the run; storage errors do.
func (r *Runner) Run(ctx context.Context, req Request) (*Report, error) {
	if req.Mode == "" {
		req.Mode = ModeManual
	}

	report := &Report{
		RunID:     uuid.NewString(),
		Mode:      req.Mode,
		Today:     r.Today(),
		StartedAt: r.clock.Now(),
	}

	ctx = logctx.WithRunID(ctx, report.RunID)
	logger := logctx.LoggerFromContext(ctx)

	dates := req.Dates
	if len(dates) == 0 {
		dates = []session.Date{report.Today}
	}

	logger.Info("pipeline run started",
		"mode", req.Mode,
		"today", report.Today.String(),
		"dates", len(dates),
		"files", strings.Join(req.Files, ","),
	)

	err := r.telemetry.InstrumentPipelineRun(ctx, req.Mode, func(ctx context.Context) error {
		resolution := r.resolver.Resolve(ctx, report.Today, dates)
		report.Sessions = resolution.Sessions
		report.Excluded = resolution.Excluded

		for _, ex := range resolution.Excluded {
			r.telemetry.RecordExcluded(string(ex.Reason))
		}

		if len(resolution.Sessions) == 0 {
			logger.Info("no trading sessions to download")

			return nil
		}

		fetched, err := r.fetcher.Fetch(ctx, resolution.Indices(), req.Files)
		if fetched != nil {
			report.Downloaded = fetched.Downloaded
			report.Skipped = fetched.Skipped
		}

		if err != nil {
			return fmt.Errorf("fetch failed: %w", err)
		}

		if len(fetched.Failed) == 0 {
			return nil
		}

		settled, err := r.retrier.Retry(ctx, fetched.Failed)
		if settled != nil {
			report.Recovered = settled.Recovered
			report.Exhausted = settled.Exhausted
			report.Downloaded += len(settled.Recovered)
		}

		if err != nil {
			return fmt.Errorf("retry failed: %w", err)
		}

		return nil
	})

	report.FinishedAt = r.clock.Now()
	r.setLast(report)

	if len(report.Exhausted) > 0 {
		r.notifyExhausted(ctx, report)
	}

	if err != nil {
		logger.Error("pipeline run failed", "err", err)

		return report, err
	}

	logger.Info("pipeline run finished",
		"sessions", len(report.Sessions),
		"excluded", len(report.Excluded),
		"downloaded", report.Downloaded,
		"skipped", report.Skipped,
		"recovered", len(report.Recovered),
		"exhausted", len(report.Exhausted),
		"duration", report.FinishedAt.Sub(report.StartedAt).String(),
	)

	return report, nil
}

// Last returns the report of the most recent run, or nil.
func (r *Runner) Last() *Report {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.last
}

func (r *Runner) setLast(report *Report) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.last = report
}

func (r *Runner) notifyExhausted(ctx context.Context, report *Report) {
	var b strings.Builder

	fmt.Fprintf(&b, "❌ %d download(s) exhausted retries:", len(report.Exhausted))

	for _, t := range report.Exhausted {
		fmt.Fprintf(&b, "\n- session %d %s (attempts=%d)", t.Index, t.File, t.Attempts)
	}

	if err := r.notifier.Notify(ctx, b.String()); err != nil {
		logctx.LoggerFromContext(ctx).Error("failed to send notification", "err", err)
	}
}
