// Package scheduler triggers the pipeline once per calendar day at a
// configured wall clock time.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/italolelis/sgx_downloader/internal/clock"
	"github.com/italolelis/sgx_downloader/internal/logctx"
	"github.com/italolelis/sgx_downloader/internal/pipeline"
	"github.com/italolelis/sgx_downloader/internal/session"
	"github.com/italolelis/sgx_downloader/internal/storage"
)

// DefaultName is the watermark key of the daily job.
const DefaultName = "daily"

// Runner runs one pipeline cycle.
type Runner interface {
	Run(ctx context.Context, req pipeline.Request) (*pipeline.Report, error)
}

type Config struct {
	Name         string
	At           TimeOfDay
	PollInterval time.Duration
	Location     *time.Location
	Files        []string
}

// Scheduler polls the clock and runs the pipeline for "today" once the
// trigger time has passed, at most once per day. The last run day is
// persisted so a restart after the trigger does not run the same day again.
type Scheduler struct {
	cfg    Config
	runner Runner
	runs   storage.RunRepository
	clock  clock.Clock

	lastDay  string
	restored bool
}

func New(cfg Config, runner Runner, runs storage.RunRepository, clk clock.Clock) *Scheduler {
	if cfg.Name == "" {
		cfg.Name = DefaultName
	}

	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Minute
	}

	if cfg.Location == nil {
		cfg.Location = time.Local
	}

	if clk == nil {
		clk = clock.Real{}
	}

	return &Scheduler{cfg: cfg, runner: runner, runs: runs, clock: clk}
}

// Run polls until ctx is done and then returns ctx.Err().
func (s *Scheduler) Run(ctx context.Context) error {
	logger := logctx.LoggerFromContext(ctx)

	logger.Info("scheduler started",
		"trigger", s.cfg.At.String(),
		"location", s.cfg.Location.String(),
		"poll_interval", s.cfg.PollInterval.String(),
	)

	for {
		if _, err := s.Tick(ctx); err != nil && ctx.Err() == nil {
			logger.Error("scheduled run failed", "err", err)
		}

		select {
		case <-ctx.Done():
			logger.Info("scheduler shutting down")

			return ctx.Err()
		case <-s.clock.After(s.cfg.PollInterval):
		}
	}
}

// Tick runs the pipeline if it is due and reports whether it ran.
func (s *Scheduler) Tick(ctx context.Context) (bool, error) {
	logger := logctx.LoggerFromContext(ctx)

	if err := s.restore(ctx); err != nil {
		return false, err
	}

	now := s.clock.Now().In(s.cfg.Location)
	today := session.DateOf(now).String()

	if today == s.lastDay || now.Before(s.cfg.At.On(now)) {
		return false, nil
	}

	logger.Info("scheduled run triggered", "day", today, "trigger", s.cfg.At.String())

	report, err := s.runner.Run(ctx, pipeline.Request{Files: s.cfg.Files, Mode: pipeline.ModeScheduled})
	if err != nil && ctx.Err() != nil {
		// Interrupted by shutdown: the day has not been served.
		return true, err
	}

	// The day counts as served even when the run failed, so a persistent
	// storage error is not retried every poll interval.
	s.lastDay = today
	s.save(ctx, today, report)

	return true, err
}

func (s *Scheduler) restore(ctx context.Context) error {
	if s.restored || s.runs == nil {
		return nil
	}

	rec, err := s.runs.LastRun(ctx, s.cfg.Name)
	if err != nil {
		return fmt.Errorf("failed to load scheduler watermark: %w", err)
	}

	if rec != nil {
		s.lastDay = rec.Day
		logctx.LoggerFromContext(ctx).Info("restored scheduler watermark", "day", rec.Day, "finished_at", rec.FinishedAt)
	}

	s.restored = true

	return nil
}

func (s *Scheduler) save(ctx context.Context, day string, report *pipeline.Report) {
	if s.runs == nil {
		return
	}

	rec := storage.RunRecord{Name: s.cfg.Name, Day: day, FinishedAt: s.clock.Now()}
	if report != nil {
		rec.Downloaded = report.Downloaded
		rec.Exhausted = len(report.Exhausted)
	}

	if err := s.runs.SaveRun(ctx, rec); err != nil {
		logctx.LoggerFromContext(ctx).Warn("failed to persist scheduler watermark", "day", day, "err", err)
	}
}
