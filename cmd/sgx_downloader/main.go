package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/italolelis/sgx_downloader/internal/cleanup"
	"github.com/italolelis/sgx_downloader/internal/config"
	"github.com/italolelis/sgx_downloader/internal/downloader"
	"github.com/italolelis/sgx_downloader/internal/http/rest"
	"github.com/italolelis/sgx_downloader/internal/logctx"
	"github.com/italolelis/sgx_downloader/internal/notifier"
	"github.com/italolelis/sgx_downloader/internal/pipeline"
	"github.com/italolelis/sgx_downloader/internal/retry"
	"github.com/italolelis/sgx_downloader/internal/scheduler"
	"github.com/italolelis/sgx_downloader/internal/session"
	"github.com/italolelis/sgx_downloader/internal/storage"
	"github.com/italolelis/sgx_downloader/internal/storage/artifact"
	"github.com/italolelis/sgx_downloader/internal/storage/failurelog"
	"github.com/italolelis/sgx_downloader/internal/storage/sqlite"
	"github.com/italolelis/sgx_downloader/internal/telemetry"
	"github.com/italolelis/sgx_downloader/internal/transfer"
	"golang.org/x/sync/errgroup"
)

// Exit codes
const (
	ExitSuccess      = 0
	ExitFailure      = 1
	ExitInvalidInput = 2
)

const serviceName = "sgx_downloader"

var version = "dev"

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	cfg, err := config.LoadConfig()
	if err != nil {
		slog.Error("config error", "err", err)

		return ExitInvalidInput
	}

	logger := slog.New(logctx.NewTraceHandler(
		slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()}),
	))
	slog.SetDefault(logger)

	today := session.DateOf(time.Now().In(cfg.Location()))

	inv, err := parseArgs(args, cfg, today, os.Stderr)
	if errors.Is(err, flag.ErrHelp) {
		return ExitSuccess
	}

	if err != nil {
		logger.Error("invalid arguments", "err", err)

		return ExitInvalidInput
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ctx = logctx.WithLogger(ctx, logger)

	logger.Info("sgx downloader starting...",
		"version", version,
		"log_level", cfg.LogLevel,
		"scheduled", inv.scheduled,
	)

	if err := serve(ctx, cfg, inv); err != nil {
		if errors.Is(err, context.Canceled) {
			logger.Info("shutdown complete")

			return ExitSuccess
		}

		logger.Error("fatal error", "err", err)

		return ExitFailure
	}

	return ExitSuccess
}

func serve(ctx context.Context, cfg *config.Config, inv *invocation) error {
	logger := logctx.LoggerFromContext(ctx)

	// =========================================================================
	// Start Telemetry
	tel, err := telemetry.New(ctx, telemetry.Config{
		Enabled:        cfg.TelemetryEnabled,
		ServiceName:    serviceName,
		ServiceVersion: version,
		OTLPEndpoint:   cfg.OTLPEndpoint,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()

		if err := tel.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shutdown telemetry", "err", err)
		}
	}()

	// =========================================================================
	// Start Database
	database, err := sqlite.InitDB(cfg.DBPath)
	if err != nil {
		logger.Error("DB error", "err", err)

		return err
	}
	defer database.Close()

	attempts := sqlite.NewInstrumentedAttemptRepository(database, tel)
	runs := sqlite.NewInstrumentedRunRepository(database, tel)

	// =========================================================================
	// Start Storage
	store, err := artifact.Open(ctx, cfg.ArtifactBucketURL, cfg.DownloadDir)
	if err != nil {
		return err
	}
	defer store.Close()

	failures, err := failurelog.Open(cfg.FailureLog)
	if err != nil {
		return err
	}
	defer failures.Close()

	// =========================================================================
	// Start Pipeline
	runner := buildRunner(cfg, tel, store, failures, attempts)

	if !inv.scheduled {
		_, err := runner.Run(ctx, pipeline.Request{Dates: inv.dates, Files: inv.files, Mode: pipeline.ModeManual})

		return err
	}

	// =========================================================================
	// Start Scheduled Services
	g, ctx := errgroup.WithContext(ctx)

	sched := scheduler.New(scheduler.Config{
		At:           inv.at,
		PollInterval: cfg.PollInterval,
		Location:     cfg.Location(),
		Files:        inv.files,
	}, runner, runs, nil)

	g.Go(func() error {
		return sched.Run(ctx)
	})

	g.Go(func() error {
		return cleanup.Run(ctx, attempts, cfg.CleanupInterval, cfg.KeepHistoryFor)
	})

	if cfg.Web.Enabled {
		server := setupServer(ctx, cfg, runner, attempts, tel)

		g.Go(func() error {
			logger.Info("Initializing ops API", "host", cfg.Web.BindAddress)

			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("server error: %w", err)
			}

			return nil
		})

		g.Go(func() error {
			<-ctx.Done()

			logger.Info("start shutdown")

			// Give outstanding requests a deadline for completion.
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Web.ShutdownTimeout)
			defer cancel()

			if err := server.Shutdown(shutdownCtx); err != nil {
				logger.Error("failed to gracefully shutdown the server", "err", err)

				if err = server.Close(); err != nil {
					return fmt.Errorf("could not stop server gracefully: %w", err)
				}
			}

			return nil
		})
	}

	logger.Info("waiting for the daily trigger...",
		"schedule", inv.at.String(),
		"timezone", cfg.Location().String(),
		"download_dir", cfg.DownloadDir,
		"retention", cfg.KeepHistoryFor.String(),
	)

	return g.Wait()
}

func buildRunner(
	cfg *config.Config,
	tel *telemetry.Telemetry,
	store storage.ArtifactStore,
	failures storage.FailureLog,
	attempts storage.AttemptRepository,
) *pipeline.Runner {
	source := transfer.NewInstrumentedSource(
		transfer.NewHTTPSource(cfg.URLTemplate, transfer.SourceOptions{
			Timeout:           cfg.HTTPTimeout,
			RequestsPerSecond: cfg.RequestsPerSecond,
			UserAgent:         cfg.UserAgent,
		}),
		tel,
	)

	d := downloader.NewDownloader(source, store,
		downloader.NewErrorPageValidator(cfg.SoftFailureMarkers...),
		downloader.WithAttemptLedger(attempts),
		downloader.WithTelemetry(tel),
	)

	coordinator := retry.NewCoordinator(d, failures,
		retry.Policy{Cooldown: cfg.RetryCooldown, MaxRetry: cfg.MaxRetry},
		retry.WithTelemetry(tel),
	)

	var notif notifier.Notifier = notifier.Nop{}
	if cfg.DiscordWebhookURL != "" {
		notif = notifier.NewDiscordNotifier(cfg.DiscordWebhookURL)
	}

	return pipeline.NewRunner(session.NewResolver(cfg.Anchor()), d, coordinator,
		pipeline.WithNotifier(notif),
		pipeline.WithLocation(cfg.Location()),
		pipeline.WithTelemetry(tel),
	)
}

// setupServer prepares the handlers and services to create the ops http server.
func setupServer(
	ctx context.Context,
	cfg *config.Config,
	reports rest.ReportSource,
	attempts storage.AttemptRepository,
	tel *telemetry.Telemetry,
) *http.Server {
	r := chi.NewRouter()
	r.Use(telemetry.RequestID)
	r.Use(telemetry.HTTPLogging)
	r.Use(telemetry.NewHTTPMiddleware(tel).Middleware)

	r.Handle("/metrics", tel.Handler())
	r.Mount("/", rest.NewOpsHandler(reports, attempts).Routes())

	return &http.Server{
		Addr:         cfg.Web.BindAddress,
		ReadTimeout:  cfg.Web.ReadTimeout,
		WriteTimeout: cfg.Web.WriteTimeout,
		IdleTimeout:  cfg.Web.IdleTimeout,
		Handler:      r,
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}
}
