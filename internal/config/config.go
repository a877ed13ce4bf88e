package config

import (
	"fmt"
	"log/slog"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/italolelis/sgx_downloader/internal/scheduler"
	"github.com/italolelis/sgx_downloader/internal/session"
	"github.com/italolelis/sgx_downloader/internal/transfer"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// Config struct for environment variables. Values present in the optional
// YAML file named by CONFIG_FILE take precedence over the environment.
type Config struct {
	DownloadDir       string        `envconfig:"DOWNLOAD_DIR" default:"./downloads" yaml:"download_dir"`
	ArtifactBucketURL string        `envconfig:"ARTIFACT_BUCKET_URL" yaml:"artifact_bucket_url"`
	URLTemplate       string        `envconfig:"URL_TEMPLATE" default:"https://links.sgx.com/1.0.0/derivatives-historical/{index}/{file}" yaml:"url_template"`
	FailureLog        string        `envconfig:"FAILURE_LOG" default:"failed_downloads.log" yaml:"failure_log"`
	RetryCooldown     time.Duration `envconfig:"RETRY_COOLDOWN" default:"3m" yaml:"retry_cooldown"`
	MaxRetry          int           `envconfig:"MAX_RETRY" default:"3" yaml:"max_retry"`
	AnchorDate        string        `envconfig:"ANCHOR_DATE" default:"2021-01-01" yaml:"anchor_date"`
	AnchorIndex       int           `envconfig:"ANCHOR_INDEX" default:"4803" yaml:"anchor_index"`
	Files             []string      `envconfig:"FILES" default:"WEBPXTICK_DT.zip,TickData_structure.dat,TC.txt,TC_structure.dat" yaml:"files"`
	ScheduleTime      string        `envconfig:"SCHEDULE_TIME" default:"18:00" yaml:"schedule_time"`
	PollInterval      time.Duration `envconfig:"POLL_INTERVAL" default:"60s" yaml:"poll_interval"`
	Timezone          string        `envconfig:"TIMEZONE" default:"Local" yaml:"timezone"`

	HTTPTimeout        time.Duration `envconfig:"HTTP_TIMEOUT" default:"2m" yaml:"http_timeout"`
	RequestsPerSecond  float64       `envconfig:"REQUESTS_PER_SECOND" default:"1" yaml:"requests_per_second"`
	UserAgent          string        `envconfig:"USER_AGENT" default:"sgx-downloader/1.0" yaml:"user_agent"`
	SoftFailureMarkers []string      `envconfig:"SOFT_FAILURE_MARKERS" default:"no record found" yaml:"soft_failure_markers"`

	DBPath            string        `envconfig:"DB_PATH" default:"downloads.db" yaml:"db_path"`
	KeepHistoryFor    time.Duration `envconfig:"KEEP_HISTORY_FOR" default:"720h" yaml:"keep_history_for"`
	CleanupInterval   time.Duration `envconfig:"CLEANUP_INTERVAL" default:"24h" yaml:"cleanup_interval"`
	LogLevel          string        `envconfig:"LOG_LEVEL" default:"INFO" yaml:"log_level"`
	DiscordWebhookURL string        `envconfig:"DISCORD_WEBHOOK_URL" yaml:"discord_webhook_url"`

	TelemetryEnabled bool   `envconfig:"TELEMETRY_ENABLED" default:"false" yaml:"telemetry_enabled"`
	OTLPEndpoint     string `envconfig:"OTLP_ENDPOINT" yaml:"otlp_endpoint"`

	Web struct {
		Enabled         bool          `split_words:"true" default:"true" yaml:"enabled"`
		BindAddress     string        `split_words:"true" default:"0.0.0.0:9092" yaml:"bind_address"`
		ReadTimeout     time.Duration `split_words:"true" default:"30s" yaml:"read_timeout"`
		WriteTimeout    time.Duration `split_words:"true" default:"30s" yaml:"write_timeout"`
		IdleTimeout     time.Duration `split_words:"true" default:"5s" yaml:"idle_timeout"`
		ShutdownTimeout time.Duration `split_words:"true" default:"30s" yaml:"shutdown_timeout"`
	} `yaml:"web"`

	anchor   session.Anchor
	schedule scheduler.TimeOfDay
	location *time.Location
}

// LoadConfig reads environment variables, applies the CONFIG_FILE overlay
// and validates the result.
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("error processing env: %w", err)
	}

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.overlay(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) overlay(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("error reading config file %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("error parsing config file %s: %w", path, err)
	}

	return nil
}

// Validate checks the configuration and resolves the anchor, schedule time
// and location.
func (c *Config) Validate() error {
	if len(c.Files) == 0 {
		return &transfer.ValidationError{Field: "files", Reason: "at least one file name is required"}
	}

	seen := make(map[string]struct{}, len(c.Files))

	for i, f := range c.Files {
		f = strings.TrimSpace(f)
		if f == "" {
			return &transfer.ValidationError{Field: "files", Reason: "file names must not be empty"}
		}

		if _, dup := seen[f]; dup {
			return &transfer.ValidationError{Field: "files", Value: f, Reason: "duplicate file name"}
		}

		seen[f] = struct{}{}
		c.Files[i] = f
	}

	if !strings.Contains(c.URLTemplate, transfer.IndexPlaceholder) || !strings.Contains(c.URLTemplate, transfer.FilePlaceholder) {
		return &transfer.ValidationError{
			Field:  "url template",
			Value:  c.URLTemplate,
			Reason: fmt.Sprintf("must contain %s and %s", transfer.IndexPlaceholder, transfer.FilePlaceholder),
		}
	}

	if c.MaxRetry < 0 {
		return &transfer.ValidationError{Field: "max retry", Value: fmt.Sprint(c.MaxRetry), Reason: "must not be negative"}
	}

	if c.RetryCooldown <= 0 {
		return &transfer.ValidationError{Field: "retry cooldown", Value: c.RetryCooldown.String(), Reason: "must be positive"}
	}

	if c.PollInterval <= 0 {
		return &transfer.ValidationError{Field: "poll interval", Value: c.PollInterval.String(), Reason: "must be positive"}
	}

	if c.CleanupInterval <= 0 {
		return &transfer.ValidationError{Field: "cleanup interval", Value: c.CleanupInterval.String(), Reason: "must be positive"}
	}

	anchorDate, err := session.ParseDate(c.AnchorDate)
	if err != nil {
		return &transfer.ValidationError{Field: "anchor date", Value: c.AnchorDate, Reason: "expected YYYY-MM-DD"}
	}

	c.anchor = session.Anchor{Date: anchorDate, Index: c.AnchorIndex}

	if c.schedule, err = scheduler.ParseTimeOfDay(c.ScheduleTime); err != nil {
		return err
	}

	if c.location, err = time.LoadLocation(c.Timezone); err != nil {
		return &transfer.ValidationError{Field: "timezone", Value: c.Timezone, Reason: "unknown time zone"}
	}

	return nil
}

func (c *Config) Anchor() session.Anchor {
	return c.anchor
}

func (c *Config) Schedule() scheduler.TimeOfDay {
	return c.schedule
}

// Location is the time zone "today" and the daily trigger are computed in.
func (c *Config) Location() *time.Location {
	if c.location == nil {
		return time.Local
	}

	return c.location
}

// HasFile reports whether name is in the configured file set.
func (c *Config) HasFile(name string) bool {
	return slices.Contains(c.Files, name)
}

func (c *Config) SlogLevel() slog.Level {
	switch strings.ToUpper(c.LogLevel) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
