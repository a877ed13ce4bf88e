package main

import (
	"errors"
	"flag"
	"io"
	"testing"
	"time"

	"github.com/italolelis/sgx_downloader/internal/config"
	"github.com/italolelis/sgx_downloader/internal/scheduler"
	"github.com/italolelis/sgx_downloader/internal/session"
	"github.com/italolelis/sgx_downloader/internal/transfer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var today = session.MustParseDate("2024-01-10")

func testConfig(t *testing.T) *config.Config {
	t.Helper()

	cfg := &config.Config{
		URLTemplate:     "https://example.com/{index}/{file}",
		RetryCooldown:   time.Minute,
		MaxRetry:        3,
		AnchorDate:      "2024-01-01",
		AnchorIndex:     100,
		Files:           []string{"WEBPXTICK_DT.zip", "TC.txt"},
		ScheduleTime:    "18:00",
		PollInterval:    time.Minute,
		CleanupInterval: time.Hour,
		Timezone:        "UTC",
	}
	require.NoError(t, cfg.Validate())

	return cfg
}

func TestParseArgs_Manual(t *testing.T) {
	tests := []struct {
		name  string
		args  []string
		dates []string
		files []string
	}{
		{
			name:  "no flags runs today with every file",
			files: []string{"WEBPXTICK_DT.zip", "TC.txt"},
		},
		{
			name:  "single date",
			args:  []string{"--date", "2024-01-05"},
			dates: []string{"2024-01-05"},
			files: []string{"WEBPXTICK_DT.zip", "TC.txt"},
		},
		{
			name:  "inclusive range",
			args:  []string{"--start", "2024-01-05", "--end", "2024-01-07"},
			dates: []string{"2024-01-05", "2024-01-06", "2024-01-07"},
			files: []string{"WEBPXTICK_DT.zip", "TC.txt"},
		},
		{
			name:  "start alone runs to today",
			args:  []string{"-start=2024-01-08"},
			dates: []string{"2024-01-08", "2024-01-09", "2024-01-10"},
			files: []string{"WEBPXTICK_DT.zip", "TC.txt"},
		},
		{
			name:  "file subset",
			args:  []string{"--files", "TC.txt, TC.txt"},
			files: []string{"TC.txt"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inv, err := parseArgs(tt.args, testConfig(t), today, io.Discard)
			require.NoError(t, err)

			assert.False(t, inv.scheduled)
			assert.Equal(t, tt.files, inv.files)

			var got []string
			for _, d := range inv.dates {
				got = append(got, d.String())
			}

			assert.Equal(t, tt.dates, got)
		})
	}
}

func TestParseArgs_Schedule(t *testing.T) {
	inv, err := parseArgs([]string{"--schedule"}, testConfig(t), today, io.Discard)
	require.NoError(t, err)
	assert.True(t, inv.scheduled)
	assert.Equal(t, scheduler.TimeOfDay{Hour: 18}, inv.at)
	assert.Equal(t, []string{"WEBPXTICK_DT.zip", "TC.txt"}, inv.files)

	inv, err = parseArgs([]string{"--schedule=06:45"}, testConfig(t), today, io.Discard)
	require.NoError(t, err)
	assert.True(t, inv.scheduled)
	assert.Equal(t, scheduler.TimeOfDay{Hour: 6, Minute: 45}, inv.at)

	inv, err = parseArgs([]string{"--schedule=false"}, testConfig(t), today, io.Discard)
	require.NoError(t, err)
	assert.False(t, inv.scheduled)
}

func TestParseArgs_InvalidInput(t *testing.T) {
	tests := []struct {
		name  string
		args  []string
		field string
	}{
		{"malformed date", []string{"--date", "05/01/2024"}, "date"},
		{"date with range", []string{"--date", "2024-01-05", "--start", "2024-01-04"}, "date"},
		{"end without start", []string{"--end", "2024-01-05"}, "end"},
		{"start after end", []string{"--start", "2024-01-08", "--end", "2024-01-05"}, "start"},
		{"start after today", []string{"--start", "2024-02-01"}, "start"},
		{"unknown file", []string{"--files", "TC.txt,other.csv"}, "files"},
		{"empty file list", []string{"--files", " , "}, "files"},
		{"bad schedule time", []string{"--schedule=25:00"}, "schedule time"},
		{"schedule with date", []string{"--schedule", "--date", "2024-01-05"}, "schedule"},
		{"positional argument", []string{"2024-01-05"}, "argument"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseArgs(tt.args, testConfig(t), today, io.Discard)

			var valErr *transfer.ValidationError
			require.ErrorAs(t, err, &valErr)
			assert.Equal(t, tt.field, valErr.Field)
		})
	}
}

func TestParseArgs_Help(t *testing.T) {
	_, err := parseArgs([]string{"-h"}, testConfig(t), today, io.Discard)
	assert.True(t, errors.Is(err, flag.ErrHelp))
}
