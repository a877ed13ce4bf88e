package scheduler_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/italolelis/sgx_downloader/internal/clock"
	"github.com/italolelis/sgx_downloader/internal/pipeline"
	"github.com/italolelis/sgx_downloader/internal/scheduler"
	"github.com/italolelis/sgx_downloader/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var sgt = time.FixedZone("SGT", 8*60*60)

type recordingRunner struct {
	requests []pipeline.Request
	err      error
	onRun    func()
}

func (r *recordingRunner) Run(_ context.Context, req pipeline.Request) (*pipeline.Report, error) {
	r.requests = append(r.requests, req)

	if r.onRun != nil {
		r.onRun()
	}

	return &pipeline.Report{Downloaded: 4}, r.err
}

type memoryRuns struct {
	records map[string]storage.RunRecord
}

func newMemoryRuns() *memoryRuns {
	return &memoryRuns{records: map[string]storage.RunRecord{}}
}

func (m *memoryRuns) LastRun(_ context.Context, name string) (*storage.RunRecord, error) {
	rec, ok := m.records[name]
	if !ok {
		return nil, nil
	}

	return &rec, nil
}

func (m *memoryRuns) SaveRun(_ context.Context, rec storage.RunRecord) error {
	m.records[rec.Name] = rec
	return nil
}

func config() scheduler.Config {
	return scheduler.Config{
		At:           scheduler.TimeOfDay{Hour: 18, Minute: 0},
		PollInterval: time.Minute,
		Location:     sgt,
		Files:        []string{"TC.txt"},
	}
}

func TestParseTimeOfDay(t *testing.T) {
	tod, err := scheduler.ParseTimeOfDay("07:05")
	require.NoError(t, err)
	assert.Equal(t, scheduler.TimeOfDay{Hour: 7, Minute: 5}, tod)
	assert.Equal(t, "07:05", tod.String())

	for _, bad := range []string{"24:00", "7pm", "18:60", ""} {
		_, err := scheduler.ParseTimeOfDay(bad)
		assert.Error(t, err, bad)
	}
}

func TestTick_RunsOncePerDayAfterTrigger(t *testing.T) {
	clk := clock.NewFake(time.Date(2024, 1, 3, 17, 59, 0, 0, sgt))
	runner := &recordingRunner{}
	runs := newMemoryRuns()

	s := scheduler.New(config(), runner, runs, clk)
	ctx := context.Background()

	ran, err := s.Tick(ctx)
	require.NoError(t, err)
	assert.False(t, ran, "before the trigger")

	clk.Advance(time.Minute)

	ran, err = s.Tick(ctx)
	require.NoError(t, err)
	assert.True(t, ran)

	require.Len(t, runner.requests, 1)
	assert.Equal(t, pipeline.ModeScheduled, runner.requests[0].Mode)
	assert.Equal(t, []string{"TC.txt"}, runner.requests[0].Files)
	assert.Empty(t, runner.requests[0].Dates)

	clk.Advance(3 * time.Hour)

	ran, err = s.Tick(ctx)
	require.NoError(t, err)
	assert.False(t, ran, "already ran today")

	assert.Equal(t, "2024-01-03", runs.records[scheduler.DefaultName].Day)
	assert.Equal(t, 4, runs.records[scheduler.DefaultName].Downloaded)

	// Next day, after the trigger.
	clk.Advance(21 * time.Hour)

	ran, err = s.Tick(ctx)
	require.NoError(t, err)
	assert.True(t, ran)
	assert.Len(t, runner.requests, 2)
}

func TestTick_UsesConfiguredLocation(t *testing.T) {
	// 10:30 UTC is 18:30 in Singapore.
	clk := clock.NewFake(time.Date(2024, 1, 3, 10, 30, 0, 0, time.UTC))
	runner := &recordingRunner{}

	ran, err := scheduler.New(config(), runner, nil, clk).Tick(context.Background())
	require.NoError(t, err)
	assert.True(t, ran)
}

func TestTick_RestoresWatermark(t *testing.T) {
	clk := clock.NewFake(time.Date(2024, 1, 3, 19, 0, 0, 0, sgt))
	runner := &recordingRunner{}
	runs := newMemoryRuns()
	runs.records[scheduler.DefaultName] = storage.RunRecord{Name: scheduler.DefaultName, Day: "2024-01-03"}

	ran, err := scheduler.New(config(), runner, runs, clk).Tick(context.Background())
	require.NoError(t, err)

	assert.False(t, ran, "a restart must not run the same day twice")
	assert.Empty(t, runner.requests)
}

func TestTick_FailedRunStillServesTheDay(t *testing.T) {
	clk := clock.NewFake(time.Date(2024, 1, 3, 18, 0, 0, 0, sgt))
	runner := &recordingRunner{err: errors.New("disk full")}

	s := scheduler.New(config(), runner, newMemoryRuns(), clk)

	ran, err := s.Tick(context.Background())
	require.Error(t, err)
	assert.True(t, ran)

	clk.Advance(time.Minute)

	ran, err = s.Tick(context.Background())
	require.NoError(t, err)
	assert.False(t, ran)
}

func TestRun_PollsUntilCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	clk := clock.NewFake(time.Date(2024, 1, 3, 17, 57, 0, 0, sgt))
	runner := &recordingRunner{onRun: cancel}

	err := scheduler.New(config(), runner, nil, clk).Run(ctx)
	require.ErrorIs(t, err, context.Canceled)

	require.Len(t, runner.requests, 1)
	assert.False(t, clk.Now().Before(time.Date(2024, 1, 3, 18, 0, 0, 0, sgt)))
}
