package pipeline_test

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/italolelis/sgx_downloader/internal/clock"
	"github.com/italolelis/sgx_downloader/internal/downloader"
	"github.com/italolelis/sgx_downloader/internal/pipeline"
	"github.com/italolelis/sgx_downloader/internal/retry"
	"github.com/italolelis/sgx_downloader/internal/session"
	"github.com/italolelis/sgx_downloader/internal/storage/artifact"
	"github.com/italolelis/sgx_downloader/internal/storage/failurelog"
	"github.com/italolelis/sgx_downloader/internal/transfer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	anchor = session.Anchor{Date: session.MustParseDate("2024-01-01"), Index: 100}
	now    = time.Date(2024, 1, 3, 18, 0, 0, 0, time.UTC)
)

func TestRun_EndToEnd(t *testing.T) {
	var (
		mu       sync.Mutex
		requests = map[string]int{}
	)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		requests[r.URL.Path]++
		n := requests[r.URL.Path]
		mu.Unlock()

		if r.URL.Path == "/102/A.dat" && n <= 2 {
			http.NotFound(w, r)
			return
		}

		w.Header().Set("Content-Type", "application/octet-stream")
		w.Write([]byte{0x50, 0x4b, 0x03, 0x04, 0x01})
	}))
	defer srv.Close()

	ctx := context.Background()

	store, err := artifact.Open(ctx, "mem://", "")
	require.NoError(t, err)
	defer store.Close()

	var failures bytes.Buffer

	clk := clock.NewFake(now)
	source := transfer.NewHTTPSource(srv.URL+"/{index}/{file}", transfer.SourceOptions{})
	d := downloader.NewDownloader(source, store, nil, downloader.WithClock(clk))
	c := retry.NewCoordinator(d, failurelog.New(&failures), retry.Policy{Cooldown: 3 * time.Minute, MaxRetry: 3}, retry.WithClock(clk))

	runner := pipeline.NewRunner(session.NewResolver(anchor), d, c,
		pipeline.WithClock(clk),
		pipeline.WithLocation(time.UTC),
	)

	report, err := runner.Run(ctx, pipeline.Request{
		Dates: session.Range(session.MustParseDate("2024-01-01"), session.MustParseDate("2024-01-03")),
		Files: []string{"A.dat"},
	})
	require.NoError(t, err)

	assert.NotEmpty(t, report.RunID)
	assert.Equal(t, pipeline.ModeManual, report.Mode)
	assert.Equal(t, []int{100, 101, 102}, sessionIndices(report))
	assert.Equal(t, 3, report.Downloaded)
	require.Len(t, report.Recovered, 1)
	assert.Equal(t, 102, report.Recovered[0].Index)
	assert.Empty(t, report.Exhausted)

	for _, key := range []string{"100/A.dat", "101/A.dat", "102/A.dat"} {
		exists, err := store.Exists(ctx, key)
		require.NoError(t, err)
		assert.True(t, exists, key)
	}

	assert.Equal(t, 1, requests["/100/A.dat"])
	assert.Equal(t, 1, requests["/101/A.dat"])
	assert.Equal(t, 3, requests["/102/A.dat"])
	assert.Empty(t, failures.String(), "no failure record may be written")
	assert.Equal(t, []time.Duration{3 * time.Minute, 3 * time.Minute}, clk.Waits())

	assert.Same(t, report, runner.Last())
}

type stubFetcher struct {
	calls  int
	result *downloader.FetchResult
	err    error
}

func (f *stubFetcher) Fetch(context.Context, []int, []string) (*downloader.FetchResult, error) {
	f.calls++
	return f.result, f.err
}

type stubRetrier struct {
	calls  int
	result *retry.Result
}

func (r *stubRetrier) Retry(context.Context, []*transfer.Task) (*retry.Result, error) {
	r.calls++
	return r.result, nil
}

type recordingNotifier struct {
	messages []string
}

func (n *recordingNotifier) Notify(_ context.Context, content string) error {
	n.messages = append(n.messages, content)
	return nil
}

func TestRun_DefaultsToToday(t *testing.T) {
	fetcher := &stubFetcher{result: &downloader.FetchResult{Downloaded: 1}}
	retrier := &stubRetrier{}

	runner := pipeline.NewRunner(session.NewResolver(anchor), fetcher, retrier,
		pipeline.WithClock(clock.NewFake(now)),
		pipeline.WithLocation(time.UTC),
	)

	report, err := runner.Run(context.Background(), pipeline.Request{Files: []string{"A.dat"}, Mode: pipeline.ModeScheduled})
	require.NoError(t, err)

	assert.Equal(t, session.MustParseDate("2024-01-03"), report.Today)
	assert.Equal(t, []int{102}, sessionIndices(report))
	assert.Equal(t, 1, fetcher.calls)
	assert.Zero(t, retrier.calls, "nothing failed, nothing to retry")
}

func TestRun_WeekendSkipsFetch(t *testing.T) {
	fetcher := &stubFetcher{}

	runner := pipeline.NewRunner(session.NewResolver(anchor), fetcher, &stubRetrier{},
		pipeline.WithClock(clock.NewFake(time.Date(2024, 1, 6, 18, 0, 0, 0, time.UTC))),
		pipeline.WithLocation(time.UTC),
	)

	report, err := runner.Run(context.Background(), pipeline.Request{Files: []string{"A.dat"}})
	require.NoError(t, err)

	assert.Empty(t, report.Sessions)
	require.Len(t, report.Excluded, 1)
	assert.Equal(t, session.ReasonWeekend, report.Excluded[0].Reason)
	assert.Zero(t, fetcher.calls)
}

func TestRun_NotifiesExhaustedTasks(t *testing.T) {
	failed := transfer.NewFailedTask(102, "A.dat", errors.New("boom"))
	failed.Attempts = 4

	fetcher := &stubFetcher{result: &downloader.FetchResult{Failed: []*transfer.Task{failed}}}
	retrier := &stubRetrier{result: &retry.Result{Exhausted: []*transfer.Task{failed}}}
	notif := &recordingNotifier{}

	runner := pipeline.NewRunner(session.NewResolver(anchor), fetcher, retrier,
		pipeline.WithClock(clock.NewFake(now)),
		pipeline.WithLocation(time.UTC),
		pipeline.WithNotifier(notif),
	)

	report, err := runner.Run(context.Background(), pipeline.Request{Files: []string{"A.dat"}})
	require.NoError(t, err, "exhausted tasks do not fail the run")

	assert.Len(t, report.Exhausted, 1)
	require.Len(t, notif.messages, 1)
	assert.Contains(t, notif.messages[0], "session 102 A.dat (attempts=4)")
}

func TestRun_FetchErrorFailsTheRun(t *testing.T) {
	storageErr := &transfer.StorageError{Key: "102/A.dat", Reason: "disk full"}
	fetcher := &stubFetcher{result: &downloader.FetchResult{}, err: storageErr}
	retrier := &stubRetrier{}

	runner := pipeline.NewRunner(session.NewResolver(anchor), fetcher, retrier,
		pipeline.WithClock(clock.NewFake(now)),
		pipeline.WithLocation(time.UTC),
	)

	_, err := runner.Run(context.Background(), pipeline.Request{Files: []string{"A.dat"}})
	require.ErrorIs(t, err, storageErr)
	assert.Zero(t, retrier.calls)
}

func sessionIndices(r *pipeline.Report) []int {
	out := make([]int, 0, len(r.Sessions))
	for _, s := range r.Sessions {
		out = append(out, s.Index)
	}

	return out
}
