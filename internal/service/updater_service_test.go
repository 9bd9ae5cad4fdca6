package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/kavish224/financial-tools/internal/config"
	"github.com/kavish224/financial-tools/internal/metrics"
	"github.com/kavish224/financial-tools/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testToday = "2024-03-15"

type updaterFixture struct {
	svc       *UpdaterService
	bars      *fakeBars
	symbols   *fakeSymbols
	jobs      *fakeJobs
	fetcher   *fakeFetcher
	cache     *fakeCache
	publisher *recordingPublisher
}

func newUpdaterFixture(t *testing.T, jobs *fakeJobs) *updaterFixture {
	t.Helper()

	if jobs == nil {
		jobs = &fakeJobs{}
	}
	f := &updaterFixture{
		bars: newFakeBars(),
		symbols: newFakeSymbols(
			sym("INE001A01036", "ALPHA", "Alpha Ltd"),
			sym("INE002A01018", "BETA", "Beta Ltd"),
			sym("INE003A01024", "GAMMA", "Gamma Ltd"),
		),
		jobs:      jobs,
		fetcher:   newFakeFetcher(),
		cache:     newFakeCache(),
		publisher: &recordingPublisher{},
	}

	cfg := config.UpdaterConfig{
		EpochStart: "2024-03-01",
		BatchSize:  2,
		Workers:    2,
		StaleAfter: 15 * time.Minute,
	}
	f.svc = NewUpdaterService(context.Background(), f.bars, f.symbols, f.jobs, f.fetcher,
		f.cache, f.publisher, "jobs", metrics.New(), cfg, zap.NewNop()).
		WithClock(fixedClock(testToday))

	return f
}

func TestUpdateSymbolOutcomes(t *testing.T) {
	f := newUpdaterFixture(t, nil)
	ctx := context.Background()
	today := day(testToday)

	f.fetcher.add("INE001A01036", today, "100", "101", "102")
	f.fetcher.add("INE002A01018", day("2024-03-10"), "50")
	f.bars.series["INE002A01018"] = series("INE002A01018", day("2024-03-10"), "50")
	f.fetcher.errs["INE003A01024"] = errors.New("boom")

	out, err := f.svc.UpdateSymbol(ctx, "INE001A01036", today)
	require.NoError(t, err)
	assert.Equal(t, model.OutcomeUpdated, out.Outcome)
	assert.Equal(t, 3, out.Inserted)

	out, err = f.svc.UpdateSymbol(ctx, "INE001A01036", today)
	require.NoError(t, err)
	assert.Equal(t, model.OutcomeUpToDate, out.Outcome)
	assert.Equal(t, 0, out.Inserted)

	out, err = f.svc.UpdateSymbol(ctx, "INE002A01018", today)
	require.NoError(t, err)
	assert.Equal(t, model.OutcomeNoData, out.Outcome)

	out, err = f.svc.UpdateSymbol(ctx, "INE003A01024", today)
	assert.Error(t, err)
	assert.Equal(t, model.OutcomeFailed, out.Outcome)
	assert.Contains(t, out.Error, "boom")

	assert.Equal(t, 3, f.bars.count("INE001A01036"))
	assert.Zero(t, f.bars.singles)
}

func TestUpdateSymbolAppendsSingleDailyBar(t *testing.T) {
	f := newUpdaterFixture(t, nil)
	ctx := context.Background()
	today := day(testToday)

	f.bars.series["INE001A01036"] = series("INE001A01036", today.AddDate(0, 0, -1), "100", "101")
	f.fetcher.add("INE001A01036", today, "102")

	out, err := f.svc.UpdateSymbol(ctx, "INE001A01036", today)
	require.NoError(t, err)
	assert.Equal(t, model.OutcomeUpdated, out.Outcome)
	assert.Equal(t, 1, out.Inserted)
	assert.Equal(t, 1, f.bars.singles)
	assert.Equal(t, 3, f.bars.count("INE001A01036"))
}

func TestUpdateOneResolvesTicker(t *testing.T) {
	f := newUpdaterFixture(t, nil)
	f.fetcher.add("INE002A01018", day(testToday), "10", "11")

	out, err := f.svc.UpdateOne(context.Background(), "beta")
	require.NoError(t, err)
	assert.Equal(t, "INE002A01018", out.ISIN)
	assert.Equal(t, 2, out.Inserted)

	_, err = f.svc.UpdateOne(context.Background(), "MISSING")
	assert.ErrorIs(t, err, ErrUnknownSymbol)
}

func TestSecondImmediateRunInsertsNothing(t *testing.T) {
	f := newUpdaterFixture(t, nil)
	ctx := context.Background()
	today := day(testToday)

	f.fetcher.add("INE001A01036", today, "100", "101", "102")
	f.fetcher.add("INE002A01018", today, "10", "11")
	f.fetcher.add("INE003A01024", today, "5")

	first, err := f.svc.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusCompleted, first.Status)
	assert.Equal(t, 3, first.ProcessedSymbols)
	assert.Equal(t, 3, first.UpdatedSymbols)
	assert.Equal(t, int64(6), first.BarsInserted)

	second, err := f.svc.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusCompleted, second.Status)
	assert.Equal(t, 3, second.UpToDateSymbols)
	assert.Equal(t, int64(0), second.BarsInserted)

	// progress is written after each batch of two
	assert.Len(t, f.jobs.progress, 4)
	assert.Equal(t, 1, f.cache.invalidated)
	assert.Equal(t, 2, f.publisher.count())

	latest, err := f.svc.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, second.ID, latest.ID)

	history, err := f.svc.History(ctx, 10)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, second.ID, history[0].ID)
	assert.Equal(t, first.ID, history[1].ID)
}

func TestRunCountsFailuresWithoutAborting(t *testing.T) {
	f := newUpdaterFixture(t, nil)
	f.fetcher.add("INE001A01036", day(testToday), "100")
	f.fetcher.errs["INE002A01018"] = errors.New("upstream down")
	f.fetcher.add("INE003A01024", day(testToday), "5")

	job, err := f.svc.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusCompleted, job.Status)
	assert.Equal(t, 3, job.ProcessedSymbols)
	assert.Equal(t, 1, job.FailedSymbols)
	assert.Equal(t, 2, job.UpdatedSymbols)
}

func TestConcurrentStartConflicts(t *testing.T) {
	f := newUpdaterFixture(t, nil)
	f.fetcher.add("INE001A01036", day(testToday), "100")
	f.fetcher.block = make(chan struct{})

	ctx := context.Background()
	job, err := f.svc.Start(ctx)
	require.NoError(t, err)

	_, err = f.svc.Start(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUpdateRunning)

	var running *RunningError
	require.True(t, errors.As(err, &running))
	require.NotNil(t, running.Job)
	assert.Equal(t, job.ID, running.Job.ID)

	// a second instance sharing the ledger is rejected by the ledger gate
	other := newUpdaterFixture(t, f.jobs)
	_, err = other.svc.Start(ctx)
	assert.ErrorIs(t, err, ErrUpdateRunning)

	close(f.fetcher.block)
	f.svc.Wait()

	finished, err := f.svc.Job(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusCompleted, finished.Status)

	_, err = f.svc.Start(ctx)
	assert.NoError(t, err)
	f.svc.Wait()
}

func TestParallelStartsAdmitOneRun(t *testing.T) {
	f := newUpdaterFixture(t, nil)
	f.fetcher.add("INE001A01036", day(testToday), "100")
	f.fetcher.block = make(chan struct{})

	const callers = 16
	var (
		wg        sync.WaitGroup
		gate      = make(chan struct{})
		mu        sync.Mutex
		started   []*model.UpdateJob
		conflicts int
		others    []error
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-gate
			job, err := f.svc.Start(context.Background())

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				started = append(started, job)
			case errors.Is(err, ErrUpdateRunning):
				conflicts++
			default:
				others = append(others, err)
			}
		}()
	}
	close(gate)
	wg.Wait()

	assert.Empty(t, others)
	require.Len(t, started, 1)
	assert.Equal(t, callers-1, conflicts)

	close(f.fetcher.block)
	f.svc.Wait()

	history, err := f.svc.History(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, model.JobStatusCompleted, history[0].Status)
}

// slowJobs holds Create open so a run is gated before its ledger row exists
type slowJobs struct {
	*fakeJobs
	entered chan struct{}
	release chan struct{}
}

func (j *slowJobs) Create(ctx context.Context, kind string, total int) (*model.UpdateJob, error) {
	close(j.entered)
	<-j.release
	return j.fakeJobs.Create(ctx, kind, total)
}

func TestConflictBeforeLedgerRowReportsGateTime(t *testing.T) {
	f := newUpdaterFixture(t, nil)
	jobs := &slowJobs{fakeJobs: f.jobs, entered: make(chan struct{}), release: make(chan struct{})}
	svc := NewUpdaterService(context.Background(), f.bars, f.symbols, jobs, f.fetcher,
		f.cache, f.publisher, "jobs", nil, config.UpdaterConfig{EpochStart: "2024-03-01", BatchSize: 2},
		zap.NewNop()).WithClock(fixedClock(testToday))

	before := time.Now()
	done := make(chan error, 1)
	go func() {
		_, err := svc.Start(context.Background())
		done <- err
	}()
	<-jobs.entered

	_, err := svc.Start(context.Background())
	var running *RunningError
	require.True(t, errors.As(err, &running))
	assert.Nil(t, running.Job)
	assert.False(t, running.RunningSince().Before(before))
	assert.False(t, running.RunningSince().After(time.Now()))

	close(jobs.release)
	require.NoError(t, <-done)
	svc.Wait()
}

func TestCancelStopsRun(t *testing.T) {
	f := newUpdaterFixture(t, nil)
	f.fetcher.block = make(chan struct{})

	ctx := context.Background()
	job, err := f.svc.Start(ctx)
	require.NoError(t, err)

	assert.True(t, f.svc.Cancel(ctx))
	f.svc.Wait()

	finished, err := f.svc.Job(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusCancelled, finished.Status)
	assert.False(t, f.svc.Cancel(ctx))
	assert.Equal(t, 1, f.publisher.count())
}

func TestStartReleasesStaleJob(t *testing.T) {
	jobs := &fakeJobs{}
	stale, err := jobs.Create(context.Background(), model.JobKindUniverseUpdate, 10)
	require.NoError(t, err)
	jobs.jobs[0].UpdatedAt = day(testToday).Add(-time.Hour)

	f := newUpdaterFixture(t, jobs)
	job, err := f.svc.Run(context.Background())
	require.NoError(t, err)
	assert.NotEqual(t, stale.ID, job.ID)

	released, err := f.svc.Job(context.Background(), stale.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusFailed, released.Status)
}
