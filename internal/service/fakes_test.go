package service

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/kavish224/financial-tools/internal/client"
	"github.com/kavish224/financial-tools/internal/events"
	"github.com/kavish224/financial-tools/internal/model"
	"github.com/kavish224/financial-tools/internal/repository"

	"github.com/guregu/null/v6"
	"github.com/shopspring/decimal"
)

func day(s string) time.Time {
	d, err := model.ParseDay(s)
	if err != nil {
		panic(err)
	}
	return d
}

func fixedClock(s string) func() time.Time {
	t := day(s).Add(15 * time.Hour)
	return func() time.Time { return t }
}

func dec(s string) decimal.NullDecimal {
	return decimal.NewNullDecimal(decimal.RequireFromString(s))
}

// series builds consecutive daily bars ending on last
func series(isin string, last time.Time, closes ...string) []model.PriceBar {
	bars := make([]model.PriceBar, len(closes))
	start := last.AddDate(0, 0, -(len(closes) - 1))
	for i, c := range closes {
		bars[i] = model.PriceBar{
			ISIN:   isin,
			Date:   start.AddDate(0, 0, i),
			Close:  dec(c),
			Source: model.SourceUpstox,
		}
	}
	return bars
}

type fakeBars struct {
	mu      sync.Mutex
	series  map[string][]model.PriceBar
	err     map[string]error
	singles int
}

func newFakeBars() *fakeBars {
	return &fakeBars{series: make(map[string][]model.PriceBar), err: make(map[string]error)}
}

func (f *fakeBars) Append(ctx context.Context, bar model.PriceBar) (bool, error) {
	f.mu.Lock()
	f.singles++
	f.mu.Unlock()

	n, err := f.AppendBatch(ctx, []model.PriceBar{bar})
	return n == 1, err
}

func (f *fakeBars) AppendBatch(ctx context.Context, bars []model.PriceBar) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, b := range bars {
		if err := f.err[b.ISIN]; err != nil {
			return 0, err
		}
	}

	inserted := 0
	for _, b := range bars {
		exists := false
		for _, have := range f.series[b.ISIN] {
			if have.Date.Equal(b.Date) {
				exists = true
				break
			}
		}
		if exists {
			continue
		}
		f.series[b.ISIN] = append(f.series[b.ISIN], b)
		inserted++
	}
	for isin := range f.series {
		s := f.series[isin]
		sort.Slice(s, func(i, j int) bool { return s[i].Date.Before(s[j].Date) })
	}
	return inserted, nil
}

func (f *fakeBars) LatestDate(ctx context.Context, isin string) (*time.Time, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	s := f.series[isin]
	if len(s) == 0 {
		return nil, nil
	}
	d := s[len(s)-1].Date
	return &d, nil
}

func (f *fakeBars) SeriesFrom(ctx context.Context, isin string, since *time.Time) ([]model.PriceBar, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.err[isin]; err != nil {
		return nil, err
	}
	var out []model.PriceBar
	for _, b := range f.series[isin] {
		if since == nil || !b.Date.Before(*since) {
			out = append(out, b)
		}
	}
	return out, nil
}

func (f *fakeBars) SeriesUntil(ctx context.Context, isin string, until time.Time, limit int) ([]model.PriceBar, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.err[isin]; err != nil {
		return nil, err
	}
	var out []model.PriceBar
	for _, b := range f.series[isin] {
		if !b.Date.After(until) {
			out = append(out, b)
		}
	}
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (f *fakeBars) count(isin string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.series[isin])
}

type fakeSymbols struct {
	mu      sync.Mutex
	symbols []model.Symbol
	aliases map[string]string
	failOn  string
}

func newFakeSymbols(syms ...model.Symbol) *fakeSymbols {
	return &fakeSymbols{symbols: syms, aliases: make(map[string]string)}
}

func sym(isin, ticker, name string) model.Symbol {
	return model.Symbol{ISIN: isin, Symbol: ticker, CompanyName: nullString(name)}
}

func nullString(s string) null.String {
	return null.NewString(s, s != "")
}

func (f *fakeSymbols) List(ctx context.Context) ([]model.Symbol, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.Symbol(nil), f.symbols...), nil
}

func (f *fakeSymbols) ListPage(ctx context.Context, offset, limit int) ([]model.Symbol, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	total := len(f.symbols)
	if offset >= total {
		return nil, total, nil
	}
	end := min(offset+limit, total)
	return append([]model.Symbol(nil), f.symbols[offset:end]...), total, nil
}

func (f *fakeSymbols) ListISINs(ctx context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	isins := make([]string, len(f.symbols))
	for i, s := range f.symbols {
		isins[i] = s.ISIN
	}
	return isins, nil
}

func (f *fakeSymbols) GetByISIN(ctx context.Context, isin string) (*model.Symbol, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, s := range f.symbols {
		if s.ISIN == isin {
			s := s
			return &s, nil
		}
	}
	return nil, nil
}

func (f *fakeSymbols) ResolveTicker(ctx context.Context, ticker string) (*model.Symbol, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	isin := f.aliases[ticker]
	for _, s := range f.symbols {
		if s.Symbol == ticker || s.ISIN == isin {
			s := s
			return &s, nil
		}
	}
	return nil, nil
}

func (f *fakeSymbols) Aliases(ctx context.Context, isin string) ([]model.SymbolAlias, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var aliases []model.SymbolAlias
	for ticker, owner := range f.aliases {
		if owner == isin {
			aliases = append(aliases, model.SymbolAlias{ISIN: isin, Symbol: ticker})
		}
	}
	sort.Slice(aliases, func(i, j int) bool { return aliases[i].Symbol < aliases[j].Symbol })
	return aliases, nil
}

func (f *fakeSymbols) Upsert(ctx context.Context, s model.Symbol) (model.SymbolUpsertResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.failOn != "" && s.ISIN == f.failOn {
		return model.SymbolUpsertResult{}, context.DeadlineExceeded
	}
	for i, have := range f.symbols {
		if have.ISIN != s.ISIN {
			continue
		}
		f.symbols[i] = s
		if have.Symbol != s.Symbol {
			f.aliases[have.Symbol] = s.ISIN
			return model.SymbolUpsertResult{Renamed: true, PreviousSymbol: have.Symbol}, nil
		}
		return model.SymbolUpsertResult{}, nil
	}
	f.symbols = append(f.symbols, s)
	return model.SymbolUpsertResult{Created: true}, nil
}

type fakeSignals struct {
	mu   sync.Mutex
	rows []model.SignalResult
}

func signalKey(r model.SignalResult) string {
	return strings.Join([]string{
		r.ISIN, string(r.Kind),
		strconv.Itoa(r.ShortPeriod),
		strconv.Itoa(r.LongPeriod),
		r.ThresholdPct.String(),
		r.SignalDate.Format(model.DateLayout),
	}, "|")
}

func sameParams(r model.SignalResult, p model.SignalParams) bool {
	return r.Kind == p.Kind && r.ShortPeriod == p.ShortPeriod && r.LongPeriod == p.LongPeriod &&
		r.ThresholdPct.Equal(p.Threshold)
}

func (f *fakeSignals) UpsertToday(ctx context.Context, result model.SignalResult) (bool, error) {
	n, err := f.InsertBatch(ctx, []model.SignalResult{result})
	return n == 1, err
}

func (f *fakeSignals) InsertBatch(ctx context.Context, results []model.SignalResult) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	existing := make(map[string]bool, len(f.rows))
	for _, r := range f.rows {
		existing[signalKey(r)] = true
	}
	inserted := 0
	for _, r := range results {
		if existing[signalKey(r)] {
			continue
		}
		existing[signalKey(r)] = true
		r.ID = int64(len(f.rows) + 1)
		f.rows = append(f.rows, r)
		inserted++
	}
	return inserted, nil
}

func (f *fakeSignals) PruneOlderThan(ctx context.Context, params model.SignalParams, cutoff time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var kept []model.SignalResult
	var deleted int64
	for _, r := range f.rows {
		if sameParams(r, params) && r.SignalDate.Before(cutoff) {
			deleted++
			continue
		}
		kept = append(kept, r)
	}
	f.rows = kept
	return deleted, nil
}

func (f *fakeSignals) List(ctx context.Context, params model.SignalParams, d time.Time) ([]model.SignalResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []model.SignalResult
	for _, r := range f.rows {
		if sameParams(r, params) && r.SignalDate.Equal(d) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeSignals) LatestDate(ctx context.Context, params model.SignalParams) (*time.Time, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var latest *time.Time
	for _, r := range f.rows {
		if sameParams(r, params) && (latest == nil || r.SignalDate.After(*latest)) {
			d := r.SignalDate
			latest = &d
		}
	}
	return latest, nil
}

func (f *fakeSignals) all() []model.SignalResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.SignalResult(nil), f.rows...)
}

type fakeJobs struct {
	mu       sync.Mutex
	jobs     []*model.UpdateJob
	progress []model.JobProgress
}

func (f *fakeJobs) Create(ctx context.Context, kind string, total int) (*model.UpdateJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, j := range f.jobs {
		if j.Kind == kind && j.Status == model.JobStatusRunning {
			return nil, repository.ErrJobAlreadyRunning
		}
	}
	job := &model.UpdateJob{
		ID:           int64(len(f.jobs) + 1),
		Kind:         kind,
		Status:       model.JobStatusRunning,
		TotalSymbols: total,
		StartedAt:    time.Now(),
		UpdatedAt:    time.Now(),
	}
	f.jobs = append(f.jobs, job)
	copied := *job
	return &copied, nil
}

func (f *fakeJobs) find(match func(*model.UpdateJob) bool) *model.UpdateJob {
	for i := len(f.jobs) - 1; i >= 0; i-- {
		if match(f.jobs[i]) {
			copied := *f.jobs[i]
			return &copied
		}
	}
	return nil
}

func (f *fakeJobs) Get(ctx context.Context, id int64) (*model.UpdateJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.find(func(j *model.UpdateJob) bool { return j.ID == id }), nil
}

func (f *fakeJobs) Running(ctx context.Context, kind string) (*model.UpdateJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.find(func(j *model.UpdateJob) bool { return j.Kind == kind && j.Status == model.JobStatusRunning }), nil
}

func (f *fakeJobs) Latest(ctx context.Context, kind string) (*model.UpdateJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.find(func(j *model.UpdateJob) bool { return j.Kind == kind }), nil
}

func (f *fakeJobs) List(ctx context.Context, kind string, limit int) ([]model.UpdateJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var jobs []model.UpdateJob
	for i := len(f.jobs) - 1; i >= 0 && len(jobs) < limit; i-- {
		if f.jobs[i].Kind == kind {
			jobs = append(jobs, *f.jobs[i])
		}
	}
	return jobs, nil
}

func (f *fakeJobs) UpdateProgress(ctx context.Context, id int64, p model.JobProgress) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.progress = append(f.progress, p)
	for _, j := range f.jobs {
		if j.ID == id {
			j.ProcessedSymbols = p.Processed
			j.UpdatedAt = time.Now()
		}
	}
	return nil
}

func (f *fakeJobs) Finish(ctx context.Context, id int64, status string, p model.JobProgress, errorMsg string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, j := range f.jobs {
		if j.ID == id {
			j.Status = status
			j.ProcessedSymbols = p.Processed
			j.BarsInserted = p.Inserted
			if errorMsg != "" {
				j.Error.SetValid(errorMsg)
			}
			j.FinishedAt.SetValid(time.Now())
		}
	}
	return nil
}

func (f *fakeJobs) FailStale(ctx context.Context, kind string, before time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var n int64
	for _, j := range f.jobs {
		if j.Kind == kind && j.Status == model.JobStatusRunning && j.UpdatedAt.Before(before) {
			j.Status = model.JobStatusFailed
			n++
		}
	}
	return n, nil
}

// fakeFetcher serves candles from a per-ISIN history, honouring the range
type fakeFetcher struct {
	mu      sync.Mutex
	history map[string][]client.Candle
	errs    map[string]error
	calls   int
	block   chan struct{}
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{history: make(map[string][]client.Candle), errs: make(map[string]error)}
}

func (f *fakeFetcher) add(isin string, last time.Time, closes ...string) {
	for _, b := range series(isin, last, closes...) {
		f.history[isin] = append(f.history[isin], client.Candle{
			Time:  b.Date,
			Open:  b.Close.Decimal,
			High:  b.Close.Decimal,
			Low:   b.Close.Decimal,
			Close: b.Close.Decimal,
		})
	}
}

func (f *fakeFetcher) FetchDailyCandles(ctx context.Context, isin string, from, to time.Time) ([]client.Candle, error) {
	f.mu.Lock()
	f.calls++
	block := f.block
	f.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if err := f.errs[isin]; err != nil {
		return nil, err
	}
	var out []client.Candle
	for _, c := range f.history[isin] {
		if !c.Time.Before(from) && !c.Time.After(to) {
			out = append(out, c)
		}
	}
	if len(out) == 0 {
		return nil, client.ErrNoData
	}
	return out, nil
}

type fakeCache struct {
	mu          sync.Mutex
	values      map[string]interface{}
	invalidated int
}

func newFakeCache() *fakeCache {
	return &fakeCache{values: make(map[string]interface{})}
}

func (c *fakeCache) Get(ctx context.Context, key string, dst interface{}) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	v, ok := c.values[key]
	if !ok {
		return false, nil
	}
	if out, ok := dst.(*[]model.NearSMAResult); ok {
		*out = v.([]model.NearSMAResult)
	}
	return true, nil
}

func (c *fakeCache) Set(ctx context.Context, key string, value interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values[key] = value
	return nil
}

func (c *fakeCache) Invalidate(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values = make(map[string]interface{})
	c.invalidated++
	return nil
}

type recordingPublisher struct {
	mu       sync.Mutex
	topics   []string
	messages []events.Message
}

func (p *recordingPublisher) Publish(ctx context.Context, topic string, msg events.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.topics = append(p.topics, topic)
	p.messages = append(p.messages, msg)
	return nil
}

func (p *recordingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.messages)
}
