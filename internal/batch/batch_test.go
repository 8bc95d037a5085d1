package batch_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cascadiahydro/flood-aep-etl/internal/batch"
	"github.com/cascadiahydro/flood-aep-etl/internal/domain"
	"github.com/cascadiahydro/flood-aep-etl/internal/observability"
)

// --- mocks ---

type mockFetcher struct {
	records  map[string][]domain.StatRecord
	errs     map[string]error
	failures map[string]int // transient failures before success, per gage
	calls    []string
}

func (m *mockFetcher) PeakFlowStats(_ context.Context, gageCode string) ([]domain.StatRecord, error) {
	m.calls = append(m.calls, gageCode)
	if n := m.failures[gageCode]; n > 0 {
		m.failures[gageCode] = n - 1
		return nil, errors.New("connection reset")
	}
	if err := m.errs[gageCode]; err != nil {
		return nil, err
	}
	return m.records[gageCode], nil
}

func (m *mockFetcher) callsFor(gage string) int {
	var n int
	for _, c := range m.calls {
		if c == gage {
			n++
		}
	}
	return n
}

type mockSeries struct {
	samples map[int64][]domain.FlowSample
	err     error
}

func (m *mockSeries) SeriesSlice(_ context.Context, segmentID int64, _, _ time.Time) ([]domain.FlowSample, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.samples[segmentID], nil
}

type mockSink struct {
	appended [][]domain.MergedRow
	err      error
	onAppend func()
}

func (m *mockSink) Append(rows []domain.MergedRow) error {
	if m.err != nil {
		return m.err
	}
	m.appended = append(m.appended, rows)
	if m.onAppend != nil {
		m.onAppend()
	}
	return nil
}

func (m *mockSink) allRows() []domain.MergedRow {
	var all []domain.MergedRow
	for _, rows := range m.appended {
		all = append(all, rows...)
	}
	return all
}

type ledgerSave struct {
	area      string
	siteIndex int64
	siteID    string
	runID     string
}

type mockLedger struct {
	saves []ledgerSave
	err   error
}

func (m *mockLedger) Save(_ context.Context, area string, siteIndex int64, siteID, runID string) error {
	if m.err != nil {
		return m.err
	}
	m.saves = append(m.saves, ledgerSave{area, siteIndex, siteID, runID})
	return nil
}

func (m *mockLedger) lastIndex() (int64, bool) {
	if len(m.saves) == 0 {
		return 0, false
	}
	return m.saves[len(m.saves)-1].siteIndex, true
}

type mockPublisher struct {
	published [][]domain.MergedRow
	err       error
}

func (m *mockPublisher) PublishRows(_ context.Context, rows []domain.MergedRow) error {
	if m.err != nil {
		return m.err
	}
	m.published = append(m.published, rows)
	return nil
}

// --- fixtures ---

var (
	testTargets = domain.TargetSet{"0.2", "1", "2", "4", "10", "20", "50"}
	testTokens  = domain.TokenPolicy{"Weighted", "Maximum"}
	testSites   = []domain.SiteRecord{
		{SiteID: "SLMO3", SegmentID: 101, GageCode: "14191000"},
		{SiteID: "MPLO3", SegmentID: 102, GageCode: "14211720"},
		{SiteID: "DLLO3", SegmentID: 103, GageCode: "14105700"},
	}
)

func prefRecord(code, name string, value float64) domain.StatRecord {
	return domain.StatRecord{
		Value:          value,
		IsPreferred:    true,
		RegressionType: domain.StatDescriptor{Code: code, Name: name},
	}
}

// weightedStats returns one preferred weighted record per target key.
func weightedStats(baseFlow float64) []domain.StatRecord {
	codes := []string{"WPK0_2AEP", "WPK1AEP", "WPK2AEP", "WPK4AEP", "WPK10AEP", "WPK20AEP", "WPK50AEP"}
	records := make([]domain.StatRecord, 0, len(codes))
	for i, code := range codes {
		records = append(records, prefRecord(code, "Weighted peak flow", baseFlow+float64(i)))
	}
	return records
}

// flowSeries builds a deterministic 40-water-year series with positive skew.
func flowSeries(segmentID int64) []domain.FlowSample {
	var samples []domain.FlowSample
	for yr := 1980; yr < 2020; yr++ {
		base := float64(100+(yr*37+int(segmentID))%211) + 50
		if yr%11 == 0 {
			base *= 3
		}
		samples = append(samples,
			domain.FlowSample{Time: time.Date(yr, time.January, 15, 0, 0, 0, 0, time.UTC), Flow: base},
			domain.FlowSample{Time: time.Date(yr, time.May, 1, 0, 0, 0, 0, time.UTC), Flow: base / 2},
		)
	}
	return samples
}

func allSeries() map[int64][]domain.FlowSample {
	return map[int64][]domain.FlowSample{
		101: flowSeries(101),
		102: flowSeries(102),
		103: flowSeries(103),
	}
}

func allStats() map[string][]domain.StatRecord {
	return map[string][]domain.StatRecord{
		"14191000": weightedStats(49500),
		"14211720": weightedStats(31200),
		"14105700": weightedStats(8300),
	}
}

func testParams(f *mockFetcher, s *mockSeries, sink *mockSink, ledger *mockLedger) batch.Params {
	return batch.Params{
		Sites:        testSites,
		Fetcher:      f,
		Series:       s,
		Sink:         sink,
		Ledger:       ledger,
		Area:         "nwrfc",
		RunID:        "run-1",
		Targets:      testTargets,
		Tokens:       testTokens,
		WindowStart:  time.Date(1979, 10, 1, 0, 0, 0, 0, time.UTC),
		WindowEnd:    time.Date(2022, 9, 30, 0, 0, 0, 0, time.UTC),
		FetchRetries: 2,
		RetryBackoff: time.Millisecond,
		RetryMax:     4 * time.Millisecond,
		StartIndex:   0,
		Logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
		Metrics:      observability.NewMetricsForTesting(),
	}
}

// --- tests ---

func TestBatch_Run_HappyPath(t *testing.T) {
	fetcher := &mockFetcher{records: allStats()}
	series := &mockSeries{samples: allSeries()}
	sink := &mockSink{}
	ledger := &mockLedger{}

	b := batch.New(testParams(fetcher, series, sink, ledger))
	rows, summary, err := b.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, summary.Completed)
	assert.Equal(t, 0, summary.Skipped)
	assert.Equal(t, 21, summary.Rows)
	require.Len(t, rows, 21)
	require.Len(t, sink.appended, 3)

	if diff := cmp.Diff(sink.allRows(), rows); diff != "" {
		t.Fatalf("returned rows differ from persisted rows (-sink +returned):\n%s", diff)
	}

	first := sink.appended[0]
	require.Len(t, first, 7)
	for i, row := range first {
		assert.Equal(t, "SLMO3", row.SiteID)
		assert.Equal(t, testTargets[i], row.AEP)
		assert.Positive(t, row.NWMFlowCFS)
		require.NotNil(t, row.USGSFlowCFS)
		assert.Equal(t, 49500+float64(i), *row.USGSFlowCFS)
	}

	require.Len(t, ledger.saves, 3)
	assert.Equal(t, ledgerSave{"nwrfc", 0, "SLMO3", "run-1"}, ledger.saves[0])
	assert.Equal(t, ledgerSave{"nwrfc", 2, "DLLO3", "run-1"}, ledger.saves[2])

	assert.NoError(t, b.CheckReadiness(context.Background()))
}

func TestBatch_Run_SkipsSiteWithoutStats(t *testing.T) {
	stats := allStats()
	stats["14191000"] = nil // first site has no gage statistics

	fetcher := &mockFetcher{records: stats}
	series := &mockSeries{samples: allSeries()}
	sink := &mockSink{}
	ledger := &mockLedger{}

	b := batch.New(testParams(fetcher, series, sink, ledger))
	rows, summary, err := b.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, summary.Completed)
	assert.Equal(t, 1, summary.Skipped)
	assert.Len(t, rows, 14)
	require.Len(t, sink.appended, 2)
	assert.Equal(t, "MPLO3", sink.appended[0][0].SiteID)

	// The skipped site still advances the checkpoint.
	require.Len(t, ledger.saves, 3)
	assert.Equal(t, ledgerSave{"nwrfc", 0, "SLMO3", "run-1"}, ledger.saves[0])
}

func TestBatch_Run_SkipsOnFetchErrorAfterRetries(t *testing.T) {
	fetcher := &mockFetcher{
		records: allStats(),
		errs:    map[string]error{"14191000": errors.New("503 from upstream")},
	}
	series := &mockSeries{samples: allSeries()}
	sink := &mockSink{}
	ledger := &mockLedger{}

	b := batch.New(testParams(fetcher, series, sink, ledger))
	_, summary, err := b.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Skipped)
	assert.Equal(t, 2, summary.Completed)
	// First attempt plus FetchRetries more.
	assert.Equal(t, 3, fetcher.callsFor("14191000"))
	assert.Equal(t, 1, fetcher.callsFor("14211720"))
}

func TestBatch_Run_RecoversFromTransientFetchFailure(t *testing.T) {
	fetcher := &mockFetcher{
		records:  allStats(),
		failures: map[string]int{"14191000": 1},
	}
	series := &mockSeries{samples: allSeries()}
	sink := &mockSink{}
	ledger := &mockLedger{}

	b := batch.New(testParams(fetcher, series, sink, ledger))
	_, summary, err := b.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, summary.Completed)
	assert.Equal(t, 0, summary.Skipped)
	assert.Equal(t, 2, fetcher.callsFor("14191000"))
}

func TestBatch_Run_SkipsOnDegenerateSeries(t *testing.T) {
	series := &mockSeries{samples: allSeries()}
	// Two water years is below the fit's minimum.
	series.samples[101] = []domain.FlowSample{
		{Time: time.Date(1985, time.January, 1, 0, 0, 0, 0, time.UTC), Flow: 10},
		{Time: time.Date(1986, time.January, 1, 0, 0, 0, 0, time.UTC), Flow: 20},
	}

	fetcher := &mockFetcher{records: allStats()}
	sink := &mockSink{}
	ledger := &mockLedger{}

	b := batch.New(testParams(fetcher, series, sink, ledger))
	_, summary, err := b.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Skipped)
	assert.Equal(t, 2, summary.Completed)
	require.Len(t, sink.appended, 2)
	assert.Equal(t, "MPLO3", sink.appended[0][0].SiteID)
}

func TestBatch_Run_SkipsOnSeriesReadError(t *testing.T) {
	fetcher := &mockFetcher{records: allStats()}
	series := &mockSeries{err: errors.New("db locked")}
	sink := &mockSink{}
	ledger := &mockLedger{}

	b := batch.New(testParams(fetcher, series, sink, ledger))
	rows, summary, err := b.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, summary.Skipped)
	assert.Equal(t, 0, summary.Completed)
	assert.Empty(t, rows)
	assert.Empty(t, sink.appended)
	// Skipped sites still checkpoint so the walk never re-skips them.
	assert.Len(t, ledger.saves, 3)
}

func TestBatch_Run_EmptySelectionStillWritesRows(t *testing.T) {
	// Fourteen competing preferred candidates whose names carry neither
	// policy token: the selection comes back empty and the site proceeds
	// on estimator rows alone.
	var competing []domain.StatRecord
	competing = append(competing, weightedStats(1000)...)
	competing = append(competing, weightedStats(2000)...)
	for i := range competing {
		competing[i].RegressionType.Name = "Regional regression estimate"
	}

	stats := allStats()
	stats["14191000"] = competing

	fetcher := &mockFetcher{records: stats}
	series := &mockSeries{samples: allSeries()}
	sink := &mockSink{}
	ledger := &mockLedger{}

	b := batch.New(testParams(fetcher, series, sink, ledger))
	_, summary, err := b.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, summary.Completed)
	assert.Equal(t, 0, summary.Skipped)
	require.Len(t, sink.appended, 3)

	first := sink.appended[0]
	require.Len(t, first, 7)
	for _, row := range first {
		assert.Equal(t, "SLMO3", row.SiteID)
		assert.Nil(t, row.USGSFlowCFS)
		assert.Positive(t, row.NWMFlowCFS)
	}
}

func TestBatch_Run_SinkFailureAbortsRun(t *testing.T) {
	fetcher := &mockFetcher{records: allStats()}
	series := &mockSeries{samples: allSeries()}
	sink := &mockSink{err: errors.New("disk full")}
	ledger := &mockLedger{}

	b := batch.New(testParams(fetcher, series, sink, ledger))
	_, _, err := b.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SLMO3")

	// The failed site must not be checkpointed; a resume redoes it.
	assert.Empty(t, ledger.saves)
}

func TestBatch_Run_PublishesCompletedRows(t *testing.T) {
	stats := allStats()
	stats["14211720"] = nil // middle site skipped

	fetcher := &mockFetcher{records: stats}
	series := &mockSeries{samples: allSeries()}
	sink := &mockSink{}
	ledger := &mockLedger{}
	publisher := &mockPublisher{}

	params := testParams(fetcher, series, sink, ledger)
	params.Publisher = publisher

	b := batch.New(params)
	_, summary, err := b.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, summary.Completed)
	require.Len(t, publisher.published, 2)
	assert.Equal(t, "SLMO3", publisher.published[0][0].SiteID)
	assert.Equal(t, "DLLO3", publisher.published[1][0].SiteID)
}

func TestBatch_Run_PublishFailureDoesNotFailSite(t *testing.T) {
	fetcher := &mockFetcher{records: allStats()}
	series := &mockSeries{samples: allSeries()}
	sink := &mockSink{}
	ledger := &mockLedger{}
	publisher := &mockPublisher{err: errors.New("brokers unreachable")}

	params := testParams(fetcher, series, sink, ledger)
	params.Publisher = publisher

	b := batch.New(params)
	_, summary, err := b.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, summary.Completed)
	assert.Len(t, sink.appended, 3)
	assert.Len(t, ledger.saves, 3)
}

func TestBatch_Run_StartIndexSkipsEarlierSites(t *testing.T) {
	fetcher := &mockFetcher{records: allStats()}
	series := &mockSeries{samples: allSeries()}
	sink := &mockSink{}
	ledger := &mockLedger{}

	params := testParams(fetcher, series, sink, ledger)
	params.StartIndex = 2

	b := batch.New(params)
	rows, summary, err := b.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Completed)
	assert.Len(t, rows, 7)
	assert.Equal(t, 0, fetcher.callsFor("14191000"))
	assert.Equal(t, 0, fetcher.callsFor("14211720"))
	assert.Equal(t, 1, fetcher.callsFor("14105700"))
	require.Len(t, ledger.saves, 1)
	assert.Equal(t, int64(2), ledger.saves[0].siteIndex)
}

func TestBatch_Run_CancelledContextStopsBeforeWork(t *testing.T) {
	fetcher := &mockFetcher{records: allStats()}
	series := &mockSeries{samples: allSeries()}
	sink := &mockSink{}
	ledger := &mockLedger{}

	b := batch.New(testParams(fetcher, series, sink, ledger))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rows, summary, err := b.Run(ctx)
	require.NoError(t, err)
	assert.Empty(t, rows)
	assert.Equal(t, 0, summary.Completed)
	assert.Empty(t, fetcher.calls)
	assert.Error(t, b.CheckReadiness(context.Background()))
}

func TestBatch_Run_InterruptThenResumeMatchesSinglePass(t *testing.T) {
	// Single uninterrupted pass for reference.
	refSink := &mockSink{}
	ref := batch.New(testParams(&mockFetcher{records: allStats()}, &mockSeries{samples: allSeries()}, refSink, &mockLedger{}))
	_, _, err := ref.Run(context.Background())
	require.NoError(t, err)

	// Interrupted pass: cancel right after the first site's rows land.
	ctx, cancel := context.WithCancel(context.Background())
	sink := &mockSink{}
	sink.onAppend = func() {
		if len(sink.appended) == 1 {
			cancel()
		}
	}
	ledger := &mockLedger{}

	first := batch.New(testParams(&mockFetcher{records: allStats()}, &mockSeries{samples: allSeries()}, sink, ledger))
	_, firstSummary, err := first.Run(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, firstSummary.Completed)
	require.Len(t, ledger.saves, 1)

	// Resume from the ledger position.
	last, found := ledger.lastIndex()
	params := testParams(&mockFetcher{records: allStats()}, &mockSeries{samples: allSeries()}, sink, ledger)
	params.StartIndex = batch.ResolveStart(-1, last, found)
	sink.onAppend = nil

	resumed := batch.New(params)
	_, resumedSummary, err := resumed.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, resumedSummary.Completed)

	if diff := cmp.Diff(refSink.allRows(), sink.allRows()); diff != "" {
		t.Fatalf("resumed output differs from single pass (-single +resumed):\n%s", diff)
	}
}

func TestBatch_Progress(t *testing.T) {
	stats := allStats()
	stats["14211720"] = nil

	fetcher := &mockFetcher{records: stats}
	series := &mockSeries{samples: allSeries()}
	sink := &mockSink{}
	ledger := &mockLedger{}

	b := batch.New(testParams(fetcher, series, sink, ledger))

	completed, skipped, total, running := b.Progress()
	assert.Zero(t, completed)
	assert.Zero(t, skipped)
	assert.Equal(t, 3, total)
	assert.False(t, running)

	_, _, err := b.Run(context.Background())
	require.NoError(t, err)

	completed, skipped, total, running = b.Progress()
	assert.Equal(t, int64(2), completed)
	assert.Equal(t, int64(1), skipped)
	assert.Equal(t, 3, total)
	assert.False(t, running)
}

func TestResolveStart(t *testing.T) {
	tests := []struct {
		name          string
		override      int64
		lastCompleted int64
		found         bool
		want          int64
	}{
		{name: "override wins over ledger", override: 5, lastCompleted: 2, found: true, want: 5},
		{name: "override zero restarts from scratch", override: 0, lastCompleted: 9, found: true, want: 0},
		{name: "ledger resumes one past last", override: -1, lastCompleted: 4, found: true, want: 5},
		{name: "no checkpoint starts at zero", override: -1, found: false, want: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, batch.ResolveStart(tt.override, tt.lastCompleted, tt.found))
		})
	}
}
