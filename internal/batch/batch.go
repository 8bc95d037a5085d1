package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/cascadiahydro/flood-aep-etl/internal/domain"
	"github.com/cascadiahydro/flood-aep-etl/internal/observability"
)

// StatsFetcher retrieves the raw gage-statistics records for one gage.
type StatsFetcher interface {
	PeakFlowStats(ctx context.Context, gageCode string) ([]domain.StatRecord, error)
}

// SeriesStore reads the modeled flow series for one segment inside the
// historical window.
type SeriesStore interface {
	SeriesSlice(ctx context.Context, segmentID int64, start, end time.Time) ([]domain.FlowSample, error)
}

// RowSink appends one site's merged rows to durable output.
type RowSink interface {
	Append(rows []domain.MergedRow) error
}

// Ledger checkpoints the last finished site index per area.
type Ledger interface {
	Save(ctx context.Context, area string, siteIndex int64, siteID, runID string) error
}

// Publisher fans merged rows out to a message sink.
type Publisher interface {
	PublishRows(ctx context.Context, rows []domain.MergedRow) error
}

// Skip reasons label the sites_skipped metric.
const (
	skipNoStats    = "no_stats"
	skipFetch      = "fetch"
	skipSeries     = "series"
	skipEstimation = "estimation"
)

// Params collects the construction arguments for a Batch.
type Params struct {
	Sites     []domain.SiteRecord
	Fetcher   StatsFetcher
	Series    SeriesStore
	Sink      RowSink
	Ledger    Ledger
	Publisher Publisher // nil disables publishing

	Area         string
	RunID        string
	Targets      domain.TargetSet
	Tokens       domain.TokenPolicy
	WindowStart  time.Time
	WindowEnd    time.Time
	FetchRetries int
	RetryBackoff time.Duration
	RetryMax     time.Duration
	StartIndex   int64

	Logger  *slog.Logger
	Metrics *observability.Metrics
}

// Batch walks the site list sequentially, reconciling the two estimation
// sources per site and appending each site's rows before moving to the
// next, so a crash leaves valid output up through the last finished site.
type Batch struct {
	sites     []domain.SiteRecord
	fetcher   StatsFetcher
	series    SeriesStore
	sink      RowSink
	ledger    Ledger
	publisher Publisher

	area         string
	runID        string
	targets      domain.TargetSet
	tokens       domain.TokenPolicy
	windowStart  time.Time
	windowEnd    time.Time
	fetchRetries int
	retryBackoff time.Duration
	retryMax     time.Duration
	startIndex   int64

	logger  *slog.Logger
	metrics *observability.Metrics

	ready     atomic.Bool
	running   atomic.Bool
	completed atomic.Int64
	skipped   atomic.Int64
}

// New creates a Batch from the given collaborators and settings.
func New(p Params) *Batch {
	return &Batch{
		sites:        p.Sites,
		fetcher:      p.Fetcher,
		series:       p.Series,
		sink:         p.Sink,
		ledger:       p.Ledger,
		publisher:    p.Publisher,
		area:         p.Area,
		runID:        p.RunID,
		targets:      p.Targets,
		tokens:       p.Tokens,
		windowStart:  p.WindowStart,
		windowEnd:    p.WindowEnd,
		fetchRetries: p.FetchRetries,
		retryBackoff: p.RetryBackoff,
		retryMax:     p.RetryMax,
		startIndex:   p.StartIndex,
		logger:       p.Logger,
		metrics:      p.Metrics,
	}
}

// ResolveStart picks the first site index to process: an operator override
// of zero or greater always wins; otherwise the walk continues one past the
// ledger's last finished index; an area with no checkpoint starts at zero.
func ResolveStart(override, lastCompleted int64, found bool) int64 {
	if override >= 0 {
		return override
	}
	if found {
		return lastCompleted + 1
	}
	return 0
}

// Summary totals one run of the site loop.
type Summary struct {
	Completed int
	Skipped   int
	Rows      int
}

// CheckReadiness returns nil once the site loop has advanced past at least
// one site, finished or skipped.
func (b *Batch) CheckReadiness(_ context.Context) error {
	if !b.ready.Load() {
		return errors.New("batch has not processed any sites yet")
	}
	return nil
}

// Progress reports the loop counters for the status endpoint.
func (b *Batch) Progress() (completed, skipped int64, total int, running bool) {
	return b.completed.Load(), b.skipped.Load(), len(b.sites), b.running.Load()
}

// Run walks the site list from the start index. Per-site data problems
// (missing statistics, unreadable series, degenerate fits) skip the site
// and the walk continues; only an output-table write failure aborts the
// run. Cancellation stops the walk cleanly without checkpointing the
// in-flight site. The returned rows are everything merged during this run,
// which the sink has already persisted incrementally.
func (b *Batch) Run(ctx context.Context) ([]domain.MergedRow, Summary, error) {
	b.logger.Info("batch started",
		"area", b.area,
		"run_id", b.runID,
		"sites", len(b.sites),
		"start_index", b.startIndex,
		"targets", len(b.targets),
	)
	b.metrics.BatchRunning.Set(1)
	b.running.Store(true)
	defer func() {
		b.metrics.BatchRunning.Set(0)
		b.running.Store(false)
	}()

	var (
		all     []domain.MergedRow
		summary Summary
	)

	for i := b.startIndex; i < int64(len(b.sites)); i++ {
		if ctx.Err() != nil {
			b.logger.Info("batch interrupted", "area", b.area, "next_index", i)
			return all, summary, nil
		}

		site := b.sites[i]
		b.logger.Info("processing site",
			"site_index", i, "area", b.area, "site_id", site.SiteID, "gage", site.GageCode)

		siteStart := time.Now()
		rows, skipReason := b.processSite(ctx, site)
		if ctx.Err() != nil {
			b.logger.Info("batch interrupted", "area", b.area, "next_index", i)
			return all, summary, nil
		}

		if skipReason != "" {
			b.metrics.SitesSkipped.WithLabelValues(skipReason).Inc()
			b.skipped.Add(1)
			summary.Skipped++
			b.ready.Store(true)
			b.saveLedger(ctx, i, site.SiteID)
			continue
		}

		if err := b.sink.Append(rows); err != nil {
			return all, summary, fmt.Errorf("append rows for site %s: %w", site.SiteID, err)
		}
		b.metrics.SitesProcessed.Inc()
		b.metrics.RowsWritten.Add(float64(len(rows)))
		b.metrics.SiteDuration.Observe(time.Since(siteStart).Seconds())
		b.completed.Add(1)
		summary.Completed++
		summary.Rows += len(rows)
		b.ready.Store(true)

		b.publish(ctx, rows)
		b.saveLedger(ctx, i, site.SiteID)
		all = append(all, rows...)
	}

	b.logger.Info("batch finished",
		"area", b.area, "completed", summary.Completed, "skipped", summary.Skipped, "rows", summary.Rows)
	return all, summary, nil
}

// processSite runs one fetch-select-estimate-merge cycle. A non-empty skip
// reason means the site produced no rows and the walk should move on.
func (b *Batch) processSite(ctx context.Context, site domain.SiteRecord) ([]domain.MergedRow, string) {
	records, err := b.fetchWithRetry(ctx, site.GageCode)
	if err != nil {
		b.logger.Warn("stats fetch failed, skipping site",
			"error", err, "site_id", site.SiteID, "gage", site.GageCode)
		return nil, skipFetch
	}
	if len(records) == 0 {
		b.logger.Info("no gage statistics, skipping site",
			"site_id", site.SiteID, "gage", site.GageCode)
		return nil, skipNoStats
	}

	// An empty selection is not a skip: the site still gets estimator rows,
	// with the gage-statistics columns left null.
	stats := domain.SelectPreferred(records, b.targets, b.tokens)
	if len(stats) == 0 {
		b.logger.Info("no usable preferred statistic",
			"site_id", site.SiteID, "gage", site.GageCode, "raw_records", len(records))
	}

	samples, err := b.series.SeriesSlice(ctx, site.SegmentID, b.windowStart, b.windowEnd)
	if err != nil {
		b.logger.Warn("series read failed, skipping site",
			"error", err, "site_id", site.SiteID, "segment", site.SegmentID)
		return nil, skipSeries
	}

	quantiles, err := domain.EstimatePeakFlows(samples, b.targets)
	if err != nil {
		b.logger.Warn("estimation failed, skipping site",
			"error", err, "site_id", site.SiteID, "segment", site.SegmentID, "samples", len(samples))
		return nil, skipEstimation
	}

	return domain.MergeSite(site.SiteID, stats, quantiles), ""
}

// fetchWithRetry calls the statistics service with bounded exponential
// backoff: the first attempt plus up to fetchRetries more.
func (b *Batch) fetchWithRetry(ctx context.Context, gageCode string) ([]domain.StatRecord, error) {
	backoff := b.retryBackoff
	var lastErr error

	for attempt := 0; attempt <= b.fetchRetries; attempt++ {
		if attempt > 0 {
			b.metrics.StatsRetries.Inc()
			if !sleepWithContext(ctx, backoff) {
				return nil, ctx.Err()
			}
			backoff = nextBackoff(backoff, b.retryMax)
		}

		records, err := b.fetcher.PeakFlowStats(ctx, gageCode)
		if err == nil {
			return records, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return nil, lastErr
		}
		b.logger.Warn("stats fetch attempt failed",
			"error", err, "gage", gageCode, "attempt", attempt+1)
	}
	return nil, fmt.Errorf("stats fetch exhausted %d attempts: %w", b.fetchRetries+1, lastErr)
}

// publish fans rows out when a publisher is configured. Failures are logged
// and counted, never escalated; the output table is the source of truth.
func (b *Batch) publish(ctx context.Context, rows []domain.MergedRow) {
	if b.publisher == nil {
		return
	}
	if err := b.publisher.PublishRows(ctx, rows); err != nil {
		b.logger.Error("publish failed", "error", err, "rows", len(rows))
		b.metrics.PublishErrors.Inc()
		return
	}
	b.metrics.RowsPublished.Add(float64(len(rows)))
}

// saveLedger checkpoints a finished position. The write is detached from
// run cancellation so an interrupt arriving after a site's rows are on disk
// cannot cause that site to be reprocessed. A failed checkpoint does not
// fail the site; the operator can still resume with an explicit start index.
func (b *Batch) saveLedger(ctx context.Context, siteIndex int64, siteID string) {
	if err := b.ledger.Save(context.WithoutCancel(ctx), b.area, siteIndex, siteID, b.runID); err != nil {
		b.logger.Error("ledger save failed",
			"error", err, "site_index", siteIndex, "site_id", siteID)
	}
	b.metrics.LastSiteIndex.Set(float64(siteIndex))
}

func nextBackoff(current, maxBackoff time.Duration) time.Duration {
	next := current * 2
	if next > maxBackoff {
		return maxBackoff
	}
	return next
}

func sleepWithContext(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
