package gagestats

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cascadiahydro/flood-aep-etl/internal/domain"
	"github.com/cascadiahydro/flood-aep-etl/internal/observability"
)

// stationIDWidth is the field width of USGS station identifiers. Gage codes
// arriving from site lists often lose their leading zeros.
const stationIDWidth = 8

// Client fetches peak-flow-statistic records from the USGS gage-statistics
// service.
type Client struct {
	baseURL    string
	userAgent  string
	httpClient *http.Client
	metrics    *observability.Metrics
	logger     *slog.Logger
}

// NewClient creates a gage-statistics client.
func NewClient(baseURL, userAgent string, timeout time.Duration, metrics *observability.Metrics, logger *slog.Logger) *Client {
	return &Client{
		baseURL:   baseURL,
		userAgent: userAgent,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		metrics: metrics,
		logger:  logger,
	}
}

// PeakFlowStats retrieves all peak-flow statistics the service holds for one
// gage. An empty result with a nil error means the service has no records
// for the gage; callers decide whether that is skippable.
func (c *Client) PeakFlowStats(ctx context.Context, gageCode string) ([]domain.StatRecord, error) {
	params := url.Values{
		"statisticGroups": {"pfs"},
		"stationIDOrCode": {NormalizeGageCode(gageCode)},
	}
	fullURL := c.baseURL + "/statistics?" + params.Encode()

	start := time.Now()
	records, err := c.doRequest(ctx, fullURL)
	c.metrics.FetchDuration.Observe(time.Since(start).Seconds())

	switch {
	case err != nil:
		c.metrics.StatsFetches.WithLabelValues("error").Inc()
		return nil, err
	case len(records) == 0:
		c.metrics.StatsFetches.WithLabelValues("empty").Inc()
	default:
		c.metrics.StatsFetches.WithLabelValues("success").Inc()
	}
	return records, nil
}

func (c *Client) doRequest(ctx context.Context, fullURL string) ([]domain.StatRecord, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("gage statistics request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("gage statistics API error: status %d: %s", resp.StatusCode, body)
	}

	var records []domain.StatRecord
	if err := json.NewDecoder(resp.Body).Decode(&records); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return records, nil
}

// NormalizeGageCode left-pads a gage code with zeros to the station-ID
// width. Codes already at or past the width pass through unchanged.
func NormalizeGageCode(code string) string {
	if len(code) >= stationIDWidth {
		return code
	}
	return strings.Repeat("0", stationIDWidth-len(code)) + code
}
