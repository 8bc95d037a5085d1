package domain

import "time"

// SiteRecord identifies one monitoring location in the site list.
type SiteRecord struct {
	SiteID    string // AHPS location identifier
	SegmentID int64  // NWM feature id used to slice the retrospective series
	GageCode  string // USGS gage code, zero-padded to 8 digits when numeric
}

// StatDescriptor is the nested regression-type descriptor on a raw
// statistic. Code carries the machine-readable AEP encoding; Name is the
// human-readable statistic name used for disambiguation.
type StatDescriptor struct {
	Code        string `json:"code"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// StatRecord is one candidate flood-frequency statistic for a gage as
// returned by the gage-statistics service. YearsOfRecord is present only
// for empirically derived statistics; CitationID may be absent.
type StatRecord struct {
	ID             int64          `json:"id"`
	StationID      string         `json:"stationID"`
	Value          float64        `json:"value"`
	IsPreferred    bool           `json:"isPreferred"`
	YearsOfRecord  *float64       `json:"yearsofRecord"`
	CitationID     *int64         `json:"citationID"`
	RegressionType StatDescriptor `json:"regressionType"`
}

// SelectedStat is one disambiguated source-A statistic, at most one per AEP key.
type SelectedStat struct {
	AEP           string
	FlowCFS       float64
	YearsOfRecord *float64
	CitationID    *int64
}

// FlowSample is one observation from the retrospective streamflow series.
type FlowSample struct {
	Time time.Time
	Flow float64 // m³/s
}

// Quantile is one fitted flow estimate keyed by AEP percent.
type Quantile struct {
	AEP     string
	FlowCFS float64
}

// MergedRow is the reconciled per-(site, AEP) output: the modeled estimate
// always present, the gage-statistics fields only when a matching preferred
// statistic existed. Rows are append-only once written.
type MergedRow struct {
	SiteID        string   `json:"site_id"`
	AEP           string   `json:"aep_percent"`
	NWMFlowCFS    float64  `json:"nwmFlow_cfs"`
	USGSFlowCFS   *float64 `json:"usgsFlow_cfs,omitempty"`
	YearsOfRecord *float64 `json:"yearsofRecord,omitempty"`
	CitationID    *int64   `json:"citationID,omitempty"`
}
