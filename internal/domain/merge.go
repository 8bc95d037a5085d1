package domain

// MergeSite joins the selector and estimator outputs on AEP key, preserving
// every estimator row. The result has exactly one row per quantile, in the
// estimator's (target-set) order, with the site id leading and the
// source-A fields nil where no matching statistic existed.
func MergeSite(siteID string, stats []SelectedStat, quantiles []Quantile) []MergedRow {
	byKey := make(map[string]SelectedStat, len(stats))
	for _, s := range stats {
		byKey[s.AEP] = s
	}

	rows := make([]MergedRow, 0, len(quantiles))
	for _, q := range quantiles {
		row := MergedRow{
			SiteID:     siteID,
			AEP:        q.AEP,
			NWMFlowCFS: q.FlowCFS,
		}
		if s, ok := byKey[q.AEP]; ok {
			flow := s.FlowCFS
			row.USGSFlowCFS = &flow
			row.YearsOfRecord = s.YearsOfRecord
			row.CitationID = s.CitationID
		}
		rows = append(rows, row)
	}
	return rows
}
