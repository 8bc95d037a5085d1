package csvtable

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/cascadiahydro/flood-aep-etl/internal/domain"
)

// outputSuffix completes the per-area output filename after the run-date
// prefix and area name.
const outputSuffix = "_nwm_usgs_stats.csv"

var outputHeader = []string{"site_id", "aep_percent", "nwmFlow_cfs", "usgsFlow_cfs", "yearsofRecord", "citationID"}

// Table appends merged rows to a run-dated per-area CSV file. A run that
// starts at position zero creates the file fresh with a header on its first
// write; resumed runs append to whatever is on disk, headerless, so partial
// output survives restarts.
type Table struct {
	path          string
	headerPending bool
}

// NewTable builds the output table for one area. withHeader is true only
// when the batch starts from position zero.
func NewTable(dir, area string, withHeader bool) *Table {
	return &Table{
		path:          filepath.Join(dir, domain.RunDatePrefix()+area+outputSuffix),
		headerPending: withHeader,
	}
}

// Path returns the output file path.
func (t *Table) Path() string {
	return t.path
}

// Append writes one site's merged rows. The file is opened and closed per
// call so rows already written survive a crash mid-batch.
func (t *Table) Append(rows []domain.MergedRow) error {
	if err := os.MkdirAll(filepath.Dir(t.path), 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}

	flags := os.O_CREATE | os.O_WRONLY | os.O_APPEND
	if t.headerPending {
		flags = os.O_CREATE | os.O_WRONLY | os.O_TRUNC
	}
	f, err := os.OpenFile(t.path, flags, 0o644)
	if err != nil {
		return fmt.Errorf("open output table: %w", err)
	}

	w := csv.NewWriter(f)
	if t.headerPending {
		if err := w.Write(outputHeader); err != nil {
			f.Close()
			return fmt.Errorf("write output header: %w", err)
		}
		t.headerPending = false
	}
	for _, row := range rows {
		if err := w.Write(formatRow(row)); err != nil {
			f.Close()
			return fmt.Errorf("write output row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		f.Close()
		return fmt.Errorf("flush output table: %w", err)
	}
	return f.Close()
}

// formatRow renders one merged row; absent source-A fields become empty
// cells.
func formatRow(row domain.MergedRow) []string {
	out := []string{
		row.SiteID,
		row.AEP,
		strconv.FormatFloat(row.NWMFlowCFS, 'f', -1, 64),
		"", "", "",
	}
	if row.USGSFlowCFS != nil {
		out[3] = strconv.FormatFloat(*row.USGSFlowCFS, 'f', -1, 64)
	}
	if row.YearsOfRecord != nil {
		out[4] = strconv.FormatFloat(*row.YearsOfRecord, 'f', -1, 64)
	}
	if row.CitationID != nil {
		out[5] = strconv.FormatInt(*row.CitationID, 10)
	}
	return out
}
