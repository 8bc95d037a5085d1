package csvtable

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/cascadiahydro/flood-aep-etl/internal/domain"
)

// Site list column names. The list is produced upstream and may carry
// extra columns; these three are the ones the batch needs.
const (
	colSiteID  = "site_id"
	colSegment = "nwm_seg"
	colGage    = "usgs_gage"
)

// LoadSiteList reads the site list CSV. Rows without a usable gage
// reference (empty or zero) are dropped; row order is preserved because
// the resume ledger indexes into it.
func LoadSiteList(path string) ([]domain.SiteRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open site list: %w", err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read site list: %w", err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("site list %s is empty", path)
	}

	colIdx := map[string]int{}
	for i, h := range rows[0] {
		colIdx[strings.TrimSpace(h)] = i
	}
	for _, col := range []string{colSiteID, colSegment, colGage} {
		if _, ok := colIdx[col]; !ok {
			return nil, fmt.Errorf("site list %s is missing column %q", path, col)
		}
	}

	var sites []domain.SiteRecord
	for i, row := range rows[1:] {
		gage := strings.TrimSpace(row[colIdx[colGage]])
		if gage == "" || gage == "0" {
			continue
		}

		seg, err := strconv.ParseInt(strings.TrimSpace(row[colIdx[colSegment]]), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("site list row %d: parse %s %q: %w", i+2, colSegment, row[colIdx[colSegment]], err)
		}

		sites = append(sites, domain.SiteRecord{
			SiteID:    strings.TrimSpace(row[colIdx[colSiteID]]),
			SegmentID: seg,
			GageCode:  gage,
		})
	}
	return sites, nil
}
