// Command segcall builds the database call fragment for an area: the NWM
// segment ids of the area's eligible sites as a quoted IN-clause list,
// ready to paste into a feature-service query. With -stats the list is
// restricted to sites that actually produced output rows.
//
// Usage:
//
//	go run ./cmd/segcall \
//	  -site-list config/nwrfc_sites.csv \
//	  -area nwrfc -out-dir out/db_calls
package main

import (
	"encoding/csv"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/cascadiahydro/flood-aep-etl/internal/adapter/csvtable"
	"github.com/cascadiahydro/flood-aep-etl/internal/domain"
)

const outputSuffix = "_nwm_aep_stats.txt"

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	siteList := flag.String("site-list", "", "path to the area's site list CSV")
	statsPath := flag.String("stats", "", "optional output stats CSV; keeps only sites present in it")
	area := flag.String("area", "", "area label used in the output filename")
	outDir := flag.String("out-dir", "out", "directory for the call file")
	flag.Parse()

	if *siteList == "" || *area == "" {
		flag.Usage()
		return fmt.Errorf("missing required flags: -site-list, -area")
	}

	sites, err := csvtable.LoadSiteList(*siteList)
	if err != nil {
		return fmt.Errorf("load site list: %w", err)
	}

	if *statsPath != "" {
		keep, err := statsSiteIDs(*statsPath)
		if err != nil {
			return fmt.Errorf("load stats CSV: %w", err)
		}
		sites = filterSites(sites, keep)
	}
	if len(sites) == 0 {
		return fmt.Errorf("no sites to emit")
	}

	quoted := make([]string, len(sites))
	for i, s := range sites {
		quoted[i] = "'" + strconv.FormatInt(s.SegmentID, 10) + "'"
	}
	call := "(" + strings.Join(quoted, ",") + ")"

	if err := os.MkdirAll(*outDir, 0o755); err != nil {
		return err
	}
	outPath := filepath.Join(*outDir, domain.RunDatePrefix()+*area+outputSuffix)
	if err := os.WriteFile(outPath, []byte(call), 0o600); err != nil {
		return err
	}
	log.Printf("wrote %s (%d segments)", outPath, len(sites))
	return nil
}

// statsSiteIDs collects the distinct site ids appearing in an output table.
func statsSiteIDs(path string) (map[string]bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	all, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return nil, err
	}
	if len(all) == 0 {
		return nil, fmt.Errorf("empty file %s", path)
	}

	col := -1
	for i, h := range all[0] {
		if strings.TrimSpace(h) == "site_id" {
			col = i
			break
		}
	}
	if col < 0 {
		return nil, fmt.Errorf("missing column %q", "site_id")
	}

	ids := make(map[string]bool)
	for _, rec := range all[1:] {
		if col < len(rec) {
			ids[rec[col]] = true
		}
	}
	return ids, nil
}

func filterSites(sites []domain.SiteRecord, keep map[string]bool) []domain.SiteRecord {
	out := make([]domain.SiteRecord, 0, len(sites))
	for _, s := range sites {
		if keep[s.SiteID] {
			out = append(out, s)
		}
	}
	return out
}
