// Command normerr pivots a finished AEP output table into a wide per-site
// comparison of gage and modeled flood quantiles with normalized error
// percentages. Normalized errors above 60 percent mark reaches where
// modeled inundation mapping should be used with caution.
//
// Usage:
//
//	go run ./cmd/normerr \
//	  -stats out/20240612_nwrfc_nwm_usgs_stats.csv \
//	  -area nwrfc -out-dir out
package main

import (
	"encoding/csv"
	"flag"
	"fmt"
	"log"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/cascadiahydro/flood-aep-etl/internal/domain"
)

const (
	cautionPct   = 60.0
	outputSuffix = "_stats_normErr.csv"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	statsPath := flag.String("stats", "", "path to an output stats CSV")
	area := flag.String("area", "", "area label used in the output filename")
	outDir := flag.String("out-dir", "out", "directory for the comparison CSV")
	aepsFlag := flag.String("aeps", "2,4,10,20,50", "comma-separated AEP subset to compare")
	flag.Parse()

	if *statsPath == "" || *area == "" {
		flag.Usage()
		return fmt.Errorf("missing required flags: -stats, -area")
	}

	aeps := strings.Split(*aepsFlag, ",")
	for i := range aeps {
		aeps[i] = strings.TrimSpace(aeps[i])
	}

	sites, err := loadFlows(*statsPath)
	if err != nil {
		return fmt.Errorf("load stats CSV: %w", err)
	}
	if len(sites) == 0 {
		return fmt.Errorf("no data rows in %s", *statsPath)
	}

	if err := os.MkdirAll(*outDir, 0o755); err != nil {
		return err
	}
	outPath := filepath.Join(*outDir, domain.RunDatePrefix()+*area+outputSuffix)
	if err := writeWide(outPath, sites, aeps); err != nil {
		return fmt.Errorf("write comparison CSV: %w", err)
	}

	cautioned := reportCautions(sites, aeps)
	log.Printf("wrote %s (%d sites, %d values above %.0f%% error)", outPath, len(sites), cautioned, cautionPct)
	return nil
}

// flowPair holds both quantile estimates for one (site, AEP) cell.
type flowPair struct {
	nwm  float64
	usgs *float64
}

// siteFlows is one site's cells keyed by AEP, in first-appearance order.
type siteFlows struct {
	siteID string
	byAEP  map[string]flowPair
}

func loadFlows(path string) ([]siteFlows, error) {
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

	cols := map[string]int{}
	for i, h := range all[0] {
		cols[strings.TrimSpace(h)] = i
	}
	for _, want := range []string{"site_id", "aep_percent", "nwmFlow_cfs", "usgsFlow_cfs"} {
		if _, ok := cols[want]; !ok {
			return nil, fmt.Errorf("missing column %q", want)
		}
	}

	var sites []siteFlows
	idx := map[string]int{}
	for i, rec := range all[1:] {
		siteID := rec[cols["site_id"]]
		aep := rec[cols["aep_percent"]]

		nwm, err := strconv.ParseFloat(rec[cols["nwmFlow_cfs"]], 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: parse nwmFlow_cfs %q: %w", i+2, rec[cols["nwmFlow_cfs"]], err)
		}
		pair := flowPair{nwm: nwm}
		if raw := rec[cols["usgsFlow_cfs"]]; raw != "" {
			v, err := strconv.ParseFloat(raw, 64)
			if err != nil {
				return nil, fmt.Errorf("line %d: parse usgsFlow_cfs %q: %w", i+2, raw, err)
			}
			pair.usgs = &v
		}

		j, ok := idx[siteID]
		if !ok {
			j = len(sites)
			idx[siteID] = j
			sites = append(sites, siteFlows{siteID: siteID, byAEP: map[string]flowPair{}})
		}
		sites[j].byAEP[aep] = pair
	}
	return sites, nil
}

// writeWide emits one row per site: the gage block, the modeled block, then
// the normalized-error block, each with one column per AEP.
func writeWide(path string, sites []siteFlows, aeps []string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	header := []string{"site_id"}
	for _, suffix := range []string{"_usgs", "_nwm", "_normErr"} {
		for _, aep := range aeps {
			header = append(header, zfill2(aep)+suffix)
		}
	}

	w := csv.NewWriter(f)
	if err := w.Write(header); err != nil {
		return err
	}
	for _, s := range sites {
		row := make([]string, 0, len(header))
		row = append(row, s.siteID)
		for _, aep := range aeps {
			p, ok := s.byAEP[aep]
			if ok && p.usgs != nil {
				row = append(row, strconv.FormatFloat(*p.usgs, 'f', -1, 64))
			} else {
				row = append(row, "")
			}
		}
		for _, aep := range aeps {
			p, ok := s.byAEP[aep]
			if ok {
				row = append(row, strconv.FormatFloat(p.nwm, 'f', -1, 64))
			} else {
				row = append(row, "")
			}
		}
		for _, aep := range aeps {
			row = append(row, normErr(s.byAEP[aep]))
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

// normErr formats round((nwm-usgs)/usgs*100, 1), empty when the gage flow
// is absent or zero.
func normErr(p flowPair) string {
	if p.usgs == nil || *p.usgs == 0 {
		return ""
	}
	pct := (p.nwm - *p.usgs) / *p.usgs * 100
	return strconv.FormatFloat(math.Round(pct*10)/10, 'f', 1, 64)
}

func reportCautions(sites []siteFlows, aeps []string) int {
	var n int
	for _, s := range sites {
		for _, aep := range aeps {
			p, ok := s.byAEP[aep]
			if !ok || p.usgs == nil || *p.usgs == 0 {
				continue
			}
			pct := (p.nwm - *p.usgs) / *p.usgs * 100
			if math.Abs(pct) > cautionPct {
				log.Printf("caution: %s %s%% AEP normalized error %.1f%%", s.siteID, aep, pct)
				n++
			}
		}
	}
	return n
}

func zfill2(aep string) string {
	if len(aep) < 2 {
		return "0" + aep
	}
	return aep
}
