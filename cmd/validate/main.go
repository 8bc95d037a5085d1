// Command validate checks a finished AEP output table for structural and
// numeric integrity: header shape, per-site AEP coverage and ordering,
// value sanity, frequency monotonicity, and (optionally) agreement with
// the site list that drove the run.
//
// Usage:
//
//	go run ./cmd/validate \
//	  -stats out/20240612_nwrfc_nwm_usgs_stats.csv \
//	  -site-list config/nwrfc_sites.csv
package main

import (
	"encoding/csv"
	"flag"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/cascadiahydro/flood-aep-etl/internal/adapter/csvtable"
	"github.com/cascadiahydro/flood-aep-etl/internal/domain"
)

var expectedHeader = []string{"site_id", "aep_percent", "nwmFlow_cfs", "usgsFlow_cfs", "yearsofRecord", "citationID"}

// phase tracks pass/fail for a validation phase.
type phase struct {
	name   string
	errors []string
}

func (p *phase) errorf(format string, args ...any) {
	p.errors = append(p.errors, fmt.Sprintf(format, args...))
}

func (p *phase) passed() bool { return len(p.errors) == 0 }

func main() {
	stats := flag.String("stats", "", "path to an output stats CSV")
	siteList := flag.String("site-list", "", "optional site list CSV to cross-reference")
	targetsFlag := flag.String("targets", "0.2,1,2,4,10,20,50", "comma-separated AEP targets the run used")
	flag.Parse()

	if *stats == "" {
		flag.Usage()
		os.Exit(1)
	}

	targets := strings.Split(*targetsFlag, ",")
	for i := range targets {
		targets[i] = strings.TrimSpace(targets[i])
	}

	if code := run(*stats, *siteList, targets); code != 0 {
		os.Exit(code)
	}
}

func run(statsPath, siteListPath string, targets []string) int {
	fmt.Println("=== AEP Output Table Validation ===")
	fmt.Println()

	rows, err := loadStats(statsPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: load stats CSV: %v\n", err)
		return 1
	}

	var sites []domain.SiteRecord
	if siteListPath != "" {
		sites, err = csvtable.LoadSiteList(siteListPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "FATAL: load site list: %v\n", err)
			return 1
		}
	}

	// ── Run validation phases ──
	phases := []*phase{
		validateShape(rows),
		validateCoverage(rows, targets),
		validateValues(rows),
		validateMonotonicity(rows),
	}
	if siteListPath != "" {
		phases = append(phases, validateSiteCrossRef(rows, sites))
	}

	// ── Report results ──
	fmt.Println()
	allPassed := true
	for _, p := range phases {
		status := "\033[32mPASS\033[0m"
		if !p.passed() {
			status = fmt.Sprintf("\033[31mFAIL (%d errors)\033[0m", len(p.errors))
			allPassed = false
		}
		fmt.Printf("  %-46s %s\n", p.name, status)
	}

	fmt.Println()
	fmt.Printf("Rows: %d data rows across %d sites\n", len(rows), len(groupBySite(rows)))

	// Print detailed errors.
	for _, p := range phases {
		if p.passed() {
			continue
		}
		fmt.Printf("\n--- %s ---\n", p.name)
		for i, e := range p.errors {
			fmt.Printf("  [%d] %s\n", i+1, e)
		}
	}

	if allPassed {
		fmt.Println("\nAll validations passed.")
		return 0
	}
	fmt.Println("\nValidation FAILED.")
	return 1
}

// ── Data loading ──

// statsRow is one parsed output row with its line number for reporting.
type statsRow struct {
	lineNum  int
	siteID   string
	aep      string
	nwmFlow  string
	usgsFlow string
	years    string
	citation string
}

func loadStats(path string) ([]statsRow, error) {
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

	header := all[0]
	if len(header) != len(expectedHeader) {
		return nil, fmt.Errorf("header has %d columns, want %d", len(header), len(expectedHeader))
	}
	for i, want := range expectedHeader {
		if strings.TrimSpace(header[i]) != want {
			return nil, fmt.Errorf("header column %d is %q, want %q", i+1, header[i], want)
		}
	}

	rows := make([]statsRow, 0, len(all)-1)
	for i, rec := range all[1:] {
		rows = append(rows, statsRow{
			lineNum:  i + 2,
			siteID:   rec[0],
			aep:      rec[1],
			nwmFlow:  rec[2],
			usgsFlow: rec[3],
			years:    rec[4],
			citation: rec[5],
		})
	}
	return rows, nil
}

// siteBlock is one contiguous run of rows sharing a site id.
type siteBlock struct {
	siteID string
	rows   []statsRow
}

func groupBySite(rows []statsRow) []siteBlock {
	var blocks []siteBlock
	for _, r := range rows {
		if len(blocks) == 0 || blocks[len(blocks)-1].siteID != r.siteID {
			blocks = append(blocks, siteBlock{siteID: r.siteID})
		}
		b := &blocks[len(blocks)-1]
		b.rows = append(b.rows, r)
	}
	return blocks
}

// ── Phase 1: Row Shape ──
// Every row names a site; the column count is enforced by the CSV reader.

func validateShape(rows []statsRow) *phase {
	p := &phase{name: "Phase 1: Row Shape"}
	for _, r := range rows {
		if strings.TrimSpace(r.siteID) == "" {
			p.errorf("line %d: empty site_id", r.lineNum)
		}
		if strings.TrimSpace(r.aep) == "" {
			p.errorf("line %d: empty aep_percent", r.lineNum)
		}
	}
	return p
}

// ── Phase 2: AEP Coverage ──
// Each site appears as one contiguous block with exactly one row per
// target, in target order.

func validateCoverage(rows []statsRow, targets []string) *phase {
	p := &phase{name: "Phase 2: AEP Coverage (per-site keys)"}

	known := make(map[string]bool, len(targets))
	for _, t := range targets {
		known[t] = true
	}
	for _, r := range rows {
		if !known[r.aep] {
			p.errorf("line %d: aep_percent %q is not a run target", r.lineNum, r.aep)
		}
	}

	seen := map[string]bool{}
	for _, b := range groupBySite(rows) {
		if seen[b.siteID] {
			p.errorf("line %d: site %s reappears after its block closed", b.rows[0].lineNum, b.siteID)
			continue
		}
		seen[b.siteID] = true

		if len(b.rows) != len(targets) {
			p.errorf("site %s: %d rows, want %d", b.siteID, len(b.rows), len(targets))
			continue
		}
		for i, r := range b.rows {
			if r.aep != targets[i] {
				p.errorf("site %s line %d: aep_percent %q out of order, want %q", b.siteID, r.lineNum, r.aep, targets[i])
			}
		}
	}
	return p
}

// ── Phase 3: Value Sanity ──
// Modeled flow is always a positive finite number; the gage columns parse
// when present and never appear without a gage flow.

func validateValues(rows []statsRow) *phase {
	p := &phase{name: "Phase 3: Value Sanity (numeric columns)"}
	for _, r := range rows {
		nwm, err := strconv.ParseFloat(r.nwmFlow, 64)
		if err != nil {
			p.errorf("line %d: nwmFlow_cfs %q is not numeric", r.lineNum, r.nwmFlow)
		} else if nwm <= 0 || math.IsNaN(nwm) || math.IsInf(nwm, 0) {
			p.errorf("line %d: nwmFlow_cfs %v is not a positive finite flow", r.lineNum, nwm)
		}

		if r.usgsFlow == "" {
			if r.years != "" || r.citation != "" {
				p.errorf("line %d: gage columns present without usgsFlow_cfs", r.lineNum)
			}
			continue
		}
		usgs, err := strconv.ParseFloat(r.usgsFlow, 64)
		if err != nil {
			p.errorf("line %d: usgsFlow_cfs %q is not numeric", r.lineNum, r.usgsFlow)
		} else if usgs < 0 {
			p.errorf("line %d: usgsFlow_cfs %v is negative", r.lineNum, usgs)
		}
		if r.years != "" {
			if y, err := strconv.ParseFloat(r.years, 64); err != nil || y < 0 {
				p.errorf("line %d: yearsofRecord %q is not a non-negative number", r.lineNum, r.years)
			}
		}
		if r.citation != "" {
			if _, err := strconv.ParseInt(r.citation, 10, 64); err != nil {
				p.errorf("line %d: citationID %q is not an integer", r.lineNum, r.citation)
			}
		}
	}
	return p
}

// ── Phase 4: Frequency Monotonicity ──
// Within a site the modeled flow must not rise as AEP increases; the
// fitted quantile function guarantees it.

func validateMonotonicity(rows []statsRow) *phase {
	p := &phase{name: "Phase 4: Frequency Monotonicity (modeled flow)"}
	for _, b := range groupBySite(rows) {
		prev := math.Inf(1)
		for _, r := range b.rows {
			v, err := strconv.ParseFloat(r.nwmFlow, 64)
			if err != nil {
				continue // reported by the value phase
			}
			if v > prev {
				p.errorf("site %s line %d: nwmFlow_cfs rises from %g to %g as AEP increases", b.siteID, r.lineNum, prev, v)
			}
			prev = v
		}
	}
	return p
}

// ── Phase 5: Site List Cross-Reference ──
// Output sites must come from the eligible site list. Eligible sites may
// legitimately be absent (skipped during the run); those are only noted.

func validateSiteCrossRef(rows []statsRow, sites []domain.SiteRecord) *phase {
	p := &phase{name: "Phase 5: Site List Cross-Reference"}

	eligible := make(map[string]bool, len(sites))
	for _, s := range sites {
		eligible[s.SiteID] = true
	}

	inOutput := map[string]bool{}
	for _, r := range rows {
		if !inOutput[r.siteID] && !eligible[r.siteID] {
			p.errorf("site %s is in the output but not in the site list", r.siteID)
		}
		inOutput[r.siteID] = true
	}

	var missing int
	for _, s := range sites {
		if !inOutput[s.SiteID] {
			missing++
		}
	}
	if missing > 0 {
		fmt.Printf("  Note: %d eligible site(s) absent from the output (skipped during the run)\n", missing)
	}
	return p
}
