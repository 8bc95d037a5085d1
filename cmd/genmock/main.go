// Command genmock generates a synthetic site list and a seeded
// retrospective streamflow database so a full batch run can be exercised
// locally without the production inputs. It runs the actual estimator over
// the generated series so the printed figures match batch output.
//
// Usage:
//
//	go run ./cmd/genmock \
//	  -site-list testdata/mock/nwrfc_sites.csv \
//	  -retro-db testdata/mock/retro.duckdb \
//	  -sites 5 -seed 1
package main

import (
	"context"
	"database/sql"
	"encoding/csv"
	"flag"
	"fmt"
	"log"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"strconv"
	"time"

	_ "github.com/duckdb/duckdb-go/v2"

	"github.com/cascadiahydro/flood-aep-etl/internal/domain"
)

const retroTable = "chrtout"

var defaultTargets = domain.TargetSet{"0.2", "1", "2", "4", "10", "20", "50"}

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	siteList := flag.String("site-list", "", "output path for the site list CSV")
	retroDB := flag.String("retro-db", "", "output path for the retrospective DuckDB file")
	sites := flag.Int("sites", 5, "number of synthetic sites")
	seed := flag.Int64("seed", 1, "RNG seed")
	startWY := flag.Int("start-wy", 1980, "first water year of generated flow")
	endWY := flag.Int("end-wy", 2022, "last water year of generated flow")
	flag.Parse()

	if *siteList == "" || *retroDB == "" {
		flag.Usage()
		return fmt.Errorf("missing required flags: -site-list, -retro-db")
	}
	if *endWY < *startWY {
		return fmt.Errorf("-end-wy must not precede -start-wy")
	}

	rng := rand.New(rand.NewSource(*seed))
	records := makeSites(*sites)

	if err := writeSiteList(*siteList, records); err != nil {
		return fmt.Errorf("writing site list: %w", err)
	}
	log.Printf("wrote site list: %s (%d sites)", *siteList, len(records))

	series := make(map[int64][]domain.FlowSample, len(records))
	for _, rec := range records {
		series[rec.SegmentID] = makeSeries(rng, *startWY, *endWY)
	}

	if err := writeRetroDB(*retroDB, records, series); err != nil {
		return fmt.Errorf("writing retro db: %w", err)
	}
	log.Printf("wrote retro db: %s", *retroDB)

	printStats(records, series)
	return nil
}

func makeSites(n int) []domain.SiteRecord {
	names := []string{"SLMO3", "MPLO3", "DLLO3", "CRNO3", "ELKO3", "HRBO3", "TWDO3", "GRPW1", "KETW1", "SNQW1"}
	out := make([]domain.SiteRecord, 0, n)
	for i := 0; i < n; i++ {
		id := fmt.Sprintf("X%02dO3", i)
		if i < len(names) {
			id = names[i]
		}
		out = append(out, domain.SiteRecord{
			SiteID:    id,
			SegmentID: int64(23890000 + i*1111),
			GageCode:  fmt.Sprintf("%08d", 14000000+i*97000),
		})
	}
	return out
}

// makeSeries builds monthly flow samples in m³/s for each water year in
// [startWY, endWY], with a spring freshet and lognormal flood years so the
// fitted distribution has realistic spread and skew.
func makeSeries(rng *rand.Rand, startWY, endWY int) []domain.FlowSample {
	var samples []domain.FlowSample
	base := 20 + rng.Float64()*60
	for wy := startWY; wy <= endWY; wy++ {
		flood := math.Exp(rng.NormFloat64() * 0.6)
		for m := 0; m < 12; m++ {
			// Water year wy runs October wy-1 through September wy.
			month := time.Month((int(time.October)+m-1)%12 + 1)
			year := wy
			if month >= time.October {
				year = wy - 1
			}
			seasonal := 1 + 0.5*math.Sin(2*math.Pi*float64(m)/12)
			flow := base * seasonal * (0.8 + 0.4*rng.Float64())
			if month == time.May {
				flow = base * 4 * flood
			}
			samples = append(samples, domain.FlowSample{
				Time: time.Date(year, month, 15, 12, 0, 0, 0, time.UTC),
				Flow: flow,
			})
		}
	}
	return samples
}

func writeSiteList(path string, records []domain.SiteRecord) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write([]string{"site_id", "nwm_seg", "usgs_gage"}); err != nil {
		return err
	}
	for _, rec := range records {
		row := []string{rec.SiteID, strconv.FormatInt(rec.SegmentID, 10), rec.GageCode}
		if err := w.Write(row); err != nil {
			return err
		}
	}
	// One ungaged row, dropped by the loader.
	if err := w.Write([]string{"UNGO3", "23999999", "0"}); err != nil {
		return err
	}
	w.Flush()
	return w.Error()
}

func writeRetroDB(path string, records []domain.SiteRecord, series map[int64][]domain.FlowSample) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}

	db, err := sql.Open("duckdb", path)
	if err != nil {
		return fmt.Errorf("open duckdb: %w", err)
	}
	defer db.Close()

	ctx := context.Background()
	createStmt := fmt.Sprintf("CREATE TABLE %s (feature_id BIGINT, time TIMESTAMP, streamflow DOUBLE)", retroTable)
	if _, err := db.ExecContext(ctx, createStmt); err != nil {
		return fmt.Errorf("create table: %w", err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf("INSERT INTO %s (feature_id, time, streamflow) VALUES (?, ?, ?)", retroTable))
	if err != nil {
		return err
	}
	defer stmt.Close()

	var rows int
	for _, rec := range records {
		for _, s := range series[rec.SegmentID] {
			if _, err := stmt.ExecContext(ctx, rec.SegmentID, s.Time, s.Flow); err != nil {
				return fmt.Errorf("insert sample: %w", err)
			}
			rows++
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	log.Printf("inserted %d flow samples", rows)
	return nil
}

func printStats(records []domain.SiteRecord, series map[int64][]domain.FlowSample) {
	fmt.Println("\n=== Stats for updating test assertions ===")
	for _, rec := range records {
		samples := series[rec.SegmentID]
		peaks := domain.AnnualPeaks(samples)
		quantiles, err := domain.EstimatePeakFlows(samples, defaultTargets)
		if err != nil {
			fmt.Printf("%s: estimation failed: %v\n", rec.SiteID, err)
			continue
		}

		minPeak, maxPeak := peaks[0], peaks[0]
		for _, p := range peaks[1:] {
			minPeak = math.Min(minPeak, p)
			maxPeak = math.Max(maxPeak, p)
		}
		fmt.Printf("%s (segment %d, gage %s): %d peak years, peaks %.1f-%.1f m³/s\n",
			rec.SiteID, rec.SegmentID, rec.GageCode, len(peaks), minPeak, maxPeak)
		for _, q := range quantiles {
			fmt.Printf("  %s%% AEP: %.0f cfs\n", q.AEP, q.FlowCFS)
		}
	}
}
