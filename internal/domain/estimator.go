package domain

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"time"

	"gonum.org/v1/gonum/mathext"
	"gonum.org/v1/gonum/stat"
)

// quantileUnitFactor converts fitted quantiles from the dataset's native
// m³/s. Kept literally as 100³/2.54³/12² to reproduce the published
// upstream estimates; see the package documentation.
const quantileUnitFactor = 1e6 / (2.54 * 2.54 * 2.54) / 144

// minAnnualPeaks is the smallest series the moment fit accepts. Below this
// the skew, and with it alpha, is meaningless.
const minAnnualPeaks = 3

// EstimationError marks a numeric failure fitting one site's series. The
// site is skipped; the batch continues. It exists so degenerate inputs fail
// loudly instead of propagating NaN into the output table.
type EstimationError struct {
	Reason string
}

func (e *EstimationError) Error() string {
	return "estimation: " + e.Reason
}

// PearsonParams are the method-of-moments Pearson III parameters fitted to
// an annual peak series.
type PearsonParams struct {
	Alpha float64
	Beta  float64
	Tau   float64
}

// WaterYear returns the water-year label for a timestamp. Water years begin
// October 1 and are labeled by the calendar year in which they end.
func WaterYear(t time.Time) int {
	if t.Month() >= time.October {
		return t.Year() + 1
	}
	return t.Year()
}

// AnnualPeaks groups samples by water year and returns the maximum flow of
// each year, ordered by year.
func AnnualPeaks(samples []FlowSample) []float64 {
	byYear := make(map[int]float64)
	for _, s := range samples {
		wy := WaterYear(s.Time)
		if cur, ok := byYear[wy]; !ok || s.Flow > cur {
			byYear[wy] = s.Flow
		}
	}

	years := make([]int, 0, len(byYear))
	for y := range byYear {
		years = append(years, y)
	}
	sort.Ints(years)

	peaks := make([]float64, 0, len(years))
	for _, y := range years {
		peaks = append(peaks, byYear[y])
	}
	return peaks
}

// FitPearsonIII fits the distribution to the raw annual peaks by method of
// moments. Moments are population moments (divide by n, biased skew),
// matching the convention the published estimates were computed with.
func FitPearsonIII(peaks []float64) (PearsonParams, error) {
	if len(peaks) < minAnnualPeaks {
		return PearsonParams{}, &EstimationError{
			Reason: fmt.Sprintf("%d annual peaks, need at least %d", len(peaks), minAnnualPeaks),
		}
	}

	mean := stat.Mean(peaks, nil)
	m2 := stat.Moment(2, peaks, nil)
	m3 := stat.Moment(3, peaks, nil)

	if m2 == 0 {
		return PearsonParams{}, &EstimationError{Reason: "zero variance in annual peaks"}
	}
	skew := m3 / math.Pow(m2, 1.5)
	if skew == 0 {
		return PearsonParams{}, &EstimationError{Reason: "zero skew in annual peaks, alpha undefined"}
	}

	alpha := 4 / (skew * skew)
	beta := math.Copysign(math.Sqrt(m2/alpha), skew)
	tau := mean - alpha*beta

	return PearsonParams{Alpha: alpha, Beta: beta, Tau: tau}, nil
}

// Quantiles solves the fitted distribution for each target AEP percent, in
// target order, converting to ft³/s and rounding to the nearest whole unit.
func Quantiles(params PearsonParams, targets TargetSet) ([]Quantile, error) {
	out := make([]Quantile, 0, len(targets))
	for _, key := range targets {
		percent, err := strconv.ParseFloat(key, 64)
		if err != nil {
			return nil, fmt.Errorf("parse aep percent %q: %w", key, err)
		}
		q := 1 - percent/100
		if q <= 0 || q >= 1 {
			return nil, &EstimationError{
				Reason: fmt.Sprintf("exceedance probability %g for aep %s outside (0, 1)", q, key),
			}
		}
		flow := math.Round((params.Tau + params.Beta*mathext.GammaIncRegInv(params.Alpha, q)) * quantileUnitFactor)
		out = append(out, Quantile{AEP: key, FlowCFS: flow})
	}
	return out, nil
}

// EstimatePeakFlows runs the full source-B chain for one site: annual peaks
// from the window-restricted series, moment fit, quantile per target.
func EstimatePeakFlows(samples []FlowSample, targets TargetSet) ([]Quantile, error) {
	params, err := FitPearsonIII(AnnualPeaks(samples))
	if err != nil {
		return nil, err
	}
	return Quantiles(params, targets)
}
