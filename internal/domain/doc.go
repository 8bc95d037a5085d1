// Package domain implements annual-exceedance-probability (AEP) flood
// frequency estimation for hydrologic monitoring sites.
//
// # Data Sources
//
// Each site is estimated from two independent sources. Source A is the USGS
// gage-statistics service, which returns precomputed peak-flow statistics
// for a gage: several candidate values per AEP, computed by different
// methods (station/empirical, weighted, regression). Source B is the NWM
// retrospective dataset: a multi-decade modeled streamflow series addressed
// by feature (segment) id, from which annual peaks are extracted and a
// Pearson Type III distribution is fitted by method of moments.
//
// # AEP Statistic Codes
//
// Source-A statistics carry a regression-type code that encodes the AEP
// percentage:
//
//	"WPK0_2AEP" → "0.2"   (weighted, 0.2 percent)
//	"PK50AEP"   → "50"    (station/empirical, 50 percent)
//
// The key is derived by trimming the trailing "AEP" marker, taking the text
// after the "PK" peak-flow marker, and replacing "_" with ".". Keys are kept
// as exact decimal strings end to end; matching against the target set is
// string equality, never float comparison.
//
// # Water Years
//
// Annual peaks are grouped by water year: a 12-month period beginning
// October 1 and labeled by the calendar year in which it ends. A sample
// dated 1979-10-15 belongs to water year 1980.
//
// # Frequency Fit
//
// The Pearson III parameters (alpha, beta, tau) come from the mean,
// population standard deviation, and biased skew of the annual peak series:
//
//	alpha = 4 / skew²
//	beta  = sign(skew) × sqrt(variance / alpha)
//	tau   = mean − alpha × beta
//
// and the flow quantile for AEP percent p solves the inverse regularized
// lower incomplete gamma at q = 1 − p/100.
//
// Two deliberate divergences from textbook practice are preserved to
// reproduce the published upstream estimates and must not be corrected
// without a coordinated recompute of historical output:
//
//  1. The fit operates on the raw annual peak flows, not their logarithms,
//     even though Bulletin 17C applies the method to log-transformed peaks.
//  2. Quantiles convert from the dataset's native m³/s using the literal
//     factor 100³/2.54³/12², which is twelve times the exact m³/s→ft³/s
//     ratio.
//
// # Disambiguation
//
// When a gage offers more preferred statistics than there are target AEPs,
// selection tries an ordered list of descriptor-name tokens (operationally
// "Weighted", then "Maximum" for the empirical estimate). If no token
// matches, the site gets no source-A values at all and the output carries
// only the modeled estimates.
package domain
