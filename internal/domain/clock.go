package domain

import "github.com/jonboulle/clockwork"

// clock is a package-level time source so tests can freeze time via SetClock.
// Production code uses the real clock; tests inject a fake for deterministic output.
var clock = clockwork.NewRealClock()

// SetClock swaps the time source for run-date naming. Pass nil to reset to real time.
func SetClock(c clockwork.Clock) {
	if c == nil {
		clock = clockwork.NewRealClock()
		return
	}
	clock = c
}

// RunDatePrefix returns the "yyyymmdd_" prefix applied to per-area output
// file names, derived from the injected clock.
func RunDatePrefix() string {
	return clock.Now().Format("20060102") + "_"
}
