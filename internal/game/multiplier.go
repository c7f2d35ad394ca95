package game

import "time"

const (
	// DefaultGrowthRate controls how fast the multiplier climbs per second.
	DefaultGrowthRate = 0.05

	// TickInterval is the broadcast cadence for multiplier updates. Ticks are
	// display-only; decisions always recompute from wall-clock elapsed time.
	TickInterval = 100 * time.Millisecond
)

// MultiplierAt computes the multiplier after the given elapsed time.
// multiplier = 1 + elapsedSeconds * growthRate, rounded to 2 decimals.
// Pure and monotonic non-decreasing, so the authoritative value at any instant
// is recomputed here rather than cached from the last broadcast tick.
func MultiplierAt(elapsed time.Duration, growthRate float64) float64 {
	if elapsed < 0 {
		elapsed = 0
	}
	return roundTo2(1 + elapsed.Seconds()*growthRate)
}

// CrashDelay solves the growth formula for the instant the multiplier reaches
// the crash point: elapsedMs = ((crashPoint - 1) / growthRate) * 1000. The
// scheduler arms a one-shot timer for this instant instead of polling.
func CrashDelay(crashPoint, growthRate float64) time.Duration {
	ms := (crashPoint - 1) / growthRate * 1000
	return time.Duration(ms * float64(time.Millisecond))
}
