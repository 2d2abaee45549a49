package telemetry

// RetirementThreshold is the stationary duration, in seconds, after which a
// driver is considered out of the race.
const RetirementThreshold = 10.0

// RetirementTracker watches per-driver speed and marks drivers retired once
// they have been stationary for RetirementThreshold seconds. Retirement is
// sticky: a car crawling back to the pits does not rejoin the order.
type RetirementTracker struct {
	zeroFrames map[string]int
	retired    map[string]int // driver -> retirement sequence, 1-based
}

// NewRetirementTracker returns an empty tracker.
func NewRetirementTracker() *RetirementTracker {
	return &RetirementTracker{
		zeroFrames: make(map[string]int),
		retired:    make(map[string]int),
	}
}

// Observe feeds one frame's speed sample for driver. Speed must be exactly
// zero to count as stationary; sampled telemetry keeps small nonzero values
// while a car coasts. The stationary duration is counted in whole frames so
// the threshold does not drift with float accumulation.
func (rt *RetirementTracker) Observe(driver string, speed float64) {
	if _, out := rt.retired[driver]; out {
		return
	}
	if speed == 0 {
		rt.zeroFrames[driver]++
		if float64(rt.zeroFrames[driver])*Dt >= RetirementThreshold {
			rt.retired[driver] = len(rt.retired) + 1
			diagf("driver %s retired after %.1fs stationary", driver, float64(rt.zeroFrames[driver])*Dt)
		}
		return
	}
	rt.zeroFrames[driver] = 0
}

// Retired reports whether driver has been marked out of the race.
func (rt *RetirementTracker) Retired(driver string) bool {
	_, out := rt.retired[driver]
	return out
}

// Order returns the retirement sequence number for driver (1 = first to
// retire), 0 if still active.
func (rt *RetirementTracker) Order(driver string) int {
	return rt.retired[driver]
}
