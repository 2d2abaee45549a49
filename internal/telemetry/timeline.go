package telemetry

import "math"

// Timeline is the uniform 25 Hz sample grid shared by every driver.
// Rel holds grid instants as seconds relative to TMin, so Rel[0] == 0.
type Timeline struct {
	TMin float64
	TMax float64
	Rel  []float64
}

// Len returns the number of grid instants.
func (tl *Timeline) Len() int { return len(tl.Rel) }

// BuildTimeline spans the union of the drivers' series with a grid of
// period Dt. The grid covers [tMin, tMax) so the count is
// floor((tMax-tMin)/Dt), matching the upstream arange convention.
func BuildTimeline(series map[string]*DriverSeries) *Timeline {
	tMin := math.Inf(1)
	tMax := math.Inf(-1)
	for _, s := range series {
		if s.TMin < tMin {
			tMin = s.TMin
		}
		if s.TMax > tMax {
			tMax = s.TMax
		}
	}
	if math.IsInf(tMin, 1) || tMax <= tMin {
		return &Timeline{TMin: 0, TMax: 0}
	}

	// The epsilon keeps an exact multiple of Dt from rounding one grid
	// point short.
	n := int(math.Floor((tMax-tMin)/Dt + 1e-9))
	rel := make([]float64, n)
	for k := range rel {
		rel[k] = float64(k) * Dt
	}
	return &Timeline{TMin: tMin, TMax: tMax, Rel: rel}
}

// NearestIndex returns the grid index whose instant (relative seconds) is
// closest to rel, clamped into [0, Len-1].
func (tl *Timeline) NearestIndex(rel float64) int {
	if tl.Len() == 0 {
		return 0
	}
	k := int(math.Round(rel / Dt))
	if k < 0 {
		return 0
	}
	if k >= tl.Len() {
		return tl.Len() - 1
	}
	return k
}
