package telemetry

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/interp"
)

// ResampledDriver holds one driver's channels aligned to the common
// Timeline. Continuous channels are NaN outside the driver's own span;
// discrete channels are step-sampled and clamped to the nearest recorded
// value. RaceProgress is populated by NormalizeRaceStart.
type ResampledDriver struct {
	Code string

	X        []float64
	Y        []float64
	Dist     []float64
	RelDist  []float64
	Speed    []float64
	Throttle []float64
	Brake    []float64
	RPM      []float64

	Lap  []float64
	Tyre []float64
	Gear []float64
	DRS  []float64

	LapTime []float64
	Sector1 []float64
	Sector2 []float64
	Sector3 []float64

	RaceProgress []float64

	MaxLap       int
	LapPositions map[int]int
}

// Resample interpolates every channel of a DriverSeries onto the timeline.
// Channel policy: piecewise-linear for continuous channels, step sampling
// (nearest earlier sample, rounded) for gear/tyre/DRS/lap, NaN-propagating
// linear for the broadcast lap and sector scalars.
func Resample(s *DriverSeries, tl *Timeline) *ResampledDriver {
	// Shift sample times onto the relative grid and deduplicate: lap
	// boundaries legitimately repeat an instant and the interpolant needs
	// strictly increasing abscissae.
	t := make([]float64, s.Len())
	for i, v := range s.T {
		t[i] = v - tl.TMin
	}
	keep := dedupeIndices(t)
	ts := pick(t, keep)

	lin := func(ys []float64) []float64 {
		return resampleLinear(tl.Rel, ts, pick(ys, keep))
	}
	step := func(ys []float64) []float64 {
		return resampleStep(tl.Rel, ts, pick(ys, keep))
	}

	return &ResampledDriver{
		Code:         s.Code,
		X:            lin(s.X),
		Y:            lin(s.Y),
		Dist:         lin(s.Dist),
		RelDist:      lin(s.RelDist),
		Speed:        lin(s.Speed),
		Throttle:     lin(s.Throttle),
		Brake:        lin(s.Brake),
		RPM:          lin(s.RPM),
		Lap:          step(s.Lap),
		Tyre:         step(s.Tyre),
		Gear:         step(s.Gear),
		DRS:          step(s.DRS),
		LapTime:      lin(s.LapTime),
		Sector1:      lin(s.Sector1),
		Sector2:      lin(s.Sector2),
		Sector3:      lin(s.Sector3),
		MaxLap:       s.MaxLap,
		LapPositions: s.LapPositions,
	}
}

// dedupeIndices returns the indices of the first occurrence of each time
// value, assuming ts is non-decreasing.
func dedupeIndices(ts []float64) []int {
	keep := make([]int, 0, len(ts))
	for i, v := range ts {
		if i > 0 && v == ts[i-1] {
			continue
		}
		keep = append(keep, i)
	}
	return keep
}

func pick(ys []float64, idx []int) []float64 {
	out := make([]float64, len(idx))
	for i, j := range idx {
		out[i] = ys[j]
	}
	return out
}

// resampleLinear evaluates a piecewise-linear interpolant of (ts, ys) on
// grid. Grid instants outside [ts[0], ts[last]] are NaN: values outside a
// driver's own span are not produced. NaN samples poison adjacent segments,
// which propagates missing lap scalars exactly like the source data.
func resampleLinear(grid, ts, ys []float64) []float64 {
	out := make([]float64, len(grid))
	if len(ts) == 0 {
		for i := range out {
			out[i] = math.NaN()
		}
		return out
	}
	if len(ts) == 1 {
		for i, g := range grid {
			if g == ts[0] {
				out[i] = ys[0]
			} else {
				out[i] = math.NaN()
			}
		}
		return out
	}

	var pl interp.PiecewiseLinear
	if err := pl.Fit(ts, ys); err != nil {
		// Strictly-increasing input is guaranteed by dedupeIndices; a fit
		// failure means the series is unusable.
		for i := range out {
			out[i] = math.NaN()
		}
		return out
	}

	lo, hi := ts[0], ts[len(ts)-1]
	for i, g := range grid {
		if g < lo || g > hi {
			out[i] = math.NaN()
			continue
		}
		out[i] = pl.Predict(g)
	}
	return out
}

// resampleStep evaluates (ts, ys) on grid with nearest-earlier sampling,
// clamped to the first sample before the span, and rounds the result.
func resampleStep(grid, ts, ys []float64) []float64 {
	out := make([]float64, len(grid))
	if len(ts) == 0 {
		for i := range out {
			out[i] = math.NaN()
		}
		return out
	}
	for i, g := range grid {
		j := sort.SearchFloat64s(ts, g)
		if j == len(ts) || ts[j] != g {
			j--
		}
		if j < 0 {
			j = 0
		}
		out[i] = math.Round(ys[j])
	}
	return out
}
