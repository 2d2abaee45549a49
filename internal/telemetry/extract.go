package telemetry

import (
	"fmt"
	"math"
	"sort"
)

// DriverSeries is one driver's laps flattened into time-sorted parallel
// arrays. Dist is cumulative race distance in metres counted from the first
// telemetry sample; it is shifted to zero at the race-start index later
// (see NormalizeRaceStart). Lap/sector scalars are broadcast across every
// sample of their lap, NaN where the lap never produced them.
type DriverSeries struct {
	Code string

	T        []float64
	X        []float64
	Y        []float64
	Dist     []float64
	RelDist  []float64
	Lap      []float64
	Tyre     []float64
	Speed    []float64
	Gear     []float64
	DRS      []float64
	Throttle []float64
	Brake    []float64
	RPM      []float64

	LapTime []float64
	Sector1 []float64
	Sector2 []float64
	Sector3 []float64

	TMin   float64
	TMax   float64
	MaxLap int

	// LapPositions maps lap number to the driver's classified position at
	// the end of that lap. Feeds the leaderboard's lap anchor.
	LapPositions map[int]int
}

// Len returns the number of samples in the series.
func (d *DriverSeries) Len() int { return len(d.T) }

// firstLapDistanceWarn is the per-lap starting distance above which the
// first lap is considered suspicious (telemetry should begin near 0 m).
const firstLapDistanceWarn = 100.0

// ExtractDriver flattens one driver's laps into a DriverSeries.
//
// Laps are concatenated in start-time order after asserting that time is
// non-decreasing within each lap (duplicates are permitted at lap
// boundaries). Cumulative race distance accumulates last-minus-first
// per-lap distance increments. Returns ErrNoLaps when no lap carries
// samples, ErrCorruptTelemetry when any time sequence decreases.
func ExtractDriver(code string, laps []Lap) (*DriverSeries, error) {
	type lapArrays struct {
		start float64
		lap   Lap
		dist  []float64 // cumulative race distance for this lap's samples
	}

	var (
		kept         []lapArrays
		totalDist    float64
		maxLap       int
		lapPositions = make(map[int]int)
	)

	for i, lap := range laps {
		if lap.Number > maxLap {
			maxLap = lap.Number
		}
		if lap.Position > 0 {
			lapPositions[lap.Number] = lap.Position
		}
		n := lap.Samples.Len()
		if n == 0 {
			continue
		}
		if !monotonic(lap.Samples.Time) {
			return nil, fmt.Errorf("driver %s lap %d: %w", code, lap.Number, ErrCorruptTelemetry)
		}

		first, last, ok := firstLastValid(lap.Samples.Distance)
		if i == 0 && ok && first > firstLapDistanceWarn {
			opsf("driver %s first lap telemetry starts at %.1fm (expected ~0m)", code, first)
		}

		dist := make([]float64, n)
		for j, d := range lap.Samples.Distance {
			dist[j] = totalDist + d
		}
		if ok && last > first {
			totalDist += last - first
		}

		kept = append(kept, lapArrays{start: lap.Samples.Time[0], lap: lap, dist: dist})
	}

	if len(kept) == 0 {
		return nil, fmt.Errorf("driver %s: %w", code, ErrNoLaps)
	}

	sort.SliceStable(kept, func(i, j int) bool { return kept[i].start < kept[j].start })

	total := 0
	for _, k := range kept {
		total += k.lap.Samples.Len()
	}

	out := &DriverSeries{
		Code:         code,
		T:            make([]float64, 0, total),
		X:            make([]float64, 0, total),
		Y:            make([]float64, 0, total),
		Dist:         make([]float64, 0, total),
		RelDist:      make([]float64, 0, total),
		Lap:          make([]float64, 0, total),
		Tyre:         make([]float64, 0, total),
		Speed:        make([]float64, 0, total),
		Gear:         make([]float64, 0, total),
		DRS:          make([]float64, 0, total),
		Throttle:     make([]float64, 0, total),
		Brake:        make([]float64, 0, total),
		RPM:          make([]float64, 0, total),
		LapTime:      make([]float64, 0, total),
		Sector1:      make([]float64, 0, total),
		Sector2:      make([]float64, 0, total),
		Sector3:      make([]float64, 0, total),
		MaxLap:       maxLap,
		LapPositions: lapPositions,
	}

	for _, k := range kept {
		s := k.lap.Samples
		n := s.Len()
		out.T = append(out.T, s.Time...)
		out.X = append(out.X, s.X...)
		out.Y = append(out.Y, s.Y...)
		out.Dist = append(out.Dist, k.dist...)
		out.RelDist = append(out.RelDist, s.RelDistance...)
		out.Speed = append(out.Speed, s.Speed...)
		out.Gear = append(out.Gear, s.Gear...)
		out.DRS = append(out.DRS, s.DRS...)
		out.Throttle = append(out.Throttle, s.Throttle...)
		out.Brake = append(out.Brake, s.Brake...)
		out.RPM = append(out.RPM, s.RPM...)
		for j := 0; j < n; j++ {
			out.Lap = append(out.Lap, float64(k.lap.Number))
			out.Tyre = append(out.Tyre, float64(k.lap.Compound))
			out.LapTime = append(out.LapTime, k.lap.LapTime)
			out.Sector1 = append(out.Sector1, k.lap.Sector1)
			out.Sector2 = append(out.Sector2, k.lap.Sector2)
			out.Sector3 = append(out.Sector3, k.lap.Sector3)
		}
	}

	if !monotonic(out.T) {
		return nil, fmt.Errorf("driver %s concatenated series: %w", code, ErrCorruptTelemetry)
	}

	out.TMin = out.T[0]
	out.TMax = out.T[len(out.T)-1]
	tracef("driver %s: %d samples over %d laps, %.0fm total", code, out.Len(), len(kept), totalDist)
	return out, nil
}

// monotonic reports whether xs is non-decreasing. NaN entries fail.
func monotonic(xs []float64) bool {
	for i := 1; i < len(xs); i++ {
		if !(xs[i] >= xs[i-1]) {
			return false
		}
	}
	return true
}

// firstLastValid returns the first and last non-NaN values of xs.
func firstLastValid(xs []float64) (first, last float64, ok bool) {
	for _, v := range xs {
		if !math.IsNaN(v) {
			if !ok {
				first = v
				ok = true
			}
			last = v
		}
	}
	return first, last, ok
}
