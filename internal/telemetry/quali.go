package telemetry

import (
	"context"
	"math"
	"runtime"
	"sync"
)

// drsOpenThreshold separates "wing open" codes from closed ones in the DRS
// channel.
const drsOpenThreshold = 10

// QualiSegments are the knockout segments of a qualifying session. Sprint
// qualifying reuses the same three-segment structure.
var QualiSegments = []string{"Q1", "Q2", "Q3"}

// QualiResult is one row of the qualifying classification. Segment times
// are seconds, NaN when the driver set no time in that segment.
type QualiResult struct {
	Code     string  `json:"code"`
	Name     string  `json:"name"`
	Position int     `json:"position"`
	Q1       float64 `json:"q1"`
	Q2       float64 `json:"q2"`
	Q3       float64 `json:"q3"`
}

// QualiSource is what the qualifying extractor needs from the upstream
// data library.
type QualiSource interface {
	// QualiResults returns the classification with per-segment times.
	QualiResults(ctx context.Context) ([]QualiResult, error)

	// FastestSegmentLap returns one driver's fastest lap in a segment.
	// An error means the driver did not run that segment.
	FastestSegmentLap(ctx context.Context, driver, segment string) (Lap, error)

	// TrackStatus returns the raw track-status events in time order.
	TrackStatus(ctx context.Context) ([]TrackStatusRow, error)

	// Weather returns the session weather samples, possibly empty.
	Weather(ctx context.Context) ([]WeatherRow, error)
}

// QualiTelemetry is the per-frame channel block of a qualifying lap.
type QualiTelemetry struct {
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
	Dist     float64 `json:"dist"`
	RelDist  float64 `json:"rel_dist"`
	Speed    float64 `json:"speed"`
	Gear     int     `json:"gear"`
	Throttle float64 `json:"throttle"`
	Brake    float64 `json:"brake"`
	DRS      int     `json:"drs"`
}

// QualiFrame is one 1/25 s sample of a qualifying lap.
type QualiFrame struct {
	T         float64          `json:"t"`
	Telemetry QualiTelemetry   `json:"telemetry"`
	Weather   *WeatherSnapshot `json:"weather,omitempty"`
}

// DRSZone is one stretch of the lap driven with the wing open, bounded by
// lap distance. ZoneEnd is nil when the wing was still open at the line.
type DRSZone struct {
	ZoneStart float64  `json:"zone_start"`
	ZoneEnd   *float64 `json:"zone_end"`
}

// SegmentTelemetry is one driver's fastest lap in one qualifying segment,
// resampled onto its own timeline.
type SegmentTelemetry struct {
	Frames        []*QualiFrame         `json:"frames"`
	TrackStatuses []TrackStatusInterval `json:"track_statuses"`
	DRSZones      []DRSZone             `json:"drs_zones"`
	MaxSpeed      float64               `json:"max_speed"`
	MinSpeed      float64               `json:"min_speed"`
}

// QualiCatalog is the full qualifying product: classification plus, per
// driver and per segment, the fastest-lap telemetry.
type QualiCatalog struct {
	Results   []QualiResult                           `json:"results"`
	Telemetry map[string]map[string]*SegmentTelemetry `json:"telemetry"`
	MaxSpeed  float64                                 `json:"max_speed"`
	MinSpeed  float64                                 `json:"min_speed"`
}

// BuildQuali extracts the fastest-lap telemetry of every classified driver
// in every segment, in parallel across drivers. A segment a driver did not
// run yields an empty SegmentTelemetry.
func BuildQuali(ctx context.Context, src QualiSource, opts BuildOptions) (*QualiCatalog, error) {
	results, err := src.QualiResults(ctx)
	if err != nil {
		return nil, err
	}

	statusRows, err := src.TrackStatus(ctx)
	if err != nil {
		diagf("track status unavailable: %v", err)
	}
	weatherRows, err := src.Weather(ctx)
	if err != nil {
		diagf("weather unavailable: %v", err)
	}

	catalog := &QualiCatalog{
		Results:   results,
		Telemetry: make(map[string]map[string]*SegmentTelemetry, len(results)),
	}

	n := len(results)
	if n == 0 {
		return catalog, nil
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	if workers > n {
		workers = n
	}

	var (
		mu   sync.Mutex
		done int
		wg   sync.WaitGroup
	)
	jobs := make(chan string)

	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func() {
			defer wg.Done()
			for code := range jobs {
				perSegment := make(map[string]*SegmentTelemetry, len(QualiSegments))
				for _, segment := range QualiSegments {
					if ctx.Err() != nil {
						return
					}
					lap, err := src.FastestSegmentLap(ctx, code, segment)
					if err != nil {
						perSegment[segment] = &SegmentTelemetry{Frames: []*QualiFrame{}}
						continue
					}
					perSegment[segment] = ExtractSegmentLap(lap, statusRows, weatherRows)
				}

				mu.Lock()
				catalog.Telemetry[code] = perSegment
				for _, st := range perSegment {
					if st.MaxSpeed > catalog.MaxSpeed {
						catalog.MaxSpeed = st.MaxSpeed
					}
					if st.MinSpeed > 0 && (catalog.MinSpeed == 0 || st.MinSpeed < catalog.MinSpeed) {
						catalog.MinSpeed = st.MinSpeed
					}
				}
				done++
				p := float64(done) / float64(n)
				mu.Unlock()
				if opts.Progress != nil {
					opts.Progress(p)
				}
			}
		}()
	}
	for _, r := range results {
		select {
		case jobs <- r.Code:
		case <-ctx.Done():
		}
	}
	close(jobs)
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return catalog, nil
}

// ExtractSegmentLap resamples one fastest lap onto its own 25 Hz timeline
// and detects DRS zones. The lap's final frame timestamp is overwritten
// with the official lap time so scrubbing ends exactly on the classified
// figure.
func ExtractSegmentLap(lap Lap, statusRows []TrackStatusRow, weatherRows []WeatherRow) *SegmentTelemetry {
	s := lap.Samples
	if s.Len() == 0 {
		return &SegmentTelemetry{Frames: []*QualiFrame{}}
	}

	tMin, tMax := s.Time[0], s.Time[0]
	maxSpeed, minSpeed := math.Inf(-1), math.Inf(1)
	for i := range s.Time {
		if s.Time[i] < tMin {
			tMin = s.Time[i]
		}
		if s.Time[i] > tMax {
			tMax = s.Time[i]
		}
		if v := s.Speed[i]; !math.IsNaN(v) {
			if v > maxSpeed {
				maxSpeed = v
			}
			if v < minSpeed {
				minSpeed = v
			}
		}
	}
	if math.IsInf(maxSpeed, -1) {
		maxSpeed, minSpeed = 0, 0
	}

	// The lap grid includes its endpoint: a lap replay must reach the
	// finish line sample.
	n := int(math.Floor((tMax-tMin)/Dt+0.5)) + 1
	grid := make([]float64, n)
	for k := range grid {
		grid[k] = float64(k) * Dt
	}

	t := make([]float64, s.Len())
	for i, v := range s.Time {
		t[i] = v - tMin
	}
	order := argsort(t)
	sorted := reorder(t, order)
	keep := dedupeIndices(sorted)
	ts := pick(sorted, keep)
	ch := func(ys []float64) []float64 {
		return pick(reorder(ys, order), keep)
	}

	x := resampleClamped(grid, ts, ch(s.X))
	y := resampleClamped(grid, ts, ch(s.Y))
	dist := resampleClamped(grid, ts, ch(s.Distance))
	relDist := resampleClamped(grid, ts, ch(s.RelDistance))
	speed := roundTo1(resampleClamped(grid, ts, ch(s.Speed)))
	throttle := roundTo1(resampleClamped(grid, ts, ch(s.Throttle)))
	brake := roundTo1(resampleClamped(grid, ts, ch(s.Brake)))
	drs := resampleClamped(grid, ts, ch(s.DRS))
	gear := resampleStep(grid, ts, ch(s.Gear))

	// Brake arrives as a 0-1 flag; scale onto the throttle's 0-100 range.
	for i := range brake {
		brake[i] *= 100
	}

	var zones []DRSZone
	frames := make([]*QualiFrame, n)
	weather := BuildWeatherGrid(weatherRows, &Timeline{TMin: tMin, TMax: tMax, Rel: grid})
	for i := 0; i < n; i++ {
		if i > 0 {
			prev, curr := drs[i-1], drs[i]
			switch {
			case curr >= drsOpenThreshold && prev < drsOpenThreshold:
				zones = append(zones, DRSZone{ZoneStart: dist[i]})
			case curr < drsOpenThreshold && prev >= drsOpenThreshold:
				if len(zones) > 0 && zones[len(zones)-1].ZoneEnd == nil {
					end := dist[i]
					zones[len(zones)-1].ZoneEnd = &end
				}
			}
		}
		frames[i] = &QualiFrame{
			T: math.Round(grid[i]*1000) / 1000,
			Telemetry: QualiTelemetry{
				X:        sanitizeFloat(x[i]),
				Y:        sanitizeFloat(y[i]),
				Dist:     sanitizeFloat(dist[i]),
				RelDist:  sanitizeFloat(relDist[i]),
				Speed:    sanitizeFloat(speed[i]),
				Gear:     sanitizeInt(gear[i]),
				Throttle: sanitizeFloat(throttle[i]),
				Brake:    sanitizeFloat(brake[i]),
				DRS:      int(sanitizeFloat(drs[i])),
			},
			Weather: weather.SnapshotAt(i),
		}
	}

	if !math.IsNaN(lap.LapTime) && len(frames) > 0 {
		frames[len(frames)-1].T = math.Round(lap.LapTime*1000) / 1000
	}

	return &SegmentTelemetry{
		Frames:        frames,
		TrackStatuses: BuildTrackStatus(statusRows, tMin).Intervals,
		DRSZones:      zones,
		MaxSpeed:      maxSpeed,
		MinSpeed:      minSpeed,
	}
}

// resampleClamped evaluates linear interpolation with edge clamping: grid
// instants beyond the sample span take the boundary values. Lap timelines
// overrun their last sample by up to half a period.
func resampleClamped(grid, ts, ys []float64) []float64 {
	out := resampleLinear(grid, ts, ys)
	if len(ts) == 0 {
		return out
	}
	lo, hi := ts[0], ts[len(ts)-1]
	for i, g := range grid {
		if g < lo {
			out[i] = ys[0]
		} else if g > hi {
			out[i] = ys[len(ys)-1]
		}
	}
	return out
}

func roundTo1(xs []float64) []float64 {
	for i, v := range xs {
		xs[i] = math.Round(v*10) / 10
	}
	return xs
}
