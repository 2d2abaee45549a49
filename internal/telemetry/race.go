package telemetry

import (
	"context"
	"fmt"
	"math"
	"runtime"
	"sync"
)

// Grid-phase fallback: when track status never reports green, the grid
// order is held for the first 50 frames (2 seconds) so the field does not
// shuffle before lights-out.
const gridPhaseEndFrame = 50

// gridPhaseHold is how long after lights-out the official grid order is
// still shown, in seconds.
const gridPhaseHold = 10.0

// RaceData is the finished product of the race pipeline: the frame list
// plus the session metadata the replay layer serves alongside it.
type RaceData struct {
	Frames        []*Frame
	Drivers       []DriverInfo
	TrackStatus   []TrackStatusInterval
	Geometry      *TrackGeometryBundle
	RaceStart     float64 // relative seconds, -1 when never green
	TotalLaps     int
	CircuitLength float64 // metres
}

// BuildOptions tunes a race build. Zero values select defaults.
type BuildOptions struct {
	// Workers caps the extraction pool; defaults to
	// min(GOMAXPROCS, driver count).
	Workers int

	// Progress receives the in-extractor completion fraction in [0,1] as
	// drivers finish. May be nil. Called from the build goroutine between
	// stages, never concurrently.
	Progress func(p float64)
}

// BuildRace runs the full pipeline: per-driver extraction (parallel),
// timeline construction, resampling, timing alignment, race-start
// normalization and frame assembly. Returns ErrNoTelemetry when no driver
// yields a usable series.
func BuildRace(ctx context.Context, src SessionSource, opts BuildOptions) (*RaceData, error) {
	drivers, err := src.Drivers(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing drivers: %w", err)
	}
	if len(drivers) == 0 {
		return nil, ErrNoTelemetry
	}

	series, err := extractAll(ctx, src, drivers, opts)
	if err != nil {
		return nil, err
	}
	if len(series) == 0 {
		return nil, ErrNoTelemetry
	}

	tl := BuildTimeline(series)
	if tl.Len() == 0 {
		return nil, ErrNoTelemetry
	}
	opsf("timeline: %d frames spanning %.1fs", tl.Len(), tl.TMax-tl.TMin)

	resampled := make(map[string]*ResampledDriver, len(series))
	known := make(map[string]bool, len(series))
	for code, s := range series {
		resampled[code] = Resample(s, tl)
		known[code] = true
	}

	timingRows, err := src.StreamTiming(ctx)
	if err != nil {
		diagf("stream timing unavailable: %v", err)
	}
	timing := AlignTiming(timingRows, tl, known)

	statusRows, err := src.TrackStatus(ctx)
	if err != nil {
		diagf("track status unavailable: %v", err)
	}
	statusTable := BuildTrackStatus(statusRows, tl.TMin)

	weatherRows, err := src.Weather(ctx)
	if err != nil {
		diagf("weather unavailable: %v", err)
	}
	weather := BuildWeatherGrid(weatherRows, tl)

	circuit := circuitLength(ctx, src, series)

	raceStart, greenSeen := statusTable.RaceStart()
	kRS := 0
	if greenSeen {
		kRS = tl.NearestIndex(raceStart)
	} else {
		raceStart = -1
	}
	for _, r := range resampled {
		normalizeRaceStart(r, kRS)
	}

	totalLaps := 0
	for _, s := range series {
		if s.MaxLap > totalLaps {
			totalLaps = s.MaxLap
		}
	}

	frames := assembleFrames(ctx, assembleInput{
		tl:        tl,
		resampled: resampled,
		timing:    timing,
		status:    statusTable,
		weather:   weather,
		drivers:   drivers,
		raceStart: raceStart,
		circuit:   circuit,
		totalLaps: totalLaps,
	})

	geometry, err := src.Geometry(ctx)
	if err != nil {
		diagf("track geometry unavailable: %v", err)
	}

	return &RaceData{
		Frames:        frames,
		Drivers:       drivers,
		TrackStatus:   statusTable.Intervals,
		Geometry:      geometry,
		RaceStart:     raceStart,
		TotalLaps:     totalLaps,
		CircuitLength: circuit,
	}, nil
}

// extractAll runs ExtractDriver for every entrant on a bounded worker pool.
// Missing lap data and corrupt telemetry both skip the driver with a
// warning; the build proceeds with whoever extracted cleanly.
func extractAll(ctx context.Context, src SessionSource, drivers []DriverInfo, opts BuildOptions) (map[string]*DriverSeries, error) {
	n := len(drivers)
	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	if workers > n {
		workers = n
	}
	chunk := (n + workers*4 - 1) / (workers * 4)
	if chunk < 1 {
		chunk = 1
	}

	type job struct{ lo, hi int }
	jobs := make(chan job)
	var (
		mu     sync.Mutex
		series = make(map[string]*DriverSeries, n)
		done   int
		wg     sync.WaitGroup
	)

	worker := func() {
		defer wg.Done()
		for j := range jobs {
			for i := j.lo; i < j.hi; i++ {
				if ctx.Err() != nil {
					return
				}
				code := drivers[i].Code
				laps, err := src.DriverLaps(ctx, code)
				if err != nil || len(laps) == 0 {
					opsf("skipping driver %s: no lap data (%v)", code, err)
					mu.Lock()
					done++
					mu.Unlock()
					continue
				}
				s, err := ExtractDriver(code, laps)

				mu.Lock()
				done++
				if err != nil {
					opsf("skipping driver %s: %v", code, err)
				} else {
					series[code] = s
				}
				p := float64(done) / float64(n)
				mu.Unlock()
				if opts.Progress != nil {
					opts.Progress(p)
				}
			}
		}
	}

	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go worker()
	}
	for lo := 0; lo < n; lo += chunk {
		hi := lo + chunk
		if hi > n {
			hi = n
		}
		select {
		case jobs <- job{lo, hi}:
		case <-ctx.Done():
			lo = n
		}
	}
	close(jobs)
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return series, nil
}

// circuitLength derives the lap length in metres from the session's fastest
// lap, falling back to the longest per-lap distance seen in any extracted
// series.
func circuitLength(ctx context.Context, src SessionSource, series map[string]*DriverSeries) float64 {
	if lap, err := src.FastestLap(ctx); err == nil {
		if _, last, ok := firstLastValid(lap.Samples.Distance); ok && last > 0 {
			return last
		}
	}
	best := 0.0
	for _, s := range series {
		if s.MaxLap > 0 {
			if d := s.Dist[len(s.Dist)-1] / float64(s.MaxLap); d > best {
				best = d
			}
		}
	}
	return best
}

// normalizeRaceStart shifts the resampled cumulative distance so it reads 0
// at the race-start index and clamps earlier samples, producing the
// race_progress channel.
func normalizeRaceStart(r *ResampledDriver, kRS int) {
	n := len(r.Dist)
	r.RaceProgress = make([]float64, n)
	if n == 0 {
		return
	}
	if kRS >= n {
		kRS = n - 1
	}

	offset := r.Dist[kRS]
	if math.IsNaN(offset) {
		// Driver has no sample at lights-out; anchor on the first value
		// inside its span instead.
		for _, v := range r.Dist {
			if !math.IsNaN(v) {
				offset = v
				break
			}
		}
	}
	for k := 0; k < n; k++ {
		v := r.Dist[k] - offset
		if k < kRS || v < 0 {
			v = 0
		}
		if math.IsNaN(r.Dist[k]) {
			v = math.NaN()
		}
		r.RaceProgress[k] = v
	}
}

type assembleInput struct {
	tl        *Timeline
	resampled map[string]*ResampledDriver
	timing    *TimingAlignment
	status    *TrackStatusTable
	weather   *WeatherGrid
	drivers   []DriverInfo
	raceStart float64
	circuit   float64
	totalLaps int
}

// assembleFrames walks the timeline once, building every frame with the
// retirement tracker and leaderboard carried across iterations.
func assembleFrames(ctx context.Context, in assembleInput) []*Frame {
	totalDistance := in.circuit * float64(in.totalLaps)
	finishEpsilon := math.Min(0.01*in.circuit, 50.0)

	gridPos := make(map[string]int, len(in.drivers))
	finalPos := make(map[string]int, len(in.drivers))
	for _, d := range in.drivers {
		if d.GridPosition > 0 {
			gridPos[d.Code] = d.GridPosition
		}
		if d.FinalPosition > 0 {
			finalPos[d.Code] = d.FinalPosition
		}
	}

	codes := make([]string, 0, len(in.resampled))
	for code := range in.resampled {
		codes = append(codes, code)
	}

	tracker := NewRetirementTracker()
	board := NewBoard()
	prevLap := make(map[string]int, len(codes))
	lastProgress := make(map[string]float64, len(codes))
	raceFinished := false

	frames := make([]*Frame, 0, in.tl.Len())
	for k := 0; k < in.tl.Len(); k++ {
		if k%2000 == 0 && ctx.Err() != nil {
			break
		}
		t := in.tl.Rel[k]
		statusCode := in.status.At(t)

		recs := make(map[string]*DriverFrameRecord, len(codes))
		for _, code := range codes {
			rec := driverRecordAt(in.resampled[code], k)
			recs[code] = rec
			tracker.Observe(code, rec.Speed)
		}

		var active, retired []string
		for _, code := range codes {
			if tracker.Retired(code) {
				retired = append(retired, code)
			} else {
				active = append(active, code)
			}
		}
		sortByRetirement(retired, tracker)

		leaderProgress, leaderLap := fieldLeader(active, recs)

		gridPhase := false
		if len(active) > 0 {
			if in.raceStart >= 0 && t >= in.raceStart {
				gridPhase = t-in.raceStart <= gridPhaseHold
			} else {
				gridPhase = leaderLap <= 1 && k <= gridPhaseEndFrame
			}
		}
		if !raceFinished && len(active) > 0 && len(finalPos) > 0 &&
			totalDistance > 0 && leaderProgress >= totalDistance-finishEpsilon {
			raceFinished = true
			diagf("race finished at frame %d (t=%.2fs)", k, t)
		}

		inputs := make([]RankInput, 0, len(active))
		for _, code := range active {
			rec := recs[code]
			ri := RankInput{
				Driver:   code,
				PosRaw:   in.timing.PosAt(code, k),
				Interval: in.timing.IntervalAt(code, k),
				Progress: rec.RaceProgress,
			}
			switch {
			case gridPhase:
				ri.AnchorPos = gridPos[code]
			case raceFinished:
				ri.AnchorPos = finalPos[code]
			default:
				r := in.resampled[code]
				if rec.Lap > prevLap[code] && prevLap[code] > 0 {
					if p, ok := r.LapPositions[rec.Lap-1]; ok {
						ri.AnchorPos = p
					}
				}
			}
			inputs = append(inputs, ri)
		}

		order := board.Rank(t, UnderCaution(statusCode), inputs)
		order = append(order, retired...)

		for i, code := range order {
			rec := recs[code]
			rec.Position = i + 1
			switch {
			case tracker.Retired(code):
				rec.Status = StatusRetired
			case raceFinished:
				rec.Status = StatusFinished
			default:
				rec.Status = StatusRunning
			}
		}
		fillGaps(order, recs)

		for _, code := range codes {
			rec := recs[code]
			prevLap[code] = rec.Lap
			if rec.RaceProgress+1e-3 < lastProgress[code] {
				diagf("non-monotonic progress for %s at t=%.2fs: %.3f < %.3f",
					code, t, rec.RaceProgress, lastProgress[code])
			}
			lastProgress[code] = rec.RaceProgress
		}

		frameLap := 1
		if len(order) > 0 {
			frameLap = recs[order[0]].Lap
		}
		frames = append(frames, &Frame{
			Index:   k,
			T:       math.Round(t*1000) / 1000,
			Lap:     frameLap,
			Drivers: recs,
			Weather: in.weather.SnapshotAt(k),
		})
	}
	return frames
}

// fieldLeader returns the progress and lap of the active driver with the
// greatest race progress.
func fieldLeader(active []string, recs map[string]*DriverFrameRecord) (progress float64, lap int) {
	lap = 1
	progress = math.Inf(-1)
	if len(active) == 0 {
		return 0, 1
	}
	for _, code := range active {
		if p := recs[code].RaceProgress; p > progress {
			progress = p
			lap = recs[code].Lap
		}
	}
	return progress, lap
}

func sortByRetirement(retired []string, tracker *RetirementTracker) {
	for i := 1; i < len(retired); i++ {
		for j := i; j > 0 && tracker.Order(retired[j]) < tracker.Order(retired[j-1]); j-- {
			retired[j], retired[j-1] = retired[j-1], retired[j]
		}
	}
}
