package telemetry

import "math"

// Driver status values carried in every frame record.
const (
	StatusRunning  = "Running"
	StatusRetired  = "Retired"
	StatusFinished = "Finished"
)

// DriverFrameRecord is one driver's state in one frame. Optional scalars
// (lap and sector times) are nil while the current lap has not produced
// them. Floats are sanitized: NaN and out-of-range values become 0 before
// the record is stored.
type DriverFrameRecord struct {
	X            float64 `json:"x"`
	Y            float64 `json:"y"`
	Speed        float64 `json:"speed"`
	Gear         int     `json:"gear"`
	Lap          int     `json:"lap"`
	Position     int     `json:"position"`
	Tyre         int     `json:"tyre"`
	Throttle     float64 `json:"throttle"`
	Brake        float64 `json:"brake"`
	DRS          int     `json:"drs"`
	RPM          int     `json:"rpm"`
	Dist         float64 `json:"dist"`
	RelDist      float64 `json:"rel_dist"`
	RaceProgress float64 `json:"race_progress"`

	GapToPrevious float64 `json:"gap_to_previous"`
	GapToLeader   float64 `json:"gap_to_leader"`

	LapTime *float64 `json:"lap_time"`
	Sector1 *float64 `json:"sector1"`
	Sector2 *float64 `json:"sector2"`
	Sector3 *float64 `json:"sector3"`

	Status string `json:"status"`
}

// WeatherSnapshot is the weather state attached to a frame when the session
// carried weather samples.
type WeatherSnapshot struct {
	TrackTemp     float64 `json:"track_temp"`
	AirTemp       float64 `json:"air_temp"`
	Humidity      float64 `json:"humidity"`
	WindSpeed     float64 `json:"wind_speed"`
	WindDirection float64 `json:"wind_direction"`
	RainState     string  `json:"rain_state"` // "DRY" or "RAINING"
}

// Frame is one 1/25 s snapshot of the whole field. T is seconds relative
// to the start of the timeline, rounded to 3 decimals. Lap is the leader's
// lap. Frames are immutable once built.
type Frame struct {
	Index   int                           `json:"frame_index"`
	T       float64                       `json:"t"`
	Lap     int                           `json:"lap"`
	Drivers map[string]*DriverFrameRecord `json:"drivers"`
	Weather *WeatherSnapshot              `json:"weather,omitempty"`
}

// sanitizeFloat maps NaN and values outside the JSON-safe float range to 0.
func sanitizeFloat(v float64) float64 {
	if math.IsNaN(v) || v <= -1e308 || v >= 1e308 {
		return 0
	}
	return v
}

// sanitizeInt rounds a resampled channel value to int, 0 when missing.
func sanitizeInt(v float64) int {
	if math.IsNaN(v) || v <= -1e308 || v >= 1e308 {
		return 0
	}
	return int(math.Round(v))
}

// optScalar returns a pointer to v, nil when v is the missing sentinel.
func optScalar(v float64) *float64 {
	if math.IsNaN(v) {
		return nil
	}
	return &v
}

// driverRecordAt materializes one driver's record from the resampled
// channels at grid index k. Position, gaps and status are filled in by the
// frame assembler after the field is ordered.
func driverRecordAt(r *ResampledDriver, k int) *DriverFrameRecord {
	return &DriverFrameRecord{
		X:            sanitizeFloat(r.X[k]),
		Y:            sanitizeFloat(r.Y[k]),
		Speed:        sanitizeFloat(r.Speed[k]),
		Gear:         sanitizeInt(r.Gear[k]),
		Lap:          sanitizeInt(r.Lap[k]),
		Tyre:         sanitizeInt(r.Tyre[k]),
		Throttle:     sanitizeFloat(r.Throttle[k]),
		Brake:        sanitizeFloat(r.Brake[k]),
		DRS:          sanitizeInt(r.DRS[k]),
		RPM:          sanitizeInt(r.RPM[k]),
		Dist:         sanitizeFloat(r.Dist[k]),
		RelDist:      sanitizeFloat(r.RelDist[k]),
		RaceProgress: sanitizeFloat(r.RaceProgress[k]),
		LapTime:      optScalar(r.LapTime[k]),
		Sector1:      optScalar(r.Sector1[k]),
		Sector2:      optScalar(r.Sector2[k]),
		Sector3:      optScalar(r.Sector3[k]),
	}
}

// fillGaps writes gap_to_previous and gap_to_leader for every driver given
// the final order. Gaps convert the race-progress deficit at the chasing
// driver's speed; the leader carries 0/0.
func fillGaps(order []string, recs map[string]*DriverFrameRecord) {
	if len(order) == 0 {
		return
	}
	leader := recs[order[0]]
	for i, code := range order {
		rec := recs[code]
		if i == 0 {
			rec.GapToPrevious = 0
			rec.GapToLeader = 0
			continue
		}
		prev := recs[order[i-1]]
		rec.GapToPrevious = TimeGap(prev.RaceProgress-rec.RaceProgress, rec.Speed)
		rec.GapToLeader = TimeGap(leader.RaceProgress-rec.RaceProgress, rec.Speed)
	}
}

// WeatherGrid is the session weather resampled onto the timeline. Nil when
// the session carried no weather samples.
type WeatherGrid struct {
	trackTemp []float64
	airTemp   []float64
	humidity  []float64
	windSpeed []float64
	windDir   []float64
	rainfall  []float64
}

// BuildWeatherGrid interpolates the weather samples onto the timeline.
// Returns nil when rows is empty.
func BuildWeatherGrid(rows []WeatherRow, tl *Timeline) *WeatherGrid {
	if len(rows) == 0 {
		return nil
	}
	t := make([]float64, len(rows))
	field := func(get func(WeatherRow) float64) []float64 {
		ys := make([]float64, len(rows))
		for i, r := range rows {
			ys[i] = get(r)
		}
		return ys
	}
	for i, r := range rows {
		t[i] = r.Time - tl.TMin
	}
	keep := dedupeIndices(t)
	ts := pick(t, keep)
	lin := func(ys []float64) []float64 {
		return resampleLinear(tl.Rel, ts, pick(ys, keep))
	}
	return &WeatherGrid{
		trackTemp: lin(field(func(r WeatherRow) float64 { return r.TrackTemp })),
		airTemp:   lin(field(func(r WeatherRow) float64 { return r.AirTemp })),
		humidity:  lin(field(func(r WeatherRow) float64 { return r.Humidity })),
		windSpeed: lin(field(func(r WeatherRow) float64 { return r.WindSpeed })),
		windDir:   lin(field(func(r WeatherRow) float64 { return r.WindDirection })),
		rainfall:  lin(field(func(r WeatherRow) float64 { return r.Rainfall })),
	}
}

// SnapshotAt returns the weather state at grid index k.
func (w *WeatherGrid) SnapshotAt(k int) *WeatherSnapshot {
	if w == nil {
		return nil
	}
	rain := "DRY"
	if r := w.rainfall[k]; !math.IsNaN(r) && r > 0 {
		rain = "RAINING"
	}
	return &WeatherSnapshot{
		TrackTemp:     sanitizeFloat(w.trackTemp[k]),
		AirTemp:       sanitizeFloat(w.airTemp[k]),
		Humidity:      sanitizeFloat(w.humidity[k]),
		WindSpeed:     sanitizeFloat(w.windSpeed[k]),
		WindDirection: sanitizeFloat(w.windDir[k]),
		RainState:     rain,
	}
}
