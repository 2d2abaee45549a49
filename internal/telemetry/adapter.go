// Package telemetry builds dense, fixed-cadence race frames from raw
// per-driver session telemetry and FIA timing-tower data.
//
// The package consumes an upstream SessionSource (per-lap telemetry tables,
// stream timing, track status, weather), resamples every driver onto a
// common 25 Hz timeline, orders the field per frame with a multi-tier
// leaderboard, and emits an immutable frame list ready for replay.
package telemetry

import "context"

// FrameRate is the output cadence of the frame pipeline in frames per second.
const FrameRate = 25

// Dt is the sample period of the common timeline in seconds.
const Dt = 1.0 / FrameRate

// LapSamples is the time-indexed telemetry table for a single lap. All
// slices are parallel and ordered by Time. Time is in session seconds;
// the upstream adapter converts duration columns before handing tables over.
type LapSamples struct {
	Time        []float64
	X           []float64
	Y           []float64
	Distance    []float64 // metres from the start of this lap
	RelDistance []float64 // fraction of the lap completed, in [0,1]
	Speed       []float64 // km/h
	Gear        []float64
	DRS         []float64
	Throttle    []float64 // 0-100
	Brake       []float64 // 0-100
	RPM         []float64
}

// Len returns the number of samples in the lap table.
func (s *LapSamples) Len() int { return len(s.Time) }

// Lap is one lap for one driver as yielded by the upstream source.
// Scalar times are seconds; NaN marks a value the lap never produced
// (e.g. lap time of an uncompleted lap).
type Lap struct {
	Number   int
	Compound int // tyre compound code
	Position int // classified position at the end of this lap, 0 when unknown
	LapTime  float64
	Sector1  float64
	Sector2  float64
	Sector3  float64
	Samples  LapSamples
}

// TimingRow is one FIA timing-tower update for one driver.
type TimingRow struct {
	Time        float64 // session seconds
	Driver      string  // three-letter code
	Position    int     // stream position, 0 when absent
	GapToLeader float64 // seconds, NaN when absent
	Interval    float64 // seconds to the car immediately ahead, NaN when absent
}

// TrackStatusRow is one raw track-status event.
type TrackStatusRow struct {
	Time   float64
	Status string // "1" green, "2" yellow, "4" SC, "6" VSC, "7" red
}

// WeatherRow is one weather sample. Fields are NaN when the station did not
// report them.
type WeatherRow struct {
	Time          float64
	TrackTemp     float64
	AirTemp       float64
	Humidity      float64
	WindSpeed     float64
	WindDirection float64
	Rainfall      float64 // > 0 means it is raining
}

// DriverInfo describes one entrant of the session.
type DriverInfo struct {
	Code          string
	Number        string
	Team          string
	Color         [3]uint8
	GridPosition  int // 0 when unknown
	FinalPosition int // classified result, 0 when unknown
}

// TrackGeometryBundle is the opaque track outline produced by the geometry
// collaborator. It is carried through to session metadata verbatim.
type TrackGeometryBundle struct {
	CenterlineX []float64 `json:"centerline_x"`
	CenterlineY []float64 `json:"centerline_y"`
	InnerX      []float64 `json:"inner_x"`
	InnerY      []float64 `json:"inner_y"`
	OuterX      []float64 `json:"outer_x"`
	OuterY      []float64 `json:"outer_y"`
	XMin        float64   `json:"x_min"`
	XMax        float64   `json:"x_max"`
	YMin        float64   `json:"y_min"`
	YMax        float64   `json:"y_max"`
	Sector      []int     `json:"sector,omitempty"` // per-sample sector index in {1,2,3}
}

// SessionSource is the narrow interface the pipeline consumes from the
// upstream F1 data library. All time columns are already seconds.
type SessionSource interface {
	// Drivers lists the session entrants.
	Drivers(ctx context.Context) ([]DriverInfo, error)

	// DriverLaps yields the ordered laps of one driver. An empty slice (or
	// an error) means the driver has no usable telemetry and is skipped.
	DriverLaps(ctx context.Context, driver string) ([]Lap, error)

	// StreamTiming returns the FIA timing-tower table for the session.
	StreamTiming(ctx context.Context) ([]TimingRow, error)

	// TrackStatus returns the raw track-status events in time order.
	TrackStatus(ctx context.Context) ([]TrackStatusRow, error)

	// Weather returns the session weather samples, possibly empty.
	Weather(ctx context.Context) ([]WeatherRow, error)

	// FastestLap returns the overall fastest lap of the session, used as
	// the reference lap for circuit length and track geometry.
	FastestLap(ctx context.Context) (Lap, error)

	// Geometry returns the track geometry bundle built by the external
	// collaborator, or nil when it could not be produced.
	Geometry(ctx context.Context) (*TrackGeometryBundle, error)
}
