// Package upstream is the HTTP client for the F1 data bridge, the external
// collaborator that wraps the raw timing archive. It converts the bridge's
// wire types (millisecond integers, nullable numbers) into the pipeline's
// seconds-and-NaN convention at the boundary.
package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"

	"github.com/gridline-data/gridline.replay/internal/httputil"
	"github.com/gridline-data/gridline.replay/internal/replay"
	"github.com/gridline-data/gridline.replay/internal/telemetry"
)

// Client talks to one bridge instance. Safe for concurrent use.
type Client struct {
	baseURL string
	http    httputil.HTTPClient
}

// NewClient returns a Client for the bridge at baseURL. A nil httpClient
// selects http.DefaultClient.
func NewClient(baseURL string, httpClient httputil.HTTPClient) *Client {
	if httpClient == nil {
		httpClient = httputil.NewStandardClient(nil)
	}
	return &Client{baseURL: baseURL, http: httpClient}
}

// Rounds lists the season's events.
func (c *Client) Rounds(ctx context.Context, year int) ([]replay.Round, error) {
	var out []replay.Round
	if err := c.getJSON(ctx, fmt.Sprintf("/seasons/%d/rounds", year), &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Sprints lists the rounds run with a sprint format.
func (c *Client) Sprints(ctx context.Context, year int) ([]replay.Round, error) {
	var out []replay.Round
	if err := c.getJSON(ctx, fmt.Sprintf("/seasons/%d/sprints", year), &out); err != nil {
		return nil, err
	}
	return out, nil
}

// RaceSource returns the telemetry source for a race or sprint session.
func (c *Client) RaceSource(year, round int, kind string) telemetry.SessionSource {
	return &sessionView{c: c, year: year, round: round, kind: kind}
}

// QualiSource returns the telemetry source for a qualifying session.
func (c *Client) QualiSource(year, round int, kind string) telemetry.QualiSource {
	return &sessionView{c: c, year: year, round: round, kind: kind}
}

func (c *Client) getJSON(ctx context.Context, path string, v interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("bridge request %s: %w", path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("bridge request %s: status %d: %s", path, resp.StatusCode, body)
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("bridge response %s: %w", path, err)
	}
	return nil
}

// sessionView binds the client to one (year, round, kind) session.
type sessionView struct {
	c     *Client
	year  int
	round int
	kind  string
}

func (s *sessionView) path(suffix string) string {
	return fmt.Sprintf("/sessions/%d/%d/%s%s", s.year, s.round, s.kind, suffix)
}

// Wire types. Times are millisecond integers; nullable numbers decode into
// pointers and convert to NaN when absent.
type wireDriver struct {
	Code          string   `json:"code"`
	Number        string   `json:"number"`
	Team          string   `json:"team"`
	Color         [3]uint8 `json:"color"`
	GridPosition  int      `json:"grid_position"`
	FinalPosition int      `json:"final_position"`
}

type wireSamples struct {
	TimeMs      []int64    `json:"time_ms"`
	X           []float64  `json:"x"`
	Y           []float64  `json:"y"`
	Distance    []*float64 `json:"distance"`
	RelDistance []*float64 `json:"rel_distance"`
	Speed       []*float64 `json:"speed"`
	Gear        []*float64 `json:"gear"`
	DRS         []*float64 `json:"drs"`
	Throttle    []*float64 `json:"throttle"`
	Brake       []*float64 `json:"brake"`
	RPM         []*float64 `json:"rpm"`
}

type wireLap struct {
	Number    int         `json:"number"`
	Compound  int         `json:"compound"`
	Position  int         `json:"position"`
	LapTimeMs *int64      `json:"lap_time_ms"`
	Sector1Ms *int64      `json:"sector1_ms"`
	Sector2Ms *int64      `json:"sector2_ms"`
	Sector3Ms *int64      `json:"sector3_ms"`
	Samples   wireSamples `json:"samples"`
}

type wireTimingRow struct {
	TimeMs        int64  `json:"time_ms"`
	Driver        string `json:"driver"`
	Position      int    `json:"position"`
	GapToLeaderMs *int64 `json:"gap_to_leader_ms"`
	IntervalMs    *int64 `json:"interval_ms"`
}

type wireStatusRow struct {
	TimeMs int64  `json:"time_ms"`
	Status string `json:"status"`
}

type wireWeatherRow struct {
	TimeMs        int64    `json:"time_ms"`
	TrackTemp     *float64 `json:"track_temp"`
	AirTemp       *float64 `json:"air_temp"`
	Humidity      *float64 `json:"humidity"`
	WindSpeed     *float64 `json:"wind_speed"`
	WindDirection *float64 `json:"wind_direction"`
	Rainfall      *float64 `json:"rainfall"`
}

type wireQualiResult struct {
	Code     string `json:"code"`
	Name     string `json:"name"`
	Position int    `json:"position"`
	Q1Ms     *int64 `json:"q1_ms"`
	Q2Ms     *int64 `json:"q2_ms"`
	Q3Ms     *int64 `json:"q3_ms"`
}

func msToSeconds(ms int64) float64 { return float64(ms) / 1000 }

func optMsToSeconds(ms *int64) float64 {
	if ms == nil {
		return math.NaN()
	}
	return msToSeconds(*ms)
}

func optFloat(v *float64) float64 {
	if v == nil {
		return math.NaN()
	}
	return *v
}

func optSlice(vs []*float64, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		if i < len(vs) {
			out[i] = optFloat(vs[i])
		} else {
			out[i] = math.NaN()
		}
	}
	return out
}

func convertLap(w wireLap) telemetry.Lap {
	n := len(w.Samples.TimeMs)
	samples := telemetry.LapSamples{
		Time:        make([]float64, n),
		X:           w.Samples.X,
		Y:           w.Samples.Y,
		Distance:    optSlice(w.Samples.Distance, n),
		RelDistance: optSlice(w.Samples.RelDistance, n),
		Speed:       optSlice(w.Samples.Speed, n),
		Gear:        optSlice(w.Samples.Gear, n),
		DRS:         optSlice(w.Samples.DRS, n),
		Throttle:    optSlice(w.Samples.Throttle, n),
		Brake:       optSlice(w.Samples.Brake, n),
		RPM:         optSlice(w.Samples.RPM, n),
	}
	for i, ms := range w.Samples.TimeMs {
		samples.Time[i] = msToSeconds(ms)
	}
	return telemetry.Lap{
		Number:   w.Number,
		Compound: w.Compound,
		Position: w.Position,
		LapTime:  optMsToSeconds(w.LapTimeMs),
		Sector1:  optMsToSeconds(w.Sector1Ms),
		Sector2:  optMsToSeconds(w.Sector2Ms),
		Sector3:  optMsToSeconds(w.Sector3Ms),
		Samples:  samples,
	}
}

func (s *sessionView) Drivers(ctx context.Context) ([]telemetry.DriverInfo, error) {
	var wire []wireDriver
	if err := s.c.getJSON(ctx, s.path("/drivers"), &wire); err != nil {
		return nil, err
	}
	out := make([]telemetry.DriverInfo, len(wire))
	for i, d := range wire {
		out[i] = telemetry.DriverInfo{
			Code:          d.Code,
			Number:        d.Number,
			Team:          d.Team,
			Color:         d.Color,
			GridPosition:  d.GridPosition,
			FinalPosition: d.FinalPosition,
		}
	}
	return out, nil
}

func (s *sessionView) DriverLaps(ctx context.Context, driver string) ([]telemetry.Lap, error) {
	var wire []wireLap
	if err := s.c.getJSON(ctx, s.path("/laps/"+driver), &wire); err != nil {
		return nil, err
	}
	out := make([]telemetry.Lap, len(wire))
	for i, w := range wire {
		out[i] = convertLap(w)
	}
	return out, nil
}

func (s *sessionView) StreamTiming(ctx context.Context) ([]telemetry.TimingRow, error) {
	var wire []wireTimingRow
	if err := s.c.getJSON(ctx, s.path("/timing"), &wire); err != nil {
		return nil, err
	}
	out := make([]telemetry.TimingRow, len(wire))
	for i, w := range wire {
		out[i] = telemetry.TimingRow{
			Time:        msToSeconds(w.TimeMs),
			Driver:      w.Driver,
			Position:    w.Position,
			GapToLeader: optMsToSeconds(w.GapToLeaderMs),
			Interval:    optMsToSeconds(w.IntervalMs),
		}
	}
	return out, nil
}

func (s *sessionView) TrackStatus(ctx context.Context) ([]telemetry.TrackStatusRow, error) {
	var wire []wireStatusRow
	if err := s.c.getJSON(ctx, s.path("/track_status"), &wire); err != nil {
		return nil, err
	}
	out := make([]telemetry.TrackStatusRow, len(wire))
	for i, w := range wire {
		out[i] = telemetry.TrackStatusRow{Time: msToSeconds(w.TimeMs), Status: w.Status}
	}
	return out, nil
}

func (s *sessionView) Weather(ctx context.Context) ([]telemetry.WeatherRow, error) {
	var wire []wireWeatherRow
	if err := s.c.getJSON(ctx, s.path("/weather"), &wire); err != nil {
		return nil, err
	}
	out := make([]telemetry.WeatherRow, len(wire))
	for i, w := range wire {
		out[i] = telemetry.WeatherRow{
			Time:          msToSeconds(w.TimeMs),
			TrackTemp:     optFloat(w.TrackTemp),
			AirTemp:       optFloat(w.AirTemp),
			Humidity:      optFloat(w.Humidity),
			WindSpeed:     optFloat(w.WindSpeed),
			WindDirection: optFloat(w.WindDirection),
			Rainfall:      optFloat(w.Rainfall),
		}
	}
	return out, nil
}

func (s *sessionView) FastestLap(ctx context.Context) (telemetry.Lap, error) {
	var wire wireLap
	if err := s.c.getJSON(ctx, s.path("/fastest_lap"), &wire); err != nil {
		return telemetry.Lap{}, err
	}
	return convertLap(wire), nil
}

func (s *sessionView) Geometry(ctx context.Context) (*telemetry.TrackGeometryBundle, error) {
	var bundle telemetry.TrackGeometryBundle
	if err := s.c.getJSON(ctx, s.path("/geometry"), &bundle); err != nil {
		return nil, err
	}
	return &bundle, nil
}

func (s *sessionView) QualiResults(ctx context.Context) ([]telemetry.QualiResult, error) {
	var wire []wireQualiResult
	if err := s.c.getJSON(ctx, s.path("/results"), &wire); err != nil {
		return nil, err
	}
	out := make([]telemetry.QualiResult, len(wire))
	for i, w := range wire {
		out[i] = telemetry.QualiResult{
			Code:     w.Code,
			Name:     w.Name,
			Position: w.Position,
			Q1:       optMsToSeconds(w.Q1Ms),
			Q2:       optMsToSeconds(w.Q2Ms),
			Q3:       optMsToSeconds(w.Q3Ms),
		}
	}
	return out, nil
}

func (s *sessionView) FastestSegmentLap(ctx context.Context, driver, segment string) (telemetry.Lap, error) {
	var wire wireLap
	if err := s.c.getJSON(ctx, s.path("/fastest/"+driver+"/"+segment), &wire); err != nil {
		return telemetry.Lap{}, err
	}
	return convertLap(wire), nil
}
