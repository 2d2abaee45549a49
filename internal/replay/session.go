// Package replay life-cycles in-memory replay sessions and streams their
// frames to clients over a duplex channel with play/pause/seek control.
package replay

import (
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/gridline-data/gridline.replay/internal/monitoring"
	"github.com/gridline-data/gridline.replay/internal/telemetry"
)

// State is the lifecycle phase of a replay session.
type State int

const (
	StateInit State = iota
	StateLoading
	StateReady
	StateError
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "INIT"
	case StateLoading:
		return "LOADING"
	case StateReady:
		return "READY"
	case StateError:
		return "ERROR"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// preSerializeLimit is the largest frame count that is serialized up front.
// Bigger sessions serialize per frame on demand to bound memory.
const preSerializeLimit = 50000

// SessionID derives the stable identifier for a session.
func SessionID(year, round int, kind string) string {
	return fmt.Sprintf("%d_%d_%s", year, round, kind)
}

// Metadata is the session description served to clients alongside frames.
type Metadata struct {
	Year          int                             `json:"year"`
	Round         int                             `json:"round"`
	SessionType   string                          `json:"session_type"`
	TotalFrames   int                             `json:"total_frames"`
	TotalLaps     int                             `json:"total_laps"`
	DriverColors  map[string][3]uint8             `json:"driver_colors"`
	DriverNumbers map[string]string               `json:"driver_numbers"`
	DriverTeams   map[string]string               `json:"driver_teams"`
	TrackGeometry *telemetry.TrackGeometryBundle  `json:"track_geometry"`
	TrackStatus   []telemetry.TrackStatusInterval `json:"track_status"`
	RaceStartTime float64                         `json:"race_start_time"`
	Error         string                          `json:"error,omitempty"`
}

// ProgressFunc receives load progress events. Callbacks run on the loader
// goroutine and must not block.
type ProgressFunc func(state State, progress float64, message string)

// Session is one in-memory replay. All fields are written only by the
// loader goroutine until the state turns READY or ERROR; afterwards
// everything except the subscriber set is read-only.
type Session struct {
	Year  int
	Round int
	Kind  string

	mu        sync.RWMutex
	state     State
	progress  float64
	loadError string

	frames []*telemetry.Frame
	quali  *telemetry.QualiCatalog
	meta   Metadata

	codec    *Codec
	binCache [][]byte
	txtCache []string

	subscribers map[uuid.UUID]ProgressFunc
}

func newSession(year, round int, kind string, codec *Codec) *Session {
	return &Session{
		Year:        year,
		Round:       round,
		Kind:        kind,
		codec:       codec,
		subscribers: make(map[uuid.UUID]ProgressFunc),
		meta: Metadata{
			Year:        year,
			Round:       round,
			SessionType: kind,
		},
	}
}

// ID returns the session's stable identifier.
func (s *Session) ID() string { return SessionID(s.Year, s.Round, s.Kind) }

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Progress returns the load progress in [0,100].
func (s *Session) Progress() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.progress
}

// Loading reports whether the session has not reached a terminal state.
func (s *Session) Loading() bool {
	st := s.State()
	return st == StateInit || st == StateLoading
}

// LoadError returns the failure message, empty unless state is ERROR.
func (s *Session) LoadError() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loadError
}

// Metadata returns a copy of the session metadata.
func (s *Session) Metadata() Metadata {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.meta
}

// FrameCount returns the number of race frames, 0 for qualifying sessions.
func (s *Session) FrameCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.frames)
}

// Quali returns the qualifying catalog, nil for race sessions.
func (s *Session) Quali() *telemetry.QualiCatalog {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.quali
}

// BinaryFrame returns the length-prefixed binary serialization of frame i,
// from the pre-serialized cache when one was built.
func (s *Session) BinaryFrame(i int) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if i < 0 || i >= len(s.frames) {
		return nil, fmt.Errorf("frame index %d out of range [0,%d)", i, len(s.frames))
	}
	if s.binCache != nil {
		return s.binCache[i], nil
	}
	return s.codec.Binary(s.frames[i])
}

// TextFrame returns the JSON serialization of frame i.
func (s *Session) TextFrame(i int) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if i < 0 || i >= len(s.frames) {
		return "", fmt.Errorf("frame index %d out of range [0,%d)", i, len(s.frames))
	}
	if s.txtCache != nil {
		return s.txtCache[i], nil
	}
	return s.codec.Text(s.frames[i])
}

// Subscribe registers a progress callback and returns its handle. The
// current state is not replayed; callers read State() first.
func (s *Session) Subscribe(fn ProgressFunc) uuid.UUID {
	id := uuid.New()
	s.mu.Lock()
	s.subscribers[id] = fn
	s.mu.Unlock()
	return id
}

// Unsubscribe removes a progress callback.
func (s *Session) Unsubscribe(id uuid.UUID) {
	s.mu.Lock()
	delete(s.subscribers, id)
	s.mu.Unlock()
}

// setProgress updates state and fans the event out to subscribers. A
// panicking subscriber is dropped from the set, never the loader.
func (s *Session) setProgress(state State, progress float64, message string) {
	s.mu.Lock()
	s.state = state
	s.progress = progress
	if state == StateError {
		s.loadError = message
		s.meta.Error = message
	}
	fns := make(map[uuid.UUID]ProgressFunc, len(s.subscribers))
	for id, fn := range s.subscribers {
		fns[id] = fn
	}
	s.mu.Unlock()

	for id, fn := range fns {
		func() {
			defer func() {
				if r := recover(); r != nil {
					monitoring.Logf("[replay] progress subscriber %s panicked: %v", id, r)
					s.Unsubscribe(id)
				}
			}()
			fn(state, progress, message)
		}()
	}
}

// install fills the session from a finished race build and pre-serializes
// when the frame list is small enough.
func (s *Session) install(data *telemetry.RaceData, preProgress func()) error {
	colors := make(map[string][3]uint8, len(data.Drivers))
	numbers := make(map[string]string, len(data.Drivers))
	teams := make(map[string]string, len(data.Drivers))
	for _, d := range data.Drivers {
		colors[d.Code] = d.Color
		numbers[d.Code] = d.Number
		teams[d.Code] = d.Team
	}

	var binCache [][]byte
	var txtCache []string
	if len(data.Frames) <= preSerializeLimit {
		if preProgress != nil {
			preProgress()
		}
		binCache = make([][]byte, len(data.Frames))
		txtCache = make([]string, len(data.Frames))
		for i, f := range data.Frames {
			b, err := s.codec.Binary(f)
			if err != nil {
				return err
			}
			t, err := s.codec.Text(f)
			if err != nil {
				return err
			}
			binCache[i] = b
			txtCache[i] = t
		}
	}

	s.mu.Lock()
	s.frames = data.Frames
	s.binCache = binCache
	s.txtCache = txtCache
	s.meta.TotalFrames = len(data.Frames)
	s.meta.TotalLaps = data.TotalLaps
	s.meta.DriverColors = colors
	s.meta.DriverNumbers = numbers
	s.meta.DriverTeams = teams
	s.meta.TrackGeometry = data.Geometry
	s.meta.TrackStatus = data.TrackStatus
	s.meta.RaceStartTime = data.RaceStart
	s.mu.Unlock()
	return nil
}

// installQuali fills the session from a qualifying catalog. Qualifying
// sessions carry no race frames; total_frames stays 0.
func (s *Session) installQuali(catalog *telemetry.QualiCatalog) {
	s.mu.Lock()
	s.quali = catalog
	s.mu.Unlock()
}
