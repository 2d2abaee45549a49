package replay

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gridline-data/gridline.replay/internal/telemetry"
)

func raceFrames(n int) []*telemetry.Frame {
	frames := make([]*telemetry.Frame, n)
	for i := range frames {
		frames[i] = &telemetry.Frame{
			Index: i,
			T:     float64(i) * telemetry.Dt,
			Lap:   1,
			Drivers: map[string]*telemetry.DriverFrameRecord{
				"VER": {Position: 1, Status: telemetry.StatusRunning},
			},
		}
	}
	return frames
}

func readyRaceSession(t *testing.T, n int) *Session {
	t.Helper()
	codec, err := NewCodec()
	require.NoError(t, err)
	s := newSession(2025, 4, "R", codec)
	require.NoError(t, s.install(&telemetry.RaceData{
		Frames:    raceFrames(n),
		Drivers:   []telemetry.DriverInfo{{Code: "VER", Number: "1", Team: "Red Bull"}},
		TotalLaps: 57,
		RaceStart: 2.0,
	}, nil))
	s.setProgress(StateReady, 100, "Ready")
	return s
}

func TestSessionID(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "2025_4_R", SessionID(2025, 4, "R"))
	assert.Equal(t, "2024_21_SQ", SessionID(2024, 21, "SQ"))
}

func TestStateString(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "INIT", StateInit.String())
	assert.Equal(t, "LOADING", StateLoading.String())
	assert.Equal(t, "READY", StateReady.String())
	assert.Equal(t, "ERROR", StateError.String())
}

func TestSessionInstall(t *testing.T) {
	t.Parallel()
	s := readyRaceSession(t, 5)

	assert.Equal(t, "2025_4_R", s.ID())
	assert.Equal(t, StateReady, s.State())
	assert.False(t, s.Loading())
	assert.Equal(t, 5, s.FrameCount())
	assert.Nil(t, s.Quali())

	meta := s.Metadata()
	assert.Equal(t, 2025, meta.Year)
	assert.Equal(t, 4, meta.Round)
	assert.Equal(t, "R", meta.SessionType)
	assert.Equal(t, 5, meta.TotalFrames)
	assert.Equal(t, 57, meta.TotalLaps)
	assert.Equal(t, "1", meta.DriverNumbers["VER"])
	assert.Equal(t, "Red Bull", meta.DriverTeams["VER"])
	assert.Equal(t, 2.0, meta.RaceStartTime)
}

func TestSessionPreSerialization(t *testing.T) {
	t.Parallel()

	t.Run("small sessions serialize up front", func(t *testing.T) {
		t.Parallel()
		codec, err := NewCodec()
		require.NoError(t, err)
		s := newSession(2025, 4, "R", codec)

		calls := 0
		require.NoError(t, s.install(&telemetry.RaceData{Frames: raceFrames(10)},
			func() { calls++ }))
		assert.Equal(t, 1, calls)
		require.NotNil(t, s.binCache)

		// The cached bytes match a fresh encoding.
		want, err := codec.Binary(s.frames[3])
		require.NoError(t, err)
		got, err := s.BinaryFrame(3)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	})

	t.Run("big sessions serialize on demand", func(t *testing.T) {
		t.Parallel()
		codec, err := NewCodec()
		require.NoError(t, err)
		s := newSession(2025, 4, "R", codec)

		calls := 0
		require.NoError(t, s.install(&telemetry.RaceData{
			Frames: raceFrames(preSerializeLimit + 1),
		}, func() { calls++ }))
		assert.Equal(t, 0, calls)
		assert.Nil(t, s.binCache)

		data, err := s.BinaryFrame(12345)
		require.NoError(t, err)
		decoded, err := codec.DecodeBinary(data)
		require.NoError(t, err)
		assert.Equal(t, 12345, decoded.Index)
	})
}

func TestSessionFrameRange(t *testing.T) {
	t.Parallel()
	s := readyRaceSession(t, 3)

	_, err := s.BinaryFrame(-1)
	assert.Error(t, err)
	_, err = s.BinaryFrame(3)
	assert.Error(t, err)
	_, err = s.TextFrame(99)
	assert.Error(t, err)

	text, err := s.TextFrame(2)
	require.NoError(t, err)
	assert.Contains(t, text, `"frame_index":2`)
}

func TestSessionSubscribers(t *testing.T) {
	t.Parallel()

	t.Run("events fan out", func(t *testing.T) {
		t.Parallel()
		codec, err := NewCodec()
		require.NoError(t, err)
		s := newSession(2025, 4, "R", codec)

		var events []string
		id := s.Subscribe(func(state State, progress float64, message string) {
			events = append(events, fmt.Sprintf("%s %.0f %s", state, progress, message))
		})
		s.setProgress(StateLoading, 10, "Fetching telemetry")
		s.setProgress(StateReady, 100, "Ready")
		assert.Equal(t, []string{"LOADING 10 Fetching telemetry", "READY 100 Ready"}, events)

		s.Unsubscribe(id)
		s.setProgress(StateReady, 100, "Ready")
		assert.Len(t, events, 2)
	})

	t.Run("a panicking subscriber is dropped", func(t *testing.T) {
		t.Parallel()
		codec, err := NewCodec()
		require.NoError(t, err)
		s := newSession(2025, 4, "R", codec)

		panics, healthy := 0, 0
		s.Subscribe(func(State, float64, string) {
			panics++
			panic("subscriber bug")
		})
		s.Subscribe(func(State, float64, string) { healthy++ })

		s.setProgress(StateLoading, 10, "Fetching telemetry")
		s.setProgress(StateLoading, 60, "Frames generated")

		assert.Equal(t, 1, panics)
		assert.Equal(t, 2, healthy)
	})

	t.Run("error state fills metadata", func(t *testing.T) {
		t.Parallel()
		codec, err := NewCodec()
		require.NoError(t, err)
		s := newSession(2025, 4, "R", codec)

		s.setProgress(StateError, 100, "No valid telemetry data found for any driver")
		assert.Equal(t, StateError, s.State())
		assert.Equal(t, "No valid telemetry data found for any driver", s.LoadError())
		assert.Equal(t, "No valid telemetry data found for any driver", s.Metadata().Error)
		assert.False(t, s.Loading())
	})
}
