package telemetry

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func evenLap(number int, start float64, dists []float64) Lap {
	n := len(dists)
	s := LapSamples{
		Time:        make([]float64, n),
		X:           make([]float64, n),
		Y:           make([]float64, n),
		Distance:    dists,
		RelDistance: make([]float64, n),
		Speed:       make([]float64, n),
		Gear:        make([]float64, n),
		DRS:         make([]float64, n),
		Throttle:    make([]float64, n),
		Brake:       make([]float64, n),
		RPM:         make([]float64, n),
	}
	for i := range s.Time {
		s.Time[i] = start + float64(i)
		s.Speed[i] = 200
		if n > 1 {
			s.RelDistance[i] = float64(i) / float64(n-1)
		}
	}
	return Lap{
		Number:   number,
		Compound: 2,
		Position: number, // arbitrary but distinct
		LapTime:  90.0,
		Sector1:  30.0,
		Sector2:  math.NaN(),
		Sector3:  30.0,
		Samples:  s,
	}
}

func TestExtractDriver(t *testing.T) {
	t.Parallel()

	t.Run("concatenates laps with cumulative distance", func(t *testing.T) {
		t.Parallel()
		laps := []Lap{
			evenLap(1, 0, []float64{0, 50, 100}),
			evenLap(2, 2, []float64{0, 50, 100}),
		}
		s, err := ExtractDriver("VER", laps)
		require.NoError(t, err)

		assert.Equal(t, 6, s.Len())
		assert.Equal(t, []float64{0, 1, 2, 2, 3, 4}, s.T)
		assert.Equal(t, []float64{0, 50, 100, 100, 150, 200}, s.Dist)
		assert.Equal(t, []float64{1, 1, 1, 2, 2, 2}, s.Lap)
		assert.Equal(t, 0.0, s.TMin)
		assert.Equal(t, 4.0, s.TMax)
		assert.Equal(t, 2, s.MaxLap)
	})

	t.Run("broadcasts lap scalars across samples", func(t *testing.T) {
		t.Parallel()
		s, err := ExtractDriver("HAM", []Lap{evenLap(1, 0, []float64{0, 100})})
		require.NoError(t, err)

		assert.Equal(t, []float64{90, 90}, s.LapTime)
		assert.Equal(t, []float64{30, 30}, s.Sector1)
		assert.True(t, math.IsNaN(s.Sector2[0]))
		assert.True(t, math.IsNaN(s.Sector2[1]))
	})

	t.Run("sorts laps by start time", func(t *testing.T) {
		t.Parallel()
		laps := []Lap{
			evenLap(2, 10, []float64{0, 100}),
			evenLap(1, 0, []float64{0, 100}),
		}
		s, err := ExtractDriver("LEC", laps)
		require.NoError(t, err)
		assert.Equal(t, []float64{0, 1, 10, 11}, s.T)
		assert.Equal(t, []float64{1, 1, 2, 2}, s.Lap)
	})

	t.Run("records lap end positions", func(t *testing.T) {
		t.Parallel()
		s, err := ExtractDriver("NOR", []Lap{
			evenLap(1, 0, []float64{0, 100}),
			evenLap(2, 2, []float64{0, 100}),
		})
		require.NoError(t, err)
		assert.Equal(t, map[int]int{1: 1, 2: 2}, s.LapPositions)
	})

	t.Run("non-monotonic lap time is corrupt", func(t *testing.T) {
		t.Parallel()
		lap := evenLap(1, 0, []float64{0, 50, 100})
		lap.Samples.Time = []float64{0, 2, 1}
		_, err := ExtractDriver("SAI", []Lap{lap})
		assert.ErrorIs(t, err, ErrCorruptTelemetry)
	})

	t.Run("empty laps yield ErrNoLaps", func(t *testing.T) {
		t.Parallel()
		empty := Lap{Number: 1}
		_, err := ExtractDriver("PER", []Lap{empty})
		assert.ErrorIs(t, err, ErrNoLaps)
	})

	t.Run("laps without samples are skipped", func(t *testing.T) {
		t.Parallel()
		s, err := ExtractDriver("ALO", []Lap{
			evenLap(1, 0, []float64{0, 100}),
			{Number: 2},
			evenLap(3, 5, []float64{0, 100}),
		})
		require.NoError(t, err)
		assert.Equal(t, 4, s.Len())
		assert.Equal(t, 3, s.MaxLap)
	})

	t.Run("NaN distance samples do not break accumulation", func(t *testing.T) {
		t.Parallel()
		laps := []Lap{
			evenLap(1, 0, []float64{math.NaN(), 50, 100}),
			evenLap(2, 3, []float64{0, 100}),
		}
		s, err := ExtractDriver("RUS", laps)
		require.NoError(t, err)
		// Lap 1 increment is last-minus-first valid: 100 - 50 = 50.
		assert.Equal(t, 50.0, s.Dist[3])
		assert.Equal(t, 150.0, s.Dist[4])
	})
}

func TestMonotonic(t *testing.T) {
	t.Parallel()
	assert.True(t, monotonic([]float64{1, 1, 2}))
	assert.True(t, monotonic(nil))
	assert.False(t, monotonic([]float64{1, 0.5}))
	assert.False(t, monotonic([]float64{1, math.NaN()}))
}

func TestFirstLastValid(t *testing.T) {
	t.Parallel()
	first, last, ok := firstLastValid([]float64{math.NaN(), 3, 7, math.NaN()})
	require.True(t, ok)
	assert.Equal(t, 3.0, first)
	assert.Equal(t, 7.0, last)

	_, _, ok = firstLastValid([]float64{math.NaN()})
	assert.False(t, ok)
}

func TestErrNoTelemetryMessage(t *testing.T) {
	t.Parallel()
	// Clients match on this exact string.
	assert.Equal(t, "No valid telemetry data found for any driver", ErrNoTelemetry.Error())
	assert.True(t, errors.Is(ErrNoTelemetry, ErrNoTelemetry))
}
