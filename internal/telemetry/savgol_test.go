package telemetry

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSmoothInterval(t *testing.T) {
	t.Parallel()

	t.Run("reproduces a quadratic exactly", func(t *testing.T) {
		t.Parallel()
		// An order-2 fit is exact on quadratic data, so smoothing is a
		// fixed point here.
		ys := make([]float64, 20)
		for i := range ys {
			x := float64(i)
			ys[i] = 0.5*x*x - 3*x + 2
		}
		out := SmoothInterval(ys)
		require.Len(t, out, len(ys))
		for i := range ys {
			assert.InDelta(t, ys[i], out[i], 1e-8, "index %d", i)
		}
	})

	t.Run("missing samples stay missing", func(t *testing.T) {
		t.Parallel()
		ys := []float64{1, 2, math.NaN(), 4, 5, 6, 7, 8, math.NaN(), 10}
		out := SmoothInterval(ys)
		assert.True(t, math.IsNaN(out[2]))
		assert.True(t, math.IsNaN(out[8]))
		for i, v := range out {
			if i == 2 || i == 8 {
				continue
			}
			assert.False(t, math.IsNaN(v), "index %d", i)
		}
	})

	t.Run("short series returned unchanged", func(t *testing.T) {
		t.Parallel()
		ys := []float64{3, 9}
		out := SmoothInterval(ys)
		assert.Equal(t, ys, out)
	})

	t.Run("all missing returned unchanged", func(t *testing.T) {
		t.Parallel()
		out := SmoothInterval([]float64{math.NaN(), math.NaN(), math.NaN()})
		for _, v := range out {
			assert.True(t, math.IsNaN(v))
		}
	})

	t.Run("damps a single spike", func(t *testing.T) {
		t.Parallel()
		ys := []float64{5, 5, 5, 5, 9, 5, 5, 5, 5}
		out := SmoothInterval(ys)
		assert.Less(t, out[4], 9.0)
		assert.Greater(t, out[4], 5.0)
	})
}

func TestSavitzkyGolayWindowRule(t *testing.T) {
	t.Parallel()

	// 5 valid samples: window = (5/2)*2-1 = 3.
	ys := []float64{1, 2, 3, 4, 100}
	out := SmoothInterval(ys)
	require.Len(t, out, 5)
	// A window-3 order-2 fit passes through all three points, so the
	// series is unchanged.
	for i := range ys {
		assert.InDelta(t, ys[i], out[i], 1e-8)
	}
}
