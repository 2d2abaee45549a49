package telemetry

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSortCandidates(t *testing.T) {
	t.Parallel()

	t.Run("tower position wins", func(t *testing.T) {
		t.Parallel()
		order := sortCandidates([]RankInput{
			{Driver: "HAM", PosRaw: 2, Progress: 9000},
			{Driver: "VER", PosRaw: 1, Progress: 100},
		})
		assert.Equal(t, []string{"VER", "HAM"}, order)
	})

	t.Run("interval breaks equal positions", func(t *testing.T) {
		t.Parallel()
		order := sortCandidates([]RankInput{
			{Driver: "HAM", PosRaw: 3, Interval: 1.2},
			{Driver: "LEC", PosRaw: 3, Interval: 0.4},
		})
		assert.Equal(t, []string{"LEC", "HAM"}, order)
	})

	t.Run("progress decides when the tower is silent", func(t *testing.T) {
		t.Parallel()
		order := sortCandidates([]RankInput{
			{Driver: "HAM", Interval: math.NaN(), Progress: 500},
			{Driver: "VER", Interval: math.NaN(), Progress: 800},
		})
		assert.Equal(t, []string{"VER", "HAM"}, order)
	})

	t.Run("unreported position sorts behind reported", func(t *testing.T) {
		t.Parallel()
		order := sortCandidates([]RankInput{
			{Driver: "HAM", PosRaw: 0, Progress: 9000},
			{Driver: "VER", PosRaw: 15, Progress: 100},
		})
		assert.Equal(t, []string{"VER", "HAM"}, order)
	})
}

func TestBoardHysteresis(t *testing.T) {
	t.Parallel()

	t.Run("suppresses a swap inside the green window", func(t *testing.T) {
		t.Parallel()
		b := NewBoard()
		assert.Equal(t, []string{"VER", "HAM"}, b.Rank(0, false, []RankInput{
			{Driver: "VER", Progress: 800},
			{Driver: "HAM", Progress: 500},
		}))
		// HAM noses ahead one frame later; the order holds.
		assert.Equal(t, []string{"VER", "HAM"}, b.Rank(Dt, false, []RankInput{
			{Driver: "VER", Progress: 801},
			{Driver: "HAM", Progress: 803},
		}))
		// Once the window expires the swap goes through.
		assert.Equal(t, []string{"HAM", "VER"}, b.Rank(1.5, false, []RankInput{
			{Driver: "VER", Progress: 900},
			{Driver: "HAM", Progress: 950},
		}))
	})

	t.Run("caution shortens the window", func(t *testing.T) {
		t.Parallel()
		b := NewBoard()
		b.Rank(0, true, []RankInput{
			{Driver: "VER", Progress: 800},
			{Driver: "HAM", Progress: 500},
		})
		assert.Equal(t, []string{"VER", "HAM"}, b.Rank(0.2, true, []RankInput{
			{Driver: "VER", Progress: 801},
			{Driver: "HAM", Progress: 803},
		}))
		assert.Equal(t, []string{"HAM", "VER"}, b.Rank(0.4, true, []RankInput{
			{Driver: "VER", Progress: 805},
			{Driver: "HAM", Progress: 810},
		}))
	})

	t.Run("suppressed swap does not refresh the window", func(t *testing.T) {
		t.Parallel()
		b := NewBoard()
		b.Rank(0, false, []RankInput{
			{Driver: "VER", Progress: 800},
			{Driver: "HAM", Progress: 500},
		})
		// The candidate swap flaps every frame but the emitted order is
		// stable, so the change window keeps counting from t=0.
		for _, tt := range []float64{0.2, 0.5, 0.9} {
			assert.Equal(t, []string{"VER", "HAM"}, b.Rank(tt, false, []RankInput{
				{Driver: "VER", Progress: 800},
				{Driver: "HAM", Progress: 800 + tt},
			}))
		}
		assert.Equal(t, []string{"HAM", "VER"}, b.Rank(1.0, false, []RankInput{
			{Driver: "VER", Progress: 800},
			{Driver: "HAM", Progress: 802},
		}))
	})

	t.Run("departed drivers free their slots", func(t *testing.T) {
		t.Parallel()
		b := NewBoard()
		b.Rank(0, false, []RankInput{
			{Driver: "VER", Progress: 900},
			{Driver: "HAM", Progress: 800},
			{Driver: "LEC", Progress: 700},
		})
		// HAM drops out of the active field; the remaining two compact.
		out := b.Rank(Dt, false, []RankInput{
			{Driver: "VER", Progress: 901},
			{Driver: "LEC", Progress: 701},
		})
		assert.Equal(t, []string{"VER", "LEC"}, out)
	})
}

func TestApplyAnchors(t *testing.T) {
	t.Parallel()

	t.Run("anchored driver snaps to the official slot", func(t *testing.T) {
		t.Parallel()
		b := NewBoard()
		out := b.Rank(0, false, []RankInput{
			{Driver: "VER", Progress: 900},
			{Driver: "HAM", Progress: 800},
			{Driver: "LEC", Progress: 700, AnchorPos: 1},
		})
		assert.Equal(t, []string{"LEC", "VER", "HAM"}, out)
	})

	t.Run("anchor past the field clamps to last", func(t *testing.T) {
		t.Parallel()
		out := applyAnchors([]string{"VER", "HAM", "LEC"}, []RankInput{
			{Driver: "VER", AnchorPos: 9},
			{Driver: "HAM"},
			{Driver: "LEC"},
		})
		assert.Equal(t, []string{"HAM", "LEC", "VER"}, out)
	})

	t.Run("colliding anchors advance to the next free slot", func(t *testing.T) {
		t.Parallel()
		out := applyAnchors([]string{"VER", "HAM", "LEC"}, []RankInput{
			{Driver: "HAM", AnchorPos: 1},
			{Driver: "LEC", AnchorPos: 1},
			{Driver: "VER"},
		})
		assert.Equal(t, []string{"HAM", "LEC", "VER"}, out)
	})
}

func TestTimeGap(t *testing.T) {
	t.Parallel()
	// 36 km/h is 10 m/s.
	assert.InDelta(t, 2.0, TimeGap(20, 36), 1e-12)
	assert.Equal(t, 0.0, TimeGap(-5, 36))
	assert.Equal(t, 0.0, TimeGap(20, 0))
	assert.Equal(t, 0.0, TimeGap(math.NaN(), 36))
	assert.Equal(t, 0.0, TimeGap(20, math.NaN()))
}
