package telemetry

import (
	"math"
	"sort"
)

// posSentinel sorts drivers without a usable key behind everyone who has
// one.
const posSentinel = 9999

// Hysteresis windows. Rank changes are suppressed until the driver's last
// accepted change is at least this old; under caution the field bunches up
// and the tower churns, so the window shrinks.
const (
	hysteresisGreen   = 1.0
	hysteresisCaution = 0.3
)

// RankInput is one active driver's sort keys for a single frame.
// PosRaw is the timing-tower position (0 = not reported), Interval the
// smoothed gap to the car ahead (NaN = absent), Progress the cumulative
// race distance. AnchorPos, when nonzero, pins the driver to an official
// classified position and bypasses the smoother for this frame.
type RankInput struct {
	Driver    string
	PosRaw    int
	Interval  float64
	Progress  float64
	AnchorPos int
}

// Board orders the active field frame by frame. Sorting runs three tiers
// (tower position, smoothed interval, race progress), then a time-based
// hysteresis smoother suppresses rapid swaps, then official lap-boundary
// positions are snapped in. The zero value is not usable; call NewBoard.
type Board struct {
	prevRank   map[string]int
	prevOrder  []string
	lastChange map[string]float64
}

// NewBoard returns a Board with no history; the first frame's candidate
// order is emitted as-is.
func NewBoard() *Board {
	return &Board{
		prevRank:   make(map[string]int),
		lastChange: make(map[string]float64),
	}
}

// Rank returns the active drivers in race order for the frame at relative
// time t. caution selects the shorter hysteresis window.
func (b *Board) Rank(t float64, caution bool, in []RankInput) []string {
	if len(in) == 0 {
		b.prevOrder = nil
		b.prevRank = make(map[string]int)
		return nil
	}

	candidates := sortCandidates(in)
	smoothed := b.smooth(t, caution, candidates)
	final := applyAnchors(smoothed, in)

	// History records the emitted order so the next frame's smoother works
	// against what viewers actually saw. Only genuine moves are
	// timestamped; anchored snaps and steady drivers keep their window.
	newRank := make(map[string]int, len(final))
	for i, d := range final {
		newRank[d] = i
		prev, seen := b.prevRank[d]
		if !seen || prev != i {
			b.lastChange[d] = t
		}
	}
	b.prevRank = newRank
	b.prevOrder = final
	return final
}

// sortCandidates runs tiers 1, 1.5 and 2: tower position, then smoothed
// interval within equal position, then race progress descending.
func sortCandidates(in []RankInput) []string {
	type key struct {
		driver   string
		pos      int
		interval float64
		progress float64
	}
	keys := make([]key, len(in))
	for i, r := range in {
		k := key{driver: r.Driver, pos: r.PosRaw, interval: r.Interval, progress: r.Progress}
		if k.pos <= 0 {
			k.pos = posSentinel
		}
		if math.IsNaN(k.interval) {
			k.interval = posSentinel
		}
		if math.IsNaN(k.progress) {
			k.progress = 0
		}
		keys[i] = k
	}
	sort.SliceStable(keys, func(i, j int) bool {
		a, c := keys[i], keys[j]
		if a.pos != c.pos {
			return a.pos < c.pos
		}
		if a.interval != c.interval {
			return a.interval < c.interval
		}
		return a.progress > c.progress
	})
	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = k.driver
	}
	return out
}

// smooth applies the hysteresis tier. Drivers whose candidate rank differs
// from the previous frame hold their old rank until the window expires;
// everyone else fills the remaining slots in candidate order.
func (b *Board) smooth(t float64, caution bool, candidates []string) []string {
	theta := hysteresisGreen
	if caution {
		theta = hysteresisCaution
	}

	present := make(map[string]bool, len(candidates))
	for _, d := range candidates {
		present[d] = true
	}

	// Previous ranks reindexed over the drivers still present, so held
	// slots stay inside [0, n).
	prevRank := make(map[string]int, len(candidates))
	i := 0
	for _, d := range b.prevOrder {
		if present[d] {
			prevRank[d] = i
			i++
		}
	}

	n := len(candidates)
	out := make([]string, n)
	taken := make([]bool, n)
	var flexible []string

	for ci, d := range candidates {
		pr, seen := prevRank[d]
		if seen && pr != ci && t-b.lastChange[d] < theta {
			out[pr] = d
			taken[pr] = true
			continue
		}
		flexible = append(flexible, d)
	}

	slot := 0
	for _, d := range flexible {
		for taken[slot] {
			slot++
		}
		out[slot] = d
		taken[slot] = true
	}
	return out
}

// applyAnchors snaps drivers with an official lap-boundary position to that
// rank; the rest keep their smoothed relative order in the leftover slots.
func applyAnchors(order []string, in []RankInput) []string {
	anchor := make(map[string]int)
	for _, r := range in {
		if r.AnchorPos > 0 {
			anchor[r.Driver] = r.AnchorPos
		}
	}
	if len(anchor) == 0 {
		return order
	}

	n := len(order)
	anchored := make([]string, 0, len(anchor))
	for d := range anchor {
		anchored = append(anchored, d)
	}
	sort.Slice(anchored, func(i, j int) bool {
		if anchor[anchored[i]] != anchor[anchored[j]] {
			return anchor[anchored[i]] < anchor[anchored[j]]
		}
		return anchored[i] < anchored[j]
	})

	out := make([]string, n)
	taken := make([]bool, n)
	for _, d := range anchored {
		slot := anchor[d] - 1
		if slot >= n {
			slot = n - 1
		}
		for slot < n && taken[slot] {
			slot++
		}
		if slot >= n {
			for slot = 0; taken[slot]; slot++ {
			}
		}
		out[slot] = d
		taken[slot] = true
	}

	slot := 0
	for _, d := range order {
		if _, isAnchored := anchor[d]; isAnchored {
			continue
		}
		for taken[slot] {
			slot++
		}
		out[slot] = d
		taken[slot] = true
	}
	return out
}

// TimeGap converts a distance deficit in metres to a time gap in seconds at
// the chasing driver's speed (km/h). Non-positive deficits or speeds give 0.
func TimeGap(deltaDist, speedKmh float64) float64 {
	if math.IsNaN(deltaDist) || math.IsNaN(speedKmh) {
		return 0
	}
	v := speedKmh * 1000 / 3600
	if v <= 0 || deltaDist <= 0 {
		return 0
	}
	return deltaDist / v
}
