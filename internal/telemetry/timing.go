package telemetry

import (
	"math"
	"sort"
)

// TimingAlignment carries the FIA timing-tower channels reindexed onto the
// common timeline. PosRaw is 0 where the tower had not yet reported the
// driver; gap and interval are NaN where absent. Interval is smoothed once
// at tower-sample level (SmoothInterval); gap-to-leader is left raw because
// it jumps discontinuously on leader changes.
type TimingAlignment struct {
	PosRaw      map[string][]int
	GapToLeader map[string][]float64
	Interval    map[string][]float64
}

// PosAt returns the stream position of driver at grid index k, 0 if absent.
func (ta *TimingAlignment) PosAt(driver string, k int) int {
	if ta == nil {
		return 0
	}
	if p, ok := ta.PosRaw[driver]; ok && k < len(p) {
		return p[k]
	}
	return 0
}

// IntervalAt returns the smoothed interval-to-ahead of driver at grid index
// k, NaN if absent.
func (ta *TimingAlignment) IntervalAt(driver string, k int) float64 {
	if ta == nil {
		return math.NaN()
	}
	if iv, ok := ta.Interval[driver]; ok && k < len(iv) {
		return iv[k]
	}
	return math.NaN()
}

// AlignTiming reindexes the tower table onto the timeline for every known
// driver. Rows for drivers without extracted telemetry are dropped: the
// tower routinely reports entrants whose telemetry feed was unusable.
func AlignTiming(rows []TimingRow, tl *Timeline, known map[string]bool) *TimingAlignment {
	type channel struct {
		t        []float64
		pos      []float64
		gap      []float64
		interval []float64
	}
	perDriver := make(map[string]*channel)

	for _, row := range rows {
		if !known[row.Driver] {
			continue
		}
		ch := perDriver[row.Driver]
		if ch == nil {
			ch = &channel{}
			perDriver[row.Driver] = ch
		}
		ch.t = append(ch.t, row.Time-tl.TMin)
		ch.pos = append(ch.pos, float64(row.Position))
		ch.gap = append(ch.gap, row.GapToLeader)
		ch.interval = append(ch.interval, row.Interval)
	}

	out := &TimingAlignment{
		PosRaw:      make(map[string][]int, len(perDriver)),
		GapToLeader: make(map[string][]float64, len(perDriver)),
		Interval:    make(map[string][]float64, len(perDriver)),
	}

	for code, ch := range perDriver {
		order := argsort(ch.t)
		t := reorder(ch.t, order)
		keep := dedupeIndices(t)
		ts := pick(t, keep)
		pos := pick(reorder(ch.pos, order), keep)
		gap := pick(reorder(ch.gap, order), keep)
		interval := SmoothInterval(pick(reorder(ch.interval, order), keep))

		out.PosRaw[code] = stepInts(tl.Rel, ts, pos)
		out.GapToLeader[code] = resampleLinear(tl.Rel, ts, gap)
		out.Interval[code] = resampleLinear(tl.Rel, ts, interval)
		tracef("timing aligned for %s: %d tower samples", code, len(ts))
	}
	return out
}

// stepInts step-samples a position series onto grid. Grid instants before
// the first tower update yield 0 (absent).
func stepInts(grid, ts, ys []float64) []int {
	out := make([]int, len(grid))
	if len(ts) == 0 {
		return out
	}
	for i, g := range grid {
		j := sort.SearchFloat64s(ts, g)
		if j == len(ts) || ts[j] != g {
			j--
		}
		if j < 0 {
			continue // not yet reported
		}
		v := ys[j]
		if !math.IsNaN(v) && v > 0 {
			out[i] = int(math.Round(v))
		}
	}
	return out
}

func argsort(xs []float64) []int {
	order := make([]int, len(xs))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return xs[order[a]] < xs[order[b]] })
	return order
}

func reorder(xs []float64, order []int) []float64 {
	out := make([]float64, len(order))
	for i, j := range order {
		out[i] = xs[j]
	}
	return out
}
