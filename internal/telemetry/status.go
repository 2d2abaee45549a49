package telemetry

import "sort"

// Track status codes as broadcast by race control.
const (
	StatusGreen     = "1"
	StatusYellow    = "2"
	StatusSafetyCar = "4"
	StatusVSC       = "6"
	StatusRedFlag   = "7"
)

// TrackStatusInterval is one race-control phase on the relative timeline.
// End equals the next interval's Start; the final interval is open-ended
// (End < 0).
type TrackStatusInterval struct {
	Status string  `json:"status"`
	Start  float64 `json:"start_time"`
	End    float64 `json:"end_time"`
}

// TrackStatusTable answers point queries against the interval sequence.
type TrackStatusTable struct {
	Intervals []TrackStatusInterval
}

// BuildTrackStatus converts raw status rows (absolute session seconds) into
// relative intervals. Rows are sorted by time; each interval is closed by
// the start of the next.
func BuildTrackStatus(rows []TrackStatusRow, tMin float64) *TrackStatusTable {
	sorted := make([]TrackStatusRow, len(rows))
	copy(sorted, rows)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Time < sorted[j].Time })

	intervals := make([]TrackStatusInterval, 0, len(sorted))
	for i, row := range sorted {
		iv := TrackStatusInterval{Status: row.Status, Start: row.Time - tMin, End: -1}
		if i+1 < len(sorted) {
			iv.End = sorted[i+1].Time - tMin
		}
		intervals = append(intervals, iv)
	}
	return &TrackStatusTable{Intervals: intervals}
}

// At returns the status code in effect at relative time t. Before the first
// interval the track is treated as green.
func (st *TrackStatusTable) At(t float64) string {
	status := StatusGreen
	for _, iv := range st.Intervals {
		if iv.Start > t {
			break
		}
		status = iv.Status
	}
	return status
}

// RaceStart returns the relative time of the first green-flag interval.
// ok is false when the feed never reported green; callers fall back to the
// start of the timeline.
func (st *TrackStatusTable) RaceStart() (float64, bool) {
	for _, iv := range st.Intervals {
		if iv.Status == StatusGreen {
			return iv.Start, true
		}
	}
	return 0, false
}

// UnderCaution reports whether the code slows the field enough that rank
// hysteresis should loosen (safety car, VSC, red flag).
func UnderCaution(status string) bool {
	switch status {
	case StatusSafetyCar, StatusVSC, StatusRedFlag:
		return true
	}
	return false
}
