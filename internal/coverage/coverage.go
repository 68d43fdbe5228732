// Package coverage derives the missing date sub-ranges ("gaps") of a
// partition record log for a requested window.
package coverage

import "github.com/gco-platform/ledgersync/pkg/types"

// Gaps walks the requested window month by month against the YYYY-MM buckets
// present in the log, coalescing consecutive absent months into single gaps.
// The first gap is clipped to the window start and the last to the window end,
// so partially-covered boundary months never request out-of-window data.
// Gaps are returned oldest first; an empty result means fully covered.
//
// An empty log yields exactly one gap equal to the full requested window.
func Gaps(months map[string]bool, window types.DateRange) []types.DateRange {
	var (
		gaps     []types.DateRange
		gapStart types.Date
	)

	cur := window.Start.FirstOfMonth()
	last := window.End.FirstOfMonth()
	for !cur.After(last) {
		if !months[cur.MonthKey()] {
			if gapStart.IsZero() {
				gapStart = cur
			}
		} else if !gapStart.IsZero() {
			// A present month closes the running gap at the previous
			// month's last day.
			gaps = append(gaps, clip(gapStart, cur.AddDays(-1), window))
			gapStart = types.Date{}
		}
		cur = cur.AddMonths(1)
	}

	if !gapStart.IsZero() {
		gaps = append(gaps, clip(gapStart, window.End, window))
	}
	return gaps
}

func clip(start, end types.Date, window types.DateRange) types.DateRange {
	if start.Before(window.Start) {
		start = window.Start
	}
	if end.After(window.End) {
		end = window.End
	}
	return types.DateRange{Start: start, End: end}
}
