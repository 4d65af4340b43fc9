// Package selector implements the snapshot selection window algorithm and
// the ruler-order scheduling permutation used to decide which archive
// snapshots to fetch, and in what order.
package selector

import (
	"sort"
	"time"
)

const minGap = 30 * 24 * time.Hour

// Select returns the minimal covering subset of avail (unsorted okay)
// within the window [lo, hi] (swapped if inverted), per these rules:
//
//  1. Sort avail. If empty, return empty.
//  2. Include the most recent timestamp strictly older than lo, or (if
//     none) the oldest available timestamp.
//  3. Walk forward; include each subsequent timestamp if it is >= 30 days
//     after the most recently included one, until reaching hi.
//  4. When crossing hi: always include the most recent timestamp older
//     than hi, even if the 30-day rule would forbid it.
//  5. If the archive has no timestamp >= hi, include the newest
//     timestamp available.
func Select(avail []time.Time, lo, hi time.Time) []time.Time {
	if len(avail) == 0 {
		return nil
	}
	if hi.Before(lo) {
		lo, hi = hi, lo
	}

	sorted := append([]time.Time(nil), avail...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Before(sorted[j]) })

	var out []time.Time

	// Rule 2: most recent strictly older than lo, or the oldest available.
	startIdx := 0
	found := false
	for i := len(sorted) - 1; i >= 0; i-- {
		if sorted[i].Before(lo) {
			out = append(out, sorted[i])
			startIdx = i + 1
			found = true
			break
		}
	}
	if !found {
		out = append(out, sorted[0])
		startIdx = 1
	}

	last := out[len(out)-1]
	lastBeforeHiIdx := -1
	for i := startIdx; i < len(sorted); i++ {
		t := sorted[i]
		if !t.Before(hi) {
			break
		}
		if lastBeforeHiIdx == -1 || sorted[i].After(sorted[lastBeforeHiIdx]) {
			lastBeforeHiIdx = i
		}
		if t.Sub(last) >= minGap {
			out = append(out, t)
			last = t
		}
	}

	// Rule 4: always include the most recent timestamp older than hi, even
	// if the 30-day rule would have skipped it.
	if lastBeforeHiIdx != -1 && !sorted[lastBeforeHiIdx].Equal(last) {
		out = append(out, sorted[lastBeforeHiIdx])
	}

	// Rule 5: if nothing in avail reaches hi, include the newest available.
	newest := sorted[len(sorted)-1]
	if newest.Before(hi) && !newest.Equal(out[len(out)-1]) {
		out = append(out, newest)
	}

	return dedupSorted(out)
}

func dedupSorted(ts []time.Time) []time.Time {
	sort.Slice(ts, func(i, j int) bool { return ts[i].Before(ts[j]) })
	out := ts[:0:0]
	for i, t := range ts {
		if i == 0 || !t.Equal(ts[i-1]) {
			out = append(out, t)
		}
	}
	return out
}
