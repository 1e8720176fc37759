package pipeline

import (
	"cmp"
	"slices"
	"strconv"

	"ptgraph.dev/internal/models"
)

// CompareTripIDs orders trip ids: two integer ids compare numerically,
// integer ids sort before all others, and anything else compares as text.
func CompareTripIDs(a, b string) int {
	na, errA := strconv.ParseInt(a, 10, 64)
	nb, errB := strconv.ParseInt(b, 10, 64)
	switch {
	case errA == nil && errB == nil:
		if c := cmp.Compare(na, nb); c != 0 {
			return c
		}
		return cmp.Compare(a, b)
	case errA == nil:
		return -1
	case errB == nil:
		return 1
	default:
		return cmp.Compare(a, b)
	}
}

// MergeStats summarises a merge.
type MergeStats struct {
	Raw          int
	Merged       int
	Duplicates   int
	ZeroTime     int
	ZeroDistance int
	AvgTime      float64
	AvgDistance  float64
	ModeCounts   map[models.Mode]int
}

type stationPair struct {
	from, to string
}

// MergeEdges keeps one edge per (From, To) pair: the edge of the smallest
// trip id, ties kept in input order. This picks a representative trip; the
// times of other trips serving the same pair are dropped. The result is
// sorted by From then To.
func MergeEdges(raw []models.RawEdge) ([]models.MergedEdge, MergeStats) {
	sorted := slices.Clone(raw)
	slices.SortStableFunc(sorted, func(a, b models.RawEdge) int {
		return CompareTripIDs(a.TripID, b.TripID)
	})

	seen := make(map[stationPair]bool, len(sorted))
	merged := make([]models.MergedEdge, 0, len(sorted))
	for _, e := range sorted {
		key := stationPair{e.From, e.To}
		if seen[key] {
			continue
		}
		seen[key] = true
		merged = append(merged, e.Merged())
	}
	slices.SortFunc(merged, func(a, b models.MergedEdge) int {
		if c := cmp.Compare(a.From, b.From); c != 0 {
			return c
		}
		return cmp.Compare(a.To, b.To)
	})

	return merged, summarize(len(raw), merged)
}

func summarize(raw int, merged []models.MergedEdge) MergeStats {
	stats := MergeStats{
		Raw:        raw,
		Merged:     len(merged),
		Duplicates: raw - len(merged),
		ModeCounts: make(map[models.Mode]int),
	}
	var totalTime, totalDistance float64
	for _, e := range merged {
		if e.Time == 0 {
			stats.ZeroTime++
		}
		if e.Distance == 0 {
			stats.ZeroDistance++
		}
		totalTime += float64(e.Time)
		totalDistance += e.Distance
		stats.ModeCounts[e.Mode]++
	}
	if len(merged) > 0 {
		stats.AvgTime = totalTime / float64(len(merged))
		stats.AvgDistance = totalDistance / float64(len(merged))
	}
	return stats
}
