package pipeline

import (
	"iter"
	"slices"

	"ptgraph.dev/internal/models"
	"ptgraph.dev/internal/utils"
)

// StopPredicate reports whether a raw stop survives a filter.
type StopPredicate func(models.RawStop) bool

// Filter lazily yields the stops of seq accepted by keep.
func Filter(seq iter.Seq[models.RawStop], keep StopPredicate) iter.Seq[models.RawStop] {
	return func(yield func(models.RawStop) bool) {
		for s := range seq {
			if keep(s) && !yield(s) {
				return
			}
		}
	}
}

// counted passes seq through unchanged, counting the stops it yields.
func counted(seq iter.Seq[models.RawStop], n *int) iter.Seq[models.RawStop] {
	return func(yield func(models.RawStop) bool) {
		for s := range seq {
			*n++
			if !yield(s) {
				return
			}
		}
	}
}

// IsRoutableType keeps platform-level stops and parent stations.
func IsRoutableType(s models.RawStop) bool {
	return s.LocationType == models.LocationStop || s.LocationType == models.LocationStation
}

// HasValidCoords rejects missing coordinates and the 0 placeholder.
func HasValidCoords(s models.RawStop) bool {
	return s.HasCoords && s.Lat != 0 && s.Lon != 0
}

// WithinRegion keeps stops inside bounds, edges included.
func WithinRegion(bounds utils.CoordinateBounds) StopPredicate {
	return func(s models.RawStop) bool {
		return bounds.Contains(s.Lat, s.Lon)
	}
}

// StationID returns the station a surviving stop collapses into: a parent
// station is its own station, a platform joins its parent, and a stop with
// no parent stands alone.
func StationID(s models.RawStop) string {
	if s.LocationType == models.LocationStation {
		return s.StopID
	}
	if s.ParentStation != "" {
		return s.ParentStation
	}
	return s.StopID
}

// StationMap is the immutable stop to station lookup.
type StationMap struct {
	index map[string]string
	order []string
}

func newStationMap() *StationMap {
	return &StationMap{index: make(map[string]string)}
}

// insert adds stopID unless it is already mapped.
func (m *StationMap) insert(stopID, stationID string) {
	if _, ok := m.index[stopID]; ok {
		return
	}
	m.index[stopID] = stationID
	m.order = append(m.order, stopID)
}

// Lookup returns the station a stop belongs to.
func (m *StationMap) Lookup(stopID string) (string, bool) {
	id, ok := m.index[stopID]
	return id, ok
}

func (m *StationMap) Len() int {
	return len(m.index)
}

// All yields stop and station ids in insertion order.
func (m *StationMap) All() iter.Seq2[string, string] {
	return func(yield func(string, string) bool) {
		for _, stopID := range m.order {
			if !yield(stopID, m.index[stopID]) {
				return
			}
		}
	}
}

// Entries returns the mapping as rows, in insertion order.
func (m *StationMap) Entries() []models.StopStation {
	out := make([]models.StopStation, 0, len(m.order))
	for stopID, stationID := range m.All() {
		out = append(out, models.StopStation{StopID: stopID, StationID: stationID})
	}
	return out
}

// NewStationMap rebuilds a map from stored rows. The first row for a stop wins.
func NewStationMap(entries []models.StopStation) *StationMap {
	m := newStationMap()
	for _, e := range entries {
		m.insert(e.StopID, e.StationID)
	}
	return m
}

// StationStats counts the stops left after each filter.
type StationStats struct {
	Raw        int
	ValidType  int
	WithCoords int
	InRegion   int
	Stations   int
	Mappings   int
}

// StationResult is the output of ResolveStations.
type StationResult struct {
	// Stations holds one row per station id in order of first appearance.
	Stations []models.Station
	Map      *StationMap
	Stats    StationStats
}

// ResolveStations filters raw stops and collapses platforms into stations.
// When several stops share a station id the first surviving row, in feed
// then row order, supplies the station's name and coordinates.
func ResolveStations(stops []models.RawStop, region utils.CoordinateBounds) StationResult {
	var stats StationStats

	seq := counted(slices.Values(stops), &stats.Raw)
	seq = counted(Filter(seq, IsRoutableType), &stats.ValidType)
	seq = counted(Filter(seq, HasValidCoords), &stats.WithCoords)
	seq = counted(Filter(seq, WithinRegion(region)), &stats.InRegion)

	stationMap := newStationMap()
	seen := make(map[string]bool)
	var stations []models.Station
	var parents []string

	for s := range seq {
		id := StationID(s)
		stationMap.insert(s.StopID, id)
		if s.LocationType == models.LocationStation {
			parents = append(parents, s.StopID)
		}
		if seen[id] {
			continue
		}
		seen[id] = true
		stations = append(stations, models.Station{
			StationID: id,
			Name:      s.Name,
			Lat:       s.Lat,
			Lon:       s.Lon,
		})
	}

	// Trip data sometimes references a parent station directly.
	for _, id := range parents {
		stationMap.insert(id, id)
	}

	stats.Stations = len(stations)
	stats.Mappings = stationMap.Len()

	return StationResult{
		Stations: stations,
		Map:      stationMap,
		Stats:    stats,
	}
}
