package pipeline

import (
	"context"
	"log/slog"
	"runtime"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
	"ptgraph.dev/internal/logging"
	"ptgraph.dev/internal/models"
	"ptgraph.dev/internal/utils"
)

// defaultRouteType is assumed for trips whose route row is unavailable.
const defaultRouteType = 3

// TripInfo is the metadata edge derivation needs for one trip.
type TripInfo struct {
	RouteID    string
	RouteName  string
	RouteType  int
	FeedSource string
}

// TripIndex is the immutable trip id to metadata lookup.
type TripIndex map[string]TripInfo

// NewTripIndex joins trips with their routes. A route is matched within the
// trip's own feed first, then across feeds. The last row for a trip id wins.
func NewTripIndex(trips []models.Trip, routes []models.Route) TripIndex {
	type feedRoute struct{ feed, id string }
	byFeed := make(map[feedRoute]models.Route, len(routes))
	byID := make(map[string]models.Route, len(routes))
	for _, r := range routes {
		byFeed[feedRoute{r.FeedSource, r.RouteID}] = r
		if _, ok := byID[r.RouteID]; !ok {
			byID[r.RouteID] = r
		}
	}

	index := make(TripIndex, len(trips))
	for _, t := range trips {
		info := TripInfo{
			RouteID:    t.RouteID,
			RouteName:  "Unknown",
			RouteType:  defaultRouteType,
			FeedSource: t.FeedSource,
		}
		route, ok := byFeed[feedRoute{t.FeedSource, t.RouteID}]
		if !ok {
			route, ok = byID[t.RouteID]
		}
		if ok {
			info.RouteName = route.DisplayName()
			info.RouteType = route.RouteType
		}
		index[t.TripID] = info
	}
	return index
}

type coord struct {
	lat, lon float64
	ok       bool
}

// CoordIndex resolves raw stop ids to coordinates. It covers every raw stop,
// filtered or not; the last row for a stop id wins.
type CoordIndex map[string]coord

func NewCoordIndex(stops []models.RawStop) CoordIndex {
	index := make(CoordIndex, len(stops))
	for _, s := range stops {
		index[s.StopID] = coord{lat: s.Lat, lon: s.Lon, ok: s.HasCoords}
	}
	return index
}

// Lookup returns the coordinates of a stop, if known.
func (c CoordIndex) Lookup(stopID string) (lat, lon float64, ok bool) {
	v, found := c[stopID]
	if !found || !v.ok {
		return 0, 0, false
	}
	return v.lat, v.lon, true
}

// EdgeDeriver walks each trip's visits and emits one raw edge per
// consecutive pair of distinct stations. All lookups are read-only, so trips
// are processed in parallel.
type EdgeDeriver struct {
	Stations   *StationMap
	Trips      TripIndex
	Coords     CoordIndex
	Classifier *ModeClassifier
	// Workers bounds the parallelism; 0 means runtime.NumCPU.
	Workers int
	// StrictTimes counts malformed time strings as MalformedTime instead of
	// reading them as midnight.
	StrictTimes bool

	// ProgressInterval throttles progress logs; 0 means 5s.
	ProgressInterval time.Duration
}

// DeriveResult is the output of EdgeDeriver.Derive.
type DeriveResult struct {
	Edges    []models.RawEdge
	Discards DiscardCounts
	Trips    int
}

type tripVisits struct {
	tripID string
	visits []models.StopTime
}

// Derive produces the raw edges of stopTimes. Edges are ordered by trip id
// (see CompareTripIDs) then stop sequence, whatever the worker count.
func (d *EdgeDeriver) Derive(ctx context.Context, stopTimes []models.StopTime) (*DeriveResult, error) {
	logger := slog.Default().With(slog.String("component", "edge_deriver"))

	groups := groupByTrip(stopTimes)

	workers := d.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	workers = min(workers, max(len(groups), 1))

	interval := d.ProgressInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	progress := &rate.Sometimes{Interval: interval}
	var done atomic.Int64

	results := make([][]models.RawEdge, len(groups))
	discards := make([]DiscardCounts, workers)
	jobs := make(chan int)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := range jobs {
				results[i] = d.deriveTrip(groups[i], &discards[w])
				n := done.Add(1)
				progress.Do(func() {
					logging.LogOperation(logger, "deriving_edges",
						slog.Int64("trips_done", n),
						slog.Int("trips_total", len(groups)))
				})
			}
		}(w)
	}

	var cancelled error
feed:
	for i := range groups {
		select {
		case jobs <- i:
		case <-ctx.Done():
			cancelled = ctx.Err()
			break feed
		}
	}
	close(jobs)
	wg.Wait()
	if cancelled != nil {
		return nil, cancelled
	}

	result := &DeriveResult{Trips: len(groups)}
	total := 0
	for _, edges := range results {
		total += len(edges)
	}
	result.Edges = make([]models.RawEdge, 0, total)
	for _, edges := range results {
		result.Edges = append(result.Edges, edges...)
	}
	for _, c := range discards {
		result.Discards.Merge(c)
	}

	logging.LogOperation(logger, "edges_derived",
		slog.Int("trips", result.Trips),
		slog.Int("edges", len(result.Edges)),
		slog.Int("discarded", result.Discards.Total()))
	for _, r := range DiscardReasons() {
		if n := result.Discards.Get(r); n > 0 {
			logging.LogOperation(logger, "edges_discarded",
				slog.String("reason", r.String()), slog.Int("count", n))
		}
	}

	return result, nil
}

// groupByTrip buckets visits by trip, orders each trip by stop_sequence
// (stable, so storage order breaks ties) and orders trips by id.
func groupByTrip(stopTimes []models.StopTime) []tripVisits {
	byTrip := make(map[string][]models.StopTime)
	for _, st := range stopTimes {
		byTrip[st.TripID] = append(byTrip[st.TripID], st)
	}

	groups := make([]tripVisits, 0, len(byTrip))
	for id, visits := range byTrip {
		slices.SortStableFunc(visits, func(a, b models.StopTime) int {
			return a.StopSequence - b.StopSequence
		})
		groups = append(groups, tripVisits{tripID: id, visits: visits})
	}
	slices.SortFunc(groups, func(a, b tripVisits) int {
		return CompareTripIDs(a.tripID, b.tripID)
	})
	return groups
}

func (d *EdgeDeriver) deriveTrip(trip tripVisits, discards *DiscardCounts) []models.RawEdge {
	pairs := len(trip.visits) - 1
	if pairs <= 0 {
		return nil
	}

	info, ok := d.Trips[trip.tripID]
	if !ok {
		discards.Add(MissingTripInfo, pairs)
		return nil
	}
	mode := d.Classifier.Classify(info.FeedSource, info.RouteType)

	var edges []models.RawEdge
	for i := 0; i < pairs; i++ {
		from, to := trip.visits[i], trip.visits[i+1]

		fromStation, okFrom := d.Stations.Lookup(from.StopID)
		toStation, okTo := d.Stations.Lookup(to.StopID)
		if !okFrom || !okTo {
			discards.Add(MissingStation, 1)
			continue
		}
		if fromStation == toStation {
			discards.Add(SelfLoop, 1)
			continue
		}

		fromLat, fromLon, okFrom := d.Coords.Lookup(from.StopID)
		toLat, toLon, okTo := d.Coords.Lookup(to.StopID)
		if !okFrom || !okTo {
			discards.Add(MissingCoords, 1)
			continue
		}

		elapsed, ok := d.elapsed(from.DepartureTime, to.ArrivalTime)
		if !ok {
			discards.Add(MalformedTime, 1)
			continue
		}
		if elapsed <= 0 || elapsed > utils.MaxTravelSeconds {
			discards.Add(BadTime, 1)
			continue
		}

		distance := utils.HaversineDistance(fromLat, fromLon, toLat, toLon)
		if !(distance > 0) {
			discards.Add(BadDistance, 1)
			continue
		}

		edges = append(edges, models.RawEdge{
			From:      fromStation,
			To:        toStation,
			RouteID:   info.RouteID,
			RouteName: info.RouteName,
			Mode:      mode,
			Time:      elapsed,
			Distance:  distance,
			TripID:    trip.tripID,
		})
	}
	return edges
}

// elapsed returns the travel time between two visits. ok is false only in
// strict mode, when either time string is malformed.
func (d *EdgeDeriver) elapsed(departure, arrival string) (int, bool) {
	if !d.StrictTimes {
		return utils.TimeDiff(departure, arrival), true
	}
	dep, err := utils.ParseGTFSTimeStrict(departure)
	if err != nil {
		return 0, false
	}
	arr, err := utils.ParseGTFSTimeStrict(arrival)
	if err != nil {
		return 0, false
	}
	return utils.SecondsDiff(dep, arr), true
}
