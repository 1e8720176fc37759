package gtfs

import (
	"slices"
	"strings"

	"ptgraph.dev/internal/models"
)

// FilterRoutes keeps routes whose type is allowed and whose long name does
// not contain keyword, case-insensitively. An empty keyword excludes nothing.
func FilterRoutes(routes []models.Route, allowedTypes []int, keyword string) []models.Route {
	keyword = strings.ToLower(keyword)
	kept := make([]models.Route, 0, len(routes))
	for _, r := range routes {
		if !slices.Contains(allowedTypes, r.RouteType) {
			continue
		}
		if keyword != "" && strings.Contains(strings.ToLower(r.LongName), keyword) {
			continue
		}
		kept = append(kept, r)
	}
	return kept
}

// FilterTrips keeps trips that belong to one of routes.
func FilterTrips(trips []models.Trip, routes []models.Route) []models.Trip {
	routeIDs := make(map[string]struct{}, len(routes))
	for _, r := range routes {
		routeIDs[r.RouteID] = struct{}{}
	}
	kept := make([]models.Trip, 0, len(trips))
	for _, t := range trips {
		if _, ok := routeIDs[t.RouteID]; ok {
			kept = append(kept, t)
		}
	}
	return kept
}

// FilterStopTimes keeps stop times that belong to one of trips.
func FilterStopTimes(stopTimes []models.StopTime, trips []models.Trip) []models.StopTime {
	tripIDs := make(map[string]struct{}, len(trips))
	for _, t := range trips {
		tripIDs[t.TripID] = struct{}{}
	}
	kept := make([]models.StopTime, 0, len(stopTimes))
	for _, st := range stopTimes {
		if _, ok := tripIDs[st.TripID]; ok {
			kept = append(kept, st)
		}
	}
	return kept
}
