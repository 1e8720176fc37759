package models

// RawEdge is one hop between consecutive stations of a single trip.
// Time is in seconds, Distance in meters.
type RawEdge struct {
	From      string
	To        string
	RouteID   string
	RouteName string
	Mode      Mode
	Time      int
	Distance  float64
	TripID    string
}

// Merged drops the trip id once an edge has been chosen for its station pair.
func (e RawEdge) Merged() MergedEdge {
	return MergedEdge{
		From:      e.From,
		To:        e.To,
		RouteID:   e.RouteID,
		RouteName: e.RouteName,
		Mode:      e.Mode,
		Time:      e.Time,
		Distance:  e.Distance,
	}
}

// MergedEdge is the single representative edge of a (From, To) pair.
type MergedEdge struct {
	From      string
	To        string
	RouteID   string
	RouteName string
	Mode      Mode
	Time      int
	Distance  float64
}

// AnnotatedEdge is a MergedEdge with its CO2 estimate. EmissionsFactor is kg
// CO2 per passenger-km, Emissions is kg CO2 for the edge.
type AnnotatedEdge struct {
	MergedEdge
	EmissionsFactor float64
	Emissions       float64
}
