package models

// Station is a routable node: a parent station, or a stop without one.
type Station struct {
	StationID string
	Name      string
	Lat       float64
	Lon       float64
}

// StopStation is one entry of the stop to station mapping.
type StopStation struct {
	StopID    string
	StationID string
}
