package models

// LocationType values consumed from stops.txt. An absent value is stored as
// LocationStop; a value that does not parse is stored as LocationInvalid.
const (
	LocationInvalid = -1
	LocationStop    = 0
	LocationStation = 1
)

// RawStop is one row of stops.txt tagged with its feed.
type RawStop struct {
	StopID        string
	Name          string
	Lat           float64
	Lon           float64
	HasCoords     bool
	LocationType  int
	ParentStation string
	FeedSource    string
}

// Route is one row of routes.txt tagged with its feed.
type Route struct {
	RouteID    string
	ShortName  string
	LongName   string
	RouteType  int
	FeedSource string
}

// DisplayName is the short name, then the long name, then "Unknown".
func (r Route) DisplayName() string {
	if r.ShortName != "" {
		return r.ShortName
	}
	if r.LongName != "" {
		return r.LongName
	}
	return "Unknown"
}

// Trip is one row of trips.txt tagged with its feed.
type Trip struct {
	TripID     string
	RouteID    string
	FeedSource string
}

// StopTime is one row of stop_times.txt. Times are kept as the raw
// "HH:MM:SS" strings so malformed values can be detected downstream.
type StopTime struct {
	TripID        string
	StopID        string
	StopSequence  int
	ArrivalTime   string
	DepartureTime string
	FeedSource    string
}

// Tables is the concatenation of every feed's raw tables, in feed order.
type Tables struct {
	Routes    []Route
	Stops     []RawStop
	Trips     []Trip
	StopTimes []StopTime
}

// Counts returns the row count of each table keyed by its snapshot name.
func (t *Tables) Counts() map[string]int {
	return map[string]int{
		"routes":     len(t.Routes),
		"stops_raw":  len(t.Stops),
		"trips":      len(t.Trips),
		"stop_times": len(t.StopTimes),
	}
}
