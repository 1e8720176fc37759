package utils

import (
	"fmt"
	"strconv"
	"strings"
)

const (
	secondsPerDay = 24 * 3600

	// MinTravelSeconds replaces a zero elapsed time between two stops.
	MinTravelSeconds = 30
	// MaxTravelSeconds is the longest believable hop between consecutive
	// stops; anything longer is treated as a broken overnight schedule.
	MaxTravelSeconds = 7200
)

// ParseGTFSTimeStrict converts "HH:MM:SS" to seconds since the start of the
// service day. Hours may exceed 23 for trips running past midnight.
func ParseGTFSTimeStrict(s string) (int, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 3 {
		return 0, fmt.Errorf("malformed GTFS time %q", s)
	}
	var fields [3]int
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			return 0, fmt.Errorf("malformed GTFS time %q: %w", s, err)
		}
		fields[i] = n
	}
	return fields[0]*3600 + fields[1]*60 + fields[2], nil
}

// ParseGTFSTime is ParseGTFSTimeStrict with malformed input mapped to 0.
func ParseGTFSTime(s string) int {
	secs, err := ParseGTFSTimeStrict(s)
	if err != nil {
		return 0
	}
	return secs
}

// FormatGTFSTime renders seconds since the start of the service day as
// "HH:MM:SS", keeping hours above 23.
func FormatGTFSTime(seconds int) string {
	return fmt.Sprintf("%02d:%02d:%02d", seconds/3600, (seconds%3600)/60, seconds%60)
}

// TimeDiff returns the seconds from departure to arrival, both GTFS time
// strings. A negative difference is assumed to wrap past midnight once. A zero
// difference becomes MinTravelSeconds. A difference above MaxTravelSeconds
// returns 0, which callers must treat as invalid.
func TimeDiff(departure, arrival string) int {
	return SecondsDiff(ParseGTFSTime(departure), ParseGTFSTime(arrival))
}

// SecondsDiff applies the TimeDiff rules to already parsed times.
func SecondsDiff(departure, arrival int) int {
	diff := arrival - departure
	if diff < 0 {
		diff += secondsPerDay
	}
	if diff == 0 {
		return MinTravelSeconds
	}
	if diff > MaxTravelSeconds {
		return 0
	}
	return diff
}
