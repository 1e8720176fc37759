package gtfs

import (
	"errors"
	"fmt"
)

var (
	// ErrMissingSourceFile marks a GTFS table absent from a configured feed.
	// It is reported, never returned from Load.
	ErrMissingSourceFile = errors.New("missing source file")
	// ErrNoStopData is returned when no feed supplied any stops.
	ErrNoStopData = errors.New("no stop data in any feed")
	// ErrNoTripData is returned when no trips survive route filtering.
	ErrNoTripData = errors.New("no trip data in any feed")
)

// MissingSource records one table a feed did not provide.
type MissingSource struct {
	Feed  string
	Table string
}

func (m MissingSource) Error() string {
	return fmt.Sprintf("%s: %s/%s", ErrMissingSourceFile, m.Feed, m.Table)
}

func (m MissingSource) Unwrap() error {
	return ErrMissingSourceFile
}
