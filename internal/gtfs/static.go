package gtfs

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"time"

	"github.com/OneBusAway/go-gtfs"
	"ptgraph.dev/internal/logging"
	"ptgraph.dev/internal/models"
	"ptgraph.dev/internal/utils"
)

const maxArchiveMemberSize = 512 * 1024 * 1024

// readArchive returns the bytes of the GTFS zip at source, unwrapping member
// from an outer bundle when one is named.
func readArchive(source, member string) ([]byte, error) {
	b, err := os.ReadFile(source)
	if err != nil {
		return nil, fmt.Errorf("error reading local GTFS file: %w", err)
	}
	if member == "" {
		return b, nil
	}

	outer, err := zip.NewReader(bytes.NewReader(b), int64(len(b)))
	if err != nil {
		return nil, fmt.Errorf("error opening GTFS bundle %s: %w", source, err)
	}
	for _, f := range outer.File {
		if path.Clean(f.Name) != path.Clean(member) {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("error opening %s in %s: %w", member, source, err)
		}
		defer func() { _ = rc.Close() }()
		inner, err := io.ReadAll(io.LimitReader(rc, maxArchiveMemberSize+1))
		if err != nil {
			return nil, fmt.Errorf("error reading %s in %s: %w", member, source, err)
		}
		if len(inner) > maxArchiveMemberSize {
			return nil, fmt.Errorf("%s in %s exceeds size limit of %d bytes", member, source, maxArchiveMemberSize)
		}
		return inner, nil
	}
	return nil, fmt.Errorf("GTFS bundle %s has no member %s", source, member)
}

// zipTables loads one feed from a GTFS zip. Complete archives go through the
// go-gtfs parser; archives lacking a consumed table, or rejected by the
// parser, are read table by table instead so partial feeds still contribute.
func zipTables(b []byte, feed string, logger *slog.Logger) (*models.Tables, []string, error) {
	archive, err := zip.NewReader(bytes.NewReader(b), int64(len(b)))
	if err != nil {
		return nil, nil, fmt.Errorf("error opening GTFS archive: %w", err)
	}

	present := make(map[string]bool, len(archive.File))
	for _, f := range archive.File {
		present[f.Name] = true
	}
	complete := true
	for _, name := range consumedTables {
		if !present[name] {
			complete = false
			break
		}
	}

	if complete {
		staticData, err := gtfs.ParseStatic(b, gtfs.ParseStaticOptions{})
		if err == nil {
			raw, err := rawStopHierarchy(archive, feed)
			if err != nil {
				return nil, nil, err
			}
			return staticTables(staticData, feed, raw), nil, nil
		}
		logging.LogError(logger, "GTFS parser rejected feed, reading tables directly", err,
			slog.String("feed", feed))
	}
	return csvTables(archive, feed)
}

// rawStopHierarchy reads location_type and parent_station as written in
// stops.txt. The parser drops parents that are not in the feed and reports
// parented stops as platforms.
func rawStopHierarchy(fsys fs.FS, feed string) (map[string]models.RawStop, error) {
	stops := make(map[string]models.RawStop)
	_, err := forEachRow(fsys, tableStops, func(row csvRow) error {
		s := parseStopRow(row, feed)
		stops[s.StopID] = s
		return nil
	})
	return stops, err
}

// stopLocationType maps a parsed stop type onto GTFS location_type values.
func stopLocationType(t gtfs.StopType) int {
	if t == gtfs.StopType_Platform {
		return models.LocationStop
	}
	return int(t)
}

// staticTables flattens parsed GTFS data into the row model. raw, when it
// holds a stop, supplies that stop's location_type and parent_station.
func staticTables(data *gtfs.Static, feed string, raw map[string]models.RawStop) *models.Tables {
	tables := &models.Tables{
		Routes: make([]models.Route, 0, len(data.Routes)),
		Stops:  make([]models.RawStop, 0, len(data.Stops)),
		Trips:  make([]models.Trip, 0, len(data.Trips)),
	}

	for _, r := range data.Routes {
		tables.Routes = append(tables.Routes, models.Route{
			RouteID:    r.Id,
			ShortName:  r.ShortName,
			LongName:   r.LongName,
			RouteType:  int(r.Type),
			FeedSource: feed,
		})
	}

	for _, s := range data.Stops {
		stop := models.RawStop{
			StopID:       s.Id,
			Name:         s.Name,
			LocationType: stopLocationType(s.Type),
			FeedSource:   feed,
		}
		if s.Latitude != nil && s.Longitude != nil {
			stop.Lat, stop.Lon, stop.HasCoords = *s.Latitude, *s.Longitude, true
		}
		if s.Parent != nil {
			stop.ParentStation = s.Parent.Id
		}
		if r, ok := raw[s.Id]; ok {
			stop.LocationType = r.LocationType
			stop.ParentStation = r.ParentStation
		}
		tables.Stops = append(tables.Stops, stop)
	}

	for _, t := range data.Trips {
		var routeID string
		if t.Route != nil {
			routeID = t.Route.Id
		}
		tables.Trips = append(tables.Trips, models.Trip{
			TripID:     t.ID,
			RouteID:    routeID,
			FeedSource: feed,
		})
		for _, st := range t.StopTimes {
			if st.Stop == nil {
				continue
			}
			tables.StopTimes = append(tables.StopTimes, models.StopTime{
				TripID:        t.ID,
				StopID:        st.Stop.Id,
				StopSequence:  int(st.StopSequence),
				ArrivalTime:   formatOffset(st.ArrivalTime),
				DepartureTime: formatOffset(st.DepartureTime),
				FeedSource:    feed,
			})
		}
	}
	return tables
}

// formatOffset renders a service-day offset back to GTFS "HH:MM:SS".
func formatOffset(d time.Duration) string {
	return utils.FormatGTFSTime(int(d / time.Second))
}
