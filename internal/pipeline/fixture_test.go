package pipeline

import (
	"ptgraph.dev/internal/appconf"
	"ptgraph.dev/internal/models"
)

const (
	trainFeed       = "2_metro_train"
	metroBusFeed    = "4_metro_bus"
	regionalBusFeed = "6_regional_bus"
)

func testConfig() appconf.Config {
	cfg := appconf.Default()
	cfg.Env = appconf.Test
	cfg.Workers = 2
	cfg.Feeds = []appconf.FeedConfig{
		{Name: trainFeed, Path: trainFeed},
		{Name: metroBusFeed, Path: metroBusFeed},
		{Name: regionalBusFeed, Path: regionalBusFeed},
	}
	return cfg
}

func stop(id, name string, lat, lon float64, locationType int, parent string) models.RawStop {
	return models.RawStop{
		StopID:        id,
		Name:          name,
		Lat:           lat,
		Lon:           lon,
		HasCoords:     true,
		LocationType:  locationType,
		ParentStation: parent,
		FeedSource:    trainFeed,
	}
}

func visit(tripID, stopID string, seq int, arrival, departure, feed string) models.StopTime {
	return models.StopTime{
		TripID:        tripID,
		StopID:        stopID,
		StopSequence:  seq,
		ArrivalTime:   arrival,
		DepartureTime: departure,
		FeedSource:    feed,
	}
}

// fixtureTables is a small slice of the network:
//
//	SC  Southern Cross (parent) with platform SC1
//	FS  Flinders Street (parent) with platform FS1
//	RM  Richmond, a stop with no parent
//
// plus stops every filter should reject. Trip "3" and trip "20" are bus trips
// from two feeds serving SC to FS; trip "50" produces only discarded edges.
func fixtureTables() *models.Tables {
	return &models.Tables{
		Stops: []models.RawStop{
			stop("SC", "Southern Cross Station", -37.8184, 144.9525, models.LocationStation, ""),
			stop("SC1", "Southern Cross Platform 1", -37.8183, 144.9526, models.LocationStop, "SC"),
			stop("FS", "Flinders Street Station", -37.8183, 144.9671, models.LocationStation, ""),
			stop("FS1", "Flinders Street Platform 1", -37.8182, 144.9672, models.LocationStop, "FS"),
			stop("RM", "Richmond", -37.8240, 144.9900, models.LocationStop, ""),
			stop("ZERO", "Null Island", 0, 0, models.LocationStop, ""),
			stop("SYD", "Central", -33.8832, 151.2070, models.LocationStop, ""),
			stop("ENT", "Southern Cross Entrance", -37.8184, 144.9525, 2, "SC"),
		},
		Routes: []models.Route{
			{RouteID: "R1", ShortName: "Sandringham", RouteType: 2, FeedSource: trainFeed},
			{RouteID: "B1", ShortName: "220", RouteType: 3, FeedSource: metroBusFeed},
			{RouteID: "B2", LongName: "Airport - City", RouteType: 3, FeedSource: regionalBusFeed},
		},
		Trips: []models.Trip{
			{TripID: "100", RouteID: "R1", FeedSource: trainFeed},
			{TripID: "50", RouteID: "R1", FeedSource: trainFeed},
			{TripID: "20", RouteID: "B1", FeedSource: metroBusFeed},
			{TripID: "3", RouteID: "B2", FeedSource: regionalBusFeed},
		},
		StopTimes: []models.StopTime{
			visit("100", "FS1", 2, "08:03:00", "08:04:00", trainFeed),
			visit("100", "SC1", 1, "08:00:00", "08:00:00", trainFeed),
			visit("100", "RM", 3, "08:08:00", "08:08:00", trainFeed),

			visit("50", "SC1", 1, "08:00:00", "08:00:00", trainFeed),
			visit("50", "SC", 2, "08:01:00", "08:01:00", trainFeed),
			visit("50", "ZERO", 3, "08:02:00", "08:02:00", trainFeed),
			visit("50", "FS1", 4, "08:03:00", "12:00:00", trainFeed),
			visit("50", "RM", 5, "15:00:01", "15:00:01", trainFeed),

			visit("20", "SC1", 1, "09:00:00", "09:00:00", metroBusFeed),
			visit("20", "FS1", 2, "09:05:00", "09:05:00", metroBusFeed),

			visit("3", "SC", 1, "10:00:00", "10:00:00", regionalBusFeed),
			visit("3", "FS", 2, "10:07:00", "10:07:00", regionalBusFeed),
		},
	}
}
