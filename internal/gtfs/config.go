package gtfs

import (
	"ptgraph.dev/internal/appconf"
)

// FeedSource is one resolved feed location.
type FeedSource struct {
	Name   string
	Path   string
	Member string
}

// Config holds the FeedLoader configuration.
type Config struct {
	Feeds               []FeedSource
	RouteTypes          []int
	ExcludeRouteKeyword string
	Env                 appconf.Environment
	Verbose             bool
}

// NewConfig resolves the enabled feeds of cfg against its data directory.
func NewConfig(cfg appconf.Config) Config {
	enabled := cfg.EnabledFeeds()
	feeds := make([]FeedSource, 0, len(enabled))
	for _, f := range enabled {
		feeds = append(feeds, FeedSource{
			Name:   f.Name,
			Path:   cfg.FeedPath(f),
			Member: f.Member,
		})
	}
	return Config{
		Feeds:               feeds,
		RouteTypes:          cfg.RouteTypes,
		ExcludeRouteKeyword: cfg.ExcludeRouteKeyword,
		Env:                 cfg.Env,
		Verbose:             cfg.Verbose,
	}
}
