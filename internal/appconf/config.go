// Package appconf loads the pipeline configuration.
//
// Values are resolved in three layers: built-in Melbourne defaults, an
// optional YAML file, then PTGRAPH_* environment variables (optionally read
// from a .env file). The result is validated with struct tags.
package appconf

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// FeedConfig describes one raw GTFS feed. Path is either a directory of
// extracted tables or a zip archive; relative paths resolve against DataDir.
// Member names an inner GTFS zip inside the archive at Path, for bundles
// shipped as "<feed id>/google_transit.zip".
type FeedConfig struct {
	Name     string `yaml:"name" validate:"required"`
	Path     string `yaml:"path" validate:"required"`
	Member   string `yaml:"member"`
	Disabled bool   `yaml:"disabled"`
}

// RegionConfig is the inclusive bounding box stops must fall inside.
type RegionConfig struct {
	MinLat float64 `yaml:"min_lat" validate:"gte=-90,lte=90"`
	MaxLat float64 `yaml:"max_lat" validate:"gte=-90,lte=90,gtfield=MinLat"`
	MinLon float64 `yaml:"min_lon" validate:"gte=-180,lte=180"`
	MaxLon float64 `yaml:"max_lon" validate:"gte=-180,lte=180,gtfield=MinLon"`
}

// ModeRule maps a feed-name pattern to a transport mode. Rules are evaluated
// in order against the lower-cased feed name.
type ModeRule struct {
	Pattern string `yaml:"pattern" validate:"required"`
	Match   string `yaml:"match" validate:"oneof=contains suffix"`
	Mode    string `yaml:"mode" validate:"oneof=train tram bus"`
}

// CityPair names two stations (by name substring) used as a routing smoke test.
type CityPair struct {
	Origin      string `yaml:"origin" validate:"required"`
	Destination string `yaml:"destination" validate:"required"`
}

// Config is the root configuration.
type Config struct {
	Env     Environment `yaml:"env"`
	Verbose bool        `yaml:"verbose"`

	DataDir        string `yaml:"data_dir" validate:"required"`
	SnapshotDBPath string `yaml:"snapshot_db" validate:"required"`
	GraphPath      string `yaml:"graph_path" validate:"required"`
	MetricsPath    string `yaml:"metrics_path"`

	Workers     int  `yaml:"workers" validate:"gte=0"`
	StrictTimes bool `yaml:"strict_times"`

	Feeds               []FeedConfig `yaml:"feeds" validate:"required,min=1,dive"`
	RouteTypes          []int        `yaml:"route_types" validate:"required,min=1"`
	ExcludeRouteKeyword string       `yaml:"exclude_route_keyword"`
	Region              RegionConfig `yaml:"region"`

	ModeRules      []ModeRule     `yaml:"mode_rules" validate:"dive"`
	RouteTypeModes map[int]string `yaml:"route_type_modes" validate:"dive,oneof=train tram bus"`
	DefaultMode    string         `yaml:"default_mode" validate:"oneof=train tram bus"`

	EmissionFactors       map[string]float64 `yaml:"emission_factors" validate:"dive,gte=0"`
	DefaultEmissionFactor float64            `yaml:"default_emission_factor" validate:"gte=0"`

	CityPairs []CityPair `yaml:"city_pairs" validate:"dive"`
}

// Default returns the configuration for the Melbourne PTV feeds.
func Default() Config {
	return Config{
		Env:            Development,
		DataDir:        filepath.Join("data", "raw"),
		SnapshotDBPath: filepath.Join("data", "processed", "snapshot.db"),
		GraphPath:      filepath.Join("data", "processed", "pt_graph.bin"),
		Feeds: []FeedConfig{
			{Name: "1_regional_train", Path: "1_regional_train"},
			{Name: "2_metro_train", Path: "2_metro_train"},
			{Name: "3_metro_tram", Path: "3_metro_tram"},
			{Name: "4_metro_bus", Path: "4_metro_bus"},
			{Name: "6_regional_bus", Path: "6_regional_bus"},
			{Name: "11_skybus", Path: "11_skybus"},
		},
		RouteTypes:          []int{0, 1, 2, 3, 4, 6, 11},
		ExcludeRouteKeyword: "replacement",
		Region: RegionConfig{
			MinLat: -38.5,
			MaxLat: -37.5,
			MinLon: 144.5,
			MaxLon: 145.5,
		},
		ModeRules: []ModeRule{
			{Pattern: "regional_train", Match: "contains", Mode: "train"},
			{Pattern: "metro_train", Match: "contains", Mode: "train"},
			{Pattern: "_train", Match: "suffix", Mode: "train"},
			{Pattern: "metro_tram", Match: "contains", Mode: "tram"},
			{Pattern: "_tram", Match: "suffix", Mode: "tram"},
			{Pattern: "metro_bus", Match: "contains", Mode: "bus"},
			{Pattern: "regional_bus", Match: "contains", Mode: "bus"},
			{Pattern: "skybus", Match: "contains", Mode: "bus"},
			{Pattern: "_bus", Match: "suffix", Mode: "bus"},
		},
		RouteTypeModes: map[int]string{
			0:  "tram",
			1:  "train",
			2:  "train",
			3:  "tram",
			4:  "bus",
			6:  "bus",
			11: "bus",
		},
		DefaultMode: "bus",
		EmissionFactors: map[string]float64{
			"train": 0.041,
			"tram":  0.045,
			"bus":   0.089,
		},
		DefaultEmissionFactor: 0.1,
		CityPairs: []CityPair{
			{Origin: "Southern Cross", Destination: "Flinders Street"},
			{Origin: "Melbourne Central", Destination: "Flagstaff"},
			{Origin: "Richmond", Destination: "Flinders Street"},
		},
	}
}

// Load builds the configuration from defaults, the YAML file at path (skipped
// when path is empty) and the environment.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	_ = godotenv.Load(".env")
	if err := cfg.applyEnv(); err != nil {
		return cfg, err
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (cfg *Config) applyEnv() error {
	if v := strings.TrimSpace(os.Getenv("PTGRAPH_ENV")); v != "" {
		env, err := ParseEnvironment(v)
		if err != nil {
			return fmt.Errorf("invalid PTGRAPH_ENV: %w", err)
		}
		cfg.Env = env
	}
	if v := strings.TrimSpace(os.Getenv("PTGRAPH_DATA_DIR")); v != "" {
		cfg.DataDir = v
	}
	if v := strings.TrimSpace(os.Getenv("PTGRAPH_SNAPSHOT_DB")); v != "" {
		cfg.SnapshotDBPath = v
	}
	if v := strings.TrimSpace(os.Getenv("PTGRAPH_GRAPH_PATH")); v != "" {
		cfg.GraphPath = v
	}
	if v := strings.TrimSpace(os.Getenv("PTGRAPH_METRICS_PATH")); v != "" {
		cfg.MetricsPath = v
	}
	if v := strings.TrimSpace(os.Getenv("PTGRAPH_WORKERS")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid PTGRAPH_WORKERS: %w", err)
		}
		cfg.Workers = n
	}
	if v := strings.TrimSpace(os.Getenv("PTGRAPH_VERBOSE")); v != "" {
		cfg.Verbose = v == "1" || strings.EqualFold(v, "true")
	}
	if v := strings.TrimSpace(os.Getenv("PTGRAPH_STRICT_TIMES")); v != "" {
		cfg.StrictTimes = v == "1" || strings.EqualFold(v, "true")
	}
	return nil
}

// Validate checks struct tags plus the cross-field rules tags cannot express.
func (cfg Config) Validate() error {
	v := validator.New()
	if err := v.Struct(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	seen := make(map[string]bool, len(cfg.Feeds))
	for _, f := range cfg.Feeds {
		if seen[f.Name] {
			return fmt.Errorf("invalid configuration: duplicate feed %q", f.Name)
		}
		seen[f.Name] = true
	}
	if len(cfg.EnabledFeeds()) == 0 {
		return errors.New("invalid configuration: no enabled feeds")
	}
	for mode := range cfg.EmissionFactors {
		switch mode {
		case "train", "tram", "bus":
		default:
			return fmt.Errorf("invalid configuration: emission factor for unknown mode %q", mode)
		}
	}
	return nil
}

// EnabledFeeds returns the feeds that are not disabled, in configured order.
func (cfg Config) EnabledFeeds() []FeedConfig {
	var feeds []FeedConfig
	for _, f := range cfg.Feeds {
		if !f.Disabled {
			feeds = append(feeds, f)
		}
	}
	return feeds
}

// FeedPath resolves a feed path against DataDir.
func (cfg Config) FeedPath(f FeedConfig) string {
	if filepath.IsAbs(f.Path) {
		return f.Path
	}
	return filepath.Join(cfg.DataDir, f.Path)
}
