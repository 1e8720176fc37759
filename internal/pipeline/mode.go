package pipeline

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"ptgraph.dev/internal/appconf"
	"ptgraph.dev/internal/logging"
	"ptgraph.dev/internal/models"
)

// ModeRule maps a feed tag pattern to a mode. Suffix rules only match at the
// end of the tag, the others anywhere in it.
type ModeRule struct {
	Pattern string
	Suffix  bool
	Mode    models.Mode
}

func (r ModeRule) matches(tag string) bool {
	if r.Suffix {
		return strings.HasSuffix(tag, r.Pattern)
	}
	return strings.Contains(tag, r.Pattern)
}

// ModeClassifier infers a trip's transport mode. The feed tag is
// authoritative; the route type is consulted only when no rule matches.
// It is safe for concurrent use.
type ModeClassifier struct {
	rules      []ModeRule
	routeTypes map[int]models.Mode
	fallback   models.Mode

	warned sync.Map
	logger *slog.Logger
}

// NewModeClassifier builds a classifier from the mode settings in cfg.
func NewModeClassifier(cfg appconf.Config) (*ModeClassifier, error) {
	c := &ModeClassifier{
		routeTypes: make(map[int]models.Mode, len(cfg.RouteTypeModes)),
		logger:     slog.Default().With(slog.String("component", "mode_classifier")),
	}

	for _, r := range cfg.ModeRules {
		mode, err := models.ParseMode(r.Mode)
		if err != nil {
			return nil, fmt.Errorf("mode rule %q: %w", r.Pattern, err)
		}
		c.rules = append(c.rules, ModeRule{
			Pattern: strings.ToLower(r.Pattern),
			Suffix:  r.Match == "suffix",
			Mode:    mode,
		})
	}
	for routeType, name := range cfg.RouteTypeModes {
		mode, err := models.ParseMode(name)
		if err != nil {
			return nil, fmt.Errorf("route type %d: %w", routeType, err)
		}
		c.routeTypes[routeType] = mode
	}

	fallback, err := models.ParseMode(cfg.DefaultMode)
	if err != nil {
		return nil, fmt.Errorf("default mode: %w", err)
	}
	c.fallback = fallback
	return c, nil
}

// Classify returns the mode for a trip of feed tagged feedTag whose route has
// routeType. A tag that matches no rule is logged once.
func (c *ModeClassifier) Classify(feedTag string, routeType int) models.Mode {
	tag := strings.ToLower(feedTag)
	for _, r := range c.rules {
		if r.matches(tag) {
			return r.Mode
		}
	}

	if _, loaded := c.warned.LoadOrStore(feedTag, true); !loaded {
		logging.LogWarning(c.logger, "unknown feed source, falling back to route type",
			slog.String("feed_source", feedTag),
			slog.Int("route_type", routeType))
	}
	if mode, ok := c.routeTypes[routeType]; ok {
		return mode
	}
	return c.fallback
}
