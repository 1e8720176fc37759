package pipeline

import (
	"ptgraph.dev/internal/appconf"
	"ptgraph.dev/internal/models"
)

// EmissionFactors holds kg CO2 per passenger-km for each mode.
type EmissionFactors struct {
	byMode   map[models.Mode]float64
	fallback float64
}

// NewEmissionFactors reads the factor table from cfg. Unknown modes were
// already rejected by config validation.
func NewEmissionFactors(cfg appconf.Config) EmissionFactors {
	f := EmissionFactors{
		byMode:   make(map[models.Mode]float64, len(cfg.EmissionFactors)),
		fallback: cfg.DefaultEmissionFactor,
	}
	for name, factor := range cfg.EmissionFactors {
		f.byMode[models.Mode(name)] = factor
	}
	return f
}

// Factor returns the factor for mode, or the default for an unlisted mode.
func (f EmissionFactors) Factor(mode models.Mode) float64 {
	if v, ok := f.byMode[mode]; ok {
		return v
	}
	return f.fallback
}

// AnnotateEmissions attaches each edge's factor and its emissions, computed
// as distance in km times the factor.
func AnnotateEmissions(edges []models.MergedEdge, factors EmissionFactors) []models.AnnotatedEdge {
	out := make([]models.AnnotatedEdge, len(edges))
	for i, e := range edges {
		factor := factors.Factor(e.Mode)
		out[i] = models.AnnotatedEdge{
			MergedEdge:      e,
			EmissionsFactor: factor,
			Emissions:       e.Distance / 1000 * factor,
		}
	}
	return out
}
