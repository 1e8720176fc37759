package validate

import (
	"fmt"
	"io"
	"strings"

	"ptgraph.dev/internal/models"
)

// Status is the outcome of one check.
type Status int

const (
	Pass Status = iota
	Warn
	Fail
)

func (s Status) String() string {
	switch s {
	case Warn:
		return "warn"
	case Fail:
		return "FAIL"
	default:
		return "ok"
	}
}

// Check is one named finding. Findings counts the offending items.
type Check struct {
	Name     string
	Status   Status
	Findings int
	Detail   string
}

// ModeShare is one row of the mode distribution.
type ModeShare struct {
	Mode    models.Mode
	Edges   int
	Percent float64
}

// CityPairResult is the outcome of one routing smoke test.
type CityPairResult struct {
	Origin      string
	Destination string
	From, To    string
	Found       bool
	Stops       int
	Time        int
	Distance    float64
	Modes       []models.Mode
	Error       string
}

// Reachability is the share of nodes reachable from Origin.
type Reachability struct {
	Origin  string
	Reached int
	Percent float64
}

// SampledEdge is a snapshot edge looked up in the graph.
type SampledEdge struct {
	From, To string
	Present  bool
}

// CrossCheck compares the graph with the snapshot tables.
type CrossCheck struct {
	SnapshotStations int
	SnapshotEdges    int
	Sample           []SampledEdge
}

// Report collects every check of a validation run.
type Report struct {
	Nodes         int
	Arcs          int
	AverageDegree float64

	MissingNodeAttrs map[string]int
	MissingArcAttrs  map[string]int

	Modes []ModeShare

	Isolated       []string
	ComponentSizes []int

	NonPositiveTime     int
	NonPositiveDistance int
	AvgTime             float64
	AvgDistance         float64

	CityPairs    []CityPairResult
	Reachability *Reachability
	CrossCheck   *CrossCheck

	Checks []Check
}

func (r *Report) add(name string, status Status, findings int, detail string) {
	r.Checks = append(r.Checks, Check{Name: name, Status: status, Findings: findings, Detail: detail})
}

// Passed reports whether no check failed. Warnings do not fail a report.
func (r *Report) Passed() bool {
	_, _, failed := r.Tally()
	return failed == 0
}

// Tally counts the checks per status.
func (r *Report) Tally() (passed, warned, failed int) {
	for _, c := range r.Checks {
		switch c.Status {
		case Pass:
			passed++
		case Warn:
			warned++
		case Fail:
			failed++
		}
	}
	return passed, warned, failed
}

// Write renders the report as plain text.
func (r *Report) Write(w io.Writer) error {
	p := &printer{w: w}

	p.section("Basic statistics")
	p.line("  Nodes: %d", r.Nodes)
	p.line("  Edges: %d", r.Arcs)
	p.line("  Average degree: %.2f", r.AverageDegree)

	p.section("Mode distribution")
	for _, m := range r.Modes {
		p.line("  %s: %d edges (%.1f%%)", m.Mode, m.Edges, m.Percent)
	}

	p.section("Integrity")
	if n := len(r.Isolated); n > 0 && n <= 5 {
		p.line("  Isolated: %s", strings.Join(r.Isolated, ", "))
	}
	if len(r.ComponentSizes) > 1 {
		p.line("  Largest component: %d nodes", r.ComponentSizes[0])
		p.line("  Second largest: %d nodes", r.ComponentSizes[1])
	}
	p.line("  Avg time: %.1fs (%.1f min)", r.AvgTime, r.AvgTime/60)
	p.line("  Avg distance: %.1fm (%.2f km)", r.AvgDistance, r.AvgDistance/1000)

	if len(r.CityPairs) > 0 {
		p.section("Pathfinding")
		for _, c := range r.CityPairs {
			if !c.Found {
				p.line("  %s -> %s: %s", c.Origin, c.Destination, c.Error)
				continue
			}
			modes := make([]string, len(c.Modes))
			for i, m := range c.Modes {
				modes[i] = m.String()
			}
			p.line("  %s -> %s: %d stops, %ds (%.1f min), %.0fm (%.2f km), modes %s",
				c.Origin, c.Destination, c.Stops, c.Time, float64(c.Time)/60,
				c.Distance, c.Distance/1000, strings.Join(modes, ", "))
		}
	}
	if r.Reachability != nil {
		p.line("  From %s: can reach %d/%d nodes (%.1f%%)",
			r.Reachability.Origin, r.Reachability.Reached, r.Nodes, r.Reachability.Percent)
	}

	if r.CrossCheck != nil {
		p.section("Cross-check with snapshot")
		p.line("  stops_cleaned: %d stations", r.CrossCheck.SnapshotStations)
		p.line("  edges_merged: %d edges", r.CrossCheck.SnapshotEdges)
		for _, s := range r.CrossCheck.Sample {
			state := "present"
			if !s.Present {
				state = "NOT in graph"
			}
			p.line("  %s -> %s %s", s.From, s.To, state)
		}
	}

	p.section("Checks")
	for _, c := range r.Checks {
		p.line("  [%-4s] %s: %s", c.Status, c.Name, c.Detail)
	}
	passed, warned, failed := r.Tally()
	p.line("\nSummary: %d passed, %d warnings, %d failed", passed, warned, failed)

	return p.err
}

// printer keeps the first write error.
type printer struct {
	w   io.Writer
	err error
}

func (p *printer) section(title string) {
	p.line("\n%s", title)
}

func (p *printer) line(format string, args ...any) {
	if p.err != nil {
		return
	}
	_, p.err = fmt.Fprintf(p.w, format+"\n", args...)
}
