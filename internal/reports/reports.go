// Package reports renders the end-of-run artifacts a build-all invocation
// leaves behind: a JSON + Markdown summary of what succeeded, failed and
// was blocked, and a JSON + HTML plan-graph export for the waves/forced-by
// view, ported from the original implementation's reports/plan_graph.py
// renderers.
package reports

import (
	"context"
	"encoding/json"
	"fmt"
	"html"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"golang.org/x/xerrors"

	"github.com/canonical/packastack/internal/plan"
	"github.com/canonical/packastack/internal/state"
	"github.com/canonical/packastack/internal/wave"
)

// Summary is the JSON/Markdown end-of-run report
// (reports/build-all-summary.{json,md}).
type Summary struct {
	RunID        string    `json:"run_id"`
	Target       string    `json:"target"`
	UbuntuSeries string    `json:"ubuntu_series"`
	GeneratedAt  time.Time `json:"generated_at_utc"`
	Status       string    `json:"status"` // "success" | "partial"

	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Blocked   int `json:"blocked"`
	Pending   int `json:"pending"`

	FailuresByType      map[state.FailureType][]string `json:"failures_by_type,omitempty"`
	LongestBuilds       []BuildDuration                 `json:"longest_builds,omitempty"`
	MissingDependencies map[string][]string             `json:"missing_dependencies,omitempty"`
	Cycles              [][]string                      `json:"cycles,omitempty"`
}

// BuildDuration names one package's wall-clock build time, used for the
// summary's top-N longest-builds table.
type BuildDuration struct {
	Package         string  `json:"package"`
	DurationSeconds float64 `json:"duration_seconds"`
}

// topNLongest is how many entries Summary.LongestBuilds carries.
const topNLongest = 10

// BuildSummary derives a Summary from a completed run and its plan
// (missing deps, cycles). Blocked packages are computed on demand from
// run.Blocked: never a persisted transition.
func BuildSummary(run *state.Run, planResult plan.Result, blocked []string) Summary {
	s := Summary{
		RunID:               run.RunID,
		Target:              run.Target,
		UbuntuSeries:        run.UbuntuSeries,
		GeneratedAt:         time.Now().UTC(),
		MissingDependencies: planResult.Missing,
		Cycles:              planResult.Cycles,
		FailuresByType:      map[state.FailureType][]string{},
	}

	var durations []BuildDuration
	for name, ps := range run.Packages {
		switch ps.Status {
		case state.Success:
			s.Succeeded++
			if ps.DurationSeconds > 0 {
				durations = append(durations, BuildDuration{Package: name, DurationSeconds: ps.DurationSeconds})
			}
		case state.Failed:
			s.Failed++
			s.FailuresByType[ps.FailureType] = append(s.FailuresByType[ps.FailureType], name)
		case state.Pending:
			s.Pending++
		}
	}
	for ft := range s.FailuresByType {
		sort.Strings(s.FailuresByType[ft])
	}
	s.Blocked = len(blocked)

	sort.Slice(durations, func(i, j int) bool {
		return durations[i].DurationSeconds > durations[j].DurationSeconds
	})
	if len(durations) > topNLongest {
		durations = durations[:topNLongest]
	}
	s.LongestBuilds = durations

	if s.Failed == 0 {
		s.Status = "success"
	} else {
		s.Status = "partial"
	}
	return s
}

// WriteReports implements buildall.Reporter: it writes
// reports/build-all-summary.{json,md} and plan-graph.{json,html} under
// dir.
func WriteReports(ctx context.Context, run *state.Run, planResult plan.Result, dir string) error {
	blocked := run.Blocked(missingDepGraph{planResult})
	summary := BuildSummary(run, planResult, blocked)

	reportsDir := filepath.Join(dir, "reports")
	if err := os.MkdirAll(reportsDir, 0o755); err != nil {
		return xerrors.Errorf("creating reports dir: %w", err)
	}

	if err := writeJSON(filepath.Join(reportsDir, "build-all-summary.json"), summary); err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(reportsDir, "build-all-summary.md"), []byte(RenderMarkdown(summary)), 0o644); err != nil {
		return xerrors.Errorf("writing markdown summary: %w", err)
	}

	graph := BuildPlanGraph(run.RunID, run.Target, run.UbuntuSeries, planResult)
	if err := writeJSON(filepath.Join(reportsDir, "plan-graph.json"), graph); err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(reportsDir, "plan-graph.html"), []byte(RenderHTML(graph)), 0o644); err != nil {
		return xerrors.Errorf("writing plan-graph html: %w", err)
	}
	return nil
}

func writeJSON(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return xerrors.Errorf("marshaling %s: %w", filepath.Base(path), err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return xerrors.Errorf("writing %s: %w", path, err)
	}
	return nil
}

// missingDepGraph adapts plan.Result's forced_by-derived dependencies to
// state.Dependencies for run.Blocked, without internal/state importing
// internal/plan.
type missingDepGraph struct{ result plan.Result }

func (m missingDepGraph) Dependencies(name string) []string {
	return m.result.Waves.Assignments[name].ForcedBy
}

// RenderMarkdown renders s as a post-run summary report, grouped by
// failure type with a top-N longest-builds table.
func RenderMarkdown(s Summary) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Build-all summary: %s\n\n", s.RunID)
	fmt.Fprintf(&b, "- Target: **%s** (Ubuntu %s)\n", s.Target, s.UbuntuSeries)
	fmt.Fprintf(&b, "- Generated: %s\n", s.GeneratedAt.Format(time.RFC3339))
	fmt.Fprintf(&b, "- Status: **%s**\n\n", s.Status)
	fmt.Fprintf(&b, "| Succeeded | Failed | Blocked | Pending |\n")
	fmt.Fprintf(&b, "|-----------|--------|---------|---------|\n")
	fmt.Fprintf(&b, "| %d | %d | %d | %d |\n\n", s.Succeeded, s.Failed, s.Blocked, s.Pending)

	if len(s.FailuresByType) > 0 {
		b.WriteString("## Failures by type\n\n")
		types := make([]string, 0, len(s.FailuresByType))
		for ft := range s.FailuresByType {
			types = append(types, string(ft))
		}
		sort.Strings(types)
		for _, ft := range types {
			fmt.Fprintf(&b, "- **%s**: %s\n", ft, strings.Join(s.FailuresByType[state.FailureType(ft)], ", "))
		}
		b.WriteString("\n")
	}

	if len(s.LongestBuilds) > 0 {
		b.WriteString("## Longest builds\n\n")
		b.WriteString("| Package | Duration (s) |\n|---------|---------------|\n")
		for _, d := range s.LongestBuilds {
			fmt.Fprintf(&b, "| %s | %.1f |\n", d.Package, d.DurationSeconds)
		}
		b.WriteString("\n")
	}

	if len(s.MissingDependencies) > 0 {
		b.WriteString("## Missing binary dependencies\n\n")
		names := make([]string, 0, len(s.MissingDependencies))
		for n := range s.MissingDependencies {
			names = append(names, n)
		}
		sort.Strings(names)
		for _, n := range names {
			required := append([]string(nil), s.MissingDependencies[n]...)
			sort.Strings(required)
			fmt.Fprintf(&b, "- `%s` (required by: %s)\n", n, strings.Join(required, ", "))
		}
		b.WriteString("\n")
	}

	if len(s.Cycles) > 0 {
		b.WriteString("## Dependency cycles\n\n")
		for _, c := range s.Cycles {
			fmt.Fprintf(&b, "- %s\n", strings.Join(c, " → "))
		}
	}

	return b.String()
}

// PlanGraphNode is one source package in the rendered plan graph.
type PlanGraphNode struct {
	ID        string   `json:"id"`
	BuildType string   `json:"type"`
	Status    string   `json:"status"` // "ok" | "cycle"
	Order     int      `json:"order"`
	Wave      int      `json:"wave"`
	ForcedBy  []string `json:"forced_by,omitempty"`
}

// PlanGraphEdge is a "depends on" edge, derived from forced_by since
// plan.Result does not retain the raw graph adjacency.
type PlanGraphEdge struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// PlanGraph is the JSON/HTML export of one assembled plan, ported from
// the original implementation's PlanGraph dataclass.
type PlanGraph struct {
	RunID        string                   `json:"run_id"`
	GeneratedAt  time.Time                `json:"generated_at_utc"`
	Target       string                   `json:"target"`
	UbuntuSeries string                   `json:"ubuntu_series"`
	Nodes        map[string]PlanGraphNode `json:"nodes"`
	Edges        []PlanGraphEdge          `json:"edges"`
	TopoOrder    []string                 `json:"topo_order"`
	Cycles       [][]string               `json:"cycles,omitempty"`
	Waves        map[int][]string         `json:"waves"`
}

// BuildPlanGraph assembles a PlanGraph from an assembled plan.Result.
func BuildPlanGraph(runID, target, ubuntuSeries string, result plan.Result) PlanGraph {
	cycleNodes := map[string]bool{}
	for _, c := range result.Cycles {
		for _, n := range c {
			cycleNodes[n] = true
		}
	}

	order := map[string]int{}
	for i, name := range result.BuildOrder {
		order[name] = i
	}

	g := PlanGraph{
		RunID:        runID,
		GeneratedAt:  time.Now().UTC(),
		Target:       target,
		UbuntuSeries: ubuntuSeries,
		Nodes:        map[string]PlanGraphNode{},
		TopoOrder:    result.BuildOrder,
		Cycles:       result.Cycles,
		Waves:        map[int][]string{},
	}

	for name, assignment := range result.Waves.Assignments {
		status := "ok"
		if cycleNodes[name] {
			status = "cycle"
		}
		buildType := "snapshot"
		if sel, ok := result.Selections[name]; ok {
			buildType = string(sel.ChosenType)
		}
		g.Nodes[name] = PlanGraphNode{
			ID:        name,
			BuildType: buildType,
			Status:    status,
			Order:     orderOrDefault(order, name),
			Wave:      assignment.Wave,
			ForcedBy:  assignment.ForcedBy,
		}
		for _, dep := range assignment.ForcedBy {
			g.Edges = append(g.Edges, PlanGraphEdge{From: name, To: dep})
		}
		if assignment.Wave != wave.Unplaced {
			g.Waves[assignment.Wave] = append(g.Waves[assignment.Wave], name)
		}
	}
	for w := range g.Waves {
		sort.Strings(g.Waves[w])
	}
	sort.Slice(g.Edges, func(i, j int) bool {
		if g.Edges[i].From != g.Edges[j].From {
			return g.Edges[i].From < g.Edges[j].From
		}
		return g.Edges[i].To < g.Edges[j].To
	})

	return g
}

func orderOrDefault(order map[string]int, name string) int {
	if o, ok := order[name]; ok {
		return o
	}
	return -1
}

// RenderHTML renders g as a small self-contained HTML page: a build-order
// table plus a waves view, no external assets (ported in spirit from the
// original implementation's render_html(), simplified to the data this
// Go PlanGraph actually carries).
func RenderHTML(g PlanGraph) string {
	var b strings.Builder
	b.WriteString("<!DOCTYPE html>\n<html><head><meta charset=\"utf-8\">")
	fmt.Fprintf(&b, "<title>packastack plan: %s</title>\n", html.EscapeString(g.Target))
	b.WriteString(`<style>
body { font-family: sans-serif; margin: 2em; }
table { border-collapse: collapse; width: 100%; }
td, th { border: 1px solid #ccc; padding: 4px 8px; text-align: left; }
.status-cycle { background: #fdd; }
.type-release { color: #060; }
.type-milestone { color: #840; }
.type-snapshot { color: #444; }
</style></head><body>`)
	fmt.Fprintf(&b, "<h1>Build plan: %s (Ubuntu %s)</h1>\n", html.EscapeString(g.Target), html.EscapeString(g.UbuntuSeries))
	fmt.Fprintf(&b, "<p>%d packages, %d edges, %d waves, %d cycles.</p>\n",
		len(g.Nodes), len(g.Edges), len(g.Waves), len(g.Cycles))

	if len(g.Cycles) > 0 {
		b.WriteString("<h2>Cycles</h2><ul>\n")
		for _, c := range g.Cycles {
			fmt.Fprintf(&b, "<li>%s</li>\n", html.EscapeString(strings.Join(c, " &rarr; ")))
		}
		b.WriteString("</ul>\n")
	}

	b.WriteString("<h2>Build order</h2>\n<table><tr><th>#</th><th>Package</th><th>Type</th><th>Wave</th><th>Forced by</th></tr>\n")
	for i, name := range g.TopoOrder {
		n, ok := g.Nodes[name]
		if !ok {
			continue
		}
		class := "type-" + n.BuildType
		if n.Status == "cycle" {
			class += " status-cycle"
		}
		fmt.Fprintf(&b, "<tr class=\"%s\"><td>%d</td><td>%s</td><td>%s</td><td>%d</td><td>%s</td></tr>\n",
			class, i+1, html.EscapeString(n.ID), html.EscapeString(n.BuildType), n.Wave,
			html.EscapeString(strings.Join(n.ForcedBy, ", ")))
	}
	b.WriteString("</table>\n")

	waveNums := make([]int, 0, len(g.Waves))
	for w := range g.Waves {
		waveNums = append(waveNums, w)
	}
	sort.Ints(waveNums)
	b.WriteString("<h2>Waves</h2>\n<ul>\n")
	for _, w := range waveNums {
		fmt.Fprintf(&b, "<li>Wave %d (%d): %s</li>\n", w, len(g.Waves[w]), html.EscapeString(strings.Join(g.Waves[w], ", ")))
	}
	b.WriteString("</ul>\n</body></html>\n")
	return b.String()
}
