// Package plan assembles the full run plan: discovery, cross-reference,
// index loading, graph construction, build-type selection (with the
// retirement override applied to each selection), cycle detection and
// wave computation. Retired packages are not removed from the plan.
package plan

import (
	"context"
	"sort"

	"github.com/canonical/packastack/internal/buildtype"
	"github.com/canonical/packastack/internal/depgraph"
	"github.com/canonical/packastack/internal/discovery"
	"github.com/canonical/packastack/internal/releases"
	"github.com/canonical/packastack/internal/upstream"
	"github.com/canonical/packastack/internal/wave"

	"github.com/canonical/packastack"
)

// BinaryIndex abstracts the Ubuntu archive / cloud archive pocket / local
// APT repo lookups the graph builder needs: given a binary package name,
// return its source package and whether it lives in a non-main component
// (universe/multiverse, an MIR candidate).
type BinaryIndex interface {
	// Depends returns the binary dependency names (Depends + Pre-Depends)
	// of every binary produced by sourcePackage.
	Depends(sourcePackage string) []string
	// ResolveSource maps a binary package name to its source package name
	// and whether that binary lives outside the main component.
	ResolveSource(binaryName string) (source string, universe bool, ok bool)
}

// MIRCandidate records a universe/multiverse dependency that forced a
// warning instead of a graph edge.
type MIRCandidate struct {
	Package string
	Binary  string
}

// Result is the assembled plan.
type Result struct {
	BuildOrder    []string
	UploadOrder   []string
	Waves         wave.Result
	MIRCandidates []MIRCandidate
	Missing       map[string][]string // binary name -> required_by source packages
	Cycles        [][]string
	Selections    map[string]buildtype.Selection
	Warnings      map[string]discovery.FilterReason // cross-reference warnings
	ExitCode      packastack.ExitCode
}

// Request bundles the inputs to Assemble.
type Request struct {
	Discovery      discovery.Options
	ReleasesRepo   *releases.Repo
	Registry       *upstream.Registry
	Series         string // OpenStack series
	BinaryIndex    BinaryIndex
	LocalPackaging map[string]bool // source package -> has local packaging checkout (needs_rebuild)
	ForceSnapshot  bool
	BuildTypeMode  string // "auto" | "release" | "milestone" | "snapshot"
	Retirement     buildtype.RetirementChecker
	Parallel       int
}

// Assemble runs the full discover -> graph -> waves pipeline.
func Assemble(ctx context.Context, req Request) (Result, error) {
	disc := discovery.Discover(ctx, req.Discovery)
	if len(disc.Errors) > 0 && len(disc.Packages) == 0 {
		return Result{ExitCode: packastack.DiscoveryFailed}, disc.Errors[0]
	}
	if len(disc.Packages) == 0 {
		return Result{ExitCode: packastack.DiscoveryFailed}, nil
	}

	known := releases.LoadOpenStackPackages(req.ReleasesRepo, req.Series)
	warnings := discovery.CrossReference(disc.Packages, req.Registry, known)
	cycleStage := releases.DetermineCycleStage(req.ReleasesRepo, req.Series)

	g := depgraph.New()
	for _, name := range disc.Packages {
		g.AddNode(name, req.LocalPackaging[name])
	}

	var missingDeps = map[string][]string{}
	var mirCandidates []MIRCandidate
	if req.BinaryIndex != nil {
		for _, name := range disc.Packages {
			for _, binDep := range req.BinaryIndex.Depends(name) {
				source, universe, ok := req.BinaryIndex.ResolveSource(binDep)
				if !ok {
					missingDeps[binDep] = append(missingDeps[binDep], name)
					continue
				}
				if universe {
					mirCandidates = append(mirCandidates, MIRCandidate{Package: name, Binary: binDep})
					continue
				}
				if _, isTarget := g.Node(source); isTarget {
					if g.IsExcluded(name, source) {
						continue
					}
					g.AddEdge(name, source)
				}
			}
		}
	}

	cycles := g.DetectCycles()
	waves := wave.Compute(g)

	order, topoErr := g.TopologicalSort()

	selections := map[string]buildtype.Selection{}
	for _, name := range disc.Packages {
		cfg := req.Registry.Resolve(name)
		deliverable := cfg.ReleaseSource.Deliverable
		if deliverable == "" {
			deliverable = name
		}
		sel := selectOne(req, name, deliverable, cycleStage)
		selections[name] = sel
	}

	result := Result{
		BuildOrder:    order,
		UploadOrder:   order,
		Waves:         waves,
		MIRCandidates: mirCandidates,
		Missing:       missingDeps,
		Cycles:        cycles,
		Selections:    selections,
		Warnings:      warnings,
		ExitCode:      packastack.Success,
	}

	if topoErr != nil {
		result.ExitCode = packastack.CycleDetected
		return result, topoErr
	}
	if len(missingDeps) > 0 {
		result.ExitCode = packastack.MissingPackages
	}
	return result, nil
}

func selectOne(req Request, sourcePackage, deliverable string, cycleStage releases.CycleStage) buildtype.Selection {
	force := req.ForceSnapshot || req.BuildTypeMode == "snapshot"
	sel := buildtype.SelectBuildType(buildtype.Request{
		ReleasesRepo:  req.ReleasesRepo,
		Series:        req.Series,
		SourcePackage: sourcePackage,
		Deliverable:   deliverable,
		CycleStage:    cycleStage,
		ForceSnapshot: force,
	})
	switch req.BuildTypeMode {
	case "release":
		sel.ChosenType = buildtype.Release
		sel.ReasonCode = buildtype.ReasonHasRelease
	case "milestone":
		sel.ChosenType = buildtype.Milestone
		sel.ReasonCode = buildtype.ReasonHasMilestoneOnly
	}
	if req.Retirement != nil {
		if out, err := buildtype.ApplyRetirementOverride(sel, req.Retirement); err == nil {
			sel = out
		}
	}
	return sel
}

// SortedMissing returns Missing's keys sorted, for deterministic
// reporting.
func SortedMissing(missing map[string][]string) []string {
	out := make([]string, 0, len(missing))
	for k := range missing {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
