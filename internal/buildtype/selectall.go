package buildtype

import (
	"context"
	"runtime"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/canonical/packastack/internal/releases"
)

// PackageRef names a source package and the deliverable it maps to.
type PackageRef struct {
	SourcePackage string
	Deliverable   string
}

// DefaultParallelWorkers mirrors the original planner's
// get_default_parallel_workers(): half the available CPUs, at least one.
func DefaultParallelWorkers() int {
	n := runtime.NumCPU()
	if n < 2 {
		return 1
	}
	return n / 2
}

// BatchRequest configures SelectAll.
type BatchRequest struct {
	ReleasesRepo      *releases.Repo
	Series            string
	CycleStage        releases.CycleStage
	Packages          []PackageRef
	ForceSnapshot     bool
	RetirementChecker RetirementChecker
	PackageStatus     map[string]PackageStatus // pre-computed new/defunct overrides
	Parallel          int
}

// Report aggregates SelectAll's per-package results plus the one side
// channel reported separately from the chosen type: possibly-retired
// projects. New/defunct tracking is not part of Report; FindNewAndDefunct
// computes it separately.
type Report struct {
	Results           []Selection
	PossiblyRetired   []string
}

// SelectAll runs SelectBuildType (plus the retirement override) for every
// package, fanning out across a bounded worker pool the same way the
// teacher's batch scheduler bounds concurrent builds. Results are sorted
// by source-package name for determinism, matching the original
// planner's final sort.
func SelectAll(ctx context.Context, req BatchRequest) (Report, error) {
	workers := req.Parallel
	if workers < 1 {
		workers = DefaultParallelWorkers()
	}

	results := make([]Selection, len(req.Packages))
	possiblyRetired := make([]string, len(req.Packages))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for i, pkg := range req.Packages {
		i, pkg := i, pkg
		g.Go(func() error {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
			status := StatusActive
			if req.PackageStatus != nil {
				if s, ok := req.PackageStatus[pkg.SourcePackage]; ok {
					status = s
				}
			}
			sel := SelectBuildType(Request{
				ReleasesRepo:  req.ReleasesRepo,
				Series:        req.Series,
				SourcePackage: pkg.SourcePackage,
				Deliverable:   pkg.Deliverable,
				CycleStage:    req.CycleStage,
				ForceSnapshot: req.ForceSnapshot,
				PackageStatus: status,
			})
			if req.RetirementChecker != nil {
				info, err := req.RetirementChecker.Check(pkg.Deliverable)
				if err != nil {
					return err
				}
				if info.Status == RetirementPossiblyRetired {
					possiblyRetired[i] = pkg.SourcePackage
				}
				var overrideErr error
				sel, overrideErr = ApplyRetirementOverride(sel, staticChecker{info})
				if overrideErr != nil {
					return overrideErr
				}
			}
			results[i] = sel
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Report{}, err
	}

	out := Report{Results: results}
	for _, name := range possiblyRetired {
		if name != "" {
			out.PossiblyRetired = append(out.PossiblyRetired, name)
		}
	}
	sort.Slice(out.Results, func(i, j int) bool {
		return out.Results[i].SourcePackage < out.Results[j].SourcePackage
	})
	sort.Strings(out.PossiblyRetired)
	return out, nil
}

// staticChecker adapts an already-computed RetirementInfo into a
// RetirementChecker, avoiding a second lookup inside
// ApplyRetirementOverride.
type staticChecker struct{ info RetirementInfo }

func (s staticChecker) Check(string) (RetirementInfo, error) { return s.info, nil }

// FindNewAndDefunct compares the locally-discovered packaging repos
// against OpenStack release metadata: packages present locally but not
// in releases are "new"; deliverables in releases with no local
// packaging are "defunct".
func FindNewAndDefunct(repo *releases.Repo, series string, localPackages []string) (newPkgs, defunctPkgs []string) {
	if !repo.Exists() {
		return nil, nil
	}
	known := releases.LoadOpenStackPackages(repo, series)
	local := make(map[string]bool, len(localPackages))
	for _, p := range localPackages {
		local[p] = true
		if _, ok := known[p]; !ok {
			newPkgs = append(newPkgs, p)
		}
	}
	for name := range known {
		if !local[name] {
			defunctPkgs = append(defunctPkgs, name)
		}
	}
	sort.Strings(newPkgs)
	sort.Strings(defunctPkgs)
	return newPkgs, defunctPkgs
}
