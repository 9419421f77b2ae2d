// Package buildall drives every package in a plan through the
// single-package builder, sequentially or in waves, with resumable
// state and local APT index regeneration at the right boundaries.
package buildall

import (
	"context"
	"log"

	"golang.org/x/sync/errgroup"
	"golang.org/x/xerrors"

	"github.com/canonical/packastack"
	"github.com/canonical/packastack/internal/buildtype"
	"github.com/canonical/packastack/internal/plan"
	"github.com/canonical/packastack/internal/releases"
	"github.com/canonical/packastack/internal/state"
	"github.com/canonical/packastack/internal/wave"
)

// SinglePackageBuilder builds one package, returning the path to its
// build log regardless of success or failure (state.MarkFailed records
// it too). The returned error's packastack.ExitCode classifies the
// failure.
type SinglePackageBuilder interface {
	Build(ctx context.Context, pkg string, sel buildtype.Selection) (logPath string, err error)
}

// IndexRegenerator regenerates the local APT repository's indexes.
type IndexRegenerator interface {
	Regenerate(ctx context.Context) error
}

// Reporter writes the end-of-run JSON/Markdown summaries.
type Reporter interface {
	WriteReports(ctx context.Context, run *state.Run, planResult plan.Result, dir string) error
}

// ProgressReporter is notified after each package transitions to success
// or failed, driving the wave-by-wave progress bar.
type ProgressReporter interface {
	Update(label string)
	Done()
}

// Request is the input to Run.
type Request struct {
	RunID        string
	Target       string // OpenStack series, or "devel"
	UbuntuSeries string

	Resume      bool
	RetryFailed bool
	DryRun      bool

	Parallel    int
	MaxFailures int
	KeepGoing   bool
	StateDir    string

	Plan         plan.Request
	Builder      SinglePackageBuilder
	Index        IndexRegenerator
	Reports      Reporter
	Requirements RequirementsSource
	Progress     ProgressReporter
	Logger       *log.Logger
}

func classifyFailure(err error) state.FailureType {
	switch packastack.CodeOf(err) {
	case packastack.FetchFailed:
		return state.FailureFetch
	case packastack.PatchFailed:
		return state.FailurePatch
	case packastack.MissingPackages:
		return state.FailureMissingDep
	case packastack.CycleDetected:
		return state.FailureCycle
	case packastack.BuildFailed:
		return state.FailureBuild
	case packastack.PolicyBlocked:
		return state.FailurePolicy
	default:
		return state.FailureUnknown
	}
}

// Run executes the all-packages pipeline end to end, returning the run's
// final exit code.
func Run(ctx context.Context, req Request) (packastack.ExitCode, error) {
	logger := req.Logger
	if logger == nil {
		logger = log.Default()
	}

	series := req.Target
	if series == "devel" {
		series = releases.GetCurrentDevelopmentSeries(req.Plan.ReleasesRepo)
	}
	req.Plan.Series = series

	var run *state.Run
	if req.Resume {
		loaded, err := state.LoadState(req.StateDir)
		if err != nil {
			return packastack.ResumeError, packastack.Coded(packastack.ResumeError, err)
		}
		if loaded == nil {
			return packastack.ResumeError, packastack.Coded(packastack.ResumeError,
				xerrors.Errorf("no prior run state found under %s to resume", req.StateDir))
		}
		run = loaded
		if req.RetryFailed {
			run.ResetFailedToPending()
		}
		// skip-failed (the default when retry_failed is false): leave
		// failed packages as-is, they simply stay out of the pending set.
	}

	result, err := plan.Assemble(ctx, req.Plan)
	if err != nil && result.ExitCode == packastack.DiscoveryFailed {
		return result.ExitCode, err
	}
	logger.Printf("plan: %d packages discovered", len(result.BuildOrder))

	if len(result.Cycles) > 0 {
		logger.Printf("dependency cycles detected: %v", result.Cycles)
		for _, s := range SuggestCycleBreaks(result.Cycles, req.Requirements) {
			logger.Printf("cycle-break suggestion: %s", s.Reason)
		}
	}
	if len(result.Missing) > 0 {
		logger.Printf("missing dependencies: %v", plan.SortedMissing(result.Missing))
	}

	if len(result.BuildOrder) == 0 {
		return packastack.DiscoveryFailed, nil
	}
	if err != nil {
		// Assemble only returns a non-nil error alongside a populated
		// BuildOrder when the topological sort itself failed.
		return packastack.GraphError, err
	}

	if run == nil {
		run = state.CreateInitialState(req.RunID, req.Target, req.UbuntuSeries, req.Plan.BuildTypeMode,
			result.BuildOrder, result.BuildOrder, req.MaxFailures, req.KeepGoing, req.Parallel)
	}

	if req.DryRun {
		logger.Printf("dry run: %d waves, build order: %v", result.Waves.WaveCount, result.BuildOrder)
		return packastack.Success, nil
	}

	if req.Parallel > 1 {
		if rerr := runParallel(ctx, req, run, result, logger); rerr != nil {
			logger.Printf("parallel execution error: %v", rerr)
		}
	} else {
		if rerr := runSequential(ctx, req, run, result, logger); rerr != nil {
			logger.Printf("sequential execution error: %v", rerr)
		}
	}

	if req.Progress != nil {
		req.Progress.Done()
	}

	run.MarkCompleted()
	if err := state.SaveState(run, req.StateDir); err != nil {
		logger.Printf("saving final state: %v", err)
	}
	if req.Reports != nil {
		if err := req.Reports.WriteReports(ctx, run, result, req.StateDir); err != nil {
			logger.Printf("writing reports: %v", err)
		}
	}

	if len(run.FailedPackages()) > 0 {
		return packastack.AllBuildFailed, nil
	}
	return packastack.Success, nil
}

func buildOne(ctx context.Context, req Request, run *state.Run, result plan.Result, name string, logger *log.Logger) {
	if err := run.MarkStarted(name); err != nil {
		logger.Printf("mark_started %s: %v", name, err)
		return
	}
	sel := result.Selections[name]
	logPath, err := req.Builder.Build(ctx, name, sel)
	if err != nil {
		if merr := run.MarkFailed(name, classifyFailure(err), err.Error(), logPath); merr != nil {
			logger.Printf("mark_failed %s: %v", name, merr)
		}
		logger.Printf("%s: build failed: %v", name, err)
		reportProgress(req, name)
		return
	}
	if merr := run.MarkSuccess(name, logPath); merr != nil {
		logger.Printf("mark_success %s: %v", name, merr)
	}
	logger.Printf("%s: build succeeded", name)
	reportProgress(req, name)
}

func reportProgress(req Request, name string) {
	if req.Progress != nil {
		req.Progress.Update(name)
	}
}

func pendingSet(run *state.Run) map[string]bool {
	pending := map[string]bool{}
	for name, ps := range run.Packages {
		if ps.Status == state.Pending {
			pending[name] = true
		}
	}
	return pending
}

// runParallel iterates waves in order, submitting up to req.Parallel
// pending packages per wave to a bounded worker pool, regenerating the
// local APT indexes once after each wave completes.
func runParallel(ctx context.Context, req Request, run *state.Run, result plan.Result, logger *log.Logger) error {
	batches := wave.Batches(result.Waves, pendingSet(run))
	for _, batch := range batches {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(req.Parallel)
		for _, name := range batch {
			name := name
			if run.Packages[name] == nil || run.Packages[name].Status != state.Pending {
				continue
			}
			g.Go(func() error {
				buildOne(gctx, req, run, result, name, logger)
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}
		if req.Index != nil {
			if err := req.Index.Regenerate(ctx); err != nil {
				logger.Printf("regenerating local apt indexes: %v", err)
			}
		}
		if err := state.SaveState(run, req.StateDir); err != nil {
			logger.Printf("saving state: %v", err)
		}
		if run.ShouldStop() {
			logger.Printf("stopping: should_stop fired after wave")
			break
		}
	}
	return nil
}

// runSequential iterates the topological build order, regenerating the
// local APT indexes after each success.
func runSequential(ctx context.Context, req Request, run *state.Run, result plan.Result, logger *log.Logger) error {
	for _, name := range result.BuildOrder {
		ps := run.Packages[name]
		if ps == nil || ps.Status != state.Pending {
			continue
		}
		buildOne(ctx, req, run, result, name, logger)
		if run.Packages[name].Status == state.Success && req.Index != nil {
			if err := req.Index.Regenerate(ctx); err != nil {
				logger.Printf("regenerating local apt indexes: %v", err)
			}
		}
		if err := state.SaveState(run, req.StateDir); err != nil {
			logger.Printf("saving state: %v", err)
		}
		if run.ShouldStop() {
			logger.Printf("stopping: should_stop fired")
			break
		}
	}
	return nil
}
