package main

import (
	"context"
	"os"

	"github.com/spf13/cobra"

	"github.com/canonical/packastack/internal/builder"
	"github.com/canonical/packastack/internal/buildall"
	"github.com/canonical/packastack/internal/buildtype"
	"github.com/canonical/packastack/internal/localrepo"
	"github.com/canonical/packastack/internal/plan"
	"github.com/canonical/packastack/internal/progress"
	"github.com/canonical/packastack/internal/reports"
	"github.com/canonical/packastack/internal/state"
	"github.com/canonical/packastack/internal/subprocess"
	"github.com/canonical/packastack/internal/upstream"
)

// pipelineBuilder adapts internal/builder.Run to buildall.SinglePackageBuilder,
// resolving each package's upstream config from the shared registry
// rather than re-discovering it per call.
type pipelineBuilder struct {
	targetSeries string
	ubuntuSeries string
	runDir       string
	binary       bool
	tools        subprocess.ToolChecker
	fetcher      subprocess.GitFetcher
	tarballs     subprocess.TarballAcquirer
	packaging    subprocess.PackagingTools
	registry     *upstream.Registry
}

func (b *pipelineBuilder) Build(ctx context.Context, pkg string, sel buildtype.Selection) (string, error) {
	gitRef := sel.LatestVersion
	if sel.ChosenType == buildtype.Snapshot {
		gitRef = "HEAD"
	}
	outcome, err := builder.Run(ctx, builder.Request{
		Package:      pkg,
		TargetSeries: b.targetSeries,
		UbuntuSeries: b.ubuntuSeries,
		BuildType:    sel.ChosenType,
		GitRef:       gitRef,
		Binary:       b.binary,
		RunDir:       b.runDir,
		Upstream:     b.registry.Resolve(pkg),
		Fetcher:      b.fetcher,
		Tools:        b.tools,
		Tarballs:     b.tarballs,
		Packaging:    b.packaging,
		Versions:     &upstream.HeuristicCheck{},
	})
	if outcome.BinaryLog != "" {
		return outcome.BinaryLog, err
	}
	return outcome.DscPath, err
}

// reportsAdapter satisfies buildall.Reporter by delegating to
// internal/reports.WriteReports.
type reportsAdapter struct{}

func (reportsAdapter) WriteReports(ctx context.Context, run *state.Run, planResult plan.Result, dir string) error {
	return reports.WriteReports(ctx, run, planResult, dir)
}

func newBuildAllCommand() *cobra.Command {
	var (
		runID       string
		target      string
		resume      bool
		retryFailed bool
		dryRun      bool
		parallel    int
		keepGoing   bool
		binary      bool
	)
	cmd := &cobra.Command{
		Use:   "build-all",
		Short: "Build every discovered package, in dependency-wave order",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := loadEnv(cmd)
			if err != nil {
				return err
			}
			planReq, err := basePlanRequest(e, nil)
			if err != nil {
				return err
			}
			if parallel <= 0 {
				parallel = e.Config.MaxParallel
			}

			builderAdapter := &pipelineBuilder{
				targetSeries: target,
				ubuntuSeries: e.Config.Distribution,
				runDir:       e.Config.Paths.CacheDir,
				binary:       binary,
				tools:        subprocess.ToolChecker{},
				fetcher:      subprocess.GitFetcher{},
				tarballs:     tarballAcquirer(e),
				packaging:    publishingTools(e),
				registry:     planReq.Registry,
			}

			req := buildall.Request{
				RunID:        runID,
				Target:       target,
				UbuntuSeries: e.Config.Distribution,
				Resume:       resume,
				RetryFailed:  retryFailed,
				DryRun:       dryRun,
				Parallel:     parallel,
				KeepGoing:    keepGoing,
				StateDir:     e.Config.Paths.StateDir,
				Plan:         planReq,
				Builder:      builderAdapter,
				Index:        localrepo.Regenerator{RepoRoot: e.Config.Paths.PoolDir, Arch: "amd64"},
				Reports:      reportsAdapter{},
				Progress:     progress.New(os.Stdout, 0),
				Logger:       commandLogger(),
			}

			code, runErr := buildall.Run(cmd.Context(), req)
			if runErr != nil {
				return runErr
			}
			os.Exit(int(code))
			return nil
		},
	}
	cmd.Flags().StringVar(&runID, "run-id", "", "identifier for this run's state file")
	cmd.Flags().StringVar(&target, "target", "devel", "OpenStack series to target, or \"devel\"")
	cmd.Flags().BoolVar(&resume, "resume", false, "resume a prior run's state instead of starting fresh")
	cmd.Flags().BoolVar(&retryFailed, "retry-failed", false, "on resume, reset failed packages to pending")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "plan only, build nothing")
	cmd.Flags().IntVar(&parallel, "parallel", 0, "number of concurrent builds per wave (0 = config default)")
	cmd.Flags().BoolVar(&keepGoing, "keep-going", true, "keep building other packages after a failure")
	cmd.Flags().BoolVar(&binary, "binary", false, "also build and sbuild binary packages")
	return cmd
}
