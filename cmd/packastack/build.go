package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/canonical/packastack/internal/builder"
	"github.com/canonical/packastack/internal/buildtype"
	"github.com/canonical/packastack/internal/plan"
	"github.com/canonical/packastack/internal/subprocess"
	"github.com/canonical/packastack/internal/upstream"
)

func newBuildCommand() *cobra.Command {
	var (
		pkg       string
		buildType string
		binary    bool
		force     bool
	)
	cmd := &cobra.Command{
		Use:   "build",
		Short: "Build one package through the gbp/dpkg/sbuild pipeline",
		RunE: func(cmd *cobra.Command, args []string) error {
			if pkg == "" {
				return fmt.Errorf("--package is required")
			}
			e, err := loadEnv(cmd)
			if err != nil {
				return err
			}
			planReq, err := basePlanRequest(e, []string{pkg})
			if err != nil {
				return err
			}
			if buildType != "" {
				planReq.BuildTypeMode = buildType
			}
			result, err := plan.Assemble(cmd.Context(), planReq)
			if err != nil && len(result.BuildOrder) == 0 {
				return err
			}
			sel, ok := result.Selections[pkg]
			if !ok {
				return fmt.Errorf("package %s was not selected by discovery/filtering", pkg)
			}

			req := builder.Request{
				Package:      pkg,
				TargetSeries: e.Config.Series,
				UbuntuSeries: e.Config.Distribution,
				BuildType:    sel.ChosenType,
				GitRef:       sel.LatestVersion,
				Binary:       binary,
				Force:        force,
				RunDir:       e.Config.Paths.CacheDir,
				Upstream:     planReq.Registry.Resolve(pkg),
				Fetcher:      subprocess.GitFetcher{},
				Tools:        subprocess.ToolChecker{},
				Tarballs:     tarballAcquirer(e),
				Packaging:    publishingTools(e),
				Versions:     &upstream.HeuristicCheck{},
			}
			if sel.ChosenType == buildtype.Snapshot {
				req.GitRef = "HEAD"
			}

			outcome, err := builder.Run(cmd.Context(), req)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: built version %s\n  dsc:     %s\n  changes: %s\n",
				pkg, outcome.Version, outcome.DscPath, outcome.ChangesPath)
			if outcome.BinaryLog != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "  binary log: %s\n", filepath.Clean(outcome.BinaryLog))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&pkg, "package", "", "source package name to build")
	cmd.Flags().StringVar(&buildType, "build-type", "", "force \"release\", \"milestone\" or \"snapshot\" instead of auto-selecting")
	cmd.Flags().BoolVar(&binary, "binary", false, "also build and sbuild the binary packages")
	cmd.Flags().BoolVar(&force, "force", false, "override policy blocks (e.g. snapshot eligibility)")
	return cmd
}
