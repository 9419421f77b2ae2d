// Command packastack orchestrates OpenStack-to-Debian package builds:
// discovering the package set, resolving upstream sources, choosing a
// build type, ordering the dependency graph into waves, and driving the
// gbp/dpkg/sbuild pipeline for one package or the whole set.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/canonical/packastack"
)

func main() {
	ctx, cancel := packastack.InterruptibleContext()
	defer cancel()
	defer packastack.RunAtExit()

	root := newRootCommand()
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "packastack:", err)
		os.Exit(int(packastack.CodeOf(err)))
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "packastack",
		Short:         "Builds Debian packages for OpenStack projects",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().String("config", "", "path to packastack.yaml")

	cmd.AddCommand(newBuildCommand())
	cmd.AddCommand(newBuildAllCommand())
	cmd.AddCommand(newPlanCommand())

	return cmd
}
