package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/canonical/packastack/internal/plan"
)

func newPlanCommand() *cobra.Command {
	var packages []string
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Assemble and print the build plan without building anything",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := loadEnv(cmd)
			if err != nil {
				return err
			}
			req, err := basePlanRequest(e, packages)
			if err != nil {
				return err
			}
			result, err := plan.Assemble(cmd.Context(), req)
			if err != nil && len(result.BuildOrder) == 0 {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "%d packages, %d waves\n", len(result.BuildOrder), result.Waves.WaveCount)
			for _, name := range result.BuildOrder {
				a := result.Waves.Assignments[name]
				sel := result.Selections[name]
				fmt.Fprintf(cmd.OutOrStdout(), "  wave %d  %-40s %s\n", a.Wave, name, sel.ChosenType)
			}
			if len(result.Missing) > 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "%d missing binary dependencies\n", len(result.Missing))
			}
			if len(result.Cycles) > 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "%d dependency cycles detected\n", len(result.Cycles))
			}
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&packages, "package", nil, "explicit package list (repeatable), skips discovery")
	return cmd
}
