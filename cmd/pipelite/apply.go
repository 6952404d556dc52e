package main

import (
	"github.com/spf13/cobra"

	"github.com/davidroman0O/pipelite"
)

func newApplyCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "apply PATH",
		Short: "Create the pipelines and workflows declared in an HCL file or directory",
		Args:  cobra.ExactArgs(1),
	}
	dryRun := cmd.Flags().Bool("dry-run", false, "only parse and check the definition")
	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		def, err := pipelite.ParseDefinition(args[0])
		if err != nil {
			return err
		}
		if *dryRun {
			return a.print(def)
		}
		res, err := a.p.ApplyDefinition(cmd.Context(), def)
		if err != nil {
			return err
		}
		return a.print(res)
	}
	return cmd
}
