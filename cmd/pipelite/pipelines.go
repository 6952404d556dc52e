package main

import (
	"github.com/spf13/cobra"

	"github.com/davidroman0O/pipelite"
)

func pipelineFlags(cmd *cobra.Command, spec *pipelite.PipelineSpec) {
	f := cmd.Flags()
	f.StringVar(&spec.Name, "name", "", "pipeline name")
	f.StringVar(&spec.Description, "description", "", "free text description")
	f.StringVar(&spec.DockerImageURL, "image", "", "docker image url")
	f.StringVar(&spec.RepositorySSHURL, "repo", "", "repository ssh url")
	f.StringVar(&spec.RepositoryBranch, "branch", "", "repository branch (default master)")
}

func newPipelineCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "pipeline",
		Aliases: []string{"pipelines"},
		Short:   "Manage pipelines",
	}

	var spec pipelite.PipelineSpec
	create := &cobra.Command{
		Use:   "create",
		Short: "Register a pipeline",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := a.p.CreatePipeline(cmd.Context(), spec)
			if err != nil {
				return err
			}
			return a.print(p)
		},
	}
	pipelineFlags(create, &spec)

	var update pipelite.PipelineSpec
	updateCmd := &cobra.Command{
		Use:   "update ID",
		Short: "Replace the attributes of a pipeline",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := a.p.UpdatePipeline(cmd.Context(), pipelite.PipelineID(args[0]), update)
			if err != nil {
				return err
			}
			return a.print(p)
		},
	}
	pipelineFlags(updateCmd, &update)

	get := &cobra.Command{
		Use:   "get ID|NAME",
		Short: "Show a pipeline by id, or by name with --by-name",
		Args:  cobra.ExactArgs(1),
	}
	byName := get.Flags().Bool("by-name", false, "look the pipeline up by name")
	get.RunE = func(cmd *cobra.Command, args []string) error {
		var (
			p   *pipelite.Pipeline
			err error
		)
		if *byName {
			p, err = a.p.FindPipeline(cmd.Context(), args[0])
		} else {
			p, err = a.p.GetPipeline(cmd.Context(), pipelite.PipelineID(args[0]))
		}
		if err != nil {
			return err
		}
		return a.print(p)
	}

	list := &cobra.Command{
		Use:   "list [ID...]",
		Short: "List pipelines",
		RunE: func(cmd *cobra.Command, args []string) error {
			ids := make([]pipelite.PipelineID, 0, len(args))
			for _, arg := range args {
				ids = append(ids, pipelite.PipelineID(arg))
			}
			list, err := a.p.ListPipelines(cmd.Context(), ids...)
			if err != nil {
				return err
			}
			return a.print(list)
		},
	}

	del := &cobra.Command{
		Use:   "delete ID",
		Short: "Delete a pipeline",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.p.DeletePipeline(cmd.Context(), pipelite.PipelineID(args[0]))
		},
	}

	cmd.AddCommand(create, updateCmd, get, list, del)
	return cmd
}
