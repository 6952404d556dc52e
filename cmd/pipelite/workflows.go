package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/davidroman0O/pipelite"
)

func newWorkflowCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "workflow",
		Aliases: []string{"workflows"},
		Short:   "Manage workflows and the dependencies between their pipelines",
	}

	var spec pipelite.WorkflowSpec
	create := &cobra.Command{
		Use:   "create",
		Short: "Create an empty workflow",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			w, err := a.p.CreateWorkflow(cmd.Context(), spec)
			if err != nil {
				return err
			}
			return a.print(w)
		},
	}
	create.Flags().StringVar(&spec.Name, "name", "", "workflow name")
	create.Flags().StringVar(&spec.Description, "description", "", "workflow description")

	var update pipelite.WorkflowSpec
	updateCmd := &cobra.Command{
		Use:   "update ID",
		Short: "Replace the name and description of a workflow",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			w, err := a.p.UpdateWorkflow(cmd.Context(), pipelite.WorkflowID(args[0]), update)
			if err != nil {
				return err
			}
			return a.print(w)
		},
	}
	updateCmd.Flags().StringVar(&update.Name, "name", "", "workflow name")
	updateCmd.Flags().StringVar(&update.Description, "description", "", "workflow description")

	get := &cobra.Command{
		Use:   "get ID",
		Short: "Show a workflow with its nodes and edges",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := pipelite.WorkflowID(args[0])
			w, err := a.p.GetWorkflow(cmd.Context(), id)
			if err != nil {
				return err
			}
			nodes, err := a.p.ListWorkflowPipelines(cmd.Context(), id)
			if err != nil {
				return err
			}
			edges, err := a.p.ListDependencies(cmd.Context(), id)
			if err != nil {
				return err
			}
			return a.print(struct {
				Workflow     *pipelite.Workflow                     `json:"workflow"`
				Pipelines    []*pipelite.WorkflowPipeline           `json:"pipelines"`
				Dependencies []*pipelite.WorkflowPipelineDependency `json:"dependencies"`
			}{w, nodes, edges})
		},
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List workflows",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			list, err := a.p.ListWorkflows(cmd.Context())
			if err != nil {
				return err
			}
			return a.print(list)
		},
	}

	del := &cobra.Command{
		Use:   "delete ID",
		Short: "Delete a workflow with its nodes and edges",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.p.DeleteWorkflow(cmd.Context(), pipelite.WorkflowID(args[0]))
		},
	}

	add := &cobra.Command{
		Use:   "add WORKFLOW_ID PIPELINE_ID",
		Short: "Place a pipeline in a workflow",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			node, err := a.p.AddWorkflowPipeline(cmd.Context(), pipelite.WorkflowID(args[0]), pipelite.PipelineID(args[1]))
			if err != nil {
				return err
			}
			return a.print(node)
		},
	}

	remove := &cobra.Command{
		Use:   "remove WORKFLOW_PIPELINE_ID",
		Short: "Take a node out of its workflow along with its edges",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.p.RemoveWorkflowPipeline(cmd.Context(), pipelite.WorkflowPipelineID(args[0]))
		},
	}

	cmd.AddCommand(create, updateCmd, get, list, del, add, remove,
		newDependCmd(a), newUndependCmd(a), newCheckCmd(a), newOrderCmd(a), newStartCmd(a))
	return cmd
}

func edgeArgs(args []string) (pipelite.WorkflowID, pipelite.WorkflowPipelineID, pipelite.WorkflowPipelineID) {
	return pipelite.WorkflowID(args[0]), pipelite.WorkflowPipelineID(args[1]), pipelite.WorkflowPipelineID(args[2])
}

func newDependCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "depend WORKFLOW_ID FROM TO",
		Short: "Make TO wait for FROM",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			wf, from, to := edgeArgs(args)
			edge, err := a.p.AddDependency(cmd.Context(), wf, from, to)
			if err != nil {
				return err
			}
			return a.print(edge)
		},
	}
}

func newUndependCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "undepend WORKFLOW_ID FROM TO",
		Short: "Remove the edge FROM -> TO",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			wf, from, to := edgeArgs(args)
			return a.p.RemoveDependency(cmd.Context(), wf, from, to)
		},
	}
}

func newCheckCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "check WORKFLOW_ID FROM TO",
		Short: "Tell whether FROM -> TO would close a cycle, without adding it",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			wf, from, to := edgeArgs(args)
			cyclic, err := a.p.WouldCreateCycle(cmd.Context(), wf, from, to)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(a.out, cyclic)
			return err
		},
	}
}

func newOrderCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "order WORKFLOW_ID",
		Short: "Print the nodes of a workflow in execution order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			order, err := a.p.TopologicalOrder(cmd.Context(), pipelite.WorkflowID(args[0]))
			if err != nil {
				return err
			}
			return a.print(order)
		},
	}
}

func newStartCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start WORKFLOW_ID",
		Short: "Create one pipeline run per node of the workflow",
		Args:  cobra.ExactArgs(1),
	}
	callback := cmd.Flags().String("callback", "", "callback url shared by every run")
	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		wr, members, err := a.p.StartWorkflowRun(cmd.Context(), pipelite.WorkflowID(args[0]), *callback)
		if err != nil {
			return err
		}
		return a.print(struct {
			WorkflowRun *pipelite.WorkflowRun           `json:"workflow_run"`
			Members     []*pipelite.WorkflowPipelineRun `json:"members"`
		}{wr, members})
	}
	return cmd
}
