package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/davidroman0O/pipelite"
)

func newRunCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "run",
		Aliases: []string{"runs"},
		Short:   "Create pipeline runs and move them through their states",
	}
	cmd.AddCommand(
		newRunCreateCmd(a),
		newRunAdvanceCmd(a),
		newRunGetCmd(a),
		newRunListCmd(a),
		newRunOutputCmd(a),
		newRunNeighboursCmd(a, "downstream", "List the runs waiting on this workflow member"),
		newRunNeighboursCmd(a, "upstream", "List the runs this workflow member waits on"),
		newRunReadyCmd(a),
		newWorkflowRunCmd(a),
	)
	return cmd
}

// parseInputs turns name=url pairs into run inputs, keeping their order.
func parseInputs(raw []string) ([]pipelite.PipelineRunInputRequest, error) {
	inputs := make([]pipelite.PipelineRunInputRequest, 0, len(raw))
	for _, r := range raw {
		name, url, ok := strings.Cut(r, "=")
		if !ok {
			return nil, pipelite.NewValidationError("input", "expected name=url, got %q", r)
		}
		inputs = append(inputs, pipelite.PipelineRunInputRequest{Name: name, URL: url})
	}
	return inputs, nil
}

func newRunCreateCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "create PIPELINE_ID",
		Short: "Create a run in NOT_STARTED",
		Args:  cobra.ExactArgs(1),
	}
	callback := cmd.Flags().String("callback", "", "url notified on every state change")
	inputs := cmd.Flags().StringArray("input", nil, "input file as name=url, repeatable")
	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		in, err := parseInputs(*inputs)
		if err != nil {
			return err
		}
		run, err := a.p.CreatePipelineRun(cmd.Context(), pipelite.PipelineID(args[0]), pipelite.PipelineRunRequest{
			Inputs:      in,
			CallbackURL: *callback,
		})
		if err != nil {
			return err
		}
		return a.print(run)
	}
	return cmd
}

func newRunAdvanceCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "advance RUN_ID STATE",
		Short: "Move a run to STATE",
		Long: "Move a run to STATE, one of NOT_STARTED, RUNNING, COMPLETED, FAILED or CANCELLED.\n" +
			"The callback url of the run is notified once the new state is stored.",
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			entry, err := a.p.AdvanceString(cmd.Context(), pipelite.PipelineRunID(args[0]), args[1])
			if err != nil {
				return err
			}
			return a.print(entry)
		},
	}
}

func newRunGetCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "get RUN_ID",
		Short: "Show a run with its state history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			run, err := a.p.GetPipelineRun(cmd.Context(), pipelite.PipelineRunID(args[0]))
			if err != nil {
				return err
			}
			return a.print(struct {
				*pipelite.PipelineRun
				Current pipelite.RunState   `json:"current_state"`
				Next    []pipelite.RunState `json:"allowed_transitions"`
			}{run, run.CurrentState(), pipelite.AllowedTransitions(run.CurrentState())})
		},
	}
}

func newRunListCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list PIPELINE_ID",
		Short: "List the runs of a pipeline",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			list, err := a.p.ListPipelineRuns(cmd.Context(), pipelite.PipelineID(args[0]))
			if err != nil {
				return err
			}
			return a.print(list)
		},
	}
}

func newRunOutputCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "output RUN_ID",
		Short: "Store the captured stdout and stderr of a run",
		Args:  cobra.ExactArgs(1),
	}
	stdoutFile := cmd.Flags().String("stdout", "", "file holding the standard output")
	stderrFile := cmd.Flags().String("stderr", "", "file holding the standard error")
	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		stdout, err := readOptional(*stdoutFile)
		if err != nil {
			return err
		}
		stderr, err := readOptional(*stderrFile)
		if err != nil {
			return err
		}
		run, err := a.p.UpdatePipelineRunOutput(cmd.Context(), pipelite.PipelineRunID(args[0]), stdout, stderr)
		if err != nil {
			return err
		}
		return a.print(run)
	}
	return cmd
}

func readOptional(path string) (string, error) {
	if path == "" {
		return "", nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", path, err)
	}
	return string(b), nil
}

func newRunNeighboursCmd(a *app, direction, short string) *cobra.Command {
	return &cobra.Command{
		Use:   direction + " WORKFLOW_PIPELINE_RUN_ID",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			member := pipelite.WorkflowPipelineRunID(args[0])
			var (
				list []*pipelite.PipelineRun
				err  error
			)
			if direction == "downstream" {
				list, err = a.p.DownstreamRuns(cmd.Context(), member)
			} else {
				list, err = a.p.UpstreamRuns(cmd.Context(), member)
			}
			if err != nil {
				return err
			}
			return a.print(list)
		},
	}
}

func newRunReadyCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "ready WORKFLOW_PIPELINE_RUN_ID",
		Short: "Tell whether every upstream run of a workflow member completed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ready, err := a.p.UpstreamSatisfied(cmd.Context(), pipelite.WorkflowPipelineRunID(args[0]))
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(a.out, ready)
			return err
		},
	}
}

func newWorkflowRunCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "workflow",
		Short: "Inspect workflow runs",
	}

	get := &cobra.Command{
		Use:   "get WORKFLOW_RUN_ID",
		Short: "Show a workflow run with its members and their runs",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := pipelite.WorkflowRunID(args[0])
			wr, err := a.p.GetWorkflowRun(cmd.Context(), id)
			if err != nil {
				return err
			}
			members, err := a.p.ListWorkflowPipelineRuns(cmd.Context(), id)
			if err != nil {
				return err
			}
			runs, err := a.p.PipelineRunsForWorkflowRun(cmd.Context(), id)
			if err != nil {
				return err
			}
			return a.print(struct {
				WorkflowRun *pipelite.WorkflowRun           `json:"workflow_run"`
				Members     []*pipelite.WorkflowPipelineRun `json:"members"`
				Runs        []*pipelite.PipelineRun         `json:"pipeline_runs"`
			}{wr, members, runs})
		},
	}

	list := &cobra.Command{
		Use:   "list WORKFLOW_ID",
		Short: "List the runs of a workflow",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			list, err := a.p.ListWorkflowRuns(cmd.Context(), pipelite.WorkflowID(args[0]))
			if err != nil {
				return err
			}
			return a.print(list)
		},
	}

	member := &cobra.Command{
		Use:   "member PIPELINE_RUN_ID",
		Short: "Find the workflow member a pipeline run belongs to",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := a.p.MemberOf(cmd.Context(), pipelite.PipelineRunID(args[0]))
			if err != nil {
				return err
			}
			return a.print(m)
		},
	}

	cmd.AddCommand(get, list, member)
	return cmd
}
