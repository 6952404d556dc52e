package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/davidroman0O/pipelite"
)

const maxParallelUploads = 4

func newArtifactCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "artifact",
		Aliases: []string{"artifacts"},
		Short:   "Attach files to runs and read them back",
	}

	attach := &cobra.Command{
		Use:   "attach RUN_ID FILE...",
		Short: "Upload files and record them on the run",
		Args:  cobra.MinimumNArgs(2),
	}
	name := attach.Flags().String("name", "", "artifact name when attaching a single file (default the file name)")
	attach.RunE = func(cmd *cobra.Command, args []string) error {
		runID := pipelite.PipelineRunID(args[0])
		files := args[1:]
		if *name != "" && len(files) > 1 {
			return pipelite.NewValidationError("name", "only valid with a single file")
		}

		attached := make([]*pipelite.PipelineRunArtifact, len(files))
		g, ctx := errgroup.WithContext(cmd.Context())
		g.SetLimit(maxParallelUploads)
		for i, file := range files {
			g.Go(func() error {
				artifactName := filepath.Base(file)
				if *name != "" {
					artifactName = *name
				}
				f, err := os.Open(file)
				if err != nil {
					return err
				}
				defer f.Close()

				artifact, err := a.p.AttachArtifact(ctx, runID, artifactName, f)
				if err != nil {
					return fmt.Errorf("attaching %s: %w", file, err)
				}
				attached[i] = artifact
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}
		return a.print(attached)
	}

	list := &cobra.Command{
		Use:   "list RUN_ID",
		Short: "List the artifacts of a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			list, err := a.p.ListArtifacts(cmd.Context(), pipelite.PipelineRunID(args[0]))
			if err != nil {
				return err
			}
			return a.print(list)
		},
	}

	get := &cobra.Command{
		Use:   "get RUN_ID ARTIFACT_ID",
		Short: "Write the content of an artifact to stdout or --output",
		Args:  cobra.ExactArgs(2),
	}
	output := get.Flags().StringP("output", "o", "", "destination file")
	get.RunE = func(cmd *cobra.Command, args []string) error {
		list, err := a.p.ListArtifacts(cmd.Context(), pipelite.PipelineRunID(args[0]))
		if err != nil {
			return err
		}
		for _, artifact := range list {
			if string(artifact.ID) != args[1] {
				continue
			}
			rc, err := a.p.OpenArtifact(cmd.Context(), artifact)
			if err != nil {
				return err
			}
			defer rc.Close()

			var w io.Writer = a.out
			if *output != "" {
				f, err := os.Create(*output)
				if err != nil {
					return err
				}
				defer f.Close()
				w = f
			}
			_, err = io.Copy(w, rc)
			return err
		}
		return pipelite.NewNotFound("artifact", args[1])
	}

	cmd.AddCommand(attach, list, get)
	return cmd
}
