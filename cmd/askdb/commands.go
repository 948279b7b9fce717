package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kailas-cloud/askdb/internal/app"
	"github.com/kailas-cloud/askdb/internal/domain"
	askuc "github.com/kailas-cloud/askdb/internal/usecase/ask"
)

// errReported marks an error already printed for the user.
var errReported = errors.New("reported")

type askOptions struct {
	pipeline  string
	documents []string
	stages    []string
	trace     bool
	asJSON    bool
}

func newAskCmd(opts *globalOptions) *cobra.Command {
	ao := &askOptions{}
	cmd := &cobra.Command{
		Use:     "ask <question>",
		Short:   "Answer one question and print the result",
		Example: `  askdb ask "How many customers signed up last month?"` + "\n" + `  askdb ask -p graph_qa --trace "Who knows Alice?"`,
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), opts, func(ctx context.Context, a *app.App) error {
				req := askuc.Request{
					Question:       strings.Join(args, " "),
					Pipeline:       ao.pipeline,
					Documents:      ao.documents,
					SelectedStages: ao.stages,
					IncludeTrace:   ao.trace,
				}
				resp, err := a.Ask().Ask(ctx, req)
				out := cmd.OutOrStdout()
				if ao.asJSON {
					enc := json.NewEncoder(out)
					enc.SetIndent("", "  ")
					if encErr := enc.Encode(resp); encErr != nil {
						return encErr
					}
				} else {
					printResponse(out, resp)
				}
				if err != nil {
					return errReported
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&ao.pipeline, "pipeline", "p", "", "pipeline id (default: default_pipeline)")
	cmd.Flags().StringArrayVarP(&ao.documents, "doc", "d", nil, "extra context document (repeatable)")
	cmd.Flags().StringSliceVar(&ao.stages, "stages", nil, "run only these stage ids")
	cmd.Flags().BoolVar(&ao.trace, "trace", false, "print the per-stage trace")
	cmd.Flags().BoolVar(&ao.asJSON, "json", false, "print the full response as JSON")
	return cmd
}

func newReindexCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "reindex",
		Short: "Re-read the schema of index.source and refresh its embeddings",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), opts, func(ctx context.Context, a *app.App) error {
				stats, err := a.Reindex(ctx)
				var embErr *domain.EmbeddingError
				if err != nil && !errors.As(err, &embErr) {
					return err
				}
				printStats(cmd.OutOrStdout(), stats, embErr)
				return nil
			})
		},
	}
}

func newPipelinesCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "pipelines",
		Short: "List configured pipelines",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), opts, func(_ context.Context, a *app.App) error {
				printPipelines(cmd.OutOrStdout(), a.Ask().Pipelines())
				return nil
			})
		},
	}
}

// withApp wires the application with a quiet logger, runs fn and closes everything.
func withApp(ctx context.Context, opts *globalOptions, fn func(context.Context, *app.App) error) error {
	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}
	logger, err := opts.logger("cli", "")
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("start askdb: %w", err)
	}
	defer func() {
		if err := a.Close(); err != nil {
			logger.Warn("Error closing backends", zap.Error(err))
		}
	}()
	return fn(ctx, a)
}
