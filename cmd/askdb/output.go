package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/fatih/color"

	"github.com/kailas-cloud/askdb/internal/domain"
	"github.com/kailas-cloud/askdb/internal/domain/pipeline"
	"github.com/kailas-cloud/askdb/internal/domain/response"
	"github.com/kailas-cloud/askdb/internal/domain/resultset"
	askuc "github.com/kailas-cloud/askdb/internal/usecase/ask"
	"github.com/kailas-cloud/askdb/internal/usecase/format"
	"github.com/kailas-cloud/askdb/internal/usecase/schemaindex"
)

var (
	labelColor = color.New(color.Bold)
	queryColor = color.New(color.FgCyan)
	errorColor = color.New(color.FgRed, color.Bold)
	warnColor  = color.New(color.FgYellow)
	okColor    = color.New(color.FgGreen)
	dimColor   = color.New(color.Faint)
)

// printResponse renders an ask response for a terminal.
func printResponse(w io.Writer, resp response.Response) {
	if resp.Query != "" {
		labelColor.Fprint(w, "Query: ")
		queryColor.Fprintln(w, resp.Query)
	}

	if resp.Error != nil {
		printError(w, resp.Error)
	} else {
		fmt.Fprintln(w)
		fmt.Fprint(w, format.Text(format.Input{
			Results: resultset.ResultSet{Columns: resp.Columns, Rows: resp.Results, Truncated: resp.Truncated},
		}, format.Options{Format: format.FormatText}))
	}

	dimColor.Fprintf(w, "%s, %d attempt(s), validation %s, %.1f ms, tokens %d embedding / %d completion\n",
		resp.Pipeline, resp.Attempts, orDash(resp.ValidationMode), resp.ExecutionTimeMS,
		resp.Usage.EmbeddingTokens, resp.Usage.CompletionTokens)

	if len(resp.Trace) > 0 {
		printTrace(w, resp.Trace)
	}
}

func printError(w io.Writer, info *response.ErrorInfo) {
	errorColor.Fprintf(w, "Error [%s]: ", info.Code)
	fmt.Fprintln(w, info.Message)
	if info.StageID != "" {
		fmt.Fprintf(w, "  stage: %s", info.StageID)
		if info.Policy != "" {
			fmt.Fprintf(w, " (policy %s)", info.Policy)
		}
		fmt.Fprintln(w)
	}
	for _, v := range info.Violations {
		warnColor.Fprintf(w, "  - %s\n", v)
	}
}

func printTrace(w io.Writer, trace pipeline.Trace) {
	labelColor.Fprintln(w, "Trace:")
	for _, o := range trace {
		status := okColor
		switch o.Status {
		case pipeline.StatusFailed:
			status = errorColor
		case pipeline.StatusSkipped:
			status = dimColor
		}
		fmt.Fprintf(w, "  %-12s ", o.StageID)
		status.Fprintf(w, "%-8s", o.Status)
		fmt.Fprintf(w, " %8s", o.Duration.Round(time.Microsecond))
		if o.Attempts > 1 {
			fmt.Fprintf(w, "  attempts=%d", o.Attempts)
		}
		if o.Reason != "" {
			fmt.Fprintf(w, "  %s", o.Reason)
		}
		if o.Error != "" {
			fmt.Fprintf(w, "  %s", o.Error)
		}
		fmt.Fprintln(w)
	}
}

// printStats renders the outcome of a reindex. embErr reports elements stored without a vector.
func printStats(w io.Writer, stats schemaindex.Stats, embErr *domain.EmbeddingError) {
	okColor.Fprint(w, "Schema index synced: ")
	fmt.Fprintf(w, "%d total, %d embedded, %d unchanged, %d removed, %d failed\n",
		stats.Total, stats.Embedded, stats.Unchanged, stats.Removed, stats.Failed)
	if embErr != nil {
		warnColor.Fprintf(w, "warning: %d element(s) stored without embedding: %s\n",
			embErr.Failed, strings.Join(embErr.Elements, ", "))
	}
}

func printPipelines(w io.Writer, pipelines []askuc.PipelineInfo) {
	for _, p := range pipelines {
		labelColor.Fprint(w, p.ID)
		if p.Default {
			okColor.Fprint(w, " (default)")
		}
		fmt.Fprintln(w)
		if p.Description != "" {
			fmt.Fprintf(w, "  %s\n", p.Description)
		}
		dimColor.Fprintf(w, "  stages: %s\n", strings.Join(p.Stages, " -> "))
	}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
