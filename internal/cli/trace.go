package cli

import (
	"fmt"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/spnflow/spnflow/internal/store"
	"github.com/spnflow/spnflow/internal/trace"
)

// TraceOptions holds flags for the trace command.
type TraceOptions struct {
	DBPath    string
	Workflow  int64
	Genealogy bool
	Stats     bool
}

// NewTraceCommand creates the trace command.
func NewTraceCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TraceOptions{}

	cmd := &cobra.Command{
		Use:   "trace",
		Short: "Inspect the recorded trail of a workflow family",
		Long: `Read a workflow family's instrumentation trail from the trace database.

The default view is the event timeline in deterministic order. --genealogy
shows the fork lineage edges instead; --stats shows the per-event tally and
whether every admission was matched by a departure.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrace(rootOpts, opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.DBPath, "db", "", "SQLite database path")
	cmd.Flags().Int64Var(&opts.Workflow, "workflow", 0, "workflow base id (e.g. 1000000)")
	cmd.Flags().BoolVar(&opts.Genealogy, "genealogy", false, "show fork lineage edges")
	cmd.Flags().BoolVar(&opts.Stats, "stats", false, "show summary statistics")
	_ = cmd.MarkFlagRequired("db")
	_ = cmd.MarkFlagRequired("workflow")

	return cmd
}

func runTrace(rootOpts *RootOptions, opts *TraceOptions, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    rootOpts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   rootOpts.Verbose,
	}

	st, err := store.Open(opts.DBPath)
	if err != nil {
		_ = formatter.Error("E200", err.Error(), nil)
		return WrapExitError(ExitCommandError, "open trace database", err)
	}
	defer st.Close()

	ctx := cmd.Context()

	switch {
	case opts.Stats:
		stats, serr := st.StatsForWorkflow(ctx, opts.Workflow)
		if serr != nil {
			_ = formatter.Error("E205", serr.Error(), nil)
			return WrapExitError(ExitCommandError, "read workflow stats", serr)
		}
		if formatter.Format == "json" {
			return formatter.Success(stats)
		}
		return renderStats(formatter, stats)

	case opts.Genealogy:
		edges, gerr := st.GenealogyForWorkflow(ctx, opts.Workflow)
		if gerr != nil {
			_ = formatter.Error("E205", gerr.Error(), nil)
			return WrapExitError(ExitCommandError, "read genealogy", gerr)
		}
		if formatter.Format == "json" {
			return formatter.Success(edges)
		}
		return renderGenealogy(formatter, edges)

	default:
		firings, ferr := st.EventsForWorkflow(ctx, opts.Workflow)
		if ferr != nil {
			_ = formatter.Error("E205", ferr.Error(), nil)
			return WrapExitError(ExitCommandError, "read event timeline", ferr)
		}
		if formatter.Format == "json" {
			return formatter.Success(firings)
		}
		return renderTimeline(formatter, firings)
	}
}

func renderTimeline(formatter *OutputFormatter, firings []trace.TransitionFiring) error {
	if len(firings) == 0 {
		fmt.Fprintln(formatter.Writer, "no events recorded")
		return nil
	}
	w := tabwriter.NewWriter(formatter.Writer, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TIMESTAMP\tEVENT\tTOKEN\tTRANSITION\tFROM\tTO\tARC")
	for _, f := range firings {
		ts := time.UnixMilli(f.Timestamp).UTC().Format("15:04:05.000")
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\t%s\t%s\n",
			ts, f.Event, f.TokenID, f.TransitionID, f.FromPlace, f.ToPlace, f.ArcValue)
	}
	return w.Flush()
}

func renderGenealogy(formatter *OutputFormatter, edges []trace.GenealogyEdge) error {
	if len(edges) == 0 {
		fmt.Fprintln(formatter.Writer, "no fork lineage recorded")
		return nil
	}
	w := tabwriter.NewWriter(formatter.Writer, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "PARENT\tCHILD\tFORK TRANSITION")
	for _, e := range edges {
		fmt.Fprintf(w, "%d\t%d\t%s\n", e.ParentTokenID, e.ChildTokenID, e.ForkTransition)
	}
	return w.Flush()
}

func renderStats(formatter *OutputFormatter, stats *store.WorkflowStats) error {
	fmt.Fprintf(formatter.Writer, "workflow %d: %d events over %d token(s)\n",
		stats.WorkflowBase, stats.TotalEvents, stats.Tokens)
	events := make([]string, 0, len(stats.ByEvent))
	for event := range stats.ByEvent {
		events = append(events, event)
	}
	sort.Strings(events)
	for _, event := range events {
		fmt.Fprintf(formatter.Writer, "  %-14s %d\n", event, stats.ByEvent[event])
	}
	if stats.Complete {
		fmt.Fprintln(formatter.Writer, "trail complete: every admission matched by a departure")
	} else {
		fmt.Fprintln(formatter.Writer, "trail INCOMPLETE: unmatched admissions remain")
	}
	return nil
}
