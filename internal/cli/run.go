package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/spnflow/spnflow/internal/compiler"
	"github.com/spnflow/spnflow/internal/engine"
	"github.com/spnflow/spnflow/internal/ident"
	"github.com/spnflow/spnflow/internal/store"
	"github.com/spnflow/spnflow/internal/trace"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	DBPath  string
	Tokens  []int64
	Start   string
	Seed    uint64
	Timeout time.Duration
}

// RunResult summarizes one completed run for output.
type RunResult struct {
	Workflow     string            `json:"workflow"`
	Injected     int               `json:"injected"`
	PendingJoins int               `json:"pending_joins"`
	Families     []WorkflowSummary `json:"families,omitempty"`
}

// WorkflowSummary is the per-family event tally of a run.
type WorkflowSummary struct {
	WorkflowBase int64 `json:"workflow_base"`
	Events       int   `json:"events"`
	Tokens       int   `json:"tokens"`
	Complete     bool  `json:"complete"`
}

func (r RunResult) String() string {
	s := fmt.Sprintf("workflow %s: injected %d token(s), %d pending join(s)",
		r.Workflow, r.Injected, r.PendingJoins)
	for _, f := range r.Families {
		s += fmt.Sprintf("\n  family %d: %d events over %d token(s), complete=%t",
			f.WorkflowBase, f.Events, f.Tokens, f.Complete)
	}
	return s
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{}

	cmd := &cobra.Command{
		Use:   "run <workflow.yaml>",
		Short: "Inject tokens into a workflow and drain it",
		Long: `Compile a workflow definition, inject the given tokens at the start
node, and route them until every family reaches terminal state or the
timeout expires. With --db the instrumentation trail is persisted to
SQLite; without it the run is traced in memory and only summarized.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRun(rootOpts, opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.DBPath, "db", "", "SQLite database path for the instrumentation trail")
	cmd.Flags().Int64SliceVar(&opts.Tokens, "tokens", nil, "token ids to inject (family-aligned, e.g. 1000000)")
	cmd.Flags().StringVar(&opts.Start, "start", "", "injection node (default: the topology's start)")
	cmd.Flags().Uint64Var(&opts.Seed, "seed", 0, "RNG seed for reproducible delays and guards (0: random)")
	cmd.Flags().DurationVar(&opts.Timeout, "timeout", 30*time.Second, "run deadline")
	_ = cmd.MarkFlagRequired("tokens")

	return cmd
}

func runRun(rootOpts *RootOptions, opts *RunOptions, path string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    rootOpts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   rootOpts.Verbose,
	}

	topo, err := compiler.Load(path)
	if err != nil {
		_ = formatter.Error("E103", err.Error(), nil)
		return WrapExitError(ExitCommandError, "load workflow definition", err)
	}
	formatter.VerboseLog("Compiled workflow %s (%d nodes)", topo.Name(), len(topo.Nodes()))

	var sink trace.Sink
	var st *store.Store
	if opts.DBPath != "" {
		st, err = store.Open(opts.DBPath)
		if err != nil {
			_ = formatter.Error("E200", err.Error(), nil)
			return WrapExitError(ExitCommandError, "open trace database", err)
		}
		defer st.Close()
		sink = st
	} else {
		sink = trace.NewMemorySink()
	}

	rec := trace.NewRecorder(sink, ident.NewClock())
	eopts := []engine.Option{}
	if opts.Seed != 0 {
		eopts = append(eopts, engine.WithSeed(opts.Seed))
	}
	eng, err := engine.New(topo, rec, eopts...)
	if err != nil {
		_ = formatter.Error("E201", err.Error(), nil)
		return WrapExitError(ExitCommandError, "build engine", err)
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), opts.Timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- eng.Run(ctx) }()

	for _, id := range opts.Tokens {
		if ierr := eng.Inject(ctx, ident.Token{ID: id}, opts.Start); ierr != nil {
			eng.Stop()
			<-done
			_ = formatter.Error("E202", ierr.Error(), nil)
			return WrapExitError(ExitCommandError, fmt.Sprintf("inject token %d", id), ierr)
		}
		formatter.VerboseLog("Injected token %d", id)
	}

	eng.Stop()
	runErr := <-done
	eng.Drain()

	if runErr != nil && errors.Is(runErr, context.DeadlineExceeded) {
		_ = formatter.Error("E203", "run timed out with tokens in flight", nil)
		return NewExitError(ExitFailure, "run timed out")
	}

	result := RunResult{
		Workflow:     topo.Name(),
		Injected:     len(opts.Tokens),
		PendingJoins: eng.PendingJoins(),
	}
	if st != nil {
		result.Families, err = summarizeFamilies(cmd.Context(), st, opts.Tokens)
		if err != nil {
			_ = formatter.Error("E204", err.Error(), nil)
			return WrapExitError(ExitCommandError, "summarize run", err)
		}
	}

	for _, id := range opts.Tokens {
		eng.CleanupWorkflow(ident.WorkflowBase(id))
	}

	return formatter.Success(result)
}

func summarizeFamilies(ctx context.Context, st *store.Store, tokens []int64) ([]WorkflowSummary, error) {
	seen := make(map[int64]bool)
	var out []WorkflowSummary
	for _, id := range tokens {
		base := ident.WorkflowBase(id)
		if seen[base] {
			continue
		}
		seen[base] = true
		stats, err := st.StatsForWorkflow(ctx, base)
		if err != nil {
			return nil, err
		}
		out = append(out, WorkflowSummary{
			WorkflowBase: base,
			Events:       stats.TotalEvents,
			Tokens:       stats.Tokens,
			Complete:     stats.Complete,
		})
	}
	return out, nil
}
