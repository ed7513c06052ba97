package cli

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/tally/internal/pgaudit"
	"github.com/roach88/tally/internal/rules"
	"github.com/roach88/tally/internal/store"
)

// LogsOptions holds flags for the logs command.
type LogsOptions struct {
	*RootOptions
	RuleID        int64
	TransactionID int64
	RunID         string
	MatchedOnly   bool
	Limit         int
}

// LogsResult holds the queried execution logs.
type LogsResult struct {
	Logs []rules.ExecutionLog `json:"logs"`
}

func (r LogsResult) writeText(w io.Writer, verbose bool) {
	if len(r.Logs) == 0 {
		fmt.Fprintln(w, "No execution logs found.")
		return
	}
	for _, l := range r.Logs {
		result := "no match"
		if l.Matched {
			result = "matched"
		}
		mode := ""
		if l.Context.DryRun {
			mode = " (dry run)"
		}
		fmt.Fprintf(w, "%s  rule %d  transaction %d  %s  %s%s\n",
			l.CreatedAt.Format(time.RFC3339), l.RuleID, l.TransactionID,
			l.Context.Trigger, result, mode)
		if len(l.ActionsExecuted) > 0 {
			fmt.Fprintf(w, "    actions: %s\n", strings.Join(l.ActionsExecuted, "; "))
		}
		if l.Error != "" {
			fmt.Fprintf(w, "    error: %s\n", l.Error)
		}
		if verbose {
			fmt.Fprintf(w, "    run: %s\n", l.Context.RunID)
		}
	}
}

// NewLogsCommand creates the logs command.
func NewLogsCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &LogsOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Query execution logs",
		Long: `List execution-log rows in the order they were written.

When TALLY_AUDIT_POSTGRES_DSN is set the logs live in PostgreSQL and can
only be listed per run (--run).

Examples:
  tally logs --rule 11
  tally logs --transaction 101 --matched
  tally logs --run 01890a5d-ac96-774b-bcce-b302099a8057 --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLogs(opts, cmd)
		},
	}

	cmd.Flags().Int64Var(&opts.RuleID, "rule", 0, "only rows of this rule")
	cmd.Flags().Int64Var(&opts.TransactionID, "transaction", 0, "only rows of this transaction")
	cmd.Flags().StringVar(&opts.RunID, "run", "", "only rows of this run")
	cmd.Flags().BoolVar(&opts.MatchedOnly, "matched", false, "only rows whose rule matched")
	cmd.Flags().IntVar(&opts.Limit, "limit", 100, "maximum rows (0 for all)")

	return cmd
}

func runLogs(opts *LogsOptions, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)
	ctx := cmd.Context()

	if dsn := opts.Config.AuditPostgresDSN; dsn != "" {
		if opts.RunID == "" {
			return formatter.Fail(ExitCommandError, ErrCodeArgs, "--run is required when logs are kept in PostgreSQL", nil)
		}
		sink, err := pgaudit.Open(ctx, pgaudit.Config{DSN: dsn})
		if err != nil {
			return formatter.Fail(ExitCommandError, ErrCodeDatabase, "failed to open audit database", err)
		}
		defer sink.Close()

		logs, err := sink.ExecutionLogs(ctx, opts.RunID)
		if err != nil {
			return formatter.Fail(ExitCommandError, ErrCodeDatabase, "failed to query execution logs", err)
		}
		return formatter.Success(LogsResult{Logs: logs})
	}

	st, err := store.Open(opts.Config.DBPath)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeDatabase, "failed to open database", err)
	}
	defer st.Close()

	logs, err := st.ExecutionLogs(ctx, store.LogFilter{
		RuleID:        opts.RuleID,
		TransactionID: opts.TransactionID,
		RunID:         opts.RunID,
		MatchedOnly:   opts.MatchedOnly,
		Limit:         opts.Limit,
	})
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeDatabase, "failed to query execution logs", err)
	}
	return formatter.Success(LogsResult{Logs: logs})
}
