package cli

import (
	"github.com/spf13/cobra"
)

// TestOptions holds flags for the test command.
type TestOptions struct {
	*RootOptions
	RuleIDs []int64
	Commit  bool
}

// NewTestCommand creates the test command.
func NewTestCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TestOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "test --rule <id> <transaction-id>...",
		Short: "Test specific rules against transactions",
		Long: `Evaluate only the given rules against the listed transactions,
regardless of their trigger type. Rules still only see transactions of
their own owner, and inactive rules are skipped.

Changes are rolled back unless --commit is given.

Examples:
  tally test --rule 11 101 102
  tally test --rule 11 --commit 101`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTest(opts, args, cmd)
		},
	}

	cmd.Flags().Int64SliceVar(&opts.RuleIDs, "rule", nil, "rule ids to test (required, repeatable)")
	_ = cmd.MarkFlagRequired("rule")
	cmd.Flags().BoolVar(&opts.Commit, "commit", false, "commit the changes of matching rules")

	return cmd
}

func runTest(opts *TestOptions, args []string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	ids, err := parseIDs(args)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeArgs, "invalid transaction id", err)
	}

	ctx, cancel := signalContext(cmd)
	defer cancel()

	s, err := openSession(ctx, opts.RootOptions)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeDatabase, "failed to open session", err)
	}
	defer closeSession(ctx, s)

	if !opts.Commit {
		s.engine.SetDryRun(true)
	}

	txns, err := s.store.Transactions(ctx, ids)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeDatabase, "failed to load transactions", err)
	}
	if len(txns) < len(ids) {
		formatter.VerboseLog("%d of %d transaction(s) not found", len(ids)-len(txns), len(ids))
	}

	report, err := s.engine.ProcessForRules(ctx, txns, opts.RuleIDs)
	return finishReport(formatter, report, err)
}
