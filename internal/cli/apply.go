package cli

import (
	"github.com/spf13/cobra"

	"github.com/roach88/tally/internal/rules"
)

// ApplyOptions holds flags for the apply command.
type ApplyOptions struct {
	*RootOptions
	Trigger   string
	BatchSize int
	Owner     int64
}

// NewApplyCommand creates the apply command.
func NewApplyCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ApplyOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "apply [transaction-id...]",
		Short: "Run the rules for a trigger against transactions",
		Long: `Run every active rule of the given trigger against the listed
transactions, or against all transactions of --owner.

The batch trigger applies every active rule regardless of its trigger.

Exit codes:
  0 - All matched rules applied
  1 - At least one matched rule was rolled back
  2 - Command error (bad arguments, database unavailable, etc.)

Examples:
  tally apply --trigger created 101 102
  tally apply --owner 1 --trigger batch --dry-run
  tally apply --format json 101`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runApply(opts, args, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Trigger, "trigger", string(rules.TriggerManual), "trigger type (created|updated|manual|batch)")
	cmd.Flags().IntVar(&opts.BatchSize, "batch-size", 0, "transactions per chunk (default $TALLY_CHUNK_SIZE)")
	cmd.Flags().Int64Var(&opts.Owner, "owner", 0, "apply to every transaction of this owner")

	return cmd
}

func runApply(opts *ApplyOptions, args []string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	trigger, err := rules.ParseTriggerType(opts.Trigger)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeArgs, "invalid trigger", err)
	}
	ids, err := parseIDs(args)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeArgs, "invalid transaction id", err)
	}
	if len(ids) == 0 && opts.Owner == 0 {
		return formatter.Fail(ExitCommandError, ErrCodeArgs, "no transactions given: pass ids or --owner", nil)
	}

	ctx, cancel := signalContext(cmd)
	defer cancel()

	s, err := openSession(ctx, opts.RootOptions)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeDatabase, "failed to open session", err)
	}
	defer closeSession(ctx, s)

	if opts.Owner != 0 {
		owned, err := s.store.TransactionIDs(ctx, opts.Owner)
		if err != nil {
			return formatter.Fail(ExitCommandError, ErrCodeDatabase, "failed to list transactions", err)
		}
		ids = append(ids, owned...)
	}
	formatter.VerboseLog("Applying %s rules to %d transaction(s)", trigger, len(ids))

	report, err := s.engine.ProcessBatch(ctx, ids, trigger, opts.BatchSize)
	return finishReport(formatter, report, err)
}
