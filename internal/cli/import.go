package cli

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/roach88/tally/internal/dispatch"
	"github.com/roach88/tally/internal/engine"
	"github.com/roach88/tally/internal/store"
)

// ImportOptions holds flags for the import command.
type ImportOptions struct {
	*RootOptions
	SkipRules bool
}

// ImportResult holds the import summary and the report of every engine
// run triggered by it.
type ImportResult struct {
	store.ImportResult
	Reports []*engine.Report `json:"reports"`
}

func (r ImportResult) writeText(w io.Writer, verbose bool) {
	fmt.Fprintf(w, "Imported %d account(s), %d entities, %d rule group(s) with %d rule(s)\n",
		r.Accounts, r.Entities, r.RuleGroups, r.Rules)
	fmt.Fprintf(w, "Transactions: %d created, %d updated\n", len(r.Created), len(r.Updated))
	for _, rep := range r.Reports {
		reportResult{rep}.writeText(w, verbose)
	}
}

// NewImportCommand creates the import command.
func NewImportCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ImportOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "import <ledger-file>",
		Short: "Import a ledger document and run lifecycle rules",
		Long: `Import accounts, categories, merchants, tags, transactions and rule
groups from a YAML or CUE ledger document. Records with an existing id are
overwritten and a rule group's rules are replaced wholesale.

After the import, new transactions are run through the "created" rules and
existing ones through the "updated" rules, unless --skip-rules is set.

Examples:
  tally import ledger.yaml
  tally import --dry-run ledger.cue
  tally import --skip-rules ledger.yaml`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runImport(opts, args[0], cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.SkipRules, "skip-rules", false, "import without running created/updated rules")

	return cmd
}

func runImport(opts *ImportOptions, path string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	validation, doc, err := validateLedger(path)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeLoad, "failed to read ledger", err)
	}
	if !validation.Valid {
		if err := formatter.Error(ErrCodeValidation, "ledger is invalid", validation.Errors); err != nil {
			return err
		}
		if formatter.Format != "json" {
			validation.writeText(formatter.GetErrWriter(), false)
		}
		return NewExitError(ExitFailure, fmt.Sprintf("%s is invalid", path))
	}

	data, err := doc.ImportData()
	if err != nil {
		return formatter.Fail(ExitFailure, ErrCodeValidation, "ledger is invalid", err)
	}

	ctx, cancel := signalContext(cmd)
	defer cancel()

	s, err := openSession(ctx, opts.RootOptions)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeDatabase, "failed to open session", err)
	}
	defer closeSession(ctx, s)

	result := ImportResult{Reports: []*engine.Report{}}
	d := dispatch.New(s.engine,
		dispatch.WithLogger(slog.Default()),
		dispatch.WithBatchSize(opts.Config.ChunkSize),
		dispatch.WithReportHandler(func(r *engine.Report) {
			result.Reports = append(result.Reports, r)
		}))
	if !opts.SkipRules {
		s.store.OnTransactionChange(d.Notify)
	}

	res, err := s.store.Import(ctx, data)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeDatabase, "import failed", err)
	}
	result.ImportResult = res
	formatter.VerboseLog("Imported %s: %d event(s) queued", path, d.Len())

	// Rule definitions may have changed.
	s.engine.ClearCaches()
	if err := d.Drain(ctx); err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeEngine, "processing interrupted", err)
	}

	if err := formatter.Success(result); err != nil {
		return err
	}
	var failures int
	for _, r := range result.Reports {
		failures += r.Failures
	}
	if failures > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d rule application(s) rolled back", failures))
	}
	return nil
}
