package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/roach88/tally/internal/engine"
)

// reportResult renders an engine report.
type reportResult struct {
	*engine.Report
}

func (r reportResult) writeText(w io.Writer, verbose bool) {
	mode := "committed"
	if r.DryRun {
		mode = "dry run"
	}
	fmt.Fprintf(w, "Run %s (%s, %s)\n", r.RunID, r.Trigger, mode)
	fmt.Fprintf(w, "  transactions: %d  evaluations: %d  matches: %d  failures: %d\n",
		r.Transactions, r.Evaluations, r.Matches, r.Failures)
	if r.LogsDropped > 0 {
		fmt.Fprintf(w, "  execution log rows dropped: %d\n", r.LogsDropped)
	}

	for _, o := range r.Outcomes {
		status := "ok"
		switch {
		case o.Error != "":
			status = "rolled back: " + o.Error
		case !o.Committed:
			status = "not committed"
		}
		fmt.Fprintf(w, "  transaction %d, rule %d %q: %s\n", o.TransactionID, o.RuleID, o.RuleName, status)
		for _, a := range o.Actions {
			mark := "-"
			if a.Applied {
				mark = "+"
			}
			if a.Error != "" {
				mark = "!"
			}
			fmt.Fprintf(w, "    %s %s\n", mark, a.Description)
			if verbose && a.Error != "" {
				fmt.Fprintf(w, "      %s\n", a.Error)
			}
		}
	}
}

// finishReport writes a report and maps it to an exit status. Rule failures
// inside the report exit with ExitFailure; an engine error exits with
// ExitCommandError after printing whatever was processed.
func finishReport(f *OutputFormatter, report *engine.Report, err error) error {
	if err != nil {
		code := ErrCodeEngine
		if errors.Is(err, context.Canceled) {
			code = ErrCodeGeneric
		}
		if report != nil && f.Format != "json" {
			reportResult{report}.writeText(f.GetErrWriter(), f.Verbose)
		}
		return f.Fail(ExitCommandError, code, "processing failed", err)
	}
	if outErr := f.Success(reportResult{report}); outErr != nil {
		return outErr
	}
	if report.Failures > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d rule application(s) rolled back", report.Failures))
	}
	return nil
}

// signalContext derives a context cancelled on SIGINT or SIGTERM.
func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

// parseIDs converts positional arguments to ids.
func parseIDs(args []string) ([]int64, error) {
	ids := make([]int64, 0, len(args))
	for _, a := range args {
		id, err := strconv.ParseInt(a, 10, 64)
		if err != nil || id <= 0 {
			return nil, fmt.Errorf("invalid id %q", a)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
