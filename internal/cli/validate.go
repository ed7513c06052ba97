package cli

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/tally/internal/ledger"
)

// ValidationResult holds validation results.
type ValidationResult struct {
	File   string   `json:"file"`
	Valid  bool     `json:"valid"`
	Errors []string `json:"errors,omitempty"`
}

func (r ValidationResult) writeText(w io.Writer, _ bool) {
	if r.Valid {
		fmt.Fprintf(w, "✓ %s is valid\n", r.File)
		return
	}
	fmt.Fprintf(w, "✗ %s has %d problem(s):\n", r.File, len(r.Errors))
	for _, e := range r.Errors {
		fmt.Fprintf(w, "  %s\n", e)
	}
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <ledger-file>",
		Short: "Validate a ledger document without importing it",
		Long: `Validate a YAML (.yaml, .yml) or CUE (.cue) ledger document.

CUE documents are checked against the ledger schema first. Every document
is then checked for duplicate ids, malformed amounts and dates, unknown
fields, operators, triggers and action types, and action values that
cannot be parsed.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true, // Don't print usage on errors
		SilenceErrors: true, // Don't print errors - we handle our own error output
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}

	return cmd
}

func runValidate(opts *RootOptions, path string, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd)

	result, _, err := validateLedger(path)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeLoad, "failed to read ledger", err)
	}
	if outErr := formatter.Success(result); outErr != nil {
		return outErr
	}
	if !result.Valid {
		return NewExitError(ExitFailure, fmt.Sprintf("%s is invalid", path))
	}
	return nil
}

// validateLedger loads and validates a document. Decoding and schema
// problems are reported as validation errors; only an unreadable file or an
// unsupported extension is returned as an error.
func validateLedger(path string) (ValidationResult, *ledger.Document, error) {
	result := ValidationResult{File: path}

	if _, err := ledger.DetectFormat(path); err != nil {
		return result, nil, err
	}
	doc, err := ledger.Load(path)
	if err != nil {
		var le *ledger.LoadError
		if !errors.As(err, &le) {
			return result, nil, err
		}
		result.Errors = flattenErrors(err)
		return result, nil, nil
	}

	for _, e := range doc.Validate() {
		result.Errors = append(result.Errors, e.Error())
	}
	result.Valid = len(result.Errors) == 0
	return result, doc, nil
}

// flattenErrors splits joined errors into one message each.
func flattenErrors(err error) []string {
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		var out []string
		for _, e := range joined.Unwrap() {
			out = append(out, flattenErrors(e)...)
		}
		return out
	}
	return []string{err.Error()}
}
