package cli

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/roach88/tally/internal/config"
	"github.com/roach88/tally/internal/engine"
	"github.com/roach88/tally/internal/logging"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose  bool
	Format   string // "json" | "text"
	Database string
	EnvFile  string
	DryRun   bool
	NoLog    bool

	// Config is resolved before any subcommand runs: defaults, then the
	// .env file and environment, then flags.
	Config config.Config

	// RunIDs and Clock override the engine defaults (for testing).
	RunIDs engine.RunIDGenerator
	Clock  engine.Clock
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the tally CLI.
func NewRootCommand() *cobra.Command {
	return newRootCommand(&RootOptions{})
}

func newRootCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tally",
		Short: "tally - rule engine for financial transactions",
		Long: `Evaluate financial transactions against user-defined rules and apply
the actions of matching rules: categorize, tag, annotate and notify.

Every evaluation is recorded in an append-only execution log.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return NewExitError(ExitCommandError,
					fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			return resolveConfig(opts, cmd)
		},
	}

	// Global flags
	flags := cmd.PersistentFlags()
	flags.BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	flags.StringVar(&opts.Format, "format", "text", "output format (json|text)")
	flags.StringVar(&opts.Database, "db", "", "path to SQLite database (default $TALLY_DB or tally.db)")
	flags.StringVar(&opts.EnvFile, "env-file", "", "environment file to load (default .env when present)")
	flags.BoolVar(&opts.DryRun, "dry-run", false, "evaluate and log without committing changes")
	flags.BoolVar(&opts.NoLog, "no-log", false, "do not write execution logs")

	// Add subcommands
	cmd.AddCommand(NewImportCommand(opts))
	cmd.AddCommand(NewValidateCommand(opts))
	cmd.AddCommand(NewApplyCommand(opts))
	cmd.AddCommand(NewReplayCommand(opts))
	cmd.AddCommand(NewTestCommand(opts))
	cmd.AddCommand(NewLogsCommand(opts))

	return cmd
}

// resolveConfig loads the configuration, applies flag overrides and sets up
// logging on stderr.
func resolveConfig(opts *RootOptions, cmd *cobra.Command) error {
	cfg, err := config.Load(opts.EnvFile)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load configuration", err)
	}

	flags := cmd.Flags()
	if flags.Changed("db") {
		cfg.DBPath = opts.Database
	}
	if flags.Changed("dry-run") {
		cfg.DryRun = opts.DryRun
	}
	opts.Config = cfg

	level, err := logging.ParseLevel(cfg.LogLevel)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid TALLY_LOG_LEVEL", err)
	}
	if opts.Verbose {
		level = slog.LevelDebug
	}
	logging.Setup(logging.Config{
		Level:  level,
		JSON:   cfg.LogJSON,
		Output: cmd.ErrOrStderr(),
	})
	return nil
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}

func newFormatter(opts *RootOptions, cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(), // Verbose logs go to stderr to avoid corrupting JSON
		Verbose:   opts.Verbose,
	}
}
