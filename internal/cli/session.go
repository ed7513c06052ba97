package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/roach88/tally/internal/engine"
	"github.com/roach88/tally/internal/pgaudit"
	"github.com/roach88/tally/internal/store"
)

// session is the store, the optional audit sink and the engine of one
// command invocation.
type session struct {
	store  *store.Store
	audit  *pgaudit.Sink
	engine *engine.Engine
}

// openSession opens the database named by the resolved configuration and
// builds an engine over it. Execution logs go to PostgreSQL when an audit
// DSN is configured and to the SQLite database otherwise.
func openSession(ctx context.Context, opts *RootOptions) (*session, error) {
	cfg := opts.Config
	logger := slog.Default()

	slog.Debug("opening database", "path", cfg.DBPath)
	st, err := store.Open(cfg.DBPath)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}
	s := &session{store: st}

	var sink engine.LogSink = st
	if cfg.AuditPostgresDSN != "" {
		audit, err := pgaudit.Open(ctx, pgaudit.Config{DSN: cfg.AuditPostgresDSN, Logger: logger})
		if err != nil {
			st.Close()
			return nil, WrapExitError(ExitCommandError, "failed to open audit database", err)
		}
		s.audit = audit
		sink = audit
	}

	engOpts := []engine.Option{
		engine.WithLogger(logger),
		engine.WithLogSink(sink),
		engine.WithChunkSize(cfg.ChunkSize),
		engine.WithLogBatchSize(cfg.LogBatchSize),
		engine.WithFlushRetries(cfg.LogFlushAttempts, cfg.LogFlushDelay),
		engine.WithDryRun(cfg.DryRun),
	}
	if opts.RunIDs != nil {
		engOpts = append(engOpts, engine.WithRunIDGenerator(opts.RunIDs))
	}
	if opts.Clock != nil {
		engOpts = append(engOpts, engine.WithClock(opts.Clock))
	}

	eng, err := engine.New(st, st, st, engOpts...)
	if err != nil {
		s.closeStores()
		return nil, WrapExitError(ExitCommandError, "failed to create engine", err)
	}
	if opts.NoLog {
		eng.SetLogging(false)
	}
	s.engine = eng
	return s, nil
}

// Close flushes pending execution logs and closes the databases.
func (s *session) Close(ctx context.Context) error {
	var errs []error
	if s.engine != nil {
		if err := s.engine.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close engine: %w", err))
		}
	}
	if err := s.closeStores(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (s *session) closeStores() error {
	if s.audit != nil {
		s.audit.Close()
	}
	if err := s.store.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// closeSession is deferred by commands; close errors are logged.
func closeSession(ctx context.Context, s *session) {
	if err := s.Close(ctx); err != nil {
		slog.Error("error closing session", "error", err)
	}
}
