// Package config loads tally settings from the environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
)

// EnvFile is read before the environment when it exists.
const EnvFile = ".env"

// Config holds the settings of one tally invocation. Command-line flags
// override these values.
type Config struct {
	// DBPath is the SQLite database file.
	// Environment variable: TALLY_DB
	DBPath string `koanf:"TALLY_DB"`

	// LogLevel is DEBUG, INFO, WARN or ERROR.
	// Environment variable: TALLY_LOG_LEVEL
	LogLevel string `koanf:"TALLY_LOG_LEVEL"`

	// LogJSON switches the log handler to JSON.
	// Environment variable: TALLY_LOG_JSON
	LogJSON bool `koanf:"TALLY_LOG_JSON"`

	// ChunkSize is the number of transactions per date-range chunk.
	// Environment variable: TALLY_CHUNK_SIZE
	ChunkSize int `koanf:"TALLY_CHUNK_SIZE"`

	// LogBatchSize is the execution-log flush threshold.
	// Environment variable: TALLY_LOG_BATCH_SIZE
	LogBatchSize int `koanf:"TALLY_LOG_BATCH_SIZE"`

	// LogFlushAttempts bounds the tries per execution-log batch.
	// Environment variable: TALLY_LOG_FLUSH_ATTEMPTS
	LogFlushAttempts uint `koanf:"TALLY_LOG_FLUSH_ATTEMPTS"`

	// LogFlushDelay is the pause between flush attempts.
	// Environment variable: TALLY_LOG_FLUSH_DELAY
	LogFlushDelay time.Duration `koanf:"TALLY_LOG_FLUSH_DELAY"`

	// AuditPostgresDSN, when set, sends execution logs to PostgreSQL
	// instead of the SQLite database.
	// Environment variable: TALLY_AUDIT_POSTGRES_DSN
	AuditPostgresDSN string `koanf:"TALLY_AUDIT_POSTGRES_DSN"`

	// DryRun evaluates and logs without committing mutations.
	// Environment variable: TALLY_DRY_RUN
	DryRun bool `koanf:"TALLY_DRY_RUN"`
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		DBPath:           "tally.db",
		LogLevel:         "INFO",
		ChunkSize:        100,
		LogBatchSize:     100,
		LogFlushAttempts: 3,
		LogFlushDelay:    200 * time.Millisecond,
	}
}

// Load reads envFile (EnvFile when empty), then the TALLY_* environment
// variables, over the defaults. Variables already present in the
// environment win over the file. A missing default file is not an error; a
// missing file named explicitly is.
func Load(envFile string) (Config, error) {
	explicit := envFile != ""
	if !explicit {
		envFile = EnvFile
	}
	if err := godotenv.Load(envFile); err != nil {
		if explicit || !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("load %s: %w", envFile, err)
		}
	}

	k := koanf.New(".")
	if err := k.Load(env.Provider("TALLY_", ".", nil), nil); err != nil {
		return Config{}, fmt.Errorf("load environment: %w", err)
	}

	cfg := Default()
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf", FlatPaths: true}); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects values the engine cannot run with.
func (c Config) Validate() error {
	var errs []error
	if c.DBPath == "" {
		errs = append(errs, errors.New("TALLY_DB must not be empty"))
	}
	if c.ChunkSize <= 0 {
		errs = append(errs, fmt.Errorf("TALLY_CHUNK_SIZE must be positive, got %d", c.ChunkSize))
	}
	if c.LogBatchSize <= 0 {
		errs = append(errs, fmt.Errorf("TALLY_LOG_BATCH_SIZE must be positive, got %d", c.LogBatchSize))
	}
	if c.LogFlushAttempts == 0 {
		errs = append(errs, errors.New("TALLY_LOG_FLUSH_ATTEMPTS must be at least 1"))
	}
	if c.LogFlushDelay < 0 {
		errs = append(errs, fmt.Errorf("TALLY_LOG_FLUSH_DELAY must not be negative, got %s", c.LogFlushDelay))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}
