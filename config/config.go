// Package config holds the daemon configuration: documented defaults,
// the YAML-backed Config tree, and the loader that expands environment
// variables before parsing.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Store backends.
const (
	BackendQuestDB = "questdb"
	BackendDuckDB  = "duckdb"
)

// =============================================================================
// Config Tree
// =============================================================================

// Config is the full daemon configuration.
type Config struct {
	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level"`

	// LogJSON switches log output to JSON lines.
	LogJSON bool `yaml:"log_json"`

	Store        StoreConfig        `yaml:"store"`
	Manager      ManagerConfig      `yaml:"manager"`
	Health       HealthConfig       `yaml:"health"`
	Writer       WriterConfig       `yaml:"writer"`
	Discovery    DiscoveryConfig    `yaml:"discovery"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator"`
	Shutdown     ShutdownConfig     `yaml:"shutdown"`
}

// StoreConfig selects and configures the time-series backend.
type StoreConfig struct {
	// Backend is "questdb" or "duckdb". Empty defaults to questdb.
	Backend string `yaml:"backend"`

	// QuestDB connection (PostgreSQL wire protocol).
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	HTTPPort int    `yaml:"http_port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	SSLMode  string `yaml:"ssl_mode"`

	// Path is the DuckDB database file. Empty means in-memory.
	Path string `yaml:"path"`

	// QueryTimeout bounds one store query.
	QueryTimeout time.Duration `yaml:"query_timeout"`

	// MaxOpenConns limits concurrent store connections.
	MaxOpenConns int `yaml:"max_open_conns"`
}

// DSN renders the PostgreSQL wire connection string.
func (s *StoreConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		s.Host, s.Port, s.User, s.Password, s.Database, s.SSLMode)
}

// ManagerConfig governs feed lifecycle.
type ManagerConfig struct {
	// Stagger is the mandatory pause after each successful feed start.
	Stagger time.Duration `yaml:"stagger"`

	// StartRetryLimit is the attempt budget before a feed is marked
	// permanently failed for the session.
	StartRetryLimit int `yaml:"start_retry_limit"`

	// StartTimeout bounds one start attempt.
	StartTimeout time.Duration `yaml:"start_timeout"`

	// StopTimeout bounds a graceful stop before the feed is abandoned.
	StopTimeout time.Duration `yaml:"stop_timeout"`
}

// HealthConfig governs the health monitor.
type HealthConfig struct {
	// SweepInterval is the period between full-fleet health sweeps.
	SweepInterval time.Duration `yaml:"sweep_interval"`

	// CheckTimeout bounds one feed's health check.
	CheckTimeout time.Duration `yaml:"check_timeout"`

	// UnreachableThreshold is the consecutive unreachable count that
	// escalates a feed to failed.
	UnreachableThreshold int `yaml:"unreachable_threshold"`

	// MaxConcurrentChecks bounds sweep parallelism.
	MaxConcurrentChecks int `yaml:"max_concurrent_checks"`

	// Freshness overrides the per-class data freshness windows,
	// keyed by feed class.
	Freshness map[string]time.Duration `yaml:"freshness"`
}

// WriterConfig governs the ingestion writer.
type WriterConfig struct {
	// BatchSize is the record count that triggers a flush.
	BatchSize int `yaml:"batch_size"`

	// FlushInterval is the max hold time for a partial batch.
	FlushInterval time.Duration `yaml:"flush_interval"`

	// BufferBound caps the pending-record buffer. On overflow the
	// oldest records are dropped and counted.
	BufferBound int `yaml:"buffer_bound"`

	// MaxRetries is the retry budget for one store write.
	MaxRetries int `yaml:"max_retries"`
}

// DiscoveryConfig governs feed discovery.
type DiscoveryConfig struct {
	// Strategy is "manifest", "dir", or "env".
	Strategy string `yaml:"strategy"`

	// Paths are manifest files or scan directories, per strategy.
	Paths []string `yaml:"paths"`

	// EnvVar names the environment variable listing feeds for the
	// env strategy.
	EnvVar string `yaml:"env_var"`
}

// OrchestratorConfig governs the startup sequence.
type OrchestratorConfig struct {
	// PollInterval is the delay between health polls while the
	// orchestrator waits for the fleet to come up.
	PollInterval time.Duration `yaml:"poll_interval"`

	// PollAttempts bounds the monitoring stage.
	PollAttempts int `yaml:"poll_attempts"`

	// PrerequisiteTimeout bounds the store reachability check.
	PrerequisiteTimeout time.Duration `yaml:"prerequisite_timeout"`
}

// ShutdownConfig governs graceful shutdown.
type ShutdownConfig struct {
	// DrainTimeout bounds the wait for in-flight writes and adapter
	// stops.
	DrainTimeout time.Duration `yaml:"drain_timeout"`
}

// =============================================================================
// Defaults / Load / Validate
// =============================================================================

// DefaultConfig returns a Config populated with documented defaults.
func DefaultConfig() *Config {
	return &Config{
		LogLevel: "info",
		Store: StoreConfig{
			Backend:  BackendQuestDB,
			Host:     DefaultQuestDBHost,
			Port:     DefaultQuestDBPGPort,
			HTTPPort: DefaultQuestDBHTTPPort,
			User:     DefaultQuestDBUser,
			Password: DefaultQuestDBPassword,
			Database:     DefaultQuestDBDatabase,
			SSLMode:      "disable",
			QueryTimeout: DefaultStoreQueryTimeout,
			MaxOpenConns: DefaultStoreMaxOpenConns,
		},
		Manager: ManagerConfig{
			Stagger:         DefaultStaggerSeconds * time.Second,
			StartRetryLimit: DefaultStartRetryLimit,
			StartTimeout:    DefaultStartTimeout,
			StopTimeout:     DefaultStopTimeout,
		},
		Health: HealthConfig{
			SweepInterval:        DefaultSweepInterval,
			CheckTimeout:         DefaultCheckTimeout,
			UnreachableThreshold: DefaultUnreachableThreshold,
			MaxConcurrentChecks:  DefaultMaxConcurrentChecks,
		},
		Writer: WriterConfig{
			BatchSize:     DefaultWriterBatchSize,
			FlushInterval: DefaultWriterFlushInterval,
			BufferBound:   DefaultWriterBufferBound,
			MaxRetries:    DefaultWriterMaxRetries,
		},
		Discovery: DiscoveryConfig{
			Strategy: "manifest",
		},
		Orchestrator: OrchestratorConfig{
			PollInterval:        DefaultMonitorPollInterval,
			PollAttempts:        DefaultMonitorPollAttempts,
			PrerequisiteTimeout: DefaultPrerequisiteTimeout,
		},
		Shutdown: ShutdownConfig{
			DrainTimeout: DefaultDrainTimeout,
		},
	}
}

// Load reads a YAML config file, expanding ${VAR} references from the
// environment before parsing. Missing file fields keep their defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	cfg := DefaultConfig()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// SlogLevel maps the configured log level onto slog's scale. Unknown
// values fall back to info.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Validate rejects configurations the daemon cannot run with.
func (c *Config) Validate() error {
	switch c.Store.Backend {
	case BackendQuestDB, BackendDuckDB, "":
	default:
		return fmt.Errorf("store.backend: unknown backend %q", c.Store.Backend)
	}
	if c.Manager.Stagger < 0 {
		return fmt.Errorf("manager.stagger: must not be negative")
	}
	if c.Manager.StartRetryLimit < 1 {
		return fmt.Errorf("manager.start_retry_limit: must be at least 1")
	}
	if c.Writer.BatchSize < 1 {
		return fmt.Errorf("writer.batch_size: must be at least 1")
	}
	if c.Writer.BufferBound < c.Writer.BatchSize {
		return fmt.Errorf("writer.buffer_bound: must be at least writer.batch_size")
	}
	if c.Health.UnreachableThreshold < 1 {
		return fmt.Errorf("health.unreachable_threshold: must be at least 1")
	}
	switch c.Discovery.Strategy {
	case "manifest", "dir", "env", "":
	default:
		return fmt.Errorf("discovery.strategy: unknown strategy %q", c.Discovery.Strategy)
	}
	return nil
}
