// Package config provides configuration defaults and utilities
// for the feedd daemon.
//
// This package defines all configurable constants with documented defaults.
// Users can override these values via config.yaml or environment variables.
package config

import "time"

// =============================================================================
// Store Defaults
// =============================================================================

const (
	// DefaultQuestDBHost is the default QuestDB host.
	// Override via env: QUESTDB_HOST
	DefaultQuestDBHost = "localhost"

	// DefaultQuestDBPGPort is the PostgreSQL wire protocol port QuestDB
	// listens on. Reads and writes both go through this port.
	// Override via env: QUESTDB_PG_PORT
	DefaultQuestDBPGPort = 8812

	// DefaultQuestDBHTTPPort is the QuestDB REST/health port.
	// Override via env: QUESTDB_HTTP_PORT
	DefaultQuestDBHTTPPort = 9000

	// DefaultQuestDBUser is the default QuestDB user.
	// Override via env: QUESTDB_USER
	DefaultQuestDBUser = "admin"

	// DefaultQuestDBPassword is the default QuestDB password.
	// Override via env: QUESTDB_PASSWORD
	DefaultQuestDBPassword = "quest"

	// DefaultQuestDBDatabase is the default QuestDB database name.
	// Override via env: QUESTDB_DATABASE
	DefaultQuestDBDatabase = "qdb"

	// DefaultStoreQueryTimeout is the default timeout for store queries.
	// Override via config: store.query_timeout
	DefaultStoreQueryTimeout = 30 * time.Second

	// DefaultStoreMaxOpenConns limits concurrent store connections.
	// Override via config: store.max_open_conns
	DefaultStoreMaxOpenConns = 10
)

// =============================================================================
// Manager Defaults
// =============================================================================

const (
	// DefaultStaggerSeconds is the mandatory delay between starting
	// consecutive feeds within a tier. Prevents a burst of simultaneous
	// outbound connections against rate-limited vendor APIs.
	// Override via config: manager.stagger or CLI --stagger
	DefaultStaggerSeconds = 10

	// DefaultStartRetryLimit is how many times a feed start is attempted
	// before the feed is marked failed for the rest of the run.
	// Override via config: manager.start_retry_limit
	DefaultStartRetryLimit = 3

	// DefaultStartTimeout bounds a single adapter start call. A feed
	// that does not reach running within this window counts as a
	// failed attempt, never a hang.
	// Override via config: manager.start_timeout
	DefaultStartTimeout = 30 * time.Second

	// DefaultStopTimeout bounds a single adapter stop call.
	// Override via config: manager.stop_timeout
	DefaultStopTimeout = 15 * time.Second
)

// =============================================================================
// Health Monitor Defaults
// =============================================================================

const (
	// DefaultSweepInterval is how often the health monitor checks every
	// running feed.
	// Override via config: health.sweep_interval
	DefaultSweepInterval = 30 * time.Second

	// DefaultCheckTimeout bounds a single health check call. An adapter
	// that does not answer within this window is Unreachable, not a
	// blocked sweep.
	// Override via config: health.check_timeout
	DefaultCheckTimeout = 5 * time.Second

	// DefaultUnreachableThreshold is the number of consecutive
	// Unreachable results before a feed is marked failed and an alert
	// is emitted.
	// Override via config: health.unreachable_threshold
	DefaultUnreachableThreshold = 3

	// DefaultMaxConcurrentChecks bounds how many feed health checks one
	// sweep runs in parallel.
	// Override via config: health.max_concurrent_checks
	DefaultMaxConcurrentChecks = 8
)

// =============================================================================
// Freshness Window Defaults
// =============================================================================

// Freshness windows are asset-class-specific: a streaming quote feed that
// goes silent for a minute is stale, a calendar feed that polls every ten
// minutes is not. A feed manifest may declare its own window; these apply
// when it does not.
const (
	// DefaultStockFreshness covers streaming equity quote/trade feeds.
	DefaultStockFreshness = 30 * time.Second

	// DefaultCryptoFreshness covers 24/7 crypto streams.
	DefaultCryptoFreshness = 30 * time.Second

	// DefaultOptionFreshness covers options flow polling feeds.
	DefaultOptionFreshness = 2 * time.Minute

	// DefaultAccountFreshness covers broker account polling.
	DefaultAccountFreshness = 5 * time.Minute

	// DefaultNewsFreshness covers RSS news polling.
	DefaultNewsFreshness = 10 * time.Minute

	// DefaultSocialFreshness covers social sentiment polling.
	DefaultSocialFreshness = 15 * time.Minute
)

// =============================================================================
// Ingestion Writer Defaults
// =============================================================================

const (
	// DefaultWriterBatchSize is the number of records that triggers a
	// flush regardless of the flush interval.
	// Override via config: writer.batch_size
	DefaultWriterBatchSize = 500

	// DefaultWriterFlushInterval is the max hold time for buffered
	// records before a flush is issued.
	// Override via config: writer.flush_interval
	DefaultWriterFlushInterval = 2 * time.Second

	// DefaultWriterBufferBound is the max number of records retained in
	// memory while the store is unavailable. Beyond this bound the
	// oldest records are dropped and counted.
	// Override via config: writer.buffer_bound
	DefaultWriterBufferBound = 100000

	// DefaultWriterMaxRetries is the max retry attempts for a store
	// write before the batch moves to the retry buffer.
	// Override via config: writer.max_retries
	DefaultWriterMaxRetries = 3
)

// =============================================================================
// Orchestrator Defaults
// =============================================================================

const (
	// DefaultMonitorPollInterval is the delay between health polls in
	// the orchestrator's monitoring stage.
	// Override via config: orchestrator.poll_interval
	DefaultMonitorPollInterval = 10 * time.Second

	// DefaultMonitorPollAttempts bounds the monitoring stage. If not
	// every feed is running after this many polls, startup finishes in
	// the degraded state with a summary of the feeds that never came up.
	// Override via config: orchestrator.poll_attempts
	DefaultMonitorPollAttempts = 12

	// DefaultPrerequisiteTimeout bounds the store reachability check.
	// Override via config: orchestrator.prerequisite_timeout
	DefaultPrerequisiteTimeout = 10 * time.Second
)

// =============================================================================
// Shutdown Defaults
// =============================================================================

const (
	// DefaultDrainTimeout is how long to wait for in-flight writes and
	// adapter stops during shutdown. Follows the Kubernetes convention
	// (terminationGracePeriodSeconds = 30s).
	// Override via config: shutdown.drain_timeout
	DefaultDrainTimeout = 30 * time.Second
)
