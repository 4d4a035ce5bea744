// Package config provides configuration parsing and validation for the
// alert scheduler. The flat flag/env surface is parsed into a typed,
// validated configuration at startup; validation failures are fatal at
// boot, never per-request.
package config

import (
	"fmt"
	"time"
)

// Defaults for every tunable. Flags in main bind these.
const (
	DefaultNATSStreamName     = "ALERT_JOBS"
	DefaultDedupWindowSecs    = 300
	DefaultRequestDedupeSecs  = 86400
	DefaultMaxConcurrent      = 50000
	DefaultCleanupBatchSize   = 100
	DefaultMaxInstanceAgeSecs = 30 * 24 * 3600
	DefaultPoolSize           = 10
	DefaultConnTimeoutMs      = 5000
	DefaultRetryAttempts      = 3
	DefaultRetryDelayMs       = 100
	DefaultScanBatchSize      = 500
	DefaultDueBatchSize       = 100
	DefaultMicrobatchTargets  = 100
	DefaultEventTargetsCap    = 1000
	DefaultScanIntervalSecs   = 5
	DefaultCleanupIntervalSec = 60
	DefaultMatchTopic         = "watch.matches"
	DefaultMatchGroupID       = "alert-scheduler"
	DefaultHTTPAddr           = ":8080"
)

// Config holds all scheduler parameters.
type Config struct {
	RedisURL       string
	NATSURL        string
	NATSStreamName string

	KafkaBrokers string
	MatchTopic   string
	MatchGroupID string

	HTTPAddr string

	DedupWindowSeconds     int
	RequestDedupeTTLSecs   int
	MaxConcurrentAlerts    int64
	CleanupBatchSize       int64
	MaxInstanceAgeSeconds  int64
	RedisPoolSize          int
	ConnectionTimeoutMs    int
	RetryAttempts          int
	RetryDelayMs           int
	InstanceScanBatchSize  int64
	ScheduleDueBatchSize   int64
	MicrobatchMaxTargets   int
	EventJobTargetsCap     int
	ScanIntervalSeconds    int
	CleanupIntervalSeconds int

	MetricsReportInterval time.Duration
}

// Validate checks that all required fields are set and all bounds are
// sensible. Returns an error if validation fails, nil otherwise.
func (c *Config) Validate() error {
	if c.RedisURL == "" {
		return fmt.Errorf("redis-url cannot be empty")
	}
	if c.NATSURL == "" {
		return fmt.Errorf("nats-url cannot be empty")
	}
	if c.NATSStreamName == "" {
		return fmt.Errorf("nats-stream-name cannot be empty")
	}
	if c.KafkaBrokers == "" {
		return fmt.Errorf("kafka-brokers cannot be empty")
	}
	if c.MatchTopic == "" {
		return fmt.Errorf("match-topic cannot be empty")
	}
	if c.MatchGroupID == "" {
		return fmt.Errorf("match-group-id cannot be empty")
	}
	if c.HTTPAddr == "" {
		return fmt.Errorf("http-addr cannot be empty")
	}
	if c.DedupWindowSeconds <= 0 {
		return fmt.Errorf("deduplication-window-seconds must be > 0")
	}
	if c.RequestDedupeTTLSecs <= 0 {
		return fmt.Errorf("schedule-request-dedupe-ttl-secs must be > 0")
	}
	if c.MaxConcurrentAlerts <= 0 {
		return fmt.Errorf("max-concurrent-alerts must be > 0")
	}
	if c.CleanupBatchSize <= 0 {
		return fmt.Errorf("cleanup-batch-size must be > 0")
	}
	if c.MaxInstanceAgeSeconds <= 0 {
		return fmt.Errorf("max-instance-age-seconds must be > 0")
	}
	if c.RedisPoolSize <= 0 {
		return fmt.Errorf("redis-pool-size must be > 0")
	}
	if c.ConnectionTimeoutMs <= 0 {
		return fmt.Errorf("connection-timeout-ms must be > 0")
	}
	if c.RetryAttempts < 0 {
		return fmt.Errorf("retry-attempts cannot be negative")
	}
	if c.RetryDelayMs < 0 {
		return fmt.Errorf("retry-delay-ms cannot be negative")
	}
	if c.InstanceScanBatchSize <= 0 {
		return fmt.Errorf("instance-scan-batch-size must be > 0")
	}
	if c.ScheduleDueBatchSize <= 0 {
		return fmt.Errorf("schedule-due-batch-size must be > 0")
	}
	if c.ScheduleDueBatchSize > c.InstanceScanBatchSize {
		return fmt.Errorf("schedule-due-batch-size cannot exceed instance-scan-batch-size")
	}
	if c.MicrobatchMaxTargets <= 0 {
		return fmt.Errorf("microbatch-max-targets must be > 0")
	}
	if c.EventJobTargetsCap <= 0 {
		return fmt.Errorf("event-job-targets-cap must be > 0")
	}
	if c.ScanIntervalSeconds <= 0 {
		return fmt.Errorf("scan-interval-seconds must be > 0")
	}
	if c.CleanupIntervalSeconds <= 0 {
		return fmt.Errorf("cleanup-interval-seconds must be > 0")
	}
	if c.MetricsReportInterval <= 0 {
		return fmt.Errorf("metrics-report-interval must be > 0")
	}
	return nil
}

// DedupWindow returns the event dedup TTL as a duration.
func (c *Config) DedupWindow() time.Duration {
	return time.Duration(c.DedupWindowSeconds) * time.Second
}

// RequestDedupeTTL returns the schedule-request dedup TTL as a duration.
func (c *Config) RequestDedupeTTL() time.Duration {
	return time.Duration(c.RequestDedupeTTLSecs) * time.Second
}

// ConnTimeout returns the per-call store timeout.
func (c *Config) ConnTimeout() time.Duration {
	return time.Duration(c.ConnectionTimeoutMs) * time.Millisecond
}

// RetryDelay returns the delay between store retries.
func (c *Config) RetryDelay() time.Duration {
	return time.Duration(c.RetryDelayMs) * time.Millisecond
}

// ScanInterval returns the due-scan period.
func (c *Config) ScanInterval() time.Duration {
	return time.Duration(c.ScanIntervalSeconds) * time.Second
}

// CleanupInterval returns the sweep period.
func (c *Config) CleanupInterval() time.Duration {
	return time.Duration(c.CleanupIntervalSeconds) * time.Second
}

// MaxInstanceAge returns the maximum instance age.
func (c *Config) MaxInstanceAge() time.Duration {
	return time.Duration(c.MaxInstanceAgeSeconds) * time.Second
}
