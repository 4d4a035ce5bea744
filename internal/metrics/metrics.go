// Package metrics collects scheduler counters and reports them to Redis so
// every replica's numbers are visible from one place.
package metrics

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// KeyPrefix is the Redis key prefix for service metrics.
	KeyPrefix = "metrics:"
	// TTL is how long a replica's metrics stay in Redis if not refreshed.
	TTL = 2 * time.Minute
	// DefaultReportInterval is the default reporting period.
	DefaultReportInterval = 30 * time.Second
)

// Snapshot is the metrics document written to Redis.
type Snapshot struct {
	ServiceName      string    `json:"service_name"`
	StartedAt        time.Time `json:"started_at"`
	LastUpdated      time.Time `json:"last_updated"`
	FiringsReceived  uint64    `json:"firings_received"`
	FiringsProcessed uint64    `json:"firings_processed"`
	JobsPublished    uint64    `json:"jobs_published"`
	ProcessingErrors uint64    `json:"processing_errors"`

	// Scheduler-specific counters: dedup suppressions, admission
	// rejections, capacity-dropped targets, claim races, sweeps.
	CustomCounters map[string]uint64 `json:"custom_counters,omitempty"`
}

// Collector accumulates counters and periodically writes them to Redis.
type Collector struct {
	serviceName    string
	redis          *redis.Client
	startedAt      time.Time
	reportInterval time.Duration

	received  atomic.Uint64
	processed atomic.Uint64
	published atomic.Uint64
	errors    atomic.Uint64

	customMu       sync.RWMutex
	customCounters map[string]*atomic.Uint64

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// NewCollector creates a collector for one scheduler replica.
func NewCollector(serviceName string, redisClient *redis.Client) *Collector {
	return &Collector{
		serviceName:    serviceName,
		redis:          redisClient,
		startedAt:      time.Now().UTC(),
		reportInterval: DefaultReportInterval,
		customCounters: make(map[string]*atomic.Uint64),
		stopCh:         make(chan struct{}),
	}
}

// SetReportInterval overrides the reporting period.
func (c *Collector) SetReportInterval(interval time.Duration) {
	c.reportInterval = interval
}

// Start begins periodic reporting until the context is cancelled or Stop
// is called. A final write happens on shutdown.
func (c *Collector) Start(ctx context.Context) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ticker := time.NewTicker(c.reportInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				c.write(context.Background())
				return
			case <-c.stopCh:
				c.write(context.Background())
				return
			case <-ticker.C:
				c.write(ctx)
			}
		}
	}()
}

// Stop stops the reporting loop.
func (c *Collector) Stop() {
	c.stopOnce.Do(func() { close(c.stopCh) })
	c.wg.Wait()
}

// RecordReceived counts one firing entering the pipeline.
func (c *Collector) RecordReceived() {
	c.received.Add(1)
}

// RecordProcessed counts one firing fully handled.
func (c *Collector) RecordProcessed() {
	c.processed.Add(1)
}

// RecordPublished counts one published job batch.
func (c *Collector) RecordPublished() {
	c.published.Add(1)
}

// RecordError counts one processing error.
func (c *Collector) RecordError() {
	c.errors.Add(1)
}

// IncrementCustom increments a named counter by one.
func (c *Collector) IncrementCustom(name string) {
	c.AddCustom(name, 1)
}

// AddCustom adds a value to a named counter.
func (c *Collector) AddCustom(name string, value uint64) {
	c.customMu.RLock()
	counter, exists := c.customCounters[name]
	c.customMu.RUnlock()

	if !exists {
		c.customMu.Lock()
		if counter, exists = c.customCounters[name]; !exists {
			counter = &atomic.Uint64{}
			c.customCounters[name] = counter
		}
		c.customMu.Unlock()
	}
	counter.Add(value)
}

// GetSnapshot returns the current counters without writing to Redis.
func (c *Collector) GetSnapshot() *Snapshot {
	c.customMu.RLock()
	custom := make(map[string]uint64, len(c.customCounters))
	for name, counter := range c.customCounters {
		custom[name] = counter.Load()
	}
	c.customMu.RUnlock()

	return &Snapshot{
		ServiceName:      c.serviceName,
		StartedAt:        c.startedAt,
		LastUpdated:      time.Now().UTC(),
		FiringsReceived:  c.received.Load(),
		FiringsProcessed: c.processed.Load(),
		JobsPublished:    c.published.Load(),
		ProcessingErrors: c.errors.Load(),
		CustomCounters:   custom,
	}
}

// write reports the current snapshot to Redis with a TTL.
func (c *Collector) write(ctx context.Context) {
	snap := c.GetSnapshot()
	data, err := json.Marshal(snap)
	if err != nil {
		slog.Error("Failed to marshal metrics", "error", err)
		return
	}
	key := KeyPrefix + c.serviceName
	if err := c.redis.Set(ctx, key, data, TTL).Err(); err != nil {
		slog.Warn("Failed to write metrics to Redis", "key", key, "error", err)
	}
}
