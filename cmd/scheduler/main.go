package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"alert-scheduler/internal/admission"
	"alert-scheduler/internal/api"
	"alert-scheduler/internal/cleanup"
	"alert-scheduler/internal/config"
	"alert-scheduler/internal/consumer"
	"alert-scheduler/internal/dedup"
	"alert-scheduler/internal/metrics"
	"alert-scheduler/internal/publisher"
	"alert-scheduler/internal/registry"
	"alert-scheduler/internal/scheduler"
	"alert-scheduler/internal/store"

	"github.com/nats-io/nats.go"
)

const serviceName = "alert-scheduler"

// getEnvOrDefault returns the environment variable value or a default.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	cfg := &config.Config{}
	flag.StringVar(&cfg.RedisURL, "redis-url", getEnvOrDefault("REDIS_URL", "localhost:6379"), "Redis endpoint (URL or host:port)")
	flag.StringVar(&cfg.NATSURL, "nats-url", getEnvOrDefault("NATS_URL", nats.DefaultURL), "NATS server URL")
	flag.StringVar(&cfg.NATSStreamName, "nats-stream-name", getEnvOrDefault("NATS_STREAM_NAME", config.DefaultNATSStreamName), "JetStream stream for job batches")
	flag.StringVar(&cfg.KafkaBrokers, "kafka-brokers", getEnvOrDefault("KAFKA_BROKERS", "localhost:9092"), "Kafka broker addresses (comma-separated)")
	flag.StringVar(&cfg.MatchTopic, "match-topic", getEnvOrDefault("MATCH_TOPIC", config.DefaultMatchTopic), "Kafka topic for upstream match events")
	flag.StringVar(&cfg.MatchGroupID, "match-group-id", getEnvOrDefault("MATCH_GROUP_ID", config.DefaultMatchGroupID), "Kafka consumer group ID for match events")
	flag.StringVar(&cfg.HTTPAddr, "http-addr", getEnvOrDefault("HTTP_ADDR", config.DefaultHTTPAddr), "Admin API listen address")
	flag.IntVar(&cfg.DedupWindowSeconds, "deduplication-window-seconds", config.DefaultDedupWindowSecs, "Event dedup TTL in seconds")
	flag.IntVar(&cfg.RequestDedupeTTLSecs, "schedule-request-dedupe-ttl-secs", config.DefaultRequestDedupeSecs, "Schedule-request dedup TTL in seconds")
	flag.Int64Var(&cfg.MaxConcurrentAlerts, "max-concurrent-alerts", config.DefaultMaxConcurrent, "Global cap on active instances")
	flag.Int64Var(&cfg.CleanupBatchSize, "cleanup-batch-size", config.DefaultCleanupBatchSize, "Max removals per sweep cycle")
	flag.Int64Var(&cfg.MaxInstanceAgeSeconds, "max-instance-age-seconds", config.DefaultMaxInstanceAgeSecs, "Instance age limit in seconds")
	flag.IntVar(&cfg.RedisPoolSize, "redis-pool-size", config.DefaultPoolSize, "Redis connection pool size")
	flag.IntVar(&cfg.ConnectionTimeoutMs, "connection-timeout-ms", config.DefaultConnTimeoutMs, "Per-call store timeout in milliseconds")
	flag.IntVar(&cfg.RetryAttempts, "retry-attempts", config.DefaultRetryAttempts, "Retries for transient store failures")
	flag.IntVar(&cfg.RetryDelayMs, "retry-delay-ms", config.DefaultRetryDelayMs, "Delay between store retries in milliseconds")
	flag.Int64Var(&cfg.InstanceScanBatchSize, "instance-scan-batch-size", config.DefaultScanBatchSize, "Due candidates read per scan cycle")
	flag.Int64Var(&cfg.ScheduleDueBatchSize, "schedule-due-batch-size", config.DefaultDueBatchSize, "Due instances claimed per scan cycle")
	flag.IntVar(&cfg.MicrobatchMaxTargets, "microbatch-max-targets", config.DefaultMicrobatchTargets, "Max targets per published batch")
	flag.IntVar(&cfg.EventJobTargetsCap, "event-job-targets-cap", config.DefaultEventTargetsCap, "Max total targets per originating event")
	flag.IntVar(&cfg.ScanIntervalSeconds, "scan-interval-seconds", config.DefaultScanIntervalSecs, "Due-scan period in seconds")
	flag.IntVar(&cfg.CleanupIntervalSeconds, "cleanup-interval-seconds", config.DefaultCleanupIntervalSec, "Cleanup sweep period in seconds")
	flag.DurationVar(&cfg.MetricsReportInterval, "metrics-report-interval", metrics.DefaultReportInterval, "Metrics reporting period")
	flag.Parse()

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})))

	slog.Info("Starting alert scheduler",
		"redis_url", cfg.RedisURL,
		"nats_url", cfg.NATSURL,
		"nats_stream_name", cfg.NATSStreamName,
		"kafka_brokers", cfg.KafkaBrokers,
		"match_topic", cfg.MatchTopic,
		"http_addr", cfg.HTTPAddr,
		"max_concurrent_alerts", cfg.MaxConcurrentAlerts,
		"deduplication_window_seconds", cfg.DedupWindowSeconds,
	)

	if err := cfg.Validate(); err != nil {
		slog.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		slog.Info("Received shutdown signal, shutting down gracefully...")
		cancel()
	}()

	// Shared store behind the resilience layer.
	slog.Info("Connecting to Redis", "url", cfg.RedisURL)
	st, err := store.Connect(ctx, store.Config{
		URL:           cfg.RedisURL,
		PoolSize:      cfg.RedisPoolSize,
		ConnTimeout:   cfg.ConnTimeout(),
		RetryAttempts: cfg.RetryAttempts,
		RetryDelay:    cfg.RetryDelay(),
	})
	if err != nil {
		slog.Error("Failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	defer st.Close()
	slog.Info("Successfully connected to Redis")

	collector := metrics.NewCollector(serviceName, st.Redis())
	collector.SetReportInterval(cfg.MetricsReportInterval)
	collector.Start(ctx)
	defer collector.Stop()

	// Downstream stream.
	slog.Info("Connecting to NATS", "url", cfg.NATSURL)
	nc, err := nats.Connect(cfg.NATSURL, nats.Name(serviceName))
	if err != nil {
		slog.Error("Failed to connect to NATS", "error", err)
		os.Exit(1)
	}
	defer nc.Close()
	js, err := nc.JetStream()
	if err != nil {
		slog.Error("Failed to open JetStream context", "error", err)
		os.Exit(1)
	}
	publisher.EnsureStream(js, cfg.NATSStreamName)
	slog.Info("Successfully connected to NATS")

	// Core components.
	deduper := dedup.NewDeduper(st, cfg.RequestDedupeTTL(), cfg.DedupWindow())
	admitter := admission.NewController(st, cfg.MaxConcurrentAlerts)
	reg := registry.NewRegistry(st)
	pub := publisher.NewPublisher(js, st, cfg.MicrobatchMaxTargets, cfg.EventJobTargetsCap,
		cfg.RetryAttempts, cfg.RetryDelay(), collector)
	pipeline := scheduler.NewPipeline(deduper, reg, pub, collector)
	service := scheduler.NewService(deduper, admitter, reg, collector)

	// Periodic tasks.
	scanner := scheduler.NewScanner(reg, pipeline, cfg.ScanInterval(),
		cfg.InstanceScanBatchSize, cfg.ScheduleDueBatchSize, collector)
	go scanner.Run(ctx)

	sweeper := cleanup.NewSweeper(reg, cfg.CleanupInterval(),
		cfg.CleanupBatchSize, cfg.MaxInstanceAge(), collector)
	go sweeper.Run(ctx)

	// Upstream match-event intake.
	slog.Info("Connecting to match-event consumer", "topic", cfg.MatchTopic)
	cons, err := consumer.NewConsumer(cfg.KafkaBrokers, cfg.MatchTopic, cfg.MatchGroupID)
	if err != nil {
		slog.Error("Failed to create match-event consumer", "error", err)
		os.Exit(1)
	}
	defer cons.Close()
	intake := consumer.NewIntake(cons, pipeline)
	go func() {
		if err := intake.Run(ctx); err != nil {
			slog.Error("Match-event intake exited", "error", err)
			cancel()
		}
	}()

	// Admin API.
	server := api.NewServer(cfg.HTTPAddr, api.NewHandlers(service))
	go func() {
		slog.Info("Admin API listening", "addr", cfg.HTTPAddr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Admin API server failed", "error", err)
			cancel()
		}
	}()

	<-ctx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("Admin API shutdown failed", "error", err)
	}
	slog.Info("Alert scheduler stopped")
}
