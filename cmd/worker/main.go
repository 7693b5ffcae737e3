// Command worker consumes raw messages from Kafka, runs them through the
// pipeline, stores the results in PostgreSQL and publishes them to the
// processed topic. It serves health probes, Prometheus metrics and an ad-hoc
// processing endpoint on the ops address.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/GrimVad3r/NLP-Powered-Medical-Entity-Extraction/internal/application/bootstrap"
	"github.com/GrimVad3r/NLP-Powered-Medical-Entity-Extraction/internal/application/ingest"
	"github.com/GrimVad3r/NLP-Powered-Medical-Entity-Extraction/internal/config"
	"github.com/GrimVad3r/NLP-Powered-Medical-Entity-Extraction/internal/infrastructure/database/postgres"
	"github.com/GrimVad3r/NLP-Powered-Medical-Entity-Extraction/internal/infrastructure/database/postgres/repositories"
	"github.com/GrimVad3r/NLP-Powered-Medical-Entity-Extraction/internal/infrastructure/messaging/kafka"
	"github.com/GrimVad3r/NLP-Powered-Medical-Entity-Extraction/internal/infrastructure/monitoring/logging"
	"github.com/GrimVad3r/NLP-Powered-Medical-Entity-Extraction/internal/infrastructure/monitoring/prometheus"
	"github.com/GrimVad3r/NLP-Powered-Medical-Entity-Extraction/internal/intelligence/common"
	"github.com/GrimVad3r/NLP-Powered-Medical-Entity-Extraction/internal/interfaces/ops"
)

const (
	shutdownTimeout = 30 * time.Second
	statsInterval   = 15 * time.Second
)

// Build-time variables injected via ldflags.
var version = "dev"

func main() {
	configPath := flag.String("config", "", "path to configuration file (default: MEDNLP_* environment)")
	flag.Parse()

	cfg, err := config.LoadOrDefault(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.NewLogger(logging.LogConfig{
		Level:       cfg.Log.Level,
		Format:      cfg.Log.Format,
		OutputPaths: cfg.Log.OutputPaths,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("worker failed", logging.Err(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger logging.Logger) error {
	startedAt := time.Now()
	logger.Info("starting medextract worker",
		logging.String("version", version),
		logging.Strings("brokers", cfg.Kafka.Brokers),
		logging.String("input_topic", cfg.Kafka.InputTopic))

	// Metrics
	registry, err := prometheus.NewRegistry(prometheus.RegistryConfig{
		Namespace:      cfg.Metrics.Namespace,
		ProcessMetrics: true,
		GoMetrics:      true,
	}, logger.Named("metrics"))
	if err != nil {
		return err
	}
	workerMetrics := prometheus.NewWorkerMetrics(registry)
	intelMetrics := common.NewNoopIntelligenceMetrics()
	if cfg.Metrics.Enabled {
		if intelMetrics, err = common.NewPrometheusIntelligenceMetrics(registry.Registerer(), cfg.Metrics.Namespace); err != nil {
			return err
		}
	}

	// Pipeline
	pipeline, err := bootstrap.Build(ctx, cfg,
		bootstrap.WithMetrics(intelMetrics),
		bootstrap.WithLogger(logger.Named("pipeline")))
	if err != nil {
		return err
	}
	defer closeLogged(logger, "pipeline", pipeline.Close)
	workerMetrics.KnowledgeBaseEntries.WithLabelValues(pipeline.Source.Name()).
		Set(float64(pipeline.Processor.KnowledgeBase().Len()))

	checkers := []ops.HealthChecker{
		ops.Check("models", func(ctx context.Context) error {
			if h := pipeline.Registry.HealthCheck(ctx); !h.Healthy() {
				return fmt.Errorf("%d of %d models failed to load", h.FailedModels, h.TotalModels)
			}
			return nil
		}),
	}
	if pipeline.Redis != nil {
		checkers = append(checkers, ops.Check("redis", pipeline.Redis.Ping))
	}
	if pipeline.MinIO != nil {
		checkers = append(checkers, ops.Check("minio", func(ctx context.Context) error {
			_, err := pipeline.MinIO.HealthCheck(ctx)
			return err
		}))
	}

	// Result store
	var handlerOpts []ingest.Option
	if cfg.Database.Enabled {
		conn, err := postgres.NewConnection(postgres.FromConfig(cfg.Database), logger.Named("postgres"))
		if err != nil {
			return err
		}
		defer closeLogged(logger, "postgres", conn.Close)
		if err := postgres.RunMigrations(conn.URL(), cfg.Database.MigrationPath); err != nil {
			return err
		}
		repo := repositories.NewMessageRepository(conn, logger.Named("repository"))
		handlerOpts = append(handlerOpts, ingest.WithSink("postgres", repo))
		checkers = append(checkers, ops.Check("postgres", conn.HealthCheck))
	}

	// Kafka
	ensureTopics(ctx, cfg.Kafka, logger)
	producer, err := kafka.NewProducer(kafka.ProducerConfig{
		Brokers:   cfg.Kafka.Brokers,
		BatchSize: cfg.Kafka.BatchSize,
	}, logger.Named("producer"))
	if err != nil {
		return err
	}
	defer closeLogged(logger, "producer", producer.Close)

	handler, err := ingest.NewHandler(pipeline.Processor, append(handlerOpts,
		ingest.WithPublisher(producer, cfg.Kafka.OutputTopic),
		ingest.WithObserver(workerMetrics),
		ingest.WithLogger(logger.Named("ingest")))...)
	if err != nil {
		return err
	}

	consumer, err := kafka.NewConsumer(kafka.ConsumerConfig{
		Brokers:         cfg.Kafka.Brokers,
		GroupID:         cfg.Kafka.GroupID,
		Topics:          []string{cfg.Kafka.InputTopic},
		AutoOffsetReset: cfg.Kafka.StartOffset,
		RetryConfig: kafka.RetryConfig{
			MaxRetries:      cfg.Kafka.MaxRetries,
			DeadLetterTopic: cfg.Kafka.DLQTopic,
		},
	}, logger.Named("consumer"), producer)
	if err != nil {
		return err
	}
	defer closeLogged(logger, "consumer", consumer.Close)
	consumer.Subscribe(cfg.Kafka.InputTopic, handler.Instrumented())
	checkers = append(checkers, ops.Check("kafka-consumer", func(context.Context) error {
		if !consumer.Running() {
			return fmt.Errorf("consumer is not running")
		}
		return nil
	}))

	// Ops server
	serverErr := make(chan error, 1)
	if cfg.Ops.Enabled {
		srvOpts := []ops.ServerOption{
			ops.WithHealth(ops.NewHealthHandler(version, workerMetrics, checkers...)),
			ops.WithMetricsHandler(registry.Handler()),
			ops.WithPipeline(pipeline.Processor),
		}
		if cfg.Ops.RateLimit > 0 {
			limiter := ops.NewTokenBucketLimiter(cfg.Ops.RateLimit, cfg.Ops.RateBurst, 5*time.Minute)
			defer limiter.Stop()
			srvOpts = append(srvOpts, ops.WithRateLimit(limiter))
		}
		srv := ops.NewServer(ops.ServerConfig{Addr: cfg.Ops.Addr, Mode: cfg.Ops.Mode, Version: version}, logger.Named("ops"), srvOpts...)
		go func() { serverErr <- srv.Start() }()
		defer func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			closeLogged(logger, "ops server", func() error { return srv.Stop(stopCtx) })
		}()
	}

	if err := consumer.Start(ctx); err != nil {
		return err
	}

	ticker := time.NewTicker(statsInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			logger.Info("shutting down worker", logging.Any("stats", consumer.Stats()))
			return nil
		case err := <-serverErr:
			if err != nil {
				return err
			}
		case <-ticker.C:
			workerMetrics.SetConsumerLag(cfg.Kafka.GroupID, consumer.Stats().Lag)
			workerMetrics.SetUptime("worker", startedAt)
		}
	}
}

// ensureTopics creates missing topics. Brokers with auto-creation or
// restricted admin rights make this best effort.
func ensureTopics(ctx context.Context, kc config.KafkaConfig, logger logging.Logger) {
	tm, err := kafka.NewTopicManager(kc.Brokers, logger.Named("topics"))
	if err != nil {
		logger.Warn("topic manager unavailable", logging.Err(err))
		return
	}
	defer tm.Close()
	if err := tm.EnsureTopics(ctx, kafka.DefaultTopics(kc.InputTopic, kc.OutputTopic, kc.DLQTopic)); err != nil {
		logger.Warn("failed to ensure topics", logging.Err(err))
	}
}

func closeLogged(logger logging.Logger, name string, fn func() error) {
	if err := fn(); err != nil {
		logger.Warn("close failed", logging.String("component", name), logging.Err(err))
	}
}
