package main

import (
	"context"
	"database/sql"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	_ "github.com/go-sql-driver/mysql"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/conventio/outbox"
	"github.com/conventio/outbox/internal/config"
	"github.com/conventio/outbox/storage/sqlstore"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the crawler, sweeper and pruner workers",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		logger, err := newLogger(cfg.Log.Level)
		if err != nil {
			return fmt.Errorf("build logger: %w", err)
		}
		defer logger.Sync()

		db, err := openDB(cfg.MySQL)
		if err != nil {
			return fmt.Errorf("open db: %w", err)
		}
		defer db.Close()

		store := sqlstore.NewSQLStore(db, nil, nil, logger)
		uow, err := outbox.NewUnitOfWork(db)
		if err != nil {
			return fmt.Errorf("create unit of work: %w", err)
		}

		var (
			allTopics        []outbox.Topic
			quarantineTopics []outbox.Topic
		)
		for _, topic := range cfg.Topics {
			allTopics = append(allTopics, outbox.Topic(topic.Name))
			if topic.Quarantine {
				quarantineTopics = append(quarantineTopics, outbox.Topic(topic.Name))
			}
		}

		registry := outbox.NewRegistry()
		if cfg.Kafka.Enabled {
			relay, err := outbox.NewKafkaRelay(cfg.Kafka.SubscriptionID, logger,
				outbox.WithKafkaDefaultTopic(cfg.Kafka.Topic),
				outbox.WithKafkaProducerProps(kafka.ConfigMap{
					"bootstrap.servers": cfg.Kafka.BootstrapServers,
				}),
			)
			if err != nil {
				return fmt.Errorf("create kafka relay: %w", err)
			}
			defer relay.Close()
			registry.Register(relay, allTopics...)
		}

		metrics := outbox.NewOpenTelemetryMetricsCollector()

		crawler := outbox.NewCrawler(store, registry, uow,
			outbox.WithCrawlerLogger(logger),
			outbox.WithCrawlerMetrics(metrics),
			outbox.WithQuarantineTopics(outbox.NewTopicSet(quarantineTopics...)),
			outbox.WithCrawlerBatchSize(cfg.Crawler.BatchSize),
			outbox.WithCrawlerRetryBatchSize(cfg.Crawler.RetryBatchSize),
			outbox.WithSubscriberTimeout(cfg.Crawler.SubscriberTimeout),
		)
		sweeper := outbox.NewSweeper(store,
			outbox.WithSweeperLogger(logger),
			outbox.WithSweeperMetrics(metrics),
			outbox.WithClaimTimeout(cfg.Sweeper.ClaimTimeout),
		)

		workers := []outbox.Worker{
			outbox.NewBaseWorker("crawler", cfg.Crawler.Interval, logger, crawler.Crawl),
			outbox.NewBaseWorker("sweeper", cfg.Sweeper.Interval, logger, sweeper.Sweep),
		}
		if cfg.Pruner.Enabled {
			pruner := outbox.NewPruner(store,
				outbox.WithPrunerLogger(logger),
				outbox.WithPrunerMetrics(metrics),
				outbox.WithRetention(cfg.Pruner.Retention),
			)
			workers = append(workers, outbox.NewBaseWorker("pruner", cfg.Pruner.Interval, logger, pruner.Prune))
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		supervisor := outbox.NewSupervisor(logger, workers...)
		supervisor.Start(ctx)
		return nil
	},
}

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		lvl = zapcore.InfoLevel
	}

	cfg := zap.Config{
		Encoding:         "json",
		Level:            zap.NewAtomicLevelAt(lvl),
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
		EncoderConfig:    zap.NewProductionEncoderConfig(),
	}
	return cfg.Build()
}

func openDB(cfg config.DatabaseConfig) (*sql.DB, error) {
	db, err := sql.Open("mysql", cfg.DSN)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.PingTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}
