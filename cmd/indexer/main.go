package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/Adithya-Monish-Kumar-K/notesearch/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/notesearch/internal/indexer/consumer"
	"github.com/Adithya-Monish-Kumar-K/notesearch/internal/indexer/tokenizer"
	"github.com/Adithya-Monish-Kumar-K/notesearch/internal/store/redisstore"
	"github.com/Adithya-Monish-Kumar-K/notesearch/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/notesearch/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/notesearch/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/notesearch/pkg/metrics"
	pkgredis "github.com/Adithya-Monish-Kumar-K/notesearch/pkg/redis"
	"github.com/Adithya-Monish-Kumar-K/notesearch/pkg/resilience"
)

func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("starting indexer service", "key_prefix", cfg.Search.KeyPrefix)

	redisClient, err := pkgredis.NewClient(cfg.Redis)
	if err != nil {
		slog.Error("failed to connect to redis", "addr", cfg.Redis.Addr, "error", err)
		os.Exit(1)
	}
	defer redisClient.Close()

	segmenter, err := tokenizer.NewGseSegmenter(cfg.Search.DictPaths...)
	if err != nil {
		slog.Error("failed to load segmenter", "error", err)
		os.Exit(1)
	}
	engine := indexer.NewEngine(redisstore.New(redisClient), tokenizer.New(segmenter), cfg.Search)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New()
		shutdown := m.StartServer(cfg.Metrics.Port, cfg.Metrics.Path)
		defer shutdown(context.Background())
	}

	producer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.IndexComplete)
	defer producer.Close()

	retry := resilience.RetryConfig{
		MaxAttempts:  cfg.Indexer.RetryAttempts,
		InitialDelay: cfg.Indexer.RetryInitialDelay,
		MaxDelay:     cfg.Indexer.RetryMaxDelay,
	}
	handler := consumer.HandleMessage(engine, producer, retry, m)
	kafkaConsumer := kafka.NewConsumer(cfg.Kafka, cfg.Kafka.Topics.PostEvents, handler)
	indexConsumer := consumer.New(kafkaConsumer)

	slog.Info("indexer service ready, consuming from kafka",
		"topic", cfg.Kafka.Topics.PostEvents,
		"group", cfg.Kafka.ConsumerGroup,
		"publish_topic", cfg.Kafka.Topics.IndexComplete,
	)

	if err := indexConsumer.Start(ctx); err != nil {
		slog.Error("consumer error", "error", err)
	}

	slog.Info("indexer service stopped")
}
