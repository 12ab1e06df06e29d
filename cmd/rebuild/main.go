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
	"github.com/Adithya-Monish-Kumar-K/notesearch/internal/indexer/tokenizer"
	"github.com/Adithya-Monish-Kumar-K/notesearch/internal/rebuild"
	"github.com/Adithya-Monish-Kumar-K/notesearch/internal/store/redisstore"
	"github.com/Adithya-Monish-Kumar-K/notesearch/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/notesearch/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/notesearch/pkg/postgres"
	pkgredis "github.com/Adithya-Monish-Kumar-K/notesearch/pkg/redis"
)

func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	workers := flag.Int("workers", 0, "concurrent index writes (0 uses indexer.rebuildWorkers)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	if *workers <= 0 {
		*workers = cfg.Indexer.RebuildWorkers
	}

	os.Exit(run(cfg, *workers))
}

func run(cfg *config.Config, workers int) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := postgres.New(cfg.Postgres)
	if err != nil {
		slog.Error("failed to connect to postgres", "host", cfg.Postgres.Host, "error", err)
		return 1
	}
	defer db.Close()

	redisClient, err := pkgredis.NewClient(cfg.Redis)
	if err != nil {
		slog.Error("failed to connect to redis", "addr", cfg.Redis.Addr, "error", err)
		return 1
	}
	defer redisClient.Close()

	segmenter, err := tokenizer.NewGseSegmenter(cfg.Search.DictPaths...)
	if err != nil {
		slog.Error("failed to load segmenter", "error", err)
		return 1
	}
	engine := indexer.NewEngine(redisstore.New(redisClient), tokenizer.New(segmenter), cfg.Search)

	slog.Info("rebuilding index", "key_prefix", cfg.Search.KeyPrefix, "workers", workers)
	report, err := rebuild.New(engine, workers, nil).Run(ctx, rebuild.NewPostgresSource(db))
	if err != nil {
		slog.Error("rebuild aborted", "error", err)
		return 1
	}

	fmt.Printf("posts:   %d\nindexed: %d\nskipped: %d\nfailed:  %d\ncleared: %d keys\ntook:    %s\n",
		report.Total, report.Indexed, report.Skipped, len(report.Failures),
		report.KeysCleared, report.Duration)
	for _, f := range report.Failures {
		fmt.Printf("  post %d: %v\n", f.ID, f.Err)
	}
	if len(report.Failures) > 0 {
		return 2
	}
	return 0
}
