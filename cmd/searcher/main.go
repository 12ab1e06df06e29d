package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Adithya-Monish-Kumar-K/notesearch/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/notesearch/internal/indexer/tokenizer"
	"github.com/Adithya-Monish-Kumar-K/notesearch/internal/searcher/executor"
	"github.com/Adithya-Monish-Kumar-K/notesearch/internal/searcher/handler"
	"github.com/Adithya-Monish-Kumar-K/notesearch/internal/store"
	"github.com/Adithya-Monish-Kumar-K/notesearch/internal/store/memstore"
	"github.com/Adithya-Monish-Kumar-K/notesearch/internal/store/redisstore"
	"github.com/Adithya-Monish-Kumar-K/notesearch/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/notesearch/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/notesearch/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/notesearch/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/notesearch/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/notesearch/pkg/middleware"
	pkgredis "github.com/Adithya-Monish-Kumar-K/notesearch/pkg/redis"
	"github.com/Adithya-Monish-Kumar-K/notesearch/pkg/resilience"
)

func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	storeKind := flag.String("store", "redis", "index store: redis or memory")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("starting search service",
		"port", cfg.Server.Port,
		"store", *storeKind,
		"key_prefix", cfg.Search.KeyPrefix,
	)

	var st store.Store
	switch *storeKind {
	case "redis":
		redisClient, err := pkgredis.NewClient(cfg.Redis)
		if err != nil {
			slog.Error("failed to connect to redis", "addr", cfg.Redis.Addr, "error", err)
			os.Exit(1)
		}
		defer redisClient.Close()
		st = redisstore.New(redisClient)
	case "memory":
		slog.Warn("using in-memory index store, data is lost on exit")
		st = memstore.New()
	default:
		fmt.Fprintf(os.Stderr, "unknown store %q\n", *storeKind)
		os.Exit(1)
	}

	segmenter, err := tokenizer.NewGseSegmenter(cfg.Search.DictPaths...)
	if err != nil {
		slog.Error("failed to load segmenter", "error", err)
		os.Exit(1)
	}
	engine := indexer.NewEngine(st, tokenizer.New(segmenter), cfg.Search)
	exec := executor.New(engine, cfg.Search)

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New()
	}

	var breaker *resilience.CircuitBreaker
	if cfg.Breaker.FailureThreshold > 0 {
		breaker = resilience.NewCircuitBreaker("index-store", resilience.CircuitBreakerConfig{
			FailureThreshold: cfg.Breaker.FailureThreshold,
			ResetTimeout:     cfg.Breaker.ResetTimeout,
			IsFailure:        apperrors.IsStoreFailure,
			OnStateChange: func(name string, from, to resilience.State) {
				if m != nil {
					m.CircuitBreakerState.WithLabelValues(name).Set(float64(to))
				}
			},
		})
	}

	h := handler.New(exec, engine, handler.Options{
		DefaultLimit: cfg.Search.DefaultLimit,
		MaxResults:   cfg.Search.MaxResults,
		MaxBodyBytes: cfg.Server.MaxBodyBytes,
		Breaker:      breaker,
		Metrics:      m,
	})

	checker := health.NewChecker()
	checker.Register("index_store", health.PingCheck(2*time.Second, health.StatusDown, st.Ping))

	mux := http.NewServeMux()
	h.Routes(mux)
	mux.HandleFunc("GET /health/live", checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", checker.ReadyHandler())
	if m != nil {
		mux.Handle("GET "+cfg.Metrics.Path, m.Handler())
	}

	var chain http.Handler = mux
	chain = middleware.Timeout(cfg.Server.WriteTimeout)(chain)
	if m != nil {
		chain = middleware.Metrics(m)(chain)
	}
	chain = middleware.RequestID(chain)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      chain,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		<-ctx.Done()
		slog.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
	}()

	slog.Info("search service listening", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}

	slog.Info("search service stopped")
}
