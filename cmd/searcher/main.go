package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	flag "github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/Adithya-Monish-Kumar-K/research-search/internal/events"
	"github.com/Adithya-Monish-Kumar-K/research-search/internal/preprocess"
	"github.com/Adithya-Monish-Kumar-K/research-search/internal/searcher/cache"
	"github.com/Adithya-Monish-Kumar-K/research-search/internal/searcher/executor"
	"github.com/Adithya-Monish-Kumar-K/research-search/internal/searcher/handler"
	"github.com/Adithya-Monish-Kumar-K/research-search/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/research-search/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/research-search/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/research-search/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/research-search/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/research-search/pkg/middleware"
	pkgredis "github.com/Adithya-Monish-Kumar-K/research-search/pkg/redis"
)

func main() {
	configPath := flag.StringP("config", "c", "configs/development.yaml", "path to config file")
	port := flag.IntP("port", "p", 0, "override server.port")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *port > 0 {
		cfg.Server.Port = *port
	}

	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("starting search service", "port", cfg.Server.Port, "index", cfg.Indexer.IndexPath())

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	norm := preprocess.New(preprocess.Options{Stemming: cfg.Indexer.Stemming})
	engine := executor.New(cfg.Search, cfg.Indexer.IndexPath(), norm, m)
	if stats, err := engine.Reload(ctx); err != nil {
		slog.Warn("no index loaded yet, serving 503 until one is built", "error", err)
	} else {
		slog.Info("index loaded", "generation", stats.Generation, "documents", stats.DocumentCount)
	}

	var queryCache *cache.QueryCache
	var redisClient *pkgredis.Client
	if cfg.Redis.Addr != "" {
		redisClient, err = pkgredis.NewClient(ctx, cfg.Redis)
		if err != nil {
			slog.Warn("redis unavailable, search caching disabled", "error", err)
		} else {
			defer redisClient.Close()
			queryCache = cache.New(redisClient, cfg.Redis.CacheTTL, m)
			slog.Info("search cache enabled", "addr", cfg.Redis.Addr, "ttl", cfg.Redis.CacheTTL)
		}
	}

	aggregator := events.NewAggregator()
	var collector *events.Collector
	if cfg.Kafka.Enabled() {
		producer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.SearchEvents)
		defer producer.Close()
		collector = events.NewCollector(producer, cfg.Kafka.Topics.SearchEvents, events.CollectorConfig{}, m)
		collector.Start(ctx)
		defer collector.Close()
		slog.Info("search event collector started", "topic", cfg.Kafka.Topics.SearchEvents)
	}

	checker := health.NewChecker(5 * time.Second)
	checker.Register("index", func(context.Context) health.Result {
		snap := engine.Current()
		if snap == nil {
			return health.Result{Status: health.StatusDown, Message: "no index snapshot loaded"}
		}
		return health.Result{Status: health.StatusUp, Details: map[string]any{
			"generation": snap.Generation(),
			"documents":  snap.DocumentCount(),
			"built_at":   snap.BuiltAt(),
		}}
	})
	if redisClient != nil {
		checker.Register("redis", func(ctx context.Context) health.Result {
			if err := redisClient.Ping(ctx); err != nil {
				return health.Result{Status: health.StatusDegraded, Message: err.Error()}
			}
			ps := redisClient.PoolStats()
			return health.Result{Status: health.StatusUp, Details: map[string]any{
				"total_conns": ps.TotalConns,
				"idle_conns":  ps.IdleConns,
				"timeouts":    ps.Timeouts,
			}}
		})
	}

	h := handler.New(engine, cfg.Search, handler.Options{
		Cache:      queryCache,
		Collector:  collector,
		Aggregator: aggregator,
		Metrics:    m,
	})
	mux := http.NewServeMux()
	h.Routes(mux)
	mux.HandleFunc("GET /health/live", checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", checker.ReadyHandler())
	if cfg.Metrics.Enabled {
		mux.Handle("GET /metrics", metrics.HandlerFor(reg))
	}

	var limiter *middleware.ClientLimiter
	if cfg.Server.RateLimit > 0 {
		limiter = middleware.NewClientLimiter(cfg.Server.RateLimit, cfg.Server.RateBurst, 10*time.Minute)
	}

	server := &http.Server{
		Addr: fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: middleware.Chain(mux,
			middleware.RequestID,
			middleware.CORS(cfg.Server.CORSOrigins),
			middleware.Metrics(m, mux),
			middleware.RateLimit(limiter),
			middleware.Timeout(cfg.Server.RequestTimeout),
		),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)

	if cfg.Kafka.Enabled() {
		// A distinct group per host so every replica sees every generation.
		host, _ := os.Hostname()
		consumer := kafka.NewConsumer(cfg.Kafka, cfg.Kafka.ConsumerGroup+"-"+host, cfg.Kafka.Topics.IndexComplete,
			events.OnIndexBuilt(func(ctx context.Context, ev events.IndexBuilt) error {
				return onIndexBuilt(ctx, engine, queryCache, ev)
			}))
		defer consumer.Close()
		g.Go(func() error { return consumer.Start(gctx) })
		slog.Info("listening for index notifications", "topic", cfg.Kafka.Topics.IndexComplete)
	}
	if limiter != nil {
		g.Go(func() error {
			ticker := time.NewTicker(time.Minute)
			defer ticker.Stop()
			for {
				select {
				case <-gctx.Done():
					return nil
				case <-ticker.C:
					if n := limiter.Sweep(); n > 0 {
						slog.Debug("dropped idle rate limit buckets", "count", n)
					}
				}
			}
		})
	}
	if cfg.Search.ReloadPollInterval > 0 {
		g.Go(func() error {
			engine.Watch(gctx, cfg.Search.ReloadPollInterval)
			return nil
		})
	}

	g.Go(func() error {
		slog.Info("search service listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("search server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		slog.Error("search service error", "error", err)
		os.Exit(1)
	}
	slog.Info("search service stopped")
}

// onIndexBuilt reloads the snapshot and drops cached pages of older
// generations.
func onIndexBuilt(ctx context.Context, engine *executor.Engine, queryCache *cache.QueryCache, ev events.IndexBuilt) error {
	if cur := engine.Current(); cur != nil && cur.Generation() >= ev.Generation {
		slog.Debug("index notification already applied", "generation", ev.Generation)
		return nil
	}
	stats, err := engine.Reload(ctx)
	if err != nil {
		return fmt.Errorf("reloading for generation %d: %w", ev.Generation, err)
	}
	slog.Info("index reloaded from notification", "generation", stats.Generation, "run_id", ev.RunID)
	if queryCache != nil {
		if n, err := queryCache.Invalidate(ctx); err != nil {
			slog.Warn("cache invalidation failed", "error", err)
		} else {
			slog.Info("cache invalidated", "keys", n)
		}
	}
	return nil
}
