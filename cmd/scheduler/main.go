package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	flag "github.com/spf13/pflag"

	"github.com/Adithya-Monish-Kumar-K/research-search/internal/corpus"
	"github.com/Adithya-Monish-Kumar-K/research-search/internal/crawler"
	"github.com/Adithya-Monish-Kumar-K/research-search/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/research-search/internal/pipeline"
	"github.com/Adithya-Monish-Kumar-K/research-search/internal/scheduler"
	"github.com/Adithya-Monish-Kumar-K/research-search/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/research-search/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/research-search/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/research-search/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/research-search/pkg/metrics"
)

func main() {
	configPath := flag.StringP("config", "c", "configs/development.yaml", "path to config file")
	runNow := flag.Bool("run-now", false, "run the pipeline immediately, then follow the schedule")
	once := flag.Bool("once", false, "run the pipeline if due and exit")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("starting crawl scheduler",
		"interval", cfg.Scheduler.Interval,
		"store", cfg.Scheduler.Store,
		"seeds", len(cfg.Crawler.Seeds),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)
	store, closeStore, err := scheduler.OpenStore(ctx, cfg)
	if err != nil {
		slog.Error("failed to open run store", "error", err)
		os.Exit(1)
	}
	defer closeStore()

	c, err := crawler.New(cfg.Crawler, nil, m)
	if err != nil {
		slog.Error("failed to create crawler", "error", err)
		os.Exit(1)
	}
	opts := pipeline.Options{Recorder: store, Metrics: m}
	if cfg.Kafka.Enabled() {
		producer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.IndexComplete)
		defer producer.Close()
		opts.Publisher = producer
		slog.Info("index notifications enabled", "topic", cfg.Kafka.Topics.IndexComplete)
	}
	p := pipeline.New(cfg.Pipeline, c, corpus.NewStore(cfg.Indexer.CorpusPath()), indexer.NewEngine(cfg.Indexer, m), opts)
	sched := scheduler.New(cfg.Scheduler, p, store, cfg.Crawler.Seeds, cfg.Crawler.MaxPages)

	if cfg.Metrics.Enabled && !*once {
		admin := metrics.NewServer(cfg.Metrics.Port, reg)
		admin.Handle("GET /status", sched.StatusHandler())
		admin.Handle("GET /health/live", health.NewChecker(0).LiveHandler())
		admin.Start()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = admin.Shutdown(shutdownCtx)
		}()
	}

	if *runNow {
		if _, err := sched.RunOnce(ctx); err != nil {
			slog.Error("immediate run failed", "error", err)
		}
	}
	if *once {
		ran, err := sched.Tick(ctx)
		if err != nil {
			slog.Error("scheduled run failed", "error", err)
			os.Exit(1)
		}
		next, _ := sched.NextRun(ctx)
		slog.Info("schedule checked", "ran", ran, "next_run", next)
		return
	}

	if err := sched.Start(ctx); err != nil {
		slog.Error("scheduler error", "error", err)
		os.Exit(1)
	}
	slog.Info("crawl scheduler stopped")
}
