package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pulsestack/pulse-analytics/internal/alerting"
	"github.com/pulsestack/pulse-analytics/internal/cache"
	"github.com/pulsestack/pulse-analytics/internal/config"
	"github.com/pulsestack/pulse-analytics/internal/engine"
	"github.com/pulsestack/pulse-analytics/internal/extractors"
	"github.com/pulsestack/pulse-analytics/internal/metrics"
	"github.com/pulsestack/pulse-analytics/internal/patterns"
	"github.com/pulsestack/pulse-analytics/internal/repo"
	"github.com/pulsestack/pulse-analytics/internal/scheduler"
	"github.com/pulsestack/pulse-analytics/internal/services"
	"github.com/pulsestack/pulse-analytics/internal/store"
	"github.com/pulsestack/pulse-analytics/internal/utils"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		slog.Error("failed to load config", slog.String("path", configPath), slog.Any("error", err))
		os.Exit(1)
	}

	logger := utils.NewLogger(cfg.Logging.Level, cfg.Logging.JSON)
	logger.Info("starting pulse-analytics", slog.String("metrics_address", cfg.Server.MetricsAddress))

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		logger.Error("failed to register metrics", slog.Any("error", err))
		os.Exit(1)
	}

	var cacheProvider cache.Provider = cache.NoopProvider{}
	var valkeyCloser cache.Provider
	if cfg.Cache.Enabled && cfg.Cache.Addr != "" {
		provider, err := cache.NewValkeyProvider(cache.ValkeyConfig{
			Addr:         cfg.Cache.Addr,
			Username:     cfg.Cache.Username,
			Password:     cfg.Cache.Password,
			DB:           cfg.Cache.DB,
			DialTimeout:  cfg.Cache.DialTimeout,
			ReadTimeout:  cfg.Cache.ReadTimeout,
			WriteTimeout: cfg.Cache.WriteTimeout,
			MaxRetries:   cfg.Cache.MaxRetries,
			TLS:          cfg.Cache.TLS,
		})
		if err != nil {
			logger.Warn("valkey cache unavailable", slog.Any("error", err))
		} else {
			cacheProvider = provider
			valkeyCloser = provider
		}
	}
	if valkeyCloser != nil {
		defer valkeyCloser.Close()
	}

	pipelineClient := repo.NewClient(
		cfg.Clients.Pipelines.BaseURL,
		cfg.Clients.Pipelines.RunsPath,
		cfg.Clients.Pipelines.PipelinesPath,
		cfg.Clients.Pipelines.Timeout,
		cacheProvider,
		cfg.Clients.Pipelines.ListTTL,
	)

	memory := store.NewMemory(cfg.Store.Retention)
	var st store.Store = memory
	if cfg.Store.Endpoint != "" {
		st = store.NewRemote(memory, cfg.Store.Endpoint, cfg.Store.APIKey, cfg.Store.Timeout, logger)
	}

	remediation, err := engine.NewRemediationPack(cfg.Remediation.Path, logger)
	if err != nil {
		logger.Error("failed to load remediation pack", slog.Any("error", err))
		os.Exit(1)
	}

	analytics := engine.New(logger, engine.Options{
		ZScoreThreshold:     cfg.Analysis.ZScoreThreshold,
		LowPercentile:       cfg.Analysis.LowPercentile,
		HighPercentile:      cfg.Analysis.HighPercentile,
		MinAnomalyPoints:    cfg.Analysis.MinAnomalyPoints,
		MinTrendPoints:      cfg.Analysis.MinTrendPoints,
		MinBenchmarkHistory: cfg.Analysis.MinBenchmarkHistory,
		StableSlopeEpsilon:  cfg.Analysis.StableSlopeEpsilon,
		SLAMinorPercent:     cfg.Analysis.SLAMinorPercent,
		SLAMajorPercent:     cfg.Analysis.SLAMajorPercent,
		BaseRatePerMinute:   cfg.Analysis.BaseRatePerMinute,
		CPURate:             cfg.Analysis.CPURate,
		MemoryRate:          cfg.Analysis.MemoryRate,
		StorageRate:         cfg.Analysis.StorageRate,
		NetworkRate:         cfg.Analysis.NetworkRate,
		UtilizationLow:      cfg.Analysis.UtilizationLow,
		UtilizationHigh:     cfg.Analysis.UtilizationHigh,
		MemoTTL:             cfg.Cache.AnalysisTTL,
	}, cacheProvider, remediation)

	alertEngine := alerting.NewEngine(st, alerting.NewDispatcher(logger), cacheProvider, logger, alerting.Options{
		SweepInterval: cfg.Alerting.SweepInterval,
	})

	runner := scheduler.NewRunner(
		analytics,
		extractors.NewRunExtractor(pipelineClient),
		pipelineClient,
		pipelineClient,
		alertEngine,
		logger,
		scheduler.RunnerOptions{
			MaxAttempts:  cfg.Scheduler.MaxAttempts,
			RetryBackoff: cfg.Scheduler.RetryBackoff,
		},
	)

	sched := scheduler.New(st, runner, logger, scheduler.Options{
		Workers:      cfg.Scheduler.Workers,
		QueueSize:    cfg.Scheduler.QueueSize,
		HistoryLimit: cfg.Scheduler.HistoryLimit,
	})

	schedulerService := services.NewSchedulerService(logger, sched)
	alertService := services.NewAlertService(logger, alertEngine, patterns.NewMiner(logger, nil))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := alertEngine.Start(ctx); err != nil {
		logger.Error("failed to start alert engine", slog.Any("error", err))
		os.Exit(1)
	}
	if err := sched.Start(ctx); err != nil {
		logger.Error("failed to start scheduler", slog.Any("error", err))
		os.Exit(1)
	}

	var metricsServer *http.Server
	if cfg.Server.MetricsAddress != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ok"))
		})
		mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
			schedSnapshot, err := schedulerService.Metrics(r.Context())
			if err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
			alertSnapshot, err := alertService.Metrics(r.Context())
			if err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(map[string]any{
				"scheduler": schedSnapshot,
				"alerting":  alertSnapshot,
			})
		})
		metricsServer = &http.Server{
			Addr:         cfg.Server.MetricsAddress,
			Handler:      mux,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 15 * time.Second,
		}
		go func() {
			logger.Info("metrics server listening", slog.String("address", cfg.Server.MetricsAddress))
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server exited", slog.Any("error", err))
				stop()
			}
		}()
	}

	<-ctx.Done()
	logger.Info("shutdown signal received")

	sched.Stop()
	alertEngine.Stop()

	if metricsServer != nil {
		metricsCtx, cancelMetrics := context.WithTimeout(context.Background(), cfg.Server.GracefulTimeout)
		if err := metricsServer.Shutdown(metricsCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics server shutdown", slog.Any("error", err))
		}
		cancelMetrics()
	}

	// Give remaining goroutines time to finish logging
	time.Sleep(100 * time.Millisecond)
	logger.Info("pulse-analytics stopped")
}
