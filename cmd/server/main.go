package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"stockadvisor/internal/app"
	"stockadvisor/internal/config"
	"stockadvisor/internal/fallbackfeed"
	"stockadvisor/internal/handler"
	"stockadvisor/internal/logging"
)

func main() {
	configPath := flag.String("config", "", "path to config file (optional; CONFIG_FILE also works)")
	flag.Parse()

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("warning: .env: %v", err)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	a, err := app.New(ctx, cfg, logger, app.Options{Registerer: reg})
	if err != nil {
		logger.Fatal("failed to build resolvers", zap.Error(err))
	}
	defer func() { _ = a.Close() }()

	for _, s := range a.Engine.Sources() {
		logger.Info("price source enabled", zap.String("source", string(s.ID)),
			zap.Int("max_per_minute", s.Limits.MaxPerMinute), zap.Int("max_per_day", s.Limits.MaxPerDay))
	}

	if cfg.Kafka.Enabled {
		consumer := fallbackfeed.NewConsumer(
			fallbackfeed.NewReader(cfg.Kafka.Brokers, cfg.Kafka.Topic, cfg.Kafka.GroupID),
			a.Table, logger, a.Metrics)
		go func() {
			defer func() { _ = consumer.Close() }()
			logger.Info("consuming fallback refreshes", zap.Strings("brokers", cfg.Kafka.Brokers), zap.String("topic", cfg.Kafka.Topic))
			if err := consumer.Run(ctx); err != nil {
				logger.Error("fallback feed stopped", zap.Error(err))
			}
		}()
	}

	gin.SetMode(cfg.Server.Mode)
	h := handler.New(a.Engine, a.Indices, a.Table, logger,
		handler.WithMetrics(a.Metrics),
		handler.WithMaxBatch(cfg.Server.MaxBatch),
	)

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      handler.NewRouter(h, reg),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		logger.Info("starting server", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("forced shutdown", zap.Error(err))
	}
}
