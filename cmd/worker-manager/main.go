// cmd/worker-manager/main.go
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"maps-workers/internal/common/camunda"
	"maps-workers/internal/common/config"
	"maps-workers/internal/common/logger"
	"maps-workers/internal/common/observability"
	"maps-workers/internal/maps/service"
	"maps-workers/pkg/registry"

	dm "maps-workers/internal/workers/maps/delete-maps"
	em "maps-workers/internal/workers/maps/export-maps"
	emr "maps-workers/internal/workers/maps/extract-map-references"
	fm "maps-workers/internal/workers/maps/find-maps"
	imr "maps-workers/internal/workers/maps/inject-map-references"
	lm "maps-workers/internal/workers/maps/load-map"
	sm "maps-workers/internal/workers/maps/save-map"
)

// retryWithBackoff attempts to execute a function with exponential backoff
func retryWithBackoff(operation func() error, maxRetries int, initialDelay time.Duration, log *zap.Logger, operationName string) error {
	var err error
	delay := initialDelay

	for i := 0; i < maxRetries; i++ {
		err = operation()
		if err == nil {
			return nil
		}

		if i < maxRetries-1 {
			log.Warn(fmt.Sprintf("%s failed, retrying...", operationName),
				zap.Error(err),
				zap.Int("attempt", i+1),
				zap.Int("maxRetries", maxRetries),
				zap.Duration("nextRetryIn", delay),
			)
			time.Sleep(delay)
			delay *= 2
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", operationName, maxRetries, err)
}

func main() {
	bootLog := logger.New("info", "console")

	cfg, err := config.Load()
	if err != nil {
		bootLog.Fatal("config load failed", zap.Error(err))
	}

	zapLog := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	defer zapLog.Sync()
	log := logger.NewZapAdapter(zapLog)

	zapLog.Info("Starting worker manager...",
		zap.String("app", cfg.App.Name),
		zap.String("version", cfg.App.Version),
		zap.String("storage", cfg.Storage.Backend),
	)

	obs, err := observability.New(cfg.App.Name, cfg.Tracing)
	if err != nil {
		zapLog.Fatal("observability setup failed", zap.Error(err))
	}
	defer obs.Shutdown()

	ctx := context.Background()

	// --- Init Zeebe Client with retry ---
	var zeebe *camunda.Client
	err = retryWithBackoff(func() error {
		var err error
		zeebe, err = camunda.NewClientWithConfig(camunda.ConfigFromApp(cfg.Camunda))
		return err
	}, 10, 2*time.Second, zapLog, "Zeebe client initialization")
	if err != nil {
		zapLog.Fatal("zeebe client failed after retries", zap.Error(err))
	}
	zapLog.Info("Zeebe client connected successfully")

	b, err := connectBackends(ctx, cfg, zapLog)
	if err != nil {
		zapLog.Fatal("backend setup failed", zap.Error(err))
	}
	defer b.Close()

	opts := []service.Option{
		service.WithObservability(obs),
		service.WithListingLimit(cfg.Storage.ListingLimit),
	}
	if b.cache != nil {
		opts = append(opts, service.WithCache(b.cache))
	}
	if b.sink != nil {
		opts = append(opts, service.WithExportSink(b.sink))
	}
	if b.notifier != nil {
		opts = append(opts, service.WithNotifier(b.notifier))
	}
	svc := service.New(b.repo, log, opts...)

	handlers := map[string]camunda.JobHandler{
		emr.TaskType: emr.NewHandler(emr.LoadConfig(cfg), log),
		imr.TaskType: imr.NewHandler(imr.LoadConfig(cfg), log),
		sm.TaskType:  sm.NewHandler(sm.LoadConfig(cfg), svc, log),
		lm.TaskType:  lm.NewHandler(lm.LoadConfig(cfg), svc, log),
		fm.TaskType:  fm.NewHandler(fm.LoadConfig(cfg), svc, log),
		dm.TaskType:  dm.NewHandler(dm.LoadConfig(cfg), svc, log),
		em.TaskType:  em.NewHandler(em.LoadConfig(cfg), svc, log),
	}

	activities := registry.Default()
	var workers []*camunda.CamundaWorker
	for _, taskType := range activities.TaskTypes() {
		handler, ok := handlers[taskType]
		if !ok {
			zapLog.Fatal("no handler for registered activity", zap.String("taskType", taskType))
		}
		if !config.IsWorkerEnabled(cfg, taskType) {
			zapLog.Info("worker disabled", zap.String("taskType", taskType))
			continue
		}
		workers = append(workers, camunda.NewWorker(
			zeebe.GetClient(), taskType, config.GetWorkerConfig(cfg, taskType), handler, log,
		))
	}
	zapLog.Info("Workers registered", zap.Int("count", len(workers)))

	// --- Health & Metrics Server ---
	checks := b.readinessChecks()
	checks["zeebe"] = zeebe.HealthCheck

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           newServeMux(checks, activities),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		zapLog.Info("Health/Metrics server listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zapLog.Error("Health/Metrics server failed", zap.Error(err))
		}
	}()

	// --- Graceful Shutdown ---
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	zapLog.Info("Shutdown signal received, stopping workers...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		zapLog.Error("Error stopping health server", zap.Error(err))
	}
	for _, w := range workers {
		w.Stop()
	}
	if err := zeebe.Close(); err != nil {
		zapLog.Error("Error closing Zeebe client", zap.Error(err))
	}

	zapLog.Info("Worker manager stopped gracefully")
}
