package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kirillkom/scanpipe/internal/bootstrap"
	"github.com/kirillkom/scanpipe/internal/config"
	"github.com/kirillkom/scanpipe/internal/core/domain"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, cfg, bootstrap.RoleWorker)
	if err != nil {
		fmt.Fprintf(os.Stderr, "bootstrap error: %v\n", err)
		os.Exit(1)
	}
	defer app.Close()
	logger := app.Logger

	mux := http.NewServeMux()
	mux.Handle("/metrics", app.PipelineMetrics.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	metricsServer := &http.Server{
		Addr:              ":" + cfg.WorkerMetricsPort,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info().Str("addr", metricsServer.Addr).Msg("worker metrics listening")
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("worker metrics server error")
		}
	}()

	logger.Info().Str("subject", cfg.NATSBatchSubject).Msg("worker subscribed")
	err = app.Bus.SubscribeBatches(ctx, func(handlerCtx context.Context, batch domain.Batch) error {
		return app.Pipeline.Process(handlerCtx, batch)
	})
	if err != nil {
		logger.Error().Err(err).Msg("worker subscription error")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("worker metrics shutdown error")
	}
	logger.Info().Msg("worker stopped")
}
