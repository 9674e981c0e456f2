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

	httpadapter "github.com/kirillkom/scanpipe/internal/adapters/http"
	"github.com/kirillkom/scanpipe/internal/bootstrap"
	"github.com/kirillkom/scanpipe/internal/config"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, cfg, bootstrap.RoleAPI)
	if err != nil {
		fmt.Fprintf(os.Stderr, "bootstrap error: %v\n", err)
		os.Exit(1)
	}
	defer app.Close()
	logger := app.Logger

	mirrorDone := make(chan struct{})
	if app.Mirror != nil {
		go func() {
			defer close(mirrorDone)
			if err := app.Bus.SubscribeEvents(ctx, app.Mirror.Handle); err != nil {
				logger.Error().Err(err).Msg("pipeline event subscription stopped")
			}
		}()
	} else {
		close(mirrorDone)
	}

	router, err := httpadapter.NewRouter(cfg, httpadapter.Dependencies{
		Batches:     app.Ingest,
		Clearer:     app.Ingest,
		Documents:   app.Documents,
		Progress:    app.Tracker,
		Extractor:   app.Extractor,
		Recommender: app.Recommend,
		MCP:         app.MCP.Handler(),
		Metrics:     app.HTTPMetrics,
		Logger:      logger,
	})
	if err != nil {
		logger.Error().Err(err).Msg("router init failed")
		return
	}

	server := &http.Server{
		Addr:              ":" + cfg.APIPort,
		Handler:           router.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      2 * time.Minute,
		IdleTimeout:       60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info().
			Str("addr", server.Addr).
			Str("pipeline_mode", cfg.PipelineMode).
			Msg("api listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		logger.Error().Err(err).Msg("api server error")
		stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("api shutdown error")
	}
	app.Ingest.Wait()
	<-mirrorDone
	logger.Info().Msg("api stopped")
}
