package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	mcpadapter "github.com/kirillkom/scanpipe/internal/adapters/mcp"
	"github.com/kirillkom/scanpipe/internal/config"
	"github.com/kirillkom/scanpipe/internal/core/domain"
	"github.com/kirillkom/scanpipe/internal/core/ports"
	"github.com/kirillkom/scanpipe/internal/core/progress"
	"github.com/kirillkom/scanpipe/internal/core/usecase"
	"github.com/kirillkom/scanpipe/internal/infrastructure/extractor/pattern"
	"github.com/kirillkom/scanpipe/internal/infrastructure/llm/huggingface"
	"github.com/kirillkom/scanpipe/internal/infrastructure/ocr/ocrspace"
	"github.com/kirillkom/scanpipe/internal/infrastructure/queue/nats"
	"github.com/kirillkom/scanpipe/internal/infrastructure/repository/memory"
	"github.com/kirillkom/scanpipe/internal/infrastructure/repository/postgres"
	"github.com/kirillkom/scanpipe/internal/infrastructure/resilience"
	"github.com/kirillkom/scanpipe/internal/infrastructure/storage/localfs"
	"github.com/kirillkom/scanpipe/internal/observability/logging"
	"github.com/kirillkom/scanpipe/internal/observability/metrics"
)

// Version is reported by the MCP server.
var Version = "dev"

type Role string

const (
	RoleAPI    Role = "api"
	RoleWorker Role = "worker"
)

type App struct {
	Config config.Config
	Role   Role
	Logger zerolog.Logger

	Store     ports.DocumentStore // discards everything in the worker
	Tracker   *progress.Tracker
	Extractor *pattern.Extractor
	Bus       *nats.Bus

	// Pipeline is nil in an API running in queue mode.
	Pipeline *usecase.PipelineUseCase

	// API only.
	Ingest    *usecase.IngestBatchUseCase
	Documents *usecase.DocumentQueryUseCase
	Recommend *usecase.RecommendUseCase
	Mirror    *usecase.EventMirrorUseCase
	MCP       *mcpadapter.Server

	HTTPMetrics       *metrics.HTTPServerMetrics
	PipelineMetrics   *metrics.PipelineMetrics
	ResilienceMetrics *metrics.ResilienceMetrics

	closers []func()
}

func New(ctx context.Context, cfg config.Config, role Role) (_ *App, err error) {
	if role == RoleWorker && cfg.PipelineMode != config.ModeQueue {
		return nil, errors.New("worker requires PIPELINE_MODE=queue")
	}

	service := "scanpipe-" + string(role)
	logger := logging.New(service, cfg.LogLevel, cfg.Environment)

	app := &App{
		Config:            cfg,
		Role:              role,
		Logger:            logger,
		Store:             memory.NewDocumentStore(),
		Tracker:           progress.NewTracker(cfg.ProgressSettleDelay),
		Extractor:         pattern.NewExtractor(),
		HTTPMetrics:       metrics.NewHTTPServerMetrics(service),
		PipelineMetrics:   metrics.NewPipelineMetrics(service),
		ResilienceMetrics: metrics.NewResilienceMetrics(service),
	}
	defer func() {
		if err != nil {
			app.Close()
		}
	}()

	storage, err := localfs.New(cfg.StagingPath)
	if err != nil {
		return nil, fmt.Errorf("init staging storage: %w", err)
	}

	if role == RoleWorker {
		app.Store = memory.Discard{}
		app.ResilienceMetrics.Register(app.PipelineMetrics.Registry())
	}

	resilienceCfg := resilienceConfig(cfg)
	if cfg.PipelineMode == config.ModeQueue {
		bus, err := nats.New(cfg.NATSURL, nats.Options{
			Name:               service,
			BatchSubject:       cfg.NATSBatchSubject,
			EventSubject:       cfg.NATSEventSubject,
			DispatchTimeout:    cfg.NATSDispatchTimeout,
			DrainTimeout:       cfg.ShutdownTimeout,
			ResilienceExecutor: app.executor(resilienceCfg),
		})
		if err != nil {
			return nil, fmt.Errorf("init message bus: %w", err)
		}
		app.Bus = bus
		app.closers = append(app.closers, bus.Close)
	}

	if role == RoleWorker || cfg.PipelineMode == config.ModeInline {
		pipeline, err := app.newPipeline(ctx, storage, resilienceCfg)
		if err != nil {
			return nil, err
		}
		app.Pipeline = pipeline
	}

	if role == RoleAPI {
		if err := app.wireAPI(ctx, storage, resilienceCfg); err != nil {
			return nil, err
		}
	}
	return app, nil
}

func (a *App) newPipeline(ctx context.Context, storage ports.ObjectStorage, resilienceCfg resilience.Config) (*usecase.PipelineUseCase, error) {
	cfg := a.Config
	recognizer := ocrspace.New(ocrspace.Options{
		URL:      cfg.OCRURL,
		APIKey:   cfg.OCRAPIKey,
		Language: cfg.OCRLanguage,
		Engine:   cfg.OCREngine,
		Timeout:  cfg.OCRTimeout,
		Executor: a.executor(resilienceCfg.SingleAttempt()),
	})

	opts := []usecase.PipelineOption{
		usecase.WithPipelineLogger(a.Logger),
		usecase.WithPipelineMetrics(a.PipelineMetrics),
	}
	if a.Role == RoleWorker && a.Bus != nil {
		opts = append(opts, usecase.WithEventPublisher(a.Bus))
	}

	if dsn := strings.TrimSpace(cfg.PostgresDSN); dsn != "" {
		db, err := postgres.OpenDB(ctx, dsn)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		a.closers = append(a.closers, func() { _ = db.Close() })
		audit := postgres.NewAuditRepository(db)
		if err := audit.EnsureSchema(ctx); err != nil {
			return nil, fmt.Errorf("ensure audit schema: %w", err)
		}
		opts = append(opts, usecase.WithAuditLog(audit))
	}

	return usecase.NewPipelineUseCase(a.Store, storage, recognizer, a.Extractor, a.Tracker, opts...), nil
}

func (a *App) wireAPI(ctx context.Context, storage ports.ObjectStorage, resilienceCfg resilience.Config) error {
	cfg := a.Config

	var (
		processor ports.BatchProcessor
		queue     ports.BatchQueue
	)
	a.PipelineMetrics.Register(a.HTTPMetrics.Registry())
	a.ResilienceMetrics.Register(a.HTTPMetrics.Registry())
	if a.Pipeline != nil {
		processor = a.Pipeline
	}
	if a.Bus != nil {
		queue = a.Bus
	}
	var ingestOpts []usecase.IngestOption
	if a.Bus != nil {
		ingestOpts = append(ingestOpts, usecase.WithWorkerLease(workerLease(cfg), a.Tracker))
	}
	a.Ingest = usecase.NewIngestBatchUseCase(ctx, a.Store, storage, processor, queue, a.Logger, ingestOpts...)
	a.Documents = usecase.NewDocumentQueryUseCase(a.Store)

	if a.Bus != nil {
		a.Mirror = usecase.NewEventMirrorUseCase(a.Store, a.Tracker, a.Ingest)
		a.Tracker.OnChange(func(p domain.Progress) {
			a.PipelineMetrics.SetBatchProgress(p.Percent)
		})
	}

	var generator ports.RecommendationGenerator
	if strings.TrimSpace(cfg.HFToken) != "" {
		generator = huggingface.New(huggingface.Options{
			BaseURL:  cfg.HFURL,
			Token:    cfg.HFToken,
			Model:    cfg.HFModel,
			Timeout:  cfg.HFTimeout,
			Executor: a.executor(resilienceCfg),
		})
	} else {
		a.Logger.Info().Msg("HF_TOKEN not set, recommendations use the static fallback set")
	}
	recommend, err := usecase.NewRecommendUseCase(generator, a.Logger)
	if err != nil {
		return fmt.Errorf("init recommendations: %w", err)
	}
	a.Recommend = recommend

	a.MCP = mcpadapter.NewServer(a.Documents, a.Tracker, a.Extractor, Version)
	return nil
}

func (a *App) executor(cfg resilience.Config) *resilience.Executor {
	return resilience.NewExecutor(cfg, resilience.WithObserver(a.ResilienceMetrics))
}

func resilienceConfig(cfg config.Config) resilience.Config {
	out := resilience.DefaultConfig()
	if cfg.RetryMaxAttempts > 0 {
		out.Retry.MaxAttempts = cfg.RetryMaxAttempts
	}
	if cfg.BreakerMinRequests > 0 {
		out.Breaker.MinRequests = cfg.BreakerMinRequests
	}
	if cfg.BreakerFailureRatio > 0 {
		out.Breaker.FailureRatio = cfg.BreakerFailureRatio
	}
	if cfg.BreakerOpenTimeout > 0 {
		out.Breaker.OpenTimeout = cfg.BreakerOpenTimeout
	}
	return out
}

// workerLease never undercuts a single OCR call, which is the longest
// stretch a healthy worker spends without publishing an event.
func workerLease(cfg config.Config) time.Duration {
	return max(cfg.WorkerLease, cfg.OCRTimeout+30*time.Second)
}

func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
