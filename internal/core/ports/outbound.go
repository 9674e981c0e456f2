package ports

import (
	"context"
	"io"
	"time"

	"github.com/kirillkom/scanpipe/internal/core/domain"
)

// DocumentStore holds the visible document set for the session.
type DocumentStore interface {
	Add(ctx context.Context, docs ...domain.Document) error
	Save(ctx context.Context, doc domain.Document) error
	GetByID(ctx context.Context, id string) (*domain.Document, error)
	List(ctx context.Context) ([]domain.Document, error)
	Clear(ctx context.Context) (int, error)
}

// ObjectStorage stages uploaded images until their batch finishes.
type ObjectStorage interface {
	Save(ctx context.Context, key string, data io.Reader) error
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
}

// ProgressFunc receives an item's completion fraction in [0,1].
type ProgressFunc func(fraction float64)

// TextRecognizer performs one OCR request for one image.
type TextRecognizer interface {
	Recognize(ctx context.Context, image domain.Upload, onProgress ProgressFunc) (string, error)
}

// EntityExtractor derives entities from recognized text.
type EntityExtractor interface {
	Extract(text string) []domain.Entity
}

// ProgressSink records batch-wide progress.
type ProgressSink interface {
	Start(batchID string, total int)
	Set(current, percent int)
	Finish()
	Current() domain.Progress
}

// EventPublisher announces pipeline transitions to external observers.
type EventPublisher interface {
	PublishEvent(ctx context.Context, event domain.PipelineEvent) error
}

// BatchQueue hands batches to a separate worker process.
type BatchQueue interface {
	PublishBatch(ctx context.Context, batch domain.Batch) error
	SubscribeBatches(ctx context.Context, handler func(context.Context, domain.Batch) error) error
}

// EventStream delivers pipeline events published by a worker.
type EventStream interface {
	SubscribeEvents(ctx context.Context, handler func(context.Context, domain.PipelineEvent) error) error
}

// AuditLog records terminal document outcomes.
type AuditLog interface {
	Record(ctx context.Context, entry domain.AuditEntry) error
}

// PipelineMetrics observes pipeline activity.
type PipelineMetrics interface {
	StartDocument()
	FinishDocument(status domain.DocumentStatus, duration time.Duration)
	ObserveOCR(outcome string)
	SetBatchProgress(percent int)
}

// RecommendationGenerator calls the hosted text-generation model.
type RecommendationGenerator interface {
	GenerateRecommendations(ctx context.Context, claim domain.Claim, ocrText string) ([]domain.SchemeRecommendation, error)
}

// ProgressMirror adopts progress snapshots produced by another process.
type ProgressMirror interface {
	Apply(snapshot domain.Progress)
}

// BatchLease tracks the batch a worker runs on behalf of this process.
type BatchLease interface {
	// Renew extends the lease and reports whether batchID is still in flight.
	Renew(batchID string) bool
	Release(batchID string)
}
