package ports

import (
	"context"

	"github.com/kirillkom/scanpipe/internal/core/domain"
)

// BatchSubmitter is the inbound contract for accepting a batch of images.
type BatchSubmitter interface {
	Submit(ctx context.Context, uploads []domain.Upload) (*domain.Batch, error)
}

// DocumentReader is the read-only projection of the visible document set.
type DocumentReader interface {
	List(ctx context.Context) ([]domain.Document, error)
	GetByID(ctx context.Context, id string) (*domain.Document, error)
}

// DocumentClearer drops every document from the visible set.
type DocumentClearer interface {
	Clear(ctx context.Context) (int, error)
}

// ProgressReader exposes the current batch-wide progress.
type ProgressReader interface {
	Current() domain.Progress
}

// BatchProcessor runs a submitted batch to completion.
type BatchProcessor interface {
	Process(ctx context.Context, batch domain.Batch) error
}

// Recommender produces scheme recommendations for a claim.
type Recommender interface {
	Recommend(ctx context.Context, claim domain.Claim, ocrText string) (domain.RecommendationResult, error)
}
