package httpadapter

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/kirillkom/scanpipe/internal/config"
	"github.com/kirillkom/scanpipe/internal/core/domain"
)

type batchesFake struct {
	mu      sync.Mutex
	err     error
	uploads []domain.Upload
	calls   int
}

func (f *batchesFake) Submit(_ context.Context, uploads []domain.Upload) (*domain.Batch, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.uploads = uploads
	if f.err != nil {
		return nil, f.err
	}
	batch := &domain.Batch{ID: "batch-1"}
	for i, up := range uploads {
		batch.Documents = append(batch.Documents, domain.Document{
			ID:          up.Filename,
			BatchID:     batch.ID,
			Position:    i,
			Filename:    up.Filename,
			ContentType: up.ContentType,
			Status:      domain.StatusQueued,
		})
	}
	return batch, nil
}

type clearerFake struct {
	cleared int
	err     error
}

func (f clearerFake) Clear(context.Context) (int, error) {
	return f.cleared, f.err
}

type documentsFake struct {
	docs []domain.Document
	err  error
}

func (f documentsFake) List(context.Context) ([]domain.Document, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.docs, nil
}

func (f documentsFake) GetByID(_ context.Context, id string) (*domain.Document, error) {
	for _, doc := range f.docs {
		if doc.ID == id {
			out := doc.Clone()
			return &out, nil
		}
	}
	return nil, domain.WrapError(domain.ErrDocumentNotFound, "get document", errors.New("id="+id))
}

type progressFake struct {
	progress domain.Progress
}

func (f progressFake) Current() domain.Progress { return f.progress }

type extractorFake struct{}

func (extractorFake) Extract(text string) []domain.Entity {
	return []domain.Entity{{Type: domain.EntityPerson, Value: text, Confidence: 0.9}}
}

type recommenderFake struct {
	mu     sync.Mutex
	result domain.RecommendationResult
	err    error
	text   string
	claim  domain.Claim
}

func (f *recommenderFake) Recommend(_ context.Context, claim domain.Claim, ocrText string) (domain.RecommendationResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.claim = claim
	f.text = ocrText
	return f.result, f.err
}

func testDependencies() Dependencies {
	return Dependencies{
		Batches:     &batchesFake{},
		Clearer:     clearerFake{},
		Documents:   documentsFake{},
		Progress:    progressFake{},
		Extractor:   extractorFake{},
		Recommender: &recommenderFake{},
		Logger:      zerolog.Nop(),
	}
}

func testConfig() config.Config {
	return config.Config{MaxUploadBytes: 1 << 20}
}

func newTestHandler(t *testing.T, cfg config.Config, deps Dependencies) http.Handler {
	t.Helper()
	router, err := NewRouter(cfg, deps)
	require.NoError(t, err)
	return router.Handler()
}
