package memory

import (
	"context"
	"fmt"

	"github.com/kirillkom/scanpipe/internal/core/domain"
)

// Discard is the document store of the worker process. Document state
// travels to the API as events, so the worker keeps nothing between batches.
type Discard struct{}

func (Discard) Add(context.Context, ...domain.Document) error { return nil }

func (Discard) Save(context.Context, domain.Document) error { return nil }

func (Discard) GetByID(_ context.Context, id string) (*domain.Document, error) {
	return nil, domain.WrapError(domain.ErrDocumentNotFound, "get document", fmt.Errorf("id=%s", id))
}

func (Discard) List(context.Context) ([]domain.Document, error) { return []domain.Document{}, nil }

func (Discard) Clear(context.Context) (int, error) { return 0, nil }
