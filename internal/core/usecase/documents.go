package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/kirillkom/scanpipe/internal/core/domain"
	"github.com/kirillkom/scanpipe/internal/core/ports"
)

// DocumentQueryUseCase is the read side of the visible document set.
type DocumentQueryUseCase struct {
	store ports.DocumentStore
}

func NewDocumentQueryUseCase(store ports.DocumentStore) *DocumentQueryUseCase {
	return &DocumentQueryUseCase{store: store}
}

func (uc *DocumentQueryUseCase) List(ctx context.Context) ([]domain.Document, error) {
	docs, err := uc.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	return docs, nil
}

func (uc *DocumentQueryUseCase) GetByID(ctx context.Context, id string) (*domain.Document, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "get document", errors.New("empty id"))
	}
	doc, err := uc.store.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get document: %w", err)
	}
	return doc, nil
}
