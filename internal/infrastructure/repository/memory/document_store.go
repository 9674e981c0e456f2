// Package memory keeps the visible document set in process memory.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/kirillkom/scanpipe/internal/core/domain"
)

// DocumentStore is written by the pipeline goroutine and read by request
// handlers. Every value crossing the boundary is a deep copy.
type DocumentStore struct {
	mu    sync.RWMutex
	docs  map[string]domain.Document
	order []string
}

func NewDocumentStore() *DocumentStore {
	return &DocumentStore{docs: make(map[string]domain.Document)}
}

func (s *DocumentStore) Add(_ context.Context, docs ...domain.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, doc := range docs {
		if doc.ID == "" {
			return domain.WrapError(domain.ErrInvalidInput, "add document", fmt.Errorf("empty id"))
		}
		if _, exists := s.docs[doc.ID]; exists {
			return domain.WrapError(domain.ErrInvalidInput, "add document", fmt.Errorf("duplicate id %s", doc.ID))
		}
	}
	for _, doc := range docs {
		s.docs[doc.ID] = doc.Clone()
		s.order = append(s.order, doc.ID)
	}
	return nil
}

// Save replaces the stored document, inserting it when unknown.
func (s *DocumentStore) Save(_ context.Context, doc domain.Document) error {
	if doc.ID == "" {
		return domain.WrapError(domain.ErrInvalidInput, "save document", fmt.Errorf("empty id"))
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.docs[doc.ID]; !exists {
		s.order = append(s.order, doc.ID)
	}
	s.docs[doc.ID] = doc.Clone()
	return nil
}

func (s *DocumentStore) GetByID(_ context.Context, id string) (*domain.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, ok := s.docs[id]
	if !ok {
		return nil, domain.WrapError(domain.ErrDocumentNotFound, "get document", fmt.Errorf("id=%s", id))
	}
	out := doc.Clone()
	return &out, nil
}

// List returns the newest submission first; documents of one batch keep
// their reverse submission order.
func (s *DocumentStore) List(_ context.Context) ([]domain.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Document, 0, len(s.order))
	for i := len(s.order) - 1; i >= 0; i-- {
		out = append(out, s.docs[s.order[i]].Clone())
	}
	return out, nil
}

func (s *DocumentStore) Clear(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := len(s.order)
	s.docs = make(map[string]domain.Document)
	s.order = nil
	return n, nil
}
