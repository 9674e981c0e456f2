package usecase

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/kirillkom/scanpipe/internal/core/domain"
	"github.com/kirillkom/scanpipe/internal/core/ports"
)

type storeFake struct {
	mu    sync.Mutex
	docs  map[string]domain.Document
	order []string
	saves []domain.Document
	err   error
}

func newStoreFake() *storeFake {
	return &storeFake{docs: make(map[string]domain.Document)}
}

func (f *storeFake) Add(_ context.Context, docs ...domain.Document) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	for _, d := range docs {
		f.docs[d.ID] = d.Clone()
		f.order = append(f.order, d.ID)
	}
	return nil
}

func (f *storeFake) Save(_ context.Context, doc domain.Document) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.docs[doc.ID]; !ok {
		f.order = append(f.order, doc.ID)
	}
	f.docs[doc.ID] = doc.Clone()
	f.saves = append(f.saves, doc.Clone())
	return nil
}

func (f *storeFake) GetByID(_ context.Context, id string) (*domain.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, ok := f.docs[id]
	if !ok {
		return nil, domain.WrapError(domain.ErrDocumentNotFound, "get", errors.New(id))
	}
	out := doc.Clone()
	return &out, nil
}

func (f *storeFake) List(context.Context) ([]domain.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.Document, 0, len(f.order))
	for _, id := range f.order {
		out = append(out, f.docs[id].Clone())
	}
	return out, nil
}

func (f *storeFake) Clear(context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := len(f.order)
	f.docs = make(map[string]domain.Document)
	f.order = nil
	return n, nil
}

func (f *storeFake) get(id string) domain.Document {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.docs[id].Clone()
}

type storageFake struct {
	mu      sync.Mutex
	files   map[string][]byte
	deleted []string
	saveErr error
}

func newStorageFake() *storageFake {
	return &storageFake{files: make(map[string][]byte)}
}

func (f *storageFake) Save(_ context.Context, key string, data io.Reader) error {
	if f.saveErr != nil {
		return f.saveErr
	}
	raw, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.files[key] = raw
	return nil
}

func (f *storageFake) Open(_ context.Context, key string) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	raw, ok := f.files[key]
	if !ok {
		return nil, fmt.Errorf("open %s: not found", key)
	}
	return io.NopCloser(bytes.NewReader(raw)), nil
}

func (f *storageFake) Delete(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.files, key)
	f.deleted = append(f.deleted, key)
	return nil
}

func (f *storageFake) deletedKeys() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.deleted...)
}

// recognizerFake answers by image content: "ERR:<kind>" fails with that
// OCR error kind, anything else is returned as text.
type recognizerFake struct {
	mu     sync.Mutex
	calls  []string
	before func(call int)
}

func (f *recognizerFake) Recognize(ctx context.Context, image domain.Upload, onProgress ports.ProgressFunc) (string, error) {
	f.mu.Lock()
	call := len(f.calls)
	f.calls = append(f.calls, image.Filename)
	before := f.before
	f.mu.Unlock()
	if before != nil {
		before(call)
	}

	for _, p := range []float64{0.05, 0.2, 0.5, 0.8} {
		onProgress(p)
	}
	defer onProgress(1)

	if err := ctx.Err(); err != nil {
		return "", domain.NewTransportError("network error: "+err.Error(), err)
	}

	content := string(image.Data)
	switch {
	case content == "ERR:transport":
		return "", domain.NewTransportError("HTTP 502: Bad Gateway", nil)
	case content == "ERR:backend":
		return "", domain.NewBackendError("File failed validation")
	case content == "ERR:protocol":
		return "", domain.NewProtocolError("failed to parse OCR response: missing ParsedResults", nil)
	default:
		return content, nil
	}
}

func (f *recognizerFake) callOrder() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

type extractorFake struct{}

func (extractorFake) Extract(text string) []domain.Entity {
	if strings.Contains(text, "PANIC") {
		panic("boom")
	}
	return []domain.Entity{{Type: domain.EntityState, Value: strings.TrimSpace(text), Confidence: 0.9}}
}

type eventsFake struct {
	mu     sync.Mutex
	events []domain.PipelineEvent
}

func (f *eventsFake) PublishEvent(_ context.Context, event domain.PipelineEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
	return nil
}

func (f *eventsFake) snapshot() []domain.PipelineEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.PipelineEvent(nil), f.events...)
}

type auditFake struct {
	mu      sync.Mutex
	entries []domain.AuditEntry
}

func (f *auditFake) Record(_ context.Context, entry domain.AuditEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, entry)
	return nil
}

type metricsFake struct {
	mu       sync.Mutex
	ocr      map[string]int
	started  int
	finished map[domain.DocumentStatus]int
	progress []int
}

func newMetricsFake() *metricsFake {
	return &metricsFake{finished: make(map[domain.DocumentStatus]int), ocr: make(map[string]int)}
}

func (f *metricsFake) StartDocument() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started++
}

func (f *metricsFake) FinishDocument(status domain.DocumentStatus, _ time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.finished[status]++
}

func (f *metricsFake) ObserveOCR(outcome string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ocr[outcome]++
}

func (f *metricsFake) SetBatchProgress(percent int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.progress = append(f.progress, percent)
}

type queueFake struct {
	mu      sync.Mutex
	batches []domain.Batch
	err     error
}

func (f *queueFake) PublishBatch(_ context.Context, batch domain.Batch) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.batches = append(f.batches, batch)
	return nil
}

func (f *queueFake) SubscribeBatches(context.Context, func(context.Context, domain.Batch) error) error {
	return errors.New("not implemented")
}
