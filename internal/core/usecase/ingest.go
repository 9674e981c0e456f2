package usecase

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/kirillkom/scanpipe/internal/core/domain"
	"github.com/kirillkom/scanpipe/internal/core/ports"
)

// IngestBatchUseCase accepts image batches and hands them to the pipeline,
// either in-process or through the batch queue. At most one batch is in
// flight at a time.
type IngestBatchUseCase struct {
	baseCtx  context.Context
	store    ports.DocumentStore
	storage  ports.ObjectStorage
	pipeline ports.BatchProcessor
	queue    ports.BatchQueue
	logger   zerolog.Logger
	now      func() time.Time

	// Queue mode only: a dispatched batch whose worker stays silent for
	// longer than lease is failed and the slot freed.
	lease    time.Duration
	progress ports.ProgressMirror

	mu         sync.Mutex
	running    string
	leaseGen   uint64
	leaseTimer *time.Timer
	wg         sync.WaitGroup
}

const msgWorkerUnavailable = "worker unavailable"

type IngestOption func(*IngestBatchUseCase)

// WithWorkerLease expires a queued batch after lease without worker
// events. progress, when set, is shown the batch as finished on expiry.
func WithWorkerLease(lease time.Duration, progress ports.ProgressMirror) IngestOption {
	return func(uc *IngestBatchUseCase) {
		uc.lease = lease
		uc.progress = progress
	}
}

// NewIngestBatchUseCase runs batches inline on pipeline unless queue is
// non-nil. baseCtx bounds inline batches and is cancelled at shutdown.
func NewIngestBatchUseCase(
	baseCtx context.Context,
	store ports.DocumentStore,
	storage ports.ObjectStorage,
	pipeline ports.BatchProcessor,
	queue ports.BatchQueue,
	logger zerolog.Logger,
	opts ...IngestOption,
) *IngestBatchUseCase {
	uc := &IngestBatchUseCase{
		baseCtx:  baseCtx,
		store:    store,
		storage:  storage,
		pipeline: pipeline,
		queue:    queue,
		logger:   logger,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(uc)
	}
	return uc
}

func (uc *IngestBatchUseCase) Submit(ctx context.Context, uploads []domain.Upload) (*domain.Batch, error) {
	if len(uploads) == 0 {
		return nil, domain.WrapError(domain.ErrInvalidInput, "submit batch", errors.New("no files"))
	}

	uc.mu.Lock()
	defer uc.mu.Unlock()
	if uc.running != "" {
		return nil, domain.WrapError(domain.ErrBatchInProgress, "submit batch", fmt.Errorf("batch %s is still running", uc.running))
	}

	accepted, rejected := partitionImages(uploads)
	if len(accepted) == 0 {
		return nil, domain.WrapError(domain.ErrInvalidInput, "submit batch", fmt.Errorf("none of %d files is an image", len(uploads)))
	}

	now := uc.now().UTC()
	batch := domain.Batch{
		ID:          uuid.NewString(),
		Documents:   make([]domain.Document, 0, len(accepted)),
		Rejected:    rejected,
		SubmittedAt: now,
	}
	for i, up := range accepted {
		doc, err := uc.stage(ctx, batch.ID, i, up, now)
		if err != nil {
			uc.discard(ctx, batch.Documents)
			return nil, err
		}
		batch.Documents = append(batch.Documents, doc)
	}

	if err := uc.store.Add(ctx, batch.Documents...); err != nil {
		uc.discard(ctx, batch.Documents)
		return nil, fmt.Errorf("register documents: %w", err)
	}

	uc.running = batch.ID
	if uc.queue != nil {
		if err := uc.queue.PublishBatch(ctx, batch); err != nil {
			uc.running = ""
			uc.failAll(ctx, batch.Documents, "dispatch failed")
			uc.discard(ctx, batch.Documents)
			return nil, fmt.Errorf("dispatch batch: %w", err)
		}
		uc.armLease(batch.ID)
		uc.logger.Info().Str("batch_id", batch.ID).Int("documents", len(batch.Documents)).Msg("batch queued")
		return &batch, nil
	}

	uc.wg.Add(1)
	go uc.runInline(batch)
	return &batch, nil
}

func (uc *IngestBatchUseCase) runInline(batch domain.Batch) {
	defer uc.wg.Done()
	defer uc.Release(batch.ID)

	if err := uc.pipeline.Process(uc.baseCtx, batch); err != nil {
		uc.logger.Warn().Err(err).Str("batch_id", batch.ID).Msg("batch interrupted")
	}
}

// Release marks batchID as no longer running. Queue mode calls it when
// the worker reports completion.
func (uc *IngestBatchUseCase) Release(batchID string) {
	uc.mu.Lock()
	defer uc.mu.Unlock()
	if uc.running == batchID {
		uc.running = ""
		uc.stopLease()
	}
}

// Renew restarts the lease of batchID and reports whether that batch is
// still the one in flight. Events of an expired or unknown batch get false.
func (uc *IngestBatchUseCase) Renew(batchID string) bool {
	uc.mu.Lock()
	defer uc.mu.Unlock()
	if batchID == "" || uc.running != batchID {
		return false
	}
	uc.armLease(batchID)
	return true
}

// armLease must be called with mu held.
func (uc *IngestBatchUseCase) armLease(batchID string) {
	uc.stopLease()
	if uc.lease <= 0 {
		return
	}
	gen := uc.leaseGen
	uc.leaseTimer = time.AfterFunc(uc.lease, func() { uc.expire(batchID, gen) })
}

// stopLease must be called with mu held.
func (uc *IngestBatchUseCase) stopLease() {
	uc.leaseGen++
	if uc.leaseTimer != nil {
		uc.leaseTimer.Stop()
		uc.leaseTimer = nil
	}
}

func (uc *IngestBatchUseCase) expire(batchID string, gen uint64) {
	uc.mu.Lock()
	defer uc.mu.Unlock()
	if gen != uc.leaseGen || uc.running != batchID {
		return
	}
	uc.running = ""
	uc.stopLease()

	ctx := context.WithoutCancel(uc.baseCtx)
	docs, err := uc.store.List(ctx)
	if err != nil {
		uc.logger.Error().Err(err).Str("batch_id", batchID).Msg("list documents of expired batch")
	}
	var (
		pending []domain.Document
		total   int
	)
	for _, doc := range docs {
		if doc.BatchID != batchID {
			continue
		}
		total++
		if !doc.Status.Terminal() {
			pending = append(pending, doc)
		}
	}
	uc.failAll(ctx, pending, msgWorkerUnavailable)
	uc.discard(ctx, pending)
	if uc.progress != nil {
		uc.progress.Apply(domain.Progress{BatchID: batchID, Total: total, Current: total, Percent: 100})
	}
	uc.logger.Warn().
		Str("batch_id", batchID).
		Int("failed_documents", len(pending)).
		Dur("lease", uc.lease).
		Msg("no worker events within lease, batch abandoned")
}

// Running returns the id of the batch in flight, if any.
func (uc *IngestBatchUseCase) Running() (string, bool) {
	uc.mu.Lock()
	defer uc.mu.Unlock()
	return uc.running, uc.running != ""
}

// Clear drops every document. It is refused while a batch is running.
func (uc *IngestBatchUseCase) Clear(ctx context.Context) (int, error) {
	uc.mu.Lock()
	defer uc.mu.Unlock()
	if uc.running != "" {
		return 0, domain.WrapError(domain.ErrBatchInProgress, "clear documents", fmt.Errorf("batch %s is still running", uc.running))
	}
	n, err := uc.store.Clear(ctx)
	if err != nil {
		return 0, fmt.Errorf("clear documents: %w", err)
	}
	return n, nil
}

// Wait blocks until inline batches have returned.
func (uc *IngestBatchUseCase) Wait() {
	uc.wg.Wait()
}

func (uc *IngestBatchUseCase) stage(ctx context.Context, batchID string, position int, up domain.Upload, now time.Time) (domain.Document, error) {
	id := uuid.NewString()
	key := fmt.Sprintf("%s_%s", id, sanitizeFilename(up.Filename))
	if err := uc.storage.Save(ctx, key, bytes.NewReader(up.Data)); err != nil {
		return domain.Document{}, fmt.Errorf("stage %s: %w", up.Filename, err)
	}

	doc := domain.Document{
		ID:          id,
		BatchID:     batchID,
		Position:    position,
		Filename:    up.Filename,
		ContentType: up.ContentType,
		SizeBytes:   int64(len(up.Data)),
		StagingKey:  key,
		SubmittedAt: now,
	}
	doc.Queued(now)
	return doc, nil
}

func (uc *IngestBatchUseCase) failAll(ctx context.Context, docs []domain.Document, message string) {
	now := uc.now().UTC()
	for _, doc := range docs {
		doc.Fail(message, now)
		if err := uc.store.Save(ctx, doc); err != nil {
			uc.logger.Error().Err(err).Str("document_id", doc.ID).Msg("save failed document")
		}
	}
}

func (uc *IngestBatchUseCase) discard(ctx context.Context, docs []domain.Document) {
	for _, doc := range docs {
		if err := uc.storage.Delete(context.WithoutCancel(ctx), doc.StagingKey); err != nil {
			uc.logger.Warn().Err(err).Str("staging_key", doc.StagingKey).Msg("discard staged image")
		}
	}
}

// partitionImages keeps image/* uploads in order and returns the names of
// the rest.
func partitionImages(uploads []domain.Upload) ([]domain.Upload, []string) {
	accepted := make([]domain.Upload, 0, len(uploads))
	var rejected []string
	for _, up := range uploads {
		if isImage(up.ContentType) {
			accepted = append(accepted, up)
			continue
		}
		rejected = append(rejected, up.Filename)
	}
	return accepted, rejected
}

func isImage(contentType string) bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(contentType)), "image/")
}

func sanitizeFilename(name string) string {
	base := filepath.Base(name)
	base = strings.ReplaceAll(base, " ", "_")
	base = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z':
			return r
		case r >= 'A' && r <= 'Z':
			return r
		case r >= '0' && r <= '9':
			return r
		case r == '.', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, base)
	base = strings.TrimLeft(base, ".")
	if base == "" {
		return "image.bin"
	}
	return base
}
