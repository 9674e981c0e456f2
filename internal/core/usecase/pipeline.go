package usecase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/kirillkom/scanpipe/internal/core/domain"
	"github.com/kirillkom/scanpipe/internal/core/ports"
	"github.com/kirillkom/scanpipe/internal/core/progress"
)

const (
	msgNoText    = "no text recognized"
	msgCancelled = "processing cancelled"
)

var errNoText = errors.New(msgNoText)

// PipelineUseCase walks a batch sequentially: one OCR request in flight,
// documents in submission order, failures isolated per document.
type PipelineUseCase struct {
	store     ports.DocumentStore
	storage   ports.ObjectStorage
	ocr       ports.TextRecognizer
	extractor ports.EntityExtractor
	tracker   ports.ProgressSink

	events  ports.EventPublisher
	audit   ports.AuditLog
	metrics ports.PipelineMetrics
	logger  zerolog.Logger
	now     func() time.Time
}

type PipelineOption func(*PipelineUseCase)

func WithEventPublisher(events ports.EventPublisher) PipelineOption {
	return func(uc *PipelineUseCase) { uc.events = events }
}

func WithAuditLog(audit ports.AuditLog) PipelineOption {
	return func(uc *PipelineUseCase) { uc.audit = audit }
}

func WithPipelineMetrics(metrics ports.PipelineMetrics) PipelineOption {
	return func(uc *PipelineUseCase) { uc.metrics = metrics }
}

func WithPipelineLogger(logger zerolog.Logger) PipelineOption {
	return func(uc *PipelineUseCase) { uc.logger = logger }
}

func WithClock(now func() time.Time) PipelineOption {
	return func(uc *PipelineUseCase) { uc.now = now }
}

func NewPipelineUseCase(
	store ports.DocumentStore,
	storage ports.ObjectStorage,
	ocr ports.TextRecognizer,
	extractor ports.EntityExtractor,
	tracker ports.ProgressSink,
	opts ...PipelineOption,
) *PipelineUseCase {
	uc := &PipelineUseCase{
		store:     store,
		storage:   storage,
		ocr:       ocr,
		extractor: extractor,
		tracker:   tracker,
		logger:    zerolog.Nop(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(uc)
	}
	return uc
}

// Process runs every document of batch to a terminal status. It returns
// ctx.Err() when the batch was cut short by cancellation; documents that
// were never reached are then marked as errored.
func (uc *PipelineUseCase) Process(ctx context.Context, batch domain.Batch) error {
	total := len(batch.Documents)
	log := uc.logger.With().Str("batch_id", batch.ID).Int("documents", total).Logger()
	log.Info().Msg("batch started")

	uc.tracker.Start(batch.ID, total)
	uc.publishProgress(ctx, batch.ID, domain.EventBatchProgress)

	cancelled := false
	for i := range batch.Documents {
		doc := batch.Documents[i].Clone()
		if ctx.Err() != nil {
			cancelled = true
			uc.finish(ctx, &doc, "", nil, errors.New(msgCancelled), uc.now())
			continue
		}
		uc.processDocument(ctx, &doc, i, total)
	}

	uc.tracker.Finish()
	uc.observeProgress(100)
	uc.publishProgress(ctx, batch.ID, domain.EventBatchCompleted)
	uc.cleanup(ctx, batch)

	if cancelled {
		log.Warn().Msg("batch cancelled")
		return ctx.Err()
	}
	log.Info().Msg("batch completed")
	return nil
}

func (uc *PipelineUseCase) processDocument(ctx context.Context, doc *domain.Document, index, total int) {
	started := uc.now()
	doc.MarkProcessing(started)
	uc.save(ctx, *doc)
	if uc.metrics != nil {
		uc.metrics.StartDocument()
	}
	uc.report(ctx, doc.BatchID, index, total, 0)

	text, err := uc.recognize(ctx, doc, index, total)
	var entities []domain.Entity
	if err == nil {
		entities, err = uc.extract(text)
	}
	if err != nil && ctx.Err() != nil {
		err = errors.New(msgCancelled)
	}

	duration := uc.finish(ctx, doc, text, entities, err, started)
	if uc.metrics != nil {
		uc.metrics.FinishDocument(doc.Status, duration)
	}
	uc.report(ctx, doc.BatchID, index, total, 1)
}

func (uc *PipelineUseCase) recognize(ctx context.Context, doc *domain.Document, index, total int) (string, error) {
	image, err := uc.loadImage(ctx, *doc)
	if err != nil {
		return "", err
	}

	text, err := uc.ocr.Recognize(ctx, image, func(fraction float64) {
		uc.report(ctx, doc.BatchID, index, total, fraction)
	})
	if uc.metrics != nil {
		uc.metrics.ObserveOCR(ocrOutcome(err))
	}
	if err != nil {
		return "", err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", errNoText
	}
	return text, nil
}

func (uc *PipelineUseCase) loadImage(ctx context.Context, doc domain.Document) (domain.Upload, error) {
	rc, err := uc.storage.Open(ctx, doc.StagingKey)
	if err != nil {
		return domain.Upload{}, fmt.Errorf("read staged image: %w", err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return domain.Upload{}, fmt.Errorf("read staged image: %w", err)
	}
	return domain.Upload{Filename: doc.Filename, ContentType: doc.ContentType, Data: data}, nil
}

func (uc *PipelineUseCase) extract(text string) (entities []domain.Entity, err error) {
	defer func() {
		if r := recover(); r != nil {
			entities = nil
			err = domain.WrapError(domain.ErrExtraction, "extract entities", fmt.Errorf("%v", r))
		}
	}()
	return uc.extractor.Extract(text), nil
}

func (uc *PipelineUseCase) finish(ctx context.Context, doc *domain.Document, text string, entities []domain.Entity, procErr error, started time.Time) time.Duration {
	finished := uc.now()
	if procErr != nil {
		doc.Fail(failureMessage(procErr), finished)
		uc.logger.Warn().
			Err(procErr).
			Str("batch_id", doc.BatchID).
			Str("document_id", doc.ID).
			Str("filename", doc.Filename).
			Msg("document failed")
	} else {
		doc.Complete(text, entities, finished)
	}
	uc.save(ctx, *doc)

	duration := finished.Sub(started)
	uc.record(ctx, *doc, duration)
	return duration
}

// failureMessage is the text stored on an errored document.
func failureMessage(err error) string {
	var ocrErr *domain.OCRError
	switch {
	case errors.As(err, &ocrErr):
		return ocrErr.Message
	case errors.Is(err, errNoText):
		return msgNoText
	case domain.IsKind(err, domain.ErrExtraction):
		return "entity extraction failed"
	default:
		return err.Error()
	}
}

func ocrOutcome(err error) string {
	switch {
	case err == nil:
		return "success"
	case domain.IsKind(err, domain.ErrOCRTransport):
		return "transport_error"
	case domain.IsKind(err, domain.ErrOCRBackend):
		return "backend_error"
	case domain.IsKind(err, domain.ErrOCRProtocol):
		return "protocol_error"
	default:
		return "error"
	}
}

func (uc *PipelineUseCase) report(ctx context.Context, batchID string, index, total int, fraction float64) {
	pct := progress.Overall(total, index, fraction)
	before := uc.tracker.Current()
	uc.tracker.Set(index+1, pct)
	after := uc.tracker.Current()
	if after.Percent == before.Percent && after.Current == before.Current {
		return
	}
	uc.observeProgress(after.Percent)
	uc.publishProgress(ctx, batchID, domain.EventBatchProgress)
}

func (uc *PipelineUseCase) observeProgress(pct int) {
	if uc.metrics != nil {
		uc.metrics.SetBatchProgress(pct)
	}
}

func (uc *PipelineUseCase) save(ctx context.Context, doc domain.Document) {
	if err := uc.store.Save(context.WithoutCancel(ctx), doc); err != nil {
		uc.logger.Error().Err(err).Str("document_id", doc.ID).Msg("save document")
	}
	uc.publish(ctx, domain.PipelineEvent{
		Type:     domain.EventDocumentUpdated,
		BatchID:  doc.BatchID,
		Document: &doc,
	})
}

func (uc *PipelineUseCase) publishProgress(ctx context.Context, batchID string, eventType domain.EventType) {
	snapshot := uc.tracker.Current()
	uc.publish(ctx, domain.PipelineEvent{
		Type:     eventType,
		BatchID:  batchID,
		Progress: &snapshot,
	})
}

func (uc *PipelineUseCase) publish(ctx context.Context, event domain.PipelineEvent) {
	if uc.events == nil {
		return
	}
	event.OccurredAt = uc.now().UTC()
	if err := uc.events.PublishEvent(context.WithoutCancel(ctx), event); err != nil {
		uc.logger.Warn().Err(err).Str("event", string(event.Type)).Msg("publish pipeline event")
	}
}

func (uc *PipelineUseCase) record(ctx context.Context, doc domain.Document, duration time.Duration) {
	if uc.audit == nil {
		return
	}
	entry := domain.AuditEntry{
		DocumentID:   doc.ID,
		BatchID:      doc.BatchID,
		Filename:     doc.Filename,
		Status:       doc.Status,
		EntityCount:  len(doc.Entities),
		ErrorMessage: doc.ErrorMessage,
		Duration:     duration,
		FinishedAt:   doc.UpdatedAt,
	}
	if err := uc.audit.Record(context.WithoutCancel(ctx), entry); err != nil {
		uc.logger.Warn().Err(err).Str("document_id", doc.ID).Msg("record audit entry")
	}
}

// cleanup removes the staged images of batch whatever the outcome.
func (uc *PipelineUseCase) cleanup(ctx context.Context, batch domain.Batch) {
	cleanupCtx := context.WithoutCancel(ctx)
	for _, doc := range batch.Documents {
		if doc.StagingKey == "" {
			continue
		}
		if err := uc.storage.Delete(cleanupCtx, doc.StagingKey); err != nil {
			uc.logger.Warn().Err(err).Str("staging_key", doc.StagingKey).Msg("delete staged image")
		}
	}
}
