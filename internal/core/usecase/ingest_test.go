package usecase

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kirillkom/scanpipe/internal/core/domain"
)

type processorFake struct {
	mu      sync.Mutex
	batches []domain.Batch
	release chan struct{}
}

func (f *processorFake) Process(ctx context.Context, batch domain.Batch) error {
	f.mu.Lock()
	f.batches = append(f.batches, batch)
	f.mu.Unlock()
	if f.release != nil {
		select {
		case <-f.release:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (f *processorFake) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.batches)
}

func images(names ...string) []domain.Upload {
	out := make([]domain.Upload, 0, len(names))
	for _, n := range names {
		out = append(out, domain.Upload{Filename: n, ContentType: "image/png", Data: []byte("img:" + n)})
	}
	return out
}

func TestSubmitStagesImagesAndRejectsOthers(t *testing.T) {
	store := newStoreFake()
	storage := newStorageFake()
	processor := &processorFake{}
	uc := NewIngestBatchUseCase(context.Background(), store, storage, processor, nil, zerolog.Nop())

	uploads := append(images("a b.png", "c.jpg"), domain.Upload{Filename: "notes.pdf", ContentType: "application/pdf", Data: []byte("%PDF")})
	batch, err := uc.Submit(context.Background(), uploads)
	require.NoError(t, err)

	assert.Equal(t, []string{"notes.pdf"}, batch.Rejected)
	require.Len(t, batch.Documents, 2)
	for i, doc := range batch.Documents {
		assert.Equal(t, i, doc.Position)
		assert.Equal(t, batch.ID, doc.BatchID)
		assert.Equal(t, domain.StatusQueued, doc.Status)
		assert.Empty(t, doc.ExtractedText)
		assert.Empty(t, doc.Entities)
		assert.Contains(t, storage.files, doc.StagingKey)
	}
	assert.Equal(t, "a b.png", batch.Documents[0].Filename)
	assert.Contains(t, batch.Documents[0].StagingKey, "a_b.png")

	uc.Wait()
	assert.Equal(t, 1, processor.count())
	_, running := uc.Running()
	assert.False(t, running)

	docs, _ := store.List(context.Background())
	assert.Len(t, docs, 2)
}

func TestSubmitRequiresAtLeastOneImage(t *testing.T) {
	uc := NewIngestBatchUseCase(context.Background(), newStoreFake(), newStorageFake(), &processorFake{}, nil, zerolog.Nop())

	_, err := uc.Submit(context.Background(), nil)
	assert.True(t, domain.IsKind(err, domain.ErrInvalidInput))

	_, err = uc.Submit(context.Background(), []domain.Upload{{Filename: "a.txt", ContentType: "text/plain"}})
	assert.True(t, domain.IsKind(err, domain.ErrInvalidInput))
}

func TestSubmitRejectedWhileBatchRuns(t *testing.T) {
	processor := &processorFake{release: make(chan struct{})}
	uc := NewIngestBatchUseCase(context.Background(), newStoreFake(), newStorageFake(), processor, nil, zerolog.Nop())

	_, err := uc.Submit(context.Background(), images("a.png"))
	require.NoError(t, err)

	_, err = uc.Submit(context.Background(), images("b.png"))
	assert.True(t, domain.IsKind(err, domain.ErrBatchInProgress))

	_, err = uc.Clear(context.Background())
	assert.True(t, domain.IsKind(err, domain.ErrBatchInProgress))

	close(processor.release)
	uc.Wait()

	_, err = uc.Submit(context.Background(), images("b.png"))
	require.NoError(t, err)
	uc.Wait()

	n, err := uc.Clear(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestSubmitInlineBatchStopsOnShutdown(t *testing.T) {
	baseCtx, cancel := context.WithCancel(context.Background())
	processor := &processorFake{release: make(chan struct{})}
	uc := NewIngestBatchUseCase(baseCtx, newStoreFake(), newStorageFake(), processor, nil, zerolog.Nop())

	_, err := uc.Submit(context.Background(), images("a.png"))
	require.NoError(t, err)

	cancel()
	done := make(chan struct{})
	go func() {
		uc.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("inline batch did not stop after shutdown")
	}
}

func TestSubmitQueueModePublishesAndWaitsForRelease(t *testing.T) {
	queue := &queueFake{}
	uc := NewIngestBatchUseCase(context.Background(), newStoreFake(), newStorageFake(), nil, queue, zerolog.Nop())

	batch, err := uc.Submit(context.Background(), images("a.png", "b.png"))
	require.NoError(t, err)
	require.Len(t, queue.batches, 1)
	assert.Equal(t, batch.ID, queue.batches[0].ID)

	running, ok := uc.Running()
	assert.True(t, ok)
	assert.Equal(t, batch.ID, running)

	uc.Release("other-batch")
	_, ok = uc.Running()
	assert.True(t, ok)

	uc.Release(batch.ID)
	_, ok = uc.Running()
	assert.False(t, ok)
}

func TestSubmitQueuePublishFailureFailsDocuments(t *testing.T) {
	store := newStoreFake()
	storage := newStorageFake()
	queue := &queueFake{err: domain.WrapError(domain.ErrTemporary, "nats.publish_batch", errors.New("no servers"))}
	uc := NewIngestBatchUseCase(context.Background(), store, storage, nil, queue, zerolog.Nop())

	_, err := uc.Submit(context.Background(), images("a.png"))
	require.Error(t, err)
	assert.True(t, domain.IsKind(err, domain.ErrTemporary))

	docs, _ := store.List(context.Background())
	require.Len(t, docs, 1)
	assert.Equal(t, domain.StatusError, docs[0].Status)
	assert.Equal(t, "dispatch failed", docs[0].ErrorMessage)
	assert.Empty(t, storage.files)

	_, running := uc.Running()
	assert.False(t, running)
}

func TestSubmitQueueWithoutWorkerFailsDocuments(t *testing.T) {
	store := newStoreFake()
	storage := newStorageFake()
	queue := &queueFake{err: domain.WrapError(domain.ErrTemporary, "nats.dispatch_batch", errors.New("nats: no responders available for request"))}
	uc := NewIngestBatchUseCase(context.Background(), store, storage, nil, queue, zerolog.Nop(), WithWorkerLease(time.Minute, nil))

	_, err := uc.Submit(context.Background(), images("a.png", "b.png"))
	require.Error(t, err)
	assert.True(t, domain.IsKind(err, domain.ErrTemporary))

	docs, _ := store.List(context.Background())
	require.Len(t, docs, 2)
	for _, doc := range docs {
		assert.Equal(t, domain.StatusError, doc.Status)
		assert.Equal(t, "dispatch failed", doc.ErrorMessage)
	}

	queue.err = nil
	_, err = uc.Submit(context.Background(), images("c.png"))
	require.NoError(t, err)
}

func TestWorkerLeaseExpiryFailsPendingDocuments(t *testing.T) {
	store := newStoreFake()
	storage := newStorageFake()
	mirror := &progressMirrorFake{}
	uc := NewIngestBatchUseCase(context.Background(), store, storage, nil, &queueFake{}, zerolog.Nop(), WithWorkerLease(50*time.Millisecond, mirror))

	batch, err := uc.Submit(context.Background(), images("a.png", "b.png"))
	require.NoError(t, err)

	done := batch.Documents[0]
	done.Complete("Name: Ravi", nil, time.Now())
	require.NoError(t, store.Save(context.Background(), done))

	require.Eventually(t, func() bool {
		_, running := uc.Running()
		return !running
	}, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, domain.StatusCompleted, store.get(batch.Documents[0].ID).Status)
	abandoned := store.get(batch.Documents[1].ID)
	assert.Equal(t, domain.StatusError, abandoned.Status)
	assert.Equal(t, "worker unavailable", abandoned.ErrorMessage)
	assert.ElementsMatch(t, []string{batch.Documents[1].StagingKey}, storage.deletedKeys())

	require.Len(t, mirror.applied, 1)
	assert.Equal(t, domain.Progress{BatchID: batch.ID, Total: 2, Current: 2, Percent: 100}, mirror.applied[0])

	assert.False(t, uc.Renew(batch.ID))
	_, err = uc.Submit(context.Background(), images("c.png"))
	require.NoError(t, err)
}

func TestWorkerLeaseRenewPostponesExpiry(t *testing.T) {
	store := newStoreFake()
	uc := NewIngestBatchUseCase(context.Background(), store, newStorageFake(), nil, &queueFake{}, zerolog.Nop(), WithWorkerLease(250*time.Millisecond, nil))

	batch, err := uc.Submit(context.Background(), images("a.png"))
	require.NoError(t, err)

	for range 6 {
		time.Sleep(60 * time.Millisecond)
		require.True(t, uc.Renew(batch.ID))
	}
	_, running := uc.Running()
	assert.True(t, running)
	assert.Equal(t, domain.StatusQueued, store.get(batch.Documents[0].ID).Status)

	assert.False(t, uc.Renew("other-batch"))
	assert.False(t, uc.Renew(""))
}

func TestWorkerLeaseStopsOnRelease(t *testing.T) {
	store := newStoreFake()
	uc := NewIngestBatchUseCase(context.Background(), store, newStorageFake(), nil, &queueFake{}, zerolog.Nop(), WithWorkerLease(30*time.Millisecond, nil))

	batch, err := uc.Submit(context.Background(), images("a.png"))
	require.NoError(t, err)
	uc.Release(batch.ID)

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, domain.StatusQueued, store.get(batch.Documents[0].ID).Status)
	assert.False(t, uc.Renew(batch.ID))
}

func TestSubmitStagingFailureLeavesNoDocuments(t *testing.T) {
	store := newStoreFake()
	storage := newStorageFake()
	storage.saveErr = errors.New("disk full")
	uc := NewIngestBatchUseCase(context.Background(), store, storage, &processorFake{}, nil, zerolog.Nop())

	_, err := uc.Submit(context.Background(), images("a.png"))
	require.Error(t, err)

	docs, _ := store.List(context.Background())
	assert.Empty(t, docs)
}

func TestSanitizeFilename(t *testing.T) {
	assert.Equal(t, "claim_form_1.png", sanitizeFilename("claim form#1.png"))
	assert.Equal(t, "passwd", sanitizeFilename("../../etc/passwd"))
	assert.Equal(t, "hidden.png", sanitizeFilename(".hidden.png"))
	assert.Equal(t, "image.bin", sanitizeFilename(""))
}
