package usecase

import (
	"context"
	"errors"
	"fmt"

	"github.com/kirillkom/scanpipe/internal/core/domain"
	"github.com/kirillkom/scanpipe/internal/core/ports"
)

// EventMirrorUseCase applies events published by a worker to the local
// document set and progress, so queue mode reads like inline mode.
type EventMirrorUseCase struct {
	store    ports.DocumentStore
	progress ports.ProgressMirror
	lease    ports.BatchLease
}

// NewEventMirrorUseCase mirrors every event when lease is nil. Otherwise
// each event renews the lease and events of a batch no longer in flight
// are dropped.
func NewEventMirrorUseCase(store ports.DocumentStore, progress ports.ProgressMirror, lease ports.BatchLease) *EventMirrorUseCase {
	return &EventMirrorUseCase{store: store, progress: progress, lease: lease}
}

func (uc *EventMirrorUseCase) Handle(ctx context.Context, event domain.PipelineEvent) error {
	switch event.Type {
	case domain.EventDocumentUpdated, domain.EventBatchProgress, domain.EventBatchCompleted:
	default:
		return fmt.Errorf("unknown pipeline event %q", event.Type)
	}
	if uc.lease != nil && !uc.lease.Renew(event.BatchID) {
		return nil
	}

	switch event.Type {
	case domain.EventDocumentUpdated:
		if event.Document == nil {
			return errors.New("document event without document")
		}
		if err := uc.store.Save(ctx, *event.Document); err != nil {
			return fmt.Errorf("mirror document %s: %w", event.Document.ID, err)
		}
	case domain.EventBatchProgress:
		if event.Progress != nil {
			uc.progress.Apply(*event.Progress)
		}
	case domain.EventBatchCompleted:
		if event.Progress != nil {
			uc.progress.Apply(*event.Progress)
		}
		if uc.lease != nil {
			uc.lease.Release(event.BatchID)
		}
	}
	return nil
}
