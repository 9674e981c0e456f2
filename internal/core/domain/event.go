package domain

import "time"

// Progress is the batch-wide percentage observed by readers.
type Progress struct {
	BatchID   string    `json:"batch_id,omitempty"`
	Percent   int       `json:"percent"`
	Total     int       `json:"total"`
	Current   int       `json:"current"`
	Running   bool      `json:"running"`
	UpdatedAt time.Time `json:"updated_at"`
}

type EventType string

const (
	EventDocumentUpdated EventType = "document.updated"
	EventBatchProgress   EventType = "batch.progress"
	EventBatchCompleted  EventType = "batch.completed"
)

// PipelineEvent is published on every status transition and progress step.
type PipelineEvent struct {
	Type       EventType `json:"type"`
	BatchID    string    `json:"batch_id"`
	Document   *Document `json:"document,omitempty"`
	Progress   *Progress `json:"progress,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// AuditEntry records one terminal document outcome.
type AuditEntry struct {
	DocumentID   string
	BatchID      string
	Filename     string
	Status       DocumentStatus
	EntityCount  int
	ErrorMessage string
	Duration     time.Duration
	FinishedAt   time.Time
}
