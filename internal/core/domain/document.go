package domain

import "time"

type DocumentStatus string

const (
	StatusQueued     DocumentStatus = "queued"
	StatusProcessing DocumentStatus = "processing"
	StatusCompleted  DocumentStatus = "completed"
	StatusError      DocumentStatus = "error"
)

// Terminal reports whether no further automatic transition happens from s.
func (s DocumentStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusError
}

type EntityType string

const (
	EntityPerson      EntityType = "PERSON"
	EntityLocation    EntityType = "LOCATION"
	EntityState       EntityType = "STATE"
	EntityArea        EntityType = "AREA"
	EntityCoordinates EntityType = "COORDINATES"
)

type Entity struct {
	Type       EntityType `json:"type"`
	Value      string     `json:"value"`
	Confidence float64    `json:"confidence"`
}

type Document struct {
	ID            string         `json:"id"`
	BatchID       string         `json:"batch_id"`
	Position      int            `json:"position"`
	Filename      string         `json:"filename"`
	ContentType   string         `json:"content_type"`
	SizeBytes     int64          `json:"size_bytes"`
	StagingKey    string         `json:"staging_key,omitempty"`
	Status        DocumentStatus `json:"status"`
	ExtractedText string         `json:"extracted_text"`
	Entities      []Entity       `json:"entities"`
	ErrorMessage  string         `json:"error_message,omitempty"`
	SubmittedAt   time.Time      `json:"submitted_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// Clone returns a deep copy safe to hand to readers.
func (d Document) Clone() Document {
	out := d
	if d.Entities != nil {
		out.Entities = append([]Entity(nil), d.Entities...)
	}
	return out
}

// Queued resets d into the initial state of a fresh submission.
func (d *Document) Queued(now time.Time) {
	d.Status = StatusQueued
	d.ExtractedText = ""
	d.Entities = []Entity{}
	d.ErrorMessage = ""
	d.UpdatedAt = now
}

func (d *Document) MarkProcessing(now time.Time) {
	d.Status = StatusProcessing
	d.UpdatedAt = now
}

// Complete stores the recognized text and wholesale replaces the entities.
func (d *Document) Complete(text string, entities []Entity, now time.Time) {
	if entities == nil {
		entities = []Entity{}
	}
	d.Status = StatusCompleted
	d.ExtractedText = text
	d.Entities = entities
	d.ErrorMessage = ""
	d.UpdatedAt = now
}

func (d *Document) Fail(message string, now time.Time) {
	d.Status = StatusError
	d.ExtractedText = ""
	d.Entities = []Entity{}
	d.ErrorMessage = message
	d.UpdatedAt = now
}

// Batch is an ordered set of documents submitted together.
type Batch struct {
	ID          string     `json:"id"`
	Documents   []Document `json:"documents"`
	Rejected    []string   `json:"rejected,omitempty"`
	SubmittedAt time.Time  `json:"submitted_at"`
}

// Upload is one raw file offered for submission.
type Upload struct {
	Filename    string
	ContentType string
	Data        []byte
}
