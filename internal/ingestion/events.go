package ingestion

import "time"

// Audit event types.
const (
	EventDatasetIngested = "dataset_ingested"
	EventIngestRejected  = "ingest_rejected"
	EventIngestFailed    = "ingest_failed"
)

// NotificationType is the Kafka event_type header of IngestionEvent.
const NotificationType = "dataset.ingested"

// IngestionEvent is emitted when a dataset version is accepted and stored.
type IngestionEvent struct {
	ID        string    `json:"id"`
	Dataset   string    `json:"dataset"`
	Version   int       `json:"version"`
	Path      string    `json:"path"`
	Checksum  string    `json:"checksum"`
	SizeBytes int64     `json:"size_bytes"`
	Filename  string    `json:"filename"`
	UserID    string    `json:"user_id"`
	Segment   string    `json:"segment"`
	CreatedAt time.Time `json:"created_at"`
}

func (e IngestionEvent) auditDetails() map[string]any {
	return map[string]any{
		"ingestion_id": e.ID,
		"dataset":      e.Dataset,
		"version":      e.Version,
		"path":         e.Path,
		"checksum":     e.Checksum,
		"size":         e.SizeBytes,
	}
}
