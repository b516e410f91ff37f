package models

import (
	"time"

	"github.com/google/uuid"
)

type ImageStatus string

const (
	ImageStatusPending    ImageStatus = "pending"
	ImageStatusProcessing ImageStatus = "processing"
	ImageStatusCompleted  ImageStatus = "completed"
	ImageStatusFailed     ImageStatus = "failed"
)

// Image is an uploaded evidence photo. StorageKey is the object-storage key (or an
// already fetchable URL) the pipeline resolves before calling detection and OCR.
type Image struct {
	ID             uuid.UUID   `db:"id"              json:"id"`
	ConversationID uuid.UUID   `db:"conversation_id" json:"conversation_id"`
	Filename       string      `db:"filename"        json:"filename"`
	StorageKey     string      `db:"storage_url"     json:"storage_url"`
	ContentType    *string     `db:"content_type"    json:"content_type,omitempty"`
	FileSize       *int64      `db:"file_size"       json:"file_size,omitempty"`
	Status         ImageStatus `db:"status"          json:"status"`
	CreatedAt      time.Time   `db:"created_at"      json:"created_at"`
}
