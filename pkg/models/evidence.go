package models

import (
	"time"

	"github.com/google/uuid"
)

// BoundingBox is a detection rectangle in pixel coordinates.
type BoundingBox struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Detection is one labeled box returned by the object-detection service.
type Detection struct {
	Label      string      `json:"label"`
	Confidence float64     `json:"confidence"`
	BBox       BoundingBox `json:"bbox"`
}

// TextRegion is one text fragment returned by the OCR service.
type TextRegion struct {
	Text       string   `json:"text"`
	Confidence *float64 `json:"confidence"`
	PositionX  *float64 `json:"position_x"`
	PositionY  *float64 `json:"position_y"`
}

// DetectedObject is a persisted Detection. Rows are append-only.
type DetectedObject struct {
	ID         uuid.UUID   `db:"id"         json:"id"`
	ImageID    uuid.UUID   `db:"image_id"   json:"image_id"`
	Label      string      `db:"label"      json:"label"`
	Confidence float64     `db:"confidence" json:"confidence"`
	BBox       BoundingBox `json:"bbox"`
	CreatedAt  time.Time   `db:"created_at" json:"created_at"`
}

// ExtractedText is a persisted TextRegion. Rows are append-only.
type ExtractedText struct {
	ID         uuid.UUID `db:"id"         json:"id"`
	ImageID    uuid.UUID `db:"image_id"   json:"image_id"`
	Text       string    `db:"text"       json:"text"`
	Confidence *float64  `db:"confidence" json:"confidence"`
	PositionX  *float64  `db:"position_x" json:"position_x"`
	PositionY  *float64  `db:"position_y" json:"position_y"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}
