package store

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/casefile/pkg/models"
)

var ErrNotFound = errors.New("resource not found")
var ErrDuplicateKey = errors.New("duplicate key violation")

// Store is the data access interface. Pipeline runs never share a connection:
// each one opens its own Session and releases it when the run ends.
type Store interface {
	Ping(ctx context.Context) error
	Session(ctx context.Context) (Session, error)
}

// Intake records conversations and their uploaded images. Uploads are handled
// outside this service, so analysis code never depends on it; fixtures and
// integration tests seed data through it.
type Intake interface {
	CreateConversation(ctx context.Context, conv *models.Conversation) error
	CreateImage(ctx context.Context, img *models.Image) error
}

// Session is a store handle bound to one connection for the duration of one run.
type Session interface {
	GetConversation(ctx context.Context, id uuid.UUID) (*models.Conversation, error)
	ListImages(ctx context.Context, conversationID uuid.UUID) ([]*models.Image, error)
	SetImageStatus(ctx context.Context, id uuid.UUID, status models.ImageStatus) error

	// SaveDetections and SaveTexts commit their rows before returning.
	SaveDetections(ctx context.Context, imageID uuid.UUID, dets []models.Detection) ([]*models.DetectedObject, error)
	SaveTexts(ctx context.Context, imageID uuid.UUID, texts []models.TextRegion) ([]*models.ExtractedText, error)

	CreateMessage(ctx context.Context, conversationID uuid.UUID, role models.MessageRole, content string) (*models.Message, error)

	Release()
}
