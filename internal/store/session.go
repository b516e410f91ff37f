package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kiranshivaraju/casefile/pkg/models"
)

type pgSession struct {
	conn *pgxpool.Conn
}

func (s *pgSession) Release() {
	s.conn.Release()
}

func (s *pgSession) GetConversation(ctx context.Context, id uuid.UUID) (*models.Conversation, error) {
	var c models.Conversation
	err := s.conn.QueryRow(ctx,
		`SELECT id, name, description, created_at, updated_at FROM conversations WHERE id = $1`, id,
	).Scan(&c.ID, &c.Name, &c.Description, &c.CreatedAt, &c.UpdatedAt)
	if isNoRows(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get conversation: %w", err)
	}
	return &c, nil
}

func (s *pgSession) ListImages(ctx context.Context, conversationID uuid.UUID) ([]*models.Image, error) {
	rows, err := s.conn.Query(ctx,
		`SELECT id, conversation_id, filename, storage_url, content_type, file_size, status, created_at
		 FROM images WHERE conversation_id = $1 ORDER BY created_at, id`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("list images: %w", err)
	}
	defer rows.Close()

	images := []*models.Image{}
	for rows.Next() {
		var img models.Image
		if err := rows.Scan(&img.ID, &img.ConversationID, &img.Filename, &img.StorageKey,
			&img.ContentType, &img.FileSize, &img.Status, &img.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan image: %w", err)
		}
		images = append(images, &img)
	}
	return images, rows.Err()
}

func (s *pgSession) SetImageStatus(ctx context.Context, id uuid.UUID, status models.ImageStatus) error {
	tag, err := s.conn.Exec(ctx, `UPDATE images SET status = $2 WHERE id = $1`, id, status)
	if err != nil {
		return fmt.Errorf("set image status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *pgSession) SaveDetections(ctx context.Context, imageID uuid.UUID, dets []models.Detection) ([]*models.DetectedObject, error) {
	saved := make([]*models.DetectedObject, 0, len(dets))
	if len(dets) == 0 {
		return saved, nil
	}

	now := time.Now().UTC()
	batch := &pgx.Batch{}
	for _, d := range dets {
		obj := &models.DetectedObject{
			ID:         uuid.New(),
			ImageID:    imageID,
			Label:      d.Label,
			Confidence: d.Confidence,
			BBox:       d.BBox,
			CreatedAt:  now,
		}
		batch.Queue(
			`INSERT INTO detected_objects (id, image_id, label, confidence, bbox_x, bbox_y, bbox_width, bbox_height, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			obj.ID, obj.ImageID, obj.Label, obj.Confidence,
			obj.BBox.X, obj.BBox.Y, obj.BBox.Width, obj.BBox.Height, obj.CreatedAt)
		saved = append(saved, obj)
	}

	if err := s.sendBatch(ctx, batch); err != nil {
		return nil, fmt.Errorf("save detections: %w", err)
	}
	return saved, nil
}

func (s *pgSession) SaveTexts(ctx context.Context, imageID uuid.UUID, texts []models.TextRegion) ([]*models.ExtractedText, error) {
	saved := make([]*models.ExtractedText, 0, len(texts))
	if len(texts) == 0 {
		return saved, nil
	}

	now := time.Now().UTC()
	batch := &pgx.Batch{}
	for _, t := range texts {
		row := &models.ExtractedText{
			ID:         uuid.New(),
			ImageID:    imageID,
			Text:       t.Text,
			Confidence: t.Confidence,
			PositionX:  t.PositionX,
			PositionY:  t.PositionY,
			CreatedAt:  now,
		}
		batch.Queue(
			`INSERT INTO extracted_texts (id, image_id, text, confidence, position_x, position_y, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			row.ID, row.ImageID, row.Text, row.Confidence, row.PositionX, row.PositionY, row.CreatedAt)
		saved = append(saved, row)
	}

	if err := s.sendBatch(ctx, batch); err != nil {
		return nil, fmt.Errorf("save texts: %w", err)
	}
	return saved, nil
}

// sendBatch runs the batch in one transaction so an image's rows land together.
func (s *pgSession) sendBatch(ctx context.Context, batch *pgx.Batch) error {
	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *pgSession) CreateMessage(ctx context.Context, conversationID uuid.UUID, role models.MessageRole, content string) (*models.Message, error) {
	msg := &models.Message{
		ID:             uuid.New(),
		ConversationID: conversationID,
		Role:           role,
		Content:        content,
		CreatedAt:      time.Now().UTC(),
	}

	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("create message: begin: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx,
		`INSERT INTO messages (id, conversation_id, role, content, created_at) VALUES ($1, $2, $3, $4, $5)`,
		msg.ID, msg.ConversationID, msg.Role, msg.Content, msg.CreatedAt); err != nil {
		return nil, fmt.Errorf("create message: %w", err)
	}
	if _, err := tx.Exec(ctx,
		`UPDATE conversations SET updated_at = $2 WHERE id = $1`, conversationID, msg.CreatedAt); err != nil {
		return nil, fmt.Errorf("touch conversation: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("create message: commit: %w", err)
	}
	return msg, nil
}
