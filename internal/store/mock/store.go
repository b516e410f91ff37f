// Package mock provides an in-memory store.Store for tests.
package mock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/casefile/internal/store"
	"github.com/kiranshivaraju/casefile/pkg/models"
)

// MockStore keeps everything in maps shared by all of its sessions. Set the
// Err fields to make the matching call fail.
type MockStore struct {
	mu         sync.Mutex
	convs      map[uuid.UUID]*models.Conversation
	images     map[uuid.UUID][]*models.Image
	statuses   map[uuid.UUID][]models.ImageStatus
	detections map[uuid.UUID][]models.Detection
	texts      map[uuid.UUID][]models.TextRegion
	messages   []*models.Message
	opened     int
	released   int

	PingErr           error
	SessionErr        error
	SaveDetectionsErr error
	// ImageStatusErr, when set, decides whether writing status to an image fails.
	ImageStatusErr func(id uuid.UUID, status models.ImageStatus) error
}

var (
	_ store.Store  = (*MockStore)(nil)
	_ store.Intake = (*MockStore)(nil)
)

func NewMockStore() *MockStore {
	return &MockStore{
		convs:      map[uuid.UUID]*models.Conversation{},
		images:     map[uuid.UUID][]*models.Image{},
		statuses:   map[uuid.UUID][]models.ImageStatus{},
		detections: map[uuid.UUID][]models.Detection{},
		texts:      map[uuid.UUID][]models.TextRegion{},
	}
}

// Seed creates a conversation with n pending images keyed "cases/<i>.jpg".
func (m *MockStore) Seed(n int) (uuid.UUID, []*models.Image) {
	conv := &models.Conversation{ID: uuid.New(), Name: "case"}
	_ = m.CreateConversation(context.Background(), conv)

	imgs := make([]*models.Image, 0, n)
	for i := range n {
		img := &models.Image{
			ID:             uuid.New(),
			ConversationID: conv.ID,
			Filename:       fmt.Sprintf("%d.jpg", i+1),
			StorageKey:     fmt.Sprintf("cases/%d.jpg", i+1),
		}
		_ = m.CreateImage(context.Background(), img)
		imgs = append(imgs, img)
	}
	return conv.ID, imgs
}

// StatusHistory returns every status written for an image, in order.
func (m *MockStore) StatusHistory(id uuid.UUID) []models.ImageStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.ImageStatus(nil), m.statuses[id]...)
}

func (m *MockStore) Detections(imageID uuid.UUID) []models.Detection {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.Detection(nil), m.detections[imageID]...)
}

func (m *MockStore) Messages() []*models.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*models.Message(nil), m.messages...)
}

// Sessions reports how many sessions were opened and released.
func (m *MockStore) Sessions() (opened, released int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.opened, m.released
}

func (m *MockStore) Ping(context.Context) error { return m.PingErr }

func (m *MockStore) Session(context.Context) (store.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SessionErr != nil {
		return nil, m.SessionErr
	}
	m.opened++
	return &session{m: m}, nil
}

func (m *MockStore) CreateConversation(_ context.Context, conv *models.Conversation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.convs[conv.ID]; ok {
		return store.ErrDuplicateKey
	}
	now := time.Now().UTC()
	conv.CreatedAt, conv.UpdatedAt = now, now
	c := *conv
	m.convs[conv.ID] = &c
	return nil
}

func (m *MockStore) CreateImage(_ context.Context, img *models.Image) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.convs[img.ConversationID]; !ok {
		return store.ErrNotFound
	}
	if img.Status == "" {
		img.Status = models.ImageStatusPending
	}
	img.CreatedAt = time.Now().UTC()
	i := *img
	m.images[img.ConversationID] = append(m.images[img.ConversationID], &i)
	return nil
}

type session struct {
	m *MockStore
}

func (s *session) GetConversation(_ context.Context, id uuid.UUID) (*models.Conversation, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	conv, ok := s.m.convs[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	c := *conv
	return &c, nil
}

func (s *session) ListImages(_ context.Context, conversationID uuid.UUID) ([]*models.Image, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	out := make([]*models.Image, 0, len(s.m.images[conversationID]))
	for _, img := range s.m.images[conversationID] {
		i := *img
		out = append(out, &i)
	}
	return out, nil
}

func (s *session) SetImageStatus(_ context.Context, id uuid.UUID, status models.ImageStatus) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	if s.m.ImageStatusErr != nil {
		if err := s.m.ImageStatusErr(id, status); err != nil {
			return err
		}
	}
	s.m.statuses[id] = append(s.m.statuses[id], status)
	return nil
}

func (s *session) SaveDetections(_ context.Context, imageID uuid.UUID, dets []models.Detection) ([]*models.DetectedObject, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	if s.m.SaveDetectionsErr != nil {
		return nil, s.m.SaveDetectionsErr
	}
	s.m.detections[imageID] = append(s.m.detections[imageID], dets...)
	now := time.Now().UTC()
	out := make([]*models.DetectedObject, 0, len(dets))
	for _, d := range dets {
		out = append(out, &models.DetectedObject{
			ID: uuid.New(), ImageID: imageID, Label: d.Label, Confidence: d.Confidence, BBox: d.BBox, CreatedAt: now,
		})
	}
	return out, nil
}

func (s *session) SaveTexts(_ context.Context, imageID uuid.UUID, texts []models.TextRegion) ([]*models.ExtractedText, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	s.m.texts[imageID] = append(s.m.texts[imageID], texts...)
	now := time.Now().UTC()
	out := make([]*models.ExtractedText, 0, len(texts))
	for _, t := range texts {
		out = append(out, &models.ExtractedText{
			ID: uuid.New(), ImageID: imageID, Text: t.Text, Confidence: t.Confidence,
			PositionX: t.PositionX, PositionY: t.PositionY, CreatedAt: now,
		})
	}
	return out, nil
}

func (s *session) CreateMessage(_ context.Context, conversationID uuid.UUID, role models.MessageRole, content string) (*models.Message, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	if _, ok := s.m.convs[conversationID]; !ok {
		return nil, store.ErrNotFound
	}
	msg := &models.Message{ID: uuid.New(), ConversationID: conversationID, Role: role, Content: content, CreatedAt: time.Now().UTC()}
	s.m.messages = append(s.m.messages, msg)
	return msg, nil
}

func (s *session) Release() {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	s.m.released++
}
