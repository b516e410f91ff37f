package models

import (
	"time"

	"github.com/google/uuid"
)

// Conversation is a case that owns a set of evidence images and a message thread.
type Conversation struct {
	ID          uuid.UUID `db:"id"          json:"id"`
	Name        string    `db:"name"        json:"name"`
	Description *string   `db:"description" json:"description,omitempty"`
	CreatedAt   time.Time `db:"created_at"  json:"created_at"`
	UpdatedAt   time.Time `db:"updated_at"  json:"updated_at"`
}

type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
)

// Message is one entry of a conversation thread. Generated hypotheses are stored
// as assistant messages.
type Message struct {
	ID             uuid.UUID   `db:"id"              json:"id"`
	ConversationID uuid.UUID   `db:"conversation_id" json:"conversation_id"`
	Role           MessageRole `db:"role"            json:"role"`
	Content        string      `db:"content"         json:"content"`
	CreatedAt      time.Time   `db:"created_at"      json:"created_at"`
}
