package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Message is one chat utterance. It is never mutated once persisted.
type Message struct {
	ID              string    `gorm:"primaryKey;size:64" json:"id"`
	RoomID          string    `gorm:"size:64;not null;index:idx_messages_room_id" json:"room_id"`
	SenderID        string    `gorm:"size:128;not null" json:"sender_id"`
	Text            string    `gorm:"type:text;not null" json:"text"`
	ParentMessageID string    `gorm:"size:64" json:"parent_message_id,omitempty"`
	MediaURL        string    `gorm:"size:2048" json:"media_url,omitempty"`
	MediaType       string    `gorm:"size:128" json:"media_type,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

// BeforeCreate assigns the store-side identifier and timestamp.
// UUIDv7 keeps ids sortable by creation time.
func (m *Message) BeforeCreate(tx *gorm.DB) error {
	if m.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return err
		}
		m.ID = id.String()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	return nil
}

const (
	DefaultPageLimit = 50
	MaxPageLimit     = 200
)

// Page selects a window of a room's history, newest first, ending
// strictly before the message id Before.
type Page struct {
	Limit  int    `form:"limit" json:"limit"`
	Before string `form:"before" json:"before,omitempty"`
}

// Normalize clamps the limit into [1, MaxPageLimit].
func (p Page) Normalize() Page {
	if p.Limit <= 0 {
		p.Limit = DefaultPageLimit
	}
	if p.Limit > MaxPageLimit {
		p.Limit = MaxPageLimit
	}
	return p
}
