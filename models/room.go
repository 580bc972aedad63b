package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Room is the persisted channel. The set of live connections joined to a
// room is kept elsewhere, in memory, and shares only the ID.
type Room struct {
	ID             string    `gorm:"primaryKey;size:64" json:"id"`
	OrganisationID string    `gorm:"size:64;index" json:"organisation_id,omitempty"`
	Name           string    `gorm:"size:255;not null" json:"name"`
	Description    string    `gorm:"type:text" json:"description,omitempty"`
	CreatedBy      string    `gorm:"size:128;not null" json:"created_by"`
	IsPrivate      bool      `gorm:"not null;default:false" json:"is_private"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// BeforeCreate assigns a room id when the caller did not supply one
func (r *Room) BeforeCreate(tx *gorm.DB) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	return nil
}
