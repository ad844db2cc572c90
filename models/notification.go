package models

import (
	"time"

	"github.com/gofrs/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Notification is the in-app record of a dispatched event. It is the delivery of
// record: it exists even when every other channel failed.
type Notification struct {
	ID        uuid.UUID      `gorm:"type:varchar(36);primaryKey" json:"id"`
	EventID   *string        `gorm:"size:128;uniqueIndex:idx_notification_event_user" json:"event_id,omitempty"`
	UserID    string         `gorm:"size:64;index;uniqueIndex:idx_notification_event_user" json:"user_id"`
	ProfileID string         `gorm:"size:64" json:"profile_id,omitempty"`
	Type      EventType      `gorm:"size:32" json:"type"`
	Title     string         `json:"title"`
	Body      string         `json:"body"`
	ActionURL string         `json:"action_url,omitempty"`
	Metadata  datatypes.JSON `json:"metadata,omitempty"`
	ReadAt    *time.Time     `gorm:"index" json:"read_at"`
	CreatedAt time.Time      `gorm:"index" json:"created_at"`
}

// BeforeCreate ensures the model has an ID before saving it
func (notification *Notification) BeforeCreate(scope *gorm.DB) error {
	if !notification.ID.IsNil() {
		return nil
	}
	id, err := uuid.NewV4()
	if err != nil {
		return err
	}
	notification.ID = id
	return nil
}
