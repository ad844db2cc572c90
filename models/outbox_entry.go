package models

import (
	"time"

	"github.com/gofrs/uuid"
	"gorm.io/gorm"
)

// OutboxStatus is the delivery state of an OutboxEntry.
type OutboxStatus string

const (
	OutboxPending OutboxStatus = "pending"
	OutboxSent    OutboxStatus = "sent"
	OutboxFailed  OutboxStatus = "failed"
)

// Terminal reports whether no further transition is allowed from s.
func (s OutboxStatus) Terminal() bool {
	return s == OutboxSent || s == OutboxFailed
}

// OutboxEntry tracks the delivery of one notification on one external channel.
// Status goes pending -> sent or pending -> failed, never back.
type OutboxEntry struct {
	ID             uuid.UUID    `gorm:"type:varchar(36);primaryKey" json:"id"`
	NotificationID uuid.UUID    `gorm:"type:varchar(36);uniqueIndex:idx_outbox_notification_channel" json:"notification_id"`
	Channel        Channel      `gorm:"size:16;uniqueIndex:idx_outbox_notification_channel;index:idx_outbox_status_channel,priority:2" json:"channel"`
	Status         OutboxStatus `gorm:"size:16;index:idx_outbox_status_channel,priority:1" json:"status"`
	Attempts       int          `json:"attempts"`
	LastError      string       `json:"last_error,omitempty"`
	CreatedAt      time.Time    `gorm:"index" json:"created_at"`
	UpdatedAt      time.Time    `json:"updated_at"`
}

// BeforeCreate ensures the model has an ID before saving it
func (entry *OutboxEntry) BeforeCreate(scope *gorm.DB) error {
	if !entry.ID.IsNil() {
		return nil
	}
	id, err := uuid.NewV4()
	if err != nil {
		return err
	}
	entry.ID = id
	return nil
}
