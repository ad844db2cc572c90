package models

import (
	"time"

	"github.com/gofrs/uuid"
	"gorm.io/gorm"
)

// PushKeys are the browser generated credentials used to encrypt a push payload.
type PushKeys struct {
	P256dh string `json:"p256dh" validate:"required"`
	Auth   string `json:"auth" validate:"required"`
}

// PushSubscription is a device registered to receive web push notifications.
// One user can own many subscriptions, one per browser/device.
type PushSubscription struct {
	ID         uuid.UUID `gorm:"type:varchar(36);primaryKey"`
	UserID     string    `gorm:"size:64;index"`
	Endpoint   string    `gorm:"size:768;uniqueIndex"`
	Keys       string    `json:"-"` // PushKeys as JSON, encrypted at rest
	UserAgent  string
	CreatedAt  time.Time
	LastUsedAt time.Time `gorm:"index"`

	// Decrypted keys, only set when loaded through the SubscriptionManager
	PushKeys PushKeys `gorm:"-" json:"-"`
}

// BeforeCreate ensures the model has an ID before saving it
func (subscription *PushSubscription) BeforeCreate(scope *gorm.DB) error {
	if !subscription.ID.IsNil() {
		return nil
	}
	id, err := uuid.NewV4()
	if err != nil {
		return err
	}
	subscription.ID = id
	return nil
}
