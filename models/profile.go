package models

import (
	"time"

	"github.com/gofrs/uuid"
	"gorm.io/gorm"
)

// Role is the marketplace portal a profile belongs to.
type Role string

const (
	RoleHomeowner Role = "homeowner"
	RoleProvider  Role = "provider"
	RoleAdmin     Role = "admin"
	RolePartner   Role = "partner"
)

// Valid reports whether r is one of the known portal roles.
func (r Role) Valid() bool {
	switch r {
	case RoleHomeowner, RoleProvider, RoleAdmin, RolePartner:
		return true
	}
	return false
}

// Profile is a marketplace account able to receive notifications.
// Rows are owned by the marketplace database, this service only reads them.
type Profile struct {
	ID          uuid.UUID `gorm:"type:varchar(36);primaryKey"`
	UserID      string    `gorm:"size:64;uniqueIndex"`
	Role        Role      `gorm:"size:16;index"`
	Email       string
	DisplayName string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// BeforeCreate ensures the model has an ID before saving it
func (profile *Profile) BeforeCreate(scope *gorm.DB) error {
	if !profile.ID.IsNil() {
		return nil
	}
	id, err := uuid.NewV4()
	if err != nil {
		return err
	}
	profile.ID = id
	return nil
}
