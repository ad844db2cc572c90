package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/m-barthelemy/notifyd/models"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ProfileManager reads the marketplace profiles notifications are addressed to.
type ProfileManager struct {
	db *gorm.DB
}

func NewProfileManager(db *gorm.DB) *ProfileManager {
	return &ProfileManager{db: db}
}

// Resolve finds the recipient profile, by profile ID when given, by user ID otherwise.
func (m *ProfileManager) Resolve(ctx context.Context, userID string, profileID string) (*models.Profile, error) {
	var profile models.Profile
	query := m.db.WithContext(ctx)
	switch {
	case profileID != "":
		query = query.Where("id = ?", profileID)
	case userID != "":
		query = query.Where("user_id = ?", userID)
	default:
		return nil, fmt.Errorf("%w: neither user nor profile given", ErrRecipientNotFound)
	}
	result := query.First(&profile)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: user %q profile %q", ErrRecipientNotFound, userID, profileID)
		}
		return nil, result.Error
	}
	if userID != "" && profile.UserID != userID {
		return nil, fmt.Errorf("%w: profile %s does not belong to user %s", ErrRecipientNotFound, profileID, userID)
	}
	return &profile, nil
}

// ListByRole returns every profile of role, or all profiles when role is empty.
func (m *ProfileManager) ListByRole(ctx context.Context, role models.Role) ([]models.Profile, error) {
	var profiles []models.Profile
	query := m.db.WithContext(ctx).Order("created_at")
	if role != "" {
		query = query.Where("role = ?", role)
	}
	err := query.Find(&profiles).Error
	return profiles, err
}

// Upsert creates or refreshes a profile mirrored from the marketplace database.
func (m *ProfileManager) Upsert(ctx context.Context, profile *models.Profile) error {
	result := m.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"role", "email", "display_name", "updated_at"}),
	}).Create(profile)
	if result.Error != nil {
		return result.Error
	}
	log.Debugf("ProfileManager: synced profile of user %s", profile.UserID)
	return nil
}
