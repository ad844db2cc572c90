package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/m-barthelemy/notifyd/models"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type PreferenceManager struct {
	db *gorm.DB
}

// OptInRates is the share of stored preferences having each channel enabled.
type OptInRates struct {
	Total int64   `json:"total"`
	InApp float64 `json:"inapp"`
	Push  float64 `json:"push"`
	Email float64 `json:"email"`
}

func NewPreferenceManager(db *gorm.DB) *PreferenceManager {
	return &PreferenceManager{db: db}
}

// Get returns the preferences of userID, or the all enabled defaults if the user never set any.
func (m *PreferenceManager) Get(ctx context.Context, userID string) (models.NotificationPreference, error) {
	var pref models.NotificationPreference
	result := m.db.WithContext(ctx).Where("user_id = ?", userID).First(&pref)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return models.DefaultPreference(userID), nil
		}
		return pref, result.Error
	}
	return pref, nil
}

// preferenceColumns maps each channel to its column in notification_preferences.
var preferenceColumns = map[models.Channel]string{
	models.ChannelInApp: "channel_in_app",
	models.ChannelPush:  "channel_push",
	models.ChannelEmail: "channel_email",
}

// Set enables or disables one channel for userID, creating the row with defaults if needed.
// Only the column of channel is written so concurrent changes to other channels are kept.
func (m *PreferenceManager) Set(ctx context.Context, userID string, channel models.Channel, enabled bool) (models.NotificationPreference, error) {
	column, ok := preferenceColumns[channel]
	if !ok {
		return models.NotificationPreference{}, fmt.Errorf("%w: %q", ErrInvalidChannel, channel)
	}
	pref := models.DefaultPreference(userID)
	switch channel {
	case models.ChannelInApp:
		pref.ChannelInApp = enabled
	case models.ChannelPush:
		pref.ChannelPush = enabled
	case models.ChannelEmail:
		pref.ChannelEmail = enabled
	}
	pref.UpdatedAt = time.Now()

	result := m.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{column, "updated_at"}),
	}).Create(&pref)
	if result.Error != nil {
		return pref, result.Error
	}
	log.Infof("PreferenceManager: user %s set %s notifications to %v", userID, channel, enabled)
	return m.Get(ctx, userID)
}

// OptInRates computes the per channel opt-in share over the stored preferences.
// Users without a row are not counted: they are implicitly opted in.
func (m *PreferenceManager) OptInRates(ctx context.Context) (OptInRates, error) {
	var row struct {
		Total int64
		InApp int64
		Push  int64
		Email int64
	}
	result := m.db.WithContext(ctx).Model(&models.NotificationPreference{}).Select(
		"COUNT(*) AS total, " +
			"COALESCE(SUM(CASE WHEN channel_in_app THEN 1 ELSE 0 END), 0) AS in_app, " +
			"COALESCE(SUM(CASE WHEN channel_push THEN 1 ELSE 0 END), 0) AS push, " +
			"COALESCE(SUM(CASE WHEN channel_email THEN 1 ELSE 0 END), 0) AS email",
	).Scan(&row)
	if result.Error != nil {
		return OptInRates{}, result.Error
	}
	rates := OptInRates{Total: row.Total}
	if row.Total > 0 {
		rates.InApp = float64(row.InApp) / float64(row.Total)
		rates.Push = float64(row.Push) / float64(row.Total)
		rates.Email = float64(row.Email) / float64(row.Total)
	}
	return rates, nil
}
