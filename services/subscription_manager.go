package services

import (
	"context"
	"time"

	"github.com/gofrs/uuid"
	"github.com/m-barthelemy/notifyd/models"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SubscriptionManager is the push subscription registry.
type SubscriptionManager struct {
	db *gorm.DB
	dp *DataProtector
}

func NewSubscriptionManager(db *gorm.DB, config *models.Config) *SubscriptionManager {
	return &SubscriptionManager{db: db, dp: NewDataProtector(config)}
}

// Register stores a device push subscription. The endpoint identifies the device:
// registering it again updates its keys and owner instead of adding a row.
func (m *SubscriptionManager) Register(ctx context.Context, userID string, endpoint string, keys models.PushKeys, userAgent string) (*models.PushSubscription, error) {
	encryptedKeys, err := m.dp.EncryptJSON(keys)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	subscription := models.PushSubscription{
		UserID:     userID,
		Endpoint:   endpoint,
		Keys:       encryptedKeys,
		UserAgent:  userAgent,
		CreatedAt:  now,
		LastUsedAt: now,
	}

	// Service workers re-register on every activation so duplicates are expected.
	result := m.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "endpoint"}},
		DoUpdates: clause.AssignmentColumns([]string{"user_id", "keys", "user_agent", "last_used_at"}),
	}).Create(&subscription)
	if result.Error != nil {
		return nil, result.Error
	}
	// On conflict the stored row keeps its original ID.
	var stored models.PushSubscription
	if result := m.db.WithContext(ctx).Where("endpoint = ?", endpoint).First(&stored); result.Error != nil {
		return nil, result.Error
	}
	stored.PushKeys = keys
	log.Infof("SubscriptionManager: registered push subscription for user %s", userID)
	return &stored, nil
}

// Unregister deletes the subscription of endpoint if it belongs to userID.
// Unknown endpoints, or endpoints of another user, are not an error.
func (m *SubscriptionManager) Unregister(ctx context.Context, userID, endpoint string) (bool, error) {
	result := m.db.WithContext(ctx).Delete(&models.PushSubscription{}, "endpoint = ? AND user_id = ?", endpoint, userID)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// ListFor returns every device subscription of userID with decrypted keys.
// Rows that cannot be decrypted (rotated ENCRYPTIONKEY) are skipped.
func (m *SubscriptionManager) ListFor(ctx context.Context, userID string) ([]models.PushSubscription, error) {
	var subscriptions []models.PushSubscription
	if result := m.db.WithContext(ctx).Where("user_id = ?", userID).Order("created_at").Find(&subscriptions); result.Error != nil {
		return nil, result.Error
	}

	usable := subscriptions[:0]
	for _, subscription := range subscriptions {
		if err := m.dp.DecryptJSON(subscription.Keys, &subscription.PushKeys); err != nil {
			log.Warnf("SubscriptionManager: cannot decrypt keys of subscription %s: %s", subscription.ID, err)
			continue
		}
		usable = append(usable, subscription)
	}
	return usable, nil
}

// Touch records a successful delivery to the given subscriptions.
func (m *SubscriptionManager) Touch(ctx context.Context, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	values := make([]string, len(ids))
	for i, id := range ids {
		values[i] = id.String()
	}
	return m.db.WithContext(ctx).Model(&models.PushSubscription{}).
		Where("id IN ?", values).
		Update("last_used_at", time.Now()).Error
}

// Delete removes a subscription the push service reported as gone.
func (m *SubscriptionManager) Delete(ctx context.Context, id uuid.UUID) error {
	return m.db.WithContext(ctx).Delete(&models.PushSubscription{}, "id = ?", id).Error
}

func (m *SubscriptionManager) Count(ctx context.Context) (int64, error) {
	var count int64
	err := m.db.WithContext(ctx).Model(&models.PushSubscription{}).Count(&count).Error
	return count, err
}

// PruneInactive deletes subscriptions that have not been used since olderThan.
func (m *SubscriptionManager) PruneInactive(ctx context.Context, olderThan time.Time) (int64, error) {
	result := m.db.WithContext(ctx).Delete(&models.PushSubscription{}, "last_used_at < ?", olderThan)
	return result.RowsAffected, result.Error
}
