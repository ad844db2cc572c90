package services

import (
	"context"
	"fmt"
	"time"

	"github.com/gofrs/uuid"
	"github.com/m-barthelemy/notifyd/models"
	"gorm.io/gorm"
)

// ChronicFailureAttempts is the attempt count from which an entry is reported as a chronic failure.
const ChronicFailureAttempts = models.ChronicFailureAttempts

const staleDispatchError = "dispatch interrupted"

type OutboxManager struct {
	db *gorm.DB
}

// OutboxCount is the number of entries having a given status on a given channel.
type OutboxCount struct {
	Channel models.Channel      `json:"channel"`
	Status  models.OutboxStatus `json:"status"`
	Count   int64               `json:"count"`
}

func NewOutboxManager(db *gorm.DB) *OutboxManager {
	return &OutboxManager{db: db}
}

// Create writes the pending entry of notificationID on channel.
func (m *OutboxManager) Create(ctx context.Context, notificationID uuid.UUID, channel models.Channel) (*models.OutboxEntry, error) {
	if channel != models.ChannelPush && channel != models.ChannelEmail {
		return nil, fmt.Errorf("%w: outbox only tracks push and email, got %q", ErrInvalidChannel, channel)
	}
	entry := models.OutboxEntry{
		NotificationID: notificationID,
		Channel:        channel,
		Status:         models.OutboxPending,
		Attempts:       0,
	}
	if result := m.db.WithContext(ctx).Create(&entry); result.Error != nil {
		return nil, result.Error
	}
	return &entry, nil
}

// RecordAttempts adds n send attempts to a pending entry.
func (m *OutboxManager) RecordAttempts(ctx context.Context, entry *models.OutboxEntry, n int) error {
	if n <= 0 {
		return nil
	}
	result := m.db.WithContext(ctx).Model(&models.OutboxEntry{}).
		Where("id = ? AND status = ?", entry.ID, models.OutboxPending).
		Updates(map[string]interface{}{
			"attempts":   gorm.Expr("attempts + ?", n),
			"updated_at": time.Now(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("outbox entry %s is not pending", entry.ID)
	}
	entry.Attempts += n
	return nil
}

// Finalize moves a pending entry to its terminal status. Terminal entries are left untouched.
func (m *OutboxManager) Finalize(ctx context.Context, entry *models.OutboxEntry, status models.OutboxStatus, lastError string) error {
	if !status.Terminal() {
		return fmt.Errorf("cannot finalize outbox entry with status %q", status)
	}
	result := m.db.WithContext(ctx).Model(&models.OutboxEntry{}).
		Where("id = ? AND status = ?", entry.ID, models.OutboxPending).
		Updates(map[string]interface{}{
			"status":     status,
			"last_error": lastError,
			"updated_at": time.Now(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("outbox entry %s is not pending", entry.ID)
	}
	entry.Status = status
	entry.LastError = lastError
	return nil
}

// ListFor returns the entries of a notification.
func (m *OutboxManager) ListFor(ctx context.Context, notificationID uuid.UUID) ([]models.OutboxEntry, error) {
	var entries []models.OutboxEntry
	err := m.db.WithContext(ctx).Where("notification_id = ?", notificationID).Order("channel").Find(&entries).Error
	return entries, err
}

// CountByStatus groups entries created since `since` by channel and status.
func (m *OutboxManager) CountByStatus(ctx context.Context, since time.Time) ([]OutboxCount, error) {
	var counts []OutboxCount
	err := m.db.WithContext(ctx).Model(&models.OutboxEntry{}).
		Select("channel, status, COUNT(*) AS count").
		Where("created_at >= ?", since).
		Group("channel, status").
		Order("channel, status").
		Scan(&counts).Error
	return counts, err
}

// CountChronicFailures counts entries created since `since` with at least ChronicFailureAttempts attempts.
func (m *OutboxManager) CountChronicFailures(ctx context.Context, since time.Time) (int64, error) {
	var count int64
	err := m.db.WithContext(ctx).Model(&models.OutboxEntry{}).
		Where("created_at >= ? AND attempts >= ?", since, ChronicFailureAttempts).
		Count(&count).Error
	return count, err
}

// CountSentByChannel counts the deliveries that succeeded since `since`.
func (m *OutboxManager) CountSentByChannel(ctx context.Context, since time.Time) (map[models.Channel]int64, error) {
	var rows []OutboxCount
	err := m.db.WithContext(ctx).Model(&models.OutboxEntry{}).
		Select("channel, COUNT(*) AS count").
		Where("status = ? AND updated_at >= ?", models.OutboxSent, since).
		Group("channel").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	sent := map[models.Channel]int64{models.ChannelPush: 0, models.ChannelEmail: 0}
	for _, row := range rows {
		sent[row.Channel] = row.Count
	}
	return sent, nil
}

// FailStale marks entries still pending since before olderThan as failed.
// Dispatch finalizes its entries synchronously, so those were left behind by an
// interrupted process and will never be sent.
func (m *OutboxManager) FailStale(ctx context.Context, olderThan time.Time) (int64, error) {
	result := m.db.WithContext(ctx).Model(&models.OutboxEntry{}).
		Where("status = ? AND created_at < ?", models.OutboxPending, olderThan).
		Updates(map[string]interface{}{
			"status":     models.OutboxFailed,
			"last_error": staleDispatchError,
			"updated_at": time.Now(),
		})
	return result.RowsAffected, result.Error
}

// Cleanup deletes terminal entries created before olderThan.
func (m *OutboxManager) Cleanup(ctx context.Context, olderThan time.Time) (int64, error) {
	result := m.db.WithContext(ctx).
		Where("status IN ? AND created_at < ?", []models.OutboxStatus{models.OutboxSent, models.OutboxFailed}, olderThan).
		Delete(&models.OutboxEntry{})
	return result.RowsAffected, result.Error
}
