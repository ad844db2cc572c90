package services

import (
	"context"
	"errors"
	"time"

	"github.com/gofrs/uuid"
	"github.com/m-barthelemy/notifyd/models"
	"gorm.io/gorm"
)

const defaultListLimit = 50
const maxListLimit = 200

// NotificationManager stores the in-app notifications and their read state.
type NotificationManager struct {
	db *gorm.DB
}

func NewNotificationManager(db *gorm.DB) *NotificationManager {
	return &NotificationManager{db: db}
}

// Create writes the in-app record of event for its recipient.
func (m *NotificationManager) Create(ctx context.Context, event *models.NotificationEvent) (*models.Notification, error) {
	metadata, err := models.EncodeMetadata(event.Type, event.Metadata)
	if err != nil {
		return nil, err
	}
	notification := models.Notification{
		UserID:    event.UserID,
		ProfileID: event.ProfileID,
		Type:      event.Type,
		Title:     event.Title,
		Body:      event.Body,
		ActionURL: event.ActionURL,
		Metadata:  metadata,
	}
	if event.EventID != "" {
		eventID := event.EventID
		notification.EventID = &eventID
	}
	if !event.CreatedAt.IsZero() {
		notification.CreatedAt = event.CreatedAt
	}
	if result := m.db.WithContext(ctx).Create(&notification); result.Error != nil {
		return nil, result.Error
	}
	return &notification, nil
}

// FindByEvent returns the notification already created for (eventID, userID), if any.
func (m *NotificationManager) FindByEvent(ctx context.Context, eventID string, userID string) (*models.Notification, error) {
	var notification models.Notification
	result := m.db.WithContext(ctx).Where("event_id = ? AND user_id = ?", eventID, userID).First(&notification)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, result.Error
	}
	return &notification, nil
}

// List returns the most recent notifications of userID, newest first.
func (m *NotificationManager) List(ctx context.Context, userID string, unreadOnly bool, limit int) ([]models.Notification, error) {
	if limit <= 0 {
		limit = defaultListLimit
	} else if limit > maxListLimit {
		limit = maxListLimit
	}
	query := m.db.WithContext(ctx).Where("user_id = ?", userID)
	if unreadOnly {
		query = query.Where("read_at IS NULL")
	}
	notifications := []models.Notification{}
	err := query.Order("created_at desc").Limit(limit).Find(&notifications).Error
	return notifications, err
}

func (m *NotificationManager) UnreadCount(ctx context.Context, userID string) (int64, error) {
	var count int64
	err := m.db.WithContext(ctx).Model(&models.Notification{}).
		Where("user_id = ? AND read_at IS NULL", userID).
		Count(&count).Error
	return count, err
}

// MarkRead marks one notification of userID as read. Marking it again keeps the first read time.
func (m *NotificationManager) MarkRead(ctx context.Context, userID string, id uuid.UUID) (*models.Notification, error) {
	var notification models.Notification
	result := m.db.WithContext(ctx).Where("id = ? AND user_id = ?", id, userID).First(&notification)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, result.Error
	}
	if notification.ReadAt != nil {
		return &notification, nil
	}
	now := time.Now()
	result = m.db.WithContext(ctx).Model(&models.Notification{}).
		Where("id = ? AND read_at IS NULL", id).
		Update("read_at", now)
	if result.Error != nil {
		return nil, result.Error
	}
	notification.ReadAt = &now
	return &notification, nil
}

// MarkAllRead marks every unread notification of userID as read and returns how many changed.
func (m *NotificationManager) MarkAllRead(ctx context.Context, userID string) (int64, error) {
	result := m.db.WithContext(ctx).Model(&models.Notification{}).
		Where("user_id = ? AND read_at IS NULL", userID).
		Update("read_at", time.Now())
	return result.RowsAffected, result.Error
}
