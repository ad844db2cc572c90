package services

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/m-barthelemy/notifyd/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func createNotifications(t *testing.T, manager *NotificationManager, userID string, n int) []*models.Notification {
	t.Helper()
	created := []*models.Notification{}
	start := time.Now().Add(-time.Hour)
	for i := 0; i < n; i++ {
		notification, err := manager.Create(context.Background(), &models.NotificationEvent{
			Type:      models.EventBookingStatus,
			UserID:    userID,
			Title:     fmt.Sprintf("Booking %d", i),
			CreatedAt: start.Add(time.Duration(i) * time.Minute),
		})
		require.NoError(t, err)
		created = append(created, notification)
	}
	return created
}

func TestNotificationManager_ListNewestFirst(t *testing.T) {
	manager := NewNotificationManager(newTestDB(t))
	createNotifications(t, manager, "U", 3)
	createNotifications(t, manager, "other", 2)

	notifications, err := manager.List(context.Background(), "U", false, 2)
	require.NoError(t, err)
	require.Len(t, notifications, 2)
	assert.Equal(t, "Booking 2", notifications[0].Title)
	assert.Equal(t, "Booking 1", notifications[1].Title)
}

func TestNotificationManager_ReadState(t *testing.T) {
	manager := NewNotificationManager(newTestDB(t))
	ctx := context.Background()
	created := createNotifications(t, manager, "U", 3)

	unread, err := manager.UnreadCount(ctx, "U")
	require.NoError(t, err)
	assert.Equal(t, int64(3), unread)

	first, err := manager.MarkRead(ctx, "U", created[0].ID)
	require.NoError(t, err)
	require.NotNil(t, first.ReadAt)

	again, err := manager.MarkRead(ctx, "U", created[0].ID)
	require.NoError(t, err)
	assert.True(t, first.ReadAt.Equal(*again.ReadAt))

	unreadOnly, err := manager.List(ctx, "U", true, 0)
	require.NoError(t, err)
	assert.Len(t, unreadOnly, 2)

	updated, err := manager.MarkAllRead(ctx, "U")
	require.NoError(t, err)
	assert.Equal(t, int64(2), updated)

	unread, err = manager.UnreadCount(ctx, "U")
	require.NoError(t, err)
	assert.Equal(t, int64(0), unread)
}

func TestNotificationManager_MarkReadOnlyForOwner(t *testing.T) {
	manager := NewNotificationManager(newTestDB(t))
	created := createNotifications(t, manager, "U", 1)

	_, err := manager.MarkRead(context.Background(), "intruder", created[0].ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestNotificationManager_EventIDUniquePerUser(t *testing.T) {
	manager := NewNotificationManager(newTestDB(t))
	ctx := context.Background()
	event := &models.NotificationEvent{EventID: "evt-1", Type: models.EventAnnouncement, UserID: "U1", Title: "Hello"}

	_, err := manager.Create(ctx, event)
	require.NoError(t, err)
	_, err = manager.Create(ctx, event)
	assert.Error(t, err)

	event.UserID = "U2"
	_, err = manager.Create(ctx, event)
	assert.NoError(t, err)

	found, err := manager.FindByEvent(ctx, "evt-1", "U2")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, "U2", found.UserID)

	missing, err := manager.FindByEvent(ctx, "evt-2", "U2")
	require.NoError(t, err)
	assert.Nil(t, missing)
}
