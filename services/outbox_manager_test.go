package services

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/gofrs/uuid"
	"github.com/m-barthelemy/notifyd/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func newNotificationID(t *testing.T) uuid.UUID {
	t.Helper()
	id, err := uuid.NewV4()
	require.NoError(t, err)
	return id
}

func TestOutboxManager_Lifecycle(t *testing.T) {
	db := newTestDB(t)
	manager := NewOutboxManager(db)
	ctx := context.Background()
	notificationID := newNotificationID(t)

	entry, err := manager.Create(ctx, notificationID, models.ChannelPush)
	require.NoError(t, err)
	assert.Equal(t, models.OutboxPending, entry.Status)
	assert.Equal(t, 0, entry.Attempts)

	require.NoError(t, manager.RecordAttempts(ctx, entry, 2))
	require.NoError(t, manager.Finalize(ctx, entry, models.OutboxFailed, "push transient failure: status 503"))

	entries, err := manager.ListFor(ctx, notificationID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, models.OutboxFailed, entries[0].Status)
	assert.Equal(t, 2, entries[0].Attempts)
	assert.Equal(t, "push transient failure: status 503", entries[0].LastError)

	// Terminal entries never move again.
	assert.Error(t, manager.Finalize(ctx, entry, models.OutboxSent, ""))
	assert.Error(t, manager.RecordAttempts(ctx, entry, 1))
	assert.Error(t, manager.Finalize(ctx, entry, models.OutboxPending, ""))
}

func TestOutboxManager_OneEntryPerNotificationAndChannel(t *testing.T) {
	db := newTestDB(t)
	manager := NewOutboxManager(db)
	ctx := context.Background()
	notificationID := newNotificationID(t)

	_, err := manager.Create(ctx, notificationID, models.ChannelEmail)
	require.NoError(t, err)
	_, err = manager.Create(ctx, notificationID, models.ChannelEmail)
	assert.Error(t, err)
	_, err = manager.Create(ctx, notificationID, models.ChannelPush)
	assert.NoError(t, err)
}

func TestOutboxManager_RejectsInAppChannel(t *testing.T) {
	_, err := NewOutboxManager(newTestDB(t)).Create(context.Background(), newNotificationID(t), models.ChannelInApp)
	assert.ErrorIs(t, err, ErrInvalidChannel)
}

func TestOutboxManager_FailStaleAndCleanup(t *testing.T) {
	db := newTestDB(t)
	manager := NewOutboxManager(db)
	ctx := context.Background()

	stale, err := manager.Create(ctx, newNotificationID(t), models.ChannelPush)
	require.NoError(t, err)
	fresh, err := manager.Create(ctx, newNotificationID(t), models.ChannelPush)
	require.NoError(t, err)
	old, err := manager.Create(ctx, newNotificationID(t), models.ChannelEmail)
	require.NoError(t, err)
	require.NoError(t, manager.Finalize(ctx, old, models.OutboxSent, ""))

	hourAgo := time.Now().Add(-time.Hour)
	require.NoError(t, db.Model(&models.OutboxEntry{}).Where("id = ?", stale.ID).Update("created_at", hourAgo).Error)
	require.NoError(t, db.Model(&models.OutboxEntry{}).Where("id = ?", old.ID).Update("created_at", time.Now().AddDate(0, 0, -100)).Error)

	failed, err := manager.FailStale(ctx, time.Now().Add(-15*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(1), failed)

	var reloadedStale, reloadedFresh models.OutboxEntry
	require.NoError(t, db.First(&reloadedStale, "id = ?", stale.ID).Error)
	assert.Equal(t, models.OutboxFailed, reloadedStale.Status)
	assert.Equal(t, staleDispatchError, reloadedStale.LastError)
	require.NoError(t, db.First(&reloadedFresh, "id = ?", fresh.ID).Error)
	assert.Equal(t, models.OutboxPending, reloadedFresh.Status)

	deleted, err := manager.Cleanup(ctx, time.Now().AddDate(0, 0, -90))
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)
	assert.Equal(t, int64(2), countRows(t, db, &models.OutboxEntry{}, ""))
}

func TestOutboxManager_Counts(t *testing.T) {
	db := newTestDB(t)
	manager := NewOutboxManager(db)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		entry, err := manager.Create(ctx, newNotificationID(t), models.ChannelPush)
		require.NoError(t, err)
		require.NoError(t, manager.RecordAttempts(ctx, entry, 1))
		require.NoError(t, manager.Finalize(ctx, entry, models.OutboxSent, ""))
	}
	chronic, err := manager.Create(ctx, newNotificationID(t), models.ChannelEmail)
	require.NoError(t, err)
	require.NoError(t, manager.RecordAttempts(ctx, chronic, ChronicFailureAttempts))
	require.NoError(t, manager.Finalize(ctx, chronic, models.OutboxFailed, "boom"))
	_, err = manager.Create(ctx, newNotificationID(t), models.ChannelEmail)
	require.NoError(t, err)

	since := time.Now().Add(-time.Hour)
	counts, err := manager.CountByStatus(ctx, since)
	require.NoError(t, err)
	assert.ElementsMatch(t, []OutboxCount{
		{Channel: models.ChannelEmail, Status: models.OutboxFailed, Count: 1},
		{Channel: models.ChannelEmail, Status: models.OutboxPending, Count: 1},
		{Channel: models.ChannelPush, Status: models.OutboxSent, Count: 3},
	}, counts)

	chronicCount, err := manager.CountChronicFailures(ctx, since)
	require.NoError(t, err)
	assert.Equal(t, int64(1), chronicCount)

	sent, err := manager.CountSentByChannel(ctx, since)
	require.NoError(t, err)
	assert.Equal(t, map[models.Channel]int64{models.ChannelPush: 3, models.ChannelEmail: 0}, sent)
}

func setupMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	gormDB, err := gorm.Open(postgres.New(postgres.Config{Conn: db}), &gorm.Config{})
	require.NoError(t, err)
	return gormDB, mock
}

func TestOutboxManager_FinalizeOnlyUpdatesPendingRows(t *testing.T) {
	gormDB, mock := setupMockDB(t)
	manager := NewOutboxManager(gormDB)
	entry := &models.OutboxEntry{ID: newNotificationID(t), Channel: models.ChannelPush, Status: models.OutboxPending}

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE "outbox_entries" SET "last_error"=$1,"status"=$2,"updated_at"=$3 WHERE id = $4 AND status = $5`)).
		WithArgs("", models.OutboxSent, sqlmock.AnyArg(), entry.ID, models.OutboxPending).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	err := manager.Finalize(context.Background(), entry, models.OutboxSent, "")
	assert.Error(t, err)
	assert.Equal(t, models.OutboxPending, entry.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}
