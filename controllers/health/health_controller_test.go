package controllers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/m-barthelemy/notifyd/models"
	"github.com/m-barthelemy/notifyd/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newHealthController(t *testing.T) (*HealthController, *gorm.DB) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file:health_controller?mode=memory&cache=shared"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.PushSubscription{}, &models.NotificationPreference{}, &models.OutboxEntry{}))
	var config models.Config
	config = config.New()
	return New(services.NewHealthMonitor(db, &config)), db
}

func TestGetHealth(t *testing.T) {
	controller, db := newHealthController(t)

	w := httptest.NewRecorder()
	controller.GetHealth(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var report services.HealthReport
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &report))
	// Neither push nor email is configured.
	assert.Equal(t, services.HealthDegraded, report.Status)
	assert.Len(t, report.Warnings, 3)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	require.NoError(t, sqlDB.Close())

	w = httptest.NewRecorder()
	controller.GetHealth(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	var failed map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &failed))
	assert.Equal(t, "unhealthy", failed["status"])
	assert.NotEmpty(t, failed["error"])
}
