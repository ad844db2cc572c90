package services

import (
	"context"
	"crypto/ecdh"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/m-barthelemy/notifyd/models"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", name)), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	require.NoError(t, db.AutoMigrate(
		&models.Profile{},
		&models.NotificationPreference{},
		&models.PushSubscription{},
		&models.Notification{},
		&models.OutboxEntry{},
	))
	return db
}

func newTestConfig() *models.Config {
	var config models.Config
	config = config.New()
	config.EncryptionKey = "0123456789abcdef0123456789abcdef"
	config.JWTSecret = "jwt-secret"
	config.InternalAPIKey = "internal-key"
	config.ChannelTimeout = 5 * time.Second
	return &config
}

// withPush sets freshly generated VAPID keys on config.
func withPush(t *testing.T, config *models.Config) *models.Config {
	t.Helper()
	privateKey, publicKey, err := webpush.GenerateVAPIDKeys()
	require.NoError(t, err)
	config.VapidPrivateKey = privateKey
	config.VapidPublicKey = publicKey
	config.VapidSubject = "mailto:ops@example.com"
	return config
}

func withEmail(config *models.Config) *models.Config {
	config.EmailAPIKey = "re_test"
	config.EmailFrom = "Marketplace <notifications@example.com>"
	return config
}

// newPushKeys returns keys a browser could have generated.
func newPushKeys(t *testing.T) models.PushKeys {
	t.Helper()
	key, err := ecdh.P256().GenerateKey(rand.Reader)
	require.NoError(t, err)
	auth := make([]byte, 16)
	_, err = rand.Read(auth)
	require.NoError(t, err)
	return models.PushKeys{
		P256dh: base64.RawURLEncoding.EncodeToString(key.PublicKey().Bytes()),
		Auth:   base64.RawURLEncoding.EncodeToString(auth),
	}
}

func createProfile(t *testing.T, db *gorm.DB, userID string, role models.Role, email string) *models.Profile {
	t.Helper()
	profile := &models.Profile{UserID: userID, Role: role, Email: email, DisplayName: "User " + userID}
	require.NoError(t, db.Create(profile).Error)
	return profile
}

func registerDevice(t *testing.T, db *gorm.DB, config *models.Config, userID string, endpoint string) *models.PushSubscription {
	t.Helper()
	subscription, err := NewSubscriptionManager(db, config).Register(context.Background(), userID, endpoint, newPushKeys(t), "test-agent")
	require.NoError(t, err)
	return subscription
}

// fakePushSender answers per endpoint with a fixed result.
type fakePushSender struct {
	mu       sync.Mutex
	results  map[string]error
	attempts map[string]int
	delay    time.Duration
	sent     []string
}

func (f *fakePushSender) Send(ctx context.Context, subscriptions []models.PushSubscription, payload []byte) []PushResult {
	results := make([]PushResult, len(subscriptions))
	for i, subscription := range subscriptions {
		if f.delay > 0 {
			select {
			case <-time.After(f.delay):
			case <-ctx.Done():
				results[i] = PushResult{Subscription: subscription, Attempts: 1, Err: &PushError{Kind: PushTransient, Err: ctx.Err()}}
				continue
			}
		}
		f.mu.Lock()
		f.sent = append(f.sent, subscription.Endpoint)
		err := f.results[subscription.Endpoint]
		attempts := f.attempts[subscription.Endpoint]
		f.mu.Unlock()
		if attempts == 0 {
			attempts = 1
		}
		results[i] = PushResult{Subscription: subscription, Attempts: attempts, Err: err}
	}
	return results
}

type sentEmail struct {
	to      string
	subject string
	body    string
}

type fakeEmailSender struct {
	mu   sync.Mutex
	err  error
	sent []sentEmail
}

func (f *fakeEmailSender) Send(ctx context.Context, to, subject, body string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentEmail{to: to, subject: subject, body: body})
	return f.err
}

func boolPtr(b bool) *bool {
	return &b
}

func countRows(t *testing.T, db *gorm.DB, model interface{}, query string, args ...interface{}) int64 {
	t.Helper()
	var count int64
	q := db.Model(model)
	if query != "" {
		q = q.Where(query, args...)
	}
	require.NoError(t, q.Count(&count).Error)
	return count
}
