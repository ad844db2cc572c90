package models

import (
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
)

func validConfig() Config {
	var config Config
	config = config.New()
	config.EncryptionKey = "0123456789abcdef0123456789abcdef"
	config.JWTSecret = "secret"
	config.InternalAPIKey = "internal"
	return config
}

func TestConfig_Defaults(t *testing.T) {
	config := validConfig()
	assert.Equal(t, "http://127.0.0.1:8080", config.AppURL.String())
	assert.Equal(t, 2, config.PushMaxAttempts)
	assert.NoError(t, config.Verify())
}

func TestConfig_Verify(t *testing.T) {
	tests := []struct {
		name    string
		change  func(*Config)
		wantErr string
	}{
		{"bad db type", func(c *Config) { c.DbType = "oracle" }, "DBTYPE"},
		{"missing encryption key", func(c *Config) { c.EncryptionKey = "" }, "ENCRYPTIONKEY is required"},
		{"short encryption key", func(c *Config) { c.EncryptionKey = "abc" }, "32 characters"},
		{"missing jwt secret", func(c *Config) { c.JWTSecret = "" }, "JWTSECRET"},
		{"missing internal key", func(c *Config) { c.InternalAPIKey = "" }, "INTERNALAPIKEY"},
		{"bad ssl mode", func(c *Config) { c.SSLMode = "maybe" }, "SSLMODE"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := validConfig()
			tt.change(&config)
			assert.ErrorContains(t, config.Verify(), tt.wantErr)
		})
	}
}

func TestConfig_VerifyNormalizes(t *testing.T) {
	config := validConfig()
	config.DbType = "Postgres"
	config.SSLMode = "AUTO"
	config.PushMaxAttempts = 0
	assert.NoError(t, config.Verify())
	assert.Equal(t, "postgres", config.DbType)
	assert.Equal(t, "auto", config.SSLMode)
	assert.Equal(t, 1, config.PushMaxAttempts)
}

func TestConfig_ChannelWarnings(t *testing.T) {
	config := validConfig()
	assert.False(t, config.PushConfigured())
	assert.False(t, config.EmailConfigured())
	assert.Len(t, config.Warnings(), 3)

	config.VapidPublicKey = "public"
	config.VapidPrivateKey = "private"
	config.VapidSubject = "mailto:ops@example.com"
	config.EmailAPIKey = "re_key"
	assert.False(t, config.EmailConfigured())
	assert.Equal(t, []string{"EMAILAPIKEY, EMAILAPIURL or EMAILFROM is not configured, emails cannot be sent"}, config.Warnings())

	config.EmailFrom = "notifications@example.com"
	assert.True(t, config.PushConfigured())
	assert.True(t, config.EmailConfigured())
	assert.NotNil(t, config.Warnings())
	assert.Empty(t, config.Warnings())
}

func TestConfig_EmailNeedsSender(t *testing.T) {
	config := validConfig()
	config.EmailAPIKey = "re_key"
	config.EmailFrom = "notifications@example.com"
	assert.True(t, config.EmailConfigured())

	config.EmailAPIURL = ""
	assert.False(t, config.EmailConfigured())
}

func TestConfig_WarnsWhenChronicFailuresCannotOccur(t *testing.T) {
	hook := logtest.NewGlobal()
	defer hook.Reset()

	config := validConfig()
	assert.NoError(t, config.Verify())
	assert.True(t, hasWarning(hook, "PUSHMAXATTEMPTS is 2"))

	hook.Reset()
	config.PushMaxAttempts = ChronicFailureAttempts
	assert.NoError(t, config.Verify())
	assert.False(t, hasWarning(hook, "PUSHMAXATTEMPTS"))
}

func hasWarning(hook *logtest.Hook, text string) bool {
	for _, entry := range hook.AllEntries() {
		if entry.Level == logrus.WarnLevel && strings.Contains(entry.Message, text) {
			return true
		}
	}
	return false
}

func TestPreferences(t *testing.T) {
	prefs := DefaultPreference("U")
	assert.True(t, prefs.Enabled(ChannelInApp))
	assert.True(t, prefs.Enabled(ChannelPush))
	assert.True(t, prefs.Enabled(ChannelEmail))
	prefs.ChannelPush = false
	assert.False(t, prefs.Enabled(ChannelPush))
	assert.False(t, prefs.Enabled(Channel("sms")))
}

func TestOutboxStatusTerminal(t *testing.T) {
	assert.False(t, OutboxPending.Terminal())
	assert.True(t, OutboxSent.Terminal())
	assert.True(t, OutboxFailed.Terminal())
}
