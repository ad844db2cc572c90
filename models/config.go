package models

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/SherClockHolmes/webpush-go"
	log "github.com/sirupsen/logrus"
)

// ChronicFailureAttempts is the attempt count from which an outbox entry is reported as a chronic failure.
const ChronicFailureAttempts = 3

// Config holds all the application config values.
// Not really a classical model since not saved into DB.
type Config struct {
	Debug                   bool          // DEBUG
	Port                    int           // PORT
	Host                    string        // HOST
	DbType                  string        // DBTYPE
	DbDSN                   string        // DBDSN
	AppURL                  *url.URL      // APPURL, public marketplace URL used in email links
	AllowedOrigins          []string      // ALLOWEDORIGINS
	MaxBodySize             int64         // MAXBODYSIZE
	OriginalIPHeader        string        // ORIGINALIPHEADER, client IP header set by a trusted reverse proxy
	EncryptionKey           string        // ENCRYPTIONKEY
	JWTSecret               string        // JWTSECRET
	InternalAPIKey          string        // INTERNALAPIKEY
	SSLMode                 string        // SSLMODE
	SSLAutoCertsDir         string        // SSLAUTOCERTSDIR
	SSLCustomCertPath       string        // SSLCUSTOMCERTPATH
	SSLCustomKeyPath        string        // SSLCUSTOMKEYPATH
	VapidPublicKey          string        // VAPIDPUBLICKEY
	VapidPrivateKey         string        // VAPIDPRIVATEKEY
	VapidSubject            string        // VAPIDSUBJECT
	PushTTL                 int           // PUSHTTL, seconds
	PushMaxAttempts         int           // PUSHMAXATTEMPTS
	EmailAPIKey             string        // EMAILAPIKEY
	EmailAPIURL             string        // EMAILAPIURL
	EmailFrom               string        // EMAILFROM
	ChannelTimeout          time.Duration // CHANNELTIMEOUT
	HealthWindow            time.Duration // HEALTHWINDOW
	PendingBacklogThreshold int64         // PENDINGBACKLOGTHRESHOLD
	ChronicFailureThreshold int64         // CHRONICFAILURETHRESHOLD
	StalePendingAfter       time.Duration // STALEPENDINGAFTER
	OutboxRetention         int           // OUTBOXRETENTION, days
	SubscriptionRetention   int           // SUBSCRIPTIONRETENTION, days
	RedisURL                string        // REDISURL
}

func (config *Config) New() Config {
	var defaultConfig = Config{
		Debug:                   false,
		Port:                    8080,
		Host:                    "127.0.0.1",
		DbType:                  "sqlite",
		DbDSN:                   "/tmp/notifyd.db",
		AllowedOrigins:          []string{},
		MaxBodySize:             16384, // 16KB
		SSLMode:                 "off",
		SSLAutoCertsDir:         "/tmp",
		SSLCustomCertPath:       "/ssl/cert.pem",
		SSLCustomKeyPath:        "/ssl/key.pem",
		PushTTL:                 86400,
		PushMaxAttempts:         2,
		EmailAPIURL:             "https://api.resend.com/emails",
		ChannelTimeout:          10 * time.Second,
		HealthWindow:            7 * 24 * time.Hour,
		PendingBacklogThreshold: 100,
		ChronicFailureThreshold: 10,
		StalePendingAfter:       15 * time.Minute,
		OutboxRetention:         90,
		SubscriptionRetention:   180,
	}
	appURL, _ := url.Parse(fmt.Sprintf("http://%s:%v", defaultConfig.Host, defaultConfig.Port))
	defaultConfig.AppURL = appURL

	return defaultConfig
}

// Verify checks settings the service cannot run without.
// Missing delivery channel settings are not fatal, see Warnings.
func (config *Config) Verify() error {
	config.DbType = strings.ToLower(config.DbType)
	if config.DbType != "sqlite" && config.DbType != "postgres" && config.DbType != "mysql" {
		return fmt.Errorf("DBTYPE must be one of sqlite, postgres, mysql")
	}
	if config.EncryptionKey == "" {
		return fmt.Errorf("ENCRYPTIONKEY is required to protect push subscription keys. You can use `openssl rand -hex 16` to generate it")
	} else if len(config.EncryptionKey) != 32 {
		return fmt.Errorf("ENCRYPTIONKEY must be 32 characters")
	}
	if config.JWTSecret == "" {
		return fmt.Errorf("JWTSECRET is not set")
	}
	if config.InternalAPIKey == "" {
		return fmt.Errorf("INTERNALAPIKEY is not set")
	}
	config.SSLMode = strings.ToLower(config.SSLMode)
	if config.SSLMode != "off" && config.SSLMode != "auto" && config.SSLMode != "custom" && config.SSLMode != "proxy" {
		return fmt.Errorf("SSLMODE must be one of off, auto, custom, proxy")
	}
	if config.PushMaxAttempts < 1 {
		config.PushMaxAttempts = 1
	}
	if config.PushMaxAttempts < ChronicFailureAttempts {
		log.Warnf("Config: PUSHMAXATTEMPTS is %d, chronic failures (%d attempts or more) are only reported from %d", config.PushMaxAttempts, ChronicFailureAttempts, ChronicFailureAttempts)
	}

	if !config.PushConfigured() {
		log.Warn("Config: VAPIDPUBLICKEY, VAPIDPRIVATEKEY and VAPIDSUBJECT must all be defined, push delivery is disabled")
		if privateKey, publicKey, err := webpush.GenerateVAPIDKeys(); err == nil {
			log.Warnf("If you have never defined them, here are some fresh values generated just for you.")
			log.Warnf("VAPIDPUBLICKEY=\"%s\"", publicKey)
			log.Warnf("VAPIDPRIVATEKEY=\"%s\"", privateKey)
		}
	}
	if !config.EmailConfigured() {
		log.Warn("Config: EMAILAPIKEY, EMAILAPIURL and EMAILFROM must all be defined, email delivery is disabled")
	}
	return nil
}

// PushConfigured reports whether the web push signing keys are present.
func (config *Config) PushConfigured() bool {
	return config.VapidPublicKey != "" && config.VapidPrivateKey != "" && config.VapidSubject != ""
}

// EmailConfigured reports whether the transactional email API can be used.
func (config *Config) EmailConfigured() bool {
	return config.EmailAPIKey != "" && config.EmailAPIURL != "" && config.EmailFrom != ""
}

// Warnings lists the non fatal configuration gaps.
func (config *Config) Warnings() []string {
	warnings := []string{}
	if config.VapidPublicKey == "" || config.VapidPrivateKey == "" {
		warnings = append(warnings, "VAPID keys are not configured, push notifications cannot be sent")
	}
	if config.VapidSubject == "" {
		warnings = append(warnings, "VAPIDSUBJECT is not configured, push notifications cannot be sent")
	}
	if !config.EmailConfigured() {
		warnings = append(warnings, "EMAILAPIKEY, EMAILAPIURL or EMAILFROM is not configured, emails cannot be sent")
	}
	return warnings
}
