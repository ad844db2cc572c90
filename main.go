package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/asaskevich/EventBus"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/m-barthelemy/notifyd/models"
	"github.com/m-barthelemy/notifyd/routes"
	"github.com/m-barthelemy/notifyd/services"
	log "github.com/sirupsen/logrus"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const eventGuardTTL = 24 * time.Hour

func main() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Warnf("Could not load .env file: %s", err)
	}

	var config models.Config
	config = config.New()

	err := envconfig.Process("", &config)
	if err != nil {
		log.Fatal(err.Error())
	}

	if config.Debug {
		log.SetLevel(log.DebugLevel)
	} else {
		log.SetFormatter(&log.JSONFormatter{})
	}
	if err := config.Verify(); err != nil {
		log.Fatalf("Invalid configuration: %s", err)
	}

	db, err := openDatabase(&config)
	if err != nil {
		log.Fatalf("Failed to connect to database: %s", err)
	}

	// Migrate the schema
	for _, model := range []interface{}{
		&models.Profile{},
		&models.NotificationPreference{},
		&models.PushSubscription{},
		&models.Notification{},
		&models.OutboxEntry{},
	} {
		if err := db.AutoMigrate(model); err != nil {
			log.Fatalf("Failed to run database migrations for %T model: %s", model, err)
		}
	}

	dispatcher := services.NewDispatcher(db, &config,
		services.NewWebPushSender(&config, nil),
		services.NewEmailAPISender(&config, nil),
	)
	if config.RedisURL != "" {
		guard, err := services.NewRedisEventGuard(config.RedisURL, eventGuardTTL)
		if err != nil {
			log.Fatal(err.Error())
		}
		defer guard.Close()
		if err := guard.Ping(context.Background()); err != nil {
			log.Warnf("Redis is not reachable, duplicate events will only be caught by the database: %s", err)
		}
		dispatcher.WithEventGuard(guard)
	}

	relay := services.NewEventRelay(db, &config, EventBus.New(), dispatcher)
	if err := relay.Start(); err != nil {
		log.Fatalf("Could not start event relay: %s", err)
	}

	scheduler := services.NewScheduler(db, &config)
	if err := scheduler.Start(); err != nil {
		log.Fatalf("Could not schedule maintenance jobs: %s", err)
	}
	// Anything interrupted by a previous shutdown.
	if err := scheduler.FailStalePending(context.Background()); err != nil {
		log.Errorf("Could not fail stale outbox entries: %s", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	serverErr := startServer(ctx, &config, routes.New(&config, db, dispatcher, relay))

	scheduler.Stop()
	relay.Stop()
	if serverErr != nil {
		log.Fatalf("HTTP server error: %s", serverErr)
	}
}

func openDatabase(config *models.Config) (*gorm.DB, error) {
	gormConfig := &gorm.Config{Logger: logger.Default.LogMode(logger.Warn)}
	if config.Debug {
		gormConfig.Logger = logger.Default.LogMode(logger.Info)
	}

	switch strings.ToLower(config.DbType) {
	case "postgres":
		return gorm.Open(postgres.Open(config.DbDSN), gormConfig)
	case "mysql":
		return gorm.Open(mysql.Open(config.DbDSN), gormConfig)
	default:
		return gorm.Open(sqlite.Open(config.DbDSN), gormConfig)
	}
}
