package services

import (
	"context"
	"time"

	"github.com/m-barthelemy/notifyd/models"
	"github.com/robfig/cron/v3"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Scheduler runs the periodic maintenance jobs.
type Scheduler struct {
	config        *models.Config
	cron          *cron.Cron
	health        *HealthMonitor
	outbox        *OutboxManager
	subscriptions *SubscriptionManager
	now           func() time.Time
}

func NewScheduler(db *gorm.DB, config *models.Config) *Scheduler {
	return &Scheduler{
		config:        config,
		cron:          cron.New(),
		health:        NewHealthMonitor(db, config),
		outbox:        NewOutboxManager(db),
		subscriptions: NewSubscriptionManager(db, config),
		now:           time.Now,
	}
}

// Start registers the jobs and starts the cron runner in its own goroutine.
func (s *Scheduler) Start() error {
	jobs := []struct {
		spec string
		job  func(context.Context) error
		name string
	}{
		{"@every 5m", s.LogHealth, "LogHealth"},
		{"@every 5m", s.FailStalePending, "FailStalePending"},
		{"30 3 * * *", s.PruneSubscriptions, "PruneSubscriptions"},
		{"0 4 * * *", s.CleanupOutbox, "CleanupOutbox"},
	}
	for _, j := range jobs {
		job, name := j.job, j.name
		if _, err := s.cron.AddFunc(j.spec, func() {
			if err := job(context.Background()); err != nil {
				log.WithError(err).Errorf("Scheduler: %s failed", name)
			}
		}); err != nil {
			return err
		}
	}
	s.cron.Start()
	return nil
}

// Stop stops scheduling and waits for running jobs.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

func (s *Scheduler) LogHealth(ctx context.Context) error {
	report, err := s.health.Check(ctx)
	if err != nil {
		return err
	}
	entry := log.WithFields(log.Fields{
		"status":           report.Status,
		"pending":          report.Pending,
		"chronic_failures": report.ChronicFailures,
		"subscriptions":    report.PushSubscriptions,
		"sent_push_24h":    report.SentLast24h[models.ChannelPush],
		"sent_email_24h":   report.SentLast24h[models.ChannelEmail],
	})
	if report.Status != HealthHealthy {
		entry.Warnf("Scheduler: delivery health is %s: %v", report.Status, report.Warnings)
		return nil
	}
	entry.Info("Scheduler: delivery health is healthy")
	return nil
}

// FailStalePending fails the entries an interrupted dispatch left pending.
func (s *Scheduler) FailStalePending(ctx context.Context) error {
	count, err := s.outbox.FailStale(ctx, s.now().Add(-s.config.StalePendingAfter))
	if err != nil {
		return err
	}
	if count > 0 {
		log.Warnf("Scheduler: marked %d stale pending outbox entries as failed", count)
	}
	return nil
}

func (s *Scheduler) PruneSubscriptions(ctx context.Context) error {
	count, err := s.subscriptions.PruneInactive(ctx, s.now().AddDate(0, 0, -s.config.SubscriptionRetention))
	if err != nil {
		return err
	}
	log.Infof("Scheduler: deleted %d push subscriptions unused for %d days", count, s.config.SubscriptionRetention)
	return nil
}

func (s *Scheduler) CleanupOutbox(ctx context.Context) error {
	count, err := s.outbox.Cleanup(ctx, s.now().AddDate(0, 0, -s.config.OutboxRetention))
	if err != nil {
		return err
	}
	log.Infof("Scheduler: deleted %d outbox entries older than %d days", count, s.config.OutboxRetention)
	return nil
}
