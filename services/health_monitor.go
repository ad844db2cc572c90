package services

import (
	"context"
	"fmt"
	"time"

	"github.com/m-barthelemy/notifyd/models"
	"gorm.io/gorm"
)

type HealthStatus string

const (
	HealthHealthy   HealthStatus = "healthy"
	HealthDegraded  HealthStatus = "degraded"
	HealthUnhealthy HealthStatus = "unhealthy"
)

// HealthReport summarizes delivery activity and configuration gaps.
type HealthReport struct {
	Status            HealthStatus             `json:"status"`
	CheckedAt         time.Time                `json:"checked_at"`
	Window            string                   `json:"window"`
	Outbox            []OutboxCount            `json:"outbox"`
	Pending           int64                    `json:"pending"`
	ChronicFailures   int64                    `json:"chronic_failures"`
	PushSubscriptions int64                    `json:"push_subscriptions"`
	OptIn             OptInRates               `json:"opt_in"`
	SentLast24h       map[models.Channel]int64 `json:"sent_last_24h"`
	Warnings          []string                 `json:"warnings"`
}

// HealthMonitor computes HealthReports. It only reads.
type HealthMonitor struct {
	config        *models.Config
	outbox        *OutboxManager
	subscriptions *SubscriptionManager
	preferences   *PreferenceManager
	now           func() time.Time
}

func NewHealthMonitor(db *gorm.DB, config *models.Config) *HealthMonitor {
	return &HealthMonitor{
		config:        config,
		outbox:        NewOutboxManager(db),
		subscriptions: NewSubscriptionManager(db, config),
		preferences:   NewPreferenceManager(db),
		now:           time.Now,
	}
}

func (h *HealthMonitor) Check(ctx context.Context) (*HealthReport, error) {
	now := h.now()
	since := now.Add(-h.config.HealthWindow)
	report := &HealthReport{
		CheckedAt: now,
		Window:    h.config.HealthWindow.String(),
		Warnings:  h.config.Warnings(),
	}

	var err error
	if report.Outbox, err = h.outbox.CountByStatus(ctx, since); err != nil {
		return nil, fmt.Errorf("counting outbox entries: %w", err)
	}
	for _, count := range report.Outbox {
		if count.Status == models.OutboxPending {
			report.Pending += count.Count
		}
	}
	if report.ChronicFailures, err = h.outbox.CountChronicFailures(ctx, since); err != nil {
		return nil, fmt.Errorf("counting chronic failures: %w", err)
	}
	if report.PushSubscriptions, err = h.subscriptions.Count(ctx); err != nil {
		return nil, fmt.Errorf("counting push subscriptions: %w", err)
	}
	if report.OptIn, err = h.preferences.OptInRates(ctx); err != nil {
		return nil, fmt.Errorf("computing opt-in rates: %w", err)
	}
	if report.SentLast24h, err = h.outbox.CountSentByChannel(ctx, now.Add(-24*time.Hour)); err != nil {
		return nil, fmt.Errorf("counting recent deliveries: %w", err)
	}

	if report.Pending > h.config.PendingBacklogThreshold {
		report.Warnings = append(report.Warnings, fmt.Sprintf("%d outbox entries are pending", report.Pending))
	}
	if report.ChronicFailures > h.config.ChronicFailureThreshold {
		report.Warnings = append(report.Warnings, fmt.Sprintf("%d outbox entries needed %d attempts or more", report.ChronicFailures, ChronicFailureAttempts))
	}

	report.Status = HealthHealthy
	if len(report.Warnings) > 0 {
		report.Status = HealthDegraded
	}
	return report, nil
}
