package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/gofrs/uuid"
	"github.com/m-barthelemy/notifyd/models"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const maxLastErrorLength = 1000

// Reasons for not using a channel.
const (
	SkipDisabled  = "disabled"
	SkipNoDevices = "no_devices"
	SkipNoAddress = "no_address"
)

// ChannelResult describes what happened on one channel during a dispatch.
type ChannelResult struct {
	Channel  models.Channel      `json:"channel"`
	Skipped  string              `json:"skipped,omitempty"`
	Status   models.OutboxStatus `json:"status,omitempty"`
	Attempts int                 `json:"attempts,omitempty"`
	Error    string              `json:"error,omitempty"`

	// Push only
	Devices   int `json:"devices,omitempty"`
	Delivered int `json:"delivered,omitempty"`
	Removed   int `json:"removed,omitempty"`
}

// DispatchResult is the outcome of dispatching one event to one recipient.
type DispatchResult struct {
	NotificationID uuid.UUID     `json:"notification_id"`
	Dispatched     bool          `json:"dispatched"`
	Duplicate      bool          `json:"duplicate,omitempty"`
	InApp          ChannelResult `json:"inapp"`
	Push           ChannelResult `json:"push"`
	Email          ChannelResult `json:"email"`
}

// Recipient designates who a bulk dispatch goes to.
type Recipient struct {
	UserID    string
	ProfileID string
}

// BulkResult aggregates a fan-out over many recipients.
type BulkResult struct {
	Success    bool `json:"success"`
	Dispatched int  `json:"dispatched"`
	Failed     int  `json:"failed"`
	Duplicates int  `json:"duplicates,omitempty"`
}

// Dispatcher writes the in-app notification of an event and delivers it on the
// push and email channels the recipient accepts, tracking each in the outbox.
type Dispatcher struct {
	config        *models.Config
	notifications *NotificationManager
	preferences   *PreferenceManager
	subscriptions *SubscriptionManager
	outbox        *OutboxManager
	profiles      *ProfileManager
	push          PushSender
	email         EmailSender
	guard         EventGuard
}

func NewDispatcher(db *gorm.DB, config *models.Config, push PushSender, email EmailSender) *Dispatcher {
	return &Dispatcher{
		config:        config,
		notifications: NewNotificationManager(db),
		preferences:   NewPreferenceManager(db),
		subscriptions: NewSubscriptionManager(db, config),
		outbox:        NewOutboxManager(db),
		profiles:      NewProfileManager(db),
		push:          push,
		email:         email,
	}
}

// WithEventGuard makes the dispatcher claim event IDs through guard before delivering.
func (d *Dispatcher) WithEventGuard(guard EventGuard) *Dispatcher {
	d.guard = guard
	return d
}

func validateEvent(event *models.NotificationEvent) error {
	if !event.Type.Valid() {
		return fmt.Errorf("%w: unknown type %q", ErrInvalidEvent, event.Type)
	}
	if event.UserID == "" && event.ProfileID == "" {
		return fmt.Errorf("%w: a user or profile is required", ErrInvalidEvent)
	}
	if strings.TrimSpace(event.Title) == "" {
		return fmt.Errorf("%w: title is required", ErrInvalidEvent)
	}
	if event.Metadata != nil && event.Metadata.Kind() != event.Type {
		return fmt.Errorf("%w: %s", ErrInvalidEvent, models.ErrMetadataKind)
	}
	return nil
}

func channelEnabled(forced *bool, preferred bool) bool {
	if forced != nil {
		return *forced
	}
	return preferred
}

// Dispatch delivers event to its recipient. The in-app notification is always
// written; push and email failures are recorded in the outbox and never returned.
// An error means nothing was dispatched: invalid event, unknown recipient, or the
// in-app notification could not be stored.
func (d *Dispatcher) Dispatch(ctx context.Context, event models.NotificationEvent, force *models.ForceChannels) (*DispatchResult, error) {
	start := time.Now()
	if err := validateEvent(&event); err != nil {
		dispatchTotal.WithLabelValues(string(event.Type), "invalid").Inc()
		return nil, err
	}
	if force == nil {
		force = &models.ForceChannels{}
	}

	profile, err := d.profiles.Resolve(ctx, event.UserID, event.ProfileID)
	if err != nil {
		dispatchTotal.WithLabelValues(string(event.Type), "no_recipient").Inc()
		return nil, err
	}
	event.UserID = profile.UserID
	event.ProfileID = profile.ID.String()
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	if event.EventID != "" {
		duplicate, err := d.claimEvent(ctx, &event)
		if err != nil {
			return nil, err
		}
		if duplicate != nil {
			dispatchTotal.WithLabelValues(string(event.Type), "duplicate").Inc()
			return duplicate, nil
		}
	}

	notification, err := d.notifications.Create(ctx, &event)
	if err != nil && event.EventID != "" {
		// Lost a race against a concurrent dispatch of the same event.
		if existing, findErr := d.notifications.FindByEvent(ctx, event.EventID, event.UserID); findErr == nil && existing != nil {
			dispatchTotal.WithLabelValues(string(event.Type), "duplicate").Inc()
			return &DispatchResult{NotificationID: existing.ID, Dispatched: true, Duplicate: true}, nil
		}
	}
	if err != nil {
		if d.guard != nil && event.EventID != "" {
			if releaseErr := d.guard.Release(context.WithoutCancel(ctx), event.EventID, event.UserID); releaseErr != nil {
				log.Warnf("Dispatcher: could not release event %s: %s", event.EventID, releaseErr)
			}
		}
		dispatchTotal.WithLabelValues(string(event.Type), "error").Inc()
		return nil, fmt.Errorf("storing in-app notification: %w", err)
	}

	result := &DispatchResult{
		NotificationID: notification.ID,
		Dispatched:     true,
		InApp:          ChannelResult{Channel: models.ChannelInApp, Status: models.OutboxSent},
		Push:           ChannelResult{Channel: models.ChannelPush},
		Email:          ChannelResult{Channel: models.ChannelEmail},
	}

	prefs, err := d.preferences.Get(ctx, event.UserID)
	if err != nil {
		// Without preferences only forced channels can be trusted not to break an opt-out.
		log.WithError(err).Warnf("Dispatcher: could not read preferences of user %s, using forced channels only", event.UserID)
		prefs = models.NotificationPreference{UserID: event.UserID, ChannelInApp: true}
	}

	if channelEnabled(force.Push, prefs.ChannelPush) {
		d.deliverPush(ctx, &event, notification, &result.Push)
	} else {
		result.Push.Skipped = SkipDisabled
	}

	if channelEnabled(force.Email, prefs.ChannelEmail) {
		d.deliverEmail(ctx, &event, profile, notification, &result.Email)
	} else {
		result.Email.Skipped = SkipDisabled
	}

	dispatchTotal.WithLabelValues(string(event.Type), "dispatched").Inc()
	dispatchDuration.WithLabelValues(string(event.Type)).Observe(time.Since(start).Seconds())
	log.WithFields(log.Fields{
		"notification": notification.ID.String(),
		"type":         event.Type,
		"user":         event.UserID,
		"push":         channelSummary(result.Push),
		"email":        channelSummary(result.Email),
	}).Info("Dispatcher: notification dispatched")
	return result, nil
}

// claimEvent returns a non nil result when (EventID, UserID) was already dispatched.
func (d *Dispatcher) claimEvent(ctx context.Context, event *models.NotificationEvent) (*DispatchResult, error) {
	existing, err := d.notifications.FindByEvent(ctx, event.EventID, event.UserID)
	if err != nil {
		return nil, err
	}
	if existing == nil && d.guard != nil {
		claimed, err := d.guard.Claim(ctx, event.EventID, event.UserID)
		if err != nil {
			log.WithError(err).Warnf("Dispatcher: event guard unavailable for event %s", event.EventID)
		} else if !claimed {
			log.Infof("Dispatcher: event %s for user %s is handled by another dispatcher", event.EventID, event.UserID)
			return &DispatchResult{Dispatched: true, Duplicate: true}, nil
		}
	}
	if existing == nil {
		return nil, nil
	}
	log.Infof("Dispatcher: event %s was already dispatched to user %s", event.EventID, event.UserID)
	return &DispatchResult{NotificationID: existing.ID, Dispatched: true, Duplicate: true}, nil
}

func (d *Dispatcher) deliverPush(ctx context.Context, event *models.NotificationEvent, notification *models.Notification, result *ChannelResult) {
	// Outcomes must be recorded even when the caller's context is done.
	store := context.WithoutCancel(ctx)

	subscriptions, err := d.subscriptions.ListFor(ctx, event.UserID)
	if err != nil {
		log.WithError(err).Errorf("Dispatcher: could not list push subscriptions of user %s", event.UserID)
		entry, createErr := d.outbox.Create(store, notification.ID, models.ChannelPush)
		if createErr != nil {
			result.Status, result.Error = models.OutboxFailed, err.Error()
			return
		}
		d.finalize(store, entry, models.OutboxFailed, err.Error(), result)
		return
	}
	if len(subscriptions) == 0 {
		result.Skipped = SkipNoDevices
		return
	}
	result.Devices = len(subscriptions)

	entry, err := d.outbox.Create(store, notification.ID, models.ChannelPush)
	if err != nil {
		log.WithError(err).Errorf("Dispatcher: could not create push outbox entry for %s", notification.ID)
		result.Status, result.Error = models.OutboxFailed, err.Error()
		return
	}

	payload, err := json.Marshal(PushPayload{
		NotificationID: notification.ID.String(),
		Type:           event.Type,
		Title:          event.Title,
		Body:           event.Body,
		ActionURL:      event.ActionURL,
	})
	if err != nil {
		d.finalize(store, entry, models.OutboxFailed, err.Error(), result)
		return
	}

	sendCtx, cancel := context.WithTimeout(ctx, d.config.ChannelTimeout)
	results := d.push.Send(sendCtx, subscriptions, payload)
	cancel()

	rounds := 0
	delivered := []uuid.UUID{}
	failures := []string{}
	for _, res := range results {
		if res.Attempts > rounds {
			rounds = res.Attempts
		}
		switch {
		case res.Delivered():
			delivered = append(delivered, res.Subscription.ID)
			pushDeviceResults.WithLabelValues("delivered").Inc()
		case IsPermanentPushFailure(res.Err):
			// Unsubscription discovered while delivering, not an error.
			if err := d.subscriptions.Delete(store, res.Subscription.ID); err != nil {
				log.WithError(err).Errorf("Dispatcher: could not delete expired push subscription %s", res.Subscription.ID)
			} else {
				result.Removed++
			}
			failures = append(failures, fmt.Sprintf("subscription %s expired: %s", res.Subscription.ID, res.Err))
			pushDeviceResults.WithLabelValues("expired").Inc()
		default:
			failures = append(failures, fmt.Sprintf("subscription %s: %s", res.Subscription.ID, res.Err))
			pushDeviceResults.WithLabelValues("failed").Inc()
		}
	}
	result.Delivered = len(delivered)
	if result.Removed > 0 {
		log.Infof("Dispatcher: deleted %d inactive push subscriptions for user %s", result.Removed, event.UserID)
	}

	if err := d.outbox.RecordAttempts(store, entry, rounds); err != nil {
		log.WithError(err).Errorf("Dispatcher: could not record push attempts of %s", entry.ID)
	}
	result.Attempts = entry.Attempts

	if len(delivered) > 0 {
		if err := d.subscriptions.Touch(store, delivered); err != nil {
			log.WithError(err).Warn("Dispatcher: could not update push subscriptions last use")
		}
		d.finalize(store, entry, models.OutboxSent, "", result)
		if len(failures) > 0 {
			result.Error = truncate(strings.Join(failures, "; "))
		}
		return
	}
	d.finalize(store, entry, models.OutboxFailed, strings.Join(failures, "; "), result)
}

func (d *Dispatcher) deliverEmail(ctx context.Context, event *models.NotificationEvent, profile *models.Profile, notification *models.Notification, result *ChannelResult) {
	store := context.WithoutCancel(ctx)
	if profile.Email == "" {
		result.Skipped = SkipNoAddress
		return
	}

	entry, err := d.outbox.Create(store, notification.ID, models.ChannelEmail)
	if err != nil {
		log.WithError(err).Errorf("Dispatcher: could not create email outbox entry for %s", notification.ID)
		result.Status, result.Error = models.OutboxFailed, err.Error()
		return
	}

	baseURL := ""
	if d.config.AppURL != nil {
		baseURL = strings.TrimSuffix(d.config.AppURL.String(), "/")
	}
	body, err := RenderEmail(event, baseURL)
	if err != nil {
		d.finalize(store, entry, models.OutboxFailed, err.Error(), result)
		return
	}

	if err := d.outbox.RecordAttempts(store, entry, 1); err != nil {
		log.WithError(err).Errorf("Dispatcher: could not record email attempt of %s", entry.ID)
	}
	result.Attempts = entry.Attempts

	sendCtx, cancel := context.WithTimeout(ctx, d.config.ChannelTimeout)
	err = d.email.Send(sendCtx, profile.Email, event.Title, body)
	cancel()
	if err != nil {
		log.WithError(err).Warnf("Dispatcher: email to user %s failed", event.UserID)
		d.finalize(store, entry, models.OutboxFailed, err.Error(), result)
		return
	}
	d.finalize(store, entry, models.OutboxSent, "", result)
}

func (d *Dispatcher) finalize(ctx context.Context, entry *models.OutboxEntry, status models.OutboxStatus, lastError string, result *ChannelResult) {
	lastError = truncate(lastError)
	if err := d.outbox.Finalize(ctx, entry, status, lastError); err != nil {
		log.WithError(err).Errorf("Dispatcher: could not finalize outbox entry %s as %s", entry.ID, status)
	}
	channelDeliveries.WithLabelValues(string(entry.Channel), string(status)).Inc()
	result.Status = status
	result.Error = lastError
}

// DispatchBulk dispatches a copy of template to every recipient. Failures are
// counted, never returned: one bad recipient does not stop the others.
func (d *Dispatcher) DispatchBulk(ctx context.Context, template models.NotificationEvent, recipients []Recipient, force *models.ForceChannels) BulkResult {
	bulk := BulkResult{}
	batch := RunBatch(ctx, recipients, func(ctx context.Context, recipient Recipient) error {
		event := template
		event.UserID = recipient.UserID
		event.ProfileID = recipient.ProfileID
		res, err := d.Dispatch(ctx, event, force)
		if err != nil {
			return err
		}
		if res.Duplicate {
			bulk.Duplicates++
		}
		return nil
	})
	for _, failure := range batch.Failed {
		if errors.Is(failure.Err, ErrRecipientNotFound) {
			log.Warnf("Dispatcher: skipping recipient user=%q profile=%q: %s", failure.Item.UserID, failure.Item.ProfileID, failure.Err)
		} else {
			log.WithError(failure.Err).Errorf("Dispatcher: dispatch to user=%q profile=%q failed", failure.Item.UserID, failure.Item.ProfileID)
		}
	}
	bulk.Dispatched = len(batch.Succeeded)
	bulk.Failed = len(batch.Failed)
	bulk.Success = true
	log.Infof("Dispatcher: %s bulk dispatch done, %d dispatched, %d failed", template.Type, bulk.Dispatched, bulk.Failed)
	return bulk
}

func channelSummary(result ChannelResult) string {
	if result.Skipped != "" {
		return "skipped:" + result.Skipped
	}
	return string(result.Status)
}

// truncate bounds s to maxLastErrorLength bytes without splitting a rune.
// Invalid sequences are replaced with U+FFFD.
func truncate(s string) string {
	s = strings.ToValidUTF8(s, "\uFFFD")
	if len(s) <= maxLastErrorLength {
		return s
	}
	cut := maxLastErrorLength
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
