package services

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/m-barthelemy/notifyd/models"
	log "github.com/sirupsen/logrus"
)

// PushPayload is the JSON document received by the service worker.
type PushPayload struct {
	NotificationID string           `json:"notification_id"`
	Type           models.EventType `json:"type"`
	Title          string           `json:"title"`
	Body           string           `json:"body"`
	ActionURL      string           `json:"action_url,omitempty"`
}

// PushResult is the outcome of sending to one device.
type PushResult struct {
	Subscription models.PushSubscription
	StatusCode   int
	Attempts     int
	Err          error
}

// Delivered reports whether the push service accepted the message.
func (r PushResult) Delivered() bool {
	return r.Err == nil
}

// PushSender delivers one payload to every given device.
type PushSender interface {
	Send(ctx context.Context, subscriptions []models.PushSubscription, payload []byte) []PushResult
}

// WebPushSender sends VAPID authenticated Web Push messages.
type WebPushSender struct {
	config     *models.Config
	httpClient *http.Client
}

func NewWebPushSender(config *models.Config, httpClient *http.Client) *WebPushSender {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: config.ChannelTimeout}
	}
	return &WebPushSender{config: config, httpClient: httpClient}
}

// Send delivers payload to every subscription concurrently. A failing device never
// prevents delivery to the others. Results are in the order of subscriptions.
func (s *WebPushSender) Send(ctx context.Context, subscriptions []models.PushSubscription, payload []byte) []PushResult {
	results := make([]PushResult, len(subscriptions))
	if !s.config.PushConfigured() {
		for i, subscription := range subscriptions {
			results[i] = PushResult{Subscription: subscription, Attempts: 1, Err: ErrPushNotConfigured}
		}
		return results
	}

	var wg sync.WaitGroup
	for i := range subscriptions {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = s.sendWithRetry(ctx, subscriptions[i], payload)
		}(i)
	}
	wg.Wait()
	return results
}

// sendWithRetry retries transient failures immediately, up to PushMaxAttempts attempts in total.
func (s *WebPushSender) sendWithRetry(ctx context.Context, subscription models.PushSubscription, payload []byte) PushResult {
	result := PushResult{Subscription: subscription}
	for result.Attempts < s.config.PushMaxAttempts {
		result.Attempts++
		result.StatusCode, result.Err = s.sendOnce(ctx, subscription, payload)
		if result.Err == nil || !isTransientPushFailure(result.Err) || ctx.Err() != nil {
			break
		}
		log.Debugf("WebPushSender: transient failure for subscription %s (attempt %d): %s", subscription.ID, result.Attempts, result.Err)
	}
	return result
}

func (s *WebPushSender) sendOnce(ctx context.Context, subscription models.PushSubscription, payload []byte) (int, error) {
	pushSubscription := &webpush.Subscription{
		Endpoint: subscription.Endpoint,
		Keys: webpush.Keys{
			P256dh: subscription.PushKeys.P256dh,
			Auth:   subscription.PushKeys.Auth,
		},
	}
	resp, err := webpush.SendNotificationWithContext(ctx, payload, pushSubscription, &webpush.Options{
		HTTPClient:      s.httpClient,
		Subscriber:      s.config.VapidSubject,
		VAPIDPublicKey:  s.config.VapidPublicKey,
		VAPIDPrivateKey: s.config.VapidPrivateKey,
		TTL:             s.config.PushTTL,
		Urgency:         webpush.UrgencyNormal,
	})
	if err != nil {
		return 0, &PushError{Kind: PushTransient, Err: err}
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	return resp.StatusCode, classifyPushStatus(resp.StatusCode)
}

// classifyPushStatus maps a push service response code to nil or a *PushError.
func classifyPushStatus(statusCode int) error {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return nil
	// The push provider signals that the subscription is no longer active.
	case statusCode == http.StatusNotFound || statusCode == http.StatusGone:
		return &PushError{StatusCode: statusCode, Kind: PushPermanent}
	case statusCode == http.StatusTooManyRequests || statusCode >= 500:
		return &PushError{StatusCode: statusCode, Kind: PushTransient}
	default:
		return &PushError{StatusCode: statusCode, Kind: PushRejected, Err: fmt.Errorf("push service answered %d", statusCode)}
	}
}
