package services

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/ReneKroon/ttlcache/v2"
	"github.com/asaskevich/EventBus"
	"github.com/m-barthelemy/notifyd/models"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// MessageCreatedTopic is the bus topic new conversation messages are published on.
const MessageCreatedTopic = "message:created"

const messagePreviewLength = 120

const defaultMessageTitle = "New message"

// Display names are cached so a burst of messages from one sender costs one lookup.
const senderNameTTL = 5 * time.Minute

// MessageCreated is a conversation message as posted by the marketplace database webhook.
type MessageCreated struct {
	MessageID      string    `json:"message_id" validate:"required"`
	ConversationID string    `json:"conversation_id" validate:"required"`
	SenderID       string    `json:"sender_id" validate:"required"`
	RecipientID    string    `json:"recipient_id" validate:"required"`
	Content        string    `json:"content"`
	CreatedAt      time.Time `json:"created_at"`
}

// EventRelay turns messages published on the bus into "message" notifications.
type EventRelay struct {
	bus        EventBus.Bus
	dispatcher *Dispatcher
	profiles   *ProfileManager
	senders    *ttlcache.Cache
	timeout    time.Duration
}

func NewEventRelay(db *gorm.DB, config *models.Config, bus EventBus.Bus, dispatcher *Dispatcher) *EventRelay {
	senders := ttlcache.NewCache()
	senders.SetTTL(senderNameTTL)
	senders.SkipTTLExtensionOnHit(true)
	senders.SetCacheSizeLimit(10000)
	return &EventRelay{
		bus:        bus,
		dispatcher: dispatcher,
		profiles:   NewProfileManager(db),
		senders:    senders,
		timeout:    2*config.ChannelTimeout + 5*time.Second, // both channels may use their full timeout
	}
}

// Start subscribes the relay to MessageCreatedTopic. Messages are handled one at a time.
func (r *EventRelay) Start() error {
	return r.bus.SubscribeAsync(MessageCreatedTopic, r.onMessage, true)
}

// Stop unsubscribes and waits for the message being handled, if any.
func (r *EventRelay) Stop() {
	if err := r.bus.Unsubscribe(MessageCreatedTopic, r.onMessage); err != nil {
		log.Debugf("EventRelay: %s", err)
	}
	r.bus.WaitAsync()
	r.senders.Close()
}

// Publish queues msg for delivery and returns immediately.
func (r *EventRelay) Publish(msg MessageCreated) {
	r.bus.Publish(MessageCreatedTopic, msg)
}

func (r *EventRelay) onMessage(msg MessageCreated) {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()
	if _, err := r.Handle(ctx, msg); err != nil {
		log.WithError(err).Errorf("EventRelay: could not notify recipient of message %s", msg.MessageID)
	}
}

// Handle dispatches the notification of msg to its recipient. It returns nil, nil
// for messages that must not be notified.
func (r *EventRelay) Handle(ctx context.Context, msg MessageCreated) (*DispatchResult, error) {
	if msg.SenderID == msg.RecipientID {
		log.Debugf("EventRelay: ignoring message %s sent to self", msg.MessageID)
		return nil, nil
	}

	title, err := r.senderName(ctx, msg.SenderID)
	if err != nil {
		return nil, fmt.Errorf("resolving sender: %w", err)
	}

	event := models.NotificationEvent{
		EventID:   "message:" + msg.MessageID,
		Type:      models.EventMessage,
		UserID:    msg.RecipientID,
		Title:     title,
		Body:      MessagePreview(msg.Content),
		ActionURL: "/messages?conversation=" + url.QueryEscape(msg.ConversationID),
		Metadata: models.MessageMetadata{
			ConversationID: msg.ConversationID,
			SenderID:       msg.SenderID,
		},
		CreatedAt: msg.CreatedAt,
	}
	return r.dispatcher.Dispatch(ctx, event, nil)
}

// senderName returns the display name used as the title of messages from senderID.
func (r *EventRelay) senderName(ctx context.Context, senderID string) (string, error) {
	if cached, err := r.senders.Get(senderID); err == nil {
		return cached.(string), nil
	}
	title := defaultMessageTitle
	sender, err := r.profiles.Resolve(ctx, senderID, "")
	switch {
	case err == nil && sender.DisplayName != "":
		title = sender.DisplayName
	case err != nil && !errors.Is(err, ErrRecipientNotFound):
		return "", err
	}
	if err := r.senders.Set(senderID, title); err != nil {
		log.Debugf("EventRelay: could not cache sender %s: %s", senderID, err)
	}
	return title, nil
}

// MessagePreview shortens content to at most 120 characters.
func MessagePreview(content string) string {
	content = strings.Join(strings.Fields(content), " ")
	if utf8.RuneCountInString(content) <= messagePreviewLength {
		return content
	}
	runes := []rune(content)
	return string(runes[:messagePreviewLength-1]) + "…"
}
