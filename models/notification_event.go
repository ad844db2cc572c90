package models

import "time"

// EventType is the kind of marketplace event a notification originates from.
type EventType string

const (
	EventMessage       EventType = "message"
	EventAnnouncement  EventType = "announcement"
	EventPaymentError  EventType = "payment_error"
	EventTrialStatus   EventType = "trial_status"
	EventBookingStatus EventType = "booking_status"
)

// Valid reports whether t is a known event type.
func (t EventType) Valid() bool {
	switch t {
	case EventMessage, EventAnnouncement, EventPaymentError, EventTrialStatus, EventBookingStatus:
		return true
	}
	return false
}

// Channel is a delivery medium.
type Channel string

const (
	ChannelInApp Channel = "inapp"
	ChannelPush  Channel = "push"
	ChannelEmail Channel = "email"
)

// Valid reports whether c is a known delivery channel.
func (c Channel) Valid() bool {
	return c == ChannelInApp || c == ChannelPush || c == ChannelEmail
}

// NotificationEvent is what the Dispatcher consumes. It is never persisted as such
// and must not be mutated once handed to the Dispatcher.
type NotificationEvent struct {
	// EventID is an optional caller supplied key. When set, dispatching the same
	// event twice to the same user is detected and not delivered again.
	EventID   string
	Type      EventType
	UserID    string
	ProfileID string
	Role      Role
	Title     string
	Body      string
	ActionURL string
	Metadata  Metadata
	CreatedAt time.Time
}

// ForceChannels overrides the recipient preferences for a single dispatch.
// A nil pointer leaves the stored preference in charge of that channel.
type ForceChannels struct {
	InApp *bool `json:"inapp"`
	Push  *bool `json:"push"`
	Email *bool `json:"email"`
}
