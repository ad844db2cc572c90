package models

import "time"

// NotificationPreference holds the per user channel opt-ins.
// A user without a row gets DefaultPreference.
type NotificationPreference struct {
	UserID       string    `gorm:"size:64;primaryKey" json:"user_id"`
	ChannelInApp bool      `json:"channel_inapp"`
	ChannelPush  bool      `json:"channel_push"`
	ChannelEmail bool      `json:"channel_email"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// DefaultPreference returns the opt-ins of a user who never changed them.
func DefaultPreference(userID string) NotificationPreference {
	return NotificationPreference{
		UserID:       userID,
		ChannelInApp: true,
		ChannelPush:  true,
		ChannelEmail: true,
	}
}

// Enabled returns the flag of the given channel.
func (p NotificationPreference) Enabled(channel Channel) bool {
	switch channel {
	case ChannelInApp:
		return p.ChannelInApp
	case ChannelPush:
		return p.ChannelPush
	case ChannelEmail:
		return p.ChannelEmail
	}
	return false
}
