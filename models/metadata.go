package models

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"gorm.io/datatypes"
)

// MetadataVersion is written in every stored metadata envelope.
const MetadataVersion = 1

var ErrMetadataKind = errors.New("metadata does not match event type")

// Metadata is the typed extra payload attached to a notification.
// Each EventType has exactly one metadata shape.
type Metadata interface {
	Kind() EventType
}

type MessageMetadata struct {
	ConversationID string `json:"conversation_id"`
	SenderID       string `json:"sender_id,omitempty"`
}

func (MessageMetadata) Kind() EventType { return EventMessage }

type AnnouncementMetadata struct {
	AnnouncementID string `json:"announcement_id"`
	Audience       Role   `json:"audience,omitempty"`
}

func (AnnouncementMetadata) Kind() EventType { return EventAnnouncement }

type PaymentErrorMetadata struct {
	InvoiceID string `json:"invoice_id"`
	Reason    string `json:"reason,omitempty"`
}

func (PaymentErrorMetadata) Kind() EventType { return EventPaymentError }

type TrialStatusMetadata struct {
	PlanID        string `json:"plan_id,omitempty"`
	DaysRemaining int    `json:"days_remaining"`
	Expired       bool   `json:"expired"`
}

func (TrialStatusMetadata) Kind() EventType { return EventTrialStatus }

type BookingStatusMetadata struct {
	BookingID string `json:"booking_id"`
	Status    string `json:"status"`
}

func (BookingStatusMetadata) Kind() EventType { return EventBookingStatus }

type metadataEnvelope struct {
	Version int             `json:"v"`
	Kind    EventType       `json:"kind"`
	Data    json.RawMessage `json:"data"`
}

func emptyMetadata(t EventType) (Metadata, error) {
	switch t {
	case EventMessage:
		return &MessageMetadata{}, nil
	case EventAnnouncement:
		return &AnnouncementMetadata{}, nil
	case EventPaymentError:
		return &PaymentErrorMetadata{}, nil
	case EventTrialStatus:
		return &TrialStatusMetadata{}, nil
	case EventBookingStatus:
		return &BookingStatusMetadata{}, nil
	}
	return nil, fmt.Errorf("unknown metadata kind %q", t)
}

// deref returns the value behind the pointers built by emptyMetadata so that
// callers always get value types out of ParseMetadata and DecodeMetadata.
func deref(m Metadata) Metadata {
	switch v := m.(type) {
	case *MessageMetadata:
		return *v
	case *AnnouncementMetadata:
		return *v
	case *PaymentErrorMetadata:
		return *v
	case *TrialStatusMetadata:
		return *v
	case *BookingStatusMetadata:
		return *v
	}
	return m
}

// ParseMetadata decodes the raw metadata received along with an event of type t.
// Unknown fields are rejected. Empty input yields nil metadata.
func ParseMetadata(t EventType, raw json.RawMessage) (Metadata, error) {
	if len(bytes.TrimSpace(raw)) == 0 || string(bytes.TrimSpace(raw)) == "null" {
		return nil, nil
	}
	m, err := emptyMetadata(t)
	if err != nil {
		return nil, err
	}
	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(m); err != nil {
		return nil, fmt.Errorf("invalid %s metadata: %w", t, err)
	}
	return deref(m), nil
}

// EncodeMetadata wraps m in a versioned envelope for storage.
func EncodeMetadata(t EventType, m Metadata) (datatypes.JSON, error) {
	if m == nil {
		return nil, nil
	}
	if m.Kind() != t {
		return nil, fmt.Errorf("%w: %s metadata on %s event", ErrMetadataKind, m.Kind(), t)
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	envelope, err := json.Marshal(metadataEnvelope{Version: MetadataVersion, Kind: m.Kind(), Data: data})
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(envelope), nil
}

// DecodeMetadata reads back an envelope written by EncodeMetadata.
func DecodeMetadata(raw datatypes.JSON) (Metadata, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var envelope metadataEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, err
	}
	if envelope.Version != MetadataVersion {
		return nil, fmt.Errorf("unsupported metadata version %d", envelope.Version)
	}
	m, err := emptyMetadata(envelope.Kind)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(envelope.Data, m); err != nil {
		return nil, err
	}
	return deref(m), nil
}
