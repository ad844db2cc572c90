package controllers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/m-barthelemy/notifyd/models"
	"github.com/m-barthelemy/notifyd/services"
	"github.com/m-barthelemy/notifyd/utils"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// DispatchController receives notification events from the marketplace backend.
type DispatchController struct {
	db         *gorm.DB
	config     *models.Config
	dispatcher *services.Dispatcher
	relay      *services.EventRelay
	profiles   *services.ProfileManager
}

// EventFields are the parts of a notification event shared by single and bulk dispatch.
// Dispatch bodies are camelCase, as sent by the database triggers and the admin tools.
type EventFields struct {
	EventID       string                `json:"eventId" validate:"max=128"`
	Type          models.EventType      `json:"type" validate:"required"`
	Title         string                `json:"title" validate:"required,max=200"`
	Body          string                `json:"body" validate:"max=4000"`
	ActionURL     string                `json:"actionUrl" validate:"max=2048"`
	Metadata      json.RawMessage       `json:"metadata"`
	ForceChannels *models.ForceChannels `json:"forceChannels"`
}

type DispatchRequest struct {
	EventFields
	UserID    string      `json:"userId" validate:"required_without=ProfileID,max=64"`
	ProfileID string      `json:"profileId" validate:"max=64"`
	Role      models.Role `json:"role"`
}

// BulkDispatchRequest targets explicit users or profiles, or every profile having Role.
type BulkDispatchRequest struct {
	EventFields
	Role       models.Role `json:"role" validate:"required_without_all=UserIDs ProfileIDs"`
	UserIDs    []string    `json:"userIds" validate:"max=10000,dive,required,max=64"`
	ProfileIDs []string    `json:"profileIds" validate:"max=10000,dive,required,max=64"`
}

func New(db *gorm.DB, config *models.Config, dispatcher *services.Dispatcher, relay *services.EventRelay) *DispatchController {
	return &DispatchController{
		db:         db,
		config:     config,
		dispatcher: dispatcher,
		relay:      relay,
		profiles:   services.NewProfileManager(db),
	}
}

func (f *EventFields) toEvent() (models.NotificationEvent, error) {
	if !f.Type.Valid() {
		return models.NotificationEvent{}, services.ErrInvalidEvent
	}
	metadata, err := models.ParseMetadata(f.Type, f.Metadata)
	if err != nil {
		return models.NotificationEvent{}, err
	}
	return models.NotificationEvent{
		EventID:   f.EventID,
		Type:      f.Type,
		Title:     f.Title,
		Body:      f.Body,
		ActionURL: f.ActionURL,
		Metadata:  metadata,
	}, nil
}

func (d *DispatchController) Dispatch(w http.ResponseWriter, r *http.Request) {
	var request DispatchRequest
	if err := utils.DecodeJSON(w, r, d.config.MaxBodySize, &request); err != nil {
		utils.ErrorResponse(w, err.Error(), http.StatusBadRequest)
		return
	}
	event, err := request.toEvent()
	if err != nil {
		utils.ErrorResponse(w, err.Error(), http.StatusBadRequest)
		return
	}
	event.UserID = request.UserID
	event.ProfileID = request.ProfileID
	event.Role = request.Role

	result, err := d.dispatcher.Dispatch(r.Context(), event, request.ForceChannels)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrInvalidEvent), errors.Is(err, models.ErrMetadataKind):
			utils.ErrorResponse(w, err.Error(), http.StatusBadRequest)
		case errors.Is(err, services.ErrRecipientNotFound):
			utils.ErrorResponse(w, err.Error(), http.StatusNotFound)
		default:
			log.WithError(err).Errorf("DispatchController: dispatch of %s event failed", event.Type)
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		}
		return
	}
	utils.JSONResponse(w, result, http.StatusOK)
}

func (d *DispatchController) DispatchBulk(w http.ResponseWriter, r *http.Request) {
	var request BulkDispatchRequest
	if err := utils.DecodeJSON(w, r, d.config.MaxBodySize, &request); err != nil {
		utils.ErrorResponse(w, err.Error(), http.StatusBadRequest)
		return
	}
	if request.Role != "" && !request.Role.Valid() {
		utils.ErrorResponse(w, "invalid role", http.StatusBadRequest)
		return
	}
	template, err := request.toEvent()
	if err != nil {
		utils.ErrorResponse(w, err.Error(), http.StatusBadRequest)
		return
	}
	template.Role = request.Role

	recipients := make([]services.Recipient, 0, len(request.UserIDs)+len(request.ProfileIDs))
	for _, userID := range request.UserIDs {
		recipients = append(recipients, services.Recipient{UserID: userID})
	}
	for _, profileID := range request.ProfileIDs {
		recipients = append(recipients, services.Recipient{ProfileID: profileID})
	}
	if len(recipients) == 0 {
		if request.Role == "" {
			utils.ErrorResponse(w, "role, userIds or profileIds is required", http.StatusBadRequest)
			return
		}
		profiles, err := d.profiles.ListByRole(r.Context(), request.Role)
		if err != nil {
			log.WithError(err).Errorf("DispatchController: could not list %s profiles", request.Role)
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			return
		}
		for _, profile := range profiles {
			recipients = append(recipients, services.Recipient{UserID: profile.UserID, ProfileID: profile.ID.String()})
		}
	}

	result := d.dispatcher.DispatchBulk(r.Context(), template, recipients, request.ForceChannels)
	utils.JSONResponse(w, result, http.StatusOK)
}

// MessageCreated is called by the database webhook for every new conversation message.
// Delivery happens in the background.
func (d *DispatchController) MessageCreated(w http.ResponseWriter, r *http.Request) {
	var message services.MessageCreated
	if err := utils.DecodeJSON(w, r, d.config.MaxBodySize, &message); err != nil {
		utils.ErrorResponse(w, err.Error(), http.StatusBadRequest)
		return
	}
	d.relay.Publish(message)
	utils.JSONResponse(w, map[string]bool{"queued": true}, http.StatusAccepted)
}
