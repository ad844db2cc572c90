package controllers

import (
	"net/http"

	"github.com/m-barthelemy/notifyd/models"
	"github.com/m-barthelemy/notifyd/services"
	"github.com/m-barthelemy/notifyd/utils"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

type PushController struct {
	db            *gorm.DB
	config        *models.Config
	subscriptions *services.SubscriptionManager
}

type VapidKey struct {
	PublicKey string `json:"public_key"`
}

// SubscribeRequest is the PushSubscription JSON produced by the browser.
type SubscribeRequest struct {
	Endpoint string          `json:"endpoint" validate:"required,url,max=768"`
	Keys     models.PushKeys `json:"keys" validate:"required"`
}

type UnsubscribeRequest struct {
	Endpoint string `json:"endpoint" validate:"required,max=768"`
}

// New creates an instance of the controller and sets its DB handle
func New(db *gorm.DB, config *models.Config) *PushController {
	return &PushController{db: db, config: config, subscriptions: services.NewSubscriptionManager(db, config)}
}

// GetPushSubscriptionKey returns the VAPID public key browsers subscribe with.
func (p *PushController) GetPushSubscriptionKey(w http.ResponseWriter, r *http.Request) {
	if p.config.VapidPublicKey == "" {
		utils.ErrorResponse(w, "push notifications are not configured", http.StatusServiceUnavailable)
		return
	}
	utils.JSONResponse(w, VapidKey{PublicKey: p.config.VapidPublicKey}, http.StatusOK)
}

func (p *PushController) RegisterPushSubscription(w http.ResponseWriter, r *http.Request) {
	userID, ok := utils.Identity(r)
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	var request SubscribeRequest
	if err := utils.DecodeJSON(w, r, p.config.MaxBodySize, &request); err != nil {
		utils.ErrorResponse(w, err.Error(), http.StatusBadRequest)
		return
	}

	subscription, err := p.subscriptions.Register(r.Context(), userID, request.Endpoint, request.Keys, r.UserAgent())
	if err != nil {
		log.Printf("PushController: Error saving push subscription for %s: %s", userID, err.Error())
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	log.Printf("PushController: User %s subscribed to push notifications", userID)
	utils.JSONResponse(w, map[string]string{"id": subscription.ID.String()}, http.StatusOK)
}

func (p *PushController) DeletePushSubscription(w http.ResponseWriter, r *http.Request) {
	userID, ok := utils.Identity(r)
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	var request UnsubscribeRequest
	if err := utils.DecodeJSON(w, r, p.config.MaxBodySize, &request); err != nil {
		utils.ErrorResponse(w, err.Error(), http.StatusBadRequest)
		return
	}

	deleted, err := p.subscriptions.Unregister(r.Context(), userID, request.Endpoint)
	if err != nil {
		log.Printf("PushController: Error deleting push subscription for %s: %s", userID, err.Error())
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	if deleted {
		log.Printf("PushController: User %s unsubscribed from push notifications", userID)
	}
	utils.JSONResponse(w, map[string]bool{"deleted": deleted}, http.StatusOK)
}
