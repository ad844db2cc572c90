package controllers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gofrs/uuid"
	"github.com/gorilla/mux"
	"github.com/m-barthelemy/notifyd/models"
	"github.com/m-barthelemy/notifyd/services"
	"github.com/m-barthelemy/notifyd/utils"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

type NotificationsController struct {
	db            *gorm.DB
	config        *models.Config
	notifications *services.NotificationManager
}

type NotificationList struct {
	Notifications []models.Notification `json:"notifications"`
	Unread        int64                 `json:"unread"`
}

func New(db *gorm.DB, config *models.Config) *NotificationsController {
	return &NotificationsController{db: db, config: config, notifications: services.NewNotificationManager(db)}
}

// ListNotifications accepts `unread=true` and `limit` query parameters.
func (n *NotificationsController) ListNotifications(w http.ResponseWriter, r *http.Request) {
	userID, ok := utils.Identity(r)
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	query := r.URL.Query()
	unreadOnly := query.Get("unread") == "true"
	limit := 0
	if value := query.Get("limit"); value != "" {
		parsed, err := strconv.Atoi(value)
		if err != nil || parsed < 1 {
			utils.ErrorResponse(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = parsed
	}

	notifications, err := n.notifications.List(r.Context(), userID, unreadOnly, limit)
	if err != nil {
		log.Printf("NotificationsController: Error listing notifications of %s: %s", userID, err.Error())
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	unread, err := n.notifications.UnreadCount(r.Context(), userID)
	if err != nil {
		log.Printf("NotificationsController: Error counting notifications of %s: %s", userID, err.Error())
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	utils.JSONResponse(w, NotificationList{Notifications: notifications, Unread: unread}, http.StatusOK)
}

func (n *NotificationsController) MarkRead(w http.ResponseWriter, r *http.Request) {
	userID, ok := utils.Identity(r)
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}
	id, err := uuid.FromString(mux.Vars(r)["id"])
	if err != nil {
		utils.ErrorResponse(w, "invalid notification id", http.StatusBadRequest)
		return
	}

	notification, err := n.notifications.MarkRead(r.Context(), userID, id)
	if err != nil {
		if errors.Is(err, services.ErrNotFound) {
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
			return
		}
		log.Printf("NotificationsController: Error marking notification %s read: %s", id, err.Error())
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	utils.JSONResponse(w, notification, http.StatusOK)
}

func (n *NotificationsController) MarkAllRead(w http.ResponseWriter, r *http.Request) {
	userID, ok := utils.Identity(r)
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}
	updated, err := n.notifications.MarkAllRead(r.Context(), userID)
	if err != nil {
		log.Printf("NotificationsController: Error marking notifications of %s read: %s", userID, err.Error())
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	utils.JSONResponse(w, map[string]int64{"updated": updated}, http.StatusOK)
}
