package controllers

import (
	"errors"
	"net/http"

	"github.com/m-barthelemy/notifyd/models"
	"github.com/m-barthelemy/notifyd/services"
	"github.com/m-barthelemy/notifyd/utils"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

type PreferencesController struct {
	db          *gorm.DB
	config      *models.Config
	preferences *services.PreferenceManager
}

type SetPreferenceRequest struct {
	Channel models.Channel `json:"channel" validate:"required"`
	Enabled *bool          `json:"enabled" validate:"required"`
}

func New(db *gorm.DB, config *models.Config) *PreferencesController {
	return &PreferencesController{db: db, config: config, preferences: services.NewPreferenceManager(db)}
}

func (p *PreferencesController) GetPreferences(w http.ResponseWriter, r *http.Request) {
	userID, ok := utils.Identity(r)
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}
	preference, err := p.preferences.Get(r.Context(), userID)
	if err != nil {
		log.Printf("PreferencesController: Error fetching preferences of %s: %s", userID, err.Error())
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	utils.JSONResponse(w, preference, http.StatusOK)
}

func (p *PreferencesController) SetPreference(w http.ResponseWriter, r *http.Request) {
	userID, ok := utils.Identity(r)
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	var request SetPreferenceRequest
	if err := utils.DecodeJSON(w, r, p.config.MaxBodySize, &request); err != nil {
		utils.ErrorResponse(w, err.Error(), http.StatusBadRequest)
		return
	}

	preference, err := p.preferences.Set(r.Context(), userID, request.Channel, *request.Enabled)
	if err != nil {
		if errors.Is(err, services.ErrInvalidChannel) {
			utils.ErrorResponse(w, err.Error(), http.StatusBadRequest)
			return
		}
		log.Printf("PreferencesController: Error saving preferences of %s: %s", userID, err.Error())
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	utils.JSONResponse(w, preference, http.StatusOK)
}
