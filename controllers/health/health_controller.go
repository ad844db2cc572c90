package controllers

import (
	"net/http"
	"time"

	"github.com/m-barthelemy/notifyd/services"
	"github.com/m-barthelemy/notifyd/utils"
	log "github.com/sirupsen/logrus"
)

type HealthController struct {
	monitor *services.HealthMonitor
}

type unhealthyReport struct {
	Status    services.HealthStatus `json:"status"`
	CheckedAt time.Time             `json:"checked_at"`
	Error     string                `json:"error"`
}

func New(monitor *services.HealthMonitor) *HealthController {
	return &HealthController{monitor: monitor}
}

// GetHealth answers 200 for healthy and degraded reports, 500 if the report could not be built.
func (h *HealthController) GetHealth(w http.ResponseWriter, r *http.Request) {
	report, err := h.monitor.Check(r.Context())
	if err != nil {
		log.WithError(err).Error("HealthController: health check failed")
		utils.JSONResponse(w, unhealthyReport{
			Status:    services.HealthUnhealthy,
			CheckedAt: time.Now(),
			Error:     err.Error(),
		}, http.StatusInternalServerError)
		return
	}
	utils.JSONResponse(w, report, http.StatusOK)
}
