package routes

import (
	"net/http"
	"os"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	dispatchController "github.com/m-barthelemy/notifyd/controllers/dispatch"
	healthController "github.com/m-barthelemy/notifyd/controllers/health"
	notificationsController "github.com/m-barthelemy/notifyd/controllers/notifications"
	preferencesController "github.com/m-barthelemy/notifyd/controllers/preferences"
	pushController "github.com/m-barthelemy/notifyd/controllers/push"
	"github.com/m-barthelemy/notifyd/models"
	"github.com/m-barthelemy/notifyd/services"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

func New(config *models.Config, db *gorm.DB, dispatcher *services.Dispatcher, relay *services.EventRelay) http.Handler {
	session := NewSessionHandler(config)
	router := mux.NewRouter()

	// Called by the marketplace backend and database webhooks only.
	dispatchC := dispatchController.New(db, config, dispatcher, relay)
	internal := router.PathPrefix("/internal").Subrouter()
	internal.HandleFunc("/dispatch", session.InternalMiddleware(dispatchC.Dispatch)).Methods("POST")
	internal.HandleFunc("/dispatch/bulk", session.InternalMiddleware(dispatchC.DispatchBulk)).Methods("POST")
	internal.HandleFunc("/events/message", session.InternalMiddleware(dispatchC.MessageCreated)).Methods("POST")

	// Browser facing
	pushC := pushController.New(db, config)
	router.HandleFunc("/push/key", pushC.GetPushSubscriptionKey).Methods("GET")
	router.HandleFunc("/push/subscribe", session.SessionMiddleware(pushC.RegisterPushSubscription)).Methods("POST")
	router.HandleFunc("/push/unsubscribe", session.SessionMiddleware(pushC.DeletePushSubscription)).Methods("POST")

	preferencesC := preferencesController.New(db, config)
	router.HandleFunc("/preferences", session.SessionMiddleware(preferencesC.GetPreferences)).Methods("GET")
	router.HandleFunc("/preferences", session.SessionMiddleware(preferencesC.SetPreference)).Methods("PUT")

	notificationsC := notificationsController.New(db, config)
	router.HandleFunc("/notifications", session.SessionMiddleware(notificationsC.ListNotifications)).Methods("GET")
	router.HandleFunc("/notifications/read-all", session.SessionMiddleware(notificationsC.MarkAllRead)).Methods("POST")
	router.HandleFunc("/notifications/{id}/read", session.SessionMiddleware(notificationsC.MarkRead)).Methods("POST")

	healthC := healthController.New(services.NewHealthMonitor(db, config))
	router.HandleFunc("/health", healthC.GetHealth).Methods("GET")
	router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	c := cors.New(cors.Options{
		AllowedOrigins: config.AllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:         600,
	})

	return handlers.RecoveryHandler(handlers.RecoveryLogger(log.StandardLogger()))(
		handlers.LoggingHandler(os.Stdout, c.Handler(router)),
	)
}
