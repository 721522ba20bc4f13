package rest

import (
	"database/sql"
	"log/slog"

	"github.com/frahmantamala/energy-settlement/internal/settlement"
	"github.com/frahmantamala/energy-settlement/internal/transport/middleware"
	"github.com/go-chi/chi"
	chiMiddleware "github.com/go-chi/chi/middleware"
)

func RegisterAllRoutes(router *chi.Mux, db *sql.DB, settlementHandler *settlement.Handler, webhookHandler *settlement.WebhookHandler, logger *slog.Logger) {
	healthHandler := NewHealthHandler(db)

	router.Use(middleware.CORS)
	router.Use(chiMiddleware.RequestID)
	router.Use(middleware.RequestID)
	router.Use(middleware.RecoveryMiddleware(logger))
	router.Use(middleware.LoggingMiddleware(logger))

	router.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", healthHandler.healthCheckHandler)
		r.Get("/ping", healthHandler.pingHandler)

		// the gateway posts payment results here; it must stay unauthenticated
		if webhookHandler != nil {
			r.Post("/payments/callback", webhookHandler.HandlePaymentCallback)
		}

		if settlementHandler != nil {
			r.Route("/settlements", func(sr chi.Router) {
				sr.Post("/purchase", settlementHandler.PurchaseEnergy)
				sr.Post("/manual-credit", settlementHandler.ManualCredit)
				sr.Post("/reap", settlementHandler.TriggerReap)
				sr.Get("/{checkoutRequestID}", settlementHandler.GetSettlementStatus)
			})
		}
	})
}
