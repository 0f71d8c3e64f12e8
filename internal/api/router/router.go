// Package router assembles the HTTP surface of the receptionist.
package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/repliq-ai/receptionist/internal/http/handlers"
	httpmiddleware "github.com/repliq-ai/receptionist/internal/http/middleware"
	"github.com/repliq-ai/receptionist/pkg/logging"
)

// Config holds the handlers the router mounts.
type Config struct {
	Logger         *logging.Logger
	VoiceHandler   *handlers.VoiceHandler
	MessageHandler *handlers.MessageHandler
	MetricsHandler http.Handler
}

// New creates the chi router with all routes configured.
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	if cfg.Logger != nil {
		r.Use(httpmiddleware.RequestLogger(cfg.Logger))
	}

	r.Get("/health", handlers.HealthCheck)
	r.Get("/healthz", handlers.HealthCheck)

	r.Route("/voice", func(v chi.Router) {
		v.Post("/incoming", cfg.VoiceHandler.Incoming)
		v.Post("/lang", cfg.VoiceHandler.Lang)
		v.Post("/turn", cfg.VoiceHandler.Turn)
		v.Post("/status", cfg.VoiceHandler.Status)
	})

	r.Route("/webhooks", func(wh chi.Router) {
		wh.Post("/sms", cfg.MessageHandler.SMS)
		wh.Post("/whatsapp", cfg.MessageHandler.WhatsApp)
	})

	if cfg.MetricsHandler != nil {
		r.Handle("/metrics", cfg.MetricsHandler)
	}

	return r
}
