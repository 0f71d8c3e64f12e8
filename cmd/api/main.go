package main

import (
	"context"
	"crypto/tls"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	openai "github.com/sashabaranov/go-openai"

	"github.com/repliq-ai/receptionist/internal/api/router"
	"github.com/repliq-ai/receptionist/internal/business"
	"github.com/repliq-ai/receptionist/internal/calendar"
	appconfig "github.com/repliq-ai/receptionist/internal/config"
	"github.com/repliq-ai/receptionist/internal/conversation"
	"github.com/repliq-ai/receptionist/internal/entitlement"
	"github.com/repliq-ai/receptionist/internal/http/handlers"
	"github.com/repliq-ai/receptionist/internal/messaging"
	"github.com/repliq-ai/receptionist/internal/nlu"
	"github.com/repliq-ai/receptionist/internal/observability/metrics"
	"github.com/repliq-ai/receptionist/internal/phrases"
	"github.com/repliq-ai/receptionist/internal/scheduling"
	"github.com/repliq-ai/receptionist/internal/session"
	"github.com/repliq-ai/receptionist/internal/timeparse"
	"github.com/repliq-ai/receptionist/pkg/logging"
)

func main() {
	_ = godotenv.Load()

	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)
	logger.Info("starting receptionist API server",
		"env", cfg.Env,
		"port", cfg.Port,
	)

	profile, err := business.NewProfile(
		cfg.BusinessName,
		cfg.BusinessAddress,
		cfg.BusinessServices,
		cfg.BusinessHoursOpen,
		cfg.BusinessHoursClose,
		cfg.AppointmentMinutes,
		cfg.BusinessUTCOffset,
		cfg.RecoveryBookingLink,
	)
	if err != nil {
		logger.Error("invalid business profile", "error", err)
		os.Exit(1)
	}

	var store session.Store
	if cfg.UseRedisStore {
		opts := &redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		}
		if cfg.RedisTLS {
			opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
		}
		store = session.NewRedisStore(redis.NewClient(opts), cfg.SessionTTL)
		logger.Info("using redis session store", "addr", cfg.RedisAddr)
	} else {
		store = session.NewMemoryStore()
		logger.Info("using in-memory session store")
	}
	registry := session.NewRegistry(store, cfg.SessionTTL, cfg.HistoryMaxTurns, logger)

	var oracle calendar.Oracle = calendar.NullOracle{}
	if cfg.GoogleCalendarID != "" && cfg.GoogleCredentialsJSON != "" {
		oracle = calendar.NewGoogleOracle(
			cfg.GoogleCalendarID,
			[]byte(cfg.GoogleCredentialsJSON),
			cfg.CalendarRequestTimeout,
			logger,
		)
		logger.Info("using google calendar", "calendar_id", cfg.GoogleCalendarID)
	} else {
		logger.Warn("no calendar configured, availability checks disabled")
	}

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	var extractor nlu.Extractor = nlu.NullExtractor{}
	if cfg.OpenAIAPIKey != "" {
		openaiExtractor := nlu.NewOpenAIExtractor(
			openai.NewClient(cfg.OpenAIAPIKey),
			cfg.OpenAIModel,
			cfg.ExtractorTimeout,
			logger,
		)
		openaiExtractor.OnFailure = m.ObserveExtractorFailure
		extractor = openaiExtractor
	} else {
		logger.Warn("no OpenAI key configured, field extraction disabled")
	}

	var trialExpiresAt time.Time
	if cfg.TrialExpiresAt != "" {
		trialExpiresAt, err = time.Parse(time.RFC3339, cfg.TrialExpiresAt)
		if err != nil {
			logger.Error("invalid TRIAL_EXPIRES_AT", "error", err)
			os.Exit(1)
		}
	}
	gate := entitlement.NewStaticGate(cfg.TenantActive, trialExpiresAt, cfg.InactiveReason)

	finder := scheduling.NewFinder(profile.Hours, profile.AppointmentDuration, cfg.SlotSearchMaxSteps)
	resolver := timeparse.New(profile.Location)
	defaultLanguage := phrases.Normalize(cfg.DefaultLanguage)

	engine := conversation.NewEngine(
		registry, extractor, resolver, finder, oracle, gate,
		profile, defaultLanguage, m, logger,
	)

	var sender messaging.TextSender = messaging.NullSender{Logger: logger}
	if cfg.TwilioAccountSID != "" && cfg.TwilioAuthToken != "" {
		sender = messaging.NewTwilioSender(
			cfg.TwilioAccountSID,
			cfg.TwilioAuthToken,
			cfg.TwilioFromNumber,
			cfg.TwilioWhatsAppFrom,
			logger,
		)
	} else {
		logger.Warn("no Twilio credentials configured, outbound messages disabled")
	}
	notifier := messaging.NewNotifier(sender, registry, logger)

	webhookSecret := cfg.TwilioWebhookSecret
	if webhookSecret == "" {
		webhookSecret = cfg.TwilioAuthToken
	}

	voiceHandler := handlers.NewVoiceHandler(
		engine, registry, notifier, profile,
		webhookSecret, defaultLanguage, logger, m,
	)
	messageHandler := handlers.NewMessageHandler(engine, webhookSecret, logger, m)
	voiceHandler.PublicBaseURL = cfg.PublicBaseURL
	messageHandler.PublicBaseURL = cfg.PublicBaseURL

	r := router.New(&router.Config{
		Logger:         logger,
		VoiceHandler:   voiceHandler,
		MessageHandler: messageHandler,
		MetricsHandler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	logger.Info("server exited")
}
