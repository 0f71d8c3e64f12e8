package handlers

import (
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/repliq-ai/receptionist/internal/conversation"
	"github.com/repliq-ai/receptionist/internal/messaging"
	"github.com/repliq-ai/receptionist/internal/observability/metrics"
	"github.com/repliq-ai/receptionist/internal/phrases"
	"github.com/repliq-ai/receptionist/pkg/logging"
)

// MessageHandler serves the SMS and WhatsApp webhooks. Replies ride back to
// Twilio inline as TwiML, so no REST send is needed for the ordinary turn.
type MessageHandler struct {
	engine    *conversation.Engine
	authToken string
	logger    *logging.Logger
	metrics   *metrics.Metrics

	// PublicBaseURL, when set, anchors signature validation to the configured
	// public origin instead of trusting X-Forwarded-* headers.
	PublicBaseURL string
}

// NewMessageHandler wires the messaging webhook handler. An empty authToken
// disables signature validation (local development only).
func NewMessageHandler(engine *conversation.Engine, authToken string, logger *logging.Logger, m *metrics.Metrics) *MessageHandler {
	if engine == nil {
		panic("handlers: engine cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &MessageHandler{engine: engine, authToken: authToken, logger: logger, metrics: m}
}

// SMS handles POST /webhooks/sms.
func (h *MessageHandler) SMS(w http.ResponseWriter, r *http.Request) {
	h.handle(w, r, "/webhooks/sms", conversation.ChannelSMS)
}

// WhatsApp handles POST /webhooks/whatsapp.
func (h *MessageHandler) WhatsApp(w http.ResponseWriter, r *http.Request) {
	h.handle(w, r, "/webhooks/whatsapp", conversation.ChannelChat)
}

func (h *MessageHandler) handle(w http.ResponseWriter, r *http.Request, route string, channel conversation.Channel) {
	started := time.Now()
	defer func() { h.metrics.ObserveWebhookDuration(route, time.Since(started)) }()

	ctx, span := voiceTracer.Start(r.Context(), "messaging.webhook")
	defer span.End()
	span.SetAttributes(attribute.String("repliq.route", route))

	if h.authToken != "" && !messaging.ValidateTwilioSignature(r, h.authToken, signatureURL(r, h.PublicBaseURL)) {
		h.logger.Warn("invalid twilio signature", "route", route)
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	msg, err := messaging.ParseInbound(r)
	if err != nil {
		h.logger.Error("failed to parse webhook", "error", err, "route", route)
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return
	}
	if msg.From == "" {
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return
	}

	res, err := h.engine.Advance(ctx, conversation.TurnInput{
		Identity:  msg.From,
		Utterance: msg.Text(),
		Channel:   channel,
	})
	if err != nil {
		h.logger.Error("message turn failed", "error", err, "route", route)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	body, err := phrases.Render(res.Language, res.MessageKey, res.MessageParams)
	if err != nil {
		h.logger.Error("phrase render failed", "error", err, "key", string(res.MessageKey))
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	writeTwiML(w, h.logger, twimlMessage{Body: body})
}
