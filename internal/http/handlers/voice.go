// Package handlers holds the HTTP edge: Twilio voice and messaging webhooks
// plus health checks. Handlers translate between Twilio's form/TwiML surface
// and the conversation engine; no booking logic lives here.
package handlers

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/repliq-ai/receptionist/internal/business"
	"github.com/repliq-ai/receptionist/internal/conversation"
	"github.com/repliq-ai/receptionist/internal/messaging"
	"github.com/repliq-ai/receptionist/internal/observability/metrics"
	"github.com/repliq-ai/receptionist/internal/phrases"
	"github.com/repliq-ai/receptionist/internal/session"
	"github.com/repliq-ai/receptionist/pkg/logging"
)

var voiceTracer = otel.Tracer("receptionist.internal.http.handlers")

// languageMenu is spoken before any language is known, so it stays English.
const languageMenu = "Hello. For English press 1. For Russian press 2. For Latvian press 3."

// VoiceHandler drives a phone call: language menu, speech gathering, and
// turn-by-turn dialogue against the conversation engine.
type VoiceHandler struct {
	engine    *conversation.Engine
	registry  *session.Registry
	notifier  *messaging.Notifier
	profile   *business.Profile
	authToken string
	defLang   phrases.Language
	logger    *logging.Logger
	metrics   *metrics.Metrics

	// PublicBaseURL, when set, anchors signature validation to the configured
	// public origin instead of trusting X-Forwarded-* headers.
	PublicBaseURL string
}

// NewVoiceHandler wires the voice webhook handler. An empty authToken
// disables signature validation (local development only).
func NewVoiceHandler(
	engine *conversation.Engine,
	registry *session.Registry,
	notifier *messaging.Notifier,
	profile *business.Profile,
	authToken string,
	defaultLanguage phrases.Language,
	logger *logging.Logger,
	m *metrics.Metrics,
) *VoiceHandler {
	if engine == nil {
		panic("handlers: engine cannot be nil")
	}
	if registry == nil {
		panic("handlers: registry cannot be nil")
	}
	if notifier == nil {
		panic("handlers: notifier cannot be nil")
	}
	if profile == nil {
		panic("handlers: profile cannot be nil")
	}
	if defaultLanguage == "" {
		defaultLanguage = phrases.LangEN
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &VoiceHandler{
		engine:    engine,
		registry:  registry,
		notifier:  notifier,
		profile:   profile,
		authToken: authToken,
		defLang:   defaultLanguage,
		logger:    logger,
		metrics:   m,
	}
}

func (h *VoiceHandler) authorized(r *http.Request) bool {
	if h.authToken == "" {
		return true
	}
	return messaging.ValidateTwilioSignature(r, h.authToken, signatureURL(r, h.PublicBaseURL))
}

// Incoming handles POST /voice/incoming: it opens the call session and plays
// the keypad language menu.
func (h *VoiceHandler) Incoming(w http.ResponseWriter, r *http.Request) {
	started := time.Now()
	defer func() { h.metrics.ObserveWebhookDuration("/voice/incoming", time.Since(started)) }()

	ctx, span := voiceTracer.Start(r.Context(), "voice.incoming")
	defer span.End()

	if !h.authorized(r) {
		h.logger.Warn("invalid twilio voice signature")
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	msg, err := messaging.ParseInbound(r)
	if err != nil {
		h.logger.Error("failed to parse voice webhook", "error", err)
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return
	}
	if msg.CallSid == "" {
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return
	}
	span.SetAttributes(attribute.String("repliq.call_sid", msg.CallSid))

	caller := messaging.NormalizeIdentity(msg.From)
	if _, err := h.registry.UpdateCall(ctx, msg.CallSid, caller, nil); err != nil {
		h.logger.Error("failed to open call session", "error", err, "call_sid", msg.CallSid)
	}

	writeTwiML(w, h.logger,
		twimlGather{
			Input:     "dtmf",
			NumDigits: 1,
			Action:    "/voice/lang",
			Method:    http.MethodPost,
			Timeout:   6,
			Say:       &twimlSay{Text: languageMenu},
		},
		// Reached only when the gather times out; the status callback then
		// takes care of the recovery SMS.
		twimlSay{Text: "We did not receive your choice. Goodbye."},
	)
}

// Lang handles POST /voice/lang: it stores the keypad language choice on the
// call session and starts gathering speech.
func (h *VoiceHandler) Lang(w http.ResponseWriter, r *http.Request) {
	started := time.Now()
	defer func() { h.metrics.ObserveWebhookDuration("/voice/lang", time.Since(started)) }()

	ctx, span := voiceTracer.Start(r.Context(), "voice.lang")
	defer span.End()

	if !h.authorized(r) {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	msg, err := messaging.ParseInbound(r)
	if err != nil || msg.CallSid == "" {
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return
	}

	lang := h.defLang
	switch msg.Digits {
	case "1":
		lang = phrases.LangEN
	case "2":
		lang = phrases.LangRU
	case "3":
		lang = phrases.LangLV
	}
	span.SetAttributes(
		attribute.String("repliq.call_sid", msg.CallSid),
		attribute.String("repliq.language", string(lang)),
	)

	caller := messaging.NormalizeIdentity(msg.From)
	if _, err := h.registry.UpdateCall(ctx, msg.CallSid, caller, func(c *session.Call) {
		c.ForcedLanguage = string(lang)
	}); err != nil {
		h.logger.Error("failed to store call language", "error", err, "call_sid", msg.CallSid)
	}

	prompt := h.render(lang, phrases.KeyAskService, h.baseParams())
	writeTwiML(w, h.logger,
		h.speechGather(lang, prompt),
		twimlSay{Text: "Sorry, I could not hear you. We will send you an SMS."},
	)
}

// Turn handles POST /voice/turn: one speech result in, one rendered engine
// outcome out.
func (h *VoiceHandler) Turn(w http.ResponseWriter, r *http.Request) {
	started := time.Now()
	defer func() { h.metrics.ObserveWebhookDuration("/voice/turn", time.Since(started)) }()

	ctx, span := voiceTracer.Start(r.Context(), "voice.turn")
	defer span.End()

	if !h.authorized(r) {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	msg, err := messaging.ParseInbound(r)
	if err != nil || msg.CallSid == "" {
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return
	}
	span.SetAttributes(attribute.String("repliq.call_sid", msg.CallSid))

	hint := ""
	if call, err := h.registry.PeekCall(ctx, msg.CallSid); err == nil && call != nil {
		hint = call.ForcedLanguage
	}

	utterance := msg.SpeechResult
	if utterance == "" {
		utterance = msg.Digits
	}

	res, err := h.engine.Advance(ctx, conversation.TurnInput{
		Identity:     msg.From,
		Utterance:    utterance,
		Channel:      conversation.ChannelVoice,
		LanguageHint: hint,
		CallID:       msg.CallSid,
	})
	if err != nil {
		h.logger.Error("voice turn failed", "error", err, "call_sid", msg.CallSid)
		writeTwiML(w, h.logger, twimlSay{Text: "Sorry, something went wrong. Goodbye."}, twimlHangup{})
		return
	}

	prompt := h.render(res.Language, res.PromptKey, res.MessageParams)
	if !res.EndCall {
		writeTwiML(w, h.logger,
			h.speechGather(res.Language, prompt),
			twimlRedirect{Method: http.MethodPost, URL: "/voice/turn"},
		)
		return
	}

	if res.DedupCategory != "" && msg.From != "" {
		body := h.render(res.Language, res.MessageKey, res.MessageParams)
		if err := h.notifier.SendOnce(ctx, msg.CallSid, res.DedupCategory, msg.From, body); err != nil {
			h.logger.Error("voice follow-up sms failed", "error", err, "call_sid", msg.CallSid)
		}
	}
	goodbye := h.render(res.Language, phrases.KeyGoodbye, h.baseParams())
	writeTwiML(w, h.logger, twimlSay{Text: prompt}, twimlSay{Text: goodbye}, twimlHangup{})
}

// voiceTerminalStatuses are the CallStatus values after which no further
// turn webhook will arrive.
var voiceTerminalStatuses = map[string]bool{
	"completed": true,
	"busy":      true,
	"failed":    true,
	"no-answer": true,
	"canceled":  true,
}

// Status handles POST /voice/status, Twilio's call status callback. A call
// that ended without a booking confirmation gets the recovery SMS, at most
// once per call.
func (h *VoiceHandler) Status(w http.ResponseWriter, r *http.Request) {
	started := time.Now()
	defer func() { h.metrics.ObserveWebhookDuration("/voice/status", time.Since(started)) }()

	ctx, span := voiceTracer.Start(r.Context(), "voice.status")
	defer span.End()

	if !h.authorized(r) {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	msg, err := messaging.ParseInbound(r)
	if err != nil || msg.CallSid == "" {
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return
	}

	if voiceTerminalStatuses[msg.CallStatus] && msg.From != "" {
		call, err := h.registry.PeekCall(ctx, msg.CallSid)
		if err != nil {
			h.logger.Error("failed to load call session", "error", err, "call_sid", msg.CallSid)
		}
		confirmed := call != nil && call.NotifiedKeys[conversation.NotifyConfirmation]
		if !confirmed {
			lang := h.defLang
			if call != nil && call.ForcedLanguage != "" {
				lang = phrases.Normalize(call.ForcedLanguage)
			}
			body := h.render(lang, phrases.KeyRecovery, h.baseParams())
			if err := h.notifier.SendOnce(ctx, msg.CallSid, conversation.NotifyRecovery, msg.From, body); err != nil {
				h.logger.Error("recovery sms failed", "error", err, "call_sid", msg.CallSid)
			}
		}
	}

	w.Header().Set("Content-Type", "text/plain")
	_, _ = w.Write([]byte("ok"))
}

func (h *VoiceHandler) speechGather(lang phrases.Language, prompt string) twimlGather {
	return twimlGather{
		Input:         "speech",
		Action:        "/voice/turn",
		Method:        http.MethodPost,
		Timeout:       7,
		SpeechTimeout: "auto",
		Language:      phrases.STTLocale(lang),
		Say:           &twimlSay{Text: prompt},
	}
}

func (h *VoiceHandler) render(lang phrases.Language, key phrases.Key, p phrases.Params) string {
	out, err := phrases.Render(lang, key, p)
	if err != nil {
		h.logger.Error("phrase render failed", "error", err, "key", string(key))
		return "Sorry, please try again later."
	}
	return out
}

func (h *VoiceHandler) baseParams() phrases.Params {
	return phrases.Params{
		BusinessName: h.profile.Name,
		Address:      h.profile.Address,
		Hours:        h.profile.Hours.String(),
		Link:         h.profile.RecoveryBookingLink,
	}
}

func signatureURL(r *http.Request, publicBase string) string {
	if publicBase != "" && r.URL != nil {
		return strings.TrimRight(publicBase, "/") + r.URL.RequestURI()
	}
	return buildAbsoluteURL(r)
}

func buildAbsoluteURL(r *http.Request) string {
	if r.URL == nil {
		return ""
	}
	if r.URL.Scheme != "" {
		return r.URL.String()
	}
	scheme := r.Header.Get("X-Forwarded-Proto")
	if scheme == "" {
		scheme = "https"
		if r.TLS == nil {
			scheme = "http"
		}
	}
	host := r.Header.Get("X-Forwarded-Host")
	if host == "" {
		host = r.Host
	}
	return fmt.Sprintf("%s://%s%s", scheme, host, r.URL.RequestURI())
}
