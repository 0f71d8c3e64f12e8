// Package conversation drives the booking dialogue: one inbound utterance in,
// one channel-agnostic outcome out. The engine owns field collection order,
// availability handling, and the pending-offer protocol; channels only render
// its results.
package conversation

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/repliq-ai/receptionist/internal/business"
	"github.com/repliq-ai/receptionist/internal/calendar"
	"github.com/repliq-ai/receptionist/internal/entitlement"
	"github.com/repliq-ai/receptionist/internal/messaging"
	"github.com/repliq-ai/receptionist/internal/nlu"
	"github.com/repliq-ai/receptionist/internal/observability/metrics"
	"github.com/repliq-ai/receptionist/internal/phrases"
	"github.com/repliq-ai/receptionist/internal/scheduling"
	"github.com/repliq-ai/receptionist/internal/session"
	"github.com/repliq-ai/receptionist/internal/timeparse"
	"github.com/repliq-ai/receptionist/pkg/logging"
)

var tracer = otel.Tracer("receptionist.internal.conversation")

// Engine is the conversation state machine. One instance serves all channels;
// per-identity serialization is delegated to the session registry.
type Engine struct {
	registry  *session.Registry
	extractor nlu.Extractor
	resolver  *timeparse.Resolver
	finder    *scheduling.Finder
	oracle    calendar.Oracle
	gate      entitlement.Gate
	profile   *business.Profile
	defLang   phrases.Language
	metrics   *metrics.Metrics
	logger    *logging.Logger
	now       func() time.Time
}

// NewEngine wires the conversation engine. Gate may be nil (defaults to
// allow-all); metrics may be nil.
func NewEngine(
	registry *session.Registry,
	extractor nlu.Extractor,
	resolver *timeparse.Resolver,
	finder *scheduling.Finder,
	oracle calendar.Oracle,
	gate entitlement.Gate,
	profile *business.Profile,
	defaultLanguage phrases.Language,
	m *metrics.Metrics,
	logger *logging.Logger,
) *Engine {
	if registry == nil {
		panic("conversation: registry cannot be nil")
	}
	if extractor == nil {
		panic("conversation: extractor cannot be nil")
	}
	if resolver == nil {
		panic("conversation: resolver cannot be nil")
	}
	if finder == nil {
		panic("conversation: finder cannot be nil")
	}
	if oracle == nil {
		panic("conversation: oracle cannot be nil")
	}
	if profile == nil {
		panic("conversation: profile cannot be nil")
	}
	if gate == nil {
		gate = entitlement.AllowAll{}
	}
	if defaultLanguage == "" {
		defaultLanguage = phrases.LangEN
	}
	if logger == nil {
		logger = logging.Default()
	}
	e := &Engine{
		registry:  registry,
		extractor: extractor,
		resolver:  resolver,
		finder:    finder,
		oracle:    oracle,
		gate:      gate,
		profile:   profile,
		defLang:   defaultLanguage,
		metrics:   m,
		logger:    logger,
	}
	e.now = profile.Now
	return e
}

// Advance processes one inbound utterance and returns the outcome for the
// channel to render. The whole turn for an identity runs under that
// identity's session lock; turns for different identities proceed in
// parallel.
func (e *Engine) Advance(ctx context.Context, in TurnInput) (TurnResult, error) {
	ctx, span := tracer.Start(ctx, "conversation.Advance",
		trace.WithAttributes(attribute.String("channel", string(in.Channel))))
	defer span.End()

	if d := e.gate.Check(ctx); !d.Allowed {
		// Denied tenants get the unavailable notice and nothing else: no
		// extraction, no calendar traffic, no session writes.
		lang := phrases.Normalize(in.LanguageHint)
		if in.LanguageHint == "" {
			lang = phrases.Detect(in.Utterance, e.defLang)
		}
		res := TurnResult{
			Status:        StatusUnavailable,
			PromptKey:     phrases.KeyUnavailable,
			MessageKey:    phrases.KeyUnavailable,
			MessageParams: e.baseParams(),
			Language:      lang,
			EndCall:       true,
		}
		e.finishTurn(span, in, res)
		e.logger.Warn("turn refused", "reason", d.Reason, "channel", in.Channel)
		return res, nil
	}

	identity := messaging.NormalizeIdentity(in.Identity)

	var res TurnResult
	if identity == "" {
		// No caller identity means no session to keep; handle the turn
		// statelessly against a throwaway memory.
		res = e.turn(ctx, in, &session.Memory{})
	} else {
		_, err := e.registry.UpdateMemory(ctx, identity, func(mem *session.Memory) {
			res = e.turn(ctx, in, mem)
		})
		if err != nil {
			span.RecordError(err)
			return TurnResult{}, fmt.Errorf("conversation: advance %s: %w", identity, err)
		}
	}

	e.finishTurn(span, in, res)
	return res, nil
}

func (e *Engine) finishTurn(span trace.Span, in TurnInput, res TurnResult) {
	span.SetAttributes(attribute.String("status", string(res.Status)))
	e.metrics.ObserveTurn(string(in.Channel), string(res.Status))
}

// turn holds the whole per-utterance protocol. It runs under the identity's
// session lock and mutates mem in place.
func (e *Engine) turn(ctx context.Context, in TurnInput, mem *session.Memory) TurnResult {
	utterance := strings.TrimSpace(in.Utterance)
	lang := e.resolveLanguage(in, mem, utterance)

	if utterance != "" {
		mem.AppendHistory(session.HistoryEntry{
			At:      e.now(),
			Channel: string(in.Channel),
			Text:    utterance,
		}, 0)
	}
	if mem.Phone == "" {
		mem.Phone = mem.Identity
	}

	if offer := mem.PendingOffer; offer != nil {
		switch utterance {
		case "1":
			mem.Service = offer.Service
			if offer.ContactName != "" {
				mem.ContactName = offer.ContactName
			}
			return e.book(ctx, in, mem, offer.OptionA, lang)
		case "2":
			mem.Service = offer.Service
			if offer.ContactName != "" {
				mem.ContactName = offer.ContactName
			}
			return e.book(ctx, in, mem, offer.OptionB, lang)
		}
		// A new time expression supersedes the offer. Anything else keeps
		// the offer alive so a later "1" or "2" still works.
		if timeparse.HasTimeOfDay(utterance) {
			mem.PendingOffer = nil
		}
	}

	guess := e.extractor.Extract(ctx, utterance, e.profile, string(lang))
	if s := strings.TrimSpace(guess.Service); s != "" {
		mem.Service = s
	}
	if n := strings.TrimSpace(guess.Name); n != "" {
		mem.ContactName = n
	}
	if mem.Phone == "" && guess.Phone != "" {
		mem.Phone = guess.Phone
	}
	// An appointment time is only ever taken from the current turn: stale
	// guesses never move a previously agreed slot.
	if resolved, ok := e.resolver.Resolve(guess.ISOTime, guess.TimeText, utterance, e.now()); ok {
		mem.ResolvedStart = resolved
		if guess.TimeText != "" {
			mem.RawTimeText = guess.TimeText
		} else {
			mem.RawTimeText = utterance
		}
		mem.PendingOffer = nil
	}

	if mem.Service == "" {
		return e.ask(FieldService, phrases.KeyAskService, lang)
	}
	if !mem.HasResolvedStart() {
		return e.ask(FieldTime, phrases.KeyAskTime, lang)
	}
	if mem.ContactName == "" {
		return e.ask(FieldName, phrases.KeyAskName, lang)
	}

	if !e.profile.WithinHours(mem.ResolvedStart) {
		mem.ResolvedStart = time.Time{}
		mem.RawTimeText = ""
		res := e.ask(FieldTime, phrases.KeyInvalidTime, lang)
		return res
	}

	start := mem.ResolvedStart.In(e.profile.Location)
	end := start.Add(e.profile.AppointmentDuration)
	busy, err := e.oracle.IsBusy(ctx, start, end)
	if err != nil {
		e.logger.Warn("availability check failed, assuming free", "error", err)
		busy = false
	}
	if !busy {
		return e.book(ctx, in, mem, start, lang)
	}

	alternatives := e.finder.FindAlternatives(ctx, e.oracle.IsBusy, start, 2)
	if len(alternatives) == 2 {
		mem.PendingOffer = &session.PendingOffer{
			OptionA:     alternatives[0],
			OptionB:     alternatives[1],
			Service:     mem.Service,
			ContactName: mem.ContactName,
		}
		p := e.baseParams()
		p.OptionA = phrases.FormatSlot(alternatives[0].In(e.profile.Location))
		p.OptionB = phrases.FormatSlot(alternatives[1].In(e.profile.Location))
		return TurnResult{
			Status:        StatusBusy,
			PromptKey:     phrases.KeyBusyOffer,
			MessageKey:    phrases.KeyBusyOffer,
			MessageParams: p,
			Language:      lang,
		}
	}

	return TurnResult{
		Status:        StatusRecovery,
		PromptKey:     phrases.KeyRecovery,
		MessageKey:    phrases.KeyRecovery,
		MessageParams: e.baseParams(),
		Language:      lang,
		EndCall:       true,
		DedupCategory: NotifyRecovery,
	}
}

// book confirms the appointment at start. A failed calendar write is logged
// and counted but still confirmed to the customer; the business resolves the
// conflict manually rather than losing the booking.
func (e *Engine) book(ctx context.Context, in TurnInput, mem *session.Memory, start time.Time, lang phrases.Language) TurnResult {
	start = start.In(e.profile.Location)
	end := start.Add(e.profile.AppointmentDuration)

	summary := fmt.Sprintf("%s: %s (%s)", e.profile.Name, mem.Service, mem.ContactName)
	description := fmt.Sprintf(
		"Booked via %s\nName: %s\nPhone: %s\nRequested: %q\nScheduled: %s",
		in.Channel, mem.ContactName, mem.Phone, mem.RawTimeText, start.Format(time.RFC3339),
	)

	ref, err := e.oracle.CreateEvent(ctx, start, end, summary, description)
	if err != nil {
		e.metrics.ObserveCalendarWriteFailure()
		e.logger.Error("calendar write failed, confirming anyway",
			"error", err, "start", start.Format(time.RFC3339), "identity", mem.Identity)
	}

	p := e.baseParams()
	p.Service = mem.Service
	p.Name = mem.ContactName
	p.Time = phrases.FormatSlot(start)

	// The slot is settled; clear it so a later thank-you message cannot
	// re-book. Service and name stay for the next visit.
	mem.PendingOffer = nil
	mem.ResolvedStart = time.Time{}
	mem.RawTimeText = ""

	e.metrics.ObserveBooking(string(in.Channel))
	e.logger.Info("appointment booked",
		"channel", in.Channel, "service", p.Service, "start", start.Format(time.RFC3339), "event_ref", ref)

	return TurnResult{
		Status:        StatusBooked,
		PromptKey:     phrases.KeyConfirmed,
		MessageKey:    phrases.KeyConfirmed,
		MessageParams: p,
		Language:      lang,
		EndCall:       true,
		DedupCategory: NotifyConfirmation,
		BookedStart:   start,
		EventRef:      ref,
	}
}

func (e *Engine) ask(field Field, key phrases.Key, lang phrases.Language) TurnResult {
	return TurnResult{
		Status:        StatusNeedField,
		MissingField:  field,
		PromptKey:     key,
		MessageKey:    key,
		MessageParams: e.baseParams(),
		Language:      lang,
	}
}

// resolveLanguage picks the turn's language. An explicit hint (the voice
// menu) always wins and is written to memory; otherwise the stored language
// sticks. Detection only runs on a first contact with real text, so a bare
// "1" or "2" can never flip an established language.
func (e *Engine) resolveLanguage(in TurnInput, mem *session.Memory, utterance string) phrases.Language {
	if in.LanguageHint != "" {
		lang := phrases.Normalize(in.LanguageHint)
		mem.Language = string(lang)
		return lang
	}
	if mem.Language != "" {
		return phrases.Language(mem.Language)
	}
	if utterance == "" || isMenuDigit(utterance) {
		return e.defLang
	}
	lang := phrases.Detect(utterance, e.defLang)
	mem.Language = string(lang)
	return lang
}

func isMenuDigit(s string) bool {
	return s == "1" || s == "2" || s == "3"
}

func (e *Engine) baseParams() phrases.Params {
	return phrases.Params{
		BusinessName: e.profile.Name,
		Address:      e.profile.Address,
		Hours:        e.profile.Hours.String(),
		Link:         e.profile.RecoveryBookingLink,
	}
}
