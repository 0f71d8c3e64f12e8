package conversation

import (
	"time"

	"github.com/repliq-ai/receptionist/internal/phrases"
)

// Channel identifies where an utterance arrived from.
type Channel string

const (
	ChannelVoice Channel = "voice"
	ChannelSMS   Channel = "sms"
	ChannelChat  Channel = "chat"
)

// Field names one of the required booking fields, in ask-priority order.
type Field string

const (
	FieldService Field = "service"
	FieldTime    Field = "time"
	FieldName    Field = "name"
)

// Status is the closed set of turn outcomes.
type Status string

const (
	// StatusNeedField: one required field is missing; ask for it.
	StatusNeedField Status = "need_field"
	// StatusBusy: requested slot taken; two alternatives offered.
	StatusBusy Status = "busy"
	// StatusBooked: appointment confirmed.
	StatusBooked Status = "booked"
	// StatusRecovery: no bookable outcome; hand off to the booking link.
	StatusRecovery Status = "recovery"
	// StatusUnavailable: tenant not entitled to operate.
	StatusUnavailable Status = "unavailable"
)

// Outbound notification categories, used for at-most-once delivery per call.
const (
	NotifyConfirmation = "confirmation"
	NotifyRecovery     = "recovery"
)

// TurnInput is one inbound utterance plus its channel envelope.
type TurnInput struct {
	// Identity is the caller/sender identity as presented by the channel
	// (may carry a scheme prefix like "whatsapp:").
	Identity  string
	Utterance string
	Channel   Channel
	// LanguageHint is a call-scoped language override (e.g. from the DTMF
	// menu) or a locale hint; empty means none.
	LanguageHint string
	// CallID is set for voice turns only.
	CallID string
}

// TurnResult is the channel-agnostic outcome of one turn. The caller renders
// PromptKey to speech and MessageKey to an outbound text, both via the
// phrases table.
type TurnResult struct {
	Status       Status
	MissingField Field // set when Status == StatusNeedField

	PromptKey     phrases.Key
	MessageKey    phrases.Key
	MessageParams phrases.Params
	Language      phrases.Language

	// EndCall tells the voice channel to stop gathering after this prompt.
	EndCall bool
	// DedupCategory is the at-most-once notification category for the
	// outbound message, empty when ordinary per-turn replies are fine.
	DedupCategory string

	// Booking details, set when Status == StatusBooked.
	BookedStart time.Time
	EventRef    string
}
