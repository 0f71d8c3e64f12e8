// Package nlu wraps the natural-language field extraction call. The model is
// treated as an unreliable collaborator: any failure — timeout, quota, bad
// JSON — degrades to an empty guess so the conversation keeps moving on
// whatever was already known.
package nlu

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/repliq-ai/receptionist/internal/business"
	"github.com/repliq-ai/receptionist/pkg/logging"
)

var nluTracer = otel.Tracer("receptionist.internal.nlu")

// Guess is the best-effort structured reading of one utterance. Every field
// is independently optional; empty means the model saw nothing for it.
type Guess struct {
	Service  string `json:"service"`
	TimeText string `json:"time_text"`
	ISOTime  string `json:"iso_time"`
	Name     string `json:"name"`
	Phone    string `json:"phone"`
}

// Extractor produces a Guess from an utterance. Implementations never return
// an error to the caller; failure is an all-empty Guess.
type Extractor interface {
	Extract(ctx context.Context, utterance string, biz *business.Profile, languageHint string) Guess
}

type chatClient interface {
	CreateChatCompletion(ctx context.Context, request openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// OpenAIExtractor extracts booking fields with an OpenAI chat completion in
// strict JSON mode.
type OpenAIExtractor struct {
	client  chatClient
	model   string
	timeout time.Duration
	logger  *logging.Logger

	// OnFailure, when set, is called each time extraction degrades to an
	// empty guess because of a transport or parse error.
	OnFailure func()
}

// NewOpenAIExtractor builds an extractor. An empty model selects gpt-4o-mini.
func NewOpenAIExtractor(client chatClient, model string, timeout time.Duration, logger *logging.Logger) *OpenAIExtractor {
	if client == nil {
		panic("nlu: chat client cannot be nil")
	}
	if model == "" {
		model = openai.GPT4oMini
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &OpenAIExtractor{client: client, model: model, timeout: timeout, logger: logger}
}

const systemPromptTemplate = `You are the AI receptionist for %s.
Business:
- Address: %s
- Hours: %s
- Services: %s

Extract booking intent from the customer's message. The customer may speak English, Russian, or Latvian.
Return STRICT JSON with keys:
service: string|null    (requested service, verbatim in the customer's language)
time_text: string|null  (the time/date expression exactly as the customer said it)
iso_time: string|null   (ISO-8601 timestamp if the date AND time are unambiguous, else null)
name: string|null       (the customer's name if stated)
phone: string|null      (a phone number if dictated)
Rules:
- Use null for anything not present in this message. Never guess.
- Do not invent prices or services.`

// Extract runs the model within the configured timeout. All failure paths
// return a zero Guess.
func (e *OpenAIExtractor) Extract(ctx context.Context, utterance string, biz *business.Profile, languageHint string) Guess {
	ctx, span := nluTracer.Start(ctx, "nlu.extract")
	defer span.End()
	span.SetAttributes(attribute.String("repliq.language_hint", languageHint))

	if utterance == "" {
		return Guess{}
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	system := fmt.Sprintf(systemPromptTemplate, biz.Name, biz.Address, biz.Hours.String(), biz.Services)
	user := fmt.Sprintf("Customer said: %s\nLanguage mode: %s", utterance, languageHint)

	resp, err := e.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       e.model,
		Temperature: 0.2,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
	})
	if err != nil {
		span.RecordError(err)
		e.logger.Warn("field extraction failed, degrading to empty guess", "error", err)
		e.failed()
		return Guess{}
	}
	if len(resp.Choices) == 0 {
		return Guess{}
	}

	var guess Guess
	if err := json.Unmarshal([]byte(resp.Choices[0].Message.Content), &guess); err != nil {
		span.RecordError(err)
		e.logger.Warn("field extraction returned malformed JSON", "error", err)
		e.failed()
		return Guess{}
	}
	return guess
}

func (e *OpenAIExtractor) failed() {
	if e.OnFailure != nil {
		e.OnFailure()
	}
}

// NullExtractor is used when no model is configured; it always returns an
// empty guess, leaving the regex time fallback as the only signal.
type NullExtractor struct{}

// Extract returns a zero Guess.
func (NullExtractor) Extract(context.Context, string, *business.Profile, string) Guess {
	return Guess{}
}
