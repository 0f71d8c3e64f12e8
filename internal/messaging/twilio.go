// Package messaging handles the Twilio edge: webhook authentication and
// parsing on the way in, SMS and WhatsApp sends on the way out.
package messaging

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
)

// ValidateTwilioSignature checks the X-Twilio-Signature header against the
// auth token. webhookURL must be the full public URL Twilio was configured
// with, including scheme and query string.
func ValidateTwilioSignature(r *http.Request, authToken, webhookURL string) bool {
	signature := r.Header.Get("X-Twilio-Signature")
	if signature == "" {
		return false
	}
	if err := r.ParseForm(); err != nil {
		return false
	}

	payload := buildSignaturePayload(webhookURL, r.PostForm)
	expected := computeSignature(payload, authToken)

	return hmac.Equal([]byte(signature), []byte(expected))
}

// buildSignaturePayload concatenates the URL with the POST params sorted by
// key, per Twilio's signing scheme.
func buildSignaturePayload(url string, params url.Values) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var payload strings.Builder
	payload.WriteString(url)
	for _, key := range keys {
		for _, value := range params[key] {
			payload.WriteString(key)
			payload.WriteString(value)
		}
	}
	return payload.String()
}

func computeSignature(data, key string) string {
	h := hmac.New(sha1.New, []byte(key))
	h.Write([]byte(data))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

// InboundMessage is one parsed Twilio webhook, covering both messaging and
// voice callbacks. Voice-only fields are empty on message webhooks and vice
// versa.
type InboundMessage struct {
	MessageSid   string
	AccountSid   string
	From         string
	To           string
	Body         string
	CallSid      string
	CallStatus   string
	Digits       string
	SpeechResult string
}

// ParseInbound reads a Twilio form-encoded webhook body.
func ParseInbound(r *http.Request) (*InboundMessage, error) {
	if err := r.ParseForm(); err != nil {
		return nil, fmt.Errorf("messaging: parse webhook form: %w", err)
	}
	return &InboundMessage{
		MessageSid:   r.FormValue("MessageSid"),
		AccountSid:   r.FormValue("AccountSid"),
		From:         r.FormValue("From"),
		To:           r.FormValue("To"),
		Body:         r.FormValue("Body"),
		CallSid:      r.FormValue("CallSid"),
		CallStatus:   r.FormValue("CallStatus"),
		Digits:       r.FormValue("Digits"),
		SpeechResult: r.FormValue("SpeechResult"),
	}, nil
}

// Text returns the utterance carried by this webhook: the message body for
// SMS/WhatsApp, the transcription for voice turns.
func (m *InboundMessage) Text() string {
	if m.Body != "" {
		return m.Body
	}
	return m.SpeechResult
}

// IsWhatsApp reports whether the sender address carries the WhatsApp scheme.
func (m *InboundMessage) IsWhatsApp() bool {
	return strings.HasPrefix(m.From, "whatsapp:")
}
