package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/repliq-ai/receptionist/pkg/logging"
)

var sendTracer = otel.Tracer("receptionist.internal.messaging")

// TextSender delivers one outbound text to a channel address. A "whatsapp:"
// prefixed address selects the WhatsApp channel; bare numbers go out as SMS.
type TextSender interface {
	Send(ctx context.Context, to, body string) error
}

// TwilioSender posts messages through Twilio's REST API.
type TwilioSender struct {
	accountSID string
	authToken  string
	smsFrom    string
	waFrom     string
	endpoint   string
	httpClient *http.Client
	logger     *logging.Logger
}

// NewTwilioSender builds a sender. smsFrom and waFrom are the business's
// Twilio numbers for the two channels; waFrom may equal smsFrom.
func NewTwilioSender(accountSID, authToken, smsFrom, waFrom string, logger *logging.Logger) *TwilioSender {
	if logger == nil {
		logger = logging.Default()
	}
	if waFrom == "" {
		waFrom = smsFrom
	}
	return &TwilioSender{
		accountSID: accountSID,
		authToken:  authToken,
		smsFrom:    smsFrom,
		waFrom:     waFrom,
		endpoint:   fmt.Sprintf("https://api.twilio.com/2010-04-01/Accounts/%s/Messages.json", accountSID),
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		logger: logger,
	}
}

// Send dispatches a single message, retrying transient failures.
func (s *TwilioSender) Send(ctx context.Context, to, body string) error {
	if s.accountSID == "" || s.authToken == "" {
		return errors.New("messaging: twilio credentials missing")
	}
	if to == "" {
		return errors.New("messaging: to required")
	}
	if strings.TrimSpace(body) == "" {
		return errors.New("messaging: body required")
	}

	from := s.smsFrom
	if strings.HasPrefix(to, "whatsapp:") {
		from = s.waFrom
		if !strings.HasPrefix(from, "whatsapp:") {
			from = "whatsapp:" + from
		}
	}
	if from == "" {
		return errors.New("messaging: from number not configured")
	}

	ctx, span := sendTracer.Start(ctx, "messaging.twilio.send")
	defer span.End()
	span.SetAttributes(attribute.String("repliq.to", to))

	payload := url.Values{}
	payload.Set("To", to)
	payload.Set("From", from)
	payload.Set("Body", body)

	var lastErr error
	for attempt := 1; attempt <= 3; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, strings.NewReader(payload.Encode()))
		if err != nil {
			lastErr = err
			break
		}
		req.SetBasicAuth(s.accountSID, s.authToken)
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

		resp, err := s.httpClient.Do(req)
		if err != nil {
			lastErr = err
		} else {
			respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			resp.Body.Close()
			if resp.StatusCode >= 200 && resp.StatusCode < 300 {
				s.logger.Info("twilio message sent", "to", to)
				return nil
			}
			lastErr = fmt.Errorf("messaging: twilio send: %s", formatTwilioError(resp.StatusCode, respBody))
			// Non-rate-limit 4xx errors will not succeed on retry.
			if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != 429 {
				break
			}
		}

		if attempt < 3 {
			time.Sleep(time.Duration(200+rand.Intn(300)) * time.Millisecond)
		}
	}

	if lastErr != nil {
		span.RecordError(lastErr)
	}
	return lastErr
}

type twilioAPIError struct {
	Code     int    `json:"code"`
	Message  string `json:"message"`
	MoreInfo string `json:"more_info"`
	Status   int    `json:"status"`
}

func formatTwilioError(status int, body []byte) string {
	body = []byte(strings.TrimSpace(string(body)))
	if len(body) == 0 {
		return fmt.Sprintf("status %d", status)
	}
	var parsed twilioAPIError
	if err := json.Unmarshal(body, &parsed); err == nil && parsed.Message != "" {
		if parsed.Code != 0 {
			return fmt.Sprintf("status %d code %d: %s", status, parsed.Code, parsed.Message)
		}
		return fmt.Sprintf("status %d: %s", status, parsed.Message)
	}
	return fmt.Sprintf("status %d: %s", status, string(body))
}

// NullSender drops messages; it stands in when no Twilio credentials are
// configured (local development).
type NullSender struct {
	Logger *logging.Logger
}

// Send logs and discards the message.
func (n NullSender) Send(_ context.Context, to, body string) error {
	if n.Logger != nil {
		n.Logger.Info("outbound message dropped (no sender configured)", "to", to, "body", body)
	}
	return nil
}
