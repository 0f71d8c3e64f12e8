package messaging

import (
	"context"
	"fmt"

	"github.com/repliq-ai/receptionist/internal/session"
	"github.com/repliq-ai/receptionist/pkg/logging"
)

// Notifier sends outbound texts with at-most-once semantics per call and
// notification category. Plain per-turn replies bypass the dedup bookkeeping
// and use Send directly.
type Notifier struct {
	sender   TextSender
	registry *session.Registry
	logger   *logging.Logger
}

// NewNotifier wires a notifier over a sender and the session registry.
func NewNotifier(sender TextSender, registry *session.Registry, logger *logging.Logger) *Notifier {
	if sender == nil {
		panic("messaging: sender cannot be nil")
	}
	if registry == nil {
		panic("messaging: registry cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Notifier{sender: sender, registry: registry, logger: logger}
}

// Send delivers a regular reply with no dedup.
func (n *Notifier) Send(ctx context.Context, to, body string) error {
	return n.sender.Send(ctx, to, body)
}

// SendOnce delivers body to the address at most once per (callID, category).
// Duplicate invocations are silently dropped. The dedup mark is taken before
// the send, so a failed delivery is not retried by a replayed webhook.
func (n *Notifier) SendOnce(ctx context.Context, callID, category, to, body string) error {
	if callID == "" {
		return n.sender.Send(ctx, to, body)
	}
	first, err := n.registry.MarkNotified(ctx, callID, category)
	if err != nil {
		return fmt.Errorf("messaging: dedup check: %w", err)
	}
	if !first {
		n.logger.Debug("duplicate notification suppressed", "call_id", callID, "category", category)
		return nil
	}
	return n.sender.Send(ctx, to, body)
}
