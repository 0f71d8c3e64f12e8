// Package session keeps per-identity conversation memory and per-call
// bookkeeping. State lives only for a conversation's practical lifetime:
// entries expire after an inactivity TTL and are silently replaced by fresh
// records on the next contact.
package session

import (
	"time"
)

// DefaultTTL is the inactivity window after which state is discarded.
const DefaultTTL = 30 * time.Minute

// PendingOffer is the pair of alternative slots offered after a busy-slot
// conflict. At most one exists per identity; a new time-bearing utterance
// clears it.
type PendingOffer struct {
	OptionA     time.Time `json:"option_a"`
	OptionB     time.Time `json:"option_b"`
	Service     string    `json:"service"`
	ContactName string    `json:"contact_name"`
}

// HistoryEntry is one inbound utterance, kept for diagnostics only.
type HistoryEntry struct {
	At      time.Time `json:"at"`
	Channel string    `json:"channel"`
	Text    string    `json:"text"`
}

// Memory is the cross-channel conversation state for one normalized phone
// identity. Exactly one instance exists per identity at a time.
type Memory struct {
	Identity      string         `json:"identity"`
	Language      string         `json:"language,omitempty"`
	Service       string         `json:"service,omitempty"`
	ContactName   string         `json:"contact_name,omitempty"`
	Phone         string         `json:"phone,omitempty"`
	ResolvedStart time.Time      `json:"resolved_start,omitempty"`
	RawTimeText   string         `json:"raw_time_text,omitempty"`
	PendingOffer  *PendingOffer  `json:"pending_offer,omitempty"`
	History       []HistoryEntry `json:"history,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// HasResolvedStart reports whether a candidate appointment time is stored.
func (m *Memory) HasResolvedStart() bool {
	return !m.ResolvedStart.IsZero()
}

// AppendHistory records an utterance, keeping at most max entries.
func (m *Memory) AppendHistory(entry HistoryEntry, max int) {
	m.History = append(m.History, entry)
	if max > 0 && len(m.History) > max {
		m.History = m.History[len(m.History)-max:]
	}
}

// Call is the per-call-leg session used for language override and
// at-most-once outbound notification bookkeeping.
type Call struct {
	CallID         string          `json:"call_id"`
	CallerIdentity string          `json:"caller_identity"`
	ForcedLanguage string          `json:"forced_language,omitempty"`
	NotifiedKeys   map[string]bool `json:"notified_keys,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}
