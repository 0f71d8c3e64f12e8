package messaging

import "strings"

// NormalizeIdentity maps a channel-presented sender identity to the canonical
// form used as the session key: scheme prefixes are stripped and only a
// leading "+" and digits are kept. WhatsApp and SMS turns from the same phone
// number therefore share one session.
func NormalizeIdentity(raw string) string {
	s := strings.TrimSpace(raw)
	if i := strings.IndexByte(s, ':'); i >= 0 {
		s = s[i+1:]
	}
	var b strings.Builder
	for i, r := range s {
		if r == '+' && i == 0 {
			b.WriteRune(r)
			continue
		}
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
