// Package entitlement decides whether the tenant is allowed to operate.
// Every inbound turn consults the gate before any model or calendar work.
package entitlement

import (
	"context"
	"time"
)

// Decision is the outcome of an entitlement check.
type Decision struct {
	Allowed bool
	// Reason is a stable machine-readable code when Allowed is false,
	// e.g. "trial_expired" or "suspended".
	Reason string
}

// Gate answers whether the tenant may serve conversation turns.
type Gate interface {
	Check(ctx context.Context) Decision
}

// StaticGate derives entitlement from configuration: an active flag plus an
// optional trial deadline. The clock is injectable for tests.
type StaticGate struct {
	active         bool
	trialExpiresAt time.Time
	inactiveReason string
	now            func() time.Time
}

// NewStaticGate builds a gate from tenant configuration. A zero
// trialExpiresAt means no trial deadline applies.
func NewStaticGate(active bool, trialExpiresAt time.Time, inactiveReason string) *StaticGate {
	if inactiveReason == "" {
		inactiveReason = "inactive"
	}
	return &StaticGate{
		active:         active,
		trialExpiresAt: trialExpiresAt,
		inactiveReason: inactiveReason,
		now:            time.Now,
	}
}

func (g *StaticGate) Check(ctx context.Context) Decision {
	if !g.active {
		return Decision{Allowed: false, Reason: g.inactiveReason}
	}
	if !g.trialExpiresAt.IsZero() && !g.now().Before(g.trialExpiresAt) {
		return Decision{Allowed: false, Reason: "trial_expired"}
	}
	return Decision{Allowed: true}
}

// AllowAll is a gate that never denies. Useful for tests and single-tenant
// deployments without billing.
type AllowAll struct{}

func (AllowAll) Check(ctx context.Context) Decision { return Decision{Allowed: true} }
