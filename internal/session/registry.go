package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/repliq-ai/receptionist/pkg/logging"
)

// Store is the persistence backend for memories and call sessions. The
// in-memory implementation serves a single process; the redis implementation
// shares state across restarts of a single-writer deployment.
type Store interface {
	GetMemory(ctx context.Context, identity string) (*Memory, error)
	PutMemory(ctx context.Context, mem *Memory) error
	DeleteMemory(ctx context.Context, identity string) error
	// StaleIdentities returns identities not updated since the cutoff, or nil
	// when the backend expires entries natively.
	StaleIdentities(ctx context.Context, cutoff time.Time) ([]string, error)

	GetCall(ctx context.Context, callID string) (*Call, error)
	PutCall(ctx context.Context, call *Call) error
	DeleteCall(ctx context.Context, callID string) error
	StaleCallIDs(ctx context.Context, cutoff time.Time) ([]string, error)
}

// Registry coordinates access to conversation state. Mutations for one
// identity are serialized through a per-identity lock; different identities
// proceed in parallel. Get-or-create is atomic, so two concurrent first
// messages cannot create divergent records.
type Registry struct {
	store      Store
	ttl        time.Duration
	maxHistory int
	clock      func() time.Time
	logger     *logging.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex

	sweepMu   sync.Mutex
	lastSweep time.Time
}

// NewRegistry creates a Registry over the given store.
func NewRegistry(store Store, ttl time.Duration, maxHistory int, logger *logging.Logger) *Registry {
	if store == nil {
		panic("session: store cannot be nil")
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Registry{
		store:      store,
		ttl:        ttl,
		maxHistory: maxHistory,
		clock:      time.Now,
		logger:     logger,
		locks:      make(map[string]*sync.Mutex),
	}
}

// lockFor returns the mutex guarding one identity or call key.
func (r *Registry) lockFor(key string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.locks[key]
	if !ok {
		l = &sync.Mutex{}
		r.locks[key] = l
	}
	return l
}

// UpdateMemory loads (or lazily creates) the memory for an identity, runs fn
// on it under the identity's lock, refreshes updatedAt, and persists the
// result. A record whose inactivity exceeded the TTL is silently replaced by
// a fresh one before fn runs.
func (r *Registry) UpdateMemory(ctx context.Context, identity string, fn func(*Memory)) (*Memory, error) {
	if identity == "" {
		return nil, fmt.Errorf("session: identity required")
	}
	r.SweepExpired(ctx)

	lock := r.lockFor("mem:" + identity)
	lock.Lock()
	defer lock.Unlock()

	now := r.clock()
	mem, err := r.store.GetMemory(ctx, identity)
	if err != nil {
		return nil, fmt.Errorf("session: load memory: %w", err)
	}
	if mem == nil || now.Sub(mem.UpdatedAt) > r.ttl {
		mem = &Memory{Identity: identity, CreatedAt: now}
	}

	if fn != nil {
		fn(mem)
	}
	if r.maxHistory > 0 && len(mem.History) > r.maxHistory {
		mem.History = mem.History[len(mem.History)-r.maxHistory:]
	}
	mem.UpdatedAt = now

	if err := r.store.PutMemory(ctx, mem); err != nil {
		return nil, fmt.Errorf("session: save memory: %w", err)
	}
	return mem, nil
}

// PeekMemory returns a snapshot of an identity's memory without creating or
// touching it. Returns nil when absent or expired.
func (r *Registry) PeekMemory(ctx context.Context, identity string) (*Memory, error) {
	lock := r.lockFor("mem:" + identity)
	lock.Lock()
	defer lock.Unlock()

	mem, err := r.store.GetMemory(ctx, identity)
	if err != nil {
		return nil, fmt.Errorf("session: load memory: %w", err)
	}
	if mem == nil || r.clock().Sub(mem.UpdatedAt) > r.ttl {
		return nil, nil
	}
	return mem, nil
}

// UpdateCall loads or creates the call session and runs fn under its lock.
func (r *Registry) UpdateCall(ctx context.Context, callID, callerIdentity string, fn func(*Call)) (*Call, error) {
	if callID == "" {
		return nil, fmt.Errorf("session: call id required")
	}
	r.SweepExpired(ctx)

	lock := r.lockFor("call:" + callID)
	lock.Lock()
	defer lock.Unlock()

	now := r.clock()
	call, err := r.store.GetCall(ctx, callID)
	if err != nil {
		return nil, fmt.Errorf("session: load call: %w", err)
	}
	if call == nil || now.Sub(call.UpdatedAt) > r.ttl {
		call = &Call{
			CallID:         callID,
			CallerIdentity: callerIdentity,
			NotifiedKeys:   make(map[string]bool),
			CreatedAt:      now,
		}
	}
	if call.NotifiedKeys == nil {
		call.NotifiedKeys = make(map[string]bool)
	}
	if callerIdentity != "" {
		call.CallerIdentity = callerIdentity
	}

	if fn != nil {
		fn(call)
	}
	call.UpdatedAt = now

	if err := r.store.PutCall(ctx, call); err != nil {
		return nil, fmt.Errorf("session: save call: %w", err)
	}
	return call, nil
}

// PeekCall returns a snapshot of a call session without creating or touching
// it. Returns nil when absent or expired.
func (r *Registry) PeekCall(ctx context.Context, callID string) (*Call, error) {
	lock := r.lockFor("call:" + callID)
	lock.Lock()
	defer lock.Unlock()

	call, err := r.store.GetCall(ctx, callID)
	if err != nil {
		return nil, fmt.Errorf("session: load call: %w", err)
	}
	if call == nil || r.clock().Sub(call.UpdatedAt) > r.ttl {
		return nil, nil
	}
	return call, nil
}

// MarkNotified records that a notification category fired for a call.
// It returns true only the first time, enforcing at-most-once delivery per
// (call, category) pair.
func (r *Registry) MarkNotified(ctx context.Context, callID, category string) (bool, error) {
	first := false
	_, err := r.UpdateCall(ctx, callID, "", func(c *Call) {
		if !c.NotifiedKeys[category] {
			c.NotifiedKeys[category] = true
			first = true
		}
	})
	if err != nil {
		return false, err
	}
	return first, nil
}

// sweepInterval limits how often the opportunistic sweep actually scans.
const sweepInterval = time.Minute

// SweepExpired evicts entries whose updatedAt is already stale. It runs
// opportunistically at the start of turn handling and skips any entry whose
// lock is currently held: an identity mid-turn is never evicted underneath
// its turn.
func (r *Registry) SweepExpired(ctx context.Context) {
	r.sweepMu.Lock()
	now := r.clock()
	if now.Sub(r.lastSweep) < sweepInterval {
		r.sweepMu.Unlock()
		return
	}
	r.lastSweep = now
	r.sweepMu.Unlock()

	cutoff := now.Add(-r.ttl)

	stale, err := r.store.StaleIdentities(ctx, cutoff)
	if err != nil {
		r.logger.Warn("session sweep failed", "error", err)
		return
	}
	for _, identity := range stale {
		r.evict(ctx, "mem:"+identity, func() error {
			return r.store.DeleteMemory(ctx, identity)
		}, cutoff, func() (time.Time, bool) {
			mem, err := r.store.GetMemory(ctx, identity)
			if err != nil || mem == nil {
				return time.Time{}, false
			}
			return mem.UpdatedAt, true
		})
	}

	staleCalls, err := r.store.StaleCallIDs(ctx, cutoff)
	if err != nil {
		r.logger.Warn("session call sweep failed", "error", err)
		return
	}
	for _, callID := range staleCalls {
		r.evict(ctx, "call:"+callID, func() error {
			return r.store.DeleteCall(ctx, callID)
		}, cutoff, func() (time.Time, bool) {
			call, err := r.store.GetCall(ctx, callID)
			if err != nil || call == nil {
				return time.Time{}, false
			}
			return call.UpdatedAt, true
		})
	}
}

func (r *Registry) evict(ctx context.Context, lockKey string, del func() error, cutoff time.Time, updatedAt func() (time.Time, bool)) {
	lock := r.lockFor(lockKey)
	if !lock.TryLock() {
		// Entry is mid-turn; it will be swept next time if still stale.
		return
	}
	defer lock.Unlock()

	// Re-check staleness under the lock: the turn we raced with may have
	// just refreshed it.
	at, ok := updatedAt()
	if !ok || at.After(cutoff) {
		return
	}
	if err := del(); err != nil {
		r.logger.Warn("session eviction failed", "error", err, "key", lockKey)
	}
}
