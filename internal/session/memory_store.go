package session

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps all session state in process memory. This matches the
// legacy single-process deployment: losing in-flight conversations on restart
// is acceptable.
type MemoryStore struct {
	mu       sync.RWMutex
	memories map[string]*Memory
	calls    map[string]*Call
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		memories: make(map[string]*Memory),
		calls:    make(map[string]*Call),
	}
}

func (s *MemoryStore) GetMemory(_ context.Context, identity string) (*Memory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	mem, ok := s.memories[identity]
	if !ok {
		return nil, nil
	}
	cp := *mem
	cp.History = append([]HistoryEntry(nil), mem.History...)
	if mem.PendingOffer != nil {
		offer := *mem.PendingOffer
		cp.PendingOffer = &offer
	}
	return &cp, nil
}

func (s *MemoryStore) PutMemory(_ context.Context, mem *Memory) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *mem
	cp.History = append([]HistoryEntry(nil), mem.History...)
	if mem.PendingOffer != nil {
		offer := *mem.PendingOffer
		cp.PendingOffer = &offer
	}
	s.memories[mem.Identity] = &cp
	return nil
}

func (s *MemoryStore) DeleteMemory(_ context.Context, identity string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.memories, identity)
	return nil
}

func (s *MemoryStore) StaleIdentities(_ context.Context, cutoff time.Time) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var stale []string
	for identity, mem := range s.memories {
		if !mem.UpdatedAt.After(cutoff) {
			stale = append(stale, identity)
		}
	}
	return stale, nil
}

func (s *MemoryStore) GetCall(_ context.Context, callID string) (*Call, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	call, ok := s.calls[callID]
	if !ok {
		return nil, nil
	}
	cp := *call
	cp.NotifiedKeys = make(map[string]bool, len(call.NotifiedKeys))
	for k, v := range call.NotifiedKeys {
		cp.NotifiedKeys[k] = v
	}
	return &cp, nil
}

func (s *MemoryStore) PutCall(_ context.Context, call *Call) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *call
	cp.NotifiedKeys = make(map[string]bool, len(call.NotifiedKeys))
	for k, v := range call.NotifiedKeys {
		cp.NotifiedKeys[k] = v
	}
	s.calls[call.CallID] = &cp
	return nil
}

func (s *MemoryStore) DeleteCall(_ context.Context, callID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.calls, callID)
	return nil
}

func (s *MemoryStore) StaleCallIDs(_ context.Context, cutoff time.Time) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var stale []string
	for callID, call := range s.calls {
		if !call.UpdatedAt.After(cutoff) {
			stale = append(stale, callID)
		}
	}
	return stale, nil
}
