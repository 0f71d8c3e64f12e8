package session

import (
	"context"
	"sync"
	"testing"
	"time"
)

func newTestRegistry(t *testing.T, ttl time.Duration) (*Registry, *time.Time) {
	t.Helper()
	r := NewRegistry(NewMemoryStore(), ttl, 10, nil)
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	r.clock = func() time.Time { return now }
	return r, &now
}

func TestUpdateMemoryCreatesLazily(t *testing.T) {
	r, _ := newTestRegistry(t, 30*time.Minute)
	ctx := context.Background()

	mem, err := r.UpdateMemory(ctx, "+37120000001", func(m *Memory) {
		m.Service = "haircut"
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if mem.Identity != "+37120000001" || mem.Service != "haircut" {
		t.Fatalf("unexpected memory %+v", mem)
	}
	if mem.CreatedAt.IsZero() || mem.UpdatedAt.IsZero() {
		t.Fatal("timestamps must be set")
	}

	// Second update sees the first write.
	mem, err = r.UpdateMemory(ctx, "+37120000001", nil)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if mem.Service != "haircut" {
		t.Fatalf("expected persisted service, got %q", mem.Service)
	}
}

func TestExpiredMemorySilentlyReplaced(t *testing.T) {
	r, now := newTestRegistry(t, 30*time.Minute)
	ctx := context.Background()

	if _, err := r.UpdateMemory(ctx, "id", func(m *Memory) { m.Service = "haircut" }); err != nil {
		t.Fatalf("update: %v", err)
	}

	*now = now.Add(31 * time.Minute)
	mem, err := r.UpdateMemory(ctx, "id", nil)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if mem.Service != "" {
		t.Fatalf("expected fresh record after ttl, got %+v", mem)
	}
}

func TestPeekMemoryDoesNotCreate(t *testing.T) {
	r, _ := newTestRegistry(t, 30*time.Minute)
	ctx := context.Background()

	mem, err := r.PeekMemory(ctx, "unknown")
	if err != nil {
		t.Fatalf("peek: %v", err)
	}
	if mem != nil {
		t.Fatalf("peek must not create, got %+v", mem)
	}
}

func TestMarkNotifiedAtMostOnce(t *testing.T) {
	r, _ := newTestRegistry(t, 30*time.Minute)
	ctx := context.Background()

	first, err := r.MarkNotified(ctx, "CA123", "recovery")
	if err != nil {
		t.Fatalf("mark: %v", err)
	}
	if !first {
		t.Fatal("first mark should report true")
	}
	again, err := r.MarkNotified(ctx, "CA123", "recovery")
	if err != nil {
		t.Fatalf("mark: %v", err)
	}
	if again {
		t.Fatal("second mark should report false")
	}

	other, err := r.MarkNotified(ctx, "CA123", "confirmation")
	if err != nil {
		t.Fatalf("mark: %v", err)
	}
	if !other {
		t.Fatal("different category should fire independently")
	}
}

func TestConcurrentUpdatesSameIdentitySerialized(t *testing.T) {
	r := NewRegistry(NewMemoryStore(), 30*time.Minute, 0, nil)
	ctx := context.Background()

	const turns = 100
	var wg sync.WaitGroup
	for i := 0; i < turns; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := r.UpdateMemory(ctx, "same", func(m *Memory) {
				m.History = append(m.History, HistoryEntry{Channel: "sms", Text: "x"})
			})
			if err != nil {
				t.Errorf("update: %v", err)
			}
		}()
	}
	wg.Wait()

	mem, err := r.PeekMemory(ctx, "same")
	if err != nil || mem == nil {
		t.Fatalf("peek: mem=%v err=%v", mem, err)
	}
	if len(mem.History) != turns {
		t.Fatalf("lost updates: expected %d history entries, got %d", turns, len(mem.History))
	}
}

func TestDifferentIdentitiesProceedInParallel(t *testing.T) {
	r := NewRegistry(NewMemoryStore(), 30*time.Minute, 0, nil)
	ctx := context.Background()

	release := make(chan struct{})
	started := make(chan struct{})

	go func() {
		_, _ = r.UpdateMemory(ctx, "blocked", func(*Memory) {
			close(started)
			<-release
		})
	}()

	<-started
	done := make(chan struct{})
	go func() {
		_, _ = r.UpdateMemory(ctx, "other", nil)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("unrelated identity blocked by another identity's turn")
	}
	close(release)
}

func TestSweepEvictsOnlyStale(t *testing.T) {
	r, now := newTestRegistry(t, 30*time.Minute)
	ctx := context.Background()

	if _, err := r.UpdateMemory(ctx, "old", func(m *Memory) { m.Service = "x" }); err != nil {
		t.Fatalf("update: %v", err)
	}

	*now = now.Add(20 * time.Minute)
	if _, err := r.UpdateMemory(ctx, "fresh", func(m *Memory) { m.Service = "y" }); err != nil {
		t.Fatalf("update: %v", err)
	}

	*now = now.Add(15 * time.Minute) // "old" is 35m stale, "fresh" 15m
	r.lastSweep = time.Time{}
	r.SweepExpired(ctx)

	if mem, _ := r.PeekMemory(ctx, "old"); mem != nil {
		t.Fatalf("stale entry should be evicted, got %+v", mem)
	}
	if mem, _ := r.PeekMemory(ctx, "fresh"); mem == nil {
		t.Fatal("fresh entry must survive the sweep")
	}
}

func TestSweepSkipsEntryMidTurn(t *testing.T) {
	r, now := newTestRegistry(t, 30*time.Minute)
	ctx := context.Background()

	if _, err := r.UpdateMemory(ctx, "busy", func(m *Memory) { m.Service = "x" }); err != nil {
		t.Fatalf("update: %v", err)
	}
	*now = now.Add(40 * time.Minute)

	// Hold the identity's lock as if a turn were in flight.
	lock := r.lockFor("mem:busy")
	lock.Lock()

	r.lastSweep = time.Time{}
	r.SweepExpired(ctx)
	lock.Unlock()

	mem, err := r.store.GetMemory(ctx, "busy")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if mem == nil {
		t.Fatal("entry mid-turn must not be evicted")
	}
}

func TestHistoryCapped(t *testing.T) {
	r, _ := newTestRegistry(t, 30*time.Minute)
	ctx := context.Background()

	for i := 0; i < 25; i++ {
		_, err := r.UpdateMemory(ctx, "id", func(m *Memory) {
			m.AppendHistory(HistoryEntry{Channel: "sms", Text: "turn"}, 0)
		})
		if err != nil {
			t.Fatalf("update: %v", err)
		}
	}

	mem, _ := r.PeekMemory(ctx, "id")
	if len(mem.History) != 10 {
		t.Fatalf("expected history capped at 10, got %d", len(mem.History))
	}
}
