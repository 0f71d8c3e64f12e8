package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	memoryKeyPrefix = "session:memory:"
	callKeyPrefix   = "session:call:"
)

// RedisStore persists session state as JSON blobs with a TTL, so expiry is
// native to the backend and survives process restarts. Per-identity write
// serialization still happens in-process via the Registry's keyed locks
// (single-writer deployment).
type RedisStore struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRedisStore creates a redis-backed store. The ttl should match the
// registry's inactivity window.
func NewRedisStore(rdb *redis.Client, ttl time.Duration) *RedisStore {
	if rdb == nil {
		panic("session: redis client cannot be nil")
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisStore{rdb: rdb, ttl: ttl}
}

func (s *RedisStore) GetMemory(ctx context.Context, identity string) (*Memory, error) {
	data, err := s.rdb.Get(ctx, memoryKeyPrefix+identity).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("session: redis get memory: %w", err)
	}
	var mem Memory
	if err := json.Unmarshal(data, &mem); err != nil {
		return nil, fmt.Errorf("session: redis unmarshal memory: %w", err)
	}
	return &mem, nil
}

func (s *RedisStore) PutMemory(ctx context.Context, mem *Memory) error {
	data, err := json.Marshal(mem)
	if err != nil {
		return fmt.Errorf("session: redis marshal memory: %w", err)
	}
	return s.rdb.Set(ctx, memoryKeyPrefix+mem.Identity, data, s.ttl).Err()
}

func (s *RedisStore) DeleteMemory(ctx context.Context, identity string) error {
	return s.rdb.Del(ctx, memoryKeyPrefix+identity).Err()
}

// StaleIdentities returns nil: redis expires keys natively via the TTL set on
// every write.
func (s *RedisStore) StaleIdentities(context.Context, time.Time) ([]string, error) {
	return nil, nil
}

func (s *RedisStore) GetCall(ctx context.Context, callID string) (*Call, error) {
	data, err := s.rdb.Get(ctx, callKeyPrefix+callID).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("session: redis get call: %w", err)
	}
	var call Call
	if err := json.Unmarshal(data, &call); err != nil {
		return nil, fmt.Errorf("session: redis unmarshal call: %w", err)
	}
	return &call, nil
}

func (s *RedisStore) PutCall(ctx context.Context, call *Call) error {
	data, err := json.Marshal(call)
	if err != nil {
		return fmt.Errorf("session: redis marshal call: %w", err)
	}
	return s.rdb.Set(ctx, callKeyPrefix+call.CallID, data, s.ttl).Err()
}

func (s *RedisStore) DeleteCall(ctx context.Context, callID string) error {
	return s.rdb.Del(ctx, callKeyPrefix+callID).Err()
}

// StaleCallIDs returns nil for the same reason as StaleIdentities.
func (s *RedisStore) StaleCallIDs(context.Context, time.Time) ([]string, error) {
	return nil, nil
}
