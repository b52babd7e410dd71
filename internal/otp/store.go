package otp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/redis/go-redis/v9"
)

const challengePrefix = "otp:v1:"

// Store keeps challenges between requests, keyed by the flow id a browser holds.
// A missing or expired flow loads as an idle challenge for purpose.
type Store interface {
	Load(ctx context.Context, flowID string, purpose Purpose) (Challenge, error)
	Save(ctx context.Context, flowID string, ch Challenge) error
	Delete(ctx context.Context, flowID string) error
}

// RedisStore keeps challenges as JSON values with a TTL.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStore builds a Redis challenge store.
func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl}
}

// Load fetches the challenge of flowID.
func (s *RedisStore) Load(ctx context.Context, flowID string, purpose Purpose) (Challenge, error) {
	raw, err := s.client.Get(ctx, challengePrefix+flowID).Bytes()
	if errors.Is(err, redis.Nil) {
		return NewChallenge(purpose), nil
	}
	if err != nil {
		return Challenge{}, fmt.Errorf("otp store: get: %w", err)
	}
	var ch Challenge
	if err := json.Unmarshal(raw, &ch); err != nil {
		return Challenge{}, fmt.Errorf("otp store: decode: %w", err)
	}
	return restart(ch, purpose), nil
}

// Save writes ch and refreshes its TTL.
func (s *RedisStore) Save(ctx context.Context, flowID string, ch Challenge) error {
	payload, err := json.Marshal(ch)
	if err != nil {
		return fmt.Errorf("otp store: encode: %w", err)
	}
	if err := s.client.Set(ctx, challengePrefix+flowID, payload, s.ttl).Err(); err != nil {
		return fmt.Errorf("otp store: set: %w", err)
	}
	return nil
}

// Delete discards the challenge of flowID.
func (s *RedisStore) Delete(ctx context.Context, flowID string) error {
	return s.client.Del(ctx, challengePrefix+flowID).Err()
}

// MemoryStore keeps challenges in process memory. Suitable for a single instance.
type MemoryStore struct {
	items *cache.Cache
	ttl   time.Duration
}

// NewMemoryStore builds an in-memory challenge store.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{items: cache.New(ttl, 2*ttl), ttl: ttl}
}

// Load fetches the challenge of flowID.
func (s *MemoryStore) Load(_ context.Context, flowID string, purpose Purpose) (Challenge, error) {
	v, ok := s.items.Get(flowID)
	if !ok {
		return NewChallenge(purpose), nil
	}
	return restart(v.(Challenge), purpose), nil
}

// Save writes ch and refreshes its TTL.
func (s *MemoryStore) Save(_ context.Context, flowID string, ch Challenge) error {
	s.items.Set(flowID, ch, s.ttl)
	return nil
}

// Delete discards the challenge of flowID.
func (s *MemoryStore) Delete(_ context.Context, flowID string) error {
	s.items.Delete(flowID)
	return nil
}

// restart drops a stored challenge that belongs to another flow, such as a visitor
// moving from the login page to the registration page.
func restart(ch Challenge, purpose Purpose) Challenge {
	if ch.Purpose != purpose {
		return NewChallenge(purpose)
	}
	return ch
}
