/*
idempotency.go - Idempotency-Key replay for POST /api/payments

PURPOSE:
  Allocate is deliberately not idempotent: every call records a payment.
  Clients that retry on timeouts send an Idempotency-Key header; the first
  request with a key runs, later requests with the same key and the same
  body get the stored response back without touching the ledger.

FLOW:
  1. Reserve(key, bodyHash)
       new key      -> reserved, handler runs
       same hash    -> stored response replayed (or 409 while in flight)
       other hash   -> 409, key reused for a different request
  2. Complete(key, record)  store the final response for its TTL
     Release(key)           drop the reservation so the client can retry
                            (server errors and retryable conflicts)

STORES:
  MemoryIdempotencyStore: single process, TTL eviction on access
  RedisIdempotencyStore:  shared across replicas, SETNX + key TTL
*/
package api

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

// IdempotencyHeader is the request header carrying the client key.
const IdempotencyHeader = "Idempotency-Key"

// IdempotencyRecord is what is kept per key.
type IdempotencyRecord struct {
	RequestHash string `json:"requestHash"`
	Pending     bool   `json:"pending"`
	Status      int    `json:"status,omitempty"`
	Body        []byte `json:"body,omitempty"`
}

// IdempotencyStore keeps reservations and completed responses.
type IdempotencyStore interface {
	// Reserve claims key for hash. When the key already exists the
	// existing record is returned with reserved == false.
	Reserve(ctx context.Context, key, hash string) (existing IdempotencyRecord, reserved bool, err error)
	Complete(ctx context.Context, key string, rec IdempotencyRecord) error
	Release(ctx context.Context, key string) error
}

// hashRequest fingerprints a request body.
func hashRequest(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}

// =============================================================================
// MEMORY STORE
// =============================================================================

type idempotencyEntry struct {
	rec     IdempotencyRecord
	expires time.Time
}

// MemoryIdempotencyStore is an in-process store with per-key expiry.
type MemoryIdempotencyStore struct {
	mu      sync.Mutex
	entries map[string]idempotencyEntry
	ttl     time.Duration
	now     func() time.Time
}

func NewMemoryIdempotencyStore(ttl time.Duration) *MemoryIdempotencyStore {
	return &MemoryIdempotencyStore{
		entries: make(map[string]idempotencyEntry),
		ttl:     ttl,
		now:     time.Now,
	}
}

func (m *MemoryIdempotencyStore) Reserve(_ context.Context, key, hash string) (IdempotencyRecord, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	m.evictLocked(now)
	if e, ok := m.entries[key]; ok {
		return e.rec, false, nil
	}
	m.entries[key] = idempotencyEntry{
		rec:     IdempotencyRecord{RequestHash: hash, Pending: true},
		expires: now.Add(m.ttl),
	}
	return IdempotencyRecord{}, true, nil
}

func (m *MemoryIdempotencyStore) Complete(_ context.Context, key string, rec IdempotencyRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec.Pending = false
	m.entries[key] = idempotencyEntry{rec: rec, expires: m.now().Add(m.ttl)}
	return nil
}

func (m *MemoryIdempotencyStore) Release(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)
	return nil
}

// Len returns the number of live keys.
func (m *MemoryIdempotencyStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.evictLocked(m.now())
	return len(m.entries)
}

func (m *MemoryIdempotencyStore) evictLocked(now time.Time) {
	for k, e := range m.entries {
		if !now.Before(e.expires) {
			delete(m.entries, k)
		}
	}
}

// =============================================================================
// REDIS STORE
// =============================================================================

// RedisIdempotencyStore keeps records as JSON under a prefixed key.
type RedisIdempotencyStore struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
}

func NewRedisIdempotencyStore(client *redis.Client, ttl time.Duration) *RedisIdempotencyStore {
	return &RedisIdempotencyStore{client: client, ttl: ttl, prefix: "payout:idempotency:"}
}

func (r *RedisIdempotencyStore) Reserve(ctx context.Context, key, hash string) (IdempotencyRecord, bool, error) {
	pending, err := json.Marshal(IdempotencyRecord{RequestHash: hash, Pending: true})
	if err != nil {
		return IdempotencyRecord{}, false, err
	}

	// The existing key can expire between SETNX and GET; one retry covers it.
	for attempt := 0; attempt < 2; attempt++ {
		ok, err := r.client.SetNX(ctx, r.prefix+key, pending, r.ttl).Result()
		if err != nil {
			return IdempotencyRecord{}, false, fmt.Errorf("failed to reserve idempotency key: %w", err)
		}
		if ok {
			return IdempotencyRecord{}, true, nil
		}

		raw, err := r.client.Get(ctx, r.prefix+key).Bytes()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return IdempotencyRecord{}, false, fmt.Errorf("failed to read idempotency key: %w", err)
		}
		var rec IdempotencyRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			return IdempotencyRecord{}, false, fmt.Errorf("failed to decode idempotency record: %w", err)
		}
		return rec, false, nil
	}
	return IdempotencyRecord{}, false, fmt.Errorf("idempotency key %q kept expiring during reservation", key)
}

func (r *RedisIdempotencyStore) Complete(ctx context.Context, key string, rec IdempotencyRecord) error {
	rec.Pending = false
	raw, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	if err := r.client.Set(ctx, r.prefix+key, raw, r.ttl).Err(); err != nil {
		return fmt.Errorf("failed to store idempotent response: %w", err)
	}
	return nil
}

func (r *RedisIdempotencyStore) Release(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, r.prefix+key).Err(); err != nil {
		return fmt.Errorf("failed to release idempotency key: %w", err)
	}
	return nil
}
