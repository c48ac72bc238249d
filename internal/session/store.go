package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// DefaultPrefix is the Redis key prefix for sessions.
const DefaultPrefix = "bff:session:"

// Store persists sessions by opaque id.
type Store interface {
	// Create persists a new session and returns its id.
	Create(ctx context.Context, data *SessionData, ttl time.Duration) (string, error)

	// Get returns nil, nil when the session does not exist.
	Get(ctx context.Context, id string) (*SessionData, error)

	Update(ctx context.Context, id string, data *SessionData, ttl time.Duration) error

	Delete(ctx context.Context, id string) error

	// Touch extends the session TTL (sliding expiration).
	Touch(ctx context.Context, id string, ttl time.Duration) error
}

// RedisStore keeps sessions as JSON values with a TTL.
type RedisStore struct {
	client redis.Cmdable
	prefix string
}

// NewRedisStore creates a Redis-backed session store.
func NewRedisStore(client redis.Cmdable, prefix string) *RedisStore {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) key(id string) string {
	return s.prefix + id
}

func (s *RedisStore) Create(ctx context.Context, data *SessionData, ttl time.Duration) (string, error) {
	id := uuid.New().String()
	data.CreatedAt = time.Now().Unix()

	b, err := json.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("failed to marshal session: %w", err)
	}
	if err := s.client.Set(ctx, s.key(id), b, ttl).Err(); err != nil {
		return "", fmt.Errorf("failed to store session: %w", err)
	}
	return id, nil
}

func (s *RedisStore) Get(ctx context.Context, id string) (*SessionData, error) {
	val, err := s.client.Get(ctx, s.key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	var data SessionData
	if err := json.Unmarshal(val, &data); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}
	return &data, nil
}

func (s *RedisStore) Update(ctx context.Context, id string, data *SessionData, ttl time.Duration) error {
	b, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}
	if err := s.client.Set(ctx, s.key(id), b, ttl).Err(); err != nil {
		return fmt.Errorf("failed to update session: %w", err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, id string) error {
	if err := s.client.Del(ctx, s.key(id)).Err(); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

func (s *RedisStore) Touch(ctx context.Context, id string, ttl time.Duration) error {
	if err := s.client.Expire(ctx, s.key(id), ttl).Err(); err != nil {
		return fmt.Errorf("failed to touch session: %w", err)
	}
	return nil
}

// MemoryStore is a process-local Store for single-instance deployments and tests.
type MemoryStore struct {
	mu      sync.Mutex
	data    map[string]SessionData
	expires map[string]time.Time
	now     func() time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		data:    make(map[string]SessionData),
		expires: make(map[string]time.Time),
		now:     time.Now,
	}
}

func (m *MemoryStore) Create(_ context.Context, data *SessionData, ttl time.Duration) (string, error) {
	id := uuid.New().String()
	data.CreatedAt = m.now().Unix()

	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[id] = *data
	m.setExpiry(id, ttl)
	return id, nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (*SessionData, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	d, ok := m.data[id]
	if !ok {
		return nil, nil
	}
	if exp, exists := m.expires[id]; exists && m.now().After(exp) {
		delete(m.data, id)
		delete(m.expires, id)
		return nil, nil
	}
	return &d, nil
}

func (m *MemoryStore) Update(_ context.Context, id string, data *SessionData, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[id] = *data
	m.setExpiry(id, ttl)
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, id)
	delete(m.expires, id)
	return nil
}

func (m *MemoryStore) Touch(_ context.Context, id string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.data[id]; ok {
		m.setExpiry(id, ttl)
	}
	return nil
}

func (m *MemoryStore) setExpiry(id string, ttl time.Duration) {
	if ttl > 0 {
		m.expires[id] = m.now().Add(ttl)
	} else {
		delete(m.expires, id)
	}
}
