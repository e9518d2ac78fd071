package devbackend

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// OTPStore holds pending one-time codes keyed by phone.
type OTPStore interface {
	Put(ctx context.Context, phone, code string, ttl time.Duration) error
	// Take returns and removes the pending code. A code is usable once.
	Take(ctx context.Context, phone string) (code string, ok bool, err error)
}

// RevocationStore remembers revoked token ids until they would have expired
// anyway.
type RevocationStore interface {
	Revoke(ctx context.Context, jti string, ttl time.Duration) error
	IsRevoked(ctx context.Context, jti string) (bool, error)
}

// ===== Memory =====

type expiring struct {
	value   string
	expires time.Time
}

// MemoryStore implements OTPStore and RevocationStore in process memory.
type MemoryStore struct {
	mu      sync.Mutex
	codes   map[string]expiring
	revoked map[string]time.Time
	now     func() time.Time
}

// NewMemoryStore returns an empty in-process store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		codes:   make(map[string]expiring),
		revoked: make(map[string]time.Time),
		now:     time.Now,
	}
}

func (m *MemoryStore) Put(_ context.Context, phone, code string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.codes[phone] = expiring{value: code, expires: m.now().Add(ttl)}
	return nil
}

func (m *MemoryStore) Take(_ context.Context, phone string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.codes[phone]
	if !ok {
		return "", false, nil
	}
	delete(m.codes, phone)
	if !m.now().Before(e.expires) {
		return "", false, nil
	}
	return e.value, true, nil
}

func (m *MemoryStore) Revoke(_ context.Context, jti string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.revoked[jti] = m.now().Add(ttl)
	return nil
}

func (m *MemoryStore) IsRevoked(_ context.Context, jti string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	until, ok := m.revoked[jti]
	if !ok {
		return false, nil
	}
	if !m.now().Before(until) {
		delete(m.revoked, jti)
		return false, nil
	}
	return true, nil
}

// ===== Redis =====

const (
	otpKeyPrefix     = "civic:otp:"
	revokedKeyPrefix = "civic:revoked:"
)

// RedisStore implements OTPStore and RevocationStore on Redis with native
// key expiry.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore keeps codes and revocations in client.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// ConnectRedis accepts either a redis:// URL or a bare host:port.
func ConnectRedis(ctx context.Context, redisURL string) (*redis.Client, error) {
	var client *redis.Client
	if strings.HasPrefix(redisURL, "redis://") || strings.HasPrefix(redisURL, "rediss://") {
		opt, err := redis.ParseURL(redisURL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		client = redis.NewClient(opt)
	} else {
		client = redis.NewClient(&redis.Options{Addr: redisURL})
	}
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

func (s *RedisStore) Put(ctx context.Context, phone, code string, ttl time.Duration) error {
	return s.client.Set(ctx, otpKeyPrefix+phone, code, ttl).Err()
}

func (s *RedisStore) Take(ctx context.Context, phone string) (string, bool, error) {
	code, err := s.client.GetDel(ctx, otpKeyPrefix+phone).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", false, nil
		}
		return "", false, err
	}
	return code, true, nil
}

func (s *RedisStore) Revoke(ctx context.Context, jti string, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return s.client.Set(ctx, revokedKeyPrefix+jti, "1", ttl).Err()
}

func (s *RedisStore) IsRevoked(ctx context.Context, jti string) (bool, error) {
	n, err := s.client.Exists(ctx, revokedKeyPrefix+jti).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
