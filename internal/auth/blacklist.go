package auth

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisBlacklist stores revoked jtis with their remaining TTL. Restarting
// the process does not un-revoke anything.
type RedisBlacklist struct {
	rdb *redis.Client
}

func NewRedisBlacklist(rdb *redis.Client) *RedisBlacklist {
	return &RedisBlacklist{rdb: rdb}
}

func (b *RedisBlacklist) key(jti string) string { return "guardrail:revoked:" + jti }

func (b *RedisBlacklist) Revoke(ctx context.Context, jti string, ttl time.Duration) error {
	return b.rdb.Set(ctx, b.key(jti), "1", ttl).Err()
}

func (b *RedisBlacklist) IsRevoked(ctx context.Context, jti string) (bool, error) {
	n, err := b.rdb.Exists(ctx, b.key(jti)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// MemoryBlacklist is the single-process fallback when Redis is not
// configured. Expired entries are dropped lazily on lookup.
type MemoryBlacklist struct {
	mu      sync.Mutex
	revoked map[string]time.Time
}

func NewMemoryBlacklist() *MemoryBlacklist {
	return &MemoryBlacklist{revoked: make(map[string]time.Time)}
}

func (b *MemoryBlacklist) Revoke(ctx context.Context, jti string, ttl time.Duration) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.revoked[jti] = time.Now().Add(ttl)
	return nil
}

func (b *MemoryBlacklist) IsRevoked(ctx context.Context, jti string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	exp, ok := b.revoked[jti]
	if !ok {
		return false, nil
	}
	if time.Now().After(exp) {
		delete(b.revoked, jti)
		return false, nil
	}
	return true, nil
}
