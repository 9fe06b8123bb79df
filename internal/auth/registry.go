package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// LockRegistry 记录锁令牌的归属
type LockRegistry interface {
	Assign(ctx context.Context, principal, token string) error
	Owns(ctx context.Context, principal, token string) (bool, error)
	Release(ctx context.Context, principal, token string) error
}

// MemoryRegistry 进程内的锁归属表
type MemoryRegistry struct {
	mu     sync.RWMutex
	owners map[string]string
}

// NewMemoryRegistry 创建进程内锁归属表
func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{owners: make(map[string]string)}
}

// Assign 记录令牌归属
func (r *MemoryRegistry) Assign(_ context.Context, principal, token string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if owner, ok := r.owners[token]; ok && owner != principal {
		return fmt.Errorf("token %s: %w", token, ErrTokenAssigned)
	}
	r.owners[token] = principal
	return nil
}

// Owns 令牌是否归 principal 所有
func (r *MemoryRegistry) Owns(_ context.Context, principal, token string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	owner, ok := r.owners[token]
	return ok && owner == principal, nil
}

// Release 释放令牌
func (r *MemoryRegistry) Release(_ context.Context, principal, token string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	owner, ok := r.owners[token]
	if !ok || owner != principal {
		return fmt.Errorf("token %s: %w", token, ErrNotOwner)
	}
	delete(r.owners, token)
	return nil
}

// releaseScript 仅当令牌归属匹配时删除
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisRegistry 基于Redis的锁归属表，多个实例可共享
//
// 键在 ttl 后过期，ttl 应不小于最大锁超时。
type RedisRegistry struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisRegistry 创建Redis锁归属表
func NewRedisRegistry(client *redis.Client, prefix string, ttl time.Duration) *RedisRegistry {
	return &RedisRegistry{client: client, prefix: prefix, ttl: ttl}
}

func (r *RedisRegistry) key(token string) string {
	return r.prefix + token
}

// Assign 记录令牌归属，令牌已属于他人时失败
func (r *RedisRegistry) Assign(ctx context.Context, principal, token string) error {
	ok, err := r.client.SetNX(ctx, r.key(token), principal, r.ttl).Result()
	if err != nil {
		return fmt.Errorf("assign token %s: %w", token, err)
	}
	if ok {
		return nil
	}
	owned, err := r.Owns(ctx, principal, token)
	if err != nil {
		return err
	}
	if !owned {
		return fmt.Errorf("token %s: %w", token, ErrTokenAssigned)
	}
	return nil
}

// Owns 令牌是否归 principal 所有
func (r *RedisRegistry) Owns(ctx context.Context, principal, token string) (bool, error) {
	owner, err := r.client.Get(ctx, r.key(token)).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("lookup token %s: %w", token, err)
	}
	return owner == principal, nil
}

// Release 释放令牌
func (r *RedisRegistry) Release(ctx context.Context, principal, token string) error {
	n, err := releaseScript.Run(ctx, r.client, []string{r.key(token)}, principal).Int()
	if err != nil {
		return fmt.Errorf("release token %s: %w", token, err)
	}
	if n == 0 {
		return fmt.Errorf("token %s: %w", token, ErrNotOwner)
	}
	return nil
}
