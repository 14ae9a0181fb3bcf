package idempotent

import (
	"context"

	"github.com/redis/go-redis/v9"
)

// RedisClient RedisRepository 使用的命令子集，redis.UniversalClient 满足该接口.
type RedisClient interface {
	SAdd(ctx context.Context, key string, members ...any) *redis.IntCmd
	SIsMember(ctx context.Context, key string, member any) *redis.BoolCmd
	SRem(ctx context.Context, key string, members ...any) *redis.IntCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// RedisRepository 基于 Redis 集合的幂等仓库.
//
// 每个处理器名称对应一个集合，SADD 的返回值保证测试并设置的原子性.
type RedisRepository struct {
	client RedisClient
	prefix string
	setKey string
}

// RedisOption RedisRepository 选项.
type RedisOption func(*RedisRepository)

// WithKeyPrefix 设置集合键前缀，默认 "idempotent:".
func WithKeyPrefix(prefix string) RedisOption {
	return func(r *RedisRepository) {
		r.prefix = prefix
	}
}

// NewRedisRepository 创建 Redis 仓库.
func NewRedisRepository(client RedisClient, processorName string, opts ...RedisOption) (*RedisRepository, error) {
	if client == nil {
		return nil, ErrNilClient
	}
	if processorName == "" {
		return nil, ErrEmptyProcessorName
	}
	r := &RedisRepository{client: client, prefix: "idempotent:"}
	for _, opt := range opts {
		opt(r)
	}
	r.setKey = r.prefix + processorName
	return r, nil
}

// SetKey 返回集合键.
func (r *RedisRepository) SetKey() string {
	return r.setKey
}

// Add 实现 Repository.
func (r *RedisRepository) Add(ctx context.Context, key string) (bool, error) {
	n, err := r.client.SAdd(ctx, r.setKey, key).Result()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// Contains 实现 Repository.
func (r *RedisRepository) Contains(ctx context.Context, key string) (bool, error) {
	return r.client.SIsMember(ctx, r.setKey, key).Result()
}

// Remove 实现 Repository.
func (r *RedisRepository) Remove(ctx context.Context, key string) (bool, error) {
	n, err := r.client.SRem(ctx, r.setKey, key).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Confirm 实现 Repository.
func (r *RedisRepository) Confirm(context.Context, string) (bool, error) {
	return true, nil
}

// Clear 实现 Repository.
func (r *RedisRepository) Clear(ctx context.Context) error {
	return r.client.Del(ctx, r.setKey).Err()
}
