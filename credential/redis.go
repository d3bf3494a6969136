package credential

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	fieldAccess  = "a"
	fieldRefresh = "r"
)

// ErrRedisUnavailable wraps go-redis failures.
var ErrRedisUnavailable = errors.New("redis unavailable")

// RedisPersister stores the pair as a single Redis hash. Both fields are written in
// one MULTI/EXEC block so a concurrent reader never sees a half-written pair.
type RedisPersister struct {
	redis  redis.UniversalClient
	prefix string
	name   string
	ttl    time.Duration
}

// NewRedisPersister creates a persister writing to "<prefix>:<name>". An empty prefix
// defaults to "acc", an empty name to "default". A ttl of zero keeps the key until it
// is deleted.
func NewRedisPersister(client redis.UniversalClient, prefix, name string, ttl time.Duration) *RedisPersister {
	if prefix == "" {
		prefix = "acc"
	}
	if name == "" {
		name = "default"
	}
	return &RedisPersister{
		redis:  client,
		prefix: prefix,
		name:   name,
		ttl:    ttl,
	}
}

// Key returns the Redis key holding the pair.
func (p *RedisPersister) Key() string {
	return p.prefix + ":" + p.name
}

func (p *RedisPersister) Save(ctx context.Context, pair Pair) error {
	if !pair.Complete() {
		return ErrIncompletePair
	}
	key := p.Key()
	_, err := p.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		pipe.HSet(ctx, key, fieldAccess, pair.AccessToken, fieldRefresh, pair.RefreshToken)
		if p.ttl > 0 {
			pipe.Expire(ctx, key, p.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

func (p *RedisPersister) Load(ctx context.Context) (Pair, error) {
	values, err := p.redis.HGetAll(ctx, p.Key()).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Pair{}, nil
		}
		return Pair{}, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return Pair{
		AccessToken:  values[fieldAccess],
		RefreshToken: values[fieldRefresh],
	}, nil
}

func (p *RedisPersister) Delete(ctx context.Context) error {
	if err := p.redis.Del(ctx, p.Key()).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}
