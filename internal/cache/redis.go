package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

type RedisOptions struct {
	Addr         string
	Password     string
	DB           int
	PoolSize     int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// NewRedisClient connects and pings; the client is closed again if the ping
// fails.
func NewRedisClient(ctx context.Context, opts RedisOptions) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         opts.Addr,
		Password:     opts.Password,
		DB:           opts.DB,
		PoolSize:     opts.PoolSize,
		DialTimeout:  opts.DialTimeout,
		ReadTimeout:  opts.ReadTimeout,
		WriteTimeout: opts.WriteTimeout,
	})

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to ping redis at %s: %w", opts.Addr, err)
	}
	return rdb, nil
}

// Redis stores sessions as plain string keys with a native TTL, so every
// write is a single atomic SET.
type Redis struct {
	rdb *redis.Client
}

func NewRedis(rdb *redis.Client) *Redis {
	return &Redis{rdb: rdb}
}

func (r *Redis) Put(ctx context.Context, userID int64, token string, ttl time.Duration) error {
	if ttl < 0 {
		ttl = 0
	}
	if err := r.rdb.Set(ctx, SessionKey(userID), token, ttl).Err(); err != nil {
		return fmt.Errorf("redis set session %d: %w", userID, err)
	}
	return nil
}

func (r *Redis) Get(ctx context.Context, userID int64) (string, bool, error) {
	val, err := r.rdb.Get(ctx, SessionKey(userID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("redis get session %d: %w", userID, err)
	}
	return val, true, nil
}

func (r *Redis) Delete(ctx context.Context, userID int64) error {
	if err := r.rdb.Del(ctx, SessionKey(userID)).Err(); err != nil {
		return fmt.Errorf("redis delete session %d: %w", userID, err)
	}
	return nil
}

func (r *Redis) Ping(ctx context.Context) error {
	return r.rdb.Ping(ctx).Err()
}

func (r *Redis) Close() error {
	return r.rdb.Close()
}
