package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/casefile/pkg/models"
	"github.com/redis/go-redis/v9"
)

// Cache holds everything casefile keeps in Redis: job snapshots mirrored from
// the in-process registry, presigned image URLs and request counters. None of
// it is authoritative, so a cold cache only costs recomputation.
type Cache interface {
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Delete(ctx context.Context, key string) error
	Ping(ctx context.Context) error
	PutJob(ctx context.Context, job models.Job, ttl time.Duration) error
	GetJob(ctx context.Context, jobID uuid.UUID) (*models.Job, bool, error)
	IncrWithExpiry(ctx context.Context, key string, expiry time.Duration) (int64, error)
}

type RedisCache struct {
	client *redis.Client
}

var _ Cache = (*RedisCache)(nil)

// NewRedisCache parses a redis:// or rediss:// URL. It does not dial; call Ping.
func NewRedisCache(redisURL string) (*RedisCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return &RedisCache{client: redis.NewClient(opts)}, nil
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}

func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return c.client.Set(ctx, key, value, ttl).Err()
}

func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := c.client.Get(ctx, key).Bytes()
	switch {
	case errors.Is(err, redis.Nil):
		return nil, false, nil
	case err != nil:
		return nil, false, err
	}
	return val, true, nil
}

func (c *RedisCache) Delete(ctx context.Context, key string) error {
	return c.client.Del(ctx, key).Err()
}

// PutJob stores a JSON snapshot of job under JobKey, replacing any older one.
func (c *RedisCache) PutJob(ctx context.Context, job models.Job, ttl time.Duration) error {
	raw, err := EncodeJob(job)
	if err != nil {
		return err
	}
	return c.Set(ctx, JobKey(job.ID), raw, ttl)
}

func (c *RedisCache) GetJob(ctx context.Context, jobID uuid.UUID) (*models.Job, bool, error) {
	raw, ok, err := c.Get(ctx, JobKey(jobID))
	if err != nil || !ok {
		return nil, false, err
	}
	job, err := DecodeJob(raw)
	if err != nil {
		return nil, false, err
	}
	return job, true, nil
}

// IncrWithExpiry bumps a fixed-window counter. The expiry is only set when the
// key is created, so the window does not slide with each hit.
func (c *RedisCache) IncrWithExpiry(ctx context.Context, key string, expiry time.Duration) (int64, error) {
	pipe := c.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.ExpireNX(ctx, key, expiry)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return incr.Val(), nil
}

// EncodeJob is the wire form of a mirrored job.
func EncodeJob(job models.Job) ([]byte, error) {
	raw, err := json.Marshal(job)
	if err != nil {
		return nil, fmt.Errorf("encode job %s: %w", job.ID, err)
	}
	return raw, nil
}

func DecodeJob(raw []byte) (*models.Job, error) {
	var job models.Job
	if err := json.Unmarshal(raw, &job); err != nil {
		return nil, fmt.Errorf("decode job snapshot: %w", err)
	}
	return &job, nil
}
