package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/WessleyAI/wessley-health/engine/domain"
)

// redisKV is the part of redis.Cmdable RedisRecords uses.
type redisKV interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
}

// RedisRecords stores each record as a JSON string under "<prefix><user_id>".
type RedisRecords struct {
	client redisKV
	prefix string
	ttl    time.Duration
}

var _ Records = (*RedisRecords)(nil)

// NewRedisRecords wraps a redis client. ttl 0 keeps records forever.
func NewRedisRecords(client redisKV, prefix string, ttl time.Duration) *RedisRecords {
	if prefix == "" {
		prefix = "explanation:"
	}
	return &RedisRecords{client: client, prefix: prefix, ttl: ttl}
}

// Get returns the record for key.
func (r *RedisRecords) Get(ctx context.Context, key string) (domain.ExplanationRecord, error) {
	data, err := r.client.Get(ctx, r.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.ExplanationRecord{}, fmt.Errorf("records: %s: %w", key, domain.ErrNotFound)
	}
	if err != nil {
		return domain.ExplanationRecord{}, fmt.Errorf("records: redis get %s: %w", key, err)
	}
	var rec domain.ExplanationRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return domain.ExplanationRecord{}, err
	}
	return rec, nil
}

// Put writes rec under its user id.
func (r *RedisRecords) Put(ctx context.Context, rec domain.ExplanationRecord) error {
	if rec.UserID == "" {
		return domain.NewValidationError("user_id", "", domain.ErrRequired)
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("records: encode: %w", err)
	}
	if err := r.client.Set(ctx, r.prefix+rec.UserID, data, r.ttl).Err(); err != nil {
		return fmt.Errorf("records: redis set %s: %w", rec.UserID, err)
	}
	return nil
}
