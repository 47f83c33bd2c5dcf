package artifact

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisClient is the subset of *redis.Client the sink uses.
type RedisClient interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	RPush(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
	Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd
}

// RedisSink stores each artifact under artifact:{run}:{id} and appends its id
// to the run's index list. Both keys expire after ttl.
type RedisSink struct {
	rdb RedisClient
	ttl time.Duration
}

func NewRedisSink(rdb RedisClient, ttl time.Duration) *RedisSink {
	return &RedisSink{rdb: rdb, ttl: ttl}
}

func Key(runID, id string) string {
	if runID == "" {
		runID = "_"
	}
	return fmt.Sprintf("artifact:%s:%s", runID, id)
}

func IndexKey(runID string) string {
	if runID == "" {
		runID = "_"
	}
	return fmt.Sprintf("artifact:%s:index", runID)
}

func (s *RedisSink) Create(ctx context.Context, a Artifact) error {
	if err := s.rdb.Set(ctx, Key(a.Link.RunID, a.ID), a, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to store artifact %s: %w", a.ID, err)
	}

	index := IndexKey(a.Link.RunID)
	if err := s.rdb.RPush(ctx, index, a.ID).Err(); err != nil {
		return fmt.Errorf("failed to index artifact %s: %w", a.ID, err)
	}
	if s.ttl > 0 {
		_ = s.rdb.Expire(ctx, index, s.ttl).Err()
	}
	return nil
}
