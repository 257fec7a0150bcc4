package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mind-engage/quizhub/internal/results"
)

// Redis shares the score board between gateway replicas.
type Redis struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedis(addr, password string, db int, ttl time.Duration) *Redis {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return &Redis{rdb: rdb, ttl: ttl}
}

func (c *Redis) Ping(ctx context.Context) error { return c.rdb.Ping(ctx).Err() }

func (c *Redis) Close() error { return c.rdb.Close() }

func scoreKey(quizID string) string {
	return fmt.Sprintf("quiz:%s:scores", quizID)
}

func (c *Redis) Scores(ctx context.Context, quizID string) ([]results.Entry, bool, error) {
	raw, err := c.rdb.Get(ctx, scoreKey(quizID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var entries []results.Entry
	if err := json.Unmarshal(raw, &entries); err != nil {
		// treat a corrupt value as a miss; the next Put overwrites it
		return nil, false, nil
	}
	return entries, true, nil
}

func (c *Redis) Put(ctx context.Context, quizID string, entries []results.Entry) error {
	data, err := json.Marshal(entries)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, scoreKey(quizID), data, c.ttl).Err()
}

func (c *Redis) Invalidate(ctx context.Context, quizID string) error {
	return c.rdb.Del(ctx, scoreKey(quizID)).Err()
}
