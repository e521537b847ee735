package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"dailypair/internal/cache"

	"github.com/redis/go-redis/v9"
)

// Action names an advanced action with a daily cap.
type Action string

const (
	ActionWish Action = "wish"
	ActionRob  Action = "rob"
	ActionLock Action = "lock"
)

// UsageTracker counts advanced actions per group, user and day.
type UsageTracker interface {
	Count(ctx context.Context, day, groupID, userID string, action Action) (int, error)
	Increment(ctx context.Context, day, groupID, userID string, action Action) (int, error)
	// Reset clears every counter.
	Reset(ctx context.Context) error
}

type usageKey struct {
	day, group, user string
	action           Action
}

type memoryUsageTracker struct {
	mu     sync.Mutex
	counts map[usageKey]int
}

// NewMemoryUsageTracker keeps counters in process memory; they do not survive restarts.
func NewMemoryUsageTracker() UsageTracker {
	return &memoryUsageTracker{counts: make(map[usageKey]int)}
}

func (t *memoryUsageTracker) Count(_ context.Context, day, groupID, userID string, action Action) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.counts[usageKey{day, groupID, userID, action}], nil
}

func (t *memoryUsageTracker) Increment(_ context.Context, day, groupID, userID string, action Action) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	k := usageKey{day, groupID, userID, action}
	t.counts[k]++
	return t.counts[k], nil
}

func (t *memoryUsageTracker) Reset(context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.counts = make(map[usageKey]int)
	return nil
}

// usageTTL outlives the day the counter belongs to.
const usageTTL = 48 * time.Hour

type redisUsageTracker struct {
	client *redis.Client
}

// NewRedisUsageTracker keeps counters in Redis hashes so they survive restarts.
func NewRedisUsageTracker(client *redis.Client) UsageTracker {
	return &redisUsageTracker{client: client}
}

func (t *redisUsageTracker) Count(ctx context.Context, day, groupID, userID string, action Action) (int, error) {
	n, err := t.client.HGet(ctx, cache.UsageKey(day, groupID, userID), string(action)).Int()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read usage counter: %w", err)
	}
	return n, nil
}

func (t *redisUsageTracker) Increment(ctx context.Context, day, groupID, userID string, action Action) (int, error) {
	key := cache.UsageKey(day, groupID, userID)
	pipe := t.client.TxPipeline()
	incr := pipe.HIncrBy(ctx, key, string(action), 1)
	pipe.Expire(ctx, key, usageTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("increment usage counter: %w", err)
	}
	return int(incr.Val()), nil
}

func (t *redisUsageTracker) Reset(ctx context.Context) error {
	iter := t.client.Scan(ctx, 0, cache.UsagePattern(), 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("scan usage counters: %w", err)
	}
	if len(keys) == 0 {
		return nil
	}
	return t.client.Del(ctx, keys...).Err()
}
