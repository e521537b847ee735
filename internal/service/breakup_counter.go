package service

import (
	"context"
	"fmt"
	"sync"

	"dailypair/internal/repository"
)

// BreakupCounter counts breakups per user per day.
type BreakupCounter struct {
	mu     sync.Mutex
	repo   repository.DocumentRepository
	counts map[string]map[string]int
}

// NewBreakupCounter loads counts from repo.
func NewBreakupCounter(ctx context.Context, repo repository.DocumentRepository) (*BreakupCounter, error) {
	c := &BreakupCounter{repo: repo, counts: make(map[string]map[string]int)}
	if _, err := repo.Load(ctx, repository.DocBreakupCounts, &c.counts); err != nil {
		return nil, fmt.Errorf("load breakup counts: %w", err)
	}
	if c.counts == nil {
		c.counts = make(map[string]map[string]int)
	}
	return c, nil
}

// Count returns userID's breakups on day.
func (c *BreakupCounter) Count(day, userID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counts[day][userID]
}

// Increment adds one breakup and returns the new count.
func (c *BreakupCounter) Increment(ctx context.Context, day, userID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.counts[day] == nil {
		c.counts[day] = make(map[string]int)
	}
	c.counts[day][userID]++
	persist(ctx, c.repo, repository.DocBreakupCounts, c.counts)
	return c.counts[day][userID]
}

// DropBefore removes every day earlier than day. Day keys sort chronologically.
func (c *BreakupCounter) DropBefore(ctx context.Context, day string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	dropped := 0
	for d := range c.counts {
		if d < day {
			delete(c.counts, d)
			dropped++
		}
	}
	if dropped > 0 {
		persist(ctx, c.repo, repository.DocBreakupCounts, c.counts)
	}
	return dropped
}

// Reset clears all counts.
func (c *BreakupCounter) Reset(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counts = make(map[string]map[string]int)
	persist(ctx, c.repo, repository.DocBreakupCounts, c.counts)
}
