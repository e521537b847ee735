package service

import (
	"context"
	"fmt"
	"maps"
	"sync"
	"time"

	"dailypair/internal/models"
	"dailypair/internal/observability"
	"dailypair/internal/repository"
)

// CooldownService tracks pair cooldowns and per-user abuse blocks.
type CooldownService struct {
	mu      sync.Mutex
	repo    repository.DocumentRepository
	now     Clock
	entries map[string]models.Cooldown
}

// NewCooldownService loads cooldowns from repo and purges the expired ones.
func NewCooldownService(ctx context.Context, repo repository.DocumentRepository, now Clock) (*CooldownService, error) {
	if now == nil {
		now = time.Now
	}
	s := &CooldownService{
		repo:    repo,
		now:     now,
		entries: make(map[string]models.Cooldown),
	}
	if _, err := repo.Load(ctx, repository.DocCooldowns, &s.entries); err != nil {
		return nil, fmt.Errorf("load cooldowns: %w", err)
	}
	if s.entries == nil {
		s.entries = make(map[string]models.Cooldown)
	}
	s.SweepExpired(ctx)
	return s, nil
}

// IsInCooldown reports whether a live pair cooldown covers exactly {a, b}.
func (s *CooldownService) IsInCooldown(a, b string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if c, ok := s.entries[models.PairKey(a, b)]; ok && c.Live(now) && c.Covers(a, b) {
		return true
	}
	for key, c := range s.entries {
		if !models.IsBlockKey(key) && c.Live(now) && c.Covers(a, b) {
			return true
		}
	}
	return false
}

// BlockedUntil returns the expiry of userID's live abuse block.
func (s *CooldownService) BlockedUntil(userID string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.entries[models.BlockKey(userID)]
	if !ok || !c.Live(s.now()) {
		return time.Time{}, false
	}
	return c.ExpireTime, true
}

// Install inserts or overwrites key with an expiry of now + d.
func (s *CooldownService) Install(ctx context.Context, key string, users []string, d time.Duration) time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	expires := s.now().Add(d)
	s.entries[key] = models.Cooldown{Users: users, ExpireTime: expires}
	persist(ctx, s.repo, repository.DocCooldowns, s.entries)
	return expires
}

// InstallPair starts a pair cooldown between a and b.
func (s *CooldownService) InstallPair(ctx context.Context, a, b string, d time.Duration) time.Time {
	return s.Install(ctx, models.PairKey(a, b), []string{a, b}, d)
}

// InstallBlock starts an abuse block on userID.
func (s *CooldownService) InstallBlock(ctx context.Context, userID string, d time.Duration) time.Time {
	return s.Install(ctx, models.BlockKey(userID), []string{userID}, d)
}

// SweepExpired deletes dead entries and returns how many were removed.
func (s *CooldownService) SweepExpired(ctx context.Context) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	removed := 0
	for key, c := range s.entries {
		if !c.Live(now) {
			delete(s.entries, key)
			removed++
		}
	}
	if removed > 0 {
		observability.CooldownsSwept.Add(float64(removed))
		persist(ctx, s.repo, repository.DocCooldowns, s.entries)
	}
	return removed
}

// Reset drops every cooldown.
func (s *CooldownService) Reset(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = make(map[string]models.Cooldown)
	persist(ctx, s.repo, repository.DocCooldowns, s.entries)
}

// ResetBlocks drops every abuse block and keeps pair cooldowns.
func (s *CooldownService) ResetBlocks(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	maps.DeleteFunc(s.entries, func(key string, _ models.Cooldown) bool {
		return models.IsBlockKey(key)
	})
	persist(ctx, s.repo, repository.DocCooldowns, s.entries)
}

// Snapshot returns a copy of all entries.
func (s *CooldownService) Snapshot() map[string]models.Cooldown {
	s.mu.Lock()
	defer s.mu.Unlock()
	return maps.Clone(s.entries)
}
