package service

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"

	"dailypair/internal/models"
	"dailypair/internal/repository"
)

// BlocklistService owns user-managed block entries and the operator ban list.
type BlocklistService struct {
	mu      sync.RWMutex
	repo    repository.DocumentRepository
	entries map[string][]models.BlockEntry
	banned  []string
}

// NewBlocklistService loads both block documents from repo.
func NewBlocklistService(ctx context.Context, repo repository.DocumentRepository) (*BlocklistService, error) {
	s := &BlocklistService{
		repo:    repo,
		entries: make(map[string][]models.BlockEntry),
	}
	if _, err := repo.Load(ctx, repository.DocUserBlocklists, &s.entries); err != nil {
		return nil, fmt.Errorf("load blocklists: %w", err)
	}
	if _, err := repo.Load(ctx, repository.DocAdminBlocks, &s.banned); err != nil {
		return nil, fmt.Errorf("load banned users: %w", err)
	}
	if s.entries == nil {
		s.entries = make(map[string][]models.BlockEntry)
	}
	return s, nil
}

// IsBlocked reports whether requester and candidate must not be paired in groupID.
// Matching is symmetric: an entry owned by either side naming the other counts,
// whatever its TwoWay flag says.
func (s *BlocklistService) IsBlocked(requester, candidate, groupID string) bool {
	if candidate == models.GlobalExcludedID || requester == models.GlobalExcludedID {
		return true
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if slices.Contains(s.banned, candidate) || slices.Contains(s.banned, requester) {
		return true
	}
	return s.names(requester, candidate, groupID) || s.names(candidate, requester, groupID)
}

func (s *BlocklistService) names(owner, target, groupID string) bool {
	for _, e := range s.entries[owner] {
		if e.BlockedUser == target && e.Applies(groupID) {
			return true
		}
	}
	return false
}

// IsBanned reports whether an operator banned userID.
func (s *BlocklistService) IsBanned(userID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Contains(s.banned, userID)
}

// AddBlock inserts or updates the entry (owner, target, scope). An empty scope
// means every group. It reports whether a new entry was created.
func (s *BlocklistService) AddBlock(ctx context.Context, owner, target, scope string, twoWay bool) (bool, error) {
	target = strings.TrimSpace(target)
	if target == "" {
		return false, models.NewValidationError("a user id to block is required")
	}
	if target == owner {
		return false, models.NewValidationError("you cannot block yourself")
	}
	if scope == "" {
		scope = models.ScopeAll
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	list := s.entries[owner]
	for i := range list {
		if list[i].BlockedUser == target && list[i].Scope == scope {
			list[i].TwoWay = twoWay
			persist(ctx, s.repo, repository.DocUserBlocklists, s.entries)
			return false, nil
		}
	}
	s.entries[owner] = append(list, models.BlockEntry{BlockedUser: target, Scope: scope, TwoWay: twoWay})
	persist(ctx, s.repo, repository.DocUserBlocklists, s.entries)
	return true, nil
}

// RemoveBlock deletes owner's entries naming target. An empty scope removes
// every scope. It reports whether anything was removed.
func (s *BlocklistService) RemoveBlock(ctx context.Context, owner, target, scope string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	list := s.entries[owner]
	kept := slices.DeleteFunc(slices.Clone(list), func(e models.BlockEntry) bool {
		return e.BlockedUser == target && (scope == "" || e.Scope == scope)
	})
	if len(kept) == len(list) {
		return false
	}
	if len(kept) == 0 {
		delete(s.entries, owner)
	} else {
		s.entries[owner] = kept
	}
	persist(ctx, s.repo, repository.DocUserBlocklists, s.entries)
	return true
}

// ListBlocks returns owner's entries in insertion order.
func (s *BlocklistService) ListBlocks(owner string) []models.BlockEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.entries[owner])
}

// Ban excludes userID from every draw. It reports whether the user was newly banned.
func (s *BlocklistService) Ban(ctx context.Context, userID string) (bool, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return false, models.NewValidationError("a user id to ban is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if slices.Contains(s.banned, userID) {
		return false, nil
	}
	s.banned = append(s.banned, userID)
	persist(ctx, s.repo, repository.DocAdminBlocks, s.banned)
	return true, nil
}

// ResetUserBlocks drops every user-managed entry. The fixed global exclusion is unaffected.
func (s *BlocklistService) ResetUserBlocks(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = make(map[string][]models.BlockEntry)
	persist(ctx, s.repo, repository.DocUserBlocklists, s.entries)
}

// ResetBans clears the operator ban list.
func (s *BlocklistService) ResetBans(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.banned = []string{}
	persist(ctx, s.repo, repository.DocAdminBlocks, s.banned)
}
