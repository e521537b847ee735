package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"dailypair/internal/featureflags"
	"dailypair/internal/models"
	"dailypair/internal/observability"
	"dailypair/internal/repository"
)

// ConfirmPhrase must be sent verbatim to commit an enable request.
const ConfirmPhrase = "I understand the risks of advanced features and insist on enabling them"

// Notifier delivers asynchronous notices to chat sessions.
type Notifier interface {
	Notify(ctx context.Context, notice models.Notice) error
}

type pendingConfirmation struct {
	GroupID     string
	Session     string
	RequestedAt time.Time
}

// AdvancedService holds the per-group advanced flag and the pending
// confirmations of enable requests.
type AdvancedService struct {
	mu       sync.Mutex
	repo     repository.DocumentRepository
	now      Clock
	flags    *featureflags.Manager
	global   bool
	window   time.Duration
	notifier Notifier
	enabled  map[string]bool
	pending  map[string]pendingConfirmation
}

// AdvancedOptions configures NewAdvancedService.
type AdvancedOptions struct {
	Global   bool
	Flags    *featureflags.Manager
	Window   time.Duration
	Notifier Notifier
	Now      Clock
}

// NewAdvancedService loads the per-group flags from repo.
func NewAdvancedService(ctx context.Context, repo repository.DocumentRepository, opts AdvancedOptions) (*AdvancedService, error) {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Window <= 0 {
		opts.Window = 30 * time.Second
	}
	s := &AdvancedService{
		repo:     repo,
		now:      opts.Now,
		flags:    opts.Flags,
		global:   opts.Global,
		window:   opts.Window,
		notifier: opts.Notifier,
		enabled:  make(map[string]bool),
		pending:  make(map[string]pendingConfirmation),
	}
	if _, err := repo.Load(ctx, repository.DocAdvanced, &s.enabled); err != nil {
		return nil, fmt.Errorf("load advanced flags: %w", err)
	}
	if s.enabled == nil {
		s.enabled = make(map[string]bool)
	}
	return s, nil
}

// SetNotifier replaces the notifier used for expiry notices.
func (s *AdvancedService) SetNotifier(n Notifier) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notifier = n
}

// IsEnabled reports whether advanced actions are available in groupID.
func (s *AdvancedService) IsEnabled(groupID string) bool {
	if s.global || s.flags.Enabled(featureflags.Advanced, groupID) {
		return true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enabled[groupID]
}

// IsForced reports whether the group flag is overridden by configuration.
func (s *AdvancedService) IsForced(groupID string) bool {
	return s.global || s.flags.Enabled(featureflags.Advanced, groupID)
}

// RequestEnable records a pending confirmation for userID and returns its deadline.
// A newer request from the same user replaces the older one.
func (s *AdvancedService) RequestEnable(groupID, userID, session string) (time.Time, error) {
	if s.IsEnabled(groupID) {
		return time.Time{}, models.NewValidationError("advanced features are already enabled in this group")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	s.pending[userID] = pendingConfirmation{GroupID: groupID, Session: session, RequestedAt: now}
	return now.Add(s.window), nil
}

// HasPending reports whether userID has a live enable request in groupID.
func (s *AdvancedService) HasPending(groupID, userID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pending[userID]
	return ok && p.GroupID == groupID && s.now().Sub(p.RequestedAt) <= s.window
}

// Confirm commits userID's pending request for groupID.
func (s *AdvancedService) Confirm(ctx context.Context, groupID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.pending[userID]
	if !ok || p.GroupID != groupID {
		return models.NewValidationError("there is no pending request to enable advanced features")
	}
	if s.now().Sub(p.RequestedAt) > s.window {
		delete(s.pending, userID)
		return models.NewValidationError("the enable request has expired, please request again")
	}

	delete(s.pending, userID)
	s.enabled[groupID] = true
	persist(ctx, s.repo, repository.DocAdvanced, s.enabled)
	return nil
}

// Disable clears groupID's flag.
func (s *AdvancedService) Disable(ctx context.Context, groupID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.enabled[groupID] {
		return models.NewValidationError("advanced features are not enabled in this group")
	}
	delete(s.enabled, groupID)
	persist(ctx, s.repo, repository.DocAdvanced, s.enabled)
	return nil
}

// ResetGroup forgets groupID's flag without complaining when it is unset.
func (s *AdvancedService) ResetGroup(ctx context.Context, groupID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.enabled, groupID)
	persist(ctx, s.repo, repository.DocAdvanced, s.enabled)
}

// ResetAll clears every group flag and pending request.
func (s *AdvancedService) ResetAll(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.enabled = make(map[string]bool)
	s.pending = make(map[string]pendingConfirmation)
	persist(ctx, s.repo, repository.DocAdvanced, s.enabled)
}

// SweepExpired drops pending requests older than the window and notifies the
// sessions they came from. It returns the number of expired requests.
func (s *AdvancedService) SweepExpired(ctx context.Context) int {
	s.mu.Lock()
	now := s.now()
	var expired []models.Notice
	for userID, p := range s.pending {
		if now.Sub(p.RequestedAt) > s.window {
			delete(s.pending, userID)
			expired = append(expired, models.Notice{
				Type:    models.NoticeConfirmationExpired,
				Session: p.Session,
				GroupID: p.GroupID,
				UserID:  userID,
				Text:    "The request to enable advanced features timed out.",
				SentAt:  now,
			})
		}
	}
	notifier := s.notifier
	s.mu.Unlock()

	for _, n := range expired {
		observability.ConfirmationsExpired.Inc()
		if notifier == nil {
			continue
		}
		if err := notifier.Notify(ctx, n); err != nil {
			observability.LogAsyncOperationError(ctx, "advanced.notify_expired", err, map[string]interface{}{
				"group_id": n.GroupID,
				"user_id":  n.UserID,
			})
		}
	}
	return len(expired)
}

// Run sweeps expired confirmations every interval until ctx is done.
func (s *AdvancedService) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			observability.GlobalLogger.Info("confirmation sweeper stopped", slog.String("reason", ctx.Err().Error()))
			return
		case <-ticker.C:
			s.SweepExpired(ctx)
		}
	}
}
