package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"dailypair/internal/featureflags"
	"dailypair/internal/models"
	"dailypair/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newAdvanced(t *testing.T, opts AdvancedOptions) (*AdvancedService, *fakeClock, *memDocs) {
	t.Helper()
	clock := newFakeClock(time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC))
	docs := newMemDocs()
	opts.Now = clock.Now
	s, err := NewAdvancedService(context.Background(), docs, opts)
	require.NoError(t, err)
	return s, clock, docs
}

func TestAdvancedHandshake(t *testing.T) {
	ctx := context.Background()
	s, clock, docs := newAdvanced(t, AdvancedOptions{})

	assert.False(t, s.IsEnabled("g1"))
	deadline, err := s.RequestEnable("g1", "1001", "sess-1")
	require.NoError(t, err)
	assert.Equal(t, clock.Now().Add(30*time.Second), deadline)
	assert.True(t, s.HasPending("g1", "1001"))
	assert.False(t, s.HasPending("g2", "1001"))

	clock.Advance(29 * time.Second)
	require.NoError(t, s.Confirm(ctx, "g1", "1001"))
	assert.True(t, s.IsEnabled("g1"))
	assert.False(t, s.IsEnabled("g2"))
	assert.False(t, s.HasPending("g1", "1001"))
	assert.Equal(t, 1, docs.saveCount(repository.DocAdvanced))

	_, err = s.RequestEnable("g1", "1002", "sess-2")
	requireCode(t, err, models.CodeValidation)

	reloaded, err := NewAdvancedService(ctx, docs, AdvancedOptions{})
	require.NoError(t, err)
	assert.True(t, reloaded.IsEnabled("g1"))
}

func TestAdvancedConfirmRefusals(t *testing.T) {
	ctx := context.Background()
	s, clock, _ := newAdvanced(t, AdvancedOptions{})

	requireCode(t, s.Confirm(ctx, "g1", "1001"), models.CodeValidation)

	_, err := s.RequestEnable("g1", "1001", "sess")
	require.NoError(t, err)
	requireCode(t, s.Confirm(ctx, "g2", "1001"), models.CodeValidation)
	requireCode(t, s.Confirm(ctx, "g1", "1002"), models.CodeValidation)

	clock.Advance(31 * time.Second)
	requireCode(t, s.Confirm(ctx, "g1", "1001"), models.CodeValidation)
	assert.False(t, s.IsEnabled("g1"))
}

func TestAdvancedSweepNotifiesSession(t *testing.T) {
	ctx := context.Background()
	notifier := &notifierStub{err: errors.New("no subscribers")}
	s, clock, _ := newAdvanced(t, AdvancedOptions{Notifier: notifier})

	_, err := s.RequestEnable("g1", "1001", "sess-1")
	require.NoError(t, err)
	clock.Advance(10 * time.Second)
	_, err = s.RequestEnable("g2", "1002", "sess-2")
	require.NoError(t, err)

	clock.Advance(25 * time.Second)
	assert.Equal(t, 1, s.SweepExpired(ctx))

	sent := notifier.sent()
	require.Len(t, sent, 1)
	assert.Equal(t, models.NoticeConfirmationExpired, sent[0].Type)
	assert.Equal(t, "sess-1", sent[0].Session)
	assert.Equal(t, "g1", sent[0].GroupID)
	assert.Equal(t, "1001", sent[0].UserID)

	assert.False(t, s.HasPending("g1", "1001"))
	assert.True(t, s.HasPending("g2", "1002"))
	assert.Zero(t, s.SweepExpired(ctx))
}

func TestAdvancedRunStopsOnCancel(t *testing.T) {
	s, _, _ := newAdvanced(t, AdvancedOptions{})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx, time.Millisecond)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("sweeper did not stop")
	}
}

func TestAdvancedGlobalOverride(t *testing.T) {
	ctx := context.Background()
	s, _, _ := newAdvanced(t, AdvancedOptions{Global: true})

	assert.True(t, s.IsEnabled("any"))
	assert.True(t, s.IsForced("any"))
	_, err := s.RequestEnable("any", "1001", "sess")
	requireCode(t, err, models.CodeValidation)
	// the stored flag was never set, so there is nothing to disable
	requireCode(t, s.Disable(ctx, "any"), models.CodeValidation)
	assert.True(t, s.IsEnabled("any"))
}

func TestAdvancedFeatureFlagOverride(t *testing.T) {
	s, _, _ := newAdvanced(t, AdvancedOptions{Flags: featureflags.NewManager("advanced=true")})
	assert.True(t, s.IsEnabled("g1"))

	off, _, _ := newAdvanced(t, AdvancedOptions{Flags: featureflags.NewManager("advanced=false")})
	assert.False(t, off.IsEnabled("g1"))
}

func TestAdvancedDisableAndReset(t *testing.T) {
	ctx := context.Background()
	s, _, _ := newAdvanced(t, AdvancedOptions{})

	for _, g := range []string{"g1", "g2"} {
		_, err := s.RequestEnable(g, "u-"+g, "sess")
		require.NoError(t, err)
		require.NoError(t, s.Confirm(ctx, g, "u-"+g))
	}

	require.NoError(t, s.Disable(ctx, "g1"))
	assert.False(t, s.IsEnabled("g1"))
	requireCode(t, s.Disable(ctx, "g1"), models.CodeValidation)

	s.ResetGroup(ctx, "g2")
	assert.False(t, s.IsEnabled("g2"))

	_, err := s.RequestEnable("g3", "1001", "sess")
	require.NoError(t, err)
	s.ResetAll(ctx)
	assert.False(t, s.HasPending("g3", "1001"))
}
