package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"dailypair/internal/gateway"
	"dailypair/internal/models"
	"dailypair/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDrawPairsSymmetrically(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	a, b := f.member(0), f.member(1)

	res, err := f.pairing.Draw(f.ctx, f.req(0))
	require.NoError(t, err)
	assert.False(t, res.Existing)
	assert.True(t, res.IsInitiator)
	assert.Equal(t, b.UserID, res.Partner.ID)

	g := f.state()
	require.Contains(t, g.Pairs, a.UserID)
	require.Contains(t, g.Pairs, b.UserID)
	assert.Equal(t, b.UserID, g.Pairs[a.UserID].PartnerID)
	assert.Equal(t, a.UserID, g.Pairs[b.UserID].PartnerID)
	assert.False(t, g.Pairs[b.UserID].IsInitiator)
	assert.ElementsMatch(t, []string{a.UserID, b.UserID}, g.Used)
	assert.Equal(t, 1, f.docs.saveCount(repository.DocPairings))
}

func TestDrawIsIdempotent(t *testing.T) {
	f := newFixture(t, fixtureOptions{})

	first, err := f.pairing.Draw(f.ctx, f.req(0))
	require.NoError(t, err)

	calls := 0
	f.dir.groupMembersFn = func(context.Context, string) ([]models.Member, error) {
		calls++
		return f.members, nil
	}
	second, err := f.pairing.Draw(f.ctx, f.req(0))
	require.NoError(t, err)
	assert.True(t, second.Existing)
	assert.Equal(t, first.Partner, second.Partner)
	assert.Zero(t, calls, "an existing pairing must not fetch the roster")
}

func TestDrawDrawnSideSeesExistingPairing(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	_, err := f.pairing.Draw(f.ctx, f.req(0))
	require.NoError(t, err)

	res, err := f.pairing.Draw(f.ctx, f.req(1))
	require.NoError(t, err)
	assert.True(t, res.Existing)
	assert.False(t, res.IsInitiator)
	assert.Equal(t, f.member(0).UserID, res.Partner.ID)
}

func TestDrawExclusions(t *testing.T) {
	tests := []struct {
		name  string
		setup func(f *fixture)
	}{
		{"blocked by requester", func(f *fixture) {
			_, err := f.blocks.AddBlock(f.ctx, f.member(0).UserID, f.member(1).UserID, "", true)
			require.NoError(t, err)
		}},
		{"blocked by candidate one way", func(f *fixture) {
			_, err := f.blocks.AddBlock(f.ctx, f.member(1).UserID, f.member(0).UserID, testGroup, false)
			require.NoError(t, err)
		}},
		{"pair cooldown", func(f *fixture) {
			f.cooldowns.InstallPair(f.ctx, f.member(0).UserID, f.member(1).UserID, time.Hour)
		}},
		{"banned candidate", func(f *fixture) {
			_, err := f.blocks.Ban(f.ctx, f.member(1).UserID)
			require.NoError(t, err)
		}},
		{"candidate already used", func(f *fixture) {
			f.pairing.mu.Lock()
			f.pairing.group(testGroup).MarkUsed(f.member(1).UserID)
			f.pairing.mu.Unlock()
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, fixtureOptions{})
			tt.setup(f)

			res, err := f.pairing.Draw(f.ctx, f.req(0))
			require.NoError(t, err)
			assert.Equal(t, f.member(2).UserID, res.Partner.ID)
		})
	}
}

func TestDrawNeverPicksGlobalExclusion(t *testing.T) {
	f := newFixture(t, fixtureOptions{rosterSize: 1})
	f.members = append([]models.Member{f.members[0], {UserID: models.GlobalExcludedID, Nickname: "steward"}}, f.members[1:]...)
	f.dir.groupMembersFn = func(context.Context, string) ([]models.Member, error) { return f.members, nil }

	_, err := f.pairing.Draw(f.ctx, f.req(0))
	requireCode(t, err, models.CodeValidation)
	assert.Empty(t, f.state().Pairs)
}

func TestDrawNoCandidates(t *testing.T) {
	f := newFixture(t, fixtureOptions{rosterSize: 1})

	_, err := f.pairing.Draw(f.ctx, f.req(0))
	requireCode(t, err, models.CodeValidation)
	assert.Zero(t, f.docs.saveCount(repository.DocPairings))
}

func TestDrawRosterFailure(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	f.dir.groupMembersFn = func(context.Context, string) ([]models.Member, error) {
		return nil, errors.New("all hosts down")
	}

	_, err := f.pairing.Draw(f.ctx, f.req(0))
	requireCode(t, err, models.CodeUpstream)
	assert.Empty(t, f.state().Pairs)
}

func TestDrawRefusedForBannedOrBlockedRequester(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	_, err := f.blocks.Ban(f.ctx, f.member(0).UserID)
	require.NoError(t, err)
	_, err = f.pairing.Draw(f.ctx, f.req(0))
	requireCode(t, err, models.CodeValidation)

	f.cooldowns.InstallBlock(f.ctx, f.member(1).UserID, time.Hour)
	_, err = f.pairing.Draw(f.ctx, f.req(1))
	requireCode(t, err, models.CodeCooldown)
}

func TestPairingStateIsScopedToDay(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	_, err := f.pairing.Draw(f.ctx, f.req(0))
	require.NoError(t, err)

	f.clock.Advance(24 * time.Hour)

	_, err = f.pairing.Query(f.ctx, testGroup, f.member(0).UserID)
	requireCode(t, err, models.CodeNotFound)
	assert.Equal(t, f.today(), f.state().Date)
	assert.Empty(t, f.state().Used)
}

func TestPairingStateSurvivesReload(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	_, err := f.pairing.Draw(f.ctx, f.req(0))
	require.NoError(t, err)

	g := newFixture(t, fixtureOptions{docs: f.docs})
	res, err := g.pairing.Query(g.ctx, testGroup, f.member(1).UserID)
	require.NoError(t, err)
	assert.Equal(t, f.member(0).UserID, res.Partner.ID)
}

func TestQuery(t *testing.T) {
	f := newFixture(t, fixtureOptions{})

	_, err := f.pairing.Query(f.ctx, testGroup, f.member(0).UserID)
	requireCode(t, err, models.CodeNotFound)

	_, err = f.pairing.Draw(f.ctx, f.req(0))
	require.NoError(t, err)
	res, err := f.pairing.Query(f.ctx, testGroup, f.member(0).UserID)
	require.NoError(t, err)
	assert.True(t, res.Existing)
	assert.Equal(t, f.member(1).UserID, res.Partner.ID)
}

func TestBreakup(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	a, b := f.member(0).UserID, f.member(1).UserID
	_, err := f.pairing.Draw(f.ctx, f.req(0))
	require.NoError(t, err)

	res, err := f.pairing.Breakup(f.ctx, testGroup, a)
	require.NoError(t, err)
	assert.Equal(t, b, res.FormerPartner.ID)
	assert.Equal(t, 48*time.Hour, res.Cooling)
	assert.Equal(t, 2, res.Remaining)

	g := f.state()
	assert.NotContains(t, g.Pairs, a)
	assert.NotContains(t, g.Pairs, b)
	assert.Empty(t, g.Used)

	assert.True(t, f.cooldowns.IsInCooldown(a, b))
	assert.True(t, f.cooldowns.IsInCooldown(b, a))
	entry := f.cooldowns.Snapshot()[models.PairKey(a, b)]
	assert.Equal(t, f.clock.Now().Add(48*time.Hour), entry.ExpireTime)
	assert.Equal(t, 1, f.breakups.Count(f.today(), a))

	// the former partners are no longer eligible for each other
	res2, err := f.pairing.Draw(f.ctx, f.req(0))
	require.NoError(t, err)
	assert.Equal(t, f.member(2).UserID, res2.Partner.ID)

	f.clock.Advance(48*time.Hour + time.Second)
	assert.False(t, f.cooldowns.IsInCooldown(a, b))
}

func TestBreakupWithoutPairing(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	_, err := f.pairing.Breakup(f.ctx, testGroup, f.member(0).UserID)
	requireCode(t, err, models.CodeNotFound)
	assert.Empty(t, f.cooldowns.Snapshot())
}

func TestBreakupAbuseInstallsBlock(t *testing.T) {
	f := newFixture(t, fixtureOptions{rosterSize: 6})
	a := f.member(0).UserID

	for i := range 3 {
		_, err := f.pairing.Draw(f.ctx, f.req(0))
		require.NoError(t, err, "draw %d", i)
		_, err = f.pairing.Breakup(f.ctx, testGroup, a)
		require.NoError(t, err, "breakup %d", i)
	}

	res, err := f.pairing.Draw(f.ctx, f.req(0))
	require.NoError(t, err)
	partner := res.Partner.ID

	_, err = f.pairing.Breakup(f.ctx, testGroup, a)
	requireCode(t, err, models.CodeCooldown)

	assert.Equal(t, 3, f.breakups.Count(f.today(), a), "refused breakup must not count")
	until, blocked := f.cooldowns.BlockedUntil(a)
	require.True(t, blocked)
	assert.Equal(t, f.clock.Now().Add(24*time.Hour), until)

	g := f.state()
	require.Contains(t, g.Pairs, a, "refused breakup keeps the pairing")
	assert.Equal(t, partner, g.Pairs[a].PartnerID)
	assert.False(t, f.cooldowns.IsInCooldown(a, partner))
}

func TestWish(t *testing.T) {
	f := newFixture(t, fixtureOptions{advanced: true})
	a, c := f.member(0).UserID, f.member(2).UserID

	res, err := f.pairing.Wish(f.ctx, f.req(0), c)
	require.NoError(t, err)
	assert.Equal(t, c, res.Partner.ID)
	assert.Equal(t, f.member(2).Identity(), res.Partner)

	g := f.state()
	assert.Equal(t, a, g.Pairs[c].PartnerID)
	assert.True(t, g.Pairs[a].IsInitiator)
	n, err := f.usage.Count(f.ctx, f.today(), testGroup, a, ActionWish)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestWishRefusals(t *testing.T) {
	tests := []struct {
		name     string
		advanced bool
		setup    func(f *fixture)
		target   func(f *fixture) string
		code     string
	}{
		{"disabled", false, nil, func(f *fixture) string { return f.member(1).UserID }, models.CodeFeatureDisabled},
		{"missing target", true, nil, func(*fixture) string { return "" }, models.CodeValidation},
		{"self", true, nil, func(f *fixture) string { return f.member(0).UserID }, models.CodeValidation},
		{"bot", true, nil, func(*fixture) string { return testBot }, models.CodeValidation},
		{"global exclusion", true, nil, func(*fixture) string { return models.GlobalExcludedID }, models.CodeValidation},
		{"blocked", true, func(f *fixture) {
			_, err := f.blocks.AddBlock(f.ctx, f.member(1).UserID, f.member(0).UserID, "", false)
			require.NoError(t, err)
		}, func(f *fixture) string { return f.member(1).UserID }, models.CodeValidation},
		{"target paired", true, func(f *fixture) {
			f.link(1, 2)
		}, func(f *fixture) string { return f.member(1).UserID }, models.CodeValidation},
		{"requester paired", true, func(f *fixture) {
			_, err := f.pairing.Draw(f.ctx, f.req(0))
			require.NoError(t, err)
		}, func(f *fixture) string { return f.member(2).UserID }, models.CodeValidation},
		{"not a member", true, nil, func(*fixture) string { return "123456" }, models.CodeNotFound},
		{"cap reached", true, func(f *fixture) {
			_, err := f.usage.Increment(f.ctx, f.today(), testGroup, f.member(0).UserID, ActionWish)
			require.NoError(t, err)
		}, func(f *fixture) string { return f.member(1).UserID }, models.CodeLimitReached},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, fixtureOptions{advanced: tt.advanced})
			if tt.setup != nil {
				tt.setup(f)
			}
			before := len(f.state().Pairs)
			usedBefore, err := f.usage.Count(f.ctx, f.today(), testGroup, f.member(0).UserID, ActionWish)
			require.NoError(t, err)

			_, err = f.pairing.Wish(f.ctx, f.req(0), tt.target(f))
			requireCode(t, err, tt.code)

			assert.Len(t, f.state().Pairs, before)
			usedAfter, err := f.usage.Count(f.ctx, f.today(), testGroup, f.member(0).UserID, ActionWish)
			require.NoError(t, err)
			assert.Equal(t, usedBefore, usedAfter)
		})
	}
}

func TestWishTransientLookupDoesNotMutate(t *testing.T) {
	f := newFixture(t, fixtureOptions{advanced: true})
	f.dir.lookupMemberFn = func(context.Context, string, string) gateway.MemberLookup {
		return gateway.MemberLookup{Status: gateway.LookupTransient, Err: errors.New("timeout")}
	}

	_, err := f.pairing.Wish(f.ctx, f.req(0), f.member(1).UserID)
	requireCode(t, err, models.CodeUpstream)
	assert.Empty(t, f.state().Pairs)
}

func TestWishRevalidatesAfterLookup(t *testing.T) {
	f := newFixture(t, fixtureOptions{advanced: true})
	target := f.member(1)
	f.dir.lookupMemberFn = func(context.Context, string, string) gateway.MemberLookup {
		// the target gets paired while the lookup is in flight
		f.link(2, 1)
		return gateway.MemberLookup{Status: gateway.LookupFound, Member: target}
	}

	_, err := f.pairing.Wish(f.ctx, f.req(0), target.UserID)
	requireCode(t, err, models.CodeValidation)
	assert.NotContains(t, f.state().Pairs, f.member(0).UserID)
}

func TestRob(t *testing.T) {
	f := newFixture(t, fixtureOptions{advanced: true, rosterSize: 4})
	a, b, c, d := f.member(0).UserID, f.member(1).UserID, f.member(2).UserID, f.member(3).UserID

	// b draws c
	_, err := f.pairing.Draw(f.ctx, f.req(1))
	require.NoError(t, err)
	require.Equal(t, a, f.state().Pairs[b].PartnerID)
	_, err = f.pairing.Breakup(f.ctx, testGroup, b)
	require.NoError(t, err)
	_, err = f.pairing.Draw(f.ctx, f.req(1))
	require.NoError(t, err)
	require.Equal(t, c, f.state().Pairs[b].PartnerID)

	res, err := f.pairing.Rob(f.ctx, f.req(3), c)
	require.NoError(t, err)
	assert.Equal(t, c, res.Partner.ID)
	assert.Equal(t, b, res.Displaced.ID)

	g := f.state()
	assert.Equal(t, c, g.Pairs[d].PartnerID)
	assert.Equal(t, d, g.Pairs[c].PartnerID)
	assert.NotContains(t, g.Pairs, b)
	assert.False(t, g.IsUsed(b), "the displaced partner may draw again")

	n, err := f.usage.Count(f.ctx, f.today(), testGroup, d, ActionRob)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestRobRefusals(t *testing.T) {
	tests := []struct {
		name  string
		setup func(f *fixture)
		code  string
	}{
		{"target unpaired", func(*fixture) {}, models.CodeValidation},
		{"locked by target", func(f *fixture) {
			_, err := f.pairing.Draw(f.ctx, f.req(0))
			require.NoError(t, err)
			_, err = f.pairing.Lock(f.ctx, testGroup, f.member(1).UserID)
			require.NoError(t, err)
		}, models.CodeValidation},
		{"partner record locked", func(f *fixture) {
			_, err := f.pairing.Draw(f.ctx, f.req(0))
			require.NoError(t, err)
			f.pairing.mu.Lock()
			f.pairing.group(testGroup).Pairs[f.member(0).UserID].Locked = true
			f.pairing.mu.Unlock()
		}, models.CodeValidation},
		{"cap reached", func(f *fixture) {
			_, err := f.pairing.Draw(f.ctx, f.req(0))
			require.NoError(t, err)
			for range 2 {
				_, err := f.usage.Increment(f.ctx, f.today(), testGroup, f.member(2).UserID, ActionRob)
				require.NoError(t, err)
			}
		}, models.CodeLimitReached},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, fixtureOptions{advanced: true})
			tt.setup(f)
			before := f.docs.saveCount(repository.DocPairings)
			robbedBefore, err := f.usage.Count(f.ctx, f.today(), testGroup, f.member(2).UserID, ActionRob)
			require.NoError(t, err)

			_, err = f.pairing.Rob(f.ctx, f.req(2), f.member(1).UserID)
			requireCode(t, err, tt.code)

			assert.Equal(t, before, f.docs.saveCount(repository.DocPairings))
			assert.NotContains(t, f.state().Pairs, f.member(2).UserID)
			robbedAfter, err := f.usage.Count(f.ctx, f.today(), testGroup, f.member(2).UserID, ActionRob)
			require.NoError(t, err)
			assert.Equal(t, robbedBefore, robbedAfter)
		})
	}
}

// gatedUsage holds every Count call until release is closed.
type gatedUsage struct {
	UsageTracker
	entered chan struct{}
	release chan struct{}
}

func (g *gatedUsage) Count(ctx context.Context, day, groupID, userID string, action Action) (int, error) {
	select {
	case g.entered <- struct{}{}:
	default:
	}
	<-g.release
	return g.UsageTracker.Count(ctx, day, groupID, userID, action)
}

func TestSlowUsageCounterDoesNotBlockDraws(t *testing.T) {
	usage := &gatedUsage{
		UsageTracker: NewMemoryUsageTracker(),
		entered:      make(chan struct{}, 1),
		release:      make(chan struct{}),
	}
	f := newFixture(t, fixtureOptions{advanced: true, usage: usage})

	wished := make(chan error, 1)
	go func() {
		_, err := f.pairing.Wish(f.ctx, f.req(0), f.member(1).UserID)
		wished <- err
	}()
	<-usage.entered

	other := f.req(2)
	other.GroupID = "555000111"
	drawn := make(chan error, 1)
	go func() {
		_, err := f.pairing.Draw(f.ctx, other)
		drawn <- err
	}()
	select {
	case err := <-drawn:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		close(usage.release)
		t.Fatal("draw waited on the usage counter")
	}

	close(usage.release)
	require.NoError(t, <-wished)
	assert.Equal(t, f.member(1).UserID, f.state().Pairs[f.member(0).UserID].PartnerID)
}

func TestKeyedMutexSerializesPerKey(t *testing.T) {
	var k keyedMutex
	unlockA := k.Lock("a")

	// another key is independent
	k.Lock("b")()

	acquired := make(chan struct{})
	go func() {
		defer close(acquired)
		k.Lock("a")()
	}()
	select {
	case <-acquired:
		t.Fatal("second holder entered while the key was held")
	case <-time.After(50 * time.Millisecond):
	}

	unlockA()
	<-acquired
	k.mu.Lock()
	defer k.mu.Unlock()
	assert.Empty(t, k.locks)
}

func TestLock(t *testing.T) {
	f := newFixture(t, fixtureOptions{advanced: true})
	a, b := f.member(0).UserID, f.member(1).UserID
	_, err := f.pairing.Draw(f.ctx, f.req(0))
	require.NoError(t, err)

	_, err = f.pairing.Lock(f.ctx, testGroup, a)
	requireCode(t, err, models.CodeValidation)
	n, err := f.usage.Count(f.ctx, f.today(), testGroup, a, ActionLock)
	require.NoError(t, err)
	assert.Zero(t, n, "failed lock must not count")
	assert.False(t, f.state().Pairs[a].Locked)

	res, err := f.pairing.Lock(f.ctx, testGroup, b)
	require.NoError(t, err)
	assert.True(t, res.Locked)
	assert.True(t, f.state().Pairs[a].Locked)
	assert.True(t, f.state().Pairs[b].Locked)

	_, err = f.pairing.Lock(f.ctx, testGroup, b)
	requireCode(t, err, models.CodeLimitReached)
}

func TestLockRequiresPairingAndFeature(t *testing.T) {
	f := newFixture(t, fixtureOptions{advanced: true})
	_, err := f.pairing.Lock(f.ctx, testGroup, f.member(0).UserID)
	requireCode(t, err, models.CodeNotFound)

	g := newFixture(t, fixtureOptions{})
	_, err = g.pairing.Lock(g.ctx, testGroup, g.member(0).UserID)
	requireCode(t, err, models.CodeFeatureDisabled)
}

func TestPersistenceFailureKeepsMemoryState(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	f.docs.saveErr = errors.New("disk full")

	res, err := f.pairing.Draw(f.ctx, f.req(0))
	require.NoError(t, err)
	q, err := f.pairing.Query(f.ctx, testGroup, f.member(1).UserID)
	require.NoError(t, err)
	assert.Equal(t, res.Partner.ID, f.member(1).UserID)
	assert.Equal(t, f.member(0).UserID, q.Partner.ID)
}

func TestSetDefaultCoolingHours(t *testing.T) {
	f := newFixture(t, fixtureOptions{})

	requireCode(t, f.pairing.SetDefaultCoolingHours(0), models.CodeValidation)
	requireCode(t, f.pairing.SetDefaultCoolingHours(721), models.CodeValidation)
	require.NoError(t, f.pairing.SetDefaultCoolingHours(2))
	assert.Equal(t, 2*time.Hour, f.pairing.Rules().DefaultCooling)

	_, err := f.pairing.Draw(f.ctx, f.req(0))
	require.NoError(t, err)
	res, err := f.pairing.Breakup(f.ctx, testGroup, f.member(0).UserID)
	require.NoError(t, err)
	assert.Equal(t, 2*time.Hour, res.Cooling)
}
