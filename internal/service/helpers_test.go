package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"dailypair/internal/gateway"
	"dailypair/internal/models"
	"dailypair/internal/seed"

	"github.com/stretchr/testify/require"
)

// memDocs is an in-memory DocumentRepository that round-trips through JSON.
type memDocs struct {
	mu      sync.Mutex
	docs    map[string][]byte
	saves   map[string]int
	saveErr error
}

func newMemDocs() *memDocs {
	return &memDocs{docs: make(map[string][]byte), saves: make(map[string]int)}
}

func (m *memDocs) Load(_ context.Context, name string, dst any) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.docs[name]
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(data, dst)
}

func (m *memDocs) Save(_ context.Context, name string, src any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	data, err := json.Marshal(src)
	if err != nil {
		return err
	}
	m.docs[name] = data
	m.saves[name]++
	return nil
}

func (m *memDocs) Raw(_ context.Context, name string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.docs[name], nil
}

func (m *memDocs) saveCount(name string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves[name]
}

type directoryStub struct {
	groupMembersFn func(context.Context, string) ([]models.Member, error)
	lookupMemberFn func(context.Context, string, string) gateway.MemberLookup
}

func (d *directoryStub) GroupMembers(ctx context.Context, groupID string) ([]models.Member, error) {
	return d.groupMembersFn(ctx, groupID)
}

func (d *directoryStub) LookupMember(ctx context.Context, groupID, userID string) gateway.MemberLookup {
	return d.lookupMemberFn(ctx, groupID, userID)
}

// rosterDirectory serves members as the roster and resolves any of them by id.
func rosterDirectory(members []models.Member) *directoryStub {
	return &directoryStub{
		groupMembersFn: func(context.Context, string) ([]models.Member, error) { return members, nil },
		lookupMemberFn: func(_ context.Context, _, userID string) gateway.MemberLookup {
			for _, m := range members {
				if m.UserID == userID {
					return gateway.MemberLookup{Status: gateway.LookupFound, Member: m}
				}
			}
			return gateway.MemberLookup{Status: gateway.LookupNotFound}
		},
	}
}

type notifierStub struct {
	mu      sync.Mutex
	notices []models.Notice
	err     error
}

func (n *notifierStub) Notify(_ context.Context, notice models.Notice) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notices = append(n.notices, notice)
	return n.err
}

func (n *notifierStub) sent() []models.Notice {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]models.Notice(nil), n.notices...)
}

// fakeClock is a settable clock shared by every service in a fixture.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(t time.Time) *fakeClock { return &fakeClock{now: t} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

const (
	testGroup = "100200300"
	testBot   = "999999999"
)

type fixture struct {
	ctx       context.Context
	docs      *memDocs
	clock     *fakeClock
	members   []models.Member
	dir       *directoryStub
	blocks    *BlocklistService
	cooldowns *CooldownService
	breakups  *BreakupCounter
	usage     UsageTracker
	advanced  *AdvancedService
	notifier  *notifierStub
	pairing   *PairingService
	admin     *AdminService
}

type fixtureOptions struct {
	rosterSize int
	advanced   bool
	docs       *memDocs
	rules      *Rules
	usage      UsageTracker
}

// newFixture wires every service over a shared in-memory store. The random
// pick always takes the first eligible candidate.
func newFixture(t *testing.T, opts fixtureOptions) *fixture {
	t.Helper()
	if opts.rosterSize == 0 {
		opts.rosterSize = 3
	}
	if opts.docs == nil {
		opts.docs = newMemDocs()
	}
	rules := DefaultRules()
	if opts.rules != nil {
		rules = *opts.rules
	}

	f := &fixture{
		ctx:      context.Background(),
		docs:     opts.docs,
		clock:    newFakeClock(time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)),
		members:  seed.NewRosterFactory(1).Roster(opts.rosterSize),
		notifier: &notifierStub{},
		usage:    NewMemoryUsageTracker(),
	}
	if opts.usage != nil {
		f.usage = opts.usage
	}
	f.members = append(f.members, models.Member{UserID: testBot, Nickname: "bot"})
	f.dir = rosterDirectory(f.members)

	var err error
	f.blocks, err = NewBlocklistService(f.ctx, f.docs)
	require.NoError(t, err)
	f.cooldowns, err = NewCooldownService(f.ctx, f.docs, f.clock.Now)
	require.NoError(t, err)
	f.breakups, err = NewBreakupCounter(f.ctx, f.docs)
	require.NoError(t, err)
	f.advanced, err = NewAdvancedService(f.ctx, f.docs, AdvancedOptions{
		Global:   opts.advanced,
		Window:   30 * time.Second,
		Notifier: f.notifier,
		Now:      f.clock.Now,
	})
	require.NoError(t, err)
	f.pairing, err = NewPairingService(f.ctx, PairingDeps{
		Repo:      f.docs,
		Directory: f.dir,
		Blocks:    f.blocks,
		Cooldowns: f.cooldowns,
		Breakups:  f.breakups,
		Usage:     f.usage,
		Advanced:  f.advanced,
		Rules:     rules,
		Location:  time.UTC,
		Now:       f.clock.Now,
		Intn:      func(int) int { return 0 },
	})
	require.NoError(t, err)
	f.admin = NewAdminService(f.pairing, f.blocks, f.cooldowns, f.breakups, f.usage, f.advanced)
	return f
}

func (f *fixture) member(i int) models.Member { return f.members[i] }

func (f *fixture) req(i int) Requester {
	return Requester{GroupID: testGroup, User: f.member(i).Identity(), SelfID: testBot}
}

func (f *fixture) today() string { return DayKey(f.clock.Now(), time.UTC) }

// state returns the stored group state for assertions.
func (f *fixture) state() *models.GroupPairing {
	f.pairing.mu.Lock()
	defer f.pairing.mu.Unlock()
	return f.pairing.group(testGroup)
}

// link pairs members i (initiator) and j directly in the stored state.
func (f *fixture) link(i, j int) {
	f.pairing.mu.Lock()
	defer f.pairing.mu.Unlock()
	f.pairing.group(testGroup).Link(f.member(i).Identity(), f.member(j).Identity())
}

func requireCode(t *testing.T, err error, code string) {
	t.Helper()
	require.Error(t, err)
	var appErr *models.AppError
	require.True(t, errors.As(err, &appErr), "expected AppError, got %T", err)
	require.Equal(t, code, appErr.Code)
}
