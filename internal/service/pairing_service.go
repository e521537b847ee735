package service

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"dailypair/internal/config"
	"dailypair/internal/gateway"
	"dailypair/internal/models"
	"dailypair/internal/observability"
	"dailypair/internal/repository"
)

// MemberDirectory resolves group rosters and members.
type MemberDirectory interface {
	GroupMembers(ctx context.Context, groupID string) ([]models.Member, error)
	LookupMember(ctx context.Context, groupID, userID string) gateway.MemberLookup
}

// Requester identifies who issued a command and where.
type Requester struct {
	GroupID string
	User    models.DisplayIdentity
	// SelfID is the bot's own account, never eligible as a partner.
	SelfID string
}

// PairingResult describes the requester's pairing after a command.
type PairingResult struct {
	Partner     models.DisplayIdentity
	Existing    bool
	IsInitiator bool
	Locked      bool
}

// BreakupResult describes a completed breakup.
type BreakupResult struct {
	FormerPartner models.DisplayIdentity
	Cooling       time.Duration
	// Remaining is how many more breakups the user may make today.
	Remaining int
}

// RobResult describes a completed rob.
type RobResult struct {
	Partner models.DisplayIdentity
	// Displaced is the target's former partner.
	Displaced models.DisplayIdentity
}

// PairingDeps are the collaborators of PairingService.
type PairingDeps struct {
	Repo      repository.DocumentRepository
	Directory MemberDirectory
	Blocks    *BlocklistService
	Cooldowns *CooldownService
	Breakups  *BreakupCounter
	Usage     UsageTracker
	Advanced  *AdvancedService
	Rules     Rules
	Location  *time.Location
	Now       Clock
	// Intn picks a uniform index in [0, n). Defaults to math/rand/v2.
	Intn func(n int) int
}

// usageTimeout bounds each usage counter round-trip.
const usageTimeout = 2 * time.Second

// PairingService owns the per-group pairing state. One mutex serializes every
// mutation; gateway and usage counter calls run outside it and the pairing
// state is re-validated before commit.
type PairingService struct {
	mu sync.Mutex
	// actors serializes one user's capped actions so a counter read and its
	// increment cannot interleave with another of that user's commands.
	actors keyedMutex
	deps   PairingDeps
	rules  Rules
	groups map[string]*models.GroupPairing
	logger *observability.StructuredLogger
}

// NewPairingService loads pairing state from deps.Repo.
func NewPairingService(ctx context.Context, deps PairingDeps) (*PairingService, error) {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Location == nil {
		deps.Location = time.Local
	}
	if deps.Intn == nil {
		deps.Intn = rand.IntN
	}

	s := &PairingService{
		deps:   deps,
		rules:  deps.Rules,
		groups: make(map[string]*models.GroupPairing),
		logger: observability.NewStructuredLogger(),
	}
	if _, err := deps.Repo.Load(ctx, repository.DocPairings, &s.groups); err != nil {
		return nil, fmt.Errorf("load pairings: %w", err)
	}
	if s.groups == nil {
		s.groups = make(map[string]*models.GroupPairing)
	}
	for _, g := range s.groups {
		if g.Pairs == nil {
			g.Pairs = make(map[string]*models.PairEntry)
		}
	}
	return s, nil
}

func (s *PairingService) today() string {
	return DayKey(s.deps.Now(), s.deps.Location)
}

// group returns today's state for groupID, discarding state from earlier days.
// Callers hold s.mu.
func (s *PairingService) group(groupID string) *models.GroupPairing {
	day := s.today()
	g, ok := s.groups[groupID]
	if !ok || g.Date != day {
		g = models.NewGroupPairing(day)
		s.groups[groupID] = g
	}
	return g
}

func (s *PairingService) save(ctx context.Context) {
	persist(ctx, s.deps.Repo, repository.DocPairings, s.groups)
}

func resultFor(e *models.PairEntry, existing bool) *PairingResult {
	return &PairingResult{Partner: e.Partner, Existing: existing, IsInitiator: e.IsInitiator, Locked: e.Locked}
}

// checkAccess refuses banned users and users under an abuse block.
func (s *PairingService) checkAccess(userID string) error {
	if s.deps.Blocks.IsBanned(userID) {
		return models.NewValidationError("you have been excluded from pairing by an administrator")
	}
	return s.checkBlock(userID)
}

// checkBlock refuses users under an abuse block.
func (s *PairingService) checkBlock(userID string) error {
	if until, ok := s.deps.Cooldowns.BlockedUntil(userID); ok {
		return models.NewCooldownError(fmt.Sprintf("pairing is unavailable to you until %s", until.In(s.deps.Location).Format("2006-01-02 15:04")))
	}
	return nil
}

// Draw pairs the requester with a random eligible group member, or returns the
// pairing they already have today.
func (s *PairingService) Draw(ctx context.Context, req Requester) (*PairingResult, error) {
	s.logger.LogServiceCall(ctx, "PairingService", "Draw", map[string]interface{}{"group_id": req.GroupID, "user_id": req.User.ID})

	s.mu.Lock()
	if e, ok := s.group(req.GroupID).Pairs[req.User.ID]; ok {
		res := resultFor(e, true)
		s.mu.Unlock()
		return res, nil
	}
	s.mu.Unlock()

	if err := s.checkAccess(req.User.ID); err != nil {
		return nil, err
	}

	s.deps.Cooldowns.SweepExpired(ctx)

	members, err := s.deps.Directory.GroupMembers(ctx, req.GroupID)
	if err != nil {
		return nil, models.NewUpstreamError("could not load the group member list", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	g := s.group(req.GroupID)
	if e, ok := g.Pairs[req.User.ID]; ok {
		return resultFor(e, true), nil
	}

	requester := req.User
	var eligible []models.Member
	for _, m := range members {
		switch {
		case m.UserID == req.User.ID:
			if requester.Name == "" {
				requester = m.Identity()
			}
			continue
		case m.UserID == req.SelfID,
			g.IsUsed(m.UserID),
			g.Pairs[m.UserID] != nil,
			s.deps.Cooldowns.IsInCooldown(req.User.ID, m.UserID),
			s.deps.Blocks.IsBlocked(req.User.ID, m.UserID, req.GroupID):
			continue
		}
		eligible = append(eligible, m)
	}
	if len(eligible) == 0 {
		return nil, models.NewValidationError("no suitable partner is available right now")
	}

	pick := eligible[s.deps.Intn(len(eligible))]
	g.Link(requester, pick.Identity())
	s.save(ctx)
	observability.PairingsCreated.WithLabelValues("draw").Inc()

	return resultFor(g.Pairs[req.User.ID], false), nil
}

// Query returns the requester's current pairing.
func (s *PairingService) Query(_ context.Context, groupID, userID string) (*PairingResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.group(groupID).Pairs[userID]
	if !ok {
		return nil, models.NewNotFoundError("pairing for user", userID)
	}
	return resultFor(e, true), nil
}

// Breakup dissolves the requester's pairing and starts a pair cooldown. Once the
// daily breakup limit is reached the attempt is refused and the user is blocked.
func (s *PairingService) Breakup(ctx context.Context, groupID, userID string) (*BreakupResult, error) {
	s.logger.LogServiceCall(ctx, "PairingService", "Breakup", map[string]interface{}{"group_id": groupID, "user_id": userID})

	s.mu.Lock()
	defer s.mu.Unlock()

	g := s.group(groupID)
	entry, ok := g.Pairs[userID]
	if !ok {
		return nil, models.NewNotFoundError("pairing for user", userID)
	}
	if err := s.checkBlock(userID); err != nil {
		return nil, err
	}

	day := s.today()
	if count := s.deps.Breakups.Count(day, userID); count >= s.rules.MaxDailyBreakups {
		s.deps.Cooldowns.InstallBlock(ctx, userID, s.rules.BreakupBlock)
		observability.Breakups.WithLabelValues("blocked").Inc()
		return nil, models.NewCooldownError(fmt.Sprintf(
			"you have broken up %d times today; pairing is blocked for %d hours",
			count, int(s.rules.BreakupBlock.Hours())))
	}

	former := entry.Partner
	partnerID := g.Unlink(userID)
	g.Unmark(userID)
	g.Unmark(partnerID)
	s.save(ctx)

	s.deps.Cooldowns.InstallPair(ctx, userID, partnerID, s.rules.DefaultCooling)
	count := s.deps.Breakups.Increment(ctx, day, userID)
	observability.Breakups.WithLabelValues("ok").Inc()

	return &BreakupResult{
		FormerPartner: former,
		Cooling:       s.rules.DefaultCooling,
		Remaining:     max(s.rules.MaxDailyBreakups-count, 0),
	}, nil
}

// checkAdvanced runs the checks shared by wish and rob that need no pairing state.
func (s *PairingService) checkAdvanced(ctx context.Context, req Requester, targetID string, action Action, limit int) error {
	if !s.deps.Advanced.IsEnabled(req.GroupID) {
		return models.NewFeatureDisabledError("advanced features are not enabled in this group")
	}
	if targetID == "" {
		return models.NewValidationError("a target user id is required")
	}
	if targetID == req.User.ID {
		return models.NewValidationError("you cannot choose yourself")
	}
	if targetID == req.SelfID {
		return models.NewValidationError("the bot cannot be chosen")
	}
	if s.deps.Blocks.IsBlocked(req.User.ID, targetID, req.GroupID) {
		return models.NewValidationError("you cannot be paired with that user")
	}
	return s.checkUsage(ctx, req.GroupID, req.User.ID, action, limit)
}

func (s *PairingService) checkUsage(ctx context.Context, groupID, userID string, action Action, limit int) error {
	ctx, cancel := context.WithTimeout(ctx, usageTimeout)
	defer cancel()
	n, err := s.deps.Usage.Count(ctx, s.today(), groupID, userID, action)
	if err != nil {
		return models.NewInternalError(err)
	}
	if n >= limit {
		return models.NewLimitError(string(action), limit)
	}
	return nil
}

func (s *PairingService) recordUsage(ctx context.Context, groupID, userID string, action Action) {
	ctx, cancel := context.WithTimeout(ctx, usageTimeout)
	defer cancel()
	if _, err := s.deps.Usage.Increment(ctx, s.today(), groupID, userID, action); err != nil {
		observability.GlobalLogger.ErrorContext(ctx, "usage counter not incremented", "action", string(action), "error", err.Error())
	}
}

func lookupError(res gateway.MemberLookup, targetID string) error {
	if res.Status == gateway.LookupNotFound {
		return models.NewNotFoundError("group member", targetID)
	}
	return models.NewUpstreamError("could not look up that user right now", res.Err)
}

// wishState validates pairing state for a wish. Callers hold s.mu.
func (s *PairingService) wishState(g *models.GroupPairing, req Requester, targetID string) error {
	if _, ok := g.Pairs[req.User.ID]; ok {
		return models.NewValidationError("you are already paired today")
	}
	if _, ok := g.Pairs[targetID]; ok {
		return models.NewValidationError("that user is already paired; use rob instead")
	}
	return nil
}

// Wish pairs the requester with a chosen unpaired member.
func (s *PairingService) Wish(ctx context.Context, req Requester, targetID string) (*PairingResult, error) {
	s.logger.LogServiceCall(ctx, "PairingService", "Wish", map[string]interface{}{"group_id": req.GroupID, "user_id": req.User.ID, "target": targetID})

	defer s.actors.Lock(req.GroupID + ":" + req.User.ID)()

	if err := s.checkAdvanced(ctx, req, targetID, ActionWish, s.rules.MaxDailyWishes); err != nil {
		return nil, err
	}
	if err := s.checkAccess(req.User.ID); err != nil {
		return nil, err
	}

	s.mu.Lock()
	err := s.wishState(s.group(req.GroupID), req, targetID)
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}

	lookup := s.deps.Directory.LookupMember(ctx, req.GroupID, targetID)
	if lookup.Status != gateway.LookupFound {
		return nil, lookupError(lookup, targetID)
	}

	res, err := s.commitWish(ctx, req, lookup.Member.Identity())
	if err != nil {
		return nil, err
	}
	s.recordUsage(ctx, req.GroupID, req.User.ID, ActionWish)
	observability.PairingsCreated.WithLabelValues("wish").Inc()
	return res, nil
}

func (s *PairingService) commitWish(ctx context.Context, req Requester, target models.DisplayIdentity) (*PairingResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	g := s.group(req.GroupID)
	if err := s.wishState(g, req, target.ID); err != nil {
		return nil, err
	}
	g.Link(req.User, target)
	s.save(ctx)
	return resultFor(g.Pairs[req.User.ID], false), nil
}

// robState validates pairing state for a rob. Callers hold s.mu.
func (s *PairingService) robState(g *models.GroupPairing, req Requester, targetID string) error {
	if _, ok := g.Pairs[req.User.ID]; ok {
		return models.NewValidationError("you are already paired today")
	}
	target, ok := g.Pairs[targetID]
	if !ok {
		return models.NewValidationError("that user is not paired; use wish instead")
	}
	if target.Locked {
		return models.NewValidationError("that pairing is locked")
	}
	if partner, ok := g.Pairs[target.PartnerID]; ok && partner.Locked {
		return models.NewValidationError("that pairing is locked")
	}
	return nil
}

// Rob takes a paired member away from their partner.
func (s *PairingService) Rob(ctx context.Context, req Requester, targetID string) (*RobResult, error) {
	s.logger.LogServiceCall(ctx, "PairingService", "Rob", map[string]interface{}{"group_id": req.GroupID, "user_id": req.User.ID, "target": targetID})

	defer s.actors.Lock(req.GroupID + ":" + req.User.ID)()

	if err := s.checkAdvanced(ctx, req, targetID, ActionRob, s.rules.MaxDailyRob); err != nil {
		return nil, err
	}
	if err := s.checkAccess(req.User.ID); err != nil {
		return nil, err
	}

	s.mu.Lock()
	err := s.robState(s.group(req.GroupID), req, targetID)
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}

	lookup := s.deps.Directory.LookupMember(ctx, req.GroupID, targetID)
	if lookup.Status != gateway.LookupFound {
		return nil, lookupError(lookup, targetID)
	}

	res, err := s.commitRob(ctx, req, lookup.Member.Identity())
	if err != nil {
		return nil, err
	}
	s.recordUsage(ctx, req.GroupID, req.User.ID, ActionRob)
	observability.PairingsCreated.WithLabelValues("rob").Inc()
	return res, nil
}

func (s *PairingService) commitRob(ctx context.Context, req Requester, target models.DisplayIdentity) (*RobResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	g := s.group(req.GroupID)
	if err := s.robState(g, req, target.ID); err != nil {
		return nil, err
	}
	displaced := g.Pairs[target.ID].Partner
	displacedID := g.Unlink(target.ID)
	// the displaced partner may draw again today
	g.Unmark(displacedID)
	g.Link(req.User, target)
	s.save(ctx)
	return &RobResult{Partner: g.Pairs[req.User.ID].Partner, Displaced: displaced}, nil
}

// Lock protects the requester's pairing from rob. Only the drawn side may lock.
func (s *PairingService) Lock(ctx context.Context, groupID, userID string) (*PairingResult, error) {
	s.logger.LogServiceCall(ctx, "PairingService", "Lock", map[string]interface{}{"group_id": groupID, "user_id": userID})

	if !s.deps.Advanced.IsEnabled(groupID) {
		return nil, models.NewFeatureDisabledError("advanced features are not enabled in this group")
	}

	defer s.actors.Lock(groupID + ":" + userID)()

	if err := s.checkUsage(ctx, groupID, userID, ActionLock, s.rules.MaxDailyLock); err != nil {
		return nil, err
	}

	res, err := s.commitLock(ctx, groupID, userID)
	if err != nil {
		return nil, err
	}
	s.recordUsage(ctx, groupID, userID, ActionLock)
	return res, nil
}

func (s *PairingService) commitLock(ctx context.Context, groupID, userID string) (*PairingResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	g := s.group(groupID)
	entry, ok := g.Pairs[userID]
	if !ok {
		return nil, models.NewNotFoundError("pairing for user", userID)
	}
	if entry.IsInitiator {
		return nil, models.NewValidationError("only the member who was drawn can lock the pairing")
	}
	if entry.Locked {
		return nil, models.NewValidationError("the pairing is already locked")
	}

	entry.Locked = true
	if back, ok := g.Pairs[entry.PartnerID]; ok {
		back.Locked = true
	}
	s.save(ctx)
	return resultFor(entry, true), nil
}

// ResetAll drops every group's pairing state.
func (s *PairingService) ResetAll(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.groups = make(map[string]*models.GroupPairing)
	s.save(ctx)
}

// ResetGroup drops groupID's pairing state and reports whether it held any pairings.
func (s *PairingService) ResetGroup(ctx context.Context, groupID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.groups[groupID]
	if !ok {
		return false
	}
	delete(s.groups, groupID)
	s.save(ctx)
	return len(g.Pairs) > 0 || len(g.Used) > 0
}

// Rules returns the limits currently in force.
func (s *PairingService) Rules() Rules {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rules
}

// SetDefaultCoolingHours changes the pair cooldown for future breakups.
func (s *PairingService) SetDefaultCoolingHours(hours int) error {
	if hours < config.MinCoolingHours || hours > config.MaxCoolingHours {
		return models.NewValidationError(fmt.Sprintf("cooldown must be between %d and %d hours", config.MinCoolingHours, config.MaxCoolingHours))
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rules.DefaultCooling = time.Duration(hours) * time.Hour
	return nil
}

// keyedMutex hands out one mutex per key and forgets keys nobody holds.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedLock
}

type keyedLock struct {
	mu   sync.Mutex
	refs int
}

// Lock blocks until key is free and returns its unlock function.
func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*keyedLock)
	}
	l, ok := k.locks[key]
	if !ok {
		l = &keyedLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
