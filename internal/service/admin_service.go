package service

import (
	"context"
	"fmt"
	"strings"
	"unicode"

	"dailypair/internal/models"
	"dailypair/internal/observability"
)

// Reset options accepted by AdminService.Reset. Any all-digit option names a group.
const (
	ResetAll            = "-a"
	ResetPairs          = "-p"
	ResetCooldowns      = "-c"
	ResetBans           = "-b"
	ResetBreakups       = "-d"
	ResetAdvanced       = "-e"
	ResetUserBlocklists = "-u"
)

// AdminService carries the operator commands that cut across the other services.
type AdminService struct {
	pairing   *PairingService
	blocks    *BlocklistService
	cooldowns *CooldownService
	breakups  *BreakupCounter
	usage     UsageTracker
	advanced  *AdvancedService
	logger    *observability.StructuredLogger
}

// NewAdminService wires the operator commands to the services they reset.
func NewAdminService(pairing *PairingService, blocks *BlocklistService, cooldowns *CooldownService,
	breakups *BreakupCounter, usage UsageTracker, advanced *AdvancedService) *AdminService {
	return &AdminService{
		pairing:   pairing,
		blocks:    blocks,
		cooldowns: cooldowns,
		breakups:  breakups,
		usage:     usage,
		advanced:  advanced,
		logger:    observability.NewStructuredLogger(),
	}
}

func isNumericID(s string) bool {
	return s != "" && strings.IndexFunc(s, func(r rune) bool { return !unicode.IsDigit(r) }) < 0
}

// Reset clears one category of state and returns a short description of what
// was cleared. groupID is the group the command was issued in.
func (s *AdminService) Reset(ctx context.Context, groupID, option string) (string, error) {
	s.logger.LogServiceCall(ctx, "AdminService", "Reset", map[string]interface{}{"group_id": groupID, "option": option})

	switch option {
	case ResetAll:
		s.pairing.ResetAll(ctx)
		s.cooldowns.Reset(ctx)
		s.blocks.ResetBans(ctx)
		s.blocks.ResetUserBlocks(ctx)
		s.breakups.Reset(ctx)
		s.advanced.ResetAll(ctx)
		if err := s.usage.Reset(ctx); err != nil {
			return "", models.NewInternalError(err)
		}
		return "all data", nil
	case ResetPairs:
		s.pairing.ResetAll(ctx)
		return "pairing data", nil
	case ResetCooldowns:
		s.cooldowns.Reset(ctx)
		return "cooldowns", nil
	case ResetBans:
		s.blocks.ResetBans(ctx)
		s.cooldowns.ResetBlocks(ctx)
		return "banned users and abuse blocks", nil
	case ResetBreakups:
		s.breakups.Reset(ctx)
		return "breakup counts", nil
	case ResetAdvanced:
		s.advanced.ResetGroup(ctx, groupID)
		return "advanced feature flag of this group", nil
	case ResetUserBlocklists:
		s.blocks.ResetUserBlocks(ctx)
		return "user blocklists", nil
	}

	if isNumericID(option) {
		if !s.pairing.ResetGroup(ctx, option) {
			return "", models.NewNotFoundError("pairing data for group", option)
		}
		return fmt.Sprintf("pairing data of group %s", option), nil
	}
	return "", models.NewValidationError("unknown reset option; use -a, -p, -c, -b, -d, -e, -u or a group id")
}

// Ban adds userID to the operator ban list.
func (s *AdminService) Ban(ctx context.Context, userID string) error {
	if !isNumericID(userID) {
		return models.NewValidationError("a numeric user id is required")
	}
	added, err := s.blocks.Ban(ctx, userID)
	if err != nil {
		return err
	}
	if !added {
		return models.NewValidationError(fmt.Sprintf("user %s is already banned", userID))
	}
	return nil
}

// SetCooldownHours changes the pair cooldown installed by future breakups.
func (s *AdminService) SetCooldownHours(hours int) error {
	return s.pairing.SetDefaultCoolingHours(hours)
}
