package models

// ScopeAll applies a block entry in every group.
const ScopeAll = "all"

// BlockEntry is one user-managed exclusion owned by another user.
type BlockEntry struct {
	BlockedUser string `json:"blocked_user"`
	Scope       string `json:"scope"`
	// TwoWay is recorded but matching is symmetric either way.
	TwoWay bool `json:"two_way"`
}

// Applies reports whether the entry is in effect for groupID.
func (b BlockEntry) Applies(groupID string) bool {
	return b.Scope == ScopeAll || b.Scope == groupID
}
