package models

import (
	"slices"
	"strings"
	"time"
)

const blockKeyPrefix = "block_"

// Cooldown prevents the listed users from being paired with each other, or, for a
// block key, prevents a single user from using pairing commands.
type Cooldown struct {
	Users      []string  `json:"users"`
	ExpireTime time.Time `json:"expire_time"`
}

// Live reports whether the cooldown is still in effect at now.
func (c Cooldown) Live(now time.Time) bool {
	return now.Before(c.ExpireTime)
}

// Covers reports whether the cooldown's user set is exactly {a, b}.
func (c Cooldown) Covers(a, b string) bool {
	if len(c.Users) != 2 {
		return false
	}
	return (c.Users[0] == a && c.Users[1] == b) || (c.Users[0] == b && c.Users[1] == a)
}

// PairKey is the canonical key for a pair cooldown.
func PairKey(a, b string) string {
	ids := []string{a, b}
	slices.Sort(ids)
	return ids[0] + "-" + ids[1]
}

// BlockKey is the key of a user's abuse block cooldown.
func BlockKey(userID string) string {
	return blockKeyPrefix + userID
}

// IsBlockKey reports whether key names an abuse block cooldown.
func IsBlockKey(key string) bool {
	return strings.HasPrefix(key, blockKeyPrefix)
}
