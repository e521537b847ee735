package cache

import "fmt"

const usagePrefix = "dailypair:usage"

// UsageKey is the hash holding one user's advanced-action counts for a day.
// Fields are action names.
func UsageKey(day, groupID, userID string) string {
	return fmt.Sprintf("%s:%s:%s:%s", usagePrefix, day, groupID, userID)
}

// UsagePattern matches every usage hash for SCAN.
func UsagePattern() string {
	return usagePrefix + ":*"
}
