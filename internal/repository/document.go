// Package repository persists the service's JSON documents.
package repository

import "context"

// Document names.
const (
	DocPairings       = "pair_data"
	DocCooldowns      = "cooling_data"
	DocUserBlocklists = "user_blocklists"
	DocAdminBlocks    = "blocked_users"
	DocBreakupCounts  = "breakup_counts"
	DocAdvanced       = "advanced_enabled"
)

// AllDocuments lists every document the service writes.
var AllDocuments = []string{
	DocPairings,
	DocCooldowns,
	DocUserBlocklists,
	DocAdminBlocks,
	DocBreakupCounts,
	DocAdvanced,
}

// DocumentRepository loads and stores whole JSON documents by name.
// Save replaces the stored document atomically.
type DocumentRepository interface {
	// Load decodes the named document into dst. It reports false, with a nil
	// error, when the document has never been saved.
	Load(ctx context.Context, name string, dst any) (bool, error)
	Save(ctx context.Context, name string, src any) error
	// Raw returns the stored bytes, or nil when the document does not exist.
	Raw(ctx context.Context, name string) ([]byte, error)
}
