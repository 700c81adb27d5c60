package docchat

import "context"

// MessageStore owns the paginated message caches. All mutation goes
// through these primitives, which keep the head-only insertion and single
// placeholder invariants. Each call affects only the entry for its key.
type MessageStore interface {
	// Snapshot returns a deep copy of the cached value, or nil if absent.
	Snapshot(key CacheKey) *PaginatedCache
	// PrependUserMessage inserts msg at the head of page 0, creating a
	// single-page cache if none exists.
	PrependUserMessage(key CacheKey, msg Message)
	// UpsertAssistantPlaceholder sets the placeholder text in place, or
	// prepends a new placeholder to page 0 if there is none.
	UpsertAssistantPlaceholder(key CacheKey, text string)
	// Restore replaces the entry with snapshot. A nil snapshot clears it.
	Restore(key CacheKey, snapshot *PaginatedCache)
	// Invalidate marks the entry stale and replaces it with authoritative
	// data when a fetcher is available.
	Invalidate(ctx context.Context, key CacheKey) error
}
