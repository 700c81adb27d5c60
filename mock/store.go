package mock

import (
	"context"

	"github.com/fwojciec/docchat"
)

// Interface compliance check.
var _ docchat.MessageStore = (*MessageStore)(nil)

// MessageStore is a test double for docchat.MessageStore.
// Set the function fields for the methods you need.
type MessageStore struct {
	SnapshotFn                   func(key docchat.CacheKey) *docchat.PaginatedCache
	PrependUserMessageFn         func(key docchat.CacheKey, msg docchat.Message)
	UpsertAssistantPlaceholderFn func(key docchat.CacheKey, text string)
	RestoreFn                    func(key docchat.CacheKey, snapshot *docchat.PaginatedCache)
	InvalidateFn                 func(ctx context.Context, key docchat.CacheKey) error
}

// Snapshot delegates to SnapshotFn.
func (s *MessageStore) Snapshot(key docchat.CacheKey) *docchat.PaginatedCache {
	return s.SnapshotFn(key)
}

// PrependUserMessage delegates to PrependUserMessageFn.
func (s *MessageStore) PrependUserMessage(key docchat.CacheKey, msg docchat.Message) {
	s.PrependUserMessageFn(key, msg)
}

// UpsertAssistantPlaceholder delegates to UpsertAssistantPlaceholderFn.
func (s *MessageStore) UpsertAssistantPlaceholder(key docchat.CacheKey, text string) {
	s.UpsertAssistantPlaceholderFn(key, text)
}

// Restore delegates to RestoreFn.
func (s *MessageStore) Restore(key docchat.CacheKey, snapshot *docchat.PaginatedCache) {
	s.RestoreFn(key, snapshot)
}

// Invalidate delegates to InvalidateFn.
func (s *MessageStore) Invalidate(ctx context.Context, key docchat.CacheKey) error {
	return s.InvalidateFn(ctx, key)
}
