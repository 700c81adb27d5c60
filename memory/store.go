// Package memory implements [docchat.MessageStore] as an in-process cache.
//
// Every mutation goes through the store's primitives under a single lock,
// which keeps the head-only insertion and single-placeholder invariants in
// one place. Values handed out by Snapshot are deep copies and may be read
// freely by renderers.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/fwojciec/docchat"
)

// Interface compliance check.
var _ docchat.MessageStore = (*Store)(nil)

// entry is one cached conversation.
type entry struct {
	cache *docchat.PaginatedCache
	stale bool
}

// Store is an in-memory [docchat.MessageStore]. It is safe for concurrent use.
type Store struct {
	fetcher  docchat.HistoryFetcher
	onChange func(docchat.CacheKey)
	now      func() time.Time

	mu      sync.RWMutex
	entries map[docchat.CacheKey]*entry
}

// Option configures a [Store].
type Option func(*Store)

// WithFetcher sets the authoritative history source used by Invalidate and
// FetchNextPage. Without one, Invalidate only marks entries stale.
func WithFetcher(f docchat.HistoryFetcher) Option {
	return func(s *Store) { s.fetcher = f }
}

// WithChangeHandler sets a callback invoked after every mutation that
// changed an entry. It runs on the mutating goroutine without the store
// lock held and must not block.
func WithChangeHandler(fn func(docchat.CacheKey)) Option {
	return func(s *Store) { s.onChange = fn }
}

// WithClock sets the time source for placeholder timestamps.
func WithClock(fn func() time.Time) Option {
	return func(s *Store) { s.now = fn }
}

// New creates an empty Store.
func New(opts ...Option) *Store {
	s := &Store{
		now:     time.Now,
		entries: make(map[docchat.CacheKey]*entry),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Snapshot returns a deep copy of the cached value for key, or nil.
func (s *Store) Snapshot(key docchat.CacheKey) *docchat.PaginatedCache {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[key]
	if !ok {
		return nil
	}
	return e.cache.Clone()
}

// Stale reports whether the entry for key awaits a successful refetch.
func (s *Store) Stale(key docchat.CacheKey) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[key]
	return ok && e.stale
}

// PrependUserMessage inserts msg at the head of page 0.
func (s *Store) PrependUserMessage(key docchat.CacheKey, msg docchat.Message) {
	s.mu.Lock()
	e := s.entryLocked(key)
	head := &e.cache.Pages[0]
	head.Messages = prepend(head.Messages, msg)
	s.mu.Unlock()
	s.changed(key)
}

// UpsertAssistantPlaceholder replaces the placeholder's text in page 0, or
// prepends a new placeholder when page 0 has none. Setting the text it
// already has is a no-op.
func (s *Store) UpsertAssistantPlaceholder(key docchat.CacheKey, text string) {
	s.mu.Lock()
	e := s.entryLocked(key)
	head := &e.cache.Pages[0]
	idx := -1
	for i, m := range head.Messages {
		if m.IsPlaceholder() {
			idx = i
			break
		}
	}
	switch {
	case idx >= 0 && head.Messages[idx].Text == text:
		s.mu.Unlock()
		return
	case idx >= 0:
		// Page slices are copy-on-write.
		msgs := append([]docchat.Message(nil), head.Messages...)
		msgs[idx].Text = text
		head.Messages = msgs
	default:
		head.Messages = prepend(head.Messages, docchat.Message{
			ID:        docchat.SentinelID,
			Text:      text,
			CreatedAt: s.now(),
		})
	}
	s.mu.Unlock()
	s.changed(key)
}

// Restore replaces the entry for key with snapshot. A nil snapshot clears
// the entry.
func (s *Store) Restore(key docchat.CacheKey, snapshot *docchat.PaginatedCache) {
	s.mu.Lock()
	if snapshot == nil {
		delete(s.entries, key)
	} else {
		s.entries[key] = &entry{cache: snapshot.Clone()}
	}
	s.mu.Unlock()
	s.changed(key)
}

// Put replaces the entry for key with authoritative data, for example a
// cache loaded from disk at startup.
func (s *Store) Put(key docchat.CacheKey, cache *docchat.PaginatedCache) {
	s.Restore(key, cache)
}

// Invalidate marks the entry stale and, with a fetcher configured, reloads
// every page the entry had loaded. On failure, or when ctx ends before the
// fetch completes, the entry keeps its previous contents and stays stale.
func (s *Store) Invalidate(ctx context.Context, key docchat.CacheKey) error {
	s.mu.Lock()
	pages := 1
	if e, ok := s.entries[key]; ok {
		e.stale = true
		if n := len(e.cache.Pages); n > 0 {
			pages = n
		}
	}
	s.mu.Unlock()

	if s.fetcher == nil {
		return nil
	}

	fresh := &docchat.PaginatedCache{}
	cursor := ""
	for i := 0; i < pages; i++ {
		page, err := s.fetcher.FetchPage(ctx, key.FileID, cursor, key.Limit)
		if err != nil {
			return fmt.Errorf("memory: refetch page %d: %w", i, err)
		}
		fresh.Pages = append(fresh.Pages, page)
		fresh.PageParams = append(fresh.PageParams, cursor)
		if page.NextCursor == "" {
			break
		}
		cursor = page.NextCursor
	}

	s.mu.Lock()
	// A caller that gave up while the fetch was in flight no longer owns
	// the entry.
	if err := ctx.Err(); err != nil {
		s.mu.Unlock()
		return fmt.Errorf("memory: refetch: %w", err)
	}
	s.entries[key] = &entry{cache: fresh}
	s.mu.Unlock()
	s.changed(key)
	return nil
}

// FetchNextPage appends the next older page to the entry for key. It
// loads the first page when the entry is absent and does nothing when
// there are no older pages.
func (s *Store) FetchNextPage(ctx context.Context, key docchat.CacheKey) error {
	if s.fetcher == nil {
		return fmt.Errorf("memory: no history fetcher configured")
	}

	s.mu.RLock()
	e, ok := s.entries[key]
	cursor := ""
	if ok {
		if !e.cache.HasMore() {
			s.mu.RUnlock()
			return nil
		}
		cursor = lastCursor(e.cache)
	}
	s.mu.RUnlock()

	page, err := s.fetcher.FetchPage(ctx, key.FileID, cursor, key.Limit)
	if err != nil {
		return fmt.Errorf("memory: fetch page: %w", err)
	}

	s.mu.Lock()
	e, ok = s.entries[key]
	switch {
	case !ok:
		s.entries[key] = &entry{cache: &docchat.PaginatedCache{
			Pages:      []docchat.Page{page},
			PageParams: []string{cursor},
		}}
	case cursor != "" && lastCursor(e.cache) == cursor:
		e.cache.Pages = append(e.cache.Pages, page)
		e.cache.PageParams = append(e.cache.PageParams, cursor)
	default:
		// The entry changed while fetching; the page no longer lines up.
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()
	s.changed(key)
	return nil
}

// entryLocked returns the entry for key, creating a single empty page when
// the entry is absent or has no pages. Callers hold s.mu.
func (s *Store) entryLocked(key docchat.CacheKey) *entry {
	e, ok := s.entries[key]
	if !ok {
		e = &entry{cache: &docchat.PaginatedCache{}}
		s.entries[key] = e
	}
	if len(e.cache.Pages) == 0 {
		e.cache.Pages = []docchat.Page{{}}
		e.cache.PageParams = []string{""}
	}
	return e
}

func lastCursor(c *docchat.PaginatedCache) string {
	if len(c.Pages) == 0 {
		return ""
	}
	return c.Pages[len(c.Pages)-1].NextCursor
}

func (s *Store) changed(key docchat.CacheKey) {
	if s.onChange != nil {
		s.onChange(key)
	}
}

// prepend returns a new slice with msg ahead of msgs. The input slice is
// never modified.
func prepend(msgs []docchat.Message, msg docchat.Message) []docchat.Message {
	out := make([]docchat.Message, 0, len(msgs)+1)
	out = append(out, msg)
	return append(out, msgs...)
}
