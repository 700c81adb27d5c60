package docchat

import "time"

// SentinelID identifies the single in-flight assistant placeholder. At most
// one message with this ID exists in a conversation's cache at any time.
const SentinelID = "ai-response"

// DefaultPageSize is the number of messages fetched per history page.
const DefaultPageSize = 10

// Message is one entry in a conversation about a document.
type Message struct {
	ID            string
	Text          string
	IsUserMessage bool
	CreatedAt     time.Time
}

// IsPlaceholder reports whether m is the in-flight assistant placeholder.
func (m Message) IsPlaceholder() bool { return m.ID == SentinelID }

// Page is one page of history, newest message first.
type Page struct {
	Messages []Message
	// NextCursor fetches the next older page. Empty when there is none.
	NextCursor string
}

// PaginatedCache is the cached history of one conversation.
//
// Invariants:
//
//	Pages[0] holds the most recent messages.
//	New messages are only ever prepended to Pages[0].
//	PageParams[i] is the cursor that fetched Pages[i] ("" for page 0).
type PaginatedCache struct {
	Pages      []Page
	PageParams []string
}

// CacheKey addresses one cache entry. A conversation is identified by the
// document it is about; the page size is part of the key because pages
// fetched with different limits are not interchangeable.
type CacheKey struct {
	FileID string
	Limit  int
}

// NewCacheKey returns the key for fileID with limit, substituting
// DefaultPageSize for a non-positive limit.
func NewCacheKey(fileID string, limit int) CacheKey {
	if limit <= 0 {
		limit = DefaultPageSize
	}
	return CacheKey{FileID: fileID, Limit: limit}
}

// Clone returns a deep copy of c. Clone of nil is nil.
func (c *PaginatedCache) Clone() *PaginatedCache {
	if c == nil {
		return nil
	}
	out := &PaginatedCache{
		Pages:      make([]Page, len(c.Pages)),
		PageParams: append([]string(nil), c.PageParams...),
	}
	for i, p := range c.Pages {
		out.Pages[i] = Page{
			Messages:   append([]Message(nil), p.Messages...),
			NextCursor: p.NextCursor,
		}
	}
	return out
}

// Messages returns all cached messages in chronological order (oldest
// first), the order a transcript is read in.
func (c *PaginatedCache) Messages() []Message {
	if c == nil {
		return nil
	}
	var out []Message
	for i := len(c.Pages) - 1; i >= 0; i-- {
		msgs := c.Pages[i].Messages
		for j := len(msgs) - 1; j >= 0; j-- {
			out = append(out, msgs[j])
		}
	}
	return out
}

// Len returns the total number of cached messages.
func (c *PaginatedCache) Len() int {
	if c == nil {
		return 0
	}
	n := 0
	for _, p := range c.Pages {
		n += len(p.Messages)
	}
	return n
}

// HasMore reports whether an older page can be fetched.
func (c *PaginatedCache) HasMore() bool {
	if c == nil || len(c.Pages) == 0 {
		return false
	}
	return c.Pages[len(c.Pages)-1].NextCursor != ""
}
