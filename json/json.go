// Package json persists conversation caches as versioned JSON files so a
// client can show history before the first authoritative fetch completes.
package json

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/fwojciec/docchat"
)

// envelope is the v1 wire format for a persisted cache.
type envelope struct {
	Version int       `json:"version"`
	FileID  string    `json:"file_id"`
	Limit   int       `json:"limit"`
	SavedAt time.Time `json:"saved_at"`
	Pages   []pageDTO `json:"pages"`
}

type pageDTO struct {
	Cursor     string       `json:"cursor"`
	NextCursor string       `json:"next_cursor,omitempty"`
	Messages   []messageDTO `json:"messages"`
}

type messageDTO struct {
	ID            string    `json:"id"`
	Text          string    `json:"text"`
	IsUserMessage bool      `json:"is_user_message"`
	CreatedAt     time.Time `json:"created_at"`
}

// MarshalCache serializes the cache for key in v1 envelope format. The
// in-flight placeholder is never persisted.
func MarshalCache(key docchat.CacheKey, c *docchat.PaginatedCache, savedAt time.Time) ([]byte, error) {
	if c == nil {
		return nil, fmt.Errorf("nil cache for %q", key.FileID)
	}
	if len(c.PageParams) != len(c.Pages) {
		return nil, fmt.Errorf("cache has %d pages but %d page params", len(c.Pages), len(c.PageParams))
	}
	env := envelope{
		Version: 1,
		FileID:  key.FileID,
		Limit:   key.Limit,
		SavedAt: savedAt,
		Pages:   make([]pageDTO, len(c.Pages)),
	}
	for i, p := range c.Pages {
		dto := pageDTO{
			Cursor:     c.PageParams[i],
			NextCursor: p.NextCursor,
			Messages:   make([]messageDTO, 0, len(p.Messages)),
		}
		for _, m := range p.Messages {
			if m.IsPlaceholder() {
				continue
			}
			dto.Messages = append(dto.Messages, messageDTO{
				ID:            m.ID,
				Text:          m.Text,
				IsUserMessage: m.IsUserMessage,
				CreatedAt:     m.CreatedAt,
			})
		}
		env.Pages[i] = dto
	}
	return json.MarshalIndent(env, "", "  ")
}

// UnmarshalCache deserializes a cache from JSON in v1 envelope format.
func UnmarshalCache(data []byte) (docchat.CacheKey, *docchat.PaginatedCache, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return docchat.CacheKey{}, nil, fmt.Errorf("unmarshal envelope: %w", err)
	}
	if env.Version != 1 {
		return docchat.CacheKey{}, nil, fmt.Errorf("unsupported envelope version: %d", env.Version)
	}
	if env.FileID == "" {
		return docchat.CacheKey{}, nil, fmt.Errorf("envelope has no file id")
	}
	c := &docchat.PaginatedCache{
		Pages:      make([]docchat.Page, len(env.Pages)),
		PageParams: make([]string, len(env.Pages)),
	}
	for i, p := range env.Pages {
		msgs := make([]docchat.Message, len(p.Messages))
		for j, m := range p.Messages {
			msgs[j] = docchat.Message{
				ID:            m.ID,
				Text:          m.Text,
				IsUserMessage: m.IsUserMessage,
				CreatedAt:     m.CreatedAt,
			}
		}
		c.Pages[i] = docchat.Page{Messages: msgs, NextCursor: p.NextCursor}
		c.PageParams[i] = p.Cursor
	}
	return docchat.NewCacheKey(env.FileID, env.Limit), c, nil
}

// Path returns the file under dir that holds the cache for key.
func Path(dir string, key docchat.CacheKey) string {
	name := url.PathEscape(key.FileID) + "-" + strconv.Itoa(key.Limit) + ".json"
	return filepath.Join(dir, name)
}

// Save writes the cache for key to a JSON file, creating parent
// directories as needed. The write is atomic.
func Save(path string, key docchat.CacheKey, c *docchat.PaginatedCache) error {
	data, err := MarshalCache(key, c, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create directories: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}

// Load reads a cache from a JSON file.
func Load(path string) (docchat.CacheKey, *docchat.PaginatedCache, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return docchat.CacheKey{}, nil, fmt.Errorf("read file: %w", err)
	}
	return UnmarshalCache(data)
}
