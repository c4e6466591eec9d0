// Package memory provides in-memory store implementations for development and
// testing.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"novelkeeper/internal/novel"
)

// NovelStore keeps novels in a map keyed by ID.
type NovelStore struct {
	mu     sync.RWMutex
	novels map[string]novel.Novel
}

// NewNovelStore constructs a NovelStore.
func NewNovelStore() *NovelStore {
	return &NovelStore{novels: make(map[string]novel.Novel)}
}

// Create stores a new novel.
func (s *NovelStore) Create(_ context.Context, n novel.Novel) (novel.Novel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.novels[n.ID]; exists {
		return novel.Novel{}, fmt.Errorf("novel %s: %w", n.ID, novel.ErrDuplicate)
	}
	now := time.Now().UTC()
	n.CreatedAt = now
	n.UpdatedAt = now
	s.novels[n.ID] = n
	return n, nil
}

// Get returns a novel by ID.
func (s *NovelStore) Get(_ context.Context, id string) (novel.Novel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.novels[id]
	if !ok {
		return novel.Novel{}, novel.ErrNotFound
	}
	return n, nil
}

// FindByTitleAuthor performs the dedup lookup.
func (s *NovelStore) FindByTitleAuthor(_ context.Context, title, author string) (novel.Novel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, n := range s.novels {
		if n.Title == title && n.Author == author {
			return n, nil
		}
	}
	return novel.Novel{}, novel.ErrNotFound
}

// Update applies partial field updates to a novel.
func (s *NovelStore) Update(_ context.Context, id string, fields map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.novels[id]
	if !ok {
		return novel.ErrNotFound
	}
	for key, value := range fields {
		switch key {
		case "status":
			switch v := value.(type) {
			case novel.NovelStatus:
				n.Status = v
			case string:
				n.Status = novel.NovelStatus(v)
			}
		case "chapter_count":
			if v, ok := value.(int); ok {
				n.ChapterCount = v
			}
		case "word_count":
			if v, ok := value.(int64); ok {
				n.WordCount = v
			}
		case "latest_chapter":
			if v, ok := value.(string); ok {
				n.LatestChapter = v
			}
		case "description":
			if v, ok := value.(string); ok {
				n.Description = v
			}
		case "cover":
			if v, ok := value.(string); ok {
				n.Cover = v
			}
		default:
			return fmt.Errorf("unknown novel field %q", key)
		}
	}
	n.UpdatedAt = time.Now().UTC()
	s.novels[id] = n
	return nil
}

// ListAll returns all novels ordered by creation time.
func (s *NovelStore) ListAll(_ context.Context) ([]novel.Novel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]novel.Novel, 0, len(s.novels))
	for _, n := range s.novels {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}
