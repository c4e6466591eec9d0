package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"novelkeeper/internal/novel"
)

type chapterKey struct {
	novelID string
	number  int
}

// ChapterStore keeps chapters keyed by (novel, number).
type ChapterStore struct {
	mu       sync.RWMutex
	chapters map[chapterKey]novel.Chapter
	nextID   int64
}

// NewChapterStore constructs a ChapterStore.
func NewChapterStore() *ChapterStore {
	return &ChapterStore{chapters: make(map[chapterKey]novel.Chapter)}
}

// Put upserts a chapter on (NovelID, Number).
func (s *ChapterStore) Put(_ context.Context, ch novel.Chapter) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := chapterKey{novelID: ch.NovelID, number: ch.Number}
	now := time.Now().UTC()
	if existing, ok := s.chapters[key]; ok {
		ch.ID = existing.ID
		ch.CreatedAt = existing.CreatedAt
	} else {
		s.nextID++
		ch.ID = s.nextID
		ch.CreatedAt = now
	}
	ch.UpdatedAt = now
	s.chapters[key] = ch
	return nil
}

// Get returns one chapter.
func (s *ChapterStore) Get(_ context.Context, novelID string, number int) (novel.Chapter, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ch, ok := s.chapters[chapterKey{novelID: novelID, number: number}]
	if !ok {
		return novel.Chapter{}, novel.ErrNotFound
	}
	return ch, nil
}

// List returns a novel's chapters ordered by number.
func (s *ChapterStore) List(_ context.Context, novelID string) ([]novel.Chapter, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []novel.Chapter
	for key, ch := range s.chapters {
		if key.novelID == novelID {
			out = append(out, ch)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	return out, nil
}

// ListNumbers returns the set of stored chapter numbers for a novel.
func (s *ChapterStore) ListNumbers(_ context.Context, novelID string) (map[int]bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	numbers := make(map[int]bool)
	for key := range s.chapters {
		if key.novelID == novelID {
			numbers[key.number] = true
		}
	}
	return numbers, nil
}
