package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"novelkeeper/internal/novel"
)

// ChapterQueue is the in-memory chapter work queue.
type ChapterQueue struct {
	mu     sync.Mutex
	rows   map[int64]*novel.ChapterURL
	nextID int64
}

// NewChapterQueue constructs a ChapterQueue.
func NewChapterQueue() *ChapterQueue {
	return &ChapterQueue{rows: make(map[int64]*novel.ChapterURL)}
}

// Enqueue inserts one pending row per chapter, ignoring exact duplicates.
func (q *ChapterQueue) Enqueue(_ context.Context, taskID, novelID string, chapters []novel.IndexChapter) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	now := time.Now().UTC()
	for _, ch := range chapters {
		if q.exists(taskID, ch.Number) {
			continue
		}
		q.nextID++
		q.rows[q.nextID] = &novel.ChapterURL{
			ID:        q.nextID,
			TaskID:    taskID,
			NovelID:   novelID,
			Number:    ch.Number,
			Title:     ch.Title,
			URL:       ch.URL,
			IsVIP:     ch.IsVIP,
			Status:    novel.QueuePending,
			CreatedAt: now,
			UpdatedAt: now,
		}
	}
	return nil
}

func (q *ChapterQueue) exists(taskID string, number int) bool {
	for _, row := range q.rows {
		if row.TaskID == taskID && row.Number == number {
			return true
		}
	}
	return false
}

// ClaimBatch flips up to limit claimable rows to claimed and returns copies,
// ordered ascending by chapter number. Claimed rows older than staleAfter are
// claimable again.
func (q *ChapterQueue) ClaimBatch(_ context.Context, taskID string, limit int, staleAfter time.Duration) ([]novel.ChapterURL, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	now := time.Now().UTC()

	var candidates []*novel.ChapterURL
	for _, row := range q.rows {
		if row.TaskID != taskID {
			continue
		}
		switch row.Status {
		case novel.QueuePending:
			candidates = append(candidates, row)
		case novel.QueueClaimed:
			if staleAfter > 0 && row.ClaimedAt != nil && now.Sub(*row.ClaimedAt) > staleAfter {
				candidates = append(candidates, row)
			}
		}
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].Number < candidates[j].Number })
	if limit > 0 && len(candidates) > limit {
		candidates = candidates[:limit]
	}

	out := make([]novel.ChapterURL, 0, len(candidates))
	for _, row := range candidates {
		claimed := now
		row.Status = novel.QueueClaimed
		row.ClaimedAt = &claimed
		row.UpdatedAt = now
		out = append(out, *row)
	}
	return out, nil
}

// MarkImported sets a row to its terminal imported state.
func (q *ChapterQueue) MarkImported(_ context.Context, id int64) error {
	return q.finish(id, novel.QueueImported, "")
}

// MarkFailed sets a row to its terminal failed state with an error message.
func (q *ChapterQueue) MarkFailed(_ context.Context, id int64, errMsg string) error {
	return q.finish(id, novel.QueueFailed, errMsg)
}

func (q *ChapterQueue) finish(id int64, status novel.QueueStatus, errMsg string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	row, ok := q.rows[id]
	if !ok {
		return novel.ErrNotFound
	}
	if row.Status == novel.QueueImported || row.Status == novel.QueueFailed {
		return novel.ErrTerminalStatus
	}
	row.Status = status
	row.ErrorMessage = errMsg
	row.ClaimedAt = nil
	row.UpdatedAt = time.Now().UTC()
	return nil
}

// ListByTask returns copies of every row belonging to a task, ordered by
// chapter number.
func (q *ChapterQueue) ListByTask(_ context.Context, taskID string) ([]novel.ChapterURL, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []novel.ChapterURL
	for _, row := range q.rows {
		if row.TaskID == taskID {
			out = append(out, *row)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	return out, nil
}

// CountPending returns how many rows for a task are not yet terminal.
func (q *ChapterQueue) CountPending(_ context.Context, taskID string) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	count := 0
	for _, row := range q.rows {
		if row.TaskID != taskID {
			continue
		}
		if row.Status == novel.QueuePending || row.Status == novel.QueueClaimed {
			count++
		}
	}
	return count, nil
}
