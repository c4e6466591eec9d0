package novel

import (
	"context"
	"time"
)

// NovelStore persists novel catalog records.
type NovelStore interface {
	Create(ctx context.Context, n Novel) (Novel, error)
	Get(ctx context.Context, id string) (Novel, error)
	// FindByTitleAuthor performs the dedup lookup; returns ErrNotFound when no
	// novel matches.
	FindByTitleAuthor(ctx context.Context, title, author string) (Novel, error)
	Update(ctx context.Context, id string, fields map[string]any) error
	ListAll(ctx context.Context) ([]Novel, error)
}

// ChapterStore is durable per-novel, per-chapter-number storage. Put is an
// upsert: writing the same (NovelID, Number) twice overwrites, never duplicates.
type ChapterStore interface {
	Put(ctx context.Context, ch Chapter) error
	Get(ctx context.Context, novelID string, number int) (Chapter, error)
	List(ctx context.Context, novelID string) ([]Chapter, error)
	// ListNumbers returns the set of chapter numbers already stored for a novel.
	ListNumbers(ctx context.Context, novelID string) (map[int]bool, error)
}

// TaskStore is the import task registry.
type TaskStore interface {
	Create(ctx context.Context, task ImportTask) (ImportTask, error)
	Get(ctx context.Context, id string) (ImportTask, error)
	Update(ctx context.Context, id string, upd TaskUpdate) error
	ListPending(ctx context.Context, limit int) ([]ImportTask, error)
	ListAll(ctx context.Context) ([]ImportTask, error)
	Delete(ctx context.Context, id string) error
}

// ChapterQueue is the durable work queue of chapter URLs per task.
type ChapterQueue interface {
	// Enqueue inserts one pending row per chapter. Exact (taskID, number)
	// duplicates are ignored as defense-in-depth; callers pre-filter via the
	// reconciler.
	Enqueue(ctx context.Context, taskID, novelID string, chapters []IndexChapter) error
	// ClaimBatch atomically flips up to limit rows from pending to claimed,
	// ordered ascending by chapter number, and returns them. Claimed rows older
	// than staleAfter are reclaimed, so a crashed run cannot wedge the task.
	ClaimBatch(ctx context.Context, taskID string, limit int, staleAfter time.Duration) ([]ChapterURL, error)
	// MarkImported and MarkFailed are terminal; once set a row never changes.
	MarkImported(ctx context.Context, id int64) error
	MarkFailed(ctx context.Context, id int64, errMsg string) error
	CountPending(ctx context.Context, taskID string) (int, error)
}

// FetchRequest identifies a page fetch.
type FetchRequest struct {
	URL     string
	Referer string
}

// FetchResponse carries the page body plus metadata.
type FetchResponse struct {
	URL          string
	StatusCode   int
	Body         []byte
	Duration     time.Duration
	UsedHeadless bool
}

// Fetcher fetches a URL and returns the raw HTML. Non-2xx responses and
// network failures are errors.
type Fetcher interface {
	Fetch(ctx context.Context, req FetchRequest) (FetchResponse, error)
}

// Extractor turns a chapter URL into a best-effort (title, content) pair.
// A missing content container is a soft failure (placeholder content, nil
// error); a fetch failure is a hard error the caller must handle.
type Extractor interface {
	Extract(ctx context.Context, url string) (Extraction, error)
}

// RetryPolicy decides whether a failed chapter fetch should be retried and
// how long to wait before the next attempt.
type RetryPolicy interface {
	ShouldRetry(err error, attempt int) bool
	Backoff(attempt int) time.Duration
}

// Clock abstracts time for testability; Sleep must honor ctx cancellation.
type Clock interface {
	Now() time.Time
	Sleep(ctx context.Context, d time.Duration) error
}

// IDGenerator produces novel and task IDs.
type IDGenerator interface {
	NewID() (string, error)
}

// ArchiveStore writes raw scraped artifacts (index and chapter HTML) and
// returns a URI. Catalog persistence stays relational; this is a raw-artifact
// side channel.
type ArchiveStore interface {
	Put(ctx context.Context, path string, contentType string, data []byte) (string, error)
}

// Publisher pushes task completion events to an external topic.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}
