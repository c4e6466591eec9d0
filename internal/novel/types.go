// Package novel defines the core types and interfaces for the import pipeline.
// It includes the catalog records, the import task state machine types, and the
// collaborator contracts the batch processor is wired against.
package novel

import "time"

// NovelStatus tracks whether a work is still being serialized at the source.
type NovelStatus string

// Supported novel statuses.
const (
	NovelSerializing NovelStatus = "serializing"
	NovelCompleted   NovelStatus = "completed"
)

// Novel is a scraped serialized work. Identity for dedup purposes is
// (Title, Author) equality; this is an intentional heuristic, not a strong key.
type Novel struct {
	ID            string
	Title         string
	Author        string
	Description   string
	Category      string
	Cover         string
	Status        NovelStatus
	SourceURL     string
	WordCount     int64
	ChapterCount  int
	LatestChapter string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Chapter is one unit of narrative content at a fixed 1-based position within a
// Novel. Number is the position in the scraped index, not a content-derived ID.
type Chapter struct {
	ID        int64
	NovelID   string
	Number    int
	Title     string
	Content   string
	URL       string
	IsVIP     bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// TaskType distinguishes why an ImportTask exists.
type TaskType string

// Supported task types.
const (
	TaskTypeImport TaskType = "import"
	TaskTypeUpdate TaskType = "update"
	TaskTypeRetry  TaskType = "retry"
)

// TaskStatus is the import task lifecycle state.
type TaskStatus string

// Supported task statuses. A task fails only on an unrecoverable error;
// individual chapter failures are tracked per queue row, never here.
const (
	TaskPending    TaskStatus = "pending"
	TaskInProgress TaskStatus = "in_progress"
	TaskCompleted  TaskStatus = "completed"
	TaskFailed     TaskStatus = "failed"
)

// ImportTask is one durable attempt to populate a Novel's chapters. SourceURL
// and IndexHTML are retained so chapter URLs can be re-derived if the queue is
// empty before the task is done.
type ImportTask struct {
	ID               string
	NovelID          string
	Type             TaskType
	Status           TaskStatus
	TotalChapters    int
	ImportedChapters int
	FailedChapters   int
	ErrorMessage     string
	SourceURL        string
	IndexHTML        string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// TaskUpdate carries partial field updates for an ImportTask. Nil fields are
// left untouched.
type TaskUpdate struct {
	Status           *TaskStatus
	ImportedChapters *int
	FailedChapters   *int
	ErrorMessage     *string
}

// QueueStatus is the per-chapter work item state.
type QueueStatus string

// Supported queue row statuses. A row is claimed before processing; imported
// and failed are terminal and never transition again.
const (
	QueuePending  QueueStatus = "pending"
	QueueClaimed  QueueStatus = "claimed"
	QueueImported QueueStatus = "imported"
	QueueFailed   QueueStatus = "failed"
)

// ChapterURL is one queued unit of fetch work belonging to a task.
type ChapterURL struct {
	ID           int64
	TaskID       string
	NovelID      string
	Number       int
	Title        string
	URL          string
	IsVIP        bool
	Status       QueueStatus
	ErrorMessage string
	ClaimedAt    *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// IndexChapter is a chapter entry as scraped from a novel's index page, before
// it becomes a queue row. Number is its 1-based position in the index.
type IndexChapter struct {
	Number int    `json:"number"`
	Title  string `json:"title"`
	URL    string `json:"url"`
	IsVIP  bool   `json:"is_vip"`
}

// NovelInfo is the metadata scraped from an index page.
type NovelInfo struct {
	Title         string         `json:"title"`
	Author        string         `json:"author"`
	Description   string         `json:"description"`
	Category      string         `json:"category"`
	Cover         string         `json:"cover"`
	LatestChapter string         `json:"latest_chapter"`
	WordCount     int64          `json:"word_count"`
	SourceURL     string         `json:"source_url"`
	Chapters      []IndexChapter `json:"chapters"`
}

// ReconcileResult classifies a fresh index scrape against store state.
type ReconcileResult struct {
	TotalChapters int            `json:"total_chapters"`
	ImportedCount int            `json:"imported_count"`
	Pending       []IndexChapter `json:"pending_chapters"`
	New           []IndexChapter `json:"new_chapters"`
	Message       string         `json:"message"`
}

// BatchResult summarizes a single processBatch invocation, not cumulative
// task totals.
type BatchResult struct {
	Succeeded int    `json:"success"`
	Failed    int    `json:"failed"`
	Error     string `json:"error,omitempty"`
}

// QueueSummary aggregates a multi-task trigger invocation.
type QueueSummary struct {
	ProcessedTasks     int          `json:"processed_tasks"`
	SuccessfulChapters int          `json:"successful_chapters"`
	FailedChapters     int          `json:"failed_chapters"`
	TotalPendingTasks  int          `json:"total_pending_tasks"`
	TaskResults        []TaskResult `json:"task_results"`
}

// TaskResult is the per-task slice of a QueueSummary.
type TaskResult struct {
	TaskID    string `json:"task_id"`
	Succeeded int    `json:"success"`
	Failed    int    `json:"failed"`
	Error     string `json:"error,omitempty"`
}

// Extraction is the best-effort (title, content) pair pulled from a chapter
// page. WordCount is estimated as utf8 length / 2; treat it as approximate.
type Extraction struct {
	Title     string
	Content   string
	WordCount int64
	// Fallback is set when no recognized content container matched and the
	// content is the placeholder sentinel.
	Fallback bool
}
