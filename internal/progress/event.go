// Package progress defines the event structures emitted by the import
// pipeline and the hub that fans them out to sinks.
package progress

import (
	"errors"
	"fmt"
	"time"
)

// Stage denotes the type of milestone represented by an Event.
type Stage string

// Supported progress stages.
const (
	StageTaskStart    Stage = "TASK_START"
	StageTaskDone     Stage = "TASK_DONE"
	StageTaskError    Stage = "TASK_ERROR"
	StageChapterDone  Stage = "CHAPTER_DONE"
	StageChapterRetry Stage = "CHAPTER_RETRY"
	StageChapterError Stage = "CHAPTER_ERROR"
	StageQueueRefill  Stage = "QUEUE_REFILL"
)

// Event captures a single milestone of import progress.
type Event struct {
	// TaskID identifies the import task the event belongs to.
	TaskID string
	// NovelID scopes the event to a novel.
	NovelID string
	// ChapterNumber is set for per-chapter stages, zero otherwise.
	ChapterNumber int
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time
	// Stage denotes which milestone occurred.
	Stage Stage
	// Attempt is the fetch attempt for retry events, starting at 1.
	Attempt int
	// Dur captures execution latency for chapter and task completions.
	Dur time.Duration
	// Note lets emitters attach low-volume debug context (e.g. error text).
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.TaskID == "" {
		return errors.New("task id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageTaskStart, StageTaskDone, StageTaskError, StageQueueRefill:
	case StageChapterDone, StageChapterRetry, StageChapterError:
		if e.ChapterNumber <= 0 {
			return errors.New("chapter events require a chapter number")
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}
