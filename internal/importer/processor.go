package importer

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"novelkeeper/internal/extract"
	"novelkeeper/internal/novel"
	"novelkeeper/internal/progress"
	"novelkeeper/internal/ratelimit"
)

// Config bounds a single processor invocation.
type Config struct {
	// BatchSize caps how many chapters one ProcessTask call handles.
	BatchSize int
	// ClaimTTL is how long a claim may sit before another invocation may
	// reclaim the row.
	ClaimTTL time.Duration
	// Topic, when set, receives a summary payload after every ProcessQueue
	// call.
	Topic string
}

// Processor drives import tasks through their state machine: pending →
// in_progress → completed, with failed reserved for systemic errors. One
// invocation processes at most one batch per task; the scheduled trigger
// calls back until the queue drains.
type Processor struct {
	tasks     novel.TaskStore
	novels    novel.NovelStore
	chapters  novel.ChapterStore
	queue     novel.ChapterQueue
	extractor novel.Extractor
	index     *extract.IndexParser
	retry     novel.RetryPolicy
	clock     novel.Clock
	limiter   *ratelimit.Limiter
	emitter   progress.Emitter
	publisher novel.Publisher
	logger    *zap.Logger
	cfg       Config
}

// Deps carries the processor's collaborators. Limiter, Emitter, Publisher,
// and Index may be nil; the corresponding behavior is skipped.
type Deps struct {
	Tasks     novel.TaskStore
	Novels    novel.NovelStore
	Chapters  novel.ChapterStore
	Queue     novel.ChapterQueue
	Extractor novel.Extractor
	Index     *extract.IndexParser
	Retry     novel.RetryPolicy
	Clock     novel.Clock
	Limiter   *ratelimit.Limiter
	Emitter   progress.Emitter
	Publisher novel.Publisher
	Logger    *zap.Logger
}

// New builds a Processor.
func New(deps Deps, cfg Config) *Processor {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 15
	}
	if cfg.ClaimTTL <= 0 {
		cfg.ClaimTTL = 10 * time.Minute
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Processor{
		tasks:     deps.Tasks,
		novels:    deps.Novels,
		chapters:  deps.Chapters,
		queue:     deps.Queue,
		extractor: deps.Extractor,
		index:     deps.Index,
		retry:     deps.Retry,
		clock:     deps.Clock,
		limiter:   deps.Limiter,
		emitter:   deps.Emitter,
		publisher: deps.Publisher,
		logger:    logger,
		cfg:       cfg,
	}
}

// ProcessTask runs one batch for the given task. maxChapters <= 0 falls back
// to the configured batch size. Per-chapter failures are absorbed into the
// result; only store-level errors fail the task.
func (p *Processor) ProcessTask(ctx context.Context, taskID string, maxChapters int) novel.BatchResult {
	if maxChapters <= 0 || maxChapters > p.cfg.BatchSize {
		maxChapters = p.cfg.BatchSize
	}

	task, err := p.tasks.Get(ctx, taskID)
	if err != nil {
		return novel.BatchResult{Error: fmt.Sprintf("load task: %v", err)}
	}
	if task.Status == novel.TaskCompleted || task.Status == novel.TaskFailed {
		return novel.BatchResult{}
	}

	start := p.now()
	if task.Status == novel.TaskPending {
		inProgress := novel.TaskInProgress
		if err := p.tasks.Update(ctx, task.ID, novel.TaskUpdate{Status: &inProgress}); err != nil {
			return p.failTask(ctx, task, fmt.Errorf("transition to in_progress: %w", err))
		}
		task.Status = novel.TaskInProgress
	}
	p.emit(progress.Event{TaskID: task.ID, NovelID: task.NovelID, TS: start, Stage: progress.StageTaskStart})

	nov, err := p.novels.Get(ctx, task.NovelID)
	if err != nil {
		return p.failTask(ctx, task, fmt.Errorf("load novel %s: %w", task.NovelID, err))
	}

	imported, err := p.chapters.ListNumbers(ctx, task.NovelID)
	if err != nil {
		return p.failTask(ctx, task, fmt.Errorf("list imported chapters: %w", err))
	}

	batch, err := p.queue.ClaimBatch(ctx, task.ID, maxChapters, p.cfg.ClaimTTL)
	if err != nil {
		return p.failTask(ctx, task, fmt.Errorf("claim batch: %w", err))
	}
	if len(batch) == 0 {
		refilled, err := p.refill(ctx, task, imported, maxChapters)
		if err != nil {
			return p.failTask(ctx, task, err)
		}
		if refilled {
			batch, err = p.queue.ClaimBatch(ctx, task.ID, maxChapters, p.cfg.ClaimTTL)
			if err != nil {
				return p.failTask(ctx, task, fmt.Errorf("claim batch after refill: %w", err))
			}
		}
	}
	if len(batch) == 0 {
		// queue drained and the refill produced nothing; if no other
		// invocation holds claims, every chapter is accounted for
		pending, err := p.queue.CountPending(ctx, task.ID)
		if err != nil {
			p.logger.Warn("counting pending queue rows failed", zap.String("task_id", task.ID), zap.Error(err))
			return novel.BatchResult{}
		}
		if pending == 0 {
			p.complete(ctx, task, start, 0, 0)
		}
		return novel.BatchResult{}
	}

	var result novel.BatchResult
	var batchWords int64
	var latestImported string
	for _, row := range batch {
		if imported[row.Number] {
			// already stored by an earlier run; nothing to fetch
			if err := p.queue.MarkImported(ctx, row.ID); err != nil {
				p.logger.Warn("marking duplicate queue row failed", zap.Int64("row_id", row.ID), zap.Error(err))
			}
			continue
		}

		ext, fetchErr := p.extractChapter(ctx, task, row)
		if fetchErr != nil {
			result.Failed++
			if err := p.queue.MarkFailed(ctx, row.ID, fetchErr.Error()); err != nil {
				p.logger.Warn("marking queue row failed", zap.Int64("row_id", row.ID), zap.Error(err))
			}
			p.emit(progress.Event{
				TaskID: task.ID, NovelID: task.NovelID, ChapterNumber: row.Number,
				TS: p.now(), Stage: progress.StageChapterError, Note: fetchErr.Error(),
			})
			continue
		}

		title := ext.Title
		if title == "" {
			title = row.Title
		}
		chapterStart := p.now()
		err := p.chapters.Put(ctx, novel.Chapter{
			NovelID: task.NovelID,
			Number:  row.Number,
			Title:   title,
			Content: ext.Content,
			URL:     row.URL,
			IsVIP:   row.IsVIP,
		})
		if err != nil {
			// a store write failure is systemic, not a chapter problem
			res := p.failTask(ctx, task, fmt.Errorf("store chapter %d: %w", row.Number, err))
			res.Succeeded = result.Succeeded
			res.Failed = result.Failed
			return res
		}
		if err := p.queue.MarkImported(ctx, row.ID); err != nil {
			p.logger.Warn("marking queue row imported failed", zap.Int64("row_id", row.ID), zap.Error(err))
		}
		result.Succeeded++
		batchWords += ext.WordCount
		latestImported = title
		p.emit(progress.Event{
			TaskID: task.ID, NovelID: task.NovelID, ChapterNumber: row.Number,
			TS: p.now(), Stage: progress.StageChapterDone, Dur: p.now().Sub(chapterStart),
		})
	}

	task.ImportedChapters += result.Succeeded
	task.FailedChapters += result.Failed
	upd := novel.TaskUpdate{
		ImportedChapters: &task.ImportedChapters,
		FailedChapters:   &task.FailedChapters,
	}
	if err := p.tasks.Update(ctx, task.ID, upd); err != nil {
		p.logger.Error("updating task counters failed", zap.String("task_id", task.ID), zap.Error(err))
	}

	// imported held the stored chapter numbers before this batch, so the
	// novel's total is that set plus this batch's writes; the task counter
	// only covers work done under this task.
	p.updateNovelAggregates(ctx, nov, batchWords, len(imported)+result.Succeeded, latestImported)
	p.finishIfDone(ctx, task, start, result.Succeeded, result.Failed)
	return result
}

// extractChapter runs the retry loop around a single chapter fetch.
func (p *Processor) extractChapter(ctx context.Context, task novel.ImportTask, row novel.ChapterURL) (novel.Extraction, error) {
	if p.limiter != nil {
		if err := p.limiter.Wait(ctx, row.URL); err != nil {
			return novel.Extraction{}, err
		}
	}

	var lastErr error
	for attempt := 1; ; attempt++ {
		ext, err := p.extractor.Extract(ctx, row.URL)
		if err == nil {
			return ext, nil
		}
		lastErr = err
		if !p.retry.ShouldRetry(err, attempt) {
			break
		}
		p.emit(progress.Event{
			TaskID: task.ID, NovelID: task.NovelID, ChapterNumber: row.Number,
			TS: p.now(), Stage: progress.StageChapterRetry, Attempt: attempt + 1, Note: err.Error(),
		})
		if err := p.clock.Sleep(ctx, p.retry.Backoff(attempt)); err != nil {
			return novel.Extraction{}, err
		}
	}
	return novel.Extraction{}, lastErr
}

// refill re-derives queue rows from the stored index page when the queue ran
// dry before the task accounted for all chapters. This recovers tasks whose
// queue was only partially populated by an aborted earlier run.
func (p *Processor) refill(ctx context.Context, task novel.ImportTask, imported map[int]bool, maxChapters int) (bool, error) {
	processed := task.ImportedChapters + task.FailedChapters
	if processed >= task.TotalChapters || task.IndexHTML == "" || p.index == nil {
		return false, nil
	}

	all, err := p.index.Chapters([]byte(task.IndexHTML), task.SourceURL)
	if err != nil {
		return false, fmt.Errorf("reparse stored index page: %w", err)
	}

	var missing []novel.IndexChapter
	for _, ch := range all {
		if imported[ch.Number] {
			continue
		}
		missing = append(missing, ch)
		if len(missing) >= maxChapters {
			break
		}
	}
	if len(missing) == 0 {
		return false, nil
	}
	if err := p.queue.Enqueue(ctx, task.ID, task.NovelID, missing); err != nil {
		return false, fmt.Errorf("refill queue: %w", err)
	}
	p.logger.Info("refilled chapter queue from stored index page",
		zap.String("task_id", task.ID),
		zap.Int("chapters", len(missing)),
	)
	p.emit(progress.Event{TaskID: task.ID, NovelID: task.NovelID, TS: p.now(), Stage: progress.StageQueueRefill})
	return true, nil
}

// finishIfDone transitions the task to completed once every chapter is
// accounted for or the queue is drained with no refill possible.
func (p *Processor) finishIfDone(ctx context.Context, task novel.ImportTask, start time.Time, succeeded, failed int) {
	done := task.ImportedChapters+task.FailedChapters >= task.TotalChapters
	if !done {
		pending, err := p.queue.CountPending(ctx, task.ID)
		if err != nil {
			p.logger.Warn("counting pending queue rows failed", zap.String("task_id", task.ID), zap.Error(err))
			return
		}
		refillable := task.IndexHTML != "" && task.ImportedChapters+task.FailedChapters < task.TotalChapters
		done = pending == 0 && !refillable
	}
	if !done {
		return
	}
	p.complete(ctx, task, start, succeeded, failed)
}

func (p *Processor) complete(ctx context.Context, task novel.ImportTask, start time.Time, succeeded, failed int) {
	completed := novel.TaskCompleted
	if err := p.tasks.Update(ctx, task.ID, novel.TaskUpdate{Status: &completed}); err != nil {
		p.logger.Error("completing task failed", zap.String("task_id", task.ID), zap.Error(err))
		return
	}
	p.logger.Info("import task completed",
		zap.String("task_id", task.ID),
		zap.String("novel_id", task.NovelID),
		zap.Int("imported", task.ImportedChapters),
		zap.Int("failed", task.FailedChapters),
	)
	p.emit(progress.Event{
		TaskID: task.ID, NovelID: task.NovelID, TS: p.now(),
		Stage: progress.StageTaskDone, Dur: p.now().Sub(start),
		Note: fmt.Sprintf("imported=%d failed=%d batch_success=%d batch_failed=%d",
			task.ImportedChapters, task.FailedChapters, succeeded, failed),
	})
}

// updateNovelAggregates refreshes the novel's rollups after a batch.
// chapterCount is the total stored for the novel, not this task's counter.
func (p *Processor) updateNovelAggregates(ctx context.Context, nov novel.Novel, batchWords int64, chapterCount int, latest string) {
	if batchWords == 0 && latest == "" {
		return
	}
	fields := map[string]any{
		"word_count":    nov.WordCount + batchWords,
		"chapter_count": chapterCount,
	}
	if latest != "" {
		fields["latest_chapter"] = latest
	}
	if err := p.novels.Update(ctx, nov.ID, fields); err != nil {
		p.logger.Warn("updating novel aggregates failed", zap.String("novel_id", nov.ID), zap.Error(err))
	}
}

// failTask marks the task failed with the error message. Reserved for
// systemic errors; chapter fetch failures never land here.
func (p *Processor) failTask(ctx context.Context, task novel.ImportTask, cause error) novel.BatchResult {
	p.logger.Error("import task failed",
		zap.String("task_id", task.ID),
		zap.String("novel_id", task.NovelID),
		zap.Error(cause),
	)
	failed := novel.TaskFailed
	msg := cause.Error()
	if err := p.tasks.Update(ctx, task.ID, novel.TaskUpdate{Status: &failed, ErrorMessage: &msg}); err != nil {
		p.logger.Error("recording task failure failed", zap.String("task_id", task.ID), zap.Error(err))
	}
	p.emit(progress.Event{
		TaskID: task.ID, NovelID: task.NovelID, TS: p.now(),
		Stage: progress.StageTaskError, Note: msg,
	})
	return novel.BatchResult{Error: msg}
}

// ProcessQueue runs one batch for up to maxTasks eligible tasks (or exactly
// the given taskIDs) and aggregates the outcome. The summary is also pushed
// to the configured topic when a publisher is wired.
func (p *Processor) ProcessQueue(ctx context.Context, maxTasks, maxChapters int, taskIDs []string) novel.QueueSummary {
	var summary novel.QueueSummary

	ids := taskIDs
	if len(ids) == 0 {
		tasks, err := p.tasks.ListPending(ctx, maxTasks)
		if err != nil {
			p.logger.Error("listing pending tasks failed", zap.Error(err))
			return summary
		}
		for _, task := range tasks {
			ids = append(ids, task.ID)
		}
	}

	for _, id := range ids {
		res := p.ProcessTask(ctx, id, maxChapters)
		summary.ProcessedTasks++
		summary.SuccessfulChapters += res.Succeeded
		summary.FailedChapters += res.Failed
		summary.TaskResults = append(summary.TaskResults, novel.TaskResult{
			TaskID:    id,
			Succeeded: res.Succeeded,
			Failed:    res.Failed,
			Error:     res.Error,
		})
	}

	if remaining, err := p.tasks.ListPending(ctx, 0); err == nil {
		summary.TotalPendingTasks = len(remaining)
	}

	if p.publisher != nil && p.cfg.Topic != "" && summary.ProcessedTasks > 0 {
		if _, err := p.publisher.Publish(ctx, p.cfg.Topic, summary); err != nil {
			p.logger.Warn("publishing queue summary failed", zap.Error(err))
		}
	}
	return summary
}

func (p *Processor) emit(evt progress.Event) {
	if p.emitter != nil {
		p.emitter.Emit(evt)
	}
}

func (p *Processor) now() time.Time {
	if p.clock != nil {
		return p.clock.Now()
	}
	return time.Now().UTC()
}
