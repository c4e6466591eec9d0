package importer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"novelkeeper/internal/extract"
	"novelkeeper/internal/novel"
	"novelkeeper/internal/storage/memory"
)

// fakeClock advances on every Now call and records sleeps without waiting.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	sleeps []time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(1700000000, 0).UTC()}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Millisecond)
	return c.now
}

func (c *fakeClock) Sleep(_ context.Context, d time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sleeps = append(c.sleeps, d)
	c.now = c.now.Add(d)
	return nil
}

func (c *fakeClock) Sleeps() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.sleeps...)
}

// scriptedExtractor returns per-URL outcomes in sequence; the last outcome
// repeats once the script runs out.
type scriptedExtractor struct {
	mu      sync.Mutex
	scripts map[string][]extractOutcome
	calls   map[string]int
}

type extractOutcome struct {
	ext novel.Extraction
	err error
}

func newScriptedExtractor() *scriptedExtractor {
	return &scriptedExtractor{
		scripts: make(map[string][]extractOutcome),
		calls:   make(map[string]int),
	}
}

func (s *scriptedExtractor) succeed(url, content string) {
	s.scripts[url] = append(s.scripts[url], extractOutcome{
		ext: novel.Extraction{Content: content, WordCount: int64(len(content) / 2)},
	})
}

func (s *scriptedExtractor) fail(url, msg string) {
	s.scripts[url] = append(s.scripts[url], extractOutcome{err: errors.New(msg)})
}

func (s *scriptedExtractor) Extract(_ context.Context, url string) (novel.Extraction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	script := s.scripts[url]
	if len(script) == 0 {
		return novel.Extraction{}, fmt.Errorf("no script for %s", url)
	}
	i := s.calls[url]
	if i >= len(script) {
		i = len(script) - 1
	}
	s.calls[url]++
	out := script[i]
	return out.ext, out.err
}

type fixture struct {
	novels    *memory.NovelStore
	chapters  *memory.ChapterStore
	tasks     *memory.TaskStore
	queue     *memory.ChapterQueue
	extractor *scriptedExtractor
	clock     *fakeClock
	proc      *Processor
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	f := &fixture{
		novels:    memory.NewNovelStore(),
		chapters:  memory.NewChapterStore(),
		tasks:     memory.NewTaskStore(),
		queue:     memory.NewChapterQueue(),
		extractor: newScriptedExtractor(),
		clock:     newFakeClock(),
	}
	f.proc = New(Deps{
		Tasks:     f.tasks,
		Novels:    f.novels,
		Chapters:  f.chapters,
		Queue:     f.queue,
		Extractor: f.extractor,
		Index:     extract.NewIndexParser(extract.IndexConfig{}),
		Retry:     NewExponentialRetryPolicy(3, time.Second, 10*time.Second),
		Clock:     f.clock,
		Logger:    zap.NewNop(),
	}, cfg)
	return f
}

func (f *fixture) seedNovel(t *testing.T, id string) {
	t.Helper()
	_, err := f.novels.Create(context.Background(), novel.Novel{ID: id, Title: "Novel " + id, Author: "A"})
	require.NoError(t, err)
}

func (f *fixture) seedTask(t *testing.T, task novel.ImportTask) novel.ImportTask {
	t.Helper()
	created, err := f.tasks.Create(context.Background(), task)
	require.NoError(t, err)
	return created
}

func chapterURL(n int) string {
	return fmt.Sprintf("https://source.example/novel/1/%d.html", n)
}

func indexChapters(numbers ...int) []novel.IndexChapter {
	out := make([]novel.IndexChapter, 0, len(numbers))
	for _, n := range numbers {
		out = append(out, novel.IndexChapter{
			Number: n,
			Title:  fmt.Sprintf("Chapter %d", n),
			URL:    chapterURL(n),
		})
	}
	return out
}

func TestProcessTaskEndToEnd(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{BatchSize: 15})
	ctx := context.Background()
	f.seedNovel(t, "n1")
	task := f.seedTask(t, novel.ImportTask{ID: "t1", NovelID: "n1", Type: novel.TaskTypeImport, TotalChapters: 3})
	require.NoError(t, f.queue.Enqueue(ctx, task.ID, "n1", indexChapters(1, 2, 3)))

	body := strings.Repeat("words ", 50)
	f.extractor.succeed(chapterURL(1), body)
	f.extractor.fail(chapterURL(2), "fetch chapter: connection reset")
	f.extractor.fail(chapterURL(2), "fetch chapter: connection reset")
	f.extractor.fail(chapterURL(2), "fetch chapter: connection reset again")
	f.extractor.succeed(chapterURL(3), body)

	res := f.proc.ProcessTask(ctx, task.ID, 3)
	require.Equal(t, 2, res.Succeeded)
	require.Equal(t, 1, res.Failed)
	require.Empty(t, res.Error)

	got, err := f.tasks.Get(ctx, task.ID)
	require.NoError(t, err)
	require.Equal(t, novel.TaskCompleted, got.Status)
	require.Equal(t, 2, got.ImportedChapters)
	require.Equal(t, 1, got.FailedChapters)

	numbers, err := f.chapters.ListNumbers(ctx, "n1")
	require.NoError(t, err)
	require.Equal(t, map[int]bool{1: true, 3: true}, numbers)

	pending, err := f.queue.CountPending(ctx, task.ID)
	require.NoError(t, err)
	require.Zero(t, pending)

	// the failed row keeps the message from the final attempt
	rows, err := f.queue.ListByTask(ctx, task.ID)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	require.Equal(t, novel.QueueImported, rows[0].Status)
	require.Equal(t, novel.QueueFailed, rows[1].Status)
	require.Equal(t, "fetch chapter: connection reset again", rows[1].ErrorMessage)
	require.Equal(t, novel.QueueImported, rows[2].Status)
}

func TestProcessTaskRetrySucceedsOnThirdAttempt(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{BatchSize: 15})
	ctx := context.Background()
	f.seedNovel(t, "n1")
	task := f.seedTask(t, novel.ImportTask{ID: "t1", NovelID: "n1", TotalChapters: 1})
	require.NoError(t, f.queue.Enqueue(ctx, task.ID, "n1", indexChapters(1)))

	f.extractor.fail(chapterURL(1), "timeout 1")
	f.extractor.fail(chapterURL(1), "timeout 2")
	f.extractor.succeed(chapterURL(1), strings.Repeat("content ", 30))

	res := f.proc.ProcessTask(ctx, task.ID, 5)
	require.Equal(t, 1, res.Succeeded)
	require.Zero(t, res.Failed)

	require.GreaterOrEqual(t, len(f.clock.Sleeps()), 2)

	got, err := f.tasks.Get(ctx, task.ID)
	require.NoError(t, err)
	require.Equal(t, novel.TaskCompleted, got.Status)
	require.Equal(t, 1, got.ImportedChapters)
}

func TestProcessTaskIdempotentNoOp(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{BatchSize: 15})
	ctx := context.Background()
	f.seedNovel(t, "n1")
	task := f.seedTask(t, novel.ImportTask{ID: "t1", NovelID: "n1", TotalChapters: 1})
	require.NoError(t, f.queue.Enqueue(ctx, task.ID, "n1", indexChapters(1)))
	f.extractor.succeed(chapterURL(1), strings.Repeat("content ", 30))

	first := f.proc.ProcessTask(ctx, task.ID, 5)
	require.Equal(t, 1, first.Succeeded)

	afterFirst, err := f.tasks.Get(ctx, task.ID)
	require.NoError(t, err)

	second := f.proc.ProcessTask(ctx, task.ID, 5)
	require.Zero(t, second.Succeeded)
	require.Zero(t, second.Failed)
	require.Empty(t, second.Error)

	afterSecond, err := f.tasks.Get(ctx, task.ID)
	require.NoError(t, err)
	require.Equal(t, afterFirst.ImportedChapters, afterSecond.ImportedChapters)
	require.Equal(t, afterFirst.FailedChapters, afterSecond.FailedChapters)
	require.Equal(t, novel.TaskCompleted, afterSecond.Status)
}

func TestProcessTaskNovelMissingFailsTask(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{BatchSize: 15})
	ctx := context.Background()
	task := f.seedTask(t, novel.ImportTask{ID: "t1", NovelID: "gone", TotalChapters: 3})

	res := f.proc.ProcessTask(ctx, task.ID, 5)
	require.NotEmpty(t, res.Error)

	got, err := f.tasks.Get(ctx, task.ID)
	require.NoError(t, err)
	require.Equal(t, novel.TaskFailed, got.Status)
	require.Contains(t, got.ErrorMessage, "load novel")
}

func TestProcessTaskAlreadyImportedShortCircuit(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{BatchSize: 15})
	ctx := context.Background()
	f.seedNovel(t, "n1")
	require.NoError(t, f.chapters.Put(ctx, novel.Chapter{NovelID: "n1", Number: 1, Content: "already here"}))

	task := f.seedTask(t, novel.ImportTask{ID: "t1", NovelID: "n1", TotalChapters: 2, ImportedChapters: 1})
	require.NoError(t, f.queue.Enqueue(ctx, task.ID, "n1", indexChapters(1, 2)))
	f.extractor.succeed(chapterURL(2), strings.Repeat("content ", 30))

	res := f.proc.ProcessTask(ctx, task.ID, 5)
	require.Equal(t, 1, res.Succeeded)
	require.Zero(t, res.Failed)

	// chapter 1 was never re-fetched and its content is untouched
	ch, err := f.chapters.Get(ctx, "n1", 1)
	require.NoError(t, err)
	require.Equal(t, "already here", ch.Content)

	got, err := f.tasks.Get(ctx, task.ID)
	require.NoError(t, err)
	require.Equal(t, novel.TaskCompleted, got.Status)
	require.Equal(t, 2, got.ImportedChapters)
}

func TestProcessTaskUpdatePreservesChapterCount(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{BatchSize: 15})
	ctx := context.Background()

	_, err := f.novels.Create(ctx, novel.Novel{ID: "n1", Title: "Novel n1", Author: "A", ChapterCount: 10})
	require.NoError(t, err)
	for i := 1; i <= 10; i++ {
		require.NoError(t, f.chapters.Put(ctx, novel.Chapter{NovelID: "n1", Number: i, Content: "stored"}))
	}

	task := f.seedTask(t, novel.ImportTask{ID: "t1", NovelID: "n1", Type: novel.TaskTypeUpdate, TotalChapters: 2})
	require.NoError(t, f.queue.Enqueue(ctx, task.ID, "n1", indexChapters(11, 12)))
	body := strings.Repeat("fresh ", 40)
	f.extractor.succeed(chapterURL(11), body)
	f.extractor.succeed(chapterURL(12), body)

	res := f.proc.ProcessTask(ctx, task.ID, 5)
	require.Equal(t, 2, res.Succeeded)

	// the novel's count reflects all stored chapters, not this task's counter
	nov, err := f.novels.Get(ctx, "n1")
	require.NoError(t, err)
	require.Equal(t, 12, nov.ChapterCount)
}

func indexPageHTML(total int) string {
	var b strings.Builder
	b.WriteString(`<html><body><div class="container"><ul>`)
	for i := 1; i <= total; i++ {
		fmt.Fprintf(&b, `<li><a href="/novel/1/%d.html">Chapter %d</a></li>`, i, i)
	}
	b.WriteString(`</ul></div></body></html>`)
	return b.String()
}

func TestProcessTaskRefillFromStoredIndex(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{BatchSize: 15})
	ctx := context.Background()
	f.seedNovel(t, "n1")
	for i := 1; i <= 5; i++ {
		require.NoError(t, f.chapters.Put(ctx, novel.Chapter{NovelID: "n1", Number: i, Content: "stored"}))
	}

	task := f.seedTask(t, novel.ImportTask{
		ID:               "t1",
		NovelID:          "n1",
		TotalChapters:    20,
		ImportedChapters: 5,
		SourceURL:        "https://source.example/novel/1/",
		IndexHTML:        indexPageHTML(20),
	})

	for i := 6; i <= 20; i++ {
		f.extractor.succeed(fmt.Sprintf("https://source.example/novel/1/%d.html", i), strings.Repeat("content ", 30))
	}

	// queue is empty; the stored index page must repopulate it
	res := f.proc.ProcessTask(ctx, task.ID, 7)
	require.Equal(t, 7, res.Succeeded)
	require.Zero(t, res.Failed)

	got, err := f.tasks.Get(ctx, task.ID)
	require.NoError(t, err)
	require.Equal(t, 12, got.ImportedChapters)
	require.Equal(t, novel.TaskInProgress, got.Status)
}

func TestProcessQueueAggregates(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{BatchSize: 15})
	ctx := context.Background()
	f.seedNovel(t, "n1")
	f.seedNovel(t, "n2")

	t1 := f.seedTask(t, novel.ImportTask{ID: "t1", NovelID: "n1", TotalChapters: 1})
	require.NoError(t, f.queue.Enqueue(ctx, t1.ID, "n1", indexChapters(1)))
	f.extractor.succeed(chapterURL(1), strings.Repeat("content ", 30))

	t2 := f.seedTask(t, novel.ImportTask{ID: "t2", NovelID: "n2", TotalChapters: 1})
	require.NoError(t, f.queue.Enqueue(ctx, t2.ID, "n2", []novel.IndexChapter{{
		Number: 1, Title: "Chapter 1", URL: "https://source.example/novel/2/1.html",
	}}))
	f.extractor.fail("https://source.example/novel/2/1.html", "gone")
	f.extractor.fail("https://source.example/novel/2/1.html", "gone")
	f.extractor.fail("https://source.example/novel/2/1.html", "gone for good")

	summary := f.proc.ProcessQueue(ctx, 5, 10, nil)
	require.Equal(t, 2, summary.ProcessedTasks)
	require.Equal(t, 1, summary.SuccessfulChapters)
	require.Equal(t, 1, summary.FailedChapters)
	require.Zero(t, summary.TotalPendingTasks)
	require.Len(t, summary.TaskResults, 2)
}
