package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"novelkeeper/internal/novel"
)

func newMock(t *testing.T) pgxmock.PgxPoolIface {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return mock
}

func TestNovelStoreCreate(t *testing.T) {
	t.Parallel()

	mock := newMock(t)
	store := NewNovelStore(mock)
	now := time.Unix(1700000000, 0).UTC()

	mock.ExpectQuery("INSERT INTO novels").
		WithArgs("n1", "Sword of the Night", "Jin He", "", "", "", "serializing",
			"https://source.example/novel/42/", int64(0), 0, "").
		WillReturnRows(pgxmock.NewRows([]string{"created_at", "updated_at"}).AddRow(now, now))

	created, err := store.Create(context.Background(), novel.Novel{
		ID:        "n1",
		Title:     "Sword of the Night",
		Author:    "Jin He",
		Status:    novel.NovelSerializing,
		SourceURL: "https://source.example/novel/42/",
	})
	require.NoError(t, err)
	require.Equal(t, now, created.CreatedAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNovelStoreUpdateUnknownField(t *testing.T) {
	t.Parallel()

	store := NewNovelStore(newMock(t))
	err := store.Update(context.Background(), "n1", map[string]any{"bogus": 1})
	require.Error(t, err)
}

func TestNovelStoreUpdateNotFound(t *testing.T) {
	t.Parallel()

	mock := newMock(t)
	store := NewNovelStore(mock)

	mock.ExpectExec("UPDATE novels SET").
		WithArgs(7, "missing").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := store.Update(context.Background(), "missing", map[string]any{"chapter_count": 7})
	require.ErrorIs(t, err, novel.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestChapterStorePutUpserts(t *testing.T) {
	t.Parallel()

	mock := newMock(t)
	store := NewChapterStore(mock)

	mock.ExpectExec("INSERT INTO chapters").
		WithArgs("n1", 3, "Chapter 3", "content body", "https://example.test/ch/3", false).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := store.Put(context.Background(), novel.Chapter{
		NovelID: "n1",
		Number:  3,
		Title:   "Chapter 3",
		Content: "content body",
		URL:     "https://example.test/ch/3",
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestChapterStoreListNumbers(t *testing.T) {
	t.Parallel()

	mock := newMock(t)
	store := NewChapterStore(mock)

	mock.ExpectQuery("SELECT chapter_number FROM chapters").
		WithArgs("n1").
		WillReturnRows(pgxmock.NewRows([]string{"chapter_number"}).AddRow(1).AddRow(3).AddRow(5))

	numbers, err := store.ListNumbers(context.Background(), "n1")
	require.NoError(t, err)
	require.Equal(t, map[int]bool{1: true, 3: true, 5: true}, numbers)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTaskStoreGetNotFound(t *testing.T) {
	t.Parallel()

	mock := newMock(t)
	store := NewTaskStore(mock)

	mock.ExpectQuery("SELECT (.+) FROM import_tasks WHERE id").
		WithArgs("missing").
		WillReturnRows(pgxmock.NewRows([]string{"id"}))

	_, err := store.Get(context.Background(), "missing")
	require.ErrorIs(t, err, novel.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTaskStoreUpdateTerminalGuard(t *testing.T) {
	t.Parallel()

	mock := newMock(t)
	store := NewTaskStore(mock)
	now := time.Unix(1700000000, 0).UTC()

	completed := novel.TaskCompleted
	mock.ExpectExec("UPDATE import_tasks SET").
		WithArgs("completed", "t1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectQuery("SELECT (.+) FROM import_tasks WHERE id").
		WithArgs("t1").
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "novel_id", "task_type", "status", "total_chapters", "imported_chapters",
			"failed_chapters", "error_message", "source_url", "index_page_html", "created_at", "updated_at",
		}).AddRow("t1", "n1", "import", "failed", 10, 4, 6, "", "", "", now, now))

	err := store.Update(context.Background(), "t1", novel.TaskUpdate{Status: &completed})
	require.ErrorIs(t, err, novel.ErrTerminalStatus)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTaskStoreListPendingZeroLimitReturnsAll(t *testing.T) {
	t.Parallel()

	mock := newMock(t)
	store := NewTaskStore(mock)
	now := time.Unix(1700000000, 0).UTC()

	cols := []string{"id", "novel_id", "task_type", "status", "total_chapters",
		"imported_chapters", "failed_chapters", "error_message", "source_url",
		"index_page_html", "created_at", "updated_at"}
	// LIMIT NULLIF($1, 0) turns the 0 into LIMIT NULL, i.e. no limit; a bare
	// LIMIT 0 would always return an empty set.
	mock.ExpectQuery(`LIMIT NULLIF\(\$1, 0\)`).
		WithArgs(0).
		WillReturnRows(pgxmock.NewRows(cols).
			AddRow("t1", "n1", "import", "pending", 3, 0, 0, "", "", "", now, now).
			AddRow("t2", "n1", "update", "in_progress", 2, 1, 0, "", "", "", now, now))

	tasks, err := store.ListPending(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, tasks, 2)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestChapterQueueClaimBatch(t *testing.T) {
	t.Parallel()

	mock := newMock(t)
	queue := NewChapterQueue(mock)
	now := time.Unix(1700000000, 0).UTC()

	rows := pgxmock.NewRows([]string{
		"id", "task_id", "novel_id", "chapter_number", "title", "url", "is_vip",
		"status", "error_message", "claimed_at", "created_at", "updated_at",
	}).
		AddRow(int64(11), "t1", "n1", 1, "Chapter 1", "https://example.test/ch/1", false,
			"claimed", "", &now, now, now).
		AddRow(int64(12), "t1", "n1", 2, "Chapter 2", "https://example.test/ch/2", false,
			"claimed", "", &now, now, now)

	mock.ExpectQuery("UPDATE chapter_queue SET status").
		WithArgs("t1", float64(600), 15).
		WillReturnRows(rows)

	batch, err := queue.ClaimBatch(context.Background(), "t1", 15, 10*time.Minute)
	require.NoError(t, err)
	require.Len(t, batch, 2)
	require.Equal(t, novel.QueueClaimed, batch[0].Status)
	require.Equal(t, 1, batch[0].Number)
	require.NotNil(t, batch[0].ClaimedAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestChapterQueueFinishTerminal(t *testing.T) {
	t.Parallel()

	mock := newMock(t)
	queue := NewChapterQueue(mock)

	mock.ExpectExec("UPDATE chapter_queue").
		WithArgs("imported", "", int64(11)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectQuery("SELECT EXISTS").
		WithArgs(int64(11)).
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))

	err := queue.MarkImported(context.Background(), 11)
	require.ErrorIs(t, err, novel.ErrTerminalStatus)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestChapterQueueCountPending(t *testing.T) {
	t.Parallel()

	mock := newMock(t)
	queue := NewChapterQueue(mock)

	mock.ExpectQuery("SELECT COUNT").
		WithArgs("t1").
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(4))

	count, err := queue.CountPending(context.Background(), "t1")
	require.NoError(t, err)
	require.Equal(t, 4, count)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnsureSchemaRunsAllStatements(t *testing.T) {
	t.Parallel()

	mock := newMock(t)
	for range schema {
		mock.ExpectExec("CREATE").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	}

	require.NoError(t, EnsureSchema(context.Background(), mock))
	require.NoError(t, mock.ExpectationsWereMet())
}
