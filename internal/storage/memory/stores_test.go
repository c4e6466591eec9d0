package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"novelkeeper/internal/novel"
)

func TestNovelStoreCreateGetDedup(t *testing.T) {
	t.Parallel()

	s := NewNovelStore()
	ctx := context.Background()

	created, err := s.Create(ctx, novel.Novel{ID: "n1", Title: "Sword of the Night", Author: "Jin He"})
	require.NoError(t, err)
	require.False(t, created.CreatedAt.IsZero())

	_, err = s.Create(ctx, novel.Novel{ID: "n1"})
	require.Error(t, err)

	got, err := s.Get(ctx, "n1")
	require.NoError(t, err)
	require.Equal(t, "Sword of the Night", got.Title)

	byKey, err := s.FindByTitleAuthor(ctx, "Sword of the Night", "Jin He")
	require.NoError(t, err)
	require.Equal(t, "n1", byKey.ID)

	_, err = s.FindByTitleAuthor(ctx, "Sword of the Night", "Someone Else")
	require.ErrorIs(t, err, novel.ErrNotFound)
}

func TestNovelStoreUpdateFields(t *testing.T) {
	t.Parallel()

	s := NewNovelStore()
	ctx := context.Background()
	_, err := s.Create(ctx, novel.Novel{ID: "n1", Status: novel.NovelSerializing})
	require.NoError(t, err)

	err = s.Update(ctx, "n1", map[string]any{
		"status":        novel.NovelCompleted,
		"chapter_count": 42,
		"word_count":    int64(90000),
	})
	require.NoError(t, err)

	got, err := s.Get(ctx, "n1")
	require.NoError(t, err)
	require.Equal(t, novel.NovelCompleted, got.Status)
	require.Equal(t, 42, got.ChapterCount)
	require.Equal(t, int64(90000), got.WordCount)

	require.Error(t, s.Update(ctx, "n1", map[string]any{"bogus": 1}))
	require.ErrorIs(t, s.Update(ctx, "missing", nil), novel.ErrNotFound)
}

func TestChapterStoreUpsertKeepsIdentity(t *testing.T) {
	t.Parallel()

	s := NewChapterStore()
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, novel.Chapter{NovelID: "n1", Number: 1, Content: "draft"}))
	first, err := s.Get(ctx, "n1", 1)
	require.NoError(t, err)

	require.NoError(t, s.Put(ctx, novel.Chapter{NovelID: "n1", Number: 1, Content: "final"}))
	second, err := s.Get(ctx, "n1", 1)
	require.NoError(t, err)

	require.Equal(t, first.ID, second.ID)
	require.Equal(t, first.CreatedAt, second.CreatedAt)
	require.Equal(t, "final", second.Content)

	list, err := s.List(ctx, "n1")
	require.NoError(t, err)
	require.Len(t, list, 1)
}

func TestChapterStoreListNumbers(t *testing.T) {
	t.Parallel()

	s := NewChapterStore()
	ctx := context.Background()
	for _, n := range []int{3, 1, 5} {
		require.NoError(t, s.Put(ctx, novel.Chapter{NovelID: "n1", Number: n}))
	}
	require.NoError(t, s.Put(ctx, novel.Chapter{NovelID: "other", Number: 9}))

	numbers, err := s.ListNumbers(ctx, "n1")
	require.NoError(t, err)
	require.Equal(t, map[int]bool{1: true, 3: true, 5: true}, numbers)
}

func TestTaskStoreLifecycle(t *testing.T) {
	t.Parallel()

	s := NewTaskStore()
	ctx := context.Background()

	task, err := s.Create(ctx, novel.ImportTask{ID: "t1", NovelID: "n1", Type: novel.TaskTypeImport})
	require.NoError(t, err)
	require.Equal(t, novel.TaskPending, task.Status)

	inProgress := novel.TaskInProgress
	require.NoError(t, s.Update(ctx, "t1", novel.TaskUpdate{Status: &inProgress}))

	imported := 5
	completed := novel.TaskCompleted
	require.NoError(t, s.Update(ctx, "t1", novel.TaskUpdate{Status: &completed, ImportedChapters: &imported}))

	got, err := s.Get(ctx, "t1")
	require.NoError(t, err)
	require.Equal(t, novel.TaskCompleted, got.Status)
	require.Equal(t, 5, got.ImportedChapters)

	// terminal status rejects further transitions
	pending := novel.TaskPending
	require.ErrorIs(t, s.Update(ctx, "t1", novel.TaskUpdate{Status: &pending}), novel.ErrTerminalStatus)

	require.NoError(t, s.Delete(ctx, "t1"))
	_, err = s.Get(ctx, "t1")
	require.ErrorIs(t, err, novel.ErrNotFound)
}

func TestTaskStoreListPendingIncludesInProgress(t *testing.T) {
	t.Parallel()

	s := NewTaskStore()
	ctx := context.Background()

	_, err := s.Create(ctx, novel.ImportTask{ID: "t1"})
	require.NoError(t, err)
	_, err = s.Create(ctx, novel.ImportTask{ID: "t2"})
	require.NoError(t, err)
	_, err = s.Create(ctx, novel.ImportTask{ID: "t3"})
	require.NoError(t, err)

	inProgress := novel.TaskInProgress
	require.NoError(t, s.Update(ctx, "t2", novel.TaskUpdate{Status: &inProgress}))
	completed := novel.TaskCompleted
	require.NoError(t, s.Update(ctx, "t3", novel.TaskUpdate{Status: &completed}))

	pending, err := s.ListPending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 2)

	limited, err := s.ListPending(ctx, 1)
	require.NoError(t, err)
	require.Len(t, limited, 1)
	require.Equal(t, "t1", limited[0].ID)

	// limit <= 0 means unlimited, matching the postgres store
	all, err := s.ListPending(ctx, 0)
	require.NoError(t, err)
	require.Len(t, all, 2)
}
