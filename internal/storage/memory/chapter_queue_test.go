package memory

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"novelkeeper/internal/novel"
)

func queueChapters(numbers ...int) []novel.IndexChapter {
	out := make([]novel.IndexChapter, 0, len(numbers))
	for _, n := range numbers {
		out = append(out, novel.IndexChapter{
			Number: n,
			Title:  fmt.Sprintf("Chapter %d", n),
			URL:    fmt.Sprintf("https://example.test/ch/%d", n),
		})
	}
	return out
}

func TestClaimBatchOrdersByChapterNumber(t *testing.T) {
	t.Parallel()

	q := NewChapterQueue()
	ctx := context.Background()
	require.NoError(t, q.Enqueue(ctx, "t1", "n1", queueChapters(7, 3, 9, 1, 5)))

	batch, err := q.ClaimBatch(ctx, "t1", 10, 0)
	require.NoError(t, err)

	got := make([]int, 0, len(batch))
	for _, row := range batch {
		got = append(got, row.Number)
		require.Equal(t, novel.QueueClaimed, row.Status)
		require.NotNil(t, row.ClaimedAt)
	}
	require.Equal(t, []int{1, 3, 5, 7, 9}, got)
}

func TestClaimBatchRespectsLimitAndSkipsClaimed(t *testing.T) {
	t.Parallel()

	q := NewChapterQueue()
	ctx := context.Background()
	require.NoError(t, q.Enqueue(ctx, "t1", "n1", queueChapters(1, 2, 3, 4)))

	first, err := q.ClaimBatch(ctx, "t1", 2, time.Hour)
	require.NoError(t, err)
	require.Len(t, first, 2)
	require.Equal(t, 1, first[0].Number)
	require.Equal(t, 2, first[1].Number)

	second, err := q.ClaimBatch(ctx, "t1", 10, time.Hour)
	require.NoError(t, err)
	require.Len(t, second, 2)
	require.Equal(t, 3, second[0].Number)
	require.Equal(t, 4, second[1].Number)
}

func TestClaimBatchReclaimsStaleRows(t *testing.T) {
	t.Parallel()

	q := NewChapterQueue()
	ctx := context.Background()
	require.NoError(t, q.Enqueue(ctx, "t1", "n1", queueChapters(1)))

	first, err := q.ClaimBatch(ctx, "t1", 1, time.Hour)
	require.NoError(t, err)
	require.Len(t, first, 1)

	// fresh claim is invisible
	none, err := q.ClaimBatch(ctx, "t1", 1, time.Hour)
	require.NoError(t, err)
	require.Empty(t, none)

	// age the claim past the TTL
	q.mu.Lock()
	old := time.Now().UTC().Add(-2 * time.Hour)
	q.rows[first[0].ID].ClaimedAt = &old
	q.mu.Unlock()

	reclaimed, err := q.ClaimBatch(ctx, "t1", 1, time.Hour)
	require.NoError(t, err)
	require.Len(t, reclaimed, 1)
	require.Equal(t, first[0].ID, reclaimed[0].ID)
}

func TestEnqueueIgnoresDuplicates(t *testing.T) {
	t.Parallel()

	q := NewChapterQueue()
	ctx := context.Background()
	require.NoError(t, q.Enqueue(ctx, "t1", "n1", queueChapters(1, 2)))
	require.NoError(t, q.Enqueue(ctx, "t1", "n1", queueChapters(2, 3)))

	batch, err := q.ClaimBatch(ctx, "t1", 10, 0)
	require.NoError(t, err)
	require.Len(t, batch, 3)
}

func TestTerminalRowsNeverTransition(t *testing.T) {
	t.Parallel()

	q := NewChapterQueue()
	ctx := context.Background()
	require.NoError(t, q.Enqueue(ctx, "t1", "n1", queueChapters(1, 2)))

	batch, err := q.ClaimBatch(ctx, "t1", 10, 0)
	require.NoError(t, err)
	require.Len(t, batch, 2)

	require.NoError(t, q.MarkImported(ctx, batch[0].ID))
	require.NoError(t, q.MarkFailed(ctx, batch[1].ID, "boom"))

	require.ErrorIs(t, q.MarkFailed(ctx, batch[0].ID, "late"), novel.ErrTerminalStatus)
	require.ErrorIs(t, q.MarkImported(ctx, batch[1].ID), novel.ErrTerminalStatus)

	pending, err := q.CountPending(ctx, "t1")
	require.NoError(t, err)
	require.Zero(t, pending)
}

func TestCountPendingIncludesClaimed(t *testing.T) {
	t.Parallel()

	q := NewChapterQueue()
	ctx := context.Background()
	require.NoError(t, q.Enqueue(ctx, "t1", "n1", queueChapters(1, 2, 3)))

	_, err := q.ClaimBatch(ctx, "t1", 1, time.Hour)
	require.NoError(t, err)

	pending, err := q.CountPending(ctx, "t1")
	require.NoError(t, err)
	require.Equal(t, 3, pending)
}
