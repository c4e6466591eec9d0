package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"novelkeeper/internal/novel"
)

// ChapterQueue is the Postgres-backed chapter work queue. Claims ride on
// FOR UPDATE SKIP LOCKED so concurrent trigger invocations never hand the
// same row to two processors.
type ChapterQueue struct {
	db DB
}

// NewChapterQueue constructs a ChapterQueue over the given pool.
func NewChapterQueue(db DB) *ChapterQueue {
	return &ChapterQueue{db: db}
}

// Enqueue inserts one pending row per chapter; (task_id, chapter_number)
// duplicates are dropped by the unique constraint.
func (q *ChapterQueue) Enqueue(ctx context.Context, taskID, novelID string, chapters []novel.IndexChapter) error {
	query := `
INSERT INTO chapter_queue (task_id, novel_id, chapter_number, title, url, is_vip)
VALUES ($1,$2,$3,$4,$5,$6)
ON CONFLICT (task_id, chapter_number) DO NOTHING`
	for _, ch := range chapters {
		if _, err := q.db.Exec(ctx, query, taskID, novelID, ch.Number, ch.Title, ch.URL, ch.IsVIP); err != nil {
			return fmt.Errorf("enqueue chapter %d: %w", ch.Number, err)
		}
	}
	return nil
}

const queueColumns = `id, task_id, novel_id, chapter_number, title, url, is_vip,
	status, error_message, claimed_at, created_at, updated_at`

// ClaimBatch atomically flips up to limit claimable rows to claimed, ordered
// ascending by chapter number. Claimed rows older than staleAfter are
// reclaimed.
func (q *ChapterQueue) ClaimBatch(ctx context.Context, taskID string, limit int, staleAfter time.Duration) ([]novel.ChapterURL, error) {
	query := fmt.Sprintf(`
UPDATE chapter_queue SET status = 'claimed', claimed_at = now(), updated_at = now()
WHERE id IN (
	SELECT id FROM chapter_queue
	WHERE task_id = $1
	  AND (status = 'pending'
	       OR (status = 'claimed' AND claimed_at < now() - make_interval(secs => $2)))
	ORDER BY chapter_number
	LIMIT $3
	FOR UPDATE SKIP LOCKED
)
RETURNING %s`, queueColumns)

	rows, err := q.db.Query(ctx, query, taskID, staleAfter.Seconds(), limit)
	if err != nil {
		return nil, fmt.Errorf("claim batch: %w", err)
	}
	defer rows.Close()

	var out []novel.ChapterURL
	for rows.Next() {
		row, err := scanQueueRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("claim batch: %w", err)
	}
	return out, nil
}

// MarkImported sets a row to its terminal imported state.
func (q *ChapterQueue) MarkImported(ctx context.Context, id int64) error {
	return q.finish(ctx, id, novel.QueueImported, "")
}

// MarkFailed sets a row to its terminal failed state with an error message.
func (q *ChapterQueue) MarkFailed(ctx context.Context, id int64, errMsg string) error {
	return q.finish(ctx, id, novel.QueueFailed, errMsg)
}

func (q *ChapterQueue) finish(ctx context.Context, id int64, status novel.QueueStatus, errMsg string) error {
	query := `
UPDATE chapter_queue
SET status = $1, error_message = $2, claimed_at = NULL, updated_at = now()
WHERE id = $3 AND status IN ('pending','claimed')`
	tag, err := q.db.Exec(ctx, query, string(status), errMsg, id)
	if err != nil {
		return fmt.Errorf("finish queue row: %w", err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		err := q.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM chapter_queue WHERE id = $1)`, id).Scan(&exists)
		if err != nil {
			return fmt.Errorf("finish queue row: %w", err)
		}
		if !exists {
			return novel.ErrNotFound
		}
		return novel.ErrTerminalStatus
	}
	return nil
}

// CountPending returns how many rows for a task are not yet terminal.
func (q *ChapterQueue) CountPending(ctx context.Context, taskID string) (int, error) {
	var count int
	err := q.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM chapter_queue WHERE task_id = $1 AND status IN ('pending','claimed')`,
		taskID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count pending: %w", err)
	}
	return count, nil
}

func scanQueueRow(row pgx.Row) (novel.ChapterURL, error) {
	var cu novel.ChapterURL
	var status string
	err := row.Scan(&cu.ID, &cu.TaskID, &cu.NovelID, &cu.Number, &cu.Title, &cu.URL,
		&cu.IsVIP, &status, &cu.ErrorMessage, &cu.ClaimedAt, &cu.CreatedAt, &cu.UpdatedAt)
	if err != nil {
		return novel.ChapterURL{}, fmt.Errorf("scan queue row: %w", err)
	}
	cu.Status = novel.QueueStatus(status)
	return cu, nil
}
