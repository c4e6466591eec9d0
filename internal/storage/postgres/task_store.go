package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"novelkeeper/internal/novel"
)

// TaskStore persists import tasks in Postgres.
type TaskStore struct {
	db DB
}

// NewTaskStore constructs a TaskStore over the given pool.
func NewTaskStore(db DB) *TaskStore {
	return &TaskStore{db: db}
}

const taskColumns = `id, novel_id, task_type, status, total_chapters, imported_chapters,
	failed_chapters, error_message, source_url, index_page_html, created_at, updated_at`

// Create inserts a task row.
func (s *TaskStore) Create(ctx context.Context, task novel.ImportTask) (novel.ImportTask, error) {
	if task.Status == "" {
		task.Status = novel.TaskPending
	}
	query := `
INSERT INTO import_tasks (id, novel_id, task_type, status, total_chapters, source_url, index_page_html)
VALUES ($1,$2,$3,$4,$5,$6,$7)
RETURNING created_at, updated_at`
	err := s.db.QueryRow(ctx, query,
		task.ID, task.NovelID, string(task.Type), string(task.Status),
		task.TotalChapters, task.SourceURL, task.IndexHTML,
	).Scan(&task.CreatedAt, &task.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return novel.ImportTask{}, fmt.Errorf("insert task %s: %w", task.ID, novel.ErrDuplicate)
		}
		return novel.ImportTask{}, fmt.Errorf("insert task: %w", err)
	}
	return task, nil
}

// Get returns a task by ID.
func (s *TaskStore) Get(ctx context.Context, id string) (novel.ImportTask, error) {
	query := fmt.Sprintf(`SELECT %s FROM import_tasks WHERE id = $1`, taskColumns)
	task, err := scanTask(s.db.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return novel.ImportTask{}, novel.ErrNotFound
	}
	return task, err
}

// Update applies a partial update. A status change is rejected with
// ErrTerminalStatus when the task is already completed or failed.
func (s *TaskStore) Update(ctx context.Context, id string, upd novel.TaskUpdate) error {
	var sets []string
	var args []any
	if upd.Status != nil {
		args = append(args, string(*upd.Status))
		sets = append(sets, fmt.Sprintf("status = $%d", len(args)))
	}
	if upd.ImportedChapters != nil {
		args = append(args, *upd.ImportedChapters)
		sets = append(sets, fmt.Sprintf("imported_chapters = $%d", len(args)))
	}
	if upd.FailedChapters != nil {
		args = append(args, *upd.FailedChapters)
		sets = append(sets, fmt.Sprintf("failed_chapters = $%d", len(args)))
	}
	if upd.ErrorMessage != nil {
		args = append(args, *upd.ErrorMessage)
		sets = append(sets, fmt.Sprintf("error_message = $%d", len(args)))
	}
	if len(sets) == 0 {
		return nil
	}
	sets = append(sets, "updated_at = now()")
	args = append(args, id)

	query := fmt.Sprintf("UPDATE import_tasks SET %s WHERE id = $%d", strings.Join(sets, ", "), len(args))
	if upd.Status != nil {
		query += " AND status NOT IN ('completed','failed')"
	}
	tag, err := s.db.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update task: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if upd.Status == nil {
			return novel.ErrNotFound
		}
		// distinguish a missing task from a terminal one
		if _, err := s.Get(ctx, id); err != nil {
			return err
		}
		return novel.ErrTerminalStatus
	}
	return nil
}

// ListPending returns up to limit tasks still eligible for processing
// (pending or in_progress), oldest first. limit <= 0 means no limit, same as
// the memory store.
func (s *TaskStore) ListPending(ctx context.Context, limit int) ([]novel.ImportTask, error) {
	if limit <= 0 {
		limit = 0
	}
	query := fmt.Sprintf(`
SELECT %s FROM import_tasks
WHERE status IN ('pending','in_progress')
ORDER BY created_at, id
LIMIT NULLIF($1, 0)`, taskColumns)
	return s.list(ctx, query, limit)
}

// ListAll returns every task, newest first.
func (s *TaskStore) ListAll(ctx context.Context) ([]novel.ImportTask, error) {
	query := fmt.Sprintf(`SELECT %s FROM import_tasks ORDER BY created_at DESC, id DESC`, taskColumns)
	return s.list(ctx, query)
}

// Delete removes a task; queue rows cascade.
func (s *TaskStore) Delete(ctx context.Context, id string) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM import_tasks WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return novel.ErrNotFound
	}
	return nil
}

func (s *TaskStore) list(ctx context.Context, query string, args ...any) ([]novel.ImportTask, error) {
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var out []novel.ImportTask
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, task)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	return out, nil
}

func scanTask(row pgx.Row) (novel.ImportTask, error) {
	var task novel.ImportTask
	var taskType, status string
	err := row.Scan(&task.ID, &task.NovelID, &taskType, &status, &task.TotalChapters,
		&task.ImportedChapters, &task.FailedChapters, &task.ErrorMessage,
		&task.SourceURL, &task.IndexHTML, &task.CreatedAt, &task.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return novel.ImportTask{}, err
		}
		return novel.ImportTask{}, fmt.Errorf("scan task: %w", err)
	}
	task.Type = novel.TaskType(taskType)
	task.Status = novel.TaskStatus(status)
	return task, nil
}
