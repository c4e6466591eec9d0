package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"novelkeeper/internal/novel"
)

// TaskStore keeps import tasks in a map keyed by ID.
type TaskStore struct {
	mu    sync.RWMutex
	tasks map[string]novel.ImportTask
}

// NewTaskStore constructs a TaskStore.
func NewTaskStore() *TaskStore {
	return &TaskStore{tasks: make(map[string]novel.ImportTask)}
}

// Create stores a new task.
func (s *TaskStore) Create(_ context.Context, task novel.ImportTask) (novel.ImportTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.tasks[task.ID]; exists {
		return novel.ImportTask{}, fmt.Errorf("task %s: %w", task.ID, novel.ErrDuplicate)
	}
	now := time.Now().UTC()
	task.CreatedAt = now
	task.UpdatedAt = now
	if task.Status == "" {
		task.Status = novel.TaskPending
	}
	s.tasks[task.ID] = task
	return task, nil
}

// Get returns a task by ID.
func (s *TaskStore) Get(_ context.Context, id string) (novel.ImportTask, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	task, ok := s.tasks[id]
	if !ok {
		return novel.ImportTask{}, novel.ErrNotFound
	}
	return task, nil
}

// Update applies a partial update. Completed and failed are terminal: a task
// in either state rejects further status changes.
func (s *TaskStore) Update(_ context.Context, id string, upd novel.TaskUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	task, ok := s.tasks[id]
	if !ok {
		return novel.ErrNotFound
	}
	if upd.Status != nil {
		if task.Status == novel.TaskCompleted || task.Status == novel.TaskFailed {
			return novel.ErrTerminalStatus
		}
		task.Status = *upd.Status
	}
	if upd.ImportedChapters != nil {
		task.ImportedChapters = *upd.ImportedChapters
	}
	if upd.FailedChapters != nil {
		task.FailedChapters = *upd.FailedChapters
	}
	if upd.ErrorMessage != nil {
		task.ErrorMessage = *upd.ErrorMessage
	}
	task.UpdatedAt = time.Now().UTC()
	s.tasks[id] = task
	return nil
}

// ListPending returns up to limit tasks still eligible for processing
// (pending or in_progress), oldest first.
func (s *TaskStore) ListPending(_ context.Context, limit int) ([]novel.ImportTask, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []novel.ImportTask
	for _, task := range s.tasks {
		if task.Status == novel.TaskPending || task.Status == novel.TaskInProgress {
			out = append(out, task)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ListAll returns every task, newest first.
func (s *TaskStore) ListAll(_ context.Context) ([]novel.ImportTask, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]novel.ImportTask, 0, len(s.tasks))
	for _, task := range s.tasks {
		out = append(out, task)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// Delete removes a task.
func (s *TaskStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tasks[id]; !ok {
		return novel.ErrNotFound
	}
	delete(s.tasks, id)
	return nil
}
