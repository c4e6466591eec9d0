package postgres

import (
	"context"
	"fmt"
)

// schema mirrors the catalog, the task registry, and the chapter work queue.
// Chapters are unique per (novel_id, chapter_number) so chapter writes are
// idempotent upserts; queue rows are unique per (task_id, chapter_number) so
// enqueue is idempotent too.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS novels (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		author TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		category TEXT NOT NULL DEFAULT '',
		cover TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'serializing',
		source_url TEXT NOT NULL DEFAULT '',
		word_count BIGINT NOT NULL DEFAULT 0,
		chapter_count INTEGER NOT NULL DEFAULT 0,
		latest_chapter TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS chapters (
		id BIGSERIAL PRIMARY KEY,
		novel_id TEXT NOT NULL REFERENCES novels(id) ON DELETE CASCADE,
		chapter_number INTEGER NOT NULL,
		title TEXT NOT NULL DEFAULT '',
		content TEXT NOT NULL DEFAULT '',
		url TEXT NOT NULL DEFAULT '',
		is_vip BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		UNIQUE (novel_id, chapter_number)
	)`,
	`CREATE TABLE IF NOT EXISTS import_tasks (
		id TEXT PRIMARY KEY,
		novel_id TEXT NOT NULL,
		task_type TEXT NOT NULL DEFAULT 'import',
		status TEXT NOT NULL DEFAULT 'pending',
		total_chapters INTEGER NOT NULL DEFAULT 0,
		imported_chapters INTEGER NOT NULL DEFAULT 0,
		failed_chapters INTEGER NOT NULL DEFAULT 0,
		error_message TEXT NOT NULL DEFAULT '',
		source_url TEXT NOT NULL DEFAULT '',
		index_page_html TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS chapter_queue (
		id BIGSERIAL PRIMARY KEY,
		task_id TEXT NOT NULL REFERENCES import_tasks(id) ON DELETE CASCADE,
		novel_id TEXT NOT NULL,
		chapter_number INTEGER NOT NULL,
		title TEXT NOT NULL DEFAULT '',
		url TEXT NOT NULL DEFAULT '',
		is_vip BOOLEAN NOT NULL DEFAULT FALSE,
		status TEXT NOT NULL DEFAULT 'pending',
		error_message TEXT NOT NULL DEFAULT '',
		claimed_at TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		UNIQUE (task_id, chapter_number)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_chapter_queue_claim
		ON chapter_queue (task_id, status, chapter_number)`,
	`CREATE INDEX IF NOT EXISTS idx_import_tasks_status
		ON import_tasks (status, created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_chapters_novel
		ON chapters (novel_id, chapter_number)`,
}

// EnsureSchema creates the tables and indexes if they do not exist.
func EnsureSchema(ctx context.Context, db DB) error {
	for _, stmt := range schema {
		if _, err := db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}
