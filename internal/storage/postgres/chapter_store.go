package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"novelkeeper/internal/novel"
)

// ChapterStore persists chapters in Postgres.
type ChapterStore struct {
	db DB
}

// NewChapterStore constructs a ChapterStore over the given pool.
func NewChapterStore(db DB) *ChapterStore {
	return &ChapterStore{db: db}
}

// Put upserts a chapter on (novel_id, chapter_number).
func (s *ChapterStore) Put(ctx context.Context, ch novel.Chapter) error {
	query := `
INSERT INTO chapters (novel_id, chapter_number, title, content, url, is_vip)
VALUES ($1,$2,$3,$4,$5,$6)
ON CONFLICT (novel_id, chapter_number) DO UPDATE SET
	title = EXCLUDED.title,
	content = EXCLUDED.content,
	url = EXCLUDED.url,
	is_vip = EXCLUDED.is_vip,
	updated_at = now()`
	if _, err := s.db.Exec(ctx, query, ch.NovelID, ch.Number, ch.Title, ch.Content, ch.URL, ch.IsVIP); err != nil {
		return fmt.Errorf("upsert chapter: %w", err)
	}
	return nil
}

const chapterColumns = `id, novel_id, chapter_number, title, content, url, is_vip, created_at, updated_at`

// Get returns one chapter.
func (s *ChapterStore) Get(ctx context.Context, novelID string, number int) (novel.Chapter, error) {
	query := fmt.Sprintf(`SELECT %s FROM chapters WHERE novel_id = $1 AND chapter_number = $2`, chapterColumns)
	ch, err := scanChapter(s.db.QueryRow(ctx, query, novelID, number))
	if errors.Is(err, pgx.ErrNoRows) {
		return novel.Chapter{}, novel.ErrNotFound
	}
	return ch, err
}

// List returns a novel's chapters ordered by number.
func (s *ChapterStore) List(ctx context.Context, novelID string) ([]novel.Chapter, error) {
	query := fmt.Sprintf(`SELECT %s FROM chapters WHERE novel_id = $1 ORDER BY chapter_number`, chapterColumns)
	rows, err := s.db.Query(ctx, query, novelID)
	if err != nil {
		return nil, fmt.Errorf("list chapters: %w", err)
	}
	defer rows.Close()

	var out []novel.Chapter
	for rows.Next() {
		ch, err := scanChapter(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ch)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list chapters: %w", err)
	}
	return out, nil
}

// ListNumbers returns the set of stored chapter numbers for a novel.
func (s *ChapterStore) ListNumbers(ctx context.Context, novelID string) (map[int]bool, error) {
	rows, err := s.db.Query(ctx, `SELECT chapter_number FROM chapters WHERE novel_id = $1`, novelID)
	if err != nil {
		return nil, fmt.Errorf("list chapter numbers: %w", err)
	}
	defer rows.Close()

	numbers := make(map[int]bool)
	for rows.Next() {
		var n int
		if err := rows.Scan(&n); err != nil {
			return nil, fmt.Errorf("scan chapter number: %w", err)
		}
		numbers[n] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list chapter numbers: %w", err)
	}
	return numbers, nil
}

func scanChapter(row pgx.Row) (novel.Chapter, error) {
	var ch novel.Chapter
	err := row.Scan(&ch.ID, &ch.NovelID, &ch.Number, &ch.Title, &ch.Content, &ch.URL,
		&ch.IsVIP, &ch.CreatedAt, &ch.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return novel.Chapter{}, err
		}
		return novel.Chapter{}, fmt.Errorf("scan chapter: %w", err)
	}
	return ch, nil
}
