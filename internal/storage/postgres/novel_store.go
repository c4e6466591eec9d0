package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"novelkeeper/internal/novel"
)

// NovelStore persists novels in Postgres.
type NovelStore struct {
	db DB
}

// NewNovelStore constructs a NovelStore over the given pool.
func NewNovelStore(db DB) *NovelStore {
	return &NovelStore{db: db}
}

const novelColumns = `id, title, author, description, category, cover, status,
	source_url, word_count, chapter_count, latest_chapter, created_at, updated_at`

// Create inserts a novel row.
func (s *NovelStore) Create(ctx context.Context, n novel.Novel) (novel.Novel, error) {
	query := `
INSERT INTO novels (id, title, author, description, category, cover, status,
	source_url, word_count, chapter_count, latest_chapter)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
RETURNING created_at, updated_at`
	err := s.db.QueryRow(ctx, query,
		n.ID, n.Title, n.Author, n.Description, n.Category, n.Cover, string(n.Status),
		n.SourceURL, n.WordCount, n.ChapterCount, n.LatestChapter,
	).Scan(&n.CreatedAt, &n.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return novel.Novel{}, fmt.Errorf("insert novel %s: %w", n.ID, novel.ErrDuplicate)
		}
		return novel.Novel{}, fmt.Errorf("insert novel: %w", err)
	}
	return n, nil
}

// Get returns a novel by ID.
func (s *NovelStore) Get(ctx context.Context, id string) (novel.Novel, error) {
	query := fmt.Sprintf(`SELECT %s FROM novels WHERE id = $1`, novelColumns)
	return s.scanOne(s.db.QueryRow(ctx, query, id))
}

// FindByTitleAuthor performs the dedup lookup.
func (s *NovelStore) FindByTitleAuthor(ctx context.Context, title, author string) (novel.Novel, error) {
	query := fmt.Sprintf(`SELECT %s FROM novels WHERE title = $1 AND author = $2 LIMIT 1`, novelColumns)
	return s.scanOne(s.db.QueryRow(ctx, query, title, author))
}

// novelFields whitelists updatable columns.
var novelFields = map[string]string{
	"title":          "title",
	"author":         "author",
	"description":    "description",
	"category":       "category",
	"cover":          "cover",
	"status":         "status",
	"word_count":     "word_count",
	"chapter_count":  "chapter_count",
	"latest_chapter": "latest_chapter",
}

// Update applies partial field updates.
func (s *NovelStore) Update(ctx context.Context, id string, fields map[string]any) error {
	if len(fields) == 0 {
		return nil
	}
	sets := make([]string, 0, len(fields)+1)
	args := make([]any, 0, len(fields)+1)
	for key, value := range fields {
		column, ok := novelFields[key]
		if !ok {
			return fmt.Errorf("unknown novel field %q", key)
		}
		if sv, ok := value.(novel.NovelStatus); ok {
			value = string(sv)
		}
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	sets = append(sets, "updated_at = now()")
	args = append(args, id)

	query := fmt.Sprintf("UPDATE novels SET %s WHERE id = $%d", strings.Join(sets, ", "), len(args))
	tag, err := s.db.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update novel: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return novel.ErrNotFound
	}
	return nil
}

// ListAll returns all novels ordered by creation time.
func (s *NovelStore) ListAll(ctx context.Context) ([]novel.Novel, error) {
	query := fmt.Sprintf(`SELECT %s FROM novels ORDER BY created_at, id`, novelColumns)
	rows, err := s.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list novels: %w", err)
	}
	defer rows.Close()

	var out []novel.Novel
	for rows.Next() {
		n, err := scanNovel(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list novels: %w", err)
	}
	return out, nil
}

func (s *NovelStore) scanOne(row pgx.Row) (novel.Novel, error) {
	n, err := scanNovel(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return novel.Novel{}, novel.ErrNotFound
	}
	return n, err
}

func scanNovel(row pgx.Row) (novel.Novel, error) {
	var n novel.Novel
	var status string
	err := row.Scan(&n.ID, &n.Title, &n.Author, &n.Description, &n.Category, &n.Cover,
		&status, &n.SourceURL, &n.WordCount, &n.ChapterCount, &n.LatestChapter,
		&n.CreatedAt, &n.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return novel.Novel{}, err
		}
		return novel.Novel{}, fmt.Errorf("scan novel: %w", err)
	}
	n.Status = novel.NovelStatus(status)
	return n, nil
}
