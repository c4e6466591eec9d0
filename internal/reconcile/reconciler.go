// Package reconcile rebuilds a resumable work list for a novel by comparing
// the freshly scraped chapter index against what is already stored.
package reconcile

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"novelkeeper/internal/novel"
)

// Reconciler classifies scraped index entries as already imported, pending
// re-import, or newly published. Classification is positional: an entry at a
// position within the previously known chapter count is assumed to be the
// same chapter as before.
type Reconciler struct {
	chapters novel.ChapterStore
	logger   *zap.Logger
}

// New builds a Reconciler backed by the given chapter store.
func New(chapters novel.ChapterStore, logger *zap.Logger) *Reconciler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{chapters: chapters, logger: logger}
}

// Reconcile splits scraped into imported/pending/new relative to the stored
// chapters of novelID. previousCount is the chapter count recorded when the
// novel was last imported; entries beyond it are treated as newly published.
//
// If the stored chapter numbers cannot be listed, every scraped entry falls
// back to pending. Re-importing an existing chapter is an idempotent upsert,
// so the degraded answer is safe, just slower.
func (r *Reconciler) Reconcile(ctx context.Context, novelID string, previousCount int, scraped []novel.IndexChapter) novel.ReconcileResult {
	res := novel.ReconcileResult{TotalChapters: len(scraped)}

	imported, err := r.chapters.ListNumbers(ctx, novelID)
	if err != nil {
		r.logger.Warn("listing stored chapters failed, treating every scraped chapter as pending",
			zap.String("novel_id", novelID),
			zap.Error(err),
		)
		res.Pending = append(res.Pending, scraped...)
		res.Message = fmt.Sprintf("0 imported, %d pending, 0 new", len(res.Pending))
		return res
	}

	for _, ch := range scraped {
		switch {
		case imported[ch.Number]:
			// already stored; never re-queued, whatever its position
			res.ImportedCount++
		case ch.Number > previousCount:
			res.New = append(res.New, ch)
		default:
			res.Pending = append(res.Pending, ch)
		}
	}
	res.Message = fmt.Sprintf("%d imported, %d pending, %d new", res.ImportedCount, len(res.Pending), len(res.New))

	r.logger.Info("reconciled chapter index",
		zap.String("novel_id", novelID),
		zap.Int("scraped", len(scraped)),
		zap.Int("imported", res.ImportedCount),
		zap.Int("pending", len(res.Pending)),
		zap.Int("new", len(res.New)),
	)
	return res
}
