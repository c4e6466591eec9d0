package importer

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"novelkeeper/internal/extract"
	"novelkeeper/internal/novel"
)

// ChapterExtractor implements novel.Extractor by composing a fetcher, the
// HTML content extractor, and an optional headless fallback. A fetch failure
// is a hard error; a page with no recognizable content is a soft miss that
// yields the placeholder.
type ChapterExtractor struct {
	fetcher  novel.Fetcher
	headless novel.Fetcher
	parser   *extract.Extractor
	archive  novel.ArchiveStore
	referer  string
	logger   *zap.Logger
}

// ChapterExtractorConfig wires the extractor's collaborators. Headless and
// Archive may be nil.
type ChapterExtractorConfig struct {
	Fetcher  novel.Fetcher
	Headless novel.Fetcher
	Parser   *extract.Extractor
	Archive  novel.ArchiveStore
	Referer  string
	Logger   *zap.Logger
}

// NewChapterExtractor builds a ChapterExtractor.
func NewChapterExtractor(cfg ChapterExtractorConfig) *ChapterExtractor {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ChapterExtractor{
		fetcher:  cfg.Fetcher,
		headless: cfg.Headless,
		parser:   cfg.Parser,
		archive:  cfg.Archive,
		referer:  cfg.Referer,
		logger:   logger,
	}
}

// Extract fetches url and pulls the chapter body out of it. When the plain
// fetch yields the placeholder and a headless fetcher is configured, the page
// is re-fetched with a browser before giving up on real content.
func (e *ChapterExtractor) Extract(ctx context.Context, url string) (novel.Extraction, error) {
	resp, err := e.fetcher.Fetch(ctx, novel.FetchRequest{URL: url, Referer: e.referer})
	if err != nil {
		return novel.Extraction{}, fmt.Errorf("fetch chapter: %w", err)
	}
	e.archiveBody(ctx, url, resp.Body)

	ext, err := e.parser.Chapter(resp.Body)
	if err != nil {
		return novel.Extraction{}, err
	}
	if !ext.Fallback || e.headless == nil {
		return ext, nil
	}

	// Soft miss: the markup may be rendered client-side.
	e.logger.Debug("content miss on plain fetch, promoting to headless", zap.String("url", url))
	hresp, err := e.headless.Fetch(ctx, novel.FetchRequest{URL: url, Referer: e.referer})
	if err != nil {
		e.logger.Warn("headless fetch failed, keeping placeholder", zap.String("url", url), zap.Error(err))
		return ext, nil
	}
	e.archiveBody(ctx, url, hresp.Body)

	hext, err := e.parser.Chapter(hresp.Body)
	if err != nil || hext.Fallback {
		return ext, nil
	}
	return hext, nil
}

func (e *ChapterExtractor) archiveBody(ctx context.Context, url string, body []byte) {
	if e.archive == nil || len(body) == 0 {
		return
	}
	path := archivePath(url)
	if _, err := e.archive.Put(ctx, path, "text/html", body); err != nil {
		e.logger.Warn("archiving raw chapter html failed", zap.String("url", url), zap.Error(err))
	}
}
