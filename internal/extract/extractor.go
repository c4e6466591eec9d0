// Package extract pulls chapter content and index listings out of raw HTML
// using goquery selectors.
package extract

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"novelkeeper/internal/novel"
)

// PlaceholderContent marks a chapter whose page fetched fine but yielded no
// recognizable body. The chapter is stored anyway so the import can finish;
// a later retry pass can replace it.
const PlaceholderContent = "Chapter content could not be extracted. Please visit the source site to read this chapter."

var (
	multiSpace = regexp.MustCompile(`[ \t]{2,}`)
	paraBreak  = regexp.MustCompile(`\s{3,}`)
)

// Config controls content extraction.
type Config struct {
	// ContentSelectors are tried in order; the first whose text clears
	// MinContentChars wins.
	ContentSelectors []string
	// TitleSelectors are tried in order for the chapter title.
	TitleSelectors  []string
	MinContentChars int
	// FallbackMinChars is the floor for the longest-div fallback scan.
	FallbackMinChars int
}

// Extractor implements novel.Extractor on top of goquery.
type Extractor struct {
	cfg Config
}

// New builds an Extractor. Zero thresholds get sensible floors.
func New(cfg Config) *Extractor {
	if len(cfg.ContentSelectors) == 0 {
		cfg.ContentSelectors = []string{".content", ".chapter-content", "#content"}
	}
	if len(cfg.TitleSelectors) == 0 {
		cfg.TitleSelectors = []string{"h1", ".chapter-title", "title"}
	}
	if cfg.MinContentChars <= 0 {
		cfg.MinContentChars = 100
	}
	if cfg.FallbackMinChars <= 0 {
		cfg.FallbackMinChars = 200
	}
	return &Extractor{cfg: cfg}
}

// Chapter extracts the chapter body from html. A structurally empty page is
// not an error: the result carries the placeholder body with Fallback set, so
// callers can decide whether to promote to a headless re-fetch.
func (e *Extractor) Chapter(html []byte) (novel.Extraction, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(string(html)))
	if err != nil {
		return novel.Extraction{}, fmt.Errorf("parse chapter html: %w", err)
	}

	doc.Find("script, style, iframe, .ad, .ads, .advertisement").Remove()

	title := e.chapterTitle(doc)

	for _, sel := range e.cfg.ContentSelectors {
		text := normalizeText(doc.Find(sel).First().Text())
		if len([]rune(text)) >= e.cfg.MinContentChars {
			return extraction(title, text, false), nil
		}
	}

	// No known container matched. Fall back to the longest text-bearing div,
	// which catches sites with one-off markup.
	var best string
	doc.Find("div").Each(func(_ int, s *goquery.Selection) {
		if s.Find("div").Length() > 0 {
			return
		}
		text := normalizeText(s.Text())
		if len(text) > len(best) {
			best = text
		}
	})
	if len([]rune(best)) >= e.cfg.FallbackMinChars {
		return extraction(title, best, false), nil
	}

	return novel.Extraction{
		Title:     title,
		Content:   PlaceholderContent,
		WordCount: 0,
		Fallback:  true,
	}, nil
}

// chapterTitle tries the title selector chain; an empty result means the
// caller falls back to the index listing's title.
func (e *Extractor) chapterTitle(doc *goquery.Document) string {
	for _, sel := range e.cfg.TitleSelectors {
		if title := strings.TrimSpace(doc.Find(sel).First().Text()); title != "" {
			return title
		}
	}
	return ""
}

func extraction(title, text string, fallback bool) novel.Extraction {
	return novel.Extraction{
		Title:   title,
		Content: text,
		// CJK-heavy text has no space-delimited words; half the rune count
		// is the convention the reader UI expects.
		WordCount: int64(len([]rune(text)) / 2),
		Fallback:  fallback,
	}
}

// normalizeText collapses runs of whitespace, turning large gaps into
// paragraph breaks the way the source sites use them.
func normalizeText(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	s = paraBreak.ReplaceAllString(s, "\n\n")
	s = multiSpace.ReplaceAllString(s, " ")
	return s
}
