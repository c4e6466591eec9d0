package extract

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"novelkeeper/internal/novel"
)

// IndexConfig controls how a novel's index page is read.
type IndexConfig struct {
	ChapterListSelector string
	TitleSelector       string
	AuthorSelector      string
	DescSelector        string
	CoverSelector       string
}

// IndexParser reads novel metadata and the chapter listing off an index page.
type IndexParser struct {
	cfg IndexConfig
}

// NewIndexParser builds an IndexParser.
func NewIndexParser(cfg IndexConfig) *IndexParser {
	if cfg.ChapterListSelector == "" {
		cfg.ChapterListSelector = "div.container ul a"
	}
	return &IndexParser{cfg: cfg}
}

// Chapters returns the chapter listing in page order with 1-based numbers.
// Relative hrefs are resolved against pageURL. Anchors without an href or
// with an empty title are skipped; numbering follows the kept entries.
func (p *IndexParser) Chapters(html []byte, pageURL string) ([]novel.IndexChapter, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(string(html)))
	if err != nil {
		return nil, fmt.Errorf("parse index html: %w", err)
	}

	base, err := url.Parse(pageURL)
	if err != nil {
		return nil, fmt.Errorf("parse index url: %w", err)
	}

	var chapters []novel.IndexChapter
	doc.Find(p.cfg.ChapterListSelector).Each(func(_ int, s *goquery.Selection) {
		href, ok := s.Attr("href")
		if !ok || href == "" {
			return
		}
		title := strings.TrimSpace(s.Text())
		if title == "" {
			return
		}
		ref, err := url.Parse(href)
		if err != nil {
			return
		}
		chapters = append(chapters, novel.IndexChapter{
			Number: len(chapters) + 1,
			Title:  title,
			URL:    base.ResolveReference(ref).String(),
		})
	})
	return chapters, nil
}

// Info scrapes novel metadata from the index page. Missing fields come back
// empty rather than failing the whole scrape.
func (p *IndexParser) Info(html []byte, pageURL string) (novel.NovelInfo, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(string(html)))
	if err != nil {
		return novel.NovelInfo{}, fmt.Errorf("parse index html: %w", err)
	}

	info := novel.NovelInfo{
		Title:       strings.TrimSpace(doc.Find(p.cfg.TitleSelector).First().Text()),
		Author:      strings.TrimSpace(doc.Find(p.cfg.AuthorSelector).First().Text()),
		Description: strings.TrimSpace(doc.Find(p.cfg.DescSelector).First().Text()),
		SourceURL:   pageURL,
	}
	info.Author = strings.TrimSpace(strings.TrimPrefix(info.Author, "Author:"))

	if cover, ok := doc.Find(p.cfg.CoverSelector).First().Attr("src"); ok {
		if base, err := url.Parse(pageURL); err == nil {
			if ref, err := url.Parse(cover); err == nil {
				info.Cover = base.ResolveReference(ref).String()
			}
		}
	}
	return info, nil
}
