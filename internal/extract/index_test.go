package extract

import (
	"testing"

	"github.com/stretchr/testify/require"
)

const indexHTML = `<html><body>
<div class="info-main">
	<img src="/covers/42.jpg">
	<h1>Sword of the Night</h1>
	<div class="w100 dispc"><span>Author:Jin He</span></div>
	<div class="info-main-intro"><p>A wandering swordsman returns home.</p></div>
</div>
<div class="container">
	<ul>
		<li><a href="/novel/42/1.html">Chapter 1: Homecoming</a></li>
		<li><a href="/novel/42/2.html">Chapter 2: The Old Inn</a></li>
		<li><a href="">broken entry</a></li>
		<li><a href="/novel/42/3.html">   </a></li>
		<li><a href="https://other.example/novel/42/4.html">Chapter 3: Night Rain</a></li>
	</ul>
</div>
</body></html>`

func newTestParser() *IndexParser {
	return NewIndexParser(IndexConfig{
		ChapterListSelector: "div.container ul a",
		TitleSelector:       "div.info-main h1",
		AuthorSelector:      "div.info-main .w100.dispc span",
		DescSelector:        "div.info-main .info-main-intro p",
		CoverSelector:       "div.info-main img",
	})
}

func TestChaptersNumbersAndResolvesURLs(t *testing.T) {
	t.Parallel()

	p := newTestParser()
	chapters, err := p.Chapters([]byte(indexHTML), "https://source.example/novel/42/")
	require.NoError(t, err)
	require.Len(t, chapters, 3)

	require.Equal(t, 1, chapters[0].Number)
	require.Equal(t, "Chapter 1: Homecoming", chapters[0].Title)
	require.Equal(t, "https://source.example/novel/42/1.html", chapters[0].URL)

	require.Equal(t, 2, chapters[1].Number)
	require.Equal(t, "https://source.example/novel/42/2.html", chapters[1].URL)

	// numbering skips the malformed entries
	require.Equal(t, 3, chapters[2].Number)
	require.Equal(t, "https://other.example/novel/42/4.html", chapters[2].URL)
}

func TestChaptersEmptyPage(t *testing.T) {
	t.Parallel()

	p := newTestParser()
	chapters, err := p.Chapters([]byte("<html><body></body></html>"), "https://source.example/")
	require.NoError(t, err)
	require.Empty(t, chapters)
}

func TestInfoScrapesMetadata(t *testing.T) {
	t.Parallel()

	p := newTestParser()
	info, err := p.Info([]byte(indexHTML), "https://source.example/novel/42/")
	require.NoError(t, err)

	require.Equal(t, "Sword of the Night", info.Title)
	require.Equal(t, "Jin He", info.Author)
	require.Equal(t, "A wandering swordsman returns home.", info.Description)
	require.Equal(t, "https://source.example/covers/42.jpg", info.Cover)
	require.Equal(t, "https://source.example/novel/42/", info.SourceURL)
}

func TestInfoMissingFieldsAreEmpty(t *testing.T) {
	t.Parallel()

	p := newTestParser()
	info, err := p.Info([]byte("<html><body><p>nothing here</p></body></html>"), "https://source.example/")
	require.NoError(t, err)
	require.Empty(t, info.Title)
	require.Empty(t, info.Author)
	require.Empty(t, info.Cover)
}
