package richtext

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"FeedPublisher/internal/domain"
)

const format = "{title}\n\nRead more: {link}"

func TestRenderWithinBudgetUntouched(t *testing.T) {
	t.Parallel()

	text := Render(format, "Short title", "https://example.org/a", 300)
	assert.Equal(t, "Short title\n\nRead more: https://example.org/a", text)
}

func TestRenderTruncatesTitleNotLink(t *testing.T) {
	t.Parallel()

	title := strings.Repeat("very long title ", 40)
	link := "https://example.org/articles/2025/extremely-specific-slug"

	text := Render(format, title, link, 300)

	assert.LessOrEqual(t, utf8.RuneCountInString(text), 300)
	assert.Contains(t, text, link, "the full literal link must survive truncation")
	assert.Contains(t, text, "…")
}

func TestRenderBudgetCountsRunes(t *testing.T) {
	t.Parallel()

	title := strings.Repeat("é", 400)
	text := Render(format, title, "https://example.org/a", 300)

	assert.LessOrEqual(t, utf8.RuneCountInString(text), 300)
	assert.Contains(t, text, "https://example.org/a")
}

func TestRenderKeepsLinkEvenWhenBudgetUnsatisfiable(t *testing.T) {
	t.Parallel()

	// The link is never truncated, so a link longer than the budget
	// overflows; callers detect and skip such items.
	link := "https://example.org/" + strings.Repeat("x", 400)
	text := Render(format, "short", link, 300)

	assert.Contains(t, text, link)
	assert.Greater(t, utf8.RuneCountInString(text), 300)
}

func TestFacetOffsetsAreBytes(t *testing.T) {
	t.Parallel()

	// The 2-byte é shifts every later offset by one byte relative to the
	// rune index.
	facets := Facets("café #news")

	require.Len(t, facets, 1)
	assert.Equal(t, domain.FacetTag, facets[0].Kind)
	assert.Equal(t, 6, facets[0].ByteStart)
	assert.Equal(t, 11, facets[0].ByteEnd)
	assert.Equal(t, "news", facets[0].Value)
}

func TestFacetsDetectsLinksTagsMentions(t *testing.T) {
	t.Parallel()

	text := "café #news by @alice.bsky.social https://example.org/a"
	facets := Facets(text)

	require.Len(t, facets, 3)

	assert.Equal(t, domain.FacetTag, facets[0].Kind)
	assert.Equal(t, "news", facets[0].Value)

	assert.Equal(t, domain.FacetMention, facets[1].Kind)
	assert.Equal(t, "alice.bsky.social", facets[1].Value)

	assert.Equal(t, domain.FacetLink, facets[2].Kind)
	assert.Equal(t, "https://example.org/a", facets[2].Value)
	assert.Equal(t, text[facets[2].ByteStart:facets[2].ByteEnd], facets[2].Value)
}

func TestFacetsSkipsTagInsideURL(t *testing.T) {
	t.Parallel()

	facets := Facets("https://example.org/page#section")

	require.Len(t, facets, 1)
	assert.Equal(t, domain.FacetLink, facets[0].Kind)
}

func TestFacetsTrimsTrailingPunctuation(t *testing.T) {
	t.Parallel()

	facets := Facets("see https://example.org/a.")

	require.Len(t, facets, 1)
	assert.Equal(t, "https://example.org/a", facets[0].Value)
}

func TestComposeDefaultFormat(t *testing.T) {
	t.Parallel()

	text, facets := Compose(format, "A title", "https://example.org/a", 300)

	assert.Equal(t, "A title\n\nRead more: https://example.org/a", text)
	require.Len(t, facets, 1)
	assert.Equal(t, domain.FacetLink, facets[0].Kind)
	assert.Equal(t, "https://example.org/a", text[facets[0].ByteStart:facets[0].ByteEnd])
}
