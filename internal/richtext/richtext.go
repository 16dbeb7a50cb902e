// Package richtext renders post text from the configured template and
// computes byte-range annotations over the final UTF-8 encoding.
package richtext

import (
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"

	"FeedPublisher/internal/domain"
)

const ellipsis = "…"

var (
	urlExpr     = regexp.MustCompile(`https?://[^\s]+`)
	tagExpr     = regexp.MustCompile(`(?:^|\s)(#[\p{L}\p{N}_]+)`)
	mentionExpr = regexp.MustCompile(`(?:^|\s)(@[A-Za-z0-9][A-Za-z0-9.-]*)`)
)

// Render substitutes {title} and {link} into the template, truncating the
// title (never the link) with an ellipsis when the result would exceed the
// rune budget. The full literal link always survives.
func Render(format, title, link string, budget int) string {
	text := substitute(format, title, link)
	if budget <= 0 || utf8.RuneCountInString(text) <= budget {
		return text
	}

	// Everything except the title is fixed; give the title what is left.
	overhead := utf8.RuneCountInString(text) - utf8.RuneCountInString(title)
	avail := budget - overhead - utf8.RuneCountInString(ellipsis)
	if avail < 0 {
		avail = 0
	}

	runes := []rune(title)
	if avail > len(runes) {
		avail = len(runes)
	}
	truncated := strings.TrimRight(string(runes[:avail]), " ") + ellipsis

	return substitute(format, truncated, link)
}

func substitute(format, title, link string) string {
	text := strings.ReplaceAll(format, "{title}", title)
	return strings.ReplaceAll(text, "{link}", link)
}

// Facets scans the final text for bare URLs, hashtags, and mentions and
// returns their byte-exact ranges in document order. Hashtags and mentions
// inside URLs are not annotated twice.
func Facets(text string) []domain.Facet {
	var facets []domain.Facet

	var urlRanges [][2]int
	for _, loc := range urlExpr.FindAllStringIndex(text, -1) {
		start, end := loc[0], loc[1]
		end = trimTrailingPunct(text, start, end)
		if end <= start {
			continue
		}
		urlRanges = append(urlRanges, [2]int{start, end})
		facets = append(facets, domain.Facet{
			ByteStart: start,
			ByteEnd:   end,
			Kind:      domain.FacetLink,
			Value:     text[start:end],
		})
	}

	for _, loc := range tagExpr.FindAllStringSubmatchIndex(text, -1) {
		start, end := loc[2], loc[3]
		if insideAny(urlRanges, start) {
			continue
		}
		facets = append(facets, domain.Facet{
			ByteStart: start,
			ByteEnd:   end,
			Kind:      domain.FacetTag,
			Value:     strings.TrimPrefix(text[start:end], "#"),
		})
	}

	for _, loc := range mentionExpr.FindAllStringSubmatchIndex(text, -1) {
		start, end := loc[2], loc[3]
		if insideAny(urlRanges, start) {
			continue
		}
		facets = append(facets, domain.Facet{
			ByteStart: start,
			ByteEnd:   end,
			Kind:      domain.FacetMention,
			Value:     strings.TrimPrefix(text[start:end], "@"),
		})
	}

	sort.Slice(facets, func(i, j int) bool {
		return facets[i].ByteStart < facets[j].ByteStart
	})
	return facets
}

// Compose renders the post text and its annotations in one step.
func Compose(format, title, link string, budget int) (string, []domain.Facet) {
	text := Render(format, title, link, budget)
	return text, Facets(text)
}

func trimTrailingPunct(text string, start, end int) int {
	for end > start {
		switch text[end-1] {
		case '.', ',', ';', ':', '!', '?', ')', ']':
			end--
		default:
			return end
		}
	}
	return end
}

func insideAny(ranges [][2]int, pos int) bool {
	for _, r := range ranges {
		if pos >= r[0] && pos < r[1] {
			return true
		}
	}
	return false
}

