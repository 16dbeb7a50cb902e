// Package feed pulls candidate items from one account's RSS or Atom feed.
package feed

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"

	"FeedPublisher/internal/domain"
	"FeedPublisher/internal/ports"
)

// Source implements ports.FeedSource over a single feed URL. Entries older
// than minDate are dropped, survivors are ordered oldest first, and at most
// maxItems are returned per cycle to avoid backfill storms.
type Source struct {
	feedURL  string
	minDate  time.Time
	maxItems int
	parser   *gofeed.Parser
	logger   *slog.Logger
}

var _ ports.FeedSource = (*Source)(nil)

// NewSource wires a gofeed parser; a nil client gets a 20s-timeout default.
func NewSource(feedURL string, minDate time.Time, maxItems int, client *http.Client, logger *slog.Logger) *Source {
	if client == nil {
		client = &http.Client{Timeout: 20 * time.Second}
	}
	if logger == nil {
		logger = slog.Default()
	}

	parser := gofeed.NewParser()
	parser.Client = client
	parser.UserAgent = "FeedPublisher/1.0"

	return &Source{
		feedURL:  feedURL,
		minDate:  minDate,
		maxItems: maxItems,
		parser:   parser,
		logger:   logger,
	}
}

// Fetch parses the feed and returns eligible candidate items.
func (s *Source) Fetch(ctx context.Context) ([]domain.FeedItem, error) {
	parsed, err := s.parser.ParseURLWithContext(s.feedURL, ctx)
	if err != nil {
		return nil, fmt.Errorf("parse feed %s: %w", s.feedURL, err)
	}

	items := make([]domain.FeedItem, 0, len(parsed.Items))
	for _, entry := range parsed.Items {
		published := entryTime(entry)
		if published == nil {
			s.logger.Debug("skipping undated entry", "title", entry.Title)
			continue
		}
		if published.Before(s.minDate) {
			continue
		}
		if entry.Link == "" || strings.TrimSpace(entry.Title) == "" {
			continue
		}

		items = append(items, domain.FeedItem{
			Title:       strings.TrimSpace(entry.Title),
			Link:        entry.Link,
			PublishedAt: *published,
			ImageURL:    entryImage(entry),
		})
	}

	sort.Slice(items, func(i, j int) bool {
		return items[i].PublishedAt.Before(items[j].PublishedAt)
	})

	if s.maxItems > 0 && len(items) > s.maxItems {
		items = items[:s.maxItems]
	}

	s.logger.Debug("feed fetched",
		"url", s.feedURL, "entries", len(parsed.Items), "eligible", len(items))
	return items, nil
}

func entryTime(entry *gofeed.Item) *time.Time {
	if entry.PublishedParsed != nil {
		return entry.PublishedParsed
	}
	return entry.UpdatedParsed
}

// entryImage extracts an embedded image hint: the feed-declared image first,
// then the first image enclosure.
func entryImage(entry *gofeed.Item) string {
	if entry.Image != nil && entry.Image.URL != "" {
		return entry.Image.URL
	}
	for _, enc := range entry.Enclosures {
		if strings.HasPrefix(enc.Type, "image/") && enc.URL != "" {
			return enc.URL
		}
	}
	return ""
}
