package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"time"
	"unicode/utf8"

	"FeedPublisher/internal/config"
	"FeedPublisher/internal/domain"
	"FeedPublisher/internal/ports"
	"FeedPublisher/internal/richtext"
)

// PipelineDeps wires all driven adapters into one account's pipeline.
type PipelineDeps struct {
	Account   string
	Source    ports.FeedSource
	Ledger    ports.Ledger
	Enricher  ports.Enricher
	Publisher ports.Publisher
	Oracle    *Oracle
	Bot       config.BotConfig
	Logger    *slog.Logger
}

// Pipeline runs the publish workflow for one account: snapshot recent
// activity, pull candidates, classify, enrich, compose, publish, record.
// Items are handled strictly one at a time; no in-memory state survives a
// restart except what reaches the ledger.
type Pipeline struct {
	account   string
	source    ports.FeedSource
	ledger    ports.Ledger
	enricher  ports.Enricher
	publisher ports.Publisher
	oracle    *Oracle
	cfg       config.BotConfig
	logger    *slog.Logger

	sleep func(time.Duration)
	now   func() time.Time
}

// NewPipeline constructs the orchestration component.
func NewPipeline(deps PipelineDeps) *Pipeline {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		account:   deps.Account,
		source:    deps.Source,
		ledger:    deps.Ledger,
		enricher:  deps.Enricher,
		publisher: deps.Publisher,
		oracle:    deps.Oracle,
		cfg:       deps.Bot,
		logger:    logger,
		sleep:     time.Sleep,
		now:       time.Now,
	}
}

// Run polls the feed at the configured interval until the context is
// cancelled. Cycle errors are logged and do not stop the loop; the un-posted
// items stay eligible for the next cycle.
func (p *Pipeline) Run(ctx context.Context) error {
	for {
		if err := p.RunCycle(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			p.logger.Error("cycle failed", "error", err)
		}

		select {
		case <-time.After(p.cfg.PollInterval()):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// RunCycle executes one pass over the feed.
func (p *Pipeline) RunCycle(ctx context.Context) error {
	// The snapshot is fetched once per cycle, not once per item. A fetch
	// failure degrades to ledger-only dedup for this cycle.
	if p.cfg.DuplicateDetection.CheckRemote {
		posts, err := p.publisher.RecentPosts(ctx, p.cfg.PostsToCheck)
		if err != nil {
			p.logger.Warn("recent activity fetch failed", "error", err)
			posts = nil
		}
		p.oracle.SetSnapshot(posts)
	}

	items, err := p.source.Fetch(ctx)
	if err != nil {
		return fmt.Errorf("fetch feed: %w", err)
	}
	if len(items) == 0 {
		p.logger.Debug("no entries in feed")
		return nil
	}

	published := 0
	for _, item := range items {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if p.oracle.IsDuplicate(ctx, item) {
			p.logger.Debug("skipping already-handled entry", "title", item.Title)
			continue
		}

		// Fixed spacing between successive publishes to respect platform
		// rate limits; never before the first.
		if published > 0 {
			p.sleep(p.cfg.PostSpacing())
		}

		if p.publishItem(ctx, item) {
			published++
		}
	}

	if published > 0 {
		p.logger.Info("cycle complete", "published", published, "candidates", len(items))
	}
	return nil
}

// publishItem drives one item through enrichment, composition, publishing,
// and recording. Returns true only when the remote post was created.
func (p *Pipeline) publishItem(ctx context.Context, item domain.FeedItem) bool {
	enrichment := domain.Enrichment{}
	if p.enricher != nil {
		enrichment = p.enricher.Resolve(ctx, item.Link, item.ImageURL)
	}
	if enrichment.Kind == domain.EnrichmentImage {
		enrichment.Image.Alt = item.Title
	}

	text, facets := richtext.Compose(p.cfg.PostFormat, item.Title, item.Link, p.cfg.CharacterBudget)
	if p.cfg.CharacterBudget > 0 && utf8.RuneCountInString(text) > p.cfg.CharacterBudget {
		// The link plus the template's fixed text alone overflow the
		// budget; the platform would reject this every cycle.
		p.logger.Error("link leaves no room within the character budget, skipping item",
			"title", item.Title, "link", item.Link,
			"length", utf8.RuneCountInString(text), "budget", p.cfg.CharacterBudget)
		return false
	}

	post := domain.Post{
		Text:       text,
		Facets:     facets,
		Enrichment: enrichment,
		CreatedAt:  p.now(),
	}

	result, err := p.publisher.Publish(ctx, post)
	if err != nil && !post.Enrichment.None() {
		p.logger.Warn("enriched publish failed, retrying text-only",
			"title", item.Title, "error", err)
		result, err = p.publisher.Publish(ctx, post.WithoutEnrichment())
	}
	if err != nil {
		p.logger.Error("publish failed", "title", item.Title, "error", err)
		return false
	}

	p.logger.Info("published", "title", item.Title, "uri", result.URI, "url", result.URL)

	if p.ledger != nil {
		rec := domain.PostRecord{
			AccountName: p.account,
			Link:        item.Link,
			Title:       item.Title,
			PublishedAt: item.PublishedAt,
			RemoteURI:   result.URI,
			RemoteURL:   result.URL,
			RecordedAt:  p.now().UTC(),
		}
		if err := p.ledger.Save(ctx, rec); err != nil {
			// The post exists remotely but is unrecorded: the known
			// at-least-once risk. Recent-activity dedup may self-heal it
			// next cycle.
			p.logger.Error("post published but not recorded in ledger",
				"title", item.Title, "uri", result.URI, "error", err)
		}
	}
	return true
}
