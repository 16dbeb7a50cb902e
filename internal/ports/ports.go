package ports

import (
	"context"

	"FeedPublisher/internal/domain"
)

// FeedSource pulls candidate items from one account's feed, already filtered
// by minimum publish date, ordered oldest first, and capped per cycle.
type FeedSource interface {
	Fetch(ctx context.Context) ([]domain.FeedItem, error)
}

// Ledger is the durable dedup record of published items, partitioned by
// account. Save is all-or-nothing and must tolerate replays (a conflict on
// the primary key is not an error).
type Ledger interface {
	HasLink(ctx context.Context, account, link string) (bool, error)
	HasTitle(ctx context.Context, account, title string) (bool, error)
	Save(ctx context.Context, rec domain.PostRecord) error
}

// Enricher resolves an optional rich preview for an item. Implementations
// are fail-soft: network and decode failures degrade to the next fallback
// and never surface as errors.
type Enricher interface {
	Resolve(ctx context.Context, link, imageHint string) domain.Enrichment
}

// Publisher is the authenticated remote-platform capability handed to the
// pipeline. The pipeline never sees credentials; session churn is handled
// behind this interface.
type Publisher interface {
	// RecentPosts returns the first text line of up to limit recent posts
	// visible on the account, for secondary duplicate detection.
	RecentPosts(ctx context.Context, limit int) ([]string, error)
	// Publish creates a post and returns its durable identifier and a
	// best-effort human-readable permalink.
	Publish(ctx context.Context, post domain.Post) (domain.PublishResult, error)
}
