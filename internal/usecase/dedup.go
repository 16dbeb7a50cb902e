package usecase

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"FeedPublisher/internal/config"
	"FeedPublisher/internal/domain"
	"FeedPublisher/internal/ports"
)

// Oracle classifies candidate items as new or already handled. It combines
// the durable ledger with a per-cycle snapshot of the account's recent
// remote activity, and back-fills the ledger when the snapshot reveals an
// untracked duplicate.
//
// Lookup failures classify as duplicate: a skipped post is cheaper to
// recover than a double post.
type Oracle struct {
	ledger  ports.Ledger
	account string
	flags   config.DuplicateDetectionConfig

	snapshot []string

	logger *slog.Logger
	now    func() time.Time
}

// NewOracle builds the oracle for one account. A nil ledger disables the
// ledger signals regardless of flags.
func NewOracle(ledger ports.Ledger, account string, flags config.DuplicateDetectionConfig, logger *slog.Logger) *Oracle {
	if logger == nil {
		logger = slog.Default()
	}
	if ledger == nil {
		flags.CheckLedger = false
		flags.AutoBackfill = false
	}
	return &Oracle{
		ledger:  ledger,
		account: account,
		flags:   flags,
		logger:  logger,
		now:     time.Now,
	}
}

// SetSnapshot installs the recent-activity texts for the current cycle. The
// pipeline fetches this once per cycle, never per item, to bound API calls.
func (o *Oracle) SetSnapshot(posts []string) {
	o.snapshot = o.snapshot[:0]
	for _, post := range posts {
		o.snapshot = append(o.snapshot, strings.ToLower(post))
	}
}

// IsDuplicate checks, in order and short-circuiting: the ledger by canonical
// link, the ledger by title (legacy rows recorded before links were
// tracked), then the remote-activity snapshot by case-insensitive substring.
func (o *Oracle) IsDuplicate(ctx context.Context, item domain.FeedItem) bool {
	if o.flags.CheckLedger {
		hit, err := o.ledger.HasLink(ctx, o.account, item.Link)
		if err != nil {
			o.logger.Error("ledger link lookup failed, treating as duplicate",
				"link", item.Link, "error", err)
			return true
		}
		if hit {
			return true
		}

		hit, err = o.ledger.HasTitle(ctx, o.account, item.Title)
		if err != nil {
			o.logger.Error("ledger title lookup failed, treating as duplicate",
				"title", item.Title, "error", err)
			return true
		}
		if hit {
			return true
		}
	}

	if o.flags.CheckRemote && o.matchesSnapshot(item.Title) {
		o.logger.Info("found item in recent remote activity", "title", item.Title)
		if o.flags.AutoBackfill {
			o.backfill(ctx, item)
		}
		return true
	}

	return false
}

func (o *Oracle) matchesSnapshot(title string) bool {
	needle := strings.ToLower(title)
	if needle == "" {
		return false
	}
	for _, post := range o.snapshot {
		if strings.Contains(post, needle) {
			return true
		}
	}
	return false
}

// backfill synthesizes a ledger row for an item the remote account already
// shows, so future cycles resolve it without re-querying remote activity.
// The remote identifiers stay empty: the original publish was never observed
// by this process, and an empty remote_uri marks the row as synthesized.
func (o *Oracle) backfill(ctx context.Context, item domain.FeedItem) {
	link := item.Link
	if link == "" {
		link = item.Title
	}

	rec := domain.PostRecord{
		AccountName: o.account,
		Link:        link,
		Title:       item.Title,
		PublishedAt: item.PublishedAt,
		RecordedAt:  o.now().UTC(),
	}
	if err := o.ledger.Save(ctx, rec); err != nil {
		o.logger.Error("backfill failed", "title", item.Title, "error", err)
		return
	}
	o.logger.Info("backfilled untracked post", "title", item.Title)
}
