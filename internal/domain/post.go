package domain

import "time"

// FeedItem is one candidate entry pulled from an account's feed during a
// polling cycle. Items are ephemeral; only PostRecord is persisted.
type FeedItem struct {
	Title       string
	Link        string
	PublishedAt time.Time
	ImageURL    string
}

// PostRecord is a ledger row marking an item as published for an account.
// Rows are append-only: written once after a successful publish (or by the
// dedup backfill) and never updated or deleted.
type PostRecord struct {
	ID          int64
	AccountName string
	Link        string
	Title       string
	PublishedAt time.Time
	// RemoteURI and RemoteURL are empty on rows synthesized by the
	// secondary-duplicate backfill, where the original publish call was
	// never observed by this process.
	RemoteURI  string
	RemoteURL  string
	RecordedAt time.Time
}

// EnrichmentKind tags the variant carried by an Enrichment.
type EnrichmentKind int

const (
	EnrichmentNone EnrichmentKind = iota
	EnrichmentCard
	EnrichmentImage
)

// Enrichment is an optional rich preview resolved for one publish attempt.
type Enrichment struct {
	Kind  EnrichmentKind
	Card  *LinkCard
	Image *EmbedImage
}

// None reports whether no enrichment was resolved.
func (e Enrichment) None() bool {
	return e.Kind == EnrichmentNone
}

// LinkCard is structured link-preview metadata scraped from the target page.
// Thumb may be empty; a card without a thumbnail is still a valid card.
type LinkCard struct {
	URL         string
	Title       string
	Description string
	Thumb       []byte
}

// EmbedImage is a downloaded, resized, re-encoded image ready for upload.
type EmbedImage struct {
	Data   []byte
	Width  int
	Height int
	Alt    string
}

// FacetKind enumerates rich-text annotation kinds.
type FacetKind string

const (
	FacetLink    FacetKind = "link"
	FacetTag     FacetKind = "tag"
	FacetMention FacetKind = "mention"
)

// Facet is a byte-range annotation over the UTF-8 encoding of post text.
// Offsets are byte-exact, not rune-exact: downstream consumers index by byte.
type Facet struct {
	ByteStart int
	ByteEnd   int
	Kind      FacetKind
	Value     string
}

// Post is the fully composed payload handed to the publisher.
type Post struct {
	Text       string
	Facets     []Facet
	Enrichment Enrichment
	CreatedAt  time.Time
}

// WithoutEnrichment returns a copy of the post stripped to text and facets,
// used for the one text-only retry after an enriched publish failure.
func (p Post) WithoutEnrichment() Post {
	p.Enrichment = Enrichment{}
	return p
}

// PublishResult identifies a post created on the remote platform.
type PublishResult struct {
	URI string
	URL string
}
