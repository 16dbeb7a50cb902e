// Package enrich resolves an optional rich preview for a feed item through
// an ordered fallback chain: link-card metadata first, then a downsized
// page image, then nothing. Every step is individually fail-soft.
package enrich

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"FeedPublisher/internal/config"
	"FeedPublisher/internal/domain"
	"FeedPublisher/internal/ports"
)

const (
	pageFetchLimit = 2 << 20 // HTML beyond 2MB is not worth scraping
	userAgent      = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
)

// Resolver implements ports.Enricher over plain HTTP page scraping.
type Resolver struct {
	cfg    config.EnrichmentConfig
	client *http.Client
	logger *slog.Logger
}

var _ ports.Enricher = (*Resolver)(nil)

// NewResolver wires an HTTP client; a nil client gets a 10s-timeout default.
func NewResolver(cfg config.EnrichmentConfig, client *http.Client, logger *slog.Logger) *Resolver {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{cfg: cfg, client: client, logger: logger}
}

// Resolve walks the fallback chain for the item's link. It never returns an
// error: each failure is logged and degrades to the next step, ending at the
// None variant. A disabled chain short-circuits to None unconditionally.
func (r *Resolver) Resolve(ctx context.Context, link, imageHint string) domain.Enrichment {
	if !r.cfg.Enabled {
		return domain.Enrichment{}
	}

	meta, err := r.scrapePage(ctx, link)
	if err != nil {
		r.logger.Warn("page scrape failed", "url", link, "error", err)
		meta = pageMeta{}
	}

	if meta.title != "" || meta.description != "" {
		card := &domain.LinkCard{
			URL:         link,
			Title:       meta.title,
			Description: meta.description,
		}
		if meta.image != "" {
			// Thumbnail failure does not invalidate the card.
			if img, err := r.fetchImage(ctx, meta.image); err != nil {
				r.logger.Warn("thumbnail fetch failed", "url", meta.image, "error", err)
			} else {
				card.Thumb = img.Data
			}
		}
		return domain.Enrichment{Kind: domain.EnrichmentCard, Card: card}
	}

	candidate := imageHint
	if candidate == "" {
		candidate = meta.image
	}
	if candidate != "" {
		img, err := r.fetchImage(ctx, candidate)
		if err != nil {
			r.logger.Warn("image fetch failed", "url", candidate, "error", err)
		} else {
			return domain.Enrichment{Kind: domain.EnrichmentImage, Image: img}
		}
	}

	return domain.Enrichment{}
}

type pageMeta struct {
	title       string
	description string
	image       string
}

func (r *Resolver) scrapePage(ctx context.Context, pageURL string) (pageMeta, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return pageMeta{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := r.client.Do(req)
	if err != nil {
		return pageMeta{}, fmt.Errorf("fetch page: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return pageMeta{}, fmt.Errorf("page returned %s", resp.Status)
	}

	doc, err := goquery.NewDocumentFromReader(io.LimitReader(resp.Body, pageFetchLimit))
	if err != nil {
		return pageMeta{}, fmt.Errorf("parse page: %w", err)
	}

	meta := pageMeta{
		title:       metaContent(doc, `meta[property="og:title"]`),
		description: metaContent(doc, `meta[property="og:description"]`),
	}
	if meta.title == "" {
		meta.title = strings.TrimSpace(doc.Find("title").First().Text())
	}
	if meta.description == "" {
		meta.description = metaContent(doc, `meta[name="description"]`)
	}
	meta.image = r.pageImage(doc, pageURL)

	return meta, nil
}

// pageImage walks the configured image-source chain in a fixed order,
// returning the first hit resolved against the page URL.
func (r *Resolver) pageImage(doc *goquery.Document, pageURL string) string {
	type source struct {
		enabled  bool
		selector string
		attr     string
	}
	sources := []source{
		{r.cfg.UseOGImage, `meta[property="og:image"]`, "content"},
		{r.cfg.UseTwitterCard, `meta[name="twitter:image"]`, "content"},
		{r.cfg.UseWPPostImage, `img.wp-post-image`, "src"},
		{r.cfg.UseFirstImage, `img`, "src"},
	}

	for _, s := range sources {
		if !s.enabled {
			continue
		}
		if v, ok := doc.Find(s.selector).First().Attr(s.attr); ok && strings.TrimSpace(v) != "" {
			return resolveRef(pageURL, strings.TrimSpace(v))
		}
	}
	return ""
}

func metaContent(doc *goquery.Document, selector string) string {
	v, _ := doc.Find(selector).First().Attr("content")
	return strings.TrimSpace(v)
}

func resolveRef(base, ref string) string {
	baseURL, err := url.Parse(base)
	if err != nil {
		return ref
	}
	refURL, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return baseURL.ResolveReference(refURL).String()
}
