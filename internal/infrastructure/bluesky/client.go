// Package bluesky adapts the remote platform's XRPC HTTP API: session
// creation, recent-activity queries, blob uploads, and post creation.
package bluesky

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"FeedPublisher/internal/domain"
)

// APIError is a decoded non-2xx XRPC response. Responses are modeled as
// explicit typed fields; nothing is probed at runtime.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("platform error %d %s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("platform error %d %s", e.StatusCode, e.Code)
}

// RateLimited reports whether the error is retryable with backoff.
func (e *APIError) RateLimited() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.Code == "RateLimitExceeded"
}

// ExpiredToken reports whether the session must be re-established.
func (e *APIError) ExpiredToken() bool {
	return e.StatusCode == http.StatusUnauthorized || e.Code == "ExpiredToken"
}

// Client is a thin typed client for one PDS endpoint. It holds the session
// tokens after CreateSession; credential handling lives in SessionManager.
type Client struct {
	baseURL string
	http    *http.Client
	logger  *slog.Logger

	accessJWT string
	did       string
	handle    string
}

// NewClient wires an HTTP client; a nil client gets a 30s-timeout default.
func NewClient(baseURL string, client *http.Client, logger *slog.Logger) *Client {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		http:    client,
		logger:  logger,
	}
}

// Authenticated reports whether a session has been established.
func (c *Client) Authenticated() bool {
	return c.accessJWT != ""
}

// DID returns the authenticated identity, empty before login.
func (c *Client) DID() string {
	return c.did
}

// CreateSession authenticates with the PDS and stores the session tokens.
func (c *Client) CreateSession(ctx context.Context, identifier, password string) error {
	body := map[string]string{"identifier": identifier, "password": password}

	var out struct {
		DID       string `json:"did"`
		Handle    string `json:"handle"`
		AccessJWT string `json:"accessJwt"`
	}
	if err := c.postJSON(ctx, "com.atproto.server.createSession", body, &out); err != nil {
		return err
	}

	c.accessJWT = out.AccessJWT
	c.did = out.DID
	c.handle = out.Handle
	return nil
}

// RecentPostTexts returns the first line of up to limit recent post texts on
// the authenticated account's feed.
func (c *Client) RecentPostTexts(ctx context.Context, limit int) ([]string, error) {
	query := url.Values{}
	query.Set("actor", c.did)
	query.Set("limit", fmt.Sprintf("%d", limit))

	var out struct {
		Feed []struct {
			Post struct {
				Record struct {
					Text string `json:"text"`
				} `json:"record"`
			} `json:"post"`
		} `json:"feed"`
	}
	if err := c.get(ctx, "app.bsky.feed.getAuthorFeed", query, &out); err != nil {
		return nil, err
	}

	texts := make([]string, 0, len(out.Feed))
	for _, entry := range out.Feed {
		if entry.Post.Record.Text == "" {
			continue
		}
		firstLine, _, _ := strings.Cut(entry.Post.Record.Text, "\n")
		texts = append(texts, firstLine)
	}
	return texts, nil
}

// UploadBlob stores raw bytes on the PDS and returns the blob reference to
// embed in a record.
func (c *Client) UploadBlob(ctx context.Context, data []byte, mimeType string) (json.RawMessage, error) {
	endpoint := c.baseURL + "/xrpc/com.atproto.repo.uploadBlob"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", mimeType)
	c.authorize(req)

	var out struct {
		Blob json.RawMessage `json:"blob"`
	}
	if err := c.do(req, &out); err != nil {
		return nil, err
	}
	return out.Blob, nil
}

// CreatePost creates an app.bsky.feed.post record carrying the composed
// text, facets, and enrichment, then derives a human-readable permalink.
// Handle resolution for the permalink is best-effort; the raw DID is
// embedded when it fails.
func (c *Client) CreatePost(ctx context.Context, post domain.Post) (domain.PublishResult, error) {
	record, err := c.buildRecord(ctx, post)
	if err != nil {
		return domain.PublishResult{}, err
	}

	body := map[string]any{
		"repo":       c.did,
		"collection": "app.bsky.feed.post",
		"record":     record,
	}

	var out struct {
		URI string `json:"uri"`
		CID string `json:"cid"`
	}
	if err := c.postJSON(ctx, "com.atproto.repo.createRecord", body, &out); err != nil {
		return domain.PublishResult{}, err
	}

	return domain.PublishResult{
		URI: out.URI,
		URL: c.permalink(ctx, out.URI),
	}, nil
}

// GetProfileHandle resolves an identity to its public handle.
func (c *Client) GetProfileHandle(ctx context.Context, actor string) (string, error) {
	query := url.Values{}
	query.Set("actor", actor)

	var out struct {
		Handle string `json:"handle"`
	}
	if err := c.get(ctx, "app.bsky.actor.getProfile", query, &out); err != nil {
		return "", err
	}
	return out.Handle, nil
}

// ResolveHandle resolves a handle to its DID.
func (c *Client) ResolveHandle(ctx context.Context, handle string) (string, error) {
	query := url.Values{}
	query.Set("handle", handle)

	var out struct {
		DID string `json:"did"`
	}
	if err := c.get(ctx, "com.atproto.identity.resolveHandle", query, &out); err != nil {
		return "", err
	}
	return out.DID, nil
}

func (c *Client) buildRecord(ctx context.Context, post domain.Post) (map[string]any, error) {
	createdAt := post.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	record := map[string]any{
		"$type":     "app.bsky.feed.post",
		"text":      post.Text,
		"createdAt": createdAt.UTC().Format(time.RFC3339),
	}

	if facets := c.buildFacets(ctx, post.Facets); len(facets) > 0 {
		record["facets"] = facets
	}

	switch post.Enrichment.Kind {
	case domain.EnrichmentCard:
		card := post.Enrichment.Card
		external := map[string]any{
			"uri":         card.URL,
			"title":       card.Title,
			"description": card.Description,
		}
		if len(card.Thumb) > 0 {
			// A failed thumbnail upload degrades to a bare card.
			if blob, err := c.UploadBlob(ctx, card.Thumb, "image/jpeg"); err != nil {
				c.logger.Warn("thumbnail upload failed", "error", err)
			} else {
				external["thumb"] = blob
			}
		}
		record["embed"] = map[string]any{
			"$type":    "app.bsky.embed.external",
			"external": external,
		}

	case domain.EnrichmentImage:
		img := post.Enrichment.Image
		blob, err := c.UploadBlob(ctx, img.Data, "image/jpeg")
		if err != nil {
			return nil, fmt.Errorf("upload image: %w", err)
		}
		record["embed"] = map[string]any{
			"$type": "app.bsky.embed.images",
			"images": []map[string]any{{
				"alt":   img.Alt,
				"image": blob,
				"aspectRatio": map[string]int{
					"width":  img.Width,
					"height": img.Height,
				},
			}},
		}
	}

	return record, nil
}

func (c *Client) buildFacets(ctx context.Context, facets []domain.Facet) []map[string]any {
	out := make([]map[string]any, 0, len(facets))
	for _, f := range facets {
		var feature map[string]any
		switch f.Kind {
		case domain.FacetLink:
			feature = map[string]any{
				"$type": "app.bsky.richtext.facet#link",
				"uri":   f.Value,
			}
		case domain.FacetTag:
			feature = map[string]any{
				"$type": "app.bsky.richtext.facet#tag",
				"tag":   f.Value,
			}
		case domain.FacetMention:
			// The lexicon types this field as a DID; a bare handle is
			// rejected server-side, which would fail the whole record.
			did := f.Value
			if !strings.HasPrefix(did, "did:") {
				resolved, err := c.ResolveHandle(ctx, f.Value)
				if err != nil || resolved == "" {
					c.logger.Warn("mention handle resolution failed, dropping facet",
						"handle", f.Value, "error", err)
					continue
				}
				did = resolved
			}
			feature = map[string]any{
				"$type": "app.bsky.richtext.facet#mention",
				"did":   did,
			}
		default:
			continue
		}
		out = append(out, map[string]any{
			"index": map[string]int{
				"byteStart": f.ByteStart,
				"byteEnd":   f.ByteEnd,
			},
			"features": []map[string]any{feature},
		})
	}
	return out
}

// permalink turns an AT URI into a bsky.app URL, falling back to the raw DID
// when the handle cannot be resolved.
func (c *Client) permalink(ctx context.Context, atURI string) string {
	did, rkey, ok := splitPostURI(atURI)
	if !ok {
		return ""
	}

	actor := did
	if handle, err := c.GetProfileHandle(ctx, did); err != nil {
		c.logger.Warn("handle resolution failed", "did", did, "error", err)
	} else if handle != "" {
		actor = handle
	}
	return fmt.Sprintf("https://bsky.app/profile/%s/post/%s", actor, rkey)
}

// splitPostURI parses at://<did>/<collection>/<rkey>.
func splitPostURI(atURI string) (did, rkey string, ok bool) {
	trimmed, found := strings.CutPrefix(atURI, "at://")
	if !found {
		return "", "", false
	}
	parts := strings.Split(trimmed, "/")
	if len(parts) != 3 {
		return "", "", false
	}
	return parts[0], parts[2], true
}

func (c *Client) postJSON(ctx context.Context, nsid string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", nsid, err)
	}

	endpoint := c.baseURL + "/xrpc/" + nsid
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req)

	return c.do(req, out)
}

func (c *Client) get(ctx context.Context, nsid string, query url.Values, out any) error {
	endpoint := c.baseURL + "/xrpc/" + nsid + "?" + query.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	c.authorize(req)

	return c.do(req, out)
}

func (c *Client) authorize(req *http.Request) {
	if c.accessJWT != "" {
		req.Header.Set("Authorization", "Bearer "+c.accessJWT)
	}
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		var decoded struct {
			Error   string `json:"error"`
			Message string `json:"message"`
		}
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if json.Unmarshal(raw, &decoded) == nil {
			apiErr.Code = decoded.Error
			apiErr.Message = decoded.Message
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
