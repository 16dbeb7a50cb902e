package bluesky

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"FeedPublisher/internal/domain"
	"FeedPublisher/internal/ports"
)

// ErrLoginFailed marks authentication failures that are fatal for the
// worker: bad credentials, or a rate-limit backoff that exhausted its
// retry ceiling.
var ErrLoginFailed = errors.New("login failed")

// SessionManager owns the authenticated session for one account. It holds
// the credentials so the pipeline never sees them, re-establishes the
// session under rate-limit churn with exponential backoff, and exposes the
// capability surface the pipeline consumes.
type SessionManager struct {
	client     *Client
	identifier string
	password   string

	maxRetries   int
	initialDelay time.Duration

	sleep  func(time.Duration)
	logger *slog.Logger
}

var _ ports.Publisher = (*SessionManager)(nil)

// NewSessionManager wires credentials and backoff knobs around a client.
func NewSessionManager(client *Client, identifier, password string, maxRetries int, initialDelay time.Duration, logger *slog.Logger) *SessionManager {
	if logger == nil {
		logger = slog.Default()
	}
	if maxRetries < 1 {
		maxRetries = 1
	}
	return &SessionManager{
		client:       client,
		identifier:   identifier,
		password:     password,
		maxRetries:   maxRetries,
		initialDelay: initialDelay,
		sleep:        time.Sleep,
		logger:       logger,
	}
}

// EnsureAuthenticated logs in, retrying rate-limited attempts with a
// doubling delay up to the retry ceiling. Any non-rate-limit failure aborts
// immediately. Both exhaustion and hard failures wrap ErrLoginFailed.
func (m *SessionManager) EnsureAuthenticated(ctx context.Context) error {
	delay := m.initialDelay
	var lastErr error

	for attempt := 1; attempt <= m.maxRetries; attempt++ {
		err := m.client.CreateSession(ctx, m.identifier, m.password)
		if err == nil {
			m.logger.Info("logged in", "identifier", m.identifier)
			return nil
		}
		lastErr = err

		var apiErr *APIError
		if !errors.As(err, &apiErr) || !apiErr.RateLimited() {
			return fmt.Errorf("%w: %v", ErrLoginFailed, err)
		}

		m.logger.Warn("login rate limited",
			"attempt", attempt, "max", m.maxRetries, "delay", delay)
		m.sleep(delay)
		delay *= 2
	}

	return fmt.Errorf("%w: %d attempts exhausted: %v", ErrLoginFailed, m.maxRetries, lastErr)
}

// WithSession runs op against the authenticated client, re-establishing the
// session once when the platform reports it expired.
func (m *SessionManager) WithSession(ctx context.Context, op func(*Client) error) error {
	if !m.client.Authenticated() {
		if err := m.EnsureAuthenticated(ctx); err != nil {
			return err
		}
	}

	err := op(m.client)

	var apiErr *APIError
	if err != nil && errors.As(err, &apiErr) && apiErr.ExpiredToken() {
		m.logger.Info("session expired, re-authenticating")
		if loginErr := m.EnsureAuthenticated(ctx); loginErr != nil {
			return loginErr
		}
		return op(m.client)
	}
	return err
}

// RecentPosts implements ports.Publisher.
func (m *SessionManager) RecentPosts(ctx context.Context, limit int) ([]string, error) {
	var posts []string
	err := m.WithSession(ctx, func(c *Client) error {
		var opErr error
		posts, opErr = c.RecentPostTexts(ctx, limit)
		return opErr
	})
	return posts, err
}

// Publish implements ports.Publisher.
func (m *SessionManager) Publish(ctx context.Context, post domain.Post) (domain.PublishResult, error) {
	var result domain.PublishResult
	err := m.WithSession(ctx, func(c *Client) error {
		var opErr error
		result, opErr = c.CreatePost(ctx, post)
		return opErr
	})
	return result, err
}
