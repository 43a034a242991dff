// Package notify delivers escalation alerts to the support team through the
// Pushover message API.
package notify

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultTitle is used when a notification has no explicit title.
const DefaultTitle = "Member Support Alert"

// priority 1 is Pushover "high": bypasses quiet hours without requiring
// acknowledgment.
const highPriority = "1"

const defaultEndpoint = "https://api.pushover.net/1/messages.json"

// Notifier delivers alert messages. Implementations must be safe for
// concurrent use.
type Notifier interface {
	Send(ctx context.Context, message, title string) error
}

// Pushover sends alerts through the Pushover REST API.
type Pushover struct {
	token    string
	user     string
	endpoint string
	client   *http.Client
	logger   *slog.Logger
}

// Option configures a Pushover client.
type Option func(*Pushover)

// WithEndpoint overrides the API endpoint. Used in tests.
func WithEndpoint(endpoint string) Option {
	return func(p *Pushover) { p.endpoint = endpoint }
}

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(p *Pushover) { p.client = client }
}

// NewPushover creates a Pushover notifier with the given application token
// and user key.
func NewPushover(token, user string, logger *slog.Logger, opts ...Option) *Pushover {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Pushover{
		token:    token,
		user:     user,
		endpoint: defaultEndpoint,
		client:   &http.Client{Timeout: 10 * time.Second},
		logger:   logger,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Send posts a high-priority message. Transient failures are retried twice
// with a short backoff; a non-2xx response after the last attempt is an error.
func (p *Pushover) Send(ctx context.Context, message, title string) error {
	if title == "" {
		title = DefaultTitle
	}

	form := url.Values{
		"token":    {p.token},
		"user":     {p.user},
		"message":  {message},
		"title":    {title},
		"priority": {highPriority},
	}

	const attempts = 3
	var lastErr error
	for attempt := range attempts {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(attempt) * 500 * time.Millisecond):
			}
		}

		lastErr = p.post(ctx, form)
		if lastErr == nil {
			p.logger.Debug("notification delivered", "title", title)
			return nil
		}
		p.logger.Warn("notification attempt failed",
			"attempt", attempt+1, "error", lastErr)
	}

	return fmt.Errorf("sending notification after %d attempts: %w", attempts, lastErr)
}

// post performs a single POST to the Pushover API.
func (p *Pushover) post(ctx context.Context, form url.Values) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint,
		strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		// Pushover returns a short JSON body describing the rejection.
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("pushover returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}

// Nop is a Notifier that silently accepts every message. Used when Pushover
// credentials are not configured.
type Nop struct{}

// Send implements Notifier.
func (Nop) Send(context.Context, string, string) error { return nil }
