// Package remote implements gateway.Gateway against a scorekeeper server: JSON over
// fasthttp for commands and a reconnecting WebSocket for the change feed.
package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/park285/scorekeeper/internal/access"
	"github.com/park285/scorekeeper/internal/gateway"
	"github.com/park285/scorekeeper/internal/livegame"
	"github.com/park285/scorekeeper/pkg/livedto"
)

const userHeader = "X-User-Id"

type Client struct {
	baseURL string
	wsURL   string
	http    *fasthttp.Client
	log     *zap.Logger

	defaultTimeout time.Duration
	retryMax       int

	maxReconnect   int
	reconnectDelay time.Duration
	pingInterval   time.Duration
	onState        StateCallback
}

type Option func(*Client)

func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.defaultTimeout = d }
}

func WithRetry(max int) Option {
	return func(c *Client) { c.retryMax = max }
}

func WithLogger(l *zap.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.log = l
		}
	}
}

// WithReconnect bounds feed reconnect attempts; max <= 0 retries until closed.
func WithReconnect(max int, delay time.Duration) Option {
	return func(c *Client) {
		c.maxReconnect = max
		if delay > 0 {
			c.reconnectDelay = delay
		}
	}
}

func WithPingInterval(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.pingInterval = d
		}
	}
}

// WithStateHandler observes feed connection state of every subscription.
func WithStateHandler(cb StateCallback) Option {
	return func(c *Client) { c.onState = cb }
}

// NewClient talks to baseURL. wsURL may be empty to derive it from baseURL.
func NewClient(baseURL, wsURL string, opts ...Option) *Client {
	baseURL = strings.TrimRight(baseURL, "/")
	if wsURL == "" {
		wsURL = deriveFeedURL(baseURL)
	}
	c := &Client{
		baseURL:        baseURL,
		wsURL:          wsURL,
		http:           &fasthttp.Client{ReadTimeout: 10 * time.Second, WriteTimeout: 10 * time.Second, MaxConnsPerHost: 64},
		log:            zap.NewNop(),
		defaultTimeout: 10 * time.Second,
		retryMax:       3,
		reconnectDelay: 100 * time.Millisecond,
		pingInterval:   30 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func deriveFeedURL(base string) string {
	switch {
	case strings.HasPrefix(base, "https://"):
		return "wss://" + strings.TrimPrefix(base, "https://") + "/feed"
	case strings.HasPrefix(base, "http://"):
		return "ws://" + strings.TrimPrefix(base, "http://") + "/feed"
	default:
		return base + "/feed"
	}
}

func (c *Client) doJSON(ctx context.Context, method, path, viewer string, in any, out any, retry bool) error {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer func() {
		fasthttp.ReleaseRequest(req)
		fasthttp.ReleaseResponse(resp)
	}()

	req.Header.SetMethod(method)
	req.SetRequestURI(c.baseURL + path)
	req.Header.SetContentType("application/json")
	if v := strings.TrimSpace(viewer); v != "" {
		req.Header.Set(userHeader, v)
	}
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		req.SetBody(payload)
	}

	attempts := 1
	if retry && c.retryMax > 1 {
		attempts = c.retryMax
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := c.http.DoDeadline(req, resp, c.computeDeadline(ctx)); err != nil {
			lastErr = fmt.Errorf("request failed: %w", err)
			if attempt == attempts {
				return lastErr
			}
			c.log.Debug("remote_retry", zap.String("path", path), zap.Int("attempt", attempt), zap.Error(err))
			if sleepErr := sleepWithContext(ctx, backoffDuration(attempt)); sleepErr != nil {
				return lastErr
			}
			continue
		}

		status := resp.StatusCode()
		if status < 200 || status >= 300 {
			var derr livedto.DomainError
			if json.Unmarshal(resp.Body(), &derr) != nil || derr.Code == "" {
				derr = livedto.DomainError{Code: livedto.CodeInternal, Message: truncate(string(resp.Body()), 512)}
			}
			lastErr = decodeError(status, derr)
			if attempt == attempts || !shouldRetry(status, derr) {
				return lastErr
			}
			if sleepErr := sleepWithContext(ctx, backoffDuration(attempt)); sleepErr != nil {
				return lastErr
			}
			continue
		}

		if out != nil && status != fasthttp.StatusNoContent {
			if err := json.Unmarshal(resp.Body(), out); err != nil {
				return fmt.Errorf("decode response: %w", err)
			}
		}
		return nil
	}

	if lastErr == nil {
		lastErr = errors.New("unknown error")
	}
	return lastErr
}

// decodeError turns a wire error back into the error values Local returns, so
// callers branch the same way over either gateway.
func decodeError(status int, derr livedto.DomainError) error {
	switch derr.Code {
	case livedto.CodeValidation:
		return &livegame.ValidationError{Field: derr.Field, Reason: derr.Message}
	case livedto.CodeUnauthorized:
		return gateway.ErrUnauthorized
	case livedto.CodeForbidden:
		return fmt.Errorf("%w: %s", access.ErrForbidden, derr.Message)
	case livedto.CodeNotFound:
		return fmt.Errorf("%w: %s", gateway.ErrNotFound, derr.Message)
	case livedto.CodeCompletion:
		return &gateway.CompletionError{
			Step:            gateway.Step(derr.Step),
			ScoreID:         derr.ScoreID,
			LiveGameRemains: derr.LiveGameRemains,
			Err:             derr,
		}
	default:
		return fmt.Errorf("scorekeeper api error: status=%d: %w", status, derr)
	}
}

func shouldRetry(status int, derr livedto.DomainError) bool {
	if derr.Code == livedto.CodeConflict {
		return true
	}
	switch status {
	case 500, 503, 504:
		return true
	default:
		return false
	}
}

func (c *Client) computeDeadline(ctx context.Context) time.Time {
	clientDL := time.Now().Add(c.defaultTimeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(clientDL) {
		return dl
	}
	return clientDL
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func backoffDuration(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 6 {
		attempt = 6
	}
	return time.Duration(1<<uint(attempt-1)) * 100 * time.Millisecond
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func escape(id string) string { return url.PathEscape(strings.TrimSpace(id)) }
