// Package remote talks to the social network's HTTP API: login, paginated
// follower/following listings, unfollow, logout.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"dropmates/internal/logging"
	"dropmates/internal/ratelimit"
	"github.com/golang-jwt/jwt/v5"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

var (
	ErrAuth           = errors.New("authentication failed")
	ErrSessionExpired = errors.New("session expired")
	ErrSessionClosed  = errors.New("session closed")
)

const (
	defaultPageSize        = 200
	defaultTimeout         = 30 * time.Second
	defaultBreakerFailures = 3
	userAgent              = "dropmates/1.0"
)

// StatusError is a non-2xx response from the remote API.
type StatusError struct {
	Op   string
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s: status %d", e.Op, e.Code)
	}
	return fmt.Sprintf("%s: status %d: %s", e.Op, e.Code, e.Body)
}

type Options struct {
	BaseURL    string
	HTTPClient *http.Client
	PageSize   int
	// Limiter paces unfollow requests per account. Nil disables pacing.
	Limiter *ratelimit.RateLimiter
	// BreakerFailures is how many consecutive unfollow failures open the
	// circuit and abort the rest of the batch.
	BreakerFailures uint32
	BreakerTimeout  time.Duration
	Logger          *zap.Logger
	Now             func() time.Time
}

type Client struct {
	baseURL  *url.URL
	http     *http.Client
	pageSize int
	limiter  *ratelimit.RateLimiter
	breaker  *gobreaker.CircuitBreaker
	logger   *zap.Logger
	now      func() time.Time
}

func NewClient(opts Options) (*Client, error) {
	if strings.TrimSpace(opts.BaseURL) == "" {
		return nil, errors.New("remote API URL is required")
	}
	base, err := url.Parse(strings.TrimRight(opts.BaseURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid remote API URL %q", opts.BaseURL)
	}

	c := &Client{
		baseURL:  base,
		http:     opts.HTTPClient,
		pageSize: opts.PageSize,
		limiter:  opts.Limiter,
		logger:   logging.OrNop(opts.Logger),
		now:      opts.Now,
	}
	if c.http == nil {
		c.http = &http.Client{Timeout: defaultTimeout}
	}
	if c.pageSize <= 0 {
		c.pageSize = defaultPageSize
	}
	if c.now == nil {
		c.now = time.Now
	}

	failures := opts.BreakerFailures
	if failures == 0 {
		failures = defaultBreakerFailures
	}
	timeout := opts.BreakerTimeout
	if timeout <= 0 {
		timeout = time.Minute
	}
	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "unfollow",
		MaxRequests: 1,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		IsSuccessful: func(err error) bool {
			// A 4xx about one target says nothing about the service's health;
			// 429 does. Neither does the caller giving up.
			if errors.Is(err, context.Canceled) {
				return true
			}
			var se *StatusError
			if errors.As(err, &se) {
				return se.Code >= 400 && se.Code < 500 && se.Code != http.StatusTooManyRequests
			}
			return err == nil
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			c.logger.Warn("circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})
	return c, nil
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token string `json:"token"`
}

// Authenticate opens a session. Rejected credentials yield ErrAuth.
func (c *Client) Authenticate(ctx context.Context, username, password string) (*Session, error) {
	body, err := json.Marshal(loginRequest{Username: username, Password: password})
	if err != nil {
		return nil, err
	}
	req, err := c.newRequest(ctx, http.MethodPost, "/api/v1/session", "", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	var resp loginResponse
	if err := c.do(req, "login", &resp); err != nil {
		var se *StatusError
		if errors.As(err, &se) && (se.Code == http.StatusUnauthorized || se.Code == http.StatusForbidden) {
			return nil, fmt.Errorf("%w: %v", ErrAuth, err)
		}
		return nil, err
	}

	claims := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(resp.Token, claims); err != nil {
		return nil, fmt.Errorf("%w: malformed session token: %v", ErrAuth, err)
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: session token has no subject", ErrAuth)
	}

	s := &Session{client: c, token: resp.Token, accountID: claims.Subject}
	if claims.ExpiresAt != nil {
		s.expiresAt = claims.ExpiresAt.Time
	}
	c.logger.Info("session opened", zap.String("account_id", s.accountID), zap.Time("expires_at", s.expiresAt))
	return s, nil
}

func (c *Client) newRequest(ctx context.Context, method, path, token string, body io.Reader) (*http.Request, error) {
	u := *c.baseURL
	u.Path = c.baseURL.Path + path
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req, nil
}

// do sends req and decodes a JSON body into out when out is non-nil.
func (c *Client) do(req *http.Request, op string, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &StatusError{Op: op, Code: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s: decode response: %w", op, err)
	}
	return nil
}
