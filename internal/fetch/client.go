package fetch

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// RetryPolicy controls retries of network errors, 429 and 5xx responses.
type RetryPolicy struct {
	Attempts       int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// DefaultRetryPolicy is three attempts with exponential backoff between one and ten seconds.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Attempts: 3, InitialBackoff: time.Second, MaxBackoff: 10 * time.Second}
}

// Delay returns the wait before retry n (1-based).
func (p RetryPolicy) Delay(n int) time.Duration {
	if n < 1 || p.InitialBackoff <= 0 {
		return 0
	}
	d := p.InitialBackoff
	for i := 1; i < n; i++ {
		d *= 2
		if p.MaxBackoff > 0 && d >= p.MaxBackoff {
			return p.MaxBackoff
		}
	}
	if p.MaxBackoff > 0 && d > p.MaxBackoff {
		return p.MaxBackoff
	}
	return d
}

// Request describes one API call
type Request struct {
	Method   string
	URL      string
	Query    url.Values
	Headers  map[string]string
	JSONBody any

	BasicAuthUser string
	BasicAuthPass string

	// CacheNamespace and CacheTTL enable the response cache for 2xx responses.
	CacheNamespace string
	CacheTTL       time.Duration
}

// FullURL returns the URL with the encoded query appended
func (r *Request) FullURL() string {
	if len(r.Query) == 0 {
		return r.URL
	}
	sep := "?"
	if strings.Contains(r.URL, "?") {
		sep = "&"
	}
	return r.URL + sep + r.Query.Encode()
}

// Response is a completed API call
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	FromCache  bool
}

// Client performs JSON API calls with retry, backoff and an optional response cache.
// Safe for concurrent use.
type Client struct {
	http      *http.Client
	userAgent string
	retry     RetryPolicy
	cache     ResponseCache
	logger    *slog.Logger
	sleep     func(ctx context.Context, d time.Duration) error
}

// ClientOption configures a Client
type ClientOption func(*Client)

// WithHTTPClient sets the underlying HTTP client
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.http = hc }
}

// WithRetry sets the retry policy
func WithRetry(p RetryPolicy) ClientOption {
	return func(c *Client) { c.retry = p }
}

// WithCache enables the response cache
func WithCache(cache ResponseCache) ClientOption {
	return func(c *Client) { c.cache = cache }
}

// WithLogger sets the logger
func WithLogger(l *slog.Logger) ClientOption {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithUserAgent overrides the user agent
func WithUserAgent(ua string) ClientOption {
	return func(c *Client) { c.userAgent = ua }
}

// NewClient creates a client with the default retry policy and no cache.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		http:      &http.Client{Timeout: DefaultTimeout},
		userAgent: DefaultUserAgent,
		retry:     DefaultRetryPolicy(),
		logger:    slog.Default(),
		sleep:     sleepContext,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Do executes the request. Non-2xx responses that remain after retries are returned
// together with an *Error carrying the status code.
func (c *Client) Do(ctx context.Context, req *Request) (*Response, error) {
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	fullURL := req.FullURL()

	var body []byte
	if req.JSONBody != nil {
		var err error
		body, err = json.Marshal(req.JSONBody)
		if err != nil {
			return nil, &Error{URL: fullURL, Message: "failed to encode request body", Cause: err}
		}
	}

	var cacheKey string
	if c.cache != nil && req.CacheNamespace != "" && req.CacheTTL > 0 {
		cacheKey = CacheKey(req.CacheNamespace, method, fullURL, body)
		cached, ok, err := c.cache.GetCachedResponse(ctx, cacheKey)
		if err != nil {
			c.logger.Warn("response cache read failed", "namespace", req.CacheNamespace, "error", err)
		} else if ok {
			return &Response{StatusCode: http.StatusOK, Body: cached, FromCache: true}, nil
		}
	}

	attempts := c.retry.Attempts
	if attempts < 1 {
		attempts = 1
	}

	var (
		resp    *Response
		lastErr error
	)
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			wait := c.retry.Delay(attempt - 1)
			if ra := retryAfter(resp); ra > wait {
				wait = ra
				if c.retry.MaxBackoff > 0 && wait > c.retry.MaxBackoff {
					wait = c.retry.MaxBackoff
				}
			}
			if err := c.sleep(ctx, wait); err != nil {
				return resp, &Error{URL: fullURL, Message: "canceled while backing off", Cause: err}
			}
		}

		resp, lastErr = c.once(ctx, method, fullURL, body, req)
		if lastErr == nil {
			break
		}
		var fe *Error
		if !errors.As(lastErr, &fe) || !fe.Retryable || ctx.Err() != nil {
			break
		}
		c.logger.Debug("retrying request", "url", redactQuery(fullURL), "attempt", attempt, "error", lastErr)
	}
	if lastErr != nil {
		return resp, lastErr
	}

	if cacheKey != "" {
		if err := c.cache.PutCachedResponse(ctx, cacheKey, req.CacheNamespace, resp.Body, req.CacheTTL); err != nil {
			c.logger.Warn("response cache write failed", "namespace", req.CacheNamespace, "error", err)
		}
	}
	return resp, nil
}

// JSON executes the request and decodes a 2xx body into out.
func (c *Client) JSON(ctx context.Context, req *Request, out any) (*Response, error) {
	resp, err := c.Do(ctx, req)
	if err != nil {
		return resp, err
	}
	if out == nil || len(bytes.TrimSpace(resp.Body)) == 0 {
		return resp, nil
	}
	if err := json.Unmarshal(resp.Body, out); err != nil {
		return resp, &Error{URL: req.FullURL(), Message: "failed to decode JSON response", StatusCode: resp.StatusCode, Cause: err}
	}
	return resp, nil
}

func (c *Client) once(ctx context.Context, method, fullURL string, body []byte, req *Request) (*Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, fullURL, reader)
	if err != nil {
		return nil, &Error{URL: fullURL, Message: "failed to create request", Cause: err}
	}
	httpReq.Header.Set("User-Agent", c.userAgent)
	httpReq.Header.Set("Accept", "application/json")
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}
	if req.BasicAuthUser != "" || req.BasicAuthPass != "" {
		httpReq.SetBasicAuth(req.BasicAuthUser, req.BasicAuthPass)
	}

	httpResp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, &Error{URL: fullURL, Message: "HTTP request failed", Retryable: ctx.Err() == nil, Cause: err}
	}
	defer func() { _ = httpResp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(httpResp.Body, maxBodyBytes))
	if err != nil {
		return nil, &Error{URL: fullURL, Message: "failed to read response body", Retryable: ctx.Err() == nil, Cause: err}
	}

	resp := &Response{StatusCode: httpResp.StatusCode, Header: httpResp.Header, Body: data}
	if httpResp.StatusCode < 200 || httpResp.StatusCode > 299 {
		return resp, &Error{
			URL:        fullURL,
			Message:    fmt.Sprintf("HTTP status %d", httpResp.StatusCode),
			StatusCode: httpResp.StatusCode,
			Retryable:  retryableStatus(httpResp.StatusCode),
		}
	}
	return resp, nil
}

// CacheKey derives a stable cache key for a request
func CacheKey(namespace, method, fullURL string, body []byte) string {
	h := sha256.New()
	h.Write([]byte(method))
	h.Write([]byte{0})
	h.Write([]byte(fullURL))
	h.Write([]byte{0})
	h.Write(body)
	return namespace + ":" + hex.EncodeToString(h.Sum(nil))
}

// StatusCode extracts the HTTP status from a fetch error, or 0.
func StatusCode(err error) int {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.StatusCode
	}
	return 0
}

func retryAfter(resp *Response) time.Duration {
	if resp == nil || resp.Header == nil {
		return 0
	}
	v := resp.Header.Get("Retry-After")
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// redactQuery drops query strings from logged URLs; some providers take keys as parameters.
func redactQuery(raw string) string {
	if i := strings.IndexByte(raw, '?'); i >= 0 {
		return raw[:i]
	}
	return raw
}
