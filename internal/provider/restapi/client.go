// Package restapi provides the JSON-over-HTTP client shared by the provider
// adapters: authenticated requests with retry on transient failures, and
// streaming downloads of finished videos.
package restapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Static errors for REST client operations.
var (
	// ErrServerError is returned when the server returns a 5xx status code.
	ErrServerError = errors.New("server error")
	// ErrRateLimited is returned when the server returns a 429 status code.
	ErrRateLimited = errors.New("rate limited")
	// ErrRequestFailed is returned when the request fails with a non-2xx status code.
	ErrRequestFailed = errors.New("request failed")
	// ErrEmptyDownload is returned when a download produced no bytes.
	ErrEmptyDownload = errors.New("downloaded file is empty")
	// ErrShortDownload is returned when fewer bytes than announced were received.
	ErrShortDownload = errors.New("downloaded file is truncated")
)

// Client performs JSON requests against one provider API.
type Client struct {
	name           string
	baseURL        string
	header         http.Header
	httpClient     *http.Client
	downloadClient *http.Client
	maxRetries     int
	baseBackoff    time.Duration
}

// Option is a function that configures a Client.
type Option func(*Client)

// WithHeader adds a header sent with every API request (not with downloads).
func WithHeader(key, value string) Option {
	return func(c *Client) {
		c.header.Set(key, value)
	}
}

// WithBearerToken sets the Authorization header to a bearer token.
func WithBearerToken(token string) Option {
	return WithHeader("Authorization", "Bearer "+token)
}

// WithHTTPClient sets a custom HTTP client for API requests and downloads.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
		c.downloadClient = hc
	}
}

// WithMaxRetries sets the maximum number of retries for transient failures.
func WithMaxRetries(n int) Option {
	return func(c *Client) {
		c.maxRetries = n
	}
}

// WithBaseBackoff sets the initial backoff duration for retries.
func WithBaseBackoff(d time.Duration) Option {
	return func(c *Client) {
		c.baseBackoff = d
	}
}

// New creates a Client for the named provider rooted at baseURL.
func New(name, baseURL string, opts ...Option) *Client {
	c := &Client{
		name:           name,
		baseURL:        strings.TrimRight(baseURL, "/"),
		header:         make(http.Header),
		httpClient:     &http.Client{Timeout: 60 * time.Second},
		downloadClient: &http.Client{Timeout: 300 * time.Second},
		maxRetries:     3,
		baseBackoff:    1 * time.Second,
	}
	c.header.Set("Content-Type", "application/json")

	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the API root.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Do sends a request and decodes the JSON response into result.
// path may be relative to the base URL or an absolute URL. A nil body sends no
// payload and a nil result discards the response body.
func (c *Client) Do(ctx context.Context, method, path string, query url.Values, body, result any) error {
	var payload []byte
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%s: marshal request: %w", c.name, err)
		}
		payload = b
	}

	target := c.resolve(path)
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	return c.doRequestWithRetry(ctx, method, target, payload, result)
}

func (c *Client) resolve(path string) string {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	return c.baseURL + "/" + strings.TrimLeft(path, "/")
}

// doRequestWithRetry performs an HTTP request with exponential backoff retry.
func (c *Client) doRequestWithRetry(ctx context.Context, method, target string, body []byte, result any) error {
	var lastErr error
	backoff := c.baseBackoff

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return fmt.Errorf("%s: context cancelled: %w", c.name, ctx.Err())
			case <-time.After(backoff):
				backoff *= 2
			}
		}

		err := c.doRequest(ctx, method, target, body, result)
		if err == nil {
			return nil
		}
		if !isRetryable(err) {
			return err
		}
		lastErr = err
	}

	return fmt.Errorf("%s: max retries exceeded: %w", c.name, lastErr)
}

// doRequest performs a single HTTP request.
func (c *Client) doRequest(ctx context.Context, method, target string, body []byte, result any) error {
	var bodyReader io.Reader
	if body != nil {
		bodyReader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, bodyReader)
	if err != nil {
		return fmt.Errorf("%s: create request: %w", c.name, err)
	}
	for k, v := range c.header {
		req.Header[k] = v
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("%s: request cancelled: %w", c.name, ctx.Err())
		}
		return &retryableError{err: fmt.Errorf("%s: request failed: %w", c.name, err)}
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return &retryableError{err: fmt.Errorf("%s: read response: %w", c.name, err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if resp.StatusCode >= 500 {
			return &retryableError{err: fmt.Errorf("%s: %w %d: %s", c.name, ErrServerError, resp.StatusCode, string(respBody))}
		}
		if resp.StatusCode == http.StatusTooManyRequests {
			return &retryableError{err: fmt.Errorf("%s: %w: %s", c.name, ErrRateLimited, string(respBody))}
		}
		return fmt.Errorf("%s: %w with status %d: %s", c.name, ErrRequestFailed, resp.StatusCode, string(respBody))
	}

	if result != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("%s: unmarshal response: %w", c.name, err)
		}
	}

	return nil
}

// Download streams rawURL into destPath. The body is written to a sibling
// temporary file and renamed into place only once it is complete, so destPath
// never holds a partial video. header is sent as-is; API credentials are not
// added automatically.
func (c *Client) Download(ctx context.Context, rawURL, destPath string, header http.Header) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("%s: create download request: %w", c.name, err)
	}
	for k, v := range header {
		req.Header[k] = v
	}

	resp, err := c.downloadClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s: download request failed: %w", c.name, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s: download failed with status %d", c.name, resp.StatusCode)
	}

	if err := os.MkdirAll(filepath.Dir(destPath), 0o750); err != nil {
		return fmt.Errorf("%s: create output directory: %w", c.name, err)
	}

	out, err := os.CreateTemp(filepath.Dir(destPath), filepath.Base(destPath)+".part-*")
	if err != nil {
		return fmt.Errorf("%s: create output file: %w", c.name, err)
	}
	tmpName := out.Name()
	cleanup := func() {
		_ = out.Close()
		_ = os.Remove(tmpName)
	}

	n, err := io.Copy(out, resp.Body)
	if err != nil {
		cleanup()
		return fmt.Errorf("%s: copy download data: %w", c.name, err)
	}
	if n == 0 {
		cleanup()
		return fmt.Errorf("%s: %w", c.name, ErrEmptyDownload)
	}
	if resp.ContentLength > 0 && n != resp.ContentLength {
		cleanup()
		return fmt.Errorf("%s: %w: got %d of %d bytes", c.name, ErrShortDownload, n, resp.ContentLength)
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("%s: close output file: %w", c.name, err)
	}
	if err := os.Rename(tmpName, destPath); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("%s: move output file: %w", c.name, err)
	}

	return nil
}

// retryableError wraps errors that should be retried.
type retryableError struct {
	err error
}

func (e *retryableError) Error() string {
	return e.err.Error()
}

func (e *retryableError) Unwrap() error {
	return e.err
}

// isRetryable returns true if the error should be retried.
func isRetryable(err error) bool {
	var re *retryableError
	return errors.As(err, &re)
}
