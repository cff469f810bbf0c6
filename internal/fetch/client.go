package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// ErrTransient marks network and HTTP failures, rate limiting included. They are never retried here.
var ErrTransient = errors.New("transient fetch error")

// StatusError is returned for non 2xx responses
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s: unexpected status %d %s", e.URL, e.StatusCode, http.StatusText(e.StatusCode))
}

func (e *StatusError) Unwrap() error {
	return ErrTransient
}

// Response body together with the final request URL after redirects
type Response struct {
	Body []byte
	URL  *url.URL
}

type Client interface {
	Get(ctx context.Context, rawURL string) (*Response, error)
}

// HTTPClient reuses persistent connections across calls
type HTTPClient struct {
	client    *http.Client
	userAgent string
}

func NewHTTPClient(timeout time.Duration, maxConnsPerHost int, userAgent string) *HTTPClient {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.MaxIdleConns = maxConnsPerHost * 2
	transport.MaxIdleConnsPerHost = maxConnsPerHost
	transport.IdleConnTimeout = 90 * time.Second

	return &HTTPClient{
		client: &http.Client{
			Transport: transport,
			Timeout:   timeout,
		},
		userAgent: userAgent,
	}
}

func (c *HTTPClient) Get(ctx context.Context, rawURL string) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		var urlErr *url.Error
		if errors.As(err, &urlErr) {
			urlErr.URL = redactKey(req.URL)
		}
		return nil, fmt.Errorf("%w: %v", ErrTransient, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// drain so the connection can be reused
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, &StatusError{URL: redactKey(req.URL), StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", ErrTransient, err)
	}

	return &Response{Body: body, URL: resp.Request.URL}, nil
}

// keeps API keys out of logs and error messages
func redactKey(u *url.URL) string {
	clone := *u
	q := clone.Query()
	if q.Has(KeyParam) {
		q.Set(KeyParam, "REDACTED")
		clone.RawQuery = q.Encode()
	}
	return clone.String()
}
