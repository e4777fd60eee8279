package httpclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"time"
)

// ErrNilContext is returned by Do when called without a context.
var ErrNilContext = errors.New("httpclient: nil context")

// Config describes the client. A zero Timeout means 30s. MaxRedirects < 0
// disables redirect following; 0 means the default of 10.
type Config struct {
	Timeout      time.Duration
	MaxRedirects int
	UseCookieJar bool
	// Transport overrides the round tripper, e.g. for proxies or uTLS.
	Transport http.RoundTripper
}

// Client is an http.Client with a context-first Do.
type Client struct {
	hc *http.Client
}

// New builds a Client from cfg.
func New(cfg Config) (*Client, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxRedirects == 0 {
		cfg.MaxRedirects = 10
	}

	hc := &http.Client{
		Timeout:   cfg.Timeout,
		Transport: cfg.Transport,
	}

	limit := cfg.MaxRedirects
	hc.CheckRedirect = func(req *http.Request, via []*http.Request) error {
		if limit < 0 {
			return http.ErrUseLastResponse
		}
		if len(via) >= limit {
			return fmt.Errorf("httpclient: stopped after %d redirects", limit)
		}
		return nil
	}

	if cfg.UseCookieJar {
		jar, err := cookiejar.New(nil)
		if err != nil {
			return nil, fmt.Errorf("httpclient: cookie jar: %w", err)
		}
		hc.Jar = jar
	}

	return &Client{hc: hc}, nil
}

// Do sends req bound to ctx. ctx governs cancellation independently of the
// client-wide timeout.
func (c *Client) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	if ctx == nil {
		return nil, ErrNilContext
	}
	resp, err := c.hc.Do(req.Clone(ctx))
	if err != nil {
		return nil, fmt.Errorf("httpclient: %w", err)
	}
	return resp, nil
}

// Get is a convenience wrapper for a GET with the given headers.
func (c *Client) Get(ctx context.Context, rawURL string, header http.Header) (*http.Response, error) {
	if ctx == nil {
		return nil, ErrNilContext
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("httpclient: %w", err)
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	return c.Do(ctx, req)
}

// Timeout reports the client-wide timeout.
func (c *Client) Timeout() time.Duration {
	return c.hc.Timeout
}
