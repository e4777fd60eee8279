// Package download fetches image bytes over HTTP and writes them into the
// output directory under collision-free names.
package download

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/FranksOps/imgfetch/internal/bypass"
	"github.com/FranksOps/imgfetch/internal/fingerprint"
	"github.com/FranksOps/imgfetch/internal/metrics"
	"github.com/FranksOps/imgfetch/pkg/httpclient"
	"github.com/FranksOps/imgfetch/pkg/proxy"
	"github.com/FranksOps/imgfetch/pkg/ratelimit"
	"github.com/FranksOps/imgfetch/pkg/useragent"
)

type contextKey struct{}

// DefaultMaxBytes caps a single image body.
const DefaultMaxBytes = 32 << 20

// Config configures a Downloader. Zero values are usable.
type Config struct {
	Timeout      time.Duration
	MaxRedirects int
	MaxBytes     int64
	Agents       *useragent.Pool
	Proxies      *proxy.Pool
	Fingerprint  fingerprint.Profile
	Limiter      *ratelimit.Limiter
	Logger       *slog.Logger
	// InsecureSkipVerify is for tests against httptest TLS servers.
	InsecureSkipVerify bool
}

// Downloader performs image GETs. One Downloader is shared by a whole run so
// connections to the same image host are reused.
type Downloader struct {
	cfg    Config
	client *httpclient.Client
}

// Payload is a successful response.
type Payload struct {
	URL         string
	StatusCode  int
	ContentType string
	Body        []byte
	Duration    time.Duration
}

// StatusError reports a non-2xx response.
type StatusError struct {
	URL        string
	StatusCode int
	// BlockedBy names the bot-protection vendor when the response is a
	// recognised block page.
	BlockedBy string
}

func (e *StatusError) Error() string {
	if e.BlockedBy != "" {
		return fmt.Sprintf("download: %s: status %d (blocked by %s)", e.URL, e.StatusCode, e.BlockedBy)
	}
	return fmt.Sprintf("download: %s: status %d", e.URL, e.StatusCode)
}

// New builds a Downloader from cfg.
func New(cfg Config) (*Downloader, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = DefaultMaxBytes
	}
	if cfg.Agents == nil {
		cfg.Agents = useragent.NewPool(nil)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	tr, err := fingerprint.Transport(cfg.Fingerprint, fingerprint.Options{
		Proxy:              proxyFromContext,
		InsecureSkipVerify: cfg.InsecureSkipVerify,
	})
	if err != nil {
		return nil, fmt.Errorf("download: transport: %w", err)
	}

	client, err := httpclient.New(httpclient.Config{
		Timeout:      cfg.Timeout,
		MaxRedirects: cfg.MaxRedirects,
		Transport:    tr,
	})
	if err != nil {
		return nil, fmt.Errorf("download: client: %w", err)
	}

	return &Downloader{cfg: cfg, client: client}, nil
}

// proxyFromContext lets each request carry its own proxy while the transport
// (and its connection pool) stays shared.
func proxyFromContext(req *http.Request) (*url.URL, error) {
	if u, ok := req.Context().Value(contextKey{}).(*url.URL); ok && u != nil {
		return u, nil
	}
	return http.ProxyFromEnvironment(req)
}

// Fetch GETs rawURL and returns the body of a 2xx response. Other statuses
// become a *StatusError.
func (d *Downloader) Fetch(ctx context.Context, rawURL string) (*Payload, error) {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, fmt.Errorf("download: invalid image url %q", rawURL)
	}

	if err := d.cfg.Limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("download: waiting for limiter: %w", err)
	}

	var via *url.URL
	if d.cfg.Proxies != nil {
		if via = d.cfg.Proxies.Next(); via != nil {
			ctx = context.WithValue(ctx, contextKey{}, via)
		}
	}

	header := http.Header{}
	header.Set("User-Agent", d.cfg.Agents.Next())
	header.Set("Accept", "image/avif,image/webp,image/png,image/*;q=0.8,*/*;q=0.5")

	start := time.Now()
	resp, err := d.client.Get(ctx, rawURL, header)
	if err != nil {
		if via != nil {
			_ = d.cfg.Proxies.MarkFailure(via)
			metrics.ProxyFailures.WithLabelValues(via.Redacted()).Inc()
		}
		return nil, fmt.Errorf("download: %w", err)
	}
	defer resp.Body.Close()
	if via != nil {
		_ = d.cfg.Proxies.MarkSuccess(via)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, d.cfg.MaxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("download: reading %s: %w", rawURL, err)
	}
	if int64(len(body)) > d.cfg.MaxBytes {
		return nil, fmt.Errorf("download: %s exceeds %d bytes", rawURL, d.cfg.MaxBytes)
	}
	elapsed := time.Since(start)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		se := &StatusError{URL: rawURL, StatusCode: resp.StatusCode}
		if src, ok := bypass.Detect(&bypass.Response{
			StatusCode: resp.StatusCode,
			Header:     resp.Header,
			Body:       body,
		}, bypass.DefaultSignatures); ok {
			se.BlockedBy = src
			metrics.BlockedTotal.WithLabelValues(u.Hostname(), src).Inc()
		}
		return nil, se
	}

	metrics.RecordDownload(u.Hostname(), elapsed, len(body))
	d.cfg.Logger.Debug("downloaded", "url", rawURL, "bytes", len(body), "duration", elapsed)

	return &Payload{
		URL:         rawURL,
		StatusCode:  resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
		Body:        body,
		Duration:    elapsed,
	}, nil
}
