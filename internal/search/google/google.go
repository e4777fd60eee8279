// Package google implements search.Provider on the Custom Search JSON API in
// image mode.
package google

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"

	"github.com/FranksOps/imgfetch/internal/download"
	"github.com/FranksOps/imgfetch/internal/metrics"
	"github.com/FranksOps/imgfetch/internal/search"
	"github.com/FranksOps/imgfetch/pkg/httpclient"
)

// DefaultEndpoint is the Custom Search JSON API.
const DefaultEndpoint = "https://www.googleapis.com/customsearch/v1"

const (
	pageSize = 10 // the API's maximum num
	// Last result index served. Documented as start+num <= 100; the API
	// actually answers start <= 91 with num = 10, i.e. results up to 100.
	window = 100
)

var _ search.Provider = (*Provider)(nil)

// APIError is the API's error envelope.
type APIError struct {
	HTTPStatus int    `json:"-"`
	Code       int    `json:"code"`
	Message    string `json:"message"`
	Status     string `json:"status"`
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("google: search failed with HTTP %d", e.HTTPStatus)
	}
	return fmt.Sprintf("google: search failed with HTTP %d: %s (%s)", e.HTTPStatus, e.Message, e.Status)
}

type response struct {
	Items   []item `json:"items"`
	Queries struct {
		NextPage []struct {
			StartIndex int `json:"startIndex"`
		} `json:"nextPage"`
	} `json:"queries"`
}

type item struct {
	Title string `json:"title"`
	Link  string `json:"link"`
	Mime  string `json:"mime"`
	Image struct {
		ContextLink string `json:"contextLink"`
		Width       int    `json:"width"`
		Height      int    `json:"height"`
		ByteSize    int    `json:"byteSize"`
	} `json:"image"`
}

// Config wires a Provider.
type Config struct {
	// Endpoint overrides DefaultEndpoint.
	Endpoint string
	// Client issues the API calls; a default client is built when nil.
	Client *httpclient.Client
	// Downloader fetches the images behind the returned results. Required.
	Downloader *download.Downloader
	Logger     *slog.Logger
}

// Provider searches Google images.
type Provider struct {
	endpoint string
	client   *httpclient.Client
	dl       *download.Downloader
	logger   *slog.Logger
}

// New validates cfg and returns a Provider.
func New(cfg Config) (*Provider, error) {
	if cfg.Downloader == nil {
		return nil, errors.New("google: downloader is required")
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultEndpoint
	}
	if _, err := url.Parse(cfg.Endpoint); err != nil {
		return nil, fmt.Errorf("google: endpoint: %w", err)
	}
	if cfg.Client == nil {
		c, err := httpclient.New(httpclient.Config{})
		if err != nil {
			return nil, fmt.Errorf("google: %w", err)
		}
		cfg.Client = c
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Provider{
		endpoint: cfg.Endpoint,
		client:   cfg.Client,
		dl:       cfg.Downloader,
		logger:   cfg.Logger,
	}, nil
}

// Search pages through the API until req.Count distinct images are
// collected, the API runs out of results, or its 100-result window ends.
func (p *Provider) Search(ctx context.Context, req search.Request) ([]search.Result, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	var out []search.Result
	seen := make(map[string]struct{})

	for start := 1; len(out) < req.Count && start <= window; {
		num := min(pageSize, req.Count-len(out), window-start+1)

		resp, err := p.page(ctx, req, start, num)
		metrics.RecordSearch("google", err)
		if err != nil {
			return nil, err
		}
		p.logger.Debug("search page", "query", req.Query, "start", start, "items", len(resp.Items))

		for _, it := range resp.Items {
			if it.Link == "" {
				continue
			}
			if _, dup := seen[it.Link]; dup {
				continue
			}
			seen[it.Link] = struct{}{}
			out = append(out, &Image{
				Title:       it.Title,
				Link:        it.Link,
				ContextLink: it.Image.ContextLink,
				Mime:        it.Mime,
				Width:       it.Image.Width,
				Height:      it.Image.Height,
				dl:          p.dl,
			})
			if len(out) == req.Count {
				break
			}
		}

		if len(resp.Items) == 0 || len(resp.Queries.NextPage) == 0 {
			break
		}
		next := resp.Queries.NextPage[0].StartIndex
		if next <= start {
			next = start + len(resp.Items)
		}
		start = next
	}
	return out, nil
}

func (p *Provider) page(ctx context.Context, req search.Request, start, num int) (*response, error) {
	safe := "off"
	if req.SafeSearch {
		safe = "active"
	}
	q := url.Values{}
	q.Set("key", req.Credentials.APIKey)
	q.Set("cx", req.Credentials.EngineID)
	q.Set("q", req.Query)
	q.Set("searchType", "image")
	q.Set("fileType", req.FileType)
	q.Set("safe", safe)
	q.Set("num", strconv.Itoa(num))
	q.Set("start", strconv.Itoa(start))

	resp, err := p.client.Get(ctx, p.endpoint+"?"+q.Encode(), http.Header{"Accept": {"application/json"}})
	if err != nil {
		return nil, fmt.Errorf("google: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("google: reading response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		apiErr := &APIError{HTTPStatus: resp.StatusCode}
		var envelope struct {
			Error *APIError `json:"error"`
		}
		if json.Unmarshal(body, &envelope) == nil && envelope.Error != nil {
			apiErr = envelope.Error
			apiErr.HTTPStatus = resp.StatusCode
		}
		return nil, apiErr
	}

	var out response
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("google: decoding response: %w", err)
	}
	return &out, nil
}
