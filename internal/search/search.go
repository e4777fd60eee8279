// Package search defines the image-search provider boundary: a request, the
// opaque result handles a provider returns, and the Provider interface.
package search

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// FileTypePNG is the only file type requested from providers.
const FileTypePNG = "png"

// ErrInvalidRequest marks a request that must not reach a provider.
var ErrInvalidRequest = errors.New("search: invalid request")

// Credentials are handed to the provider untouched.
type Credentials struct {
	APIKey   string
	EngineID string
}

// Request is one search call.
type Request struct {
	Query       string
	Count       int
	FileType    string
	SafeSearch  bool
	Credentials Credentials
}

// NewRequest builds a png-only, safe-search-off request for count images.
func NewRequest(query string, count int, creds Credentials) (Request, error) {
	r := Request{
		Query:       query,
		Count:       count,
		FileType:    FileTypePNG,
		SafeSearch:  false,
		Credentials: creds,
	}
	if err := r.Validate(); err != nil {
		return Request{}, err
	}
	return r, nil
}

// Validate rejects an empty query or a non-positive count.
func (r Request) Validate() error {
	if strings.TrimSpace(r.Query) == "" {
		return fmt.Errorf("%w: query is empty", ErrInvalidRequest)
	}
	if r.Count <= 0 {
		return fmt.Errorf("%w: count must be positive, got %d", ErrInvalidRequest, r.Count)
	}
	return nil
}

// Result is a handle to one matched image.
type Result interface {
	// SourceURL is where the image is fetched from.
	SourceURL() string
	// Download writes the image into dir and returns the file path.
	Download(ctx context.Context, dir string) (string, error)
	// Resize rescales the downloaded file in place.
	Resize(width, height int) error
	// Path is the current location of the downloaded file, empty before
	// Download succeeds.
	Path() string
}

// Provider runs searches. Implementations return at most req.Count results,
// in the provider's ranking order; fewer is not an error.
type Provider interface {
	Search(ctx context.Context, req Request) ([]Result, error)
}
