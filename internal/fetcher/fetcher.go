// Package fetcher runs one image batch: a single search, then download,
// resize and save of every result in provider order.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/FranksOps/imgfetch/internal/metrics"
	"github.com/FranksOps/imgfetch/internal/search"
	"github.com/FranksOps/imgfetch/internal/storage"
	"github.com/google/uuid"
)

// Every saved image is resized to exactly this size.
const (
	Width  = 500
	Height = 500
)

// Options configures an ImageFetcher. Only Provider is required.
type Options struct {
	Provider search.Provider
	// Progress receives one "Saved image N to DIR" line per saved image.
	// Defaults to os.Stdout.
	Progress io.Writer
	Logger   *slog.Logger
	// Recorder, when set, receives a manifest record per processed image.
	Recorder storage.Backend
}

// ImageFetcher fetches, resizes and saves the results of one query.
type ImageFetcher struct {
	provider search.Provider
	progress io.Writer
	logger   *slog.Logger
	recorder storage.Backend
	now      func() time.Time
}

// Run summarises a completed batch.
type Run struct {
	ID         string
	Query      string
	OutputPath string
	Requested  int
	Paths      []string // saved files, in provider order
}

// New returns an ImageFetcher for opts.
func New(opts Options) (*ImageFetcher, error) {
	if opts.Provider == nil {
		return nil, errors.New("fetcher: provider is required")
	}
	if opts.Progress == nil {
		opts.Progress = os.Stdout
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &ImageFetcher{
		provider: opts.Provider,
		progress: opts.Progress,
		logger:   opts.Logger,
		recorder: opts.Recorder,
		now:      time.Now,
	}, nil
}

// FetchImages searches for query and saves up to numImages png results into
// outputPath, each resized to Width x Height. apiKey and cseID are passed to
// the provider unchanged.
//
// Results are handled strictly in order and the first failure ends the batch:
// no progress line is written for the failing image or any after it. Finding
// no images is not an error.
func (f *ImageFetcher) FetchImages(ctx context.Context, query string, numImages int, outputPath, apiKey, cseID string) (*Run, error) {
	req, err := search.NewRequest(query, numImages, search.Credentials{APIKey: apiKey, EngineID: cseID})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidArgument, err)
	}
	if outputPath == "" {
		return nil, fmt.Errorf("%w: output path is empty", ErrInvalidArgument)
	}

	if err := os.MkdirAll(outputPath, 0o755); err != nil {
		return nil, fmt.Errorf("%w: creating %s: %w", ErrFilesystem, outputPath, err)
	}

	run := &Run{
		ID:         uuid.NewString(),
		Query:      query,
		OutputPath: outputPath,
		Requested:  numImages,
	}
	log := f.logger.With("run_id", run.ID, "query", query)

	results, err := f.provider.Search(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("%w: search %q: %w", ErrProvider, query, err)
	}
	if len(results) > numImages {
		results = results[:numImages]
	}
	log.Info("search complete", "requested", numImages, "found", len(results))

	for i, res := range results {
		idx := i + 1
		path, err := f.process(ctx, run, idx, res)
		if err != nil {
			log.Error("image failed", "index", idx, "url", res.SourceURL(), "err", err)
			return nil, err
		}
		run.Paths = append(run.Paths, path)
		fmt.Fprintf(f.progress, "Saved image %d to %s\n", idx, outputPath)
	}

	log.Info("batch complete", "saved", len(run.Paths), "output", outputPath)
	return run, nil
}

// process downloads then resizes one result and records the outcome.
func (f *ImageFetcher) process(ctx context.Context, run *Run, idx int, res search.Result) (string, error) {
	start := f.now()
	rec := &storage.Record{
		ID:        uuid.NewString(),
		RunID:     run.ID,
		Query:     run.Query,
		Index:     idx,
		SourceURL: res.SourceURL(),
		CreatedAt: start.UTC(),
	}

	var itemErr error
	if _, err := res.Download(ctx, run.OutputPath); err != nil {
		metrics.RecordImage(metrics.OutcomeDownloadError)
		itemErr = classify(err, "image %d (%s): download", idx, res.SourceURL())
	} else if err := res.Resize(Width, Height); err != nil {
		metrics.RecordImage(metrics.OutcomeResizeError)
		itemErr = classify(err, "image %d (%s): resize", idx, res.SourceURL())
	} else {
		metrics.RecordImage(metrics.OutcomeSaved)
	}

	rec.Path = res.Path()
	rec.Duration = f.now().Sub(start)
	if itemErr != nil {
		rec.Error = itemErr.Error()
	} else {
		rec.Width, rec.Height = Width, Height
		if st, err := os.Stat(rec.Path); err == nil {
			rec.Bytes = st.Size()
		}
	}

	if f.recorder != nil {
		if err := f.recorder.Save(ctx, rec); err != nil {
			if itemErr != nil {
				return "", itemErr
			}
			return "", fmt.Errorf("%w: manifest: %w", ErrFilesystem, err)
		}
	}
	return rec.Path, itemErr
}
