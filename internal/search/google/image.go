package google

import (
	"context"
	"errors"
	"fmt"

	"github.com/FranksOps/imgfetch/internal/download"
	"github.com/FranksOps/imgfetch/internal/resize"
	"github.com/FranksOps/imgfetch/internal/search"
)

var _ search.Result = (*Image)(nil)

// Image is one image search hit.
type Image struct {
	Title       string
	Link        string
	ContextLink string // page the image appears on
	Mime        string
	Width       int // as reported by the API, before resizing
	Height      int

	dl   *download.Downloader
	path string
}

func (i *Image) SourceURL() string { return i.Link }

func (i *Image) Path() string { return i.path }

// Download saves the image into dir.
func (i *Image) Download(ctx context.Context, dir string) (string, error) {
	if i.dl == nil {
		return "", errors.New("google: image has no downloader")
	}
	saved, err := i.dl.Save(ctx, i.Link, dir)
	if err != nil {
		return "", err
	}
	i.path = saved.Path
	return i.path, nil
}

// Resize rescales the downloaded file to exactly width x height.
func (i *Image) Resize(width, height int) error {
	if i.path == "" {
		return fmt.Errorf("google: %s resized before download", i.Link)
	}
	info, err := resize.File(i.path, width, height)
	if err != nil {
		return err
	}
	i.path = info.Path
	return nil
}
