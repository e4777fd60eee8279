package download

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io/fs"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// ErrNotImage is returned when a download's bytes decode as no known format.
var ErrNotImage = errors.New("download: response is not an image")

const maxNameLen = 80

var extensions = map[string]string{
	"png":  ".png",
	"jpeg": ".jpg",
	"gif":  ".gif",
	"bmp":  ".bmp",
	"tiff": ".tiff",
	"webp": ".webp",
}

// Saved describes an image written to disk.
type Saved struct {
	SourceURL string
	Path      string
	Format    string
	Width     int
	Height    int
	Bytes     int64
	Duration  time.Duration
}

// Save downloads rawURL into dir. The file is named after the last URL path
// segment, with the extension corrected to the sniffed format, and suffixed
// -1, -2, ... when the name is already taken. Existing files are never
// overwritten.
func (d *Downloader) Save(ctx context.Context, rawURL, dir string) (*Saved, error) {
	p, err := d.Fetch(ctx, rawURL)
	if err != nil {
		return nil, err
	}

	cfg, format, err := image.DecodeConfig(bytes.NewReader(p.Body))
	if err != nil {
		return nil, fmt.Errorf("%w: %s (content-type %q)", ErrNotImage, rawURL, p.ContentType)
	}

	f, err := createUnique(dir, baseName(rawURL), extensions[format])
	if err != nil {
		return nil, err
	}
	if _, err := f.Write(p.Body); err != nil {
		f.Close()
		os.Remove(f.Name())
		return nil, err
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return nil, err
	}

	return &Saved{
		SourceURL: rawURL,
		Path:      f.Name(),
		Format:    format,
		Width:     cfg.Width,
		Height:    cfg.Height,
		Bytes:     int64(len(p.Body)),
		Duration:  p.Duration,
	}, nil
}

// baseName derives a safe file stem from the URL's last path segment.
func baseName(rawURL string) string {
	stem := ""
	if u, err := url.Parse(rawURL); err == nil {
		stem = path.Base(u.Path)
		stem = strings.TrimSuffix(stem, path.Ext(stem))
	}

	var b strings.Builder
	for _, r := range stem {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		case r == ' ', r == '.', r == '+':
			b.WriteByte('_')
		}
		if b.Len() >= maxNameLen {
			break
		}
	}

	name := strings.Trim(b.String(), "_-")
	if name == "" {
		return "image"
	}
	return name
}

// createUnique opens a new file stem+ext in dir, adding a numeric suffix
// until the name is free.
func createUnique(dir, stem, ext string) (*os.File, error) {
	name := stem + ext
	for i := 1; ; i++ {
		f, err := os.OpenFile(filepath.Join(dir, name), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if err == nil {
			return f, nil
		}
		if !errors.Is(err, fs.ErrExist) || i > 9999 {
			return nil, err
		}
		name = stem + "-" + strconv.Itoa(i) + ext
	}
}
