// Package resize rescales saved images in place.
package resize

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp"
)

// ErrUnknownFormat is returned for files no registered decoder recognises.
var ErrUnknownFormat = errors.New("resize: unknown image format")

// Info describes a resized file.
type Info struct {
	Path         string // final path; differs from the input when re-encoded as png
	Format       string // decoded source format, e.g. "jpeg"
	SourceWidth  int
	SourceHeight int
	Width        int
	Height       int
	Bytes        int64
}

// File decodes the image at path, scales it to exactly width x height with a
// Lanczos filter and overwrites it. The output format follows the file
// extension; when the extension names a format imaging cannot encode (webp,
// or none at all) the image is written as png under a name no other file
// uses, and the original is removed.
func File(path string, width, height int) (Info, error) {
	if width <= 0 || height <= 0 {
		return Info{}, fmt.Errorf("resize: invalid target size %dx%d", width, height)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Info{}, err
	}

	src, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		if errors.Is(err, image.ErrFormat) {
			return Info{}, fmt.Errorf("%w: %s", ErrUnknownFormat, filepath.Base(path))
		}
		return Info{}, fmt.Errorf("resize: decode %s: %w", filepath.Base(path), err)
	}

	dst := imaging.Resize(src, width, height, imaging.Lanczos)

	out := path
	enc, err := imaging.FormatFromFilename(path)
	if err != nil {
		enc = imaging.PNG
		out, err = reservePNG(strings.TrimSuffix(path, filepath.Ext(path)))
		if err != nil {
			return Info{}, err
		}
	}

	size, err := writeAtomic(out, func(buf *bytes.Buffer) error {
		return imaging.Encode(buf, dst, enc)
	})
	if err != nil {
		if out != path {
			os.Remove(out)
		}
		return Info{}, err
	}
	if out != path {
		if err := os.Remove(path); err != nil {
			return Info{}, err
		}
	}

	b := src.Bounds()
	return Info{
		Path:         out,
		Format:       format,
		SourceWidth:  b.Dx(),
		SourceHeight: b.Dy(),
		Width:        dst.Bounds().Dx(),
		Height:       dst.Bounds().Dy(),
		Bytes:        size,
	}, nil
}

// reservePNG creates an empty stem.png, or stem-1.png, stem-2.png, ... when
// taken, so the re-encoded image never replaces another file.
func reservePNG(stem string) (string, error) {
	name := stem + ".png"
	for i := 1; ; i++ {
		f, err := os.OpenFile(name, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if err == nil {
			return name, f.Close()
		}
		if !errors.Is(err, fs.ErrExist) || i > 9999 {
			return "", err
		}
		name = stem + "-" + strconv.Itoa(i) + ".png"
	}
}

// writeAtomic encodes into memory, writes a sibling temp file and renames it
// over path so a failed encode never leaves a truncated image behind.
func writeAtomic(path string, encode func(*bytes.Buffer) error) (int64, error) {
	var buf bytes.Buffer
	if err := encode(&buf); err != nil {
		return 0, fmt.Errorf("resize: encode %s: %w", filepath.Base(path), err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".resize-*")
	if err != nil {
		return 0, err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		return 0, err
	}
	if err := tmp.Close(); err != nil {
		return 0, err
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return 0, err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return 0, err
	}
	return int64(buf.Len()), nil
}
