// Package imaging resizes captures and writes them to disk.
package imaging

import (
	"bytes"
	"image"
	"image/jpeg"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/image/draw"
)

// Downscale shrinks img so neither side exceeds maxDim, preserving aspect
// ratio. Images already within bounds are returned unchanged.
func Downscale(img image.Image, maxDim int) image.Image {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if maxDim <= 0 || (w <= maxDim && h <= maxDim) {
		return img
	}

	var nw, nh int
	if w >= h {
		nw = maxDim
		nh = max(1, h*maxDim/w)
	} else {
		nh = maxDim
		nw = max(1, w*maxDim/h)
	}

	dst := image.NewRGBA(image.Rect(0, 0, nw, nh))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
	return dst
}

// WriteJPEG encodes img and moves it into place at path with a rename, so
// readers never observe a partially written file.
func WriteJPEG(path string, img image.Image, quality int) error {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return errors.Wrap(err, "failed to encode jpeg")
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return errors.Wrap(err, "failed to create screenshot directory")
	}

	tmp, err := os.CreateTemp(dir, ".snaptrail-*.tmp")
	if err != nil {
		return errors.Wrap(err, "failed to create temp file")
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		_ = os.Remove(tmpPath)
		return errors.Wrap(err, "failed to write temp file")
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return errors.Wrap(err, "failed to close temp file")
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return errors.Wrapf(err, "failed to move screenshot into %s", path)
	}
	return nil
}

// Save reserves a path for a capture taken at t and writes img there. The
// reservation is released if the write fails.
func Save(dir string, t time.Time, label string, img image.Image, quality int) (string, error) {
	path, err := PathFor(dir, t, label)
	if err != nil {
		return "", err
	}
	if err := WriteJPEG(path, img, quality); err != nil {
		_ = os.Remove(path)
		return "", err
	}
	return path, nil
}
