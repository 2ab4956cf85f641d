// Package archive expands downloaded content packages into a directory
// tree in-process.
package archive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zip"
)

var (
	ErrCorrupt     = errors.New("corrupt archive")
	ErrUnsupported = errors.New("unsupported archive format")
	ErrNotWritable = errors.New("destination not writable")
	ErrUnsafePath  = errors.New("archive entry escapes destination")
	ErrTooLarge    = errors.New("archive exceeds size limit")
)

var zipSignatures = [][]byte{
	[]byte("PK\x03\x04"),
	[]byte("PK\x05\x06"), // empty archive
	[]byte("PK\x07\x08"), // spanned archive
}

// Extractor expands an archive file into a destination directory.
type Extractor interface {
	Extract(ctx context.Context, archivePath, destDir string) error
}

// ZipExtractor extracts zip containers (.zip and .h5p packages).
type ZipExtractor struct {
	// MaxBytes bounds the total uncompressed size. Zero means unbounded.
	MaxBytes int64
}

// NewZipExtractor creates an extractor with the given uncompressed size limit.
func NewZipExtractor(maxBytes int64) *ZipExtractor {
	return &ZipExtractor{MaxBytes: maxBytes}
}

// Extract expands archivePath into destDir, which must already exist.
func (x *ZipExtractor) Extract(ctx context.Context, archivePath, destDir string) error {
	if err := sniff(archivePath); err != nil {
		return err
	}

	r, err := zip.OpenReader(archivePath)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrCorrupt, err)
	}
	defer r.Close()

	destDir = filepath.Clean(destDir)
	var written int64
	for _, f := range r.File {
		if err := ctx.Err(); err != nil {
			return err
		}

		target, err := entryPath(destDir, f.Name)
		if err != nil {
			return err
		}

		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return fmt.Errorf("%w: %w", ErrNotWritable, err)
			}
			continue
		}
		if !f.Mode().IsRegular() {
			// Symlinks and devices have no place in a content package.
			continue
		}

		n, err := x.extractFile(f, target, written)
		if err != nil {
			return err
		}
		written += n
	}
	return nil
}

func (x *ZipExtractor) extractFile(f *zip.File, target string, written int64) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return 0, fmt.Errorf("%w: %w", ErrNotWritable, err)
	}

	src, err := f.Open()
	if err != nil {
		if errors.Is(err, zip.ErrAlgorithm) {
			return 0, fmt.Errorf("%w: %s: %w", ErrUnsupported, f.Name, err)
		}
		return 0, fmt.Errorf("%w: %s: %w", ErrCorrupt, f.Name, err)
	}
	defer src.Close()

	dst, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrNotWritable, err)
	}

	var reader io.Reader = src
	if x.MaxBytes > 0 {
		reader = io.LimitReader(src, x.MaxBytes-written+1)
	}

	n, copyErr := io.Copy(dst, reader)
	closeErr := dst.Close()
	switch {
	case copyErr != nil:
		var pathErr *os.PathError
		if errors.As(copyErr, &pathErr) {
			return n, fmt.Errorf("%w: %w", ErrNotWritable, copyErr)
		}
		return n, fmt.Errorf("%w: %s: %w", ErrCorrupt, f.Name, copyErr)
	case closeErr != nil:
		return n, fmt.Errorf("%w: %w", ErrNotWritable, closeErr)
	case x.MaxBytes > 0 && written+n > x.MaxBytes:
		return n, fmt.Errorf("%w: more than %d bytes uncompressed", ErrTooLarge, x.MaxBytes)
	}
	return n, nil
}

// entryPath resolves an archive entry name below destDir.
func entryPath(destDir, name string) (string, error) {
	name = strings.ReplaceAll(name, `\`, "/")
	if filepath.IsAbs(name) || strings.HasPrefix(name, "/") {
		return "", fmt.Errorf("%w: %q", ErrUnsafePath, name)
	}

	target := filepath.Join(destDir, filepath.FromSlash(name))
	if target != destDir && !strings.HasPrefix(target, destDir+string(os.PathSeparator)) {
		return "", fmt.Errorf("%w: %q", ErrUnsafePath, name)
	}
	return target, nil
}

// sniff rejects files that are not zip containers before the reader
// tries to locate a central directory in them.
func sniff(archivePath string) error {
	f, err := os.Open(archivePath)
	if err != nil {
		return fmt.Errorf("failed to open archive: %w", err)
	}
	defer f.Close()

	header := make([]byte, 4)
	if _, err := io.ReadFull(f, header); err != nil {
		return fmt.Errorf("%w: truncated header", ErrCorrupt)
	}
	for _, sig := range zipSignatures {
		if bytes.Equal(header, sig) {
			return nil
		}
	}
	return fmt.Errorf("%w: unrecognised signature %x", ErrUnsupported, header)
}
