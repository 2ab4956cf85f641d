package contentsync

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/kevingruber/h5p-cache/internal/archive"
	"github.com/kevingruber/h5p-cache/internal/storage"
)

// download streams the object behind url into path and returns the
// number of bytes written. The request inherits ctx, whose deadline
// matches the URL expiry.
func (p *Pipeline) download(ctx context.Context, contentID, url, path string) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, newError(KindStore, contentID, "fetch", err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return 0, newError(KindStore, contentID, "fetch", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return 0, newError(KindStore, contentID, "fetch", storage.ErrNotFound)
	case resp.StatusCode != http.StatusOK:
		// Expired or tampered presigned URLs come back as 403.
		return 0, newError(KindStore, contentID, "fetch",
			fmt.Errorf("unexpected status %d from object store", resp.StatusCode))
	case p.maxArchive > 0 && resp.ContentLength > p.maxArchive:
		return 0, newError(KindExtraction, contentID, "fetch",
			fmt.Errorf("%w: %d bytes, limit %d", archive.ErrTooLarge, resp.ContentLength, p.maxArchive))
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return 0, newError(KindFilesystem, contentID, "fetch", err)
	}

	var body io.Reader = resp.Body
	if p.maxArchive > 0 {
		body = io.LimitReader(resp.Body, p.maxArchive+1)
	}

	n, copyErr := io.Copy(f, body)
	closeErr := f.Close()
	if copyErr != nil {
		var pathErr *os.PathError
		if errors.As(copyErr, &pathErr) {
			return n, newError(KindFilesystem, contentID, "fetch", copyErr)
		}
		return n, newError(KindStore, contentID, "fetch", copyErr)
	}
	if closeErr != nil {
		return n, newError(KindFilesystem, contentID, "fetch", closeErr)
	}
	if p.maxArchive > 0 && n > p.maxArchive {
		return n, newError(KindExtraction, contentID, "fetch",
			fmt.Errorf("%w: limit %d bytes", archive.ErrTooLarge, p.maxArchive))
	}
	return n, nil
}
