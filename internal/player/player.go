// Package player renders cached content packages as standalone HTML pages.
package player

import (
	"context"
	"errors"
	"net/url"
	"strings"

	"github.com/kevingruber/h5p-cache/internal/h5p"
)

var (
	ErrContentNotFound = errors.New("content not found")
)

// Renderer turns a cached content id into an HTML document.
type Renderer interface {
	Render(ctx context.Context, contentID string, user *h5p.User, locale string, opts Options) (string, error)
}

// Options controls the player frame and per-user state handling.
type Options struct {
	ShowCopyButton     bool
	ShowDownloadButton bool
	ShowFrame          bool
	ShowH5PIcon        bool
	ShowLicenseButton  bool

	// ContextID scopes user state to a sub-context of the content.
	ContextID *string
	// AsUserID displays another user's state.
	AsUserID *string
	// ReadOnlyState displays state without persisting changes.
	ReadOnlyState *bool
}

// DefaultOptions enables the full player frame.
func DefaultOptions() Options {
	return Options{
		ShowCopyButton:     true,
		ShowDownloadButton: true,
		ShowFrame:          true,
		ShowH5PIcon:        true,
		ShowLicenseButton:  true,
	}
}

// OptionsFromQuery applies the contextId, asUserId and readOnlyState
// query parameters to DefaultOptions. readOnlyState is true only for "yes".
func OptionsFromQuery(query url.Values) Options {
	opts := DefaultOptions()
	if query.Has("contextId") {
		v := query.Get("contextId")
		opts.ContextID = &v
	}
	if query.Has("asUserId") {
		v := query.Get("asUserId")
		opts.AsUserID = &v
	}
	if query.Has("readOnlyState") {
		v := query.Get("readOnlyState") == "yes"
		opts.ReadOnlyState = &v
	}
	return opts
}

const headMarker = "<head>"

// resizeSnippet disables caching of the embedded page and reports the
// content height to the embedding window once the page has loaded.
const resizeSnippet = `
<meta HTTP-EQUIV="CACHE-CONTROL" CONTENT="NO-CACHE">
<meta HTTP-EQUIV="PRAGMA" CONTENT="NO-CACHE">
<script>
  function sendHeight() {
    const height = document.querySelector('.h5p-content').scrollHeight;
    window.parent.postMessage({ type: 'setHeight', height: height }, '*');
  }

  window.addEventListener('load', function() {
    if (document.readyState === 'complete') {
      setTimeout(sendHeight, 1000);
    } else {
      window.addEventListener('load', () => setTimeout(sendHeight, 1000));
    }
  });
</script>
`

// InjectResizeScript inserts the resize snippet right after the first
// <head> tag. Pages without one are returned unchanged.
func InjectResizeScript(page string) string {
	return strings.Replace(page, headMarker, headMarker+resizeSnippet, 1)
}
