package player

import (
	"context"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kevingruber/h5p-cache/internal/cache"
	"github.com/kevingruber/h5p-cache/internal/h5p"
)

func TestInjectResizeScript(t *testing.T) {
	page := "<html><head><title>x</title></head><body><head></head></body></html>"

	out := InjectResizeScript(page)

	assert.True(t, strings.HasPrefix(out, "<html><head>\n<meta HTTP-EQUIV=\"CACHE-CONTROL\""))
	assert.Contains(t, out, "window.parent.postMessage({ type: 'setHeight', height: height }, '*');")
	assert.Equal(t, 1, strings.Count(out, "function sendHeight()"), "only the first <head> is used")
	assert.True(t, strings.HasSuffix(out, "</script>\n<title>x</title></head><body><head></head></body></html>"))
}

func TestInjectResizeScriptWithoutHead(t *testing.T) {
	page := "<p>fragment</p>"
	assert.Equal(t, page, InjectResizeScript(page))
}

func TestOptionsFromQuery(t *testing.T) {
	opts := OptionsFromQuery(url.Values{})
	assert.Equal(t, DefaultOptions(), opts)
	assert.Nil(t, opts.ContextID)
	assert.Nil(t, opts.AsUserID)
	assert.Nil(t, opts.ReadOnlyState)

	opts = OptionsFromQuery(url.Values{
		"contextId":     {"ctx-1"},
		"asUserId":      {"42"},
		"readOnlyState": {"yes"},
	})
	require.NotNil(t, opts.ContextID)
	assert.Equal(t, "ctx-1", *opts.ContextID)
	require.NotNil(t, opts.AsUserID)
	assert.Equal(t, "42", *opts.AsUserID)
	require.NotNil(t, opts.ReadOnlyState)
	assert.True(t, *opts.ReadOnlyState)

	opts = OptionsFromQuery(url.Values{"readOnlyState": {"true"}})
	require.NotNil(t, opts.ReadOnlyState)
	assert.False(t, *opts.ReadOnlyState)
}

func TestPageRendererRendersEntry(t *testing.T) {
	dir := newEntry(t, "demo",
		`{"title":"Maths <quiz>","mainLibrary":"H5P.MultiChoice","preloadedDependencies":[{"machineName":"H5P.MultiChoice","majorVersion":1,"minorVersion":16}]}`,
		`{"question":"2+2?"}`)
	r := NewPageRenderer(dir, "/h5p", "/h5p/play")

	contextID := "ctx-1"
	readOnly := true
	opts := DefaultOptions()
	opts.ContextID = &contextID
	opts.ReadOnlyState = &readOnly

	page, err := r.Render(context.Background(), "demo", &h5p.User{ID: "1", Name: "Ada"}, "de", opts)
	require.NoError(t, err)

	assert.Contains(t, page, "<head>")
	assert.Contains(t, page, `<html lang="de">`)
	assert.Contains(t, page, "<title>Maths &lt;quiz&gt;</title>")
	assert.Contains(t, page, `src="/h5p/libraries/H5P.MultiChoice-1.16/library.js"`)
	assert.Contains(t, page, `"library":"H5P.MultiChoice 1.16"`)
	assert.Contains(t, page, `"contextId":"ctx-1"`)
	assert.Contains(t, page, `"saveState":false`)
	assert.Contains(t, page, `class="h5p-content"`)
}

func TestPageRendererAcceptsStringLibraryVersions(t *testing.T) {
	dir := newEntry(t, "quiz",
		`{"title":"Quiz","mainLibrary":"H5P.MultiChoice","preloadedDependencies":[{"machineName":"H5P.MultiChoice","majorVersion":"1","minorVersion":"16"}],"license":"U"}`,
		`{"question":"2+2?"}`)

	page, err := NewPageRenderer(dir, "/h5p", "/h5p/play").Render(context.Background(), "quiz", nil, "en", DefaultOptions())
	require.NoError(t, err)

	assert.Contains(t, page, "<title>Quiz</title>")
	assert.Contains(t, page, `src="/h5p/libraries/H5P.MultiChoice-1.16/library.js"`)
	assert.Contains(t, page, `"library":"H5P.MultiChoice 1.16"`)
}

func TestPageRendererMissingEntry(t *testing.T) {
	dir, err := cache.NewDirectory(t.TempDir())
	require.NoError(t, err)

	_, err = NewPageRenderer(dir, "/h5p", "/h5p/play").Render(context.Background(), "missing", nil, "en", DefaultOptions())
	assert.ErrorIs(t, err, ErrContentNotFound)
}

func newEntry(t *testing.T, id, manifest, content string) *cache.Directory {
	t.Helper()
	dir, err := cache.NewDirectory(t.TempDir())
	require.NoError(t, err)

	staging, err := dir.NewStaging(id)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(staging.Dir(), h5p.ManifestFile), []byte(manifest), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(staging.Dir(), h5p.ContentFile), []byte(content), 0o644))
	_, err = staging.Commit()
	require.NoError(t, err)
	return dir
}
