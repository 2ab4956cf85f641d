package player

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"

	"github.com/kevingruber/h5p-cache/internal/cache"
	"github.com/kevingruber/h5p-cache/internal/h5p"
)

// EntryReader reads files of published cache entries.
type EntryReader interface {
	ReadFile(id, name string) ([]byte, error)
}

// PageRenderer renders a page from the manifest and content descriptor
// of a cache entry. Library assets are loaded from AssetsURL.
type PageRenderer struct {
	entries   EntryReader
	assetsURL string
	baseURL   string
}

// NewPageRenderer creates a renderer. baseURL is the prefix content ids
// are played under and is exposed to the client as the content URL.
func NewPageRenderer(entries EntryReader, assetsURL, baseURL string) *PageRenderer {
	return &PageRenderer{entries: entries, assetsURL: assetsURL, baseURL: baseURL}
}

var pageTemplate = template.Must(template.New("page").Parse(`<!doctype html>
<html lang="{{.Locale}}">
<head>
<meta charset="utf-8">
<title>{{.Title}}</title>
{{range .Scripts}}<script src="{{.}}"></script>
{{end}}<script>window.H5PIntegration = {{.Integration}};</script>
</head>
<body>
<div class="h5p-content" data-content-id="{{.ContentID}}"></div>
</body>
</html>
`))

type pageData struct {
	Locale      string
	Title       string
	ContentID   string
	Scripts     []string
	Integration integration
}

type integration struct {
	BaseURL    string                     `json:"baseUrl"`
	URL        string                     `json:"url"`
	User       *h5p.User                  `json:"user,omitempty"`
	SaveState  bool                       `json:"saveState"`
	ContextID  string                     `json:"contextId,omitempty"`
	AsUserID   string                     `json:"asUserId,omitempty"`
	Contents   map[string]contentSettings `json:"contents"`
	L10nLocale string                     `json:"locale"`
}

type contentSettings struct {
	Library        string         `json:"library"`
	JSONContent    string         `json:"jsonContent"`
	Metadata       h5p.Manifest   `json:"metadata"`
	DisplayOptions displayOptions `json:"displayOptions"`
	ContentURL     string         `json:"contentUrl"`
	Dependencies   []string       `json:"dependencies,omitempty"`
}

type displayOptions struct {
	Frame     bool `json:"frame"`
	Export    bool `json:"export"`
	Embed     bool `json:"embed"`
	Copyright bool `json:"copyright"`
	Icon      bool `json:"icon"`
	Copy      bool `json:"copy"`
}

// Render implements Renderer.
func (r *PageRenderer) Render(ctx context.Context, contentID string, user *h5p.User, locale string, opts Options) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	rawManifest, err := r.entries.ReadFile(contentID, h5p.ManifestFile)
	if err != nil {
		return "", r.readError(contentID, err)
	}
	content, err := r.entries.ReadFile(contentID, h5p.ContentFile)
	if err != nil {
		return "", r.readError(contentID, err)
	}

	var manifest h5p.Manifest
	if err := json.Unmarshal(rawManifest, &manifest); err != nil {
		return "", fmt.Errorf("failed to decode manifest of %q: %w", contentID, err)
	}

	library := manifest.MainLibrary
	deps := make([]string, 0, len(manifest.PreloadedDependencies))
	scripts := make([]string, 0, len(manifest.PreloadedDependencies))
	for _, dep := range manifest.PreloadedDependencies {
		deps = append(deps, dep.String())
		dir := fmt.Sprintf("%s-%d.%d", dep.MachineName, dep.MajorVersion, dep.MinorVersion)
		scripts = append(scripts, r.assetsURL+"/libraries/"+dir+"/library.js")
		if dep.MachineName == manifest.MainLibrary {
			library = dep.String()
		}
	}

	// Saving is off when viewing another user's state read-only.
	saveState := user != nil && (opts.ReadOnlyState == nil || !*opts.ReadOnlyState)

	data := pageData{
		Locale:    locale,
		Title:     manifest.Title,
		ContentID: contentID,
		Scripts:   scripts,
		Integration: integration{
			BaseURL:   r.baseURL,
			URL:       r.assetsURL,
			User:      user,
			SaveState: saveState,
			Contents: map[string]contentSettings{
				"cid-" + contentID: {
					Library:     library,
					JSONContent: string(content),
					Metadata:    manifest,
					DisplayOptions: displayOptions{
						Frame:     opts.ShowFrame,
						Export:    opts.ShowDownloadButton,
						Embed:     false,
						Copyright: opts.ShowLicenseButton,
						Icon:      opts.ShowH5PIcon,
						Copy:      opts.ShowCopyButton,
					},
					ContentURL:   r.baseURL + "/" + contentID,
					Dependencies: deps,
				},
			},
			L10nLocale: locale,
		},
	}
	if opts.ContextID != nil {
		data.Integration.ContextID = *opts.ContextID
	}
	if opts.AsUserID != nil {
		data.Integration.AsUserID = *opts.AsUserID
	}

	var buf bytes.Buffer
	if err := pageTemplate.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to render %q: %w", contentID, err)
	}
	return buf.String(), nil
}

func (r *PageRenderer) readError(contentID string, err error) error {
	if errors.Is(err, cache.ErrNotFound) {
		return fmt.Errorf("%q: %w", contentID, ErrContentNotFound)
	}
	return err
}
