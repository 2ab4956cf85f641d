// Package editor implements the authoring surface on top of the content
// cache: it writes entries directly instead of syncing them from the
// object store.
package editor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/kevingruber/h5p-cache/internal/cache"
	"github.com/kevingruber/h5p-cache/internal/h5p"
	"github.com/kevingruber/h5p-cache/internal/lock"
)

var (
	ErrInvalidInput = errors.New("invalid editor input")
)

// Editor creates, updates and deletes content.
type Editor interface {
	// Render returns the editor page. An empty contentID opens a blank editor.
	Render(ctx context.Context, contentID, locale string, user *h5p.User) (string, error)
	// SaveOrUpdate stores content and returns its id. An empty contentID
	// creates new content with a generated id.
	SaveOrUpdate(ctx context.Context, contentID string, params, metadata json.RawMessage, library string, user *h5p.User) (string, error)
	Delete(ctx context.Context, contentID string, user *h5p.User) error
}

// FileEditor stores content in the cache directory. It takes the same
// per-id lock as the sync pipeline so edits never interleave with a
// population of the same id.
type FileEditor struct {
	dir    *cache.Directory
	locker lock.Locker
	logger zerolog.Logger
}

func NewFileEditor(dir *cache.Directory, locker lock.Locker, logger zerolog.Logger) *FileEditor {
	return &FileEditor{
		dir:    dir,
		locker: locker,
		logger: logger.With().Str("component", "editor").Logger(),
	}
}

var editorTemplate = template.Must(template.New("editor").Parse(`<!doctype html>
<html lang="{{.Locale}}">
<head>
<meta charset="utf-8">
<title>{{if .ContentID}}Edit {{.Title}}{{else}}New content{{end}}</title>
</head>
<body>
<form id="h5p-editor" data-content-id="{{.ContentID}}">
<input name="library" value="{{.Library}}">
<textarea name="metadata">{{.Metadata}}</textarea>
<textarea name="params">{{.Params}}</textarea>
<button type="submit">Save</button>
</form>
<script>
  const form = document.getElementById('h5p-editor');
  form.addEventListener('submit', async (event) => {
    event.preventDefault();
    const id = form.dataset.contentId;
    const body = {
      library: form.library.value,
      params: { params: JSON.parse(form.params.value), metadata: JSON.parse(form.metadata.value) }
    };
    const res = await fetch(id ? '/edit/' + id : '/new', {
      method: 'POST',
      headers: { 'Content-Type': 'application/json' },
      body: JSON.stringify(body)
    });
    const saved = await res.json();
    window.location = '/edit/' + saved.contentId;
  });
</script>
</body>
</html>
`))

type editorData struct {
	Locale    string
	ContentID string
	Title     string
	Library   string
	Metadata  string
	Params    string
}

// Render implements Editor.
func (e *FileEditor) Render(ctx context.Context, contentID, locale string, user *h5p.User) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	data := editorData{Locale: locale, Metadata: "{}", Params: "{}"}
	if contentID != "" {
		manifest, raw, params, err := e.load(contentID)
		if err != nil {
			return "", err
		}
		var metadata bytes.Buffer
		if err := json.Indent(&metadata, raw, "", "  "); err != nil {
			return "", fmt.Errorf("failed to format metadata: %w", err)
		}
		data.ContentID = contentID
		data.Title = manifest.Title
		data.Library = manifest.MainLibrary
		for _, dep := range manifest.PreloadedDependencies {
			if dep.MachineName == manifest.MainLibrary {
				data.Library = dep.String()
			}
		}
		data.Metadata = metadata.String()
		data.Params = string(params)
	}

	var buf bytes.Buffer
	if err := editorTemplate.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to render editor: %w", err)
	}
	return buf.String(), nil
}

// SaveOrUpdate implements Editor.
func (e *FileEditor) SaveOrUpdate(ctx context.Context, contentID string, params, metadata json.RawMessage, library string, user *h5p.User) (string, error) {
	if !json.Valid(params) {
		return "", fmt.Errorf("%w: params is not valid JSON", ErrInvalidInput)
	}
	dep, err := h5p.ParseLibraryName(library)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	rawManifest, err := mergeManifest(metadata, dep)
	if err != nil {
		return "", err
	}

	if contentID == "" {
		contentID = uuid.NewString()
	}
	if err := h5p.ValidateContentID(contentID); err != nil {
		return "", err
	}

	unlock, err := e.locker.Lock(ctx, contentID)
	if err != nil {
		return "", err
	}
	defer unlock()

	staging, err := e.dir.NewStaging(contentID)
	if err != nil {
		return "", err
	}
	defer staging.Discard()

	if err := os.WriteFile(filepath.Join(staging.Dir(), h5p.ManifestFile), rawManifest, 0o644); err != nil {
		return "", fmt.Errorf("failed to write manifest: %w", err)
	}
	if err := os.WriteFile(filepath.Join(staging.Dir(), h5p.ContentFile), params, 0o644); err != nil {
		return "", fmt.Errorf("failed to write content: %w", err)
	}

	if _, err := staging.Replace(); err != nil {
		return "", err
	}

	event := e.logger.Info().Str("content_id", contentID).Str("library", dep.String())
	if user != nil {
		event = event.Str("user", user.ID)
	}
	event.Msg("content saved")
	return contentID, nil
}

// Delete implements Editor.
func (e *FileEditor) Delete(ctx context.Context, contentID string, user *h5p.User) error {
	unlock, err := e.locker.Lock(ctx, contentID)
	if err != nil {
		return err
	}
	defer unlock()

	if err := e.dir.Remove(contentID); err != nil {
		return err
	}

	event := e.logger.Info().Str("content_id", contentID)
	if user != nil {
		event = event.Str("user", user.ID)
	}
	event.Msg("content deleted")
	return nil
}

func (e *FileEditor) load(contentID string) (h5p.Manifest, json.RawMessage, json.RawMessage, error) {
	var manifest h5p.Manifest
	raw, err := e.dir.ReadFile(contentID, h5p.ManifestFile)
	if err != nil {
		return manifest, nil, nil, err
	}
	if err := json.Unmarshal(raw, &manifest); err != nil {
		return manifest, nil, nil, fmt.Errorf("failed to decode manifest of %q: %w", contentID, err)
	}
	params, err := e.dir.ReadFile(contentID, h5p.ContentFile)
	if err != nil {
		return manifest, nil, nil, err
	}
	return manifest, raw, params, nil
}

// mergeManifest sets the main library and its dependency entry on the
// submitted metadata. Every other metadata field is kept verbatim.
func mergeManifest(metadata json.RawMessage, dep h5p.Dependency) ([]byte, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(metadata, &fields); err != nil {
		return nil, fmt.Errorf("%w: metadata: %v", ErrInvalidInput, err)
	}
	if fields == nil {
		fields = make(map[string]json.RawMessage)
	}

	var deps []h5p.Dependency
	if raw, ok := fields["preloadedDependencies"]; ok {
		if err := json.Unmarshal(raw, &deps); err != nil {
			return nil, fmt.Errorf("%w: preloadedDependencies: %v", ErrInvalidInput, err)
		}
	}

	mainLibrary, err := json.Marshal(dep.MachineName)
	if err != nil {
		return nil, fmt.Errorf("failed to encode manifest: %w", err)
	}
	preloaded, err := json.Marshal(withDependency(deps, dep))
	if err != nil {
		return nil, fmt.Errorf("failed to encode manifest: %w", err)
	}
	fields["mainLibrary"] = mainLibrary
	fields["preloadedDependencies"] = preloaded

	manifest, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("failed to encode manifest: %w", err)
	}
	return manifest, nil
}

func withDependency(deps []h5p.Dependency, dep h5p.Dependency) []h5p.Dependency {
	for i, d := range deps {
		if d.MachineName == dep.MachineName {
			deps[i] = dep
			return deps
		}
	}
	return append(deps, dep)
}
