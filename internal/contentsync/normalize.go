package contentsync

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/kevingruber/h5p-cache/internal/h5p"
)

// retainedFiles is everything the player reads from an entry.
var retainedFiles = map[string]bool{
	h5p.ManifestFile: true,
	h5p.ContentFile:  true,
}

// normalize promotes content/content.json to the top of dir and checks
// that both retained files are present and well-formed JSON. A package
// that already ships content.json at the top level is accepted as-is.
func normalize(dir string) error {
	nested := filepath.Join(dir, h5p.NestedContentDir, h5p.ContentFile)
	top := filepath.Join(dir, h5p.ContentFile)

	if isRegularFile(nested) {
		if err := os.Rename(nested, top); err != nil {
			return fmt.Errorf("promote %s: %w", h5p.ContentFile, err)
		}
	} else if !isRegularFile(top) {
		return fmt.Errorf("%w: missing %s/%s", ErrInvalidPackage, h5p.NestedContentDir, h5p.ContentFile)
	}

	content, err := os.ReadFile(top)
	if err != nil {
		return fmt.Errorf("read %s: %w", h5p.ContentFile, err)
	}
	if !json.Valid(content) {
		return fmt.Errorf("%w: %s is not valid JSON", ErrInvalidPackage, h5p.ContentFile)
	}

	manifest, err := os.ReadFile(filepath.Join(dir, h5p.ManifestFile))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: missing %s", ErrInvalidPackage, h5p.ManifestFile)
		}
		return fmt.Errorf("read %s: %w", h5p.ManifestFile, err)
	}
	if !json.Valid(manifest) {
		return fmt.Errorf("%w: %s is not valid JSON", ErrInvalidPackage, h5p.ManifestFile)
	}
	return nil
}

// prune deletes every top-level file or directory of dir that is not
// in retainedFiles.
func prune(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("list extracted files: %w", err)
	}

	for _, entry := range entries {
		if retainedFiles[entry.Name()] && entry.Type().IsRegular() {
			continue
		}
		if err := os.RemoveAll(filepath.Join(dir, entry.Name())); err != nil {
			return fmt.Errorf("prune %s: %w", entry.Name(), err)
		}
	}
	return nil
}

func isRegularFile(path string) bool {
	info, err := os.Lstat(path)
	return err == nil && info.Mode().IsRegular()
}
