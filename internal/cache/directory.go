// Package cache manages the on-disk content cache. The layout is:
//
//	<root>/<contentID>/h5p.json      manifest, verbatim from the package
//	<root>/<contentID>/content.json  promoted content descriptor
//	<root>/.staging/<process>/       in-flight work, never read by the player
//
// An entry directory only appears through a rename out of .staging, so
// its presence means it is complete. Each Directory stages under its own
// process directory, so replicas sharing a volume never touch each
// other's work.
package cache

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kevingruber/h5p-cache/internal/h5p"
)

const stagingDirName = ".staging"

// DefaultStaleAfter is how old abandoned staging work must be before
// NewDirectory sweeps it.
const DefaultStaleAfter = 24 * time.Hour

var (
	ErrNotFound    = errors.New("cache entry not found")
	ErrEntryExists = errors.New("cache entry already exists")
)

// Directory is the filesystem namespace holding one entry per content id.
type Directory struct {
	root       string
	staging    string
	staleAfter time.Duration
}

// Option configures a Directory.
type Option func(*Directory)

// WithStaleAfter sets the age at which staging work left behind by
// crashed processes is swept.
func WithStaleAfter(d time.Duration) Option {
	return func(dir *Directory) {
		if d > 0 {
			dir.staleAfter = d
		}
	}
}

// NewDirectory creates the cache root and a staging directory private to
// this process. Staging work older than the stale age is removed,
// whichever process left it.
func NewDirectory(root string, opts ...Option) (*Directory, error) {
	if root == "" {
		return nil, errors.New("cache root required")
	}

	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve cache root: %w", err)
	}

	d := &Directory{root: abs, staleAfter: DefaultStaleAfter}
	for _, opt := range opts {
		opt(d)
	}

	shared := filepath.Join(abs, stagingDirName)
	if err := os.MkdirAll(shared, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create staging area: %w", err)
	}
	if err := sweepStaging(shared, time.Now().Add(-d.staleAfter)); err != nil {
		return nil, fmt.Errorf("failed to clear staging area: %w", err)
	}

	d.staging = filepath.Join(shared, uuid.NewString())
	if err := os.Mkdir(d.staging, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create staging area: %w", err)
	}
	return d, nil
}

// sweepStaging removes staging work last modified before cutoff. Process
// directories are removed once they are empty and stale themselves.
func sweepStaging(shared string, cutoff time.Time) error {
	procs, err := os.ReadDir(shared)
	if err != nil {
		return err
	}

	var errs []error
	for _, proc := range procs {
		path := filepath.Join(shared, proc.Name())
		info, err := proc.Info()
		if err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				errs = append(errs, err)
			}
			continue
		}

		if !info.IsDir() {
			if info.ModTime().Before(cutoff) {
				errs = append(errs, removeStale(path))
			}
			continue
		}

		items, err := os.ReadDir(path)
		if err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				errs = append(errs, err)
			}
			continue
		}
		for _, item := range items {
			itemInfo, err := item.Info()
			if err != nil || !itemInfo.ModTime().Before(cutoff) {
				continue
			}
			errs = append(errs, removeStale(filepath.Join(path, item.Name())))
		}

		// Fails harmlessly if the owner is still staging in it.
		if info.ModTime().Before(cutoff) {
			_ = os.Remove(path)
		}
	}
	return errors.Join(errs...)
}

func removeStale(path string) error {
	if err := os.RemoveAll(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// Root returns the absolute cache root.
func (d *Directory) Root() string {
	return d.root
}

// StagingDir returns the staging directory private to this Directory.
func (d *Directory) StagingDir() string {
	return d.staging
}

// Path returns the entry directory for id.
func (d *Directory) Path(id string) (string, error) {
	if err := h5p.ValidateContentID(id); err != nil {
		return "", err
	}
	return filepath.Join(d.root, id), nil
}

// Exists reports whether a published entry exists for id.
func (d *Directory) Exists(ctx context.Context, id string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	dir, err := d.Path(id)
	if err != nil {
		return false, err
	}

	info, err := os.Stat(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("failed to stat cache entry %q: %w", id, err)
	}
	return info.IsDir(), nil
}

// ReadFile reads one file of a published entry.
func (d *Directory) ReadFile(id, name string) ([]byte, error) {
	dir, err := d.Path(id)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(filepath.Join(dir, filepath.Base(name)))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%s/%s: %w", id, name, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to read %s/%s: %w", id, name, err)
	}
	return data, nil
}

// List returns the ids of all published entries in lexical order.
func (d *Directory) List() ([]string, error) {
	entries, err := os.ReadDir(d.root)
	if err != nil {
		return nil, fmt.Errorf("failed to list cache root: %w", err)
	}

	ids := make([]string, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		ids = append(ids, entry.Name())
	}
	sort.Strings(ids)
	return ids, nil
}

// Remove deletes the entry for id. The entry is first moved into the
// staging area so it disappears from readers in a single step.
func (d *Directory) Remove(id string) error {
	dir, err := d.Path(id)
	if err != nil {
		return err
	}

	base, err := d.stagingPath(id)
	if err != nil {
		return err
	}
	trash := base + ".trash"
	if err := os.Rename(dir, trash); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%s: %w", id, ErrNotFound)
		}
		return fmt.Errorf("failed to unpublish cache entry %q: %w", id, err)
	}
	if err := os.RemoveAll(trash); err != nil {
		return fmt.Errorf("failed to delete cache entry %q: %w", id, err)
	}
	return nil
}

// NewStaging reserves a fresh work directory and archive path for id.
// Names are unique per attempt, so concurrent populations of different
// ids (or retries of the same id) never share files.
func (d *Directory) NewStaging(id string) (*Staging, error) {
	final, err := d.Path(id)
	if err != nil {
		return nil, err
	}

	base, err := d.stagingPath(id)
	if err != nil {
		return nil, err
	}
	if err := os.Mkdir(base, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create staging directory: %w", err)
	}

	return &Staging{
		id:      id,
		dir:     base,
		archive: base + ".zip",
		final:   final,
	}, nil
}

// stagingPath returns a fresh path in the process staging directory,
// recreating the directory if another process swept it while idle.
func (d *Directory) stagingPath(id string) (string, error) {
	if err := os.MkdirAll(d.staging, 0o755); err != nil {
		return "", fmt.Errorf("failed to create staging area: %w", err)
	}
	return filepath.Join(d.staging, id+"."+uuid.NewString()), nil
}
