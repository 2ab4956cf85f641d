package cache

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
)

// Staging is one in-flight population of a cache entry.
type Staging struct {
	id        string
	dir       string
	archive   string
	final     string
	committed bool
}

// Dir is the work directory that becomes the entry on Commit.
func (s *Staging) Dir() string {
	return s.dir
}

// ArchivePath is where the downloaded package is stored before extraction.
func (s *Staging) ArchivePath() string {
	return s.archive
}

// RemoveArchive deletes the staged archive file. Missing files are ignored.
func (s *Staging) RemoveArchive() error {
	if err := os.Remove(s.archive); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to remove staged archive: %w", err)
	}
	return nil
}

// Commit publishes the work directory as the entry for the staged id and
// returns the entry path. It fails with ErrEntryExists if an entry was
// published in the meantime; the staging is left for Discard.
func (s *Staging) Commit() (string, error) {
	if err := os.Rename(s.dir, s.final); err != nil {
		if _, statErr := os.Stat(s.final); statErr == nil {
			return "", fmt.Errorf("%s: %w", s.id, ErrEntryExists)
		}
		return "", fmt.Errorf("failed to publish cache entry %q: %w", s.id, err)
	}
	s.committed = true
	return s.final, nil
}

// Replace publishes the work directory, swapping out any existing entry.
func (s *Staging) Replace() (string, error) {
	old := s.dir + ".old"
	hadOld := true
	if err := os.Rename(s.final, old); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("failed to unpublish cache entry %q: %w", s.id, err)
		}
		hadOld = false
	}

	if err := os.Rename(s.dir, s.final); err != nil {
		if hadOld {
			_ = os.Rename(old, s.final)
		}
		return "", fmt.Errorf("failed to publish cache entry %q: %w", s.id, err)
	}
	s.committed = true

	if hadOld {
		if err := os.RemoveAll(old); err != nil {
			return s.final, fmt.Errorf("failed to delete replaced entry %q: %w", s.id, err)
		}
	}
	return s.final, nil
}

// Discard removes whatever is left of the staging. It is safe to call
// after Commit and more than once.
func (s *Staging) Discard() error {
	var errs []error
	if err := s.RemoveArchive(); err != nil {
		errs = append(errs, err)
	}
	if !s.committed {
		if err := os.RemoveAll(s.dir); err != nil {
			errs = append(errs, fmt.Errorf("failed to remove staging directory: %w", err))
		}
	}
	return errors.Join(errs...)
}
