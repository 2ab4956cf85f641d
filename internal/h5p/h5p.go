// Package h5p holds the content package types shared by the cache,
// the sync pipeline, the player and the editor.
package h5p

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

const (
	// ManifestFile is the package metadata file at the root of every package.
	ManifestFile = "h5p.json"
	// ContentFile is the content descriptor that drives rendering.
	ContentFile = "content.json"
	// NestedContentDir is where packages keep ContentFile inside the archive.
	NestedContentDir = "content"

	maxContentIDLength = 255
)

var (
	ErrInvalidContentID = errors.New("invalid content id")
)

// ValidateContentID checks that id can be used as a single directory
// name under the cache root. Leading dots are reserved for internal
// directories such as the staging area.
func ValidateContentID(id string) error {
	switch {
	case id == "":
		return fmt.Errorf("%w: empty", ErrInvalidContentID)
	case len(id) > maxContentIDLength:
		return fmt.Errorf("%w: longer than %d bytes", ErrInvalidContentID, maxContentIDLength)
	case strings.HasPrefix(id, "."):
		return fmt.Errorf("%w: %q starts with a dot", ErrInvalidContentID, id)
	case strings.ContainsAny(id, "/\\\x00"):
		return fmt.Errorf("%w: %q contains a path separator", ErrInvalidContentID, id)
	}
	return nil
}

// Manifest is the subset of h5p.json used by the player and editor.
type Manifest struct {
	Title                 string       `json:"title"`
	Language              string       `json:"language,omitempty"`
	MainLibrary           string       `json:"mainLibrary"`
	EmbedTypes            []string     `json:"embedTypes,omitempty"`
	License               string       `json:"license,omitempty"`
	Authors               []Author     `json:"authors,omitempty"`
	PreloadedDependencies []Dependency `json:"preloadedDependencies,omitempty"`
}

type Author struct {
	Name string `json:"name"`
	Role string `json:"role,omitempty"`
}

// Dependency references a library by machine name and version.
type Dependency struct {
	MachineName  string  `json:"machineName"`
	MajorVersion Version `json:"majorVersion"`
	MinorVersion Version `json:"minorVersion"`
}

// Version is a library version component. Packages in the wild write it
// either as a number or as a quoted number; it is always encoded as a
// number.
type Version int

func (v *Version) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		data = []byte(strings.TrimSpace(s))
	}
	n, err := strconv.Atoi(string(data))
	if err != nil {
		return fmt.Errorf("invalid library version %s", data)
	}
	*v = Version(n)
	return nil
}

// String formats the dependency the way library names are written
// in editor requests, e.g. "H5P.MultiChoice 1.16".
func (d Dependency) String() string {
	return fmt.Sprintf("%s %d.%d", d.MachineName, d.MajorVersion, d.MinorVersion)
}

// ParseLibraryName parses "H5P.MultiChoice 1.16" into a Dependency.
func ParseLibraryName(name string) (Dependency, error) {
	machineName, version, ok := strings.Cut(strings.TrimSpace(name), " ")
	if !ok || machineName == "" {
		return Dependency{}, fmt.Errorf("library %q: missing version", name)
	}
	var major, minor int
	if _, err := fmt.Sscanf(version, "%d.%d", &major, &minor); err != nil {
		return Dependency{}, fmt.Errorf("library %q: invalid version: %w", name, err)
	}
	return Dependency{
		MachineName:  machineName,
		MajorVersion: Version(major),
		MinorVersion: Version(minor),
	}, nil
}

// User is the identity forwarded to the renderer and the editor.
type User struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
	Type  string `json:"type,omitempty"`
}
