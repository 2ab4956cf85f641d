package cache

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kevingruber/h5p-cache/internal/h5p"
)

func TestNewDirectorySweepsStaleStaging(t *testing.T) {
	root := t.TempDir()
	crashed := filepath.Join(root, stagingDirName, "crashed-process")
	leftover := filepath.Join(crashed, "demo.crashed")
	require.NoError(t, os.MkdirAll(leftover, 0o755))
	old := time.Now().Add(-48 * time.Hour)
	require.NoError(t, os.Chtimes(leftover, old, old))
	require.NoError(t, os.Chtimes(crashed, old, old))

	dir, err := NewDirectory(root)
	require.NoError(t, err)

	assert.NoDirExists(t, leftover)
	assert.NoDirExists(t, crashed)
	assert.DirExists(t, dir.StagingDir())
}

func TestNewDirectoryKeepsFreshStagingOfOtherProcesses(t *testing.T) {
	root := t.TempDir()

	first, err := NewDirectory(root)
	require.NoError(t, err)
	inFlight, err := first.NewStaging("demo")
	require.NoError(t, err)
	writeFile(t, inFlight.ArchivePath(), "zip bytes")

	second, err := NewDirectory(root)
	require.NoError(t, err)
	assert.NotEqual(t, first.StagingDir(), second.StagingDir())

	assert.DirExists(t, inFlight.Dir())
	assert.FileExists(t, inFlight.ArchivePath())

	_, err = inFlight.Commit()
	require.NoError(t, err)
	exists, err := second.Exists(context.Background(), "demo")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestStagingSurvivesSweptProcessDirectory(t *testing.T) {
	dir := newTestDirectory(t)
	require.NoError(t, os.Remove(dir.StagingDir()))

	staging, err := dir.NewStaging("demo")
	require.NoError(t, err)
	_, err = staging.Commit()
	require.NoError(t, err)

	require.NoError(t, os.Remove(dir.StagingDir()))
	require.NoError(t, dir.Remove("demo"))
	assert.ErrorIs(t, dir.Remove("demo"), ErrNotFound)
}

func TestStagingCommitPublishesEntry(t *testing.T) {
	dir := newTestDirectory(t)
	ctx := context.Background()

	exists, err := dir.Exists(ctx, "demo")
	require.NoError(t, err)
	assert.False(t, exists)

	staging, err := dir.NewStaging("demo")
	require.NoError(t, err)
	writeFile(t, filepath.Join(staging.Dir(), h5p.ManifestFile), `{"title":"Demo"}`)

	path, err := staging.Commit()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir.Root(), "demo"), path)
	require.NoError(t, staging.Discard())

	exists, err = dir.Exists(ctx, "demo")
	require.NoError(t, err)
	assert.True(t, exists)

	data, err := dir.ReadFile("demo", h5p.ManifestFile)
	require.NoError(t, err)
	assert.JSONEq(t, `{"title":"Demo"}`, string(data))
}

func TestStagingCommitLosesToExistingEntry(t *testing.T) {
	dir := newTestDirectory(t)

	first, err := dir.NewStaging("demo")
	require.NoError(t, err)
	second, err := dir.NewStaging("demo")
	require.NoError(t, err)
	assert.NotEqual(t, first.Dir(), second.Dir())
	assert.NotEqual(t, first.ArchivePath(), second.ArchivePath())

	writeFile(t, filepath.Join(first.Dir(), h5p.ManifestFile), "first")
	writeFile(t, filepath.Join(second.Dir(), h5p.ManifestFile), "second")

	_, err = first.Commit()
	require.NoError(t, err)

	_, err = second.Commit()
	assert.ErrorIs(t, err, ErrEntryExists)
	require.NoError(t, second.Discard())

	data, err := dir.ReadFile("demo", h5p.ManifestFile)
	require.NoError(t, err)
	assert.Equal(t, "first", string(data))

	_, err = os.Stat(second.Dir())
	assert.True(t, os.IsNotExist(err))
}

func TestStagingReplaceSwapsEntry(t *testing.T) {
	dir := newTestDirectory(t)

	first, err := dir.NewStaging("demo")
	require.NoError(t, err)
	writeFile(t, filepath.Join(first.Dir(), h5p.ContentFile), "v1")
	_, err = first.Commit()
	require.NoError(t, err)

	second, err := dir.NewStaging("demo")
	require.NoError(t, err)
	writeFile(t, filepath.Join(second.Dir(), h5p.ContentFile), "v2")
	_, err = second.Replace()
	require.NoError(t, err)

	data, err := dir.ReadFile("demo", h5p.ContentFile)
	require.NoError(t, err)
	assert.Equal(t, "v2", string(data))

	leftovers, err := os.ReadDir(dir.StagingDir())
	require.NoError(t, err)
	assert.Empty(t, leftovers)
}

func TestDiscardRemovesArchiveAndDir(t *testing.T) {
	dir := newTestDirectory(t)

	staging, err := dir.NewStaging("demo")
	require.NoError(t, err)
	writeFile(t, staging.ArchivePath(), "zip bytes")

	require.NoError(t, staging.Discard())
	require.NoError(t, staging.Discard())

	_, err = os.Stat(staging.ArchivePath())
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(staging.Dir())
	assert.True(t, os.IsNotExist(err))

	exists, err := dir.Exists(context.Background(), "demo")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestRemoveAndList(t *testing.T) {
	dir := newTestDirectory(t)

	for _, id := range []string{"b", "a"} {
		staging, err := dir.NewStaging(id)
		require.NoError(t, err)
		_, err = staging.Commit()
		require.NoError(t, err)
	}

	ids, err := dir.List()
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, ids)

	require.NoError(t, dir.Remove("a"))
	assert.ErrorIs(t, dir.Remove("a"), ErrNotFound)

	ids, err = dir.List()
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, ids)
}

func TestPathRejectsTraversal(t *testing.T) {
	dir := newTestDirectory(t)

	_, err := dir.Path("../outside")
	assert.ErrorIs(t, err, h5p.ErrInvalidContentID)

	_, err = dir.NewStaging(".staging")
	assert.ErrorIs(t, err, h5p.ErrInvalidContentID)
}

func TestReadFileMissing(t *testing.T) {
	dir := newTestDirectory(t)
	_, err := dir.ReadFile("missing", h5p.ManifestFile)
	assert.ErrorIs(t, err, ErrNotFound)
}

// newTestDirectory returns a Directory rooted in a temporary directory.
func newTestDirectory(t *testing.T) *Directory {
	t.Helper()
	dir, err := NewDirectory(t.TempDir())
	require.NoError(t, err)
	return dir
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}
