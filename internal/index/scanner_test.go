package index

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scanTree(t *testing.T, store *Store, root string) {
	t.Helper()
	require.NoError(t, NewScanner(store, testLogger()).Scan(context.Background(), root))
}

func lookupAll(t *testing.T, store *Store, paths ...string) map[string]*FileRecord {
	t.Helper()

	records := make(map[string]*FileRecord, len(paths))

	for _, p := range paths {
		rec, err := store.Lookup(p)
		require.NoError(t, err)

		records[p] = rec
	}

	return records
}

func TestScan_ColdStart(t *testing.T) {
	root := t.TempDir()
	store := openTestStore(t)

	writeFile(t, root, "a.txt", "hi")
	writeFile(t, root, "b/c.txt", "yo")

	scanTree(t, store, root)

	a, err := store.Lookup("a.txt")
	require.NoError(t, err)
	require.NotNil(t, a)
	assert.False(t, a.IsDir)
	assert.Equal(t, int64(2), a.Size)
	assert.NotEmpty(t, a.Hash)

	wantHash, err := HashFile(filepath.Join(root, "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, wantHash, a.Hash)

	b, err := store.Lookup("b")
	require.NoError(t, err)
	require.NotNil(t, b)
	assert.True(t, b.IsDir)
	assert.Empty(t, b.Hash)

	c, err := store.Lookup("b/c.txt")
	require.NoError(t, err)
	require.NotNil(t, c)
	assert.Equal(t, int64(2), c.Size)
}

func TestScan_SecondPassIsIdempotent(t *testing.T) {
	root := t.TempDir()
	store := openTestStore(t)

	writeFile(t, root, "a.txt", "hi")
	writeFile(t, root, "b/c.txt", "yo")

	scanTree(t, store, root)
	first := lookupAll(t, store, "a.txt", "b", "b/c.txt")

	scanTree(t, store, root)
	second := lookupAll(t, store, "a.txt", "b", "b/c.txt")

	assert.Equal(t, first, second)
}

func TestScan_SweepsDeletedEntries(t *testing.T) {
	root := t.TempDir()
	store := openTestStore(t)

	writeFile(t, root, "a.txt", "hi")
	writeFile(t, root, "b/c.txt", "yo")
	scanTree(t, store, root)

	require.NoError(t, os.RemoveAll(filepath.Join(root, "b")))
	scanTree(t, store, root)

	gone, err := store.Lookup("b/c.txt")
	require.NoError(t, err)
	assert.Nil(t, gone)

	gone, err = store.Lookup("b")
	require.NoError(t, err)
	assert.Nil(t, gone)

	kept, err := store.Lookup("a.txt")
	require.NoError(t, err)
	assert.NotNil(t, kept)
}

func TestScan_SizeChangeRecomputesHash(t *testing.T) {
	root := t.TempDir()
	store := openTestStore(t)

	path := writeFile(t, root, "a.txt", "hi")
	scanTree(t, store, root)

	before, err := store.Lookup("a.txt")
	require.NoError(t, err)
	require.NotNil(t, before)

	// Grow the file by one byte.
	require.NoError(t, os.WriteFile(path, []byte("hi!"), 0o644))
	scanTree(t, store, root)

	after, err := store.Lookup("a.txt")
	require.NoError(t, err)
	require.NotNil(t, after)
	assert.Equal(t, int64(3), after.Size)
	assert.NotEqual(t, before.Hash, after.Hash)
}

func TestScan_TrustsFingerprintOverContent(t *testing.T) {
	root := t.TempDir()
	store := openTestStore(t)

	path := writeFile(t, root, "a.txt", "hi")
	scanTree(t, store, root)

	before, err := store.Lookup("a.txt")
	require.NoError(t, err)
	require.NotNil(t, before)

	info, err := os.Stat(path)
	require.NoError(t, err)

	// Rewrite with same length and restore the mtime: the cheap
	// fingerprint cannot see this, so the stale hash survives.
	require.NoError(t, os.WriteFile(path, []byte("yo"), 0o644))
	require.NoError(t, os.Chtimes(path, info.ModTime(), info.ModTime()))

	scanTree(t, store, root)

	after, err := store.Lookup("a.txt")
	require.NoError(t, err)
	require.NotNil(t, after)
	assert.Equal(t, before.Hash, after.Hash)
}

func TestScan_MtimeChangeSameContentStillUpdates(t *testing.T) {
	root := t.TempDir()
	store := openTestStore(t)

	path := writeFile(t, root, "a.txt", "hi")
	scanTree(t, store, root)

	before, err := store.Lookup("a.txt")
	require.NoError(t, err)
	require.NotNil(t, before)

	bumped := time.Unix(before.Mtime, 0).Add(90 * time.Second)
	require.NoError(t, os.Chtimes(path, bumped, bumped))

	scanTree(t, store, root)

	after, err := store.Lookup("a.txt")
	require.NoError(t, err)
	require.NotNil(t, after)
	assert.Equal(t, bumped.Unix(), after.Mtime)
	assert.Equal(t, before.Hash, after.Hash)
}

func TestScan_FileReplacedByDirectory(t *testing.T) {
	root := t.TempDir()
	store := openTestStore(t)

	path := writeFile(t, root, "x", "file for now")
	scanTree(t, store, root)

	require.NoError(t, os.Remove(path))
	require.NoError(t, os.Mkdir(path, 0o755))
	scanTree(t, store, root)

	rec, err := store.Lookup("x")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.True(t, rec.IsDir)
	assert.Empty(t, rec.Hash)
	assert.Zero(t, rec.Size)
}

func TestScan_DirectoryReplacedByFile(t *testing.T) {
	root := t.TempDir()
	store := openTestStore(t)

	writeFile(t, root, "x/inner.txt", "child")
	scanTree(t, store, root)

	require.NoError(t, os.RemoveAll(filepath.Join(root, "x")))
	writeFile(t, root, "x", "file again")
	scanTree(t, store, root)

	rec, err := store.Lookup("x")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.False(t, rec.IsDir)
	assert.Equal(t, int64(10), rec.Size)
	assert.NotEmpty(t, rec.Hash)

	// The old directory's children are swept.
	child, err := store.Lookup("x/inner.txt")
	require.NoError(t, err)
	assert.Nil(t, child)
}

func TestScan_RemovesStaleRowsFromPreviousRun(t *testing.T) {
	root := t.TempDir()
	store := openTestStore(t)

	// A row for an entry that never existed in this tree.
	require.NoError(t, store.Insert(FileRecord{Path: "ghost.txt", Hash: "1", Mtime: 1, Size: 1}))

	writeFile(t, root, "a.txt", "hi")
	scanTree(t, store, root)

	ghost, err := store.Lookup("ghost.txt")
	require.NoError(t, err)
	assert.Nil(t, ghost)
}

func TestScan_EmptyTree(t *testing.T) {
	root := t.TempDir()
	store := openTestStore(t)

	scanTree(t, store, root)

	rec, err := store.Lookup(".")
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestScan_CanceledContext(t *testing.T) {
	root := t.TempDir()
	store := openTestStore(t)

	writeFile(t, root, "a.txt", "hi")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := NewScanner(store, testLogger()).Scan(ctx, root)
	assert.Error(t, err)
}
