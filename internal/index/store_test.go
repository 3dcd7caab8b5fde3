package index

import (
	"database/sql"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// chdir changes into dir for the duration of the test, restoring the
// previous working directory on cleanup (stand-in for testing.T.Chdir,
// which requires Go 1.24).
func chdir(t *testing.T, dir string) {
	t.Helper()

	prev, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(prev) })
}

func openTestStore(t *testing.T) *Store {
	t.Helper()

	store, err := OpenStore(filepath.Join(t.TempDir(), "files.db"), testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	return store
}

func TestOpenStore_CreatesSchemaAndVersionRow(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "files.db")

	store, err := OpenStore(dbPath, testLogger())
	require.NoError(t, err)
	require.NoError(t, store.Close())

	db, err := sql.Open("sqlite", dbPath)
	require.NoError(t, err)
	defer db.Close()

	var version string
	require.NoError(t, db.QueryRow(`SELECT value FROM meta WHERE key = 'version'`).Scan(&version))
	assert.Equal(t, "1", version)
}

func TestOpenStore_ReopenExisting(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "files.db")

	store, err := OpenStore(dbPath, testLogger())
	require.NoError(t, err)
	require.NoError(t, store.Insert(FileRecord{Path: "a.txt", Hash: "1", Mtime: 2, Size: 3}))
	require.NoError(t, store.Close())

	store, err = OpenStore(dbPath, testLogger())
	require.NoError(t, err)
	defer store.Close()

	rec, err := store.Lookup("a.txt")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "1", rec.Hash)
}

func TestOpenStore_VersionMismatchFatal(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "files.db")

	store, err := OpenStore(dbPath, testLogger())
	require.NoError(t, err)
	require.NoError(t, store.Close())

	db, err := sql.Open("sqlite", dbPath)
	require.NoError(t, err)

	_, err = db.Exec(`UPDATE meta SET value = '99' WHERE key = 'version'`)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	_, err = OpenStore(dbPath, testLogger())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSchemaVersion)
}

func TestOpenStore_MissingVersionRowFatal(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "files.db")

	store, err := OpenStore(dbPath, testLogger())
	require.NoError(t, err)
	require.NoError(t, store.Close())

	db, err := sql.Open("sqlite", dbPath)
	require.NoError(t, err)

	_, err = db.Exec(`DELETE FROM meta WHERE key = 'version'`)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	_, err = OpenStore(dbPath, testLogger())
	assert.ErrorIs(t, err, ErrSchemaVersion)
}

func TestStore_InsertLookupRoundTrip(t *testing.T) {
	store := openTestStore(t)

	want := FileRecord{Path: "dir/file.txt", Hash: "12345", Mtime: 1700000000, Size: 42}
	require.NoError(t, store.Insert(want))

	got, err := store.Lookup("dir/file.txt")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, want, *got)
}

func TestStore_LookupAbsent(t *testing.T) {
	store := openTestStore(t)

	got, err := store.Lookup("nope")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestStore_InsertReplacesInPlace(t *testing.T) {
	store := openTestStore(t)

	require.NoError(t, store.Insert(FileRecord{Path: "f", Hash: "old", Mtime: 1, Size: 1}))
	require.NoError(t, store.Insert(FileRecord{Path: "f", Hash: "new", Mtime: 2, Size: 2}))

	got, err := store.Lookup("f")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "new", got.Hash)
	assert.Equal(t, int64(2), got.Mtime)
}

func TestStore_DirectoryReadOutInvariant(t *testing.T) {
	store := openTestStore(t)

	// Even a dirty directory record reads back clean.
	require.NoError(t, store.Insert(FileRecord{Path: "d", Hash: "junk", Mtime: 9, Size: 9, IsDir: true}))

	got, err := store.Lookup("d")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, got.IsDir)
	assert.Empty(t, got.Hash)
	assert.Zero(t, got.Mtime)
	assert.Zero(t, got.Size)
}

func TestStore_MarkSweep(t *testing.T) {
	store := openTestStore(t)

	require.NoError(t, store.Insert(FileRecord{Path: "keep", Hash: "1"}))
	require.NoError(t, store.Insert(FileRecord{Path: "drop", Hash: "2"}))

	require.NoError(t, store.ResetMarks())
	require.NoError(t, store.Mark("keep"))
	require.NoError(t, store.DeleteUnmarked())

	kept, err := store.Lookup("keep")
	require.NoError(t, err)
	assert.NotNil(t, kept)

	dropped, err := store.Lookup("drop")
	require.NoError(t, err)
	assert.Nil(t, dropped)
}

func TestStore_MarkAbsentPathIsNoOp(t *testing.T) {
	store := openTestStore(t)

	assert.NoError(t, store.Mark("not-there"))
}

func TestStore_UpdateSetsMark(t *testing.T) {
	store := openTestStore(t)

	require.NoError(t, store.Insert(FileRecord{Path: "f", Hash: "a", Mtime: 1, Size: 1}))
	require.NoError(t, store.ResetMarks())
	require.NoError(t, store.Update(FileRecord{Path: "f", Hash: "b", Mtime: 2, Size: 2}))
	require.NoError(t, store.DeleteUnmarked())

	got, err := store.Lookup("f")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "b", got.Hash)
}

func TestStore_DeleteFile(t *testing.T) {
	store := openTestStore(t)

	require.NoError(t, store.Insert(FileRecord{Path: "f", Hash: "1"}))
	require.NoError(t, store.Delete("f"))

	got, err := store.Lookup("f")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestStore_DeleteDirectoryCascades(t *testing.T) {
	store := openTestStore(t)

	require.NoError(t, store.Insert(FileRecord{Path: "b", IsDir: true}))
	require.NoError(t, store.Insert(FileRecord{Path: "b/c.txt", Hash: "1", Mtime: 1, Size: 2}))
	require.NoError(t, store.Insert(FileRecord{Path: "b/sub", IsDir: true}))
	require.NoError(t, store.Insert(FileRecord{Path: "b/sub/d.txt", Hash: "2", Mtime: 1, Size: 2}))
	require.NoError(t, store.Insert(FileRecord{Path: "banana.txt", Hash: "3", Mtime: 1, Size: 2}))

	require.NoError(t, store.Delete("b"))

	under, err := store.LookupPrefix("b/")
	require.NoError(t, err)
	assert.Empty(t, under)

	root, err := store.Lookup("b")
	require.NoError(t, err)
	assert.Nil(t, root)

	// Sibling sharing the name as a string prefix survives.
	sibling, err := store.Lookup("banana.txt")
	require.NoError(t, err)
	assert.NotNil(t, sibling)
}

func TestStore_LookupPrefixNormalizesTrailingSlash(t *testing.T) {
	store := openTestStore(t)

	require.NoError(t, store.Insert(FileRecord{Path: "dir", IsDir: true}))
	require.NoError(t, store.Insert(FileRecord{Path: "dir/a", Hash: "1", Mtime: 1, Size: 1}))
	require.NoError(t, store.Insert(FileRecord{Path: "dirt", Hash: "2", Mtime: 1, Size: 1}))

	records, err := store.LookupPrefix("dir")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "dir/a", records[0].Path)
}

func TestStore_LikeMetacharactersMatchLiterally(t *testing.T) {
	store := openTestStore(t)

	require.NoError(t, store.Insert(FileRecord{Path: "a%b", IsDir: true}))
	require.NoError(t, store.Insert(FileRecord{Path: "a%b/x", Hash: "1", Mtime: 1, Size: 1}))
	require.NoError(t, store.Insert(FileRecord{Path: "axb/x", Hash: "2", Mtime: 1, Size: 1}))
	require.NoError(t, store.Insert(FileRecord{Path: "a_b/x", Hash: "3", Mtime: 1, Size: 1}))

	records, err := store.LookupPrefix("a%b")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "a%b/x", records[0].Path)

	// Deleting the "a%b" directory must not sweep up axb/ or a_b/.
	require.NoError(t, store.Delete("a%b"))

	survivor, err := store.Lookup("axb/x")
	require.NoError(t, err)
	assert.NotNil(t, survivor)

	survivor, err = store.Lookup("a_b/x")
	require.NoError(t, err)
	assert.NotNil(t, survivor)
}

func TestEscapeLike(t *testing.T) {
	assert.Equal(t, `plain/path`, escapeLike(`plain/path`))
	assert.Equal(t, `a\%b`, escapeLike(`a%b`))
	assert.Equal(t, `a\_b`, escapeLike(`a_b`))
	assert.Equal(t, `a\\b`, escapeLike(`a\b`))
}
