package index

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	_ "modernc.org/sqlite" // Pure Go SQLite driver, registers as "sqlite".
)

// schemaVersion is the value the meta table must carry for this build to
// accept the index file. Future migrations bump it.
const schemaVersion = "1"

// ErrSchemaVersion is returned by OpenStore when the index file carries a
// missing or unexpected schema version. Opening such a store is fatal —
// silently reinterpreting rows written by a different schema risks serving
// wrong metadata.
var ErrSchemaVersion = errors.New("index: unexpected store schema version")

// Store is the persistent path→record index. It enforces no internal
// concurrency: exactly one caller (the daemon) owns the handle for its
// whole lifetime, so the channel feeding the daemon is the only
// synchronization needed.
type Store struct {
	db     *sql.DB
	logger *slog.Logger

	stmts storeStatements
}

type storeStatements struct {
	lookup, lookupPrefix       *sql.Stmt
	insert, update, mark       *sql.Stmt
	resetMarks, deleteUnmarked *sql.Stmt
	deleteExact, deletePrefix  *sql.Stmt
}

// Row queries and mutations. The LIKE queries escape pattern
// metacharacters in the path argument (see escapeLike) so a stored "%"
// or "_" can never widen a prefix match.
const (
	sqlLookup = `SELECT path, hash, mtime, size, is_dir FROM files WHERE path = ?`

	sqlLookupPrefix = `SELECT path, hash, mtime, size, is_dir FROM files
		WHERE path LIKE ? ESCAPE '\'`

	sqlInsert = `INSERT INTO files (path, hash, mtime, size, is_dir, marked)
		VALUES (?, ?, ?, ?, ?, 1)
		ON CONFLICT(path) DO UPDATE SET
			hash   = excluded.hash,
			mtime  = excluded.mtime,
			size   = excluded.size,
			is_dir = excluded.is_dir,
			marked = 1`

	sqlUpdate = `UPDATE files SET hash = ?, mtime = ?, size = ?, marked = 1
		WHERE path = ?`

	sqlMark = `UPDATE files SET marked = 1 WHERE path = ?`

	sqlResetMarks = `UPDATE files SET marked = 0`

	sqlDeleteUnmarked = `DELETE FROM files WHERE marked = 0`

	sqlDeleteExact = `DELETE FROM files WHERE path = ?`

	sqlDeletePrefix = `DELETE FROM files WHERE path LIKE ? ESCAPE '\'`
)

// OpenStore opens the index file at dbPath, creating it and its schema on
// first use, and verifies the stored schema version. The returned handle
// must be owned by a single goroutine.
func OpenStore(dbPath string, logger *slog.Logger) (*Store, error) {
	logger.Info("opening index store", "path", dbPath)

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("index: open sqlite: %w", err)
	}

	if err := runMigrations(context.Background(), db, logger); err != nil {
		db.Close()
		return nil, err
	}

	if err := checkSchemaVersion(db); err != nil {
		db.Close()
		return nil, err
	}

	s := &Store{db: db, logger: logger}

	if err := s.prepareStatements(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("index: prepare statements: %w", err)
	}

	logger.Info("index store ready", "path", dbPath)

	return s, nil
}

// checkSchemaVersion refuses to use a store whose meta version row is
// absent or not the expected value.
func checkSchemaVersion(db *sql.DB) error {
	var version string

	err := db.QueryRow(`SELECT value FROM meta WHERE key = 'version'`).Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: version row missing", ErrSchemaVersion)
	}

	if err != nil {
		return fmt.Errorf("index: read schema version: %w", err)
	}

	if version != schemaVersion {
		return fmt.Errorf("%w: got %q, want %q", ErrSchemaVersion, version, schemaVersion)
	}

	return nil
}

// stmtDef maps a SQL string to the prepared statement pointer it should
// populate.
type stmtDef struct {
	dest **sql.Stmt
	sql  string
	name string
}

func (s *Store) prepareStatements(ctx context.Context) error {
	defs := []stmtDef{
		{&s.stmts.lookup, sqlLookup, "lookup"},
		{&s.stmts.lookupPrefix, sqlLookupPrefix, "lookupPrefix"},
		{&s.stmts.insert, sqlInsert, "insert"},
		{&s.stmts.update, sqlUpdate, "update"},
		{&s.stmts.mark, sqlMark, "mark"},
		{&s.stmts.resetMarks, sqlResetMarks, "resetMarks"},
		{&s.stmts.deleteUnmarked, sqlDeleteUnmarked, "deleteUnmarked"},
		{&s.stmts.deleteExact, sqlDeleteExact, "deleteExact"},
		{&s.stmts.deletePrefix, sqlDeletePrefix, "deletePrefix"},
	}

	for i := range defs {
		stmt, err := s.db.PrepareContext(ctx, defs[i].sql)
		if err != nil {
			return fmt.Errorf("prepare %s: %w", defs[i].name, err)
		}

		*defs[i].dest = stmt
	}

	return nil
}

// scanRecord reads one files row. Directory rows normalize to the
// read-out invariant: no hash, zero mtime, zero size.
func scanRecord(row interface{ Scan(...any) error }) (FileRecord, error) {
	var (
		rec   FileRecord
		hash  sql.NullString
		isDir int
	)

	if err := row.Scan(&rec.Path, &hash, &rec.Mtime, &rec.Size, &isDir); err != nil {
		return FileRecord{}, err
	}

	rec.Hash = hash.String
	rec.IsDir = isDir != 0

	if rec.IsDir {
		rec.Hash = ""
		rec.Mtime = 0
		rec.Size = 0
	}

	return rec, nil
}

// Lookup returns the record stored for path, or (nil, nil) when the path
// has no row — callers use the nil record to distinguish "absent" from
// a store failure.
func (s *Store) Lookup(path string) (*FileRecord, error) {
	rec, err := scanRecord(s.stmts.lookup.QueryRow(path))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}

	if err != nil {
		return nil, fmt.Errorf("index: lookup %q: %w", path, err)
	}

	return &rec, nil
}

// LookupPrefix returns all records whose path begins with prefix. The
// prefix is normalized to end with "/" so "ab" can never match "abc/x".
func (s *Store) LookupPrefix(prefix string) ([]FileRecord, error) {
	rows, err := s.stmts.lookupPrefix.Query(likePrefixPattern(prefix))
	if err != nil {
		return nil, fmt.Errorf("index: lookup prefix %q: %w", prefix, err)
	}
	defer rows.Close()

	var records []FileRecord

	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("index: scan prefix row: %w", err)
		}

		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("index: iterate prefix rows: %w", err)
	}

	return records, nil
}

// Insert writes a record with the mark bit set. An existing row for the
// same path is replaced in place — live events can legitimately announce
// a path the scanner already indexed.
func (s *Store) Insert(rec FileRecord) error {
	s.logger.Debug("inserting record", "path", rec.Path, "is_dir", rec.IsDir)

	isDir := 0
	if rec.IsDir {
		isDir = 1
	}

	_, err := s.stmts.insert.Exec(rec.Path, rec.Hash, rec.Mtime, rec.Size, isDir)
	if err != nil {
		return fmt.Errorf("index: insert %q: %w", rec.Path, err)
	}

	return nil
}

// Update replaces the mutable fields of an existing row and sets its
// mark bit.
func (s *Store) Update(rec FileRecord) error {
	s.logger.Debug("updating record", "path", rec.Path)

	_, err := s.stmts.update.Exec(rec.Hash, rec.Mtime, rec.Size, rec.Path)
	if err != nil {
		return fmt.Errorf("index: update %q: %w", rec.Path, err)
	}

	return nil
}

// Mark sets the sweep bit on an existing row. No-op for absent paths.
func (s *Store) Mark(path string) error {
	if _, err := s.stmts.mark.Exec(path); err != nil {
		return fmt.Errorf("index: mark %q: %w", path, err)
	}

	return nil
}

// ResetMarks clears the sweep bit on every row. Run before a full scan.
func (s *Store) ResetMarks() error {
	if _, err := s.stmts.resetMarks.Exec(); err != nil {
		return fmt.Errorf("index: reset marks: %w", err)
	}

	return nil
}

// DeleteUnmarked removes every row the scan did not re-mark. Run after a
// full scan; together with ResetMarks this is the sweep half of
// mark/sweep reconciliation.
func (s *Store) DeleteUnmarked() error {
	res, err := s.stmts.deleteUnmarked.Exec()
	if err != nil {
		return fmt.Errorf("index: delete unmarked: %w", err)
	}

	if affected, err := res.RowsAffected(); err == nil && affected > 0 {
		s.logger.Info("swept stale rows", "count", affected)
	}

	return nil
}

// Delete removes the row for path. When the path denotes a directory —
// by its stored row or, failing that, by a live stat — every row under
// the prefix path+"/" is removed as well. Directory removals arrive
// after the tree is already gone, so the stored flag is consulted first.
func (s *Store) Delete(path string) error {
	s.logger.Debug("deleting record", "path", path)

	isDir, err := s.isDirectory(path)
	if err != nil {
		return err
	}

	if isDir {
		if _, err := s.stmts.deletePrefix.Exec(likePrefixPattern(path)); err != nil {
			return fmt.Errorf("index: delete prefix %q: %w", path, err)
		}
	}

	if _, err := s.stmts.deleteExact.Exec(path); err != nil {
		return fmt.Errorf("index: delete %q: %w", path, err)
	}

	return nil
}

// isDirectory decides whether path names a directory, preferring the
// stored row over the live filesystem.
func (s *Store) isDirectory(path string) (bool, error) {
	rec, err := s.Lookup(path)
	if err != nil {
		return false, err
	}

	if rec != nil {
		return rec.IsDir, nil
	}

	if info, err := os.Stat(path); err == nil {
		return info.IsDir(), nil
	}

	return false, nil
}

// Close closes all prepared statements and the database handle.
func (s *Store) Close() error {
	s.logger.Info("closing index store")

	stmts := []*sql.Stmt{
		s.stmts.lookup, s.stmts.lookupPrefix,
		s.stmts.insert, s.stmts.update, s.stmts.mark,
		s.stmts.resetMarks, s.stmts.deleteUnmarked,
		s.stmts.deleteExact, s.stmts.deletePrefix,
	}

	var errs []string

	for _, stmt := range stmts {
		if stmt != nil {
			if err := stmt.Close(); err != nil {
				errs = append(errs, err.Error())
			}
		}
	}

	if err := s.db.Close(); err != nil {
		errs = append(errs, err.Error())
	}

	if len(errs) > 0 {
		return fmt.Errorf("index: close store: %s", strings.Join(errs, "; "))
	}

	return nil
}

// likePrefixPattern builds the LIKE argument matching every path under
// prefix: the prefix gains a trailing "/" if missing, LIKE metacharacters
// inside it are escaped, and "%" is appended.
func likePrefixPattern(prefix string) string {
	if !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}

	return escapeLike(prefix) + "%"
}

// escapeLike escapes %, _ and the escape character itself so path bytes
// are matched literally inside a LIKE pattern.
func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
