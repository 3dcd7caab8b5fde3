package index

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
)

// Scanner reconciles the live filesystem tree with the store using
// mark/sweep: clear every mark, walk the tree re-marking live entries,
// then delete whatever stayed unmarked.
type Scanner struct {
	store  *Store
	logger *slog.Logger
}

// NewScanner creates a Scanner over the given store.
func NewScanner(store *Store, logger *slog.Logger) *Scanner {
	return &Scanner{store: store, logger: logger}
}

// Scan walks root recursively and reconciles every visited entry against
// the store. Walk and stat failures surface to the caller — a startup
// scan that cannot see part of the tree must not quietly sweep it away.
func (s *Scanner) Scan(ctx context.Context, root string) error {
	s.logger.Info("starting full scan", "root", root)

	if err := s.store.ResetMarks(); err != nil {
		return err
	}

	visited := 0

	walkFn := func(fsPath string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return fmt.Errorf("index: walking %s: %w", fsPath, walkErr)
		}

		if err := ctx.Err(); err != nil {
			return err
		}

		// The root itself is not part of the index.
		if fsPath == root {
			return nil
		}

		relPath, err := filepath.Rel(root, fsPath)
		if err != nil {
			return fmt.Errorf("index: computing relative path for %s: %w", fsPath, err)
		}

		if err := s.reconcile(fsPath, NormalizePath(relPath), d); err != nil {
			return err
		}

		visited++

		return nil
	}

	if err := filepath.WalkDir(root, walkFn); err != nil {
		return err
	}

	if err := s.store.DeleteUnmarked(); err != nil {
		return err
	}

	s.logger.Info("full scan complete", "root", root, "entries", visited)

	return nil
}

// reconcile brings the store row for one live entry up to date. The cheap
// (mtime, size) fingerprint decides whether the hash must be recomputed;
// matching fingerprints only re-mark the row.
func (s *Scanner) reconcile(fsPath, relPath string, d fs.DirEntry) error {
	info, err := d.Info()
	if err != nil {
		return fmt.Errorf("index: stat %s: %w", fsPath, err)
	}

	stored, err := s.store.Lookup(relPath)
	if err != nil {
		return err
	}

	live := NewRecord(relPath, info, "")

	if stored == nil {
		hash, err := HashFile(fsPath)
		if err != nil {
			return err
		}

		live.Hash = hash

		return s.store.Insert(live)
	}

	if stored.Equal(live) {
		return s.store.Mark(relPath)
	}

	hash, err := HashFile(fsPath)
	if err != nil {
		return err
	}

	live.Hash = hash

	// Update leaves is_dir untouched, so a path that flipped between
	// file and directory needs the whole row replaced.
	if stored.IsDir != live.IsDir {
		s.logger.Info("entry replaced with different type",
			"path", relPath, "is_dir", live.IsDir)

		return s.store.Insert(live)
	}

	// The fingerprint diverged, so the row is refreshed either way; a
	// matching hash just means only the metadata moved.
	if stored.SameHash(live) {
		s.logger.Info("entry changed but hash is same", "path", relPath)
	} else {
		s.logger.Info("entry updated", "path", relPath)
	}

	return s.store.Update(live)
}
