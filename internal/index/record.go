// Package index implements the index-synchronization core: a persistent
// SQLite mapping of filesystem paths to content metadata, kept consistent
// with the live tree by a startup mark/sweep scan and a live fsnotify
// watcher, all serialized through a single-owner daemon.
package index

import (
	"io/fs"
	"path/filepath"

	"golang.org/x/text/unicode/norm"
)

// FileRecord is one row of the index: a single filesystem entry under the
// watched root. Path is slash-separated, NFC-normalized, and relative to
// the working directory. Directories carry no hash, mtime, or size.
type FileRecord struct {
	Path  string `json:"path"`
	Hash  string `json:"hash"`
	Mtime int64  `json:"mtime"`
	Size  int64  `json:"size"`
	IsDir bool   `json:"is_dir"`
}

// NewRecord builds a FileRecord from stat results. The hash is supplied by
// the caller because hashing is the expensive step and is often skipped.
func NewRecord(path string, info fs.FileInfo, hash string) FileRecord {
	if info.IsDir() {
		return FileRecord{Path: path, IsDir: true}
	}

	return FileRecord{
		Path:  path,
		Hash:  hash,
		Mtime: info.ModTime().Unix(),
		Size:  info.Size(),
	}
}

// Equal reports whether two records describe the same entry by the cheap
// fingerprint: directories compare IsDir only, files compare (mtime, size).
// Hash is deliberately ignored — recomputing it is what this check avoids.
func (r FileRecord) Equal(other FileRecord) bool {
	if r.IsDir || other.IsDir {
		return r.IsDir == other.IsDir
	}

	return r.Mtime == other.Mtime && r.Size == other.Size
}

// SameHash reports whether two records carry identical content digests.
// Directories have no digest and compare by IsDir.
func (r FileRecord) SameHash(other FileRecord) bool {
	if r.IsDir {
		return r.IsDir == other.IsDir
	}

	return r.Hash == other.Hash
}

// QueryResult is the per-path answer to a metadata query: either the
// record present in the index, or an explicit absence marker.
type QueryResult struct {
	Path   string      `json:"path"`
	Exists bool        `json:"exists"`
	Record *FileRecord `json:"record,omitempty"`
}

// Present wraps a found record.
func Present(record FileRecord) QueryResult {
	return QueryResult{Path: record.Path, Exists: true, Record: &record}
}

// Absent marks a path with no index row.
func Absent(path string) QueryResult {
	return QueryResult{Path: path, Exists: false}
}

// NormalizePath converts a filesystem path into index key form: forward
// slashes and NFC Unicode. macOS reports NFD names, so without this the
// same file would occupy two rows depending on which component saw it.
func NormalizePath(path string) string {
	return norm.NFC.String(filepath.ToSlash(path))
}
