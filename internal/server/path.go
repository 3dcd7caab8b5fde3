package server

import (
	"path/filepath"
	"strings"
)

// checkPenetration verifies that a user-supplied path, joined onto the
// working directory and fully canonicalized (symlinks and ".." resolved),
// still lives inside the working directory. Canonicalization failures —
// nonexistent paths, permission errors — fail closed.
func checkPenetration(workDir, path string) bool {
	resolved, err := filepath.EvalSymlinks(filepath.Join(workDir, path))
	if err != nil {
		return false
	}

	root, err := filepath.EvalSymlinks(workDir)
	if err != nil {
		return false
	}

	rel, err := filepath.Rel(root, resolved)
	if err != nil {
		return false
	}

	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}

// hasAllowedPrefix reports whether path falls under at least one of the
// caller's allowed prefixes, comparing path components rather than raw
// bytes so prefix "pub" cannot match "public/x". Leading slashes on
// either side are cosmetic and ignored.
func hasAllowedPrefix(path string, prefixes []string) bool {
	p := normalizeRequestPath(path)

	for _, prefix := range prefixes {
		pre := normalizeRequestPath(prefix)
		if pre == "" {
			continue
		}

		if p == pre || strings.HasPrefix(p, pre+"/") {
			return true
		}
	}

	return false
}

// normalizeRequestPath cleans a request path or configured prefix into
// the index's key form: forward slashes, no leading "/" or "./".
func normalizeRequestPath(p string) string {
	p = filepath.ToSlash(filepath.Clean("/" + p))
	return strings.TrimPrefix(p, "/")
}
