package index

import (
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/cespare/xxhash/v2"
)

// hashChunkSize is the read granularity for streaming hash computation.
const hashChunkSize = 1024

// HashFile streams the file at path through a 64-bit xxHash digester in
// fixed-size chunks and returns the digest as a decimal string. Directories
// have no digest and yield "". The digest depends only on byte content,
// never on mtime or other metadata.
func HashFile(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("index: stat %s for hashing: %w", path, err)
	}

	if info.IsDir() {
		return "", nil
	}

	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("index: opening %s for hashing: %w", path, err)
	}
	defer f.Close()

	h := xxhash.New()

	buf := make([]byte, hashChunkSize)
	if _, err := io.CopyBuffer(h, f, buf); err != nil {
		return "", fmt.Errorf("index: hashing %s: %w", path, err)
	}

	return strconv.FormatUint(h.Sum64(), 10), nil
}
