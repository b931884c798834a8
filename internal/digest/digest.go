// Package digest computes the content digests the catalog service publishes
// for its snapshot files (lowercase hex MD5).
package digest

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/agentic-research/cominavi/internal/syncerr"
)

// ChunkSize is the read size used when streaming a file through the hash.
const ChunkSize = 16 * 1024

// File streams the file at path through MD5 and returns the lowercase hex digest.
// The file is never loaded into memory as a whole.
func File(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("%w: digest %s: %w", syncerr.ErrIO, path, err)
	}
	defer func() { _ = f.Close() }()

	sum, err := Reader(f)
	if err != nil {
		return "", fmt.Errorf("%w: digest %s: %w", syncerr.ErrIO, path, err)
	}
	return sum, nil
}

// Reader hashes everything read from r in ChunkSize pieces.
func Reader(r io.Reader) (string, error) {
	h := md5.New()
	buf := make([]byte, ChunkSize)
	if _, err := io.CopyBuffer(h, r, buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Equal compares two hex digests ignoring case and surrounding space.
func Equal(a, b string) bool {
	a, b = strings.TrimSpace(a), strings.TrimSpace(b)
	if a == "" || b == "" {
		return false
	}
	return strings.EqualFold(a, b)
}
